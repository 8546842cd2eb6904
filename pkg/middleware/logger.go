package middleware

import (
	"strconv"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	appctx "github.com/afrojet/seed/pkg/context"
)

func Logger(logger ectologger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			req := c.Request()
			res := c.Response()
			start := time.Now()
			if err = next(c); err != nil {
				c.Error(err)
			}

			stop := time.Now()
			ctx := req.Context()

			logger.WithContext(ctx).WithFields(map[string]any{
				"request_id":      appctx.GetRequestID(ctx),
				"organization_id": appctx.GetOrganizationID(ctx),
				"method":          req.Method,
				"uri":             req.RequestURI,
				"status":          res.Status,
				"route":           c.Path(),
				"remote_ip":       c.RealIP(),
				"user_agent":      req.UserAgent(),
				"response_time":   stop.Sub(start),
				"request_size":    req.Header.Get(echo.HeaderContentLength),
				"response_size":   strconv.FormatInt(res.Size, 10),
			}).Info("Request")

			return nil
		}
	}
}
