package middleware

import (
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	appctx "github.com/afrojet/seed/pkg/context"
)

const (
	// HeaderOrganizationID scopes every building operation to one organization
	HeaderOrganizationID = "X-Organization-ID"
	// HeaderUserID is recorded as last_modified_by on user edits
	HeaderUserID = "X-User-ID"
)

func Context() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()

			requestID := req.Header.Get(echo.HeaderXRequestID)
			if requestID == "" {
				requestID = uuid.New().String()
			}
			c.Response().Header().Set(echo.HeaderXRequestID, requestID)

			ctx := req.Context()
			ctx = appctx.SetRequestID(ctx, requestID)
			ctx = appctx.SetOrganizationID(ctx, req.Header.Get(HeaderOrganizationID))
			ctx = appctx.SetUserID(ctx, req.Header.Get(HeaderUserID))

			c.SetRequest(req.WithContext(ctx))

			return next(c)
		}
	}
}

// RequireOrganization rejects requests that do not name an organization.
func RequireOrganization() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if appctx.GetOrganizationID(c.Request().Context()) == "" {
				return echo.NewHTTPError(400, HeaderOrganizationID+" header is required")
			}
			return next(c)
		}
	}
}
