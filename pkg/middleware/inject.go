package middleware

import (
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/labstack/echo/v4"
)

// Inject makes containerID the dependency container route handlers resolve
// their services from.
func Inject(containerID string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx, err := ectoinject.SetActiveContainer(c.Request().Context(), containerID)
			if err != nil {
				return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
			}
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}
