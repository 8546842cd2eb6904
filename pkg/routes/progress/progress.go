package progress

import (
	"net/http"
	"strings"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/labstack/echo/v4"

	seederrors "github.com/afrojet/seed/pkg/errors"
	"github.com/afrojet/seed/pkg/progress"
)

// keyPrefix is shared by every key progress.Key renders.
const keyPrefix = ":1:SEED:"

// Register registers progress routes
func Register(g *echo.Group) {
	g.GET("/:key", Get)
}

type Response struct {
	Key      string  `json:"key"`
	Progress float64 `json:"progress"`
}

func Get(c echo.Context) error {
	key := c.Param("key")
	if !strings.HasPrefix(key, keyPrefix) {
		return seederrors.NewValidationError("key", key, "not a progress key")
	}

	ctx, sink, err := ectoinject.GetContext[progress.Sink](c.Request().Context())
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	value, err := sink.Get(ctx, key)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, Response{Key: key, Progress: value})
}
