package mappings

import (
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/labstack/echo/v4"

	"github.com/afrojet/seed/pkg/columnmapper"
	"github.com/afrojet/seed/pkg/importer"
	"github.com/afrojet/seed/pkg/routes/request"
)

// Register registers column mapping routes
func Register(g *echo.Group) {
	g.GET("", List)
	g.POST("", Save)
}

type SaveRequest struct {
	SourceType string              `json:"source_type" validate:"required"`
	Mappings   []columnmapper.Pair `json:"mappings" validate:"required,min=1,dive"`
}

// Save stores confirmed column mappings for the caller's organization.
func Save(c echo.Context) error {
	var req SaveRequest
	if err := request.Bind(c, &req); err != nil {
		return err
	}
	sourceType, err := importer.ParseKind(req.SourceType)
	if err != nil {
		return err
	}

	ctx, mapper, err := ectoinject.GetContext[*columnmapper.Mapper](c.Request().Context())
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	saved, err := mapper.Save(ctx, request.Organization(c), request.User(c), sourceType, req.Mappings)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, saved)
}

// List returns the raw -> canonical dictionary for ?source_type=.
func List(c echo.Context) error {
	sourceType, err := importer.ParseKind(c.QueryParam("source_type"))
	if err != nil {
		return err
	}

	ctx, mapper, err := ectoinject.GetContext[*columnmapper.Mapper](c.Request().Context())
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	mappings, err := mapper.GetColumnMappings(ctx, request.Organization(c), sourceType)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, mappings)
}
