package buildings

import (
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/labstack/echo/v4"

	"github.com/afrojet/seed/internal/repositories/snapshot"
	"github.com/afrojet/seed/pkg/buildings"
	seederrors "github.com/afrojet/seed/pkg/errors"
	"github.com/afrojet/seed/pkg/routes/request"
)

// Register mounts the building routes on the api root group.
func Register(g *echo.Group) {
	g.PUT("/buildings/:id", Update)
	g.DELETE("/organizations/:id/buildings", DeleteOrganization)
}

func Update(c echo.Context) error {
	id, err := request.ID(c, "id")
	if err != nil {
		return err
	}

	ctx, snapshots, err := ectoinject.GetContext[*snapshot.Repository](c.Request().Context())
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}
	ctx, service, err := ectoinject.GetContext[*buildings.Service](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	current, err := snapshots.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := request.Owned(c, current.OrganizationID, "snapshot", id); err != nil {
		return err
	}

	var update buildings.Update
	if err := request.Bind(c, &update); err != nil {
		return err
	}
	update.User = request.User(c)

	child, err := service.UpdateBuilding(ctx, id, update)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, child)
}

// DeleteOrganization only accepts the organization named in the header.
func DeleteOrganization(c echo.Context) error {
	organizationID := c.Param("id")
	if organizationID != request.Organization(c) {
		return seederrors.NewNotFoundError("organization", organizationID)
	}

	ctx, service, err := ectoinject.GetContext[*buildings.Service](c.Request().Context())
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	result, err := service.DeleteOrganizationBuildings(ctx, organizationID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}
