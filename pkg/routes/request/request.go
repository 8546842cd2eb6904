// Package request holds the binding helpers shared by the route packages.
package request

import (
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	appctx "github.com/afrojet/seed/pkg/context"
	seederrors "github.com/afrojet/seed/pkg/errors"
)

// Validator plugs go-playground/validator into echo.
type Validator struct {
	validate *validator.Validate
}

func NewValidator() *Validator {
	return &Validator{validate: validator.New()}
}

func (v *Validator) Validate(i any) error {
	if err := v.validate.Struct(i); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return nil
}

// Bind decodes the body into dst and validates it.
func Bind(c echo.Context, dst any) error {
	if err := c.Bind(dst); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	return c.Validate(dst)
}

// ID parses a uuid path parameter.
func ID(c echo.Context, name string) (uuid.UUID, error) {
	raw := c.Param(name)
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, seederrors.NewValidationError(name, raw, "must be a uuid")
	}
	return id, nil
}

func Organization(c echo.Context) string {
	return appctx.GetOrganizationID(c.Request().Context())
}

func User(c echo.Context) string {
	return appctx.GetUserID(c.Request().Context())
}

// Owned hides resources of other organizations behind a not found.
func Owned(c echo.Context, organizationID, resource string, id uuid.UUID) error {
	if organizationID != Organization(c) {
		return seederrors.NewNotFoundError(resource, id.String())
	}
	return nil
}
