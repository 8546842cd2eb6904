package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/Gobusters/ectoinject/ectocontainer"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appctx "github.com/afrojet/seed/pkg/context"
	seederrors "github.com/afrojet/seed/pkg/errors"
)

func silentLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(ectologger.EctoLogMessage) {})
}

func TestError(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		code    int
		message string
	}{
		{name: "not found", err: seederrors.NewNotFoundError("snapshot", "abc"), code: http.StatusNotFound},
		{name: "validation", err: seederrors.NewValidationError("field", "x", "bad"), code: http.StatusBadRequest},
		{name: "already processed", err: seederrors.NewAlreadyProcessedError("import_file", "abc", "mapping"), code: http.StatusConflict},
		{name: "echo error", err: echo.NewHTTPError(http.StatusBadRequest, "missing header"), code: http.StatusBadRequest, message: "missing header"},
		{name: "unknown", err: errors.New("boom"), code: http.StatusInternalServerError, message: "Internal Server Error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req = req.WithContext(appctx.SetRequestID(req.Context(), "req-1"))
			rec := httptest.NewRecorder()

			Error(silentLogger())(tt.err, e.NewContext(req, rec))

			assert.Equal(t, tt.code, rec.Code)
			var body ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, "req-1", body.RequestID)
			if tt.message != "" {
				assert.Equal(t, tt.message, body.Message)
			}
		})
	}
}

func TestContext(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderOrganizationID, "org-1")
	req.Header.Set(HeaderUserID, "user-1")
	rec := httptest.NewRecorder()

	var org, user, requestID string
	handler := Context()(RequireOrganization()(func(c echo.Context) error {
		ctx := c.Request().Context()
		org, user, requestID = appctx.GetOrganizationID(ctx), appctx.GetUserID(ctx), appctx.GetRequestID(ctx)
		return c.NoContent(http.StatusNoContent)
	}))

	require.NoError(t, handler(e.NewContext(req, rec)))
	assert.Equal(t, "org-1", org)
	assert.Equal(t, "user-1", user)
	assert.NotEmpty(t, requestID)
	assert.Equal(t, requestID, rec.Header().Get(echo.HeaderXRequestID))
}

func TestRequireOrganization(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()

	handler := Context()(RequireOrganization()(func(c echo.Context) error {
		return c.NoContent(http.StatusNoContent)
	}))

	err := handler(e.NewContext(req, rec))
	var he *echo.HTTPError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, http.StatusBadRequest, he.Code)
}

type greeter struct{ name string }

func TestInject(t *testing.T) {
	container, err := ectoinject.NewDIContainer(ectocontainer.DIContainerConfig{
		ID:           "middleware-test-" + uuid.NewString(),
		LoggerConfig: &ectocontainer.DIContainerLoggerConfig{Enabled: false},
	})
	require.NoError(t, err)
	require.NoError(t, ectoinject.RegisterInstance[*greeter](container, &greeter{name: "seed"}))

	e := echo.New()
	var resolved *greeter
	handler := Inject(container.GetContainerID())(func(c echo.Context) error {
		_, g, err := ectoinject.GetContext[*greeter](c.Request().Context())
		if err != nil {
			return err
		}
		resolved = g
		return c.NoContent(http.StatusNoContent)
	})

	rec := httptest.NewRecorder()
	require.NoError(t, handler(e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)))
	require.NotNil(t, resolved)
	assert.Equal(t, "seed", resolved.name)

	missing := Inject("no-such-container")(func(c echo.Context) error {
		return c.NoContent(http.StatusNoContent)
	})
	err = missing(e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder()))
	require.Error(t, err)
	assert.Equal(t, http.StatusInternalServerError, httperror.GetStatusCode(err))
}
