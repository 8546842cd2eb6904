package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"github.com/afrojet/seed/pkg/middleware"
	buildingroutes "github.com/afrojet/seed/pkg/routes/buildings"
	"github.com/afrojet/seed/pkg/routes/health"
	"github.com/afrojet/seed/pkg/routes/imports"
	"github.com/afrojet/seed/pkg/routes/mappings"
	progressroutes "github.com/afrojet/seed/pkg/routes/progress"
	"github.com/afrojet/seed/pkg/routes/request"
	"github.com/afrojet/seed/pkg/routes/snapshots"
)

// Version is reported by the health endpoint.
var Version = "dev"

// Server builds the HTTP surface. Start must have succeeded first.
func (a *App) Server() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = request.NewValidator()
	e.HTTPErrorHandler = middleware.Error(a.Logger)

	e.Use(echomw.Recover())
	e.Use(middleware.Context())
	if a.Config.TracingEnabled {
		e.Use(otelecho.Middleware(a.Config.AppName))
	}
	e.Use(middleware.Logger(a.Logger))

	checker := health.NewChecker(Version)
	checker.Add("database", health.PingFunc(a.DB.PingContext))
	if a.Redis != nil {
		checker.Add("redis", health.PingFunc(a.Redis.Ping))
	}
	if a.Graph != nil {
		checker.Add("graph", health.PingFunc(a.Graph.VerifyConnectivity))
	}
	checker.SetReady(a.Services != nil)
	checker.Register(e)

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := e.Group("/api/v1", middleware.RequireOrganization(), middleware.Inject(a.Container.GetContainerID()))
	imports.Register(api.Group("/imports", echomw.BodyLimit(fmt.Sprintf("%dK", a.Config.MaxUploadBytes>>10))))
	mappings.Register(api.Group("/mappings"))
	snapshots.Register(api.Group("/snapshots"))
	progressroutes.Register(api.Group("/progress"))
	buildingroutes.Register(api)

	return e
}

// Serve runs the HTTP server until ctx is cancelled, then drains it.
func (a *App) Serve(ctx context.Context) error {
	e := a.Server()
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", a.Config.Port),
		Handler:      e,
		ReadTimeout:  time.Duration(a.Config.HttpServerReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(a.Config.HttpServerWriteTimeoutSeconds) * time.Second,
		IdleTimeout:  time.Duration(a.Config.HttpServerIdleTimeoutSeconds) * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.Logger.WithField("addr", server.Addr).Info("Starting HTTP server")
		if err := e.StartServer(server); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	a.Logger.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.Config.ShutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down HTTP server: %w", err)
	}
	return <-errCh
}
