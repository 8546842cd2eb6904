package health

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"
)

// Pinger is anything the service depends on that can be probed.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// Checker handles health check endpoints
type Checker struct {
	checks    map[string]Pinger
	version   string
	startTime time.Time
	timeout   time.Duration
	ready     atomic.Bool
}

func NewChecker(version string) *Checker {
	return &Checker{
		checks:    make(map[string]Pinger),
		version:   version,
		startTime: time.Now(),
		timeout:   2 * time.Second,
	}
}

// Add registers a named dependency probe.
func (c *Checker) Add(name string, pinger Pinger) {
	c.checks[name] = pinger
}

func (c *Checker) SetReady(ready bool) {
	c.ready.Store(ready)
}

func (c *Checker) Register(e *echo.Echo) {
	e.GET("/api/v1/health", c.Health)
	e.GET("/api/v1/health/live", c.Live)
	e.GET("/api/v1/health/ready", c.Ready)
}

type Status struct {
	Status     string                  `json:"status"`
	Version    string                  `json:"version"`
	Uptime     string                  `json:"uptime"`
	Checks     map[string]*CheckResult `json:"checks"`
	ReportedAt time.Time               `json:"reported_at"`
}

type CheckResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// Health probes every registered dependency.
func (c *Checker) Health(ctx echo.Context) error {
	status := &Status{
		Status:     "healthy",
		Version:    c.version,
		Uptime:     time.Since(c.startTime).Round(time.Second).String(),
		Checks:     make(map[string]*CheckResult, len(c.checks)),
		ReportedAt: time.Now(),
	}

	for name, pinger := range c.checks {
		pingCtx, cancel := context.WithTimeout(ctx.Request().Context(), c.timeout)
		start := time.Now()
		err := pinger.Ping(pingCtx)
		cancel()

		if err != nil {
			status.Status = "unhealthy"
			status.Checks[name] = &CheckResult{Status: "unhealthy", Message: err.Error()}
			continue
		}
		status.Checks[name] = &CheckResult{Status: "healthy", Latency: time.Since(start).String()}
	}

	httpStatus := http.StatusOK
	if status.Status == "unhealthy" {
		httpStatus = http.StatusServiceUnavailable
	}
	return ctx.JSON(httpStatus, status)
}

func (c *Checker) Live(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, map[string]string{"status": "alive"})
}

func (c *Checker) Ready(ctx echo.Context) error {
	if c.ready.Load() {
		return ctx.JSON(http.StatusOK, map[string]string{"status": "ready"})
	}
	return ctx.JSON(http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
}
