package controllers

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

const healthTimeout = 2 * time.Second

// Check reports whether a dependency is reachable.
type Check func(ctx context.Context) error

type HealthController struct {
	service string
	checks  map[string]Check
}

func NewHealthController(service string, checks map[string]Check) *HealthController {
	return &HealthController{service: service, checks: checks}
}

// Root responds with the service banner.
// GET /
func (hc *HealthController) Root(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "OK",
		"message": hc.service + " is running",
		"version": "1.0",
	})
}

// Health pings every registered dependency.
// GET /health
func (hc *HealthController) Health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), healthTimeout)
	defer cancel()

	names := make([]string, 0, len(hc.checks))
	for name := range hc.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := http.StatusOK
	body := map[string]string{"status": "healthy"}
	for _, name := range names {
		if err := hc.checks[name](ctx); err != nil {
			log.Ctx(ctx).Warn().Err(err).Str("dependency", name).Msg("health check failed")
			body[name] = "unavailable"
			body["status"] = "degraded"
			status = http.StatusServiceUnavailable
			continue
		}
		body[name] = "connected"
	}

	return c.JSON(status, body)
}
