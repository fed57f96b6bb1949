package api

import (
	"context"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/proteinops/foldy/pkg/version"
)

const (
	healthStatusHealthy   = "healthy"
	healthStatusDegraded  = "degraded"
	healthStatusUnhealthy = "unhealthy"
)

// healthHandler handles GET /healthz. The shared store is the only hard
// dependency; a broken archive only degrades the status because the hot
// path keeps working without it.
func (s *Server) healthHandler(c *echo.Context) error {
	reqCtx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]HealthCheck)
	status := healthStatusHealthy

	if err := s.kvClient.Ping(reqCtx); err != nil {
		status = healthStatusUnhealthy
		checks["kv"] = HealthCheck{Status: healthStatusUnhealthy, Message: err.Error()}
	} else {
		checks["kv"] = HealthCheck{Status: healthStatusHealthy}
	}

	if s.arch != nil {
		if err := s.arch.Ping(reqCtx); err != nil {
			if status == healthStatusHealthy {
				status = healthStatusDegraded
			}
			checks["archive"] = HealthCheck{Status: healthStatusDegraded, Message: err.Error()}
		} else {
			checks["archive"] = HealthCheck{Status: healthStatusHealthy}
		}
	}

	httpStatus := http.StatusOK
	if status == healthStatusUnhealthy {
		httpStatus = http.StatusServiceUnavailable
	}

	return c.JSON(httpStatus, &HealthResponse{
		Status:  status,
		Version: version.Full(),
		Checks:  checks,
	})
}
