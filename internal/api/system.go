package api

import (
	"context"
	"net/http"
	"time"
)

// healthCheckTimeout bounds each component probe so one stuck
// dependency cannot hang the endpoint.
const healthCheckTimeout = 5 * time.Second

// handleSystemHealth probes every registered component and reports the
// aggregate. Any failing component flips the response to 503, so
// monitors read degradation from the status code alone. Component
// failure detail goes to the log, not the wire: this endpoint is
// unauthenticated.
func (s *Server) handleSystemHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	components := make(map[string]string, len(s.health))
	healthy := true
	for name, checker := range s.health {
		if checker == nil {
			continue
		}
		if err := checker.HealthCheck(ctx); err != nil {
			s.logger.Warn("health check failed", "component", name, "error", err)
			components[name] = "unavailable"
			healthy = false
			continue
		}
		components[name] = "ok"
	}

	status := "ok"
	code := http.StatusOK
	if !healthy {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	writeJSON(w, code, map[string]any{
		"status":     status,
		"version":    s.version,
		"components": components,
	})
}
