package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

const defaultHealthCheckTimeout = 5 * time.Second

// HealthCheck probes one dependency. Critical failures turn the response
// into 503; others only mark the service degraded.
type HealthCheck struct {
	Name     string
	Check    func(ctx context.Context) error
	Critical bool
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	engine  TurnEngine
	checks  []HealthCheck
	timeout time.Duration
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(engine TurnEngine, checks ...HealthCheck) *HealthHandler {
	return &HealthHandler{engine: engine, checks: checks, timeout: defaultHealthCheckTimeout}
}

// Health returns the health status of the API and its dependencies.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	checks := map[string]string{"api": "ok"}
	status := "healthy"
	statusCode := http.StatusOK

	if !h.engine.Persistent() {
		checks["persistence"] = "disabled"
		status = "degraded"
	}

	for _, c := range h.checks {
		if err := c.Check(ctx); err != nil {
			slog.Error("Health check failed", "check", c.Name, "error", err)
			checks[c.Name] = "unreachable"
			status = "degraded"
			if c.Critical {
				statusCode = http.StatusServiceUnavailable
			}
			continue
		}
		checks[c.Name] = "ok"
	}

	JSON(w, statusCode, map[string]interface{}{
		"status":          status,
		"checks":          checks,
		"active_sessions": h.engine.ActiveSessions(),
	})
}

// RegisterHealth registers the health check route.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/health", h.Health)
}
