package handler

import (
	"context"
	"net/http"
	"time"

	"popup-runtime/pkg/logger"
)

// Pinger is a dependency with a health probe
type Pinger interface {
	Health(ctx context.Context) error
}

// HealthHandler handles health check requests
type HealthHandler struct {
	checks map[string]Pinger
	logger *logger.Logger
}

// NewHealthHandler creates a new health handler. Nil checks are skipped, so optional
// dependencies that are not configured do not affect the result.
func NewHealthHandler(log *logger.Logger, checks map[string]Pinger) *HealthHandler {
	live := make(map[string]Pinger, len(checks))
	for name, c := range checks {
		if c != nil {
			live[name] = c
		}
	}
	return &HealthHandler{checks: live, logger: log}
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Version   string            `json:"version"`
	Service   string            `json:"service"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// Check handles GET /health
func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Version:   "1.0.0",
		Service:   "popupd",
		Checks:    make(map[string]string, len(h.checks)),
	}

	status := http.StatusOK
	for name, c := range h.checks {
		if err := c.Health(ctx); err != nil {
			h.logger.WithError(err).WithField("dependency", name).Warn("Health check failed")
			response.Checks[name] = "down"
			response.Status = "degraded"
			status = http.StatusServiceUnavailable
			continue
		}
		response.Checks[name] = "up"
	}

	writeJSON(w, status, response, h.logger)
}
