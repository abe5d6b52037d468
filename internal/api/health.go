package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// Pinger reports store reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler serves the health endpoint.
type HealthHandler struct {
	db                Pinger
	completionEnabled bool
}

// NewHealthHandler creates a health handler.
func NewHealthHandler(db Pinger, completionEnabled bool) *HealthHandler {
	return &HealthHandler{db: db, completionEnabled: completionEnabled}
}

// RegisterHealth registers GET /health.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/health", h.Health)
}

// Health reports database connectivity and whether agents are enabled.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.db.Ping(ctx); err != nil {
		slog.Warn("health check failed", "error", err)
		JSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable"})
		return
	}
	JSON(w, http.StatusOK, map[string]any{"status": "ok", "agents_enabled": h.completionEnabled})
}
