// Package api provides HTTP handlers for the court API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/trollcity2025-netizen/trollcity-1-sub004/internal/domain"
	"github.com/trollcity2025-netizen/trollcity-1-sub004/internal/identity"
	"github.com/trollcity2025-netizen/trollcity-1-sub004/internal/store"
)

// defaultMaxRequestBodySize is the maximum accepted request body (64KB).
const defaultMaxRequestBodySize = 64 << 10

// Publisher emits domain events.
type Publisher interface {
	Publish(ctx context.Context, eventType domain.EventType, subjectID string, metadata map[string]any) (domain.Event, bool)
}

// Handler provides common handler utilities.
type Handler struct {
	repo     store.Repository
	bus      Publisher
	throttle *RateLimiter
}

// NewHandler creates a new Handler with common dependencies. A nil
// throttle disables request throttling.
func NewHandler(repo store.Repository, bus Publisher, throttle *RateLimiter) *Handler {
	return &Handler{repo: repo, bus: bus, throttle: throttle}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// decodeJSON reads a size-limited JSON body into v and writes the error
// response itself when it returns false.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, defaultMaxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		Error(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// allow applies the per-user write throttle. It writes 429 when the caller
// is over the limit.
func (h *Handler) allow(w http.ResponseWriter, r *http.Request) bool {
	if h.throttle == nil {
		return true
	}
	// Keyed by user only so rotating session IDs does not reset the limit.
	if !h.throttle.Allow(identity.UserIDFromContext(r.Context())) {
		Error(w, http.StatusTooManyRequests, "rate limit exceeded")
		return false
	}
	return true
}
