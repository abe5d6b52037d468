package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/trollcity2025-netizen/trollcity-1-sub004/internal/domain"
	"github.com/trollcity2025-netizen/trollcity-1-sub004/internal/identity"
)

// hostEventTypes are the events the host application may publish directly.
// Chat, AI decisions and summaries are only emitted by this service.
var hostEventTypes = map[domain.EventType]bool{
	domain.EventGiftSent:      true,
	domain.EventMatchResult:   true,
	domain.EventStreamMinutes: true,
	domain.EventCaseOpened:    true,
	domain.EventCaseVerdict:   true,
}

// EventHandler accepts domain events from the host application.
type EventHandler struct {
	*Handler
	hosts map[string]bool
}

// NewEventHandler creates an event handler. Only callers listed in hostIDs
// may publish for a subject other than themselves.
func NewEventHandler(base *Handler, hostIDs []string) *EventHandler {
	hosts := make(map[string]bool, len(hostIDs))
	for _, id := range hostIDs {
		if id = strings.TrimSpace(id); id != "" {
			hosts[id] = true
		}
	}
	return &EventHandler{Handler: base, hosts: hosts}
}

// RegisterRoutes registers event routes.
func (h *EventHandler) RegisterRoutes(r chi.Router) {
	r.With(identity.RequireUser).Post("/api/events", h.Publish)
}

type publishRequest struct {
	Type      domain.EventType `json:"type"`
	SubjectID string           `json:"subject_id"`
	Metadata  map[string]any   `json:"metadata"`
}

// Publish puts an event on the bus. The subject defaults to the caller.
func (h *EventHandler) Publish(w http.ResponseWriter, r *http.Request) {
	if !h.allow(w, r) {
		return
	}
	var req publishRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !hostEventTypes[req.Type] {
		Error(w, http.StatusBadRequest, "unsupported event type")
		return
	}

	caller := identity.UserIDFromContext(r.Context())
	subject := strings.TrimSpace(req.SubjectID)
	if subject == "" {
		subject = caller
	}
	if subject != caller && !h.hosts[caller] {
		Error(w, http.StatusForbidden, "cannot publish for another subject")
		return
	}

	event, delivered := h.bus.Publish(r.Context(), req.Type, subject, req.Metadata)
	resp := map[string]any{"delivered": delivered}
	if delivered {
		resp["event_id"] = event.ID
	}
	JSON(w, http.StatusAccepted, resp)
}
