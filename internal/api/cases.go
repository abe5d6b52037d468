package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/trollcity2025-netizen/trollcity-1-sub004/internal/agent"
	"github.com/trollcity2025-netizen/trollcity-1-sub004/internal/domain"
	"github.com/trollcity2025-netizen/trollcity-1-sub004/internal/identity"
	"github.com/trollcity2025-netizen/trollcity-1-sub004/internal/ratelimit"
)

const (
	maxMessageLength    = 2000
	defaultMessageLimit = 50
	maxMessageLimit     = 200
)

// Summarizer produces clerk feedback for a case.
type Summarizer interface {
	SummarizeCase(ctx context.Context, caseID, userID string) (domain.TranscriptMessage, error)
}

// RateLimitSnapshotter reports stored throttle state.
type RateLimitSnapshotter interface {
	Snapshot(ctx context.Context, sessionID string) ([]ratelimit.RoleStatus, error)
}

// CaseHandler serves case configuration and transcript endpoints.
type CaseHandler struct {
	*Handler
	summarizer Summarizer
	limits     RateLimitSnapshotter
}

// NewCaseHandler creates a case handler.
func NewCaseHandler(base *Handler, summarizer Summarizer, limits RateLimitSnapshotter) *CaseHandler {
	return &CaseHandler{Handler: base, summarizer: summarizer, limits: limits}
}

// RegisterRoutes registers case routes.
func (h *CaseHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/cases/{caseID}", func(r chi.Router) {
		r.Use(identity.RequireUser)
		r.Put("/", h.UpsertCase)
		r.Get("/messages", h.ListMessages)
		r.Post("/messages", h.PostMessage)
		r.Post("/summary", h.Summarize)
		r.Get("/rate-limits", h.RateLimits)
	})
}

type caseRequest struct {
	Title            string            `json:"title"`
	Summary          string            `json:"summary"`
	Evidence         []domain.Evidence `json:"evidence"`
	HighActivity     bool              `json:"high_activity"`
	PrimaryEnabled   bool              `json:"primary_enabled"`
	SecondaryEnabled bool              `json:"secondary_enabled"`
}

// UpsertCase creates or replaces a case configuration. The first write
// publishes case_opened for the caller.
func (h *CaseHandler) UpsertCase(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caseID := chi.URLParam(r, "caseID")
	var req caseRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		Error(w, http.StatusBadRequest, "title is required")
		return
	}
	seen := make(map[string]bool, len(req.Evidence))
	for _, e := range req.Evidence {
		if strings.TrimSpace(e.ID) == "" || seen[e.ID] {
			Error(w, http.StatusBadRequest, "evidence ids must be unique and non-empty")
			return
		}
		seen[e.ID] = true
	}

	existing, err := h.repo.GetCase(ctx, caseID)
	if err != nil {
		slog.Error("Failed to load case", "case_id", caseID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load case")
		return
	}

	c := &domain.Case{
		ID:               caseID,
		Title:            req.Title,
		Summary:          req.Summary,
		Evidence:         req.Evidence,
		HighActivity:     req.HighActivity,
		PrimaryEnabled:   req.PrimaryEnabled,
		SecondaryEnabled: req.SecondaryEnabled,
	}
	if err := h.repo.UpsertCase(ctx, c); err != nil {
		slog.Error("Failed to save case", "case_id", caseID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to save case")
		return
	}
	if existing == nil {
		h.bus.Publish(ctx, domain.EventCaseOpened, identity.UserIDFromContext(ctx), map[string]any{"case_id": caseID})
	}

	saved, err := h.repo.GetCase(ctx, caseID)
	if err != nil || saved == nil {
		Error(w, http.StatusInternalServerError, "failed to load case")
		return
	}
	JSON(w, http.StatusOK, saved)
}

type messageRequest struct {
	Role    domain.Role `json:"role"`
	Content string      `json:"content"`
}

// PostMessage appends a participant message and publishes chat_message,
// which may start an agent pass.
func (h *CaseHandler) PostMessage(w http.ResponseWriter, r *http.Request) {
	if !h.allow(w, r) {
		return
	}
	ctx := r.Context()
	caseID := chi.URLParam(r, "caseID")
	userID := identity.UserIDFromContext(ctx)
	sessionID := identity.SessionIDFromContext(ctx)

	var req messageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Content = strings.TrimSpace(req.Content)
	if req.Content == "" || utf8.RuneCountInString(req.Content) > maxMessageLength {
		Error(w, http.StatusBadRequest, "content must be 1-2000 characters")
		return
	}
	if req.Role == "" {
		req.Role = domain.RoleSpectator
	}
	if !req.Role.TriggersAgents() {
		Error(w, http.StatusBadRequest, "role is reserved")
		return
	}

	c, err := h.repo.GetCase(ctx, caseID)
	if err != nil {
		slog.Error("Failed to load case", "case_id", caseID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load case")
		return
	}
	if c == nil {
		Error(w, http.StatusNotFound, "case not found")
		return
	}

	msg := &domain.TranscriptMessage{
		CaseID:      caseID,
		Role:        req.Role,
		AuthorID:    userID,
		Content:     req.Content,
		MessageType: domain.MessageChat,
		Payload:     map[string]any{"session_id": sessionID},
	}
	if err := h.repo.AppendTranscriptMessage(ctx, msg); err != nil {
		slog.Error("Failed to append message", "case_id", caseID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to save message")
		return
	}

	h.bus.Publish(ctx, domain.EventChatMessage, userID, map[string]any{
		"case_id":    caseID,
		"session_id": sessionID,
		"message_id": msg.ID,
		"role":       string(msg.Role),
		"content":    msg.Content,
	})
	JSON(w, http.StatusCreated, msg)
}

// ListMessages returns the newest transcript entries in chronological order.
func (h *CaseHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	limit := defaultMessageLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			Error(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxMessageLimit)
	}

	msgs, err := h.repo.RecentTranscriptMessages(r.Context(), chi.URLParam(r, "caseID"), limit)
	if err != nil {
		slog.Error("Failed to list messages", "error", err)
		Error(w, http.StatusInternalServerError, "failed to list messages")
		return
	}
	if msgs == nil {
		msgs = []domain.TranscriptMessage{}
	}
	JSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

// Summarize runs the clerk summary flow for the caller.
func (h *CaseHandler) Summarize(w http.ResponseWriter, r *http.Request) {
	if !h.allow(w, r) {
		return
	}
	caseID := chi.URLParam(r, "caseID")
	msg, err := h.summarizer.SummarizeCase(r.Context(), caseID, identity.UserIDFromContext(r.Context()))
	switch {
	case err == nil:
		JSON(w, http.StatusCreated, msg)
	case errors.Is(err, agent.ErrCaseNotFound):
		Error(w, http.StatusNotFound, "case not found")
	case errors.Is(err, agent.ErrCompletionDisabled):
		Error(w, http.StatusServiceUnavailable, "summary feedback is disabled")
	case errors.Is(err, agent.ErrNoSummary):
		Error(w, http.StatusUnprocessableEntity, "no summary could be produced")
	default:
		slog.Error("Summary failed", "case_id", caseID, "error", err)
		Error(w, http.StatusInternalServerError, "summary failed")
	}
}

// RateLimits reports the agents' throttle state for a case.
func (h *CaseHandler) RateLimits(w http.ResponseWriter, r *http.Request) {
	rows, err := h.limits.Snapshot(r.Context(), chi.URLParam(r, "caseID"))
	if err != nil {
		slog.Error("Failed to read rate limits", "error", err)
		Error(w, http.StatusInternalServerError, "failed to read rate limits")
		return
	}
	JSON(w, http.StatusOK, map[string]any{"roles": rows})
}
