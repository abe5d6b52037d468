package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/trollcity2025-netizen/trollcity-1-sub004/internal/domain"
	"github.com/trollcity2025-netizen/trollcity-1-sub004/internal/identity"
	"github.com/trollcity2025-netizen/trollcity-1-sub004/internal/tasks"
)

// TaskLister reads a user's task list.
type TaskLister interface {
	UserTasks(ctx context.Context, userID string) ([]tasks.UserTask, error)
}

// TaskHandler serves the task catalog endpoints.
type TaskHandler struct {
	*Handler
	engine TaskLister
}

// NewTaskHandler creates a task handler.
func NewTaskHandler(base *Handler, engine TaskLister) *TaskHandler {
	return &TaskHandler{Handler: base, engine: engine}
}

// RegisterRoutes registers task routes.
func (h *TaskHandler) RegisterRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(identity.RequireUser)
		r.Get("/api/tasks", h.ListTasks)
		r.Put("/api/task-definitions", h.UpsertDefinition)
		r.Put("/api/task-cycles/{cycleID}", h.UpsertCycle)
	})
}

// ListTasks returns the caller's tasks for the current cycle.
func (h *TaskHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	list, err := h.engine.UserTasks(r.Context(), identity.UserIDFromContext(r.Context()))
	if err != nil {
		slog.Error("Failed to list tasks", "error", err)
		Error(w, http.StatusInternalServerError, "failed to list tasks")
		return
	}
	JSON(w, http.StatusOK, map[string]any{"tasks": list})
}

// UpsertDefinition creates or updates a catalog entry.
func (h *TaskHandler) UpsertDefinition(w http.ResponseWriter, r *http.Request) {
	var def domain.TaskDefinition
	if !decodeJSON(w, r, &def) {
		return
	}
	def.ID = strings.TrimSpace(def.ID)
	switch {
	case def.ID == "":
		Error(w, http.StatusBadRequest, "id is required")
		return
	case !def.ProgressType.Valid():
		Error(w, http.StatusBadRequest, "invalid progress_type")
		return
	case def.TargetValue <= 0:
		Error(w, http.StatusBadRequest, "target_value must be > 0")
		return
	case def.EventType != "" && !def.EventType.Valid():
		Error(w, http.StatusBadRequest, "invalid event_type")
		return
	}
	for _, dep := range def.Dependencies {
		if dep == def.ID {
			Error(w, http.StatusBadRequest, "a task cannot depend on itself")
			return
		}
	}

	if def.Tier == "" {
		def.Tier = domain.TierEasy
	}
	if def.ResetCycle == "" {
		def.ResetCycle = "weekly"
	}

	if err := h.repo.UpsertTaskDefinition(r.Context(), &def); err != nil {
		slog.Error("Failed to save task definition", "task_id", def.ID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to save task definition")
		return
	}
	JSON(w, http.StatusOK, def)
}

type cycleRequest struct {
	StartsAt time.Time `json:"starts_at"`
	EndsAt   time.Time `json:"ends_at"`
	Active   bool      `json:"active"`
}

// UpsertCycle creates or updates a cycle. Activating it deactivates the
// others.
func (h *TaskHandler) UpsertCycle(w http.ResponseWriter, r *http.Request) {
	var req cycleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !req.EndsAt.After(req.StartsAt) {
		Error(w, http.StatusBadRequest, "ends_at must be after starts_at")
		return
	}
	c := &domain.Cycle{
		ID:       chi.URLParam(r, "cycleID"),
		StartsAt: req.StartsAt,
		EndsAt:   req.EndsAt,
		Active:   req.Active,
	}
	if err := h.repo.UpsertCycle(r.Context(), c); err != nil {
		slog.Error("Failed to save cycle", "cycle_id", c.ID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to save cycle")
		return
	}
	JSON(w, http.StatusOK, c)
}
