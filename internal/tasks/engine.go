// Package tasks turns domain events into per-user progress against the
// weekly task catalog.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/trollcity2025-netizen/trollcity-1-sub004/internal/domain"
	"github.com/trollcity2025-netizen/trollcity-1-sub004/internal/eventbus"
	"github.com/trollcity2025-netizen/trollcity-1-sub004/internal/metrics"
)

// Store is the catalog and progress persistence the engine uses.
type Store interface {
	ListActiveTaskDefinitions(ctx context.Context) ([]domain.TaskDefinition, error)
	GetTaskProgress(ctx context.Context, taskID, userID, cycleID string) (*domain.TaskProgress, error)
	UpsertTaskProgress(ctx context.Context, p *domain.TaskProgress) error
	ListTaskProgress(ctx context.Context, userID, cycleID string) ([]domain.TaskProgress, error)
	HasCompletedTask(ctx context.Context, taskID, userID string) (bool, error)
}

// HandlerFunc returns the progress delta event contributes to def. ok is
// false when the handler does not apply.
type HandlerFunc func(event domain.Event, def domain.TaskDefinition) (delta float64, ok bool)

// Engine applies registered handlers to every active task definition.
type Engine struct {
	store   Store
	cycles  CycleResolver
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time

	mu       sync.RWMutex
	handlers map[domain.EventType][]HandlerFunc

	// progressLocks serialize read-modify-write of one progress row.
	progressLocks [progressLockStripes]sync.Mutex
}

const progressLockStripes = 64

func (e *Engine) progressLock(taskID, userID, cycleID string) *sync.Mutex {
	h := xxhash.Sum64String(taskID + "\x00" + userID + "\x00" + cycleID)
	return &e.progressLocks[h%progressLockStripes]
}

// NewEngine creates an engine with no handlers registered.
func NewEngine(store Store, cycles CycleResolver, m *metrics.Metrics) *Engine {
	return &Engine{
		store:    store,
		cycles:   cycles,
		metrics:  m,
		logger:   slog.Default().With("component", "tasks"),
		now:      time.Now,
		handlers: make(map[domain.EventType][]HandlerFunc),
	}
}

// Register appends h to the handlers of eventType. Handlers run in
// registration order.
func (e *Engine) Register(eventType domain.EventType, h HandlerFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[eventType] = append(e.handlers[eventType], h)
}

func (e *Engine) handlersFor(eventType domain.EventType) []HandlerFunc {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]HandlerFunc(nil), e.handlers[eventType]...)
}

// Listener adapts the engine to the event bus.
func (e *Engine) Listener() eventbus.Listener {
	return e.HandleEvent
}

// HandleEvent updates progress of event.SubjectID for every definition a
// handler applies to. Errors for one definition do not stop the others.
func (e *Engine) HandleEvent(ctx context.Context, event domain.Event) error {
	if event.SubjectID == "" {
		return nil
	}
	handlers := e.handlersFor(event.Type)
	if len(handlers) == 0 {
		return nil
	}

	cycleID, ok, err := e.cycles.CurrentCycle(ctx, e.now())
	if err != nil {
		return fmt.Errorf("resolve cycle: %w", err)
	}
	if !ok {
		e.logger.Debug("no active cycle, skipping event", "event_type", event.Type, "event_id", event.ID)
		return nil
	}

	defs, err := e.store.ListActiveTaskDefinitions(ctx)
	if err != nil {
		return fmt.Errorf("list task definitions: %w", err)
	}

	var errs []error
	for _, def := range defs {
		if err := e.applyHandlers(ctx, handlers, event, def, cycleID); err != nil {
			errs = append(errs, fmt.Errorf("task %s: %w", def.ID, err))
		}
	}
	return errors.Join(errs...)
}

func (e *Engine) applyHandlers(ctx context.Context, handlers []HandlerFunc, event domain.Event, def domain.TaskDefinition, cycleID string) error {
	if def.TargetValue <= 0 {
		return nil
	}
	checked := false
	for _, h := range handlers {
		delta, ok := e.run(h, event, def)
		if !ok || delta == 0 || math.IsNaN(delta) || math.IsInf(delta, 0) {
			continue
		}
		if !checked {
			eligible, err := e.eligible(ctx, def, event.SubjectID, cycleID)
			if err != nil {
				return err
			}
			if !eligible {
				return nil
			}
			checked = true
		}
		if err := e.applyDelta(ctx, def, event.SubjectID, cycleID, delta); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) run(h HandlerFunc, event domain.Event, def domain.TaskDefinition) (delta float64, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("task handler panicked", "task_id", def.ID, "event_type", event.Type, "panic", r)
			delta, ok = 0, false
		}
	}()
	return h(event, def)
}

// eligible reports whether def may receive progress for userID in cycleID.
func (e *Engine) eligible(ctx context.Context, def domain.TaskDefinition, userID, cycleID string) (bool, error) {
	if !def.Repeatable {
		done, err := e.store.HasCompletedTask(ctx, def.ID, userID)
		if err != nil {
			return false, fmt.Errorf("check completion: %w", err)
		}
		if done {
			return false, nil
		}
	}
	for _, dep := range def.Dependencies {
		p, err := e.store.GetTaskProgress(ctx, dep, userID, cycleID)
		if err != nil {
			return false, fmt.Errorf("check dependency %s: %w", dep, err)
		}
		if p == nil || !p.IsCompleted {
			return false, nil
		}
	}
	return true, nil
}

func (e *Engine) applyDelta(ctx context.Context, def domain.TaskDefinition, userID, cycleID string, delta float64) error {
	lock := e.progressLock(def.ID, userID, cycleID)
	lock.Lock()
	defer lock.Unlock()

	existing, err := e.store.GetTaskProgress(ctx, def.ID, userID, cycleID)
	if err != nil {
		return fmt.Errorf("get progress: %w", err)
	}

	p := domain.TaskProgress{TaskID: def.ID, UserID: userID, CycleID: cycleID}
	if existing != nil {
		p = *existing
	}
	p.ProgressValue, p.CompletionPercentage = nextProgress(def, p.ProgressValue, delta)
	p.IsCompleted = p.IsCompleted || p.CompletionPercentage >= 100
	p.UpdatedAt = e.now()

	if err := e.store.UpsertTaskProgress(ctx, &p); err != nil {
		return fmt.Errorf("upsert progress: %w", err)
	}
	e.metrics.TaskProgressWritten(string(def.ProgressType))
	return nil
}

// nextProgress returns the new value and completion percentage.
func nextProgress(def domain.TaskDefinition, base, delta float64) (float64, float64) {
	if def.ProgressType == domain.ProgressBoolean {
		if delta > 0 {
			return 1, 100
		}
		return 0, 0
	}
	value := math.Max(0, base+delta)
	pct := math.Round(100*value/def.TargetValue*100) / 100
	return value, math.Max(0, math.Min(100, pct))
}

// UserTask is a definition joined with a user's progress in the current
// cycle.
type UserTask struct {
	Definition domain.TaskDefinition `json:"definition"`
	Progress   domain.TaskProgress   `json:"progress"`
	// Locked is set while a dependency is not yet completed.
	Locked bool `json:"locked"`
}

// UserTasks lists every active definition with userID's progress. Missing
// rows, or a missing cycle, read as zero progress.
func (e *Engine) UserTasks(ctx context.Context, userID string) ([]UserTask, error) {
	defs, err := e.store.ListActiveTaskDefinitions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list task definitions: %w", err)
	}

	cycleID, ok, err := e.cycles.CurrentCycle(ctx, e.now())
	if err != nil {
		return nil, fmt.Errorf("resolve cycle: %w", err)
	}
	byTask := make(map[string]domain.TaskProgress)
	if ok {
		rows, err := e.store.ListTaskProgress(ctx, userID, cycleID)
		if err != nil {
			return nil, fmt.Errorf("list task progress: %w", err)
		}
		for _, p := range rows {
			byTask[p.TaskID] = p
		}
	}

	out := make([]UserTask, 0, len(defs))
	for _, def := range defs {
		p, found := byTask[def.ID]
		if !found {
			p = domain.TaskProgress{TaskID: def.ID, UserID: userID, CycleID: cycleID}
		}
		locked := false
		for _, dep := range def.Dependencies {
			if !byTask[dep].IsCompleted {
				locked = true
				break
			}
		}
		out = append(out, UserTask{Definition: def, Progress: p, Locked: locked})
	}
	return out, nil
}
