package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/trollcity2025-netizen/trollcity-1-sub004/internal/domain"
)

// CycleResolver returns the identifier of the current periodic cycle. ok is
// false when no cycle is active.
type CycleResolver interface {
	CurrentCycle(ctx context.Context, now time.Time) (id string, ok bool, err error)
}

// CycleStore reads the active cycle.
type CycleStore interface {
	GetActiveCycle(ctx context.Context, now time.Time) (*domain.Cycle, error)
}

// StoreCycleResolver uses the active row of the cycle table.
type StoreCycleResolver struct {
	Store CycleStore
}

// CurrentCycle implements CycleResolver.
func (r StoreCycleResolver) CurrentCycle(ctx context.Context, now time.Time) (string, bool, error) {
	c, err := r.Store.GetActiveCycle(ctx, now)
	if err != nil {
		return "", false, fmt.Errorf("get active cycle: %w", err)
	}
	if c == nil {
		return "", false, nil
	}
	return c.ID, true, nil
}

// WeeklyCycleResolver derives the cycle from the ISO week in UTC, e.g.
// "2026-W43".
type WeeklyCycleResolver struct{}

// CurrentCycle implements CycleResolver.
func (WeeklyCycleResolver) CurrentCycle(_ context.Context, now time.Time) (string, bool, error) {
	year, week := now.UTC().ISOWeek()
	return fmt.Sprintf("%d-W%02d", year, week), true, nil
}
