// Package maintenance runs periodic cleanup of the store.
package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/trollcity2025-netizen/trollcity-1-sub004/internal/shared"
)

// Store is the subset of the repository the sweeper needs.
type Store interface {
	DeleteStaleRateLimitStates(ctx context.Context, cutoff time.Time) (int64, error)
}

// Sweep removes rate-limit rows whose window started more than two windows
// before now. SQLite conflicts are retried.
func Sweep(ctx context.Context, repo Store, window time.Duration, now time.Time) (int64, error) {
	var deleted int64
	err := shared.WithConflictRetry(ctx, shared.DefaultRetryPolicy, "sweep rate limits", func() error {
		var err error
		deleted, err = repo.DeleteStaleRateLimitStates(ctx, now.Add(-2*window))
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("delete stale rate limit states: %w", err)
	}
	return deleted, nil
}

// StartSweeper runs Sweep every interval until ctx is done. It blocks.
func StartSweeper(ctx context.Context, repo Store, interval, window time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	slog.Info("Maintenance sweeper started", "interval", interval, "window", window)

	for {
		select {
		case <-ticker.C:
			deleted, err := Sweep(ctx, repo, window, time.Now().UTC())
			if err != nil {
				slog.Error("Sweeper failed", "error", err)
				continue
			}
			if deleted > 0 {
				slog.Info("Sweeper removed stale rate limit states", "count", deleted)
			}
		case <-ctx.Done():
			slog.Info("Maintenance sweeper shutting down", "reason", ctx.Err())
			return nil
		}
	}
}
