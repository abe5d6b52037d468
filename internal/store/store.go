// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/trollcity2025-netizen/trollcity-1-sub004/internal/domain"
)

// Repository defines the durable store consumed by the orchestration core.
// Getters return (nil, nil) when the row does not exist.
type Repository interface {
	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error

	// GetCase retrieves a case with its evidence.
	GetCase(ctx context.Context, caseID string) (*domain.Case, error)

	// UpsertCase creates or updates a case and replaces its evidence list.
	UpsertCase(ctx context.Context, c *domain.Case) error

	// AppendTranscriptMessage stores a transcript message. Assigns ID and
	// CreatedAt when empty. Appending an existing ID is a no-op.
	AppendTranscriptMessage(ctx context.Context, msg *domain.TranscriptMessage) error

	// RecentTranscriptMessages returns up to limit of the newest messages of
	// a case in chronological order.
	RecentTranscriptMessages(ctx context.Context, caseID string, limit int) ([]domain.TranscriptMessage, error)

	// CountHumanMessagesSince counts messages not written by automated or
	// system roles since the given time.
	CountHumanMessagesSince(ctx context.Context, caseID string, since time.Time) (int, error)

	// GetRateLimitState retrieves throttle state for a session/role pair.
	GetRateLimitState(ctx context.Context, sessionID string, role domain.Role) (*domain.RateLimitState, error)

	// ResetRateLimitWindow zeroes the counter and starts a new window.
	ResetRateLimitWindow(ctx context.Context, sessionID string, role domain.Role, now time.Time) error

	// IncrementRateLimit atomically records one interruption. Windows that
	// started before now-window are restarted.
	IncrementRateLimit(ctx context.Context, sessionID string, role domain.Role, now time.Time, window time.Duration) error

	// ListRateLimitStates returns every role's throttle state for a session.
	ListRateLimitStates(ctx context.Context, sessionID string) ([]domain.RateLimitState, error)

	// DeleteStaleRateLimitStates removes states whose window started before cutoff.
	DeleteStaleRateLimitStates(ctx context.Context, cutoff time.Time) (int64, error)

	// ListActiveTaskDefinitions returns all active catalog entries.
	ListActiveTaskDefinitions(ctx context.Context) ([]domain.TaskDefinition, error)

	// UpsertTaskDefinition creates or updates a catalog entry.
	UpsertTaskDefinition(ctx context.Context, def *domain.TaskDefinition) error

	// GetTaskProgress retrieves progress keyed by (task, user, cycle).
	GetTaskProgress(ctx context.Context, taskID, userID, cycleID string) (*domain.TaskProgress, error)

	// UpsertTaskProgress creates or updates progress. Completion is never
	// reset once stored.
	UpsertTaskProgress(ctx context.Context, p *domain.TaskProgress) error

	// ListTaskProgress returns a user's progress rows for one cycle.
	ListTaskProgress(ctx context.Context, userID, cycleID string) ([]domain.TaskProgress, error)

	// HasCompletedTask reports whether the user completed the task in any cycle.
	HasCompletedTask(ctx context.Context, taskID, userID string) (bool, error)

	// GetActiveCycle returns the active cycle covering now.
	GetActiveCycle(ctx context.Context, now time.Time) (*domain.Cycle, error)

	// UpsertCycle creates or updates a cycle. Activating a cycle
	// deactivates every other one.
	UpsertCycle(ctx context.Context, c *domain.Cycle) error
}
