// Package ratelimit throttles how often an automated role may speak in a
// session. State is persisted per (session, role) so it survives restarts.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/trollcity2025-netizen/trollcity-1-sub004/internal/domain"
	"github.com/trollcity2025-netizen/trollcity-1-sub004/internal/metrics"
)

// Store is the persistence the limiter needs.
type Store interface {
	GetRateLimitState(ctx context.Context, sessionID string, role domain.Role) (*domain.RateLimitState, error)
	ResetRateLimitWindow(ctx context.Context, sessionID string, role domain.Role, now time.Time) error
	IncrementRateLimit(ctx context.Context, sessionID string, role domain.Role, now time.Time, window time.Duration) error
	ListRateLimitStates(ctx context.Context, sessionID string) ([]domain.RateLimitState, error)
}

// Policy bounds a role within one window.
type Policy struct {
	MaxInterruptions int
	Cooldown         time.Duration
}

// Config selects the window and the normal and high-activity policies.
type Config struct {
	Window       time.Duration
	Normal       Policy
	HighActivity Policy
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() Config {
	return Config{
		Window:       10 * time.Minute,
		Normal:       Policy{MaxInterruptions: 5, Cooldown: 30 * time.Second},
		HighActivity: Policy{MaxInterruptions: 3, Cooldown: 60 * time.Second},
	}
}

// Options are per-call switches.
type Options struct {
	HighActivity bool
}

// Reason explains a Decision.
type Reason string

const (
	ReasonNoState          Reason = "no_state"
	ReasonWindowReset      Reason = "window_reset"
	ReasonPermitted        Reason = "permitted"
	ReasonMaxInterruptions Reason = "max_interruptions"
	ReasonCooldown         Reason = "cooldown"
	ReasonStoreError       Reason = "store_error"
)

// Decision is the result of Check.
type Decision struct {
	Allowed bool
	Reason  Reason
}

// Limiter implements the sliding-window throttle.
type Limiter struct {
	store   Store
	cfg     Config
	metrics *metrics.Metrics
	now     func() time.Time
}

// New creates a limiter. Zero config fields fall back to DefaultConfig.
func New(store Store, cfg Config, m *metrics.Metrics) *Limiter {
	def := DefaultConfig()
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.Normal.MaxInterruptions <= 0 {
		cfg.Normal = def.Normal
	}
	if cfg.HighActivity.MaxInterruptions <= 0 {
		cfg.HighActivity = def.HighActivity
	}
	return &Limiter{store: store, cfg: cfg, metrics: m, now: time.Now}
}

// Window returns the configured window length.
func (l *Limiter) Window() time.Duration {
	return l.cfg.Window
}

// CanAct reports whether role may act in sessionID now.
func (l *Limiter) CanAct(ctx context.Context, sessionID string, role domain.Role, opts Options) bool {
	return l.Check(ctx, sessionID, role, opts).Allowed
}

// Check is CanAct with the reason attached. It never fails: a missing row
// or an unreadable store permits the action.
func (l *Limiter) Check(ctx context.Context, sessionID string, role domain.Role, opts Options) Decision {
	state, err := l.store.GetRateLimitState(ctx, sessionID, role)
	if err != nil {
		slog.Warn("rate limit state unavailable, permitting",
			"session_id", sessionID, "role", role, "error", err)
		return Decision{Allowed: true, Reason: ReasonStoreError}
	}
	if state == nil {
		return Decision{Allowed: true, Reason: ReasonNoState}
	}

	now := l.now()
	if now.Sub(state.WindowStart) > l.cfg.Window {
		if err := l.store.ResetRateLimitWindow(ctx, sessionID, role, now); err != nil {
			slog.Warn("failed to reset rate limit window",
				"session_id", sessionID, "role", role, "error", err)
		}
		return Decision{Allowed: true, Reason: ReasonWindowReset}
	}

	policy := l.cfg.Normal
	if opts.HighActivity {
		policy = l.cfg.HighActivity
	}

	if state.InterruptionsCount >= policy.MaxInterruptions {
		l.metrics.RateLimitDenied(string(role), string(ReasonMaxInterruptions))
		return Decision{Allowed: false, Reason: ReasonMaxInterruptions}
	}
	if !state.LastInterruptionAt.IsZero() && now.Sub(state.LastInterruptionAt) < policy.Cooldown {
		l.metrics.RateLimitDenied(string(role), string(ReasonCooldown))
		return Decision{Allowed: false, Reason: ReasonCooldown}
	}
	return Decision{Allowed: true, Reason: ReasonPermitted}
}

// RecordAct counts one action for role in sessionID. Failures are logged.
func (l *Limiter) RecordAct(ctx context.Context, sessionID string, role domain.Role) {
	if err := l.store.IncrementRateLimit(ctx, sessionID, role, l.now(), l.cfg.Window); err != nil {
		slog.Warn("failed to record rate limit usage",
			"session_id", sessionID, "role", role, "error", err)
	}
}

// RoleStatus is one row of a Snapshot.
type RoleStatus struct {
	Role               domain.Role `json:"role"`
	InterruptionsCount int         `json:"interruptions_count"`
	WindowStart        time.Time   `json:"window_start"`
	LastInterruptionAt time.Time   `json:"last_interruption_at"`
	WindowExpired      bool        `json:"window_expired"`
}

// Snapshot returns the stored throttle state of every role in a session.
func (l *Limiter) Snapshot(ctx context.Context, sessionID string) ([]RoleStatus, error) {
	states, err := l.store.ListRateLimitStates(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list rate limit states: %w", err)
	}
	now := l.now()
	out := make([]RoleStatus, 0, len(states))
	for _, st := range states {
		out = append(out, RoleStatus{
			Role:               st.Role,
			InterruptionsCount: st.InterruptionsCount,
			WindowStart:        st.WindowStart,
			LastInterruptionAt: st.LastInterruptionAt,
			WindowExpired:      now.Sub(st.WindowStart) > l.cfg.Window,
		})
	}
	return out, nil
}
