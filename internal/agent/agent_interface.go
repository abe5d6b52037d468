package agent

import (
	"context"
	"time"

	"github.com/trollcity2025-netizen/trollcity-1-sub004/internal/domain"
	"github.com/trollcity2025-netizen/trollcity-1-sub004/internal/eventbus"
	"github.com/trollcity2025-netizen/trollcity-1-sub004/internal/ratelimit"
	"github.com/trollcity2025-netizen/trollcity-1-sub004/internal/store"
)

// Store is the part of the durable store the orchestrator uses.
type Store interface {
	GetCase(ctx context.Context, caseID string) (*domain.Case, error)
	RecentTranscriptMessages(ctx context.Context, caseID string, limit int) ([]domain.TranscriptMessage, error)
	CountHumanMessagesSince(ctx context.Context, caseID string, since time.Time) (int, error)
	AppendTranscriptMessage(ctx context.Context, msg *domain.TranscriptMessage) error
}

// Limiter gates how often an automated role may speak.
type Limiter interface {
	Check(ctx context.Context, sessionID string, role domain.Role, opts ratelimit.Options) ratelimit.Decision
	RecordAct(ctx context.Context, sessionID string, role domain.Role)
}

// Publisher emits domain events.
type Publisher interface {
	Publish(ctx context.Context, eventType domain.EventType, subjectID string, metadata map[string]any) (domain.Event, bool)
}

var (
	_ Store     = (store.Repository)(nil)
	_ Limiter   = (*ratelimit.Limiter)(nil)
	_ Publisher = (*eventbus.Bus)(nil)
)
