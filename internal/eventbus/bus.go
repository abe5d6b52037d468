// Package eventbus is the in-process publish/subscribe hub of the core.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/oklog/ulid/v2"
	"github.com/trollcity2025-netizen/trollcity-1-sub004/internal/domain"
	"github.com/trollcity2025-netizen/trollcity-1-sub004/internal/metrics"
)

const (
	DefaultCapacity = 500
	DefaultWindow   = 2 * time.Second
)

// Listener receives delivered events. Returned errors and panics are logged
// and never reach the publisher.
type Listener func(ctx context.Context, event domain.Event) error

// Options configures a Bus. Zero values fall back to the defaults.
type Options struct {
	Capacity int
	Window   time.Duration
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

type subscription struct {
	id       uint64
	listener Listener
}

// Bus delivers events synchronously to subscribers in registration order and
// drops publishes whose identity was already seen within the window.
type Bus struct {
	logger  *slog.Logger
	metrics *metrics.Metrics

	// dedupMu makes the seen-check and insert a single step.
	dedupMu sync.Mutex
	recent  *expirable.LRU[uint64, time.Time]

	mu     sync.RWMutex
	subs   []subscription
	nextID uint64
}

// New creates a bus.
func New(opts Options) *Bus {
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Bus{
		logger:  opts.Logger,
		metrics: opts.Metrics,
		recent:  expirable.NewLRU[uint64, time.Time](opts.Capacity, nil, opts.Window),
	}
}

// Publish delivers an event to every subscriber. It returns false without
// delivering when subjectID is empty or an identical event was published
// within the window.
func (b *Bus) Publish(ctx context.Context, eventType domain.EventType, subjectID string, metadata map[string]any) (domain.Event, bool) {
	if strings.TrimSpace(subjectID) == "" {
		return domain.Event{}, false
	}

	now := time.Now().UTC()
	key := identity(eventType, subjectID, metadata)

	b.dedupMu.Lock()
	if _, seen := b.recent.Peek(key); seen {
		b.dedupMu.Unlock()
		b.metrics.EventSuppressed(string(eventType))
		b.logger.Debug("Duplicate event suppressed", "type", eventType, "subject_id", subjectID)
		return domain.Event{}, false
	}
	b.recent.Add(key, now)
	b.dedupMu.Unlock()

	md := cloneMetadata(metadata)
	event := domain.Event{
		ID:        ulid.Make().String(),
		Type:      eventType,
		SubjectID: subjectID,
		Metadata:  md,
		Payload:   domain.DecodePayload(eventType, md),
		CreatedAt: now,
	}

	b.mu.RLock()
	subs := make([]subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	for _, sub := range subs {
		b.deliver(ctx, sub, event)
	}
	b.metrics.EventPublished(string(eventType))
	return event, true
}

// Subscribe registers a listener and returns a function that removes it.
// The returned function is safe to call more than once.
func (b *Bus) Subscribe(listener Listener) func() {
	if listener == nil {
		return func() {}
	}

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, listener: listener})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, sub := range b.subs {
				if sub.id == id {
					b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// SubscriberCount returns the number of registered listeners.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (b *Bus) deliver(ctx context.Context, sub subscription, event domain.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.metrics.SubscriberFailed()
			b.logger.Error("Event subscriber panicked",
				"subscriber", sub.id,
				"type", event.Type,
				"event_id", event.ID,
				"panic", fmt.Sprint(r))
		}
	}()

	if err := sub.listener(ctx, event); err != nil {
		b.metrics.SubscriberFailed()
		b.logger.Warn("Event subscriber failed",
			"subscriber", sub.id,
			"type", event.Type,
			"event_id", event.ID,
			"error", err)
	}
}

// identity hashes type, subject and the canonical JSON of metadata.
// encoding/json sorts map keys, so equal maps serialize identically.
// Metadata that cannot be serialized counts as empty.
func identity(eventType domain.EventType, subjectID string, metadata map[string]any) uint64 {
	encoded := []byte("{}")
	if len(metadata) > 0 {
		if data, err := json.Marshal(metadata); err == nil {
			encoded = data
		}
	}

	h := xxhash.New()
	_, _ = h.WriteString(string(eventType))
	_, _ = h.Write([]byte{0})
	_, _ = h.WriteString(subjectID)
	_, _ = h.Write([]byte{0})
	_, _ = h.Write(encoded)
	return h.Sum64()
}

func cloneMetadata(md map[string]any) map[string]any {
	if md == nil {
		return nil
	}
	out := make(map[string]any, len(md))
	for k, v := range md {
		out[k] = v
	}
	return out
}
