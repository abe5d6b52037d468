// Package stream pushes bus events to WebSocket clients.
package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/trollcity2025-netizen/trollcity-1-sub004/internal/domain"
	"github.com/trollcity2025-netizen/trollcity-1-sub004/internal/eventbus"
	"github.com/trollcity2025-netizen/trollcity-1-sub004/internal/metrics"
)

// DefaultBuffer is the per-client queue length.
const DefaultBuffer = 32

// Filter selects the events a client receives. An event matches when its
// subject equals SubjectID or its case_id metadata equals CaseID.
type Filter struct {
	SubjectID string
	CaseID    string
}

func (f Filter) matches(e domain.Event) bool {
	if f.SubjectID != "" && e.SubjectID == f.SubjectID {
		return true
	}
	return f.CaseID != "" && domain.MetaString(e.Metadata, "case_id") == f.CaseID
}

type client struct {
	id     uint64
	filter Filter
	send   chan []byte
}

// Hub tracks connected clients.
type Hub struct {
	mu      sync.RWMutex
	clients map[uint64]*client
	nextID  uint64
	buffer  int
	metrics *metrics.Metrics
}

// NewHub creates a hub. buffer <= 0 selects DefaultBuffer.
func NewHub(buffer int, m *metrics.Metrics) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Hub{
		clients: make(map[uint64]*client),
		buffer:  buffer,
		metrics: m,
	}
}

func (h *Hub) register(f Filter) *client {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	c := &client{id: h.nextID, filter: f, send: make(chan []byte, h.buffer)}
	h.clients[c.id] = c
	h.metrics.StreamClientsChanged(1)
	slog.Info("Stream client registered", "client", c.id, "subject_id", f.SubjectID, "case_id", f.CaseID)
	return c
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c.id]; !ok {
		return
	}
	delete(h.clients, c.id)
	h.metrics.StreamClientsChanged(-1)
	slog.Info("Stream client unregistered", "client", c.id)
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Listener returns the bus subscriber. It never blocks: a client whose
// queue is full misses the event.
func (h *Hub) Listener() eventbus.Listener {
	return func(_ context.Context, event domain.Event) error {
		h.mu.RLock()
		defer h.mu.RUnlock()

		var data []byte
		for _, c := range h.clients {
			if !c.filter.matches(event) {
				continue
			}
			if data == nil {
				var err error
				if data, err = json.Marshal(event); err != nil {
					return err
				}
			}
			select {
			case c.send <- data:
			default:
				h.metrics.StreamDropped()
				slog.Debug("Stream client too slow, event dropped", "client", c.id, "event_id", event.ID)
			}
		}
		return nil
	}
}
