// Package metrics owns the Prometheus collectors of the orchestration core.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	EventsPublished    *prometheus.CounterVec
	EventsSuppressed   *prometheus.CounterVec
	SubscriberFailures prometheus.Counter
	AgentPasses        *prometheus.CounterVec
	AgentCommits       *prometheus.CounterVec
	RateLimitDenials   *prometheus.CounterVec
	TaskProgressWrites *prometheus.CounterVec
	StreamClients      prometheus.Gauge
	StreamDrops        prometheus.Counter
}

// New creates the collectors on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		EventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "court_events_published_total",
			Help: "Events delivered to subscribers.",
		}, []string{"type"}),
		EventsSuppressed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "court_events_suppressed_total",
			Help: "Events dropped as duplicates.",
		}, []string{"type"}),
		SubscriberFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "court_event_subscriber_failures_total",
			Help: "Subscriber errors and panics recovered by the bus.",
		}),
		AgentPasses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "court_agent_passes_total",
			Help: "Orchestration passes by outcome.",
		}, []string{"outcome"}),
		AgentCommits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "court_agent_commits_total",
			Help: "Agent messages committed to the transcript.",
		}, []string{"role"}),
		RateLimitDenials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "court_rate_limit_denials_total",
			Help: "Agent turns denied by the rate limiter.",
		}, []string{"role", "reason"}),
		TaskProgressWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "court_task_progress_writes_total",
			Help: "Task progress upserts by progress type.",
		}, []string{"progress_type"}),
		StreamClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "court_stream_clients",
			Help: "Connected WebSocket event stream clients.",
		}),
		StreamDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "court_stream_dropped_total",
			Help: "Events dropped for slow stream clients.",
		}),
	}
	m.registry.MustRegister(
		m.EventsPublished,
		m.EventsSuppressed,
		m.SubscriberFailures,
		m.AgentPasses,
		m.AgentCommits,
		m.RateLimitDenials,
		m.TaskProgressWrites,
		m.StreamClients,
		m.StreamDrops,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// EventPublished counts one delivered event.
func (m *Metrics) EventPublished(eventType string) {
	if m == nil {
		return
	}
	m.EventsPublished.WithLabelValues(eventType).Inc()
}

// EventSuppressed counts one duplicate drop.
func (m *Metrics) EventSuppressed(eventType string) {
	if m == nil {
		return
	}
	m.EventsSuppressed.WithLabelValues(eventType).Inc()
}

// SubscriberFailed counts one recovered subscriber failure.
func (m *Metrics) SubscriberFailed() {
	if m == nil {
		return
	}
	m.SubscriberFailures.Inc()
}

// AgentPass counts one orchestration pass outcome.
func (m *Metrics) AgentPass(outcome string) {
	if m == nil {
		return
	}
	m.AgentPasses.WithLabelValues(outcome).Inc()
}

// AgentCommit counts one committed agent message.
func (m *Metrics) AgentCommit(role string) {
	if m == nil {
		return
	}
	m.AgentCommits.WithLabelValues(role).Inc()
}

// RateLimitDenied counts one denied agent turn.
func (m *Metrics) RateLimitDenied(role, reason string) {
	if m == nil {
		return
	}
	m.RateLimitDenials.WithLabelValues(role, reason).Inc()
}

// TaskProgressWritten counts one progress upsert.
func (m *Metrics) TaskProgressWritten(progressType string) {
	if m == nil {
		return
	}
	m.TaskProgressWrites.WithLabelValues(progressType).Inc()
}

// StreamClientsChanged adjusts the connected client gauge by delta.
func (m *Metrics) StreamClientsChanged(delta int) {
	if m == nil {
		return
	}
	m.StreamClients.Add(float64(delta))
}

// StreamDropped counts one event not queued for a slow client.
func (m *Metrics) StreamDropped() {
	if m == nil {
		return
	}
	m.StreamDrops.Inc()
}
