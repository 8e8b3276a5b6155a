// Package metrics holds the prometheus instruments for routing decisions.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all custom Prometheus metrics for the triage service. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	Routed            *prometheus.CounterVec
	Fallbacks         *prometheus.CounterVec
	SpecialistLatency *prometheus.HistogramVec
	PersistFailures   *prometheus.CounterVec
	PublishFailures   *prometheus.CounterVec
	EventsReceived    *prometheus.CounterVec
}

// New registers the metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Routed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "triage_routed_total",
			Help: "Chat turns routed, by intent and answering agent",
		}, []string{"intent", "agent"}),

		Fallbacks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "triage_fallbacks_total",
			Help: "Chat turns answered locally because the specialist failed, by intent and reason",
		}, []string{"intent", "reason"}),

		SpecialistLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "triage_specialist_duration_seconds",
			Help:    "Specialist invocation latency in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 15, 30},
		}, []string{"service", "outcome"}),

		PersistFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "triage_persist_failures_total",
			Help: "Conversation store writes that failed and were dropped",
		}, []string{"record"}),

		PublishFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "triage_publish_failures_total",
			Help: "Event publishes that failed and were dropped",
		}, []string{"topic"}),

		EventsReceived: f.NewCounterVec(prometheus.CounterOpts{
			Name: "triage_events_received_total",
			Help: "Subscribed events received, by topic",
		}, []string{"topic"}),
	}
}

func (m *Metrics) ObserveRouted(intent, agent string) {
	if m == nil {
		return
	}
	m.Routed.WithLabelValues(intent, agent).Inc()
}

func (m *Metrics) ObserveFallback(intent, reason string) {
	if m == nil {
		return
	}
	m.Fallbacks.WithLabelValues(intent, reason).Inc()
}

func (m *Metrics) ObserveSpecialist(service, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.SpecialistLatency.WithLabelValues(service, outcome).Observe(d.Seconds())
}

func (m *Metrics) ObservePersistFailure(record string) {
	if m == nil {
		return
	}
	m.PersistFailures.WithLabelValues(record).Inc()
}

func (m *Metrics) ObservePublishFailure(topic string) {
	if m == nil {
		return
	}
	m.PublishFailures.WithLabelValues(topic).Inc()
}

func (m *Metrics) ObserveEvent(topic string) {
	if m == nil {
		return
	}
	m.EventsReceived.WithLabelValues(topic).Inc()
}
