// Copyright 2024-2026 Aiku AI

package connector

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aiku/chat-bridge/pkg/events"
)

// MetricsTargetName is the dispatcher name of the metrics target.
const MetricsTargetName = "metrics"

// Metrics bundles the Prometheus collectors of the bridge. It observes the
// dispatcher and every destination, and it is itself a target that counts
// internal_log events.
type Metrics struct {
	registry    *prometheus.Registry
	dispatched  *prometheus.CounterVec
	enqueued    *prometheus.CounterVec
	processed   *prometheus.CounterVec
	failed      *prometheus.CounterVec
	logEvents   *prometheus.CounterVec
	rateLimited prometheus.Counter
}

var (
	_ events.Target           = (*Metrics)(nil)
	_ events.Observer         = (*Metrics)(nil)
	_ events.DispatchObserver = (*Metrics)(nil)
)

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		dispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chat_bridge",
			Name:      "events_dispatched_total",
			Help:      "Events offered to the dispatcher",
		}, []string{"type"}),
		enqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chat_bridge",
			Name:      "events_enqueued_total",
			Help:      "Events queued on a destination",
		}, []string{"target", "type"}),
		processed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chat_bridge",
			Name:      "events_processed_total",
			Help:      "Events handled successfully by a destination",
		}, []string{"target", "type"}),
		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chat_bridge",
			Name:      "events_failed_total",
			Help:      "Events a destination failed to handle",
		}, []string{"target", "type"}),
		logEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chat_bridge",
			Name:      "log_events_total",
			Help:      "Log records republished as internal_log events",
		}, []string{"level"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chat_bridge",
			Name:      "admin_rate_limited_total",
			Help:      "Admin API requests rejected by the rate limiter",
		}),
	}
	registry.MustRegister(
		m.dispatched,
		m.enqueued,
		m.processed,
		m.failed,
		m.logEvents,
		m.rateLimited,
	)
	return m
}

// TrackQueue exports the depth of a destination queue, sampled on every
// scrape.
func (m *Metrics) TrackQueue(target string, pending func() int) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   "chat_bridge",
		Name:        "queue_depth",
		Help:        "Events waiting in a destination queue",
		ConstLabels: prometheus.Labels{"target": target},
	}, func() float64 {
		return float64(pending())
	}))
}

// Handler serves the Prometheus exposition of the private registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Name() string {
	return MetricsTargetName
}

func (m *Metrics) Accept(evt events.Event) bool {
	return evt.Type() == events.TypeInternalLog
}

// Enqueue counts the record. It never blocks, so the target needs no queue.
func (m *Metrics) Enqueue(evt events.Event) error {
	if payload, ok := evt.Payload.(*events.InternalLog); ok {
		m.logEvents.WithLabelValues(payload.Level).Inc()
	}
	return nil
}

func (m *Metrics) EventDispatched(evt events.Event) {
	m.dispatched.WithLabelValues(string(evt.Type())).Inc()
}

func (m *Metrics) EventEnqueued(target string, evt events.Event) {
	m.enqueued.WithLabelValues(target, string(evt.Type())).Inc()
}

func (m *Metrics) EventProcessed(target string, evt events.Event) {
	m.processed.WithLabelValues(target, string(evt.Type())).Inc()
}

func (m *Metrics) EventFailed(target string, evt events.Event, _ error) {
	m.failed.WithLabelValues(target, string(evt.Type())).Inc()
}

func (m *Metrics) incRateLimited() {
	m.rateLimited.Inc()
}
