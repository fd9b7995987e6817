// Package metrics exposes sync and mutation counters for Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the engine collectors. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	observerFirings   *prometheus.CounterVec
	messagesMerged    prometheus.Counter
	duplicatesSkipped prometheus.Counter
	mutations         *prometheus.CounterVec
	roomSubscriptions prometheus.Gauge
	attachmentBytes   *prometheus.CounterVec
}

// New creates the collectors on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		observerFirings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_observer_firings_total",
			Help: "Observer callbacks received, by feed.",
		}, []string{"feed"}),
		messagesMerged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_messages_merged_total",
			Help: "Messages appended to room lists.",
		}),
		duplicatesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_messages_duplicate_total",
			Help: "Messages skipped by the merge because their id was already present.",
		}),
		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_mutations_total",
			Help: "Mutation state transitions, by operation and state.",
		}, []string{"op", "state"}),
		roomSubscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chat_room_subscriptions",
			Help: "Rooms with an active subscription.",
		}),
		attachmentBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_attachment_bytes_total",
			Help: "Attachment bytes moved, by direction.",
		}, []string{"direction"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.observerFirings,
		m.messagesMerged,
		m.duplicatesSkipped,
		m.mutations,
		m.roomSubscriptions,
		m.attachmentBytes,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserverFired(feed string) {
	if m == nil {
		return
	}
	m.observerFirings.WithLabelValues(feed).Inc()
}

func (m *Metrics) Merged(added, skipped int) {
	if m == nil {
		return
	}
	m.messagesMerged.Add(float64(added))
	m.duplicatesSkipped.Add(float64(skipped))
}

func (m *Metrics) Mutation(op, state string) {
	if m == nil {
		return
	}
	m.mutations.WithLabelValues(op, state).Inc()
}

func (m *Metrics) SetRoomSubscriptions(n int) {
	if m == nil {
		return
	}
	m.roomSubscriptions.Set(float64(n))
}

func (m *Metrics) AttachmentBytes(direction string, n int64) {
	if m == nil {
		return
	}
	m.attachmentBytes.WithLabelValues(direction).Add(float64(n))
}
