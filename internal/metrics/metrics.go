// Package metrics exposes Prometheus instrumentation for the protocol
// engines:
//
//   - frames in/out by wire tag
//   - decode failures by wire tag
//   - outbox replays and current outbox depth
//   - reconnect attempts
//
// Collectors live on a caller-supplied registry so tests and multiple daemons
// never collide on the global one. A nil *Metrics is valid and records
// nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "peerchat"

type Metrics struct {
	registry     *prometheus.Registry
	framesIn     *prometheus.CounterVec
	framesOut    *prometheus.CounterVec
	decodeErrors *prometheus.CounterVec
	replayed     prometheus.Counter
	reconnects   prometheus.Counter
	outboxDepth  prometheus.Gauge
}

// New builds the collectors and registers them on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		framesIn: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_in_total",
			Help:      "Inbound frames by tag.",
		}, []string{"tag"}),
		framesOut: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_out_total",
			Help:      "Outbound frames by tag.",
		}, []string{"tag"}),
		decodeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_errors_total",
			Help:      "Inbound frames dropped because their payload did not decode.",
		}, []string{"tag"}),
		replayed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_replayed_total",
			Help:      "Outbox entries retransmitted after a reconnect.",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnects_total",
			Help:      "Automatic reconnect attempts.",
		}),
		outboxDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "outbox_depth",
			Help:      "Unacknowledged outbound messages.",
		}),
	}
	m.registry.MustRegister(m.framesIn, m.framesOut, m.decodeErrors, m.replayed, m.reconnects, m.outboxDepth)
	return m
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) FrameIn(tag string) {
	if m != nil {
		m.framesIn.WithLabelValues(tag).Inc()
	}
}

func (m *Metrics) FrameOut(tag string) {
	if m != nil {
		m.framesOut.WithLabelValues(tag).Inc()
	}
}

func (m *Metrics) DecodeError(tag string) {
	if m != nil {
		m.decodeErrors.WithLabelValues(tag).Inc()
	}
}

func (m *Metrics) Replayed(n int) {
	if m != nil && n > 0 {
		m.replayed.Add(float64(n))
	}
}

func (m *Metrics) Reconnect() {
	if m != nil {
		m.reconnects.Inc()
	}
}

func (m *Metrics) OutboxDepth(n int) {
	if m != nil {
		m.outboxDepth.Set(float64(n))
	}
}
