// Package metrics exposes Prometheus collectors for the streamer and porter.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for streamgate.
type Metrics struct {
	registry *prometheus.Registry

	fragmentsAdded   prometheus.Counter
	fragmentsEvicted prometheus.Counter
	bytesSent        prometheus.Counter
	activeSessions   prometheus.Gauge
	porterHandoffs   prometheus.Counter
	porterRejects    prometheus.Counter
	bouncerDecisions *prometheus.CounterVec
}

// New creates and registers the streamgate Prometheus collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	fragmentsAdded := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "streamgate_fragments_added_total",
		Help: "Total number of fragments added to the ring",
	})
	fragmentsEvicted := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "streamgate_fragments_evicted_total",
		Help: "Total number of fragments evicted from the ring",
	})
	bytesSent := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "streamgate_bytes_sent_total",
		Help: "Total bytes written to HLS clients",
	})
	activeSessions := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "streamgate_active_sessions",
		Help: "Number of live client sessions",
	})
	porterHandoffs := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "streamgate_porter_handoffs_total",
		Help: "Total client sockets handed off to backends",
	})
	porterRejects := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "streamgate_porter_rejects_total",
		Help: "Total porter connections closed without a destination",
	})
	bouncerDecisions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "streamgate_bouncer_decisions_total",
		Help: "Bouncer authentication decisions by outcome",
	}, []string{"outcome"})

	registry.MustRegister(
		fragmentsAdded,
		fragmentsEvicted,
		bytesSent,
		activeSessions,
		porterHandoffs,
		porterRejects,
		bouncerDecisions,
	)

	return &Metrics{
		registry:         registry,
		fragmentsAdded:   fragmentsAdded,
		fragmentsEvicted: fragmentsEvicted,
		bytesSent:        bytesSent,
		activeSessions:   activeSessions,
		porterHandoffs:   porterHandoffs,
		porterRejects:    porterRejects,
		bouncerDecisions: bouncerDecisions,
	}
}

// IncFragmentsAdded increments the fragments added counter.
func (m *Metrics) IncFragmentsAdded() { m.fragmentsAdded.Inc() }

// IncFragmentsEvicted increments the fragments evicted counter.
func (m *Metrics) IncFragmentsEvicted() { m.fragmentsEvicted.Inc() }

// AddBytesSent adds to the bytes sent counter.
func (m *Metrics) AddBytesSent(n int) { m.bytesSent.Add(float64(n)) }

// SetActiveSessions sets the active sessions gauge.
func (m *Metrics) SetActiveSessions(n int) { m.activeSessions.Set(float64(n)) }

// IncPorterHandoffs increments the porter handoff counter.
func (m *Metrics) IncPorterHandoffs() { m.porterHandoffs.Inc() }

// IncPorterRejects increments the porter reject counter.
func (m *Metrics) IncPorterRejects() { m.porterRejects.Inc() }

// IncBouncerDecision increments the decision counter for an outcome
// (authenticated, refused, challenge, error).
func (m *Metrics) IncBouncerDecision(outcome string) {
	m.bouncerDecisions.WithLabelValues(outcome).Inc()
}

// Handler returns an http.Handler that serves the Prometheus registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
