// Package observability provides prometheus instrumentation for a sink
// run and the optional scrape endpoint that exposes it.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// namespace prefixes every tapsink metric.
const namespace = "tapsink"

// Metrics holds the per-run sink instruments. A nil *Metrics is valid and
// records nothing, so callers never branch on whether metrics are enabled.
type Metrics struct {
	registry *prometheus.Registry

	recordsAccepted *prometheus.CounterVec
	recordsRejected *prometheus.CounterVec
	bytesWritten    *prometheus.CounterVec
	rotations       *prometheus.CounterVec
	statesForwarded prometheus.Counter
}

// NewMetrics creates and registers the sink instruments on a fresh
// registry, so repeated runs in one process never collide.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		recordsAccepted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_accepted_total",
			Help:      "Records validated and written, by stream",
		}, []string{"stream"}),

		recordsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_rejected_total",
			Help:      "Records dropped by schema validation, by stream",
		}, []string{"stream"}),

		bytesWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_written_total",
			Help:      "Serialized record bytes written before compression, by stream",
		}, []string{"stream"}),

		rotations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "artifact_rotations_total",
			Help:      "Artifacts opened, by stream",
		}, []string{"stream"}),

		statesForwarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "states_forwarded_total",
			Help:      "State messages forwarded to the output channel",
		}),
	}

	registry.MustRegister(
		m.recordsAccepted,
		m.recordsRejected,
		m.bytesWritten,
		m.rotations,
		m.statesForwarded,
	)

	return m
}

// RecordAccepted counts one validated record of size bytes for stream.
func (m *Metrics) RecordAccepted(stream string, bytes int) {
	if m == nil {
		return
	}

	m.recordsAccepted.WithLabelValues(stream).Inc()
	m.bytesWritten.WithLabelValues(stream).Add(float64(bytes))
}

// RecordRejected counts one record dropped by validation for stream.
func (m *Metrics) RecordRejected(stream string) {
	if m == nil {
		return
	}

	m.recordsRejected.WithLabelValues(stream).Inc()
}

// ArtifactOpened counts one artifact rotation for stream.
func (m *Metrics) ArtifactOpened(stream string) {
	if m == nil {
		return
	}

	m.rotations.WithLabelValues(stream).Inc()
}

// StateForwarded counts one forwarded checkpoint.
func (m *Metrics) StateForwarded() {
	if m == nil {
		return
	}

	m.statesForwarded.Inc()
}

// Handler returns the scrape handler for the run's registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
