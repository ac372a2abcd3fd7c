// Package metrics exposes pipeline and analytics counters in Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "evsales"

// Metrics owns a private registry so tests and multiple instances never collide.
// A nil *Metrics discards every observation.
type Metrics struct {
	registry *prometheus.Registry

	recordsFetched   *prometheus.CounterVec
	recordsMatched   *prometheus.CounterVec
	recordsDropped   *prometheus.CounterVec
	recordsWritten   *prometheus.CounterVec
	windowFailures   *prometheus.CounterVec
	syncDuration     *prometheus.HistogramVec
	syncRuns         *prometheus.CounterVec
	cacheLookups     *prometheus.CounterVec
	modelsClassified *prometheus.CounterVec
}

// New creates and registers every collector, plus the Go and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		recordsFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sync", Name: "records_fetched_total",
			Help: "Records returned by sales providers.",
		}, []string{"source"}),
		recordsMatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sync", Name: "records_matched_total",
			Help: "Provider records resolved to a known company.",
		}, []string{"source", "match"}),
		recordsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sync", Name: "records_dropped_total",
			Help: "Provider records dropped because no company matched.",
		}, []string{"source"}),
		recordsWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sync", Name: "records_written_total",
			Help: "Records upserted into the store.",
		}, []string{"kind", "source"}),
		windowFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sync", Name: "window_failures_total",
			Help: "Provider windows skipped after a fetch failure.",
		}, []string{"source"}),
		syncDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "sync", Name: "duration_seconds",
			Help:    "Wall time of a sync run.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"kind"}),
		syncRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sync", Name: "runs_total",
			Help: "Sync runs by kind and final status.",
		}, []string{"kind", "status"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "analytics", Name: "cache_lookups_total",
			Help: "Analytics cache lookups by result.",
		}, []string{"kind", "result"}),
		modelsClassified: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "enrichment", Name: "models_classified_total",
			Help: "Car models classified, by provenance.",
		}, []string{"provenance"}),
	}

	m.registry.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		m.recordsFetched, m.recordsMatched, m.recordsDropped, m.recordsWritten,
		m.windowFailures, m.syncDuration, m.syncRuns, m.cacheLookups, m.modelsClassified,
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

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) RecordFetched(source string, n int) {
	if m == nil {
		return
	}
	m.recordsFetched.WithLabelValues(source).Add(float64(n))
}

func (m *Metrics) RecordMatched(source, match string) {
	if m == nil {
		return
	}
	m.recordsMatched.WithLabelValues(source, match).Inc()
}

func (m *Metrics) RecordDropped(source string) {
	if m == nil {
		return
	}
	m.recordsDropped.WithLabelValues(source).Inc()
}

func (m *Metrics) RecordWritten(kind, source string, n int) {
	if m == nil {
		return
	}
	m.recordsWritten.WithLabelValues(kind, source).Add(float64(n))
}

func (m *Metrics) WindowFailed(source string) {
	if m == nil {
		return
	}
	m.windowFailures.WithLabelValues(source).Inc()
}

// SyncFinished records a run's duration and status.
func (m *Metrics) SyncFinished(kind, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.syncDuration.WithLabelValues(kind).Observe(d.Seconds())
	m.syncRuns.WithLabelValues(kind, status).Inc()
}

// CacheLookup counts an analytics cache hit or miss.
func (m *Metrics) CacheLookup(kind string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) ModelClassified(provenance string) {
	if m == nil {
		return
	}
	m.modelsClassified.WithLabelValues(provenance).Inc()
}
