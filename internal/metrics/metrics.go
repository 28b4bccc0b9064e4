package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the service. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	CacheRequests *prometheus.CounterVec // labels: store, op, result

	UpstreamRequests *prometheus.CounterVec   // labels: provider, op, outcome
	UpstreamDuration *prometheus.HistogramVec // labels: provider, op

	BatchRuns           *prometheus.CounterVec // labels: status
	BatchSymbolFailures *prometheus.CounterVec // labels: stage
	BatchDuration       prometheus.Histogram
}

// NewMetrics registers and returns all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		CacheRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stocklens_cache_requests_total",
			Help: "Cache lookups by store, operation and result (hit/miss)",
		}, []string{"store", "op", "result"}),
		UpstreamRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stocklens_upstream_requests_total",
			Help: "Data provider calls by outcome",
		}, []string{"provider", "op", "outcome"}),
		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stocklens_upstream_duration_seconds",
			Help:    "Data provider call latency",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"provider", "op"}),
		BatchRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stocklens_batch_runs_total",
			Help: "Batch refresh runs by status",
		}, []string{"status"}),
		BatchSymbolFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stocklens_batch_symbol_failures_total",
			Help: "Per-symbol refresh failures by stage",
		}, []string{"stage"}),
		BatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "stocklens_batch_duration_seconds",
			Help:    "Wall time of a batch refresh run",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.CacheRequests,
		m.UpstreamRequests,
		m.UpstreamDuration,
		m.BatchRuns,
		m.BatchSymbolFailures,
		m.BatchDuration,
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

// CacheLookup counts a cache hit or miss.
func (m *Metrics) CacheLookup(store, op string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheRequests.WithLabelValues(store, op, result).Inc()
}

// ObserveUpstream records one provider call.
func (m *Metrics) ObserveUpstream(provider, op string, started time.Time, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.UpstreamRequests.WithLabelValues(provider, op, outcome).Inc()
	m.UpstreamDuration.WithLabelValues(provider, op).Observe(time.Since(started).Seconds())
}

// ObserveBatch records a finished batch run and its per-stage failures.
func (m *Metrics) ObserveBatch(ok bool, took time.Duration, failuresByStage map[string]int) {
	if m == nil {
		return
	}
	status := "ok"
	if !ok {
		status = "failed"
	}
	m.BatchRuns.WithLabelValues(status).Inc()
	m.BatchDuration.Observe(took.Seconds())
	for stage, n := range failuresByStage {
		m.BatchSymbolFailures.WithLabelValues(stage).Add(float64(n))
	}
}
