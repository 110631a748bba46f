// Package metrics provides Prometheus instrumentation for the
// clustering engine's HTTP surface.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metric collectors.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	ActiveRequests  prometheus.Gauge

	PredictionsTotal  *prometheus.CounterVec
	ActiveClusters    prometheus.Gauge
	ActiveSubclusters prometheus.Gauge

	registry *prometheus.Registry
}

// Outcome labels recorded by RecordPrediction, one per SPEC_FULL.md
// section 4.4/4.5 branch.
const (
	OutcomeSeed       = "seed"
	OutcomeAbsorb     = "absorb"
	OutcomeAttach     = "attach"
	OutcomeNewCluster = "new_cluster"
	OutcomeMerge      = "merge"
	OutcomeSplit      = "split"
)

// New creates and registers all clustering metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "linkscluster_requests_total",
				Help: "Total HTTP requests by endpoint and status code.",
			},
			[]string{"endpoint", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "linkscluster_request_duration_seconds",
				Help:    "HTTP request latency distribution.",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"endpoint"},
		),
		ActiveRequests: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "linkscluster_active_requests",
				Help: "Number of requests currently being processed.",
			},
		),
		PredictionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "linkscluster_predictions_total",
				Help: "Total predict() calls by outcome (seed, absorb, attach, new_cluster, merge, split).",
			},
			[]string{"outcome"},
		),
		ActiveClusters: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "linkscluster_active_clusters",
				Help: "Current number of live clusters in the engine.",
			},
		),
		ActiveSubclusters: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "linkscluster_active_subclusters",
				Help: "Current number of live sub-clusters across all clusters.",
			},
		),
		registry: reg,
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.ActiveRequests,
		m.PredictionsTotal,
		m.ActiveClusters,
		m.ActiveSubclusters,
	)

	return m
}

// Handler returns an http.Handler that serves the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordRequest records a completed request's metrics.
func (m *Metrics) RecordRequest(endpoint string, statusCode int, duration time.Duration) {
	status := strconv.Itoa(statusCode)
	m.RequestsTotal.WithLabelValues(endpoint, status).Inc()
	m.RequestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// RecordPrediction records one predict() outcome and the engine's
// resulting population, per SPEC_FULL.md section 4.4/4.5.
func (m *Metrics) RecordPrediction(outcome string, clusterCount, subclusterCount int) {
	m.PredictionsTotal.WithLabelValues(outcome).Inc()
	m.ActiveClusters.Set(float64(clusterCount))
	m.ActiveSubclusters.Set(float64(subclusterCount))
}

// Middleware returns an HTTP middleware that instruments requests.
func (m *Metrics) Middleware(endpoint string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m.ActiveRequests.Inc()
		defer m.ActiveRequests.Dec()

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(rw, r)

		m.RecordRequest(endpoint, rw.statusCode, time.Since(start))
	}
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
