// Package metrics exposes Prometheus instrumentation for the OWS client.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ows",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total HTTP requests processed",
	}, []string{"method", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "ows",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency in seconds",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 10},
	}, []string{"method"})

	// Outbound service calls
	FetchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ows",
		Subsystem: "fetch",
		Name:      "requests_total",
		Help:      "Total outbound fetches by result",
	}, []string{"result"})

	FetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "ows",
		Subsystem: "fetch",
		Name:      "duration_seconds",
		Help:      "Duration of outbound fetches",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	})

	// Capabilities parsing
	CatalogsParsed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ows",
		Subsystem: "capabilities",
		Name:      "catalogs_parsed_total",
		Help:      "Capabilities documents parsed, by service kind and outcome",
	}, []string{"kind", "outcome"})

	SensorEnrichments = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ows",
		Subsystem: "capabilities",
		Name:      "sensor_enrichments_total",
		Help:      "Per-sensor DescribeSensor enrichments, by outcome",
	}, []string{"outcome"})

	// CRS registry
	CRSLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ows",
		Subsystem: "crs",
		Name:      "lookups_total",
		Help:      "External projection definition lookups, by outcome",
	}, []string{"outcome"})

	// Request builder
	QueriesBuilt = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ows",
		Subsystem: "request",
		Name:      "queries_built_total",
		Help:      "Outbound queries built, by service kind and outcome",
	}, []string{"kind", "outcome"})

	// Agent
	AgentRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ows",
		Subsystem: "agent",
		Name:      "runs_total",
		Help:      "Agent runs, by final state",
	}, []string{"state"})

	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "ows",
		Subsystem: "session",
		Name:      "active",
		Help:      "Current number of form sessions",
	})
)

// Outcome labels.
const (
	OutcomeOK    = "ok"
	OutcomeSoft  = "soft_error"
	OutcomeError = "error"
)

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush keeps SSE streams working through the recorder.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Middleware records request count and latency.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		httpRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(rec.status)).Inc()
		httpRequestDuration.WithLabelValues(r.Method).Observe(time.Since(start).Seconds())
	})
}

// ObserveFetch records one outbound fetch.
func ObserveFetch(start time.Time, err error) {
	result := OutcomeOK
	if err != nil {
		result = OutcomeError
	}
	FetchTotal.WithLabelValues(result).Inc()
	FetchDuration.Observe(time.Since(start).Seconds())
}
