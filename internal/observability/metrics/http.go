package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type HTTPServerMetrics struct {
	registry *prometheus.Registry

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge

	batchSubmittedTotal *prometheus.CounterVec
	batchQueries        *prometheus.HistogramVec
	exportTotal         *prometheus.CounterVec
}

func NewHTTPServerMetrics(service string) *HTTPServerMetrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ds",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ds",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "ds",
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of in-flight HTTP requests.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	batchSubmittedTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ds",
			Subsystem: "batch",
			Name:      "submitted_total",
			Help:      "Total admitted batch submissions by path.",
		},
		[]string{"service", "path"},
	)
	batchQueries := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ds",
			Subsystem: "batch",
			Name:      "queries_per_batch",
			Help:      "Distribution of canonical query-set sizes per admitted batch.",
			Buckets:   []float64{1, 10, 100, 1000, 10000, 30000, 60000},
		},
		[]string{"service"},
	)
	exportTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ds",
			Subsystem: "batch",
			Name:      "exports_total",
			Help:      "Total result and query exports by format.",
		},
		[]string{"service", "format"},
	)

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		batchSubmittedTotal,
		batchQueries,
		exportTotal,
	)

	return &HTTPServerMetrics{
		registry:            registry,
		requestTotal:        requestTotal,
		requestDuration:     requestDuration,
		requestInFlight:     requestInFlight,
		batchSubmittedTotal: batchSubmittedTotal,
		batchQueries:        batchQueries,
		exportTotal:         exportTotal,
	}
}

func (m *HTTPServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *HTTPServerMetrics) Middleware(service string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		path := normalizePath(r.URL.Path)
		recorder := NewStatusRecorder(w)

		m.requestInFlight.Inc()
		defer m.requestInFlight.Dec()

		next.ServeHTTP(recorder, r)

		m.requestTotal.WithLabelValues(
			service,
			r.Method,
			path,
			strconv.Itoa(recorder.StatusCode()),
		).Inc()
		m.requestDuration.WithLabelValues(service, r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// normalizePath collapses identifier segments so label cardinality stays
// bounded.
func normalizePath(path string) string {
	switch {
	case strings.HasPrefix(path, "/api/batch/search/result/csv/"):
		return "/api/batch/search/result/csv/{id}"
	case strings.HasPrefix(path, "/api/batch/search/result/"):
		return "/api/batch/search/result/{id}"
	case strings.HasPrefix(path, "/api/batch/search/copy/"):
		return "/api/batch/search/copy/{id}"
	case strings.HasSuffix(path, "/queries") && strings.HasPrefix(path, "/api/batch/search/"):
		return "/api/batch/search/{id}/queries"
	case strings.HasPrefix(path, "/api/batch/search/"):
		return "/api/batch/search/{id}"
	default:
		return path
	}
}

func (m *HTTPServerMetrics) RecordBatchSubmitted(service, path string, nbQueries int) {
	m.batchSubmittedTotal.WithLabelValues(service, path).Inc()
	m.batchQueries.WithLabelValues(service).Observe(float64(nbQueries))
}

func (m *HTTPServerMetrics) RecordExport(service, format string) {
	m.exportTotal.WithLabelValues(service, format).Inc()
}
