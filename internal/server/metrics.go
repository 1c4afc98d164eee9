package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// labelHandler partitions HTTP metrics by route pattern rather than raw path.
const labelHandler = "handler"

// serverMetrics holds all Prometheus metrics owned by the HTTP server.
// A single instance is created in New so tests can inject a fresh registry.
type serverMetrics struct {
	// ingestRequestsTotal counts /v1/input requests by outcome ("ok" or an
	// error code).
	ingestRequestsTotal *prometheus.CounterVec

	// ingestTextsTotal counts texts by result: "inserted" or "skipped".
	ingestTextsTotal *prometheus.CounterVec

	// queryRequestsTotal counts /v1/fetch_similar requests by outcome.
	queryRequestsTotal *prometheus.CounterVec

	// queryResults records how many texts each query returned.
	queryResults prometheus.Histogram

	// httpRequestsTotal counts all HTTP requests handled by the mux,
	// partitioned by method, route, and status code.
	httpRequestsTotal *prometheus.CounterVec

	// httpDurationSeconds records the latency of all HTTP requests.
	httpDurationSeconds *prometheus.HistogramVec
}

// newServerMetrics registers all server metrics against reg.
func newServerMetrics(reg prometheus.Registerer) *serverMetrics {
	factory := promauto.With(reg)

	return &serverMetrics{
		ingestRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "retrieve",
			Subsystem: "ingest",
			Name:      "requests_total",
			Help:      "Total number of /v1/input requests, partitioned by outcome.",
		}, []string{"outcome"}),

		ingestTextsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "retrieve",
			Subsystem: "ingest",
			Name:      "texts_total",
			Help:      "Texts handled by /v1/input, partitioned by result (inserted, skipped).",
		}, []string{"result"}),

		queryRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "retrieve",
			Subsystem: "query",
			Name:      "requests_total",
			Help:      "Total number of /v1/fetch_similar requests, partitioned by outcome.",
		}, []string{"outcome"}),

		queryResults: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "retrieve",
			Subsystem: "query",
			Name:      "results",
			Help:      "Number of texts returned per similarity query.",
			Buckets:   []float64{0, 1, 5, 10, 25, 50, 100},
		}),

		httpRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "retrieve",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled by the server, partitioned by method, handler, and status code.",
		}, []string{"method", labelHandler, "code"}),

		httpDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "retrieve",
			Subsystem: "http",
			Name:      "duration_seconds",
			Help:      "Latency of HTTP requests handled by the server.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", labelHandler}),
	}
}

// instrument wraps next with request count and latency metrics under the
// given handler label.
func (m *serverMetrics) instrument(handler string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw, ok := w.(*responseWriter)
		if !ok {
			rw = &responseWriter{ResponseWriter: w, status: http.StatusOK}
		}
		start := time.Now()
		next.ServeHTTP(rw, r)
		m.httpDurationSeconds.WithLabelValues(r.Method, handler).Observe(time.Since(start).Seconds())
		m.httpRequestsTotal.WithLabelValues(r.Method, handler, strconv.Itoa(rw.status)).Inc()
	})
}
