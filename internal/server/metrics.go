package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// labelHandler partitions HTTP metrics by logical route name rather than the
// raw URL path, which carries book ids.
const labelHandler = "handler"

// serverMetrics holds all Prometheus metrics owned by the HTTP server.
// A single instance is created in New so tests can inject a fresh registry.
type serverMetrics struct {
	// queryRequestsTotal counts completed queries by outcome: "ok",
	// "refused", "invalid", "timeout" or "error".
	queryRequestsTotal *prometheus.CounterVec

	// queryDurationSeconds records end-to-end query latency by outcome.
	queryDurationSeconds *prometheus.HistogramVec

	// ingestRequestsTotal counts completed uploads by outcome: "ok",
	// "invalid" or "error".
	ingestRequestsTotal *prometheus.CounterVec

	// ingestDurationSeconds records end-to-end ingestion latency by outcome.
	ingestDurationSeconds *prometheus.HistogramVec

	// rateLimitedTotal counts requests rejected by the rate limiter, by
	// route class.
	rateLimitedTotal *prometheus.CounterVec

	// httpRequestsTotal counts all HTTP requests by method, handler and code.
	httpRequestsTotal *prometheus.CounterVec

	// httpDurationSeconds records the latency of all HTTP requests.
	httpDurationSeconds *prometheus.HistogramVec
}

// newServerMetrics registers all server metrics against reg.
func newServerMetrics(reg prometheus.Registerer) *serverMetrics {
	factory := promauto.With(reg)

	return &serverMetrics{
		queryRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bookqa",
			Subsystem: "query",
			Name:      "requests_total",
			Help:      "Total number of book queries completed, partitioned by outcome.",
		}, []string{"outcome"}),

		queryDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "bookqa",
			Subsystem: "query",
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of book queries from receipt to answer.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"outcome"}),

		ingestRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bookqa",
			Subsystem: "ingest",
			Name:      "requests_total",
			Help:      "Total number of book uploads completed, partitioned by outcome.",
		}, []string{"outcome"}),

		ingestDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "bookqa",
			Subsystem: "ingest",
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of book ingestion.",
			Buckets:   []float64{5, 15, 30, 60, 120, 300, 600},
		}, []string{"outcome"}),

		rateLimitedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bookqa",
			Subsystem: "http",
			Name:      "rate_limited_total",
			Help:      "Requests rejected with 429, partitioned by route class.",
		}, []string{"class"}),

		httpRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bookqa",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled by the server, partitioned by method, handler, and status code.",
		}, []string{"method", labelHandler, "code"}),

		httpDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "bookqa",
			Subsystem: "http",
			Name:      "duration_seconds",
			Help:      "Latency of HTTP requests handled by the server.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", labelHandler}),
	}
}

// instrument records request count and latency for the route named name.
// It wraps the auth layers so rejected requests are counted too.
func (s *Server) instrument(name string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw, ok := w.(*responseWriter)
		if !ok {
			rw = &responseWriter{ResponseWriter: w, status: http.StatusOK}
		}
		start := time.Now()
		next.ServeHTTP(rw, r)
		s.metrics.httpRequestsTotal.WithLabelValues(r.Method, name, strconv.Itoa(rw.status)).Inc()
		s.metrics.httpDurationSeconds.WithLabelValues(r.Method, name).Observe(time.Since(start).Seconds())
	})
}
