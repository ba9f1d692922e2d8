// Package metrics provides Prometheus instrumentation for the price tracker.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SamplesIngested counts samples inserted and published by the poller.
	SamplesIngested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pricetracker_samples_ingested_total",
		Help: "Samples successfully inserted and broadcast",
	})

	// SourceFailures counts failed upstream polls.
	SourceFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pricetracker_source_failures_total",
		Help: "Upstream price polls that failed",
	})

	// StoreFailures counts failed storage writes, partitioned by operation.
	StoreFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pricetracker_store_failures_total",
		Help: "Failed storage operations",
	}, []string{"op"})

	// LatestPrice tracks the most recently ingested price.
	LatestPrice = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pricetracker_latest_price",
		Help: "Most recently ingested price",
	})

	// CacheRequests counts snapshot reads by result (hit or miss).
	CacheRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pricetracker_cache_requests_total",
		Help: "Snapshot cache reads",
	}, []string{"result"})

	// CacheSamples tracks the number of samples held by the snapshot.
	CacheSamples = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pricetracker_cache_samples",
		Help: "Samples held in the in-memory snapshot",
	})

	// CompactionRuns counts compaction passes by outcome.
	CompactionRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pricetracker_compaction_runs_total",
		Help: "Retention compaction passes",
	}, []string{"outcome"})

	// CompactionDeleted counts samples removed by compaction.
	CompactionDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pricetracker_compaction_deleted_total",
		Help: "Samples deleted by retention compaction",
	})

	// CompactionDuration tracks compaction latency.
	CompactionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pricetracker_compaction_duration_seconds",
		Help:    "Retention compaction latency in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	})

	// Subscribers tracks connected broadcast subscribers.
	Subscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pricetracker_subscribers",
		Help: "Number of attached broadcast subscribers",
	})

	// BroadcastDropped counts samples dropped from full subscriber queues.
	BroadcastDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pricetracker_broadcast_dropped_total",
		Help: "Samples dropped because a subscriber fell behind",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pricetracker_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pricetracker_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		HTTPRequestsTotal.WithLabelValues(r.Method, routePattern(r), strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, routePattern(r)).Observe(duration)
	})
}

// routePattern uses the matched chi route to avoid high-cardinality labels.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack lets the WebSocket upgrader take over the connection.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
