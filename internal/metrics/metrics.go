// Package metrics provides Prometheus instrumentation for the deal engine.
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
	// UpstreamCalls counts marketplace API calls by operation and outcome.
	UpstreamCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deals_upstream_calls_total",
		Help: "Marketplace API calls by operation and outcome",
	}, []string{"op", "outcome"})

	// UpstreamLatency tracks marketplace API latency by operation.
	UpstreamLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "deals_upstream_latency_seconds",
		Help:    "Marketplace API call latency in seconds",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20},
	}, []string{"op"})

	// ListingsMapped counts listings normalized, by search mode.
	ListingsMapped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deals_listings_mapped_total",
		Help: "Listings normalized from marketplace responses",
	}, []string{"mode"})

	// ListingsRanked counts listings that received a score.
	ListingsRanked = promauto.NewCounter(prometheus.CounterOpts{
		Name: "deals_listings_ranked_total",
		Help: "Listings scored against their batch market estimate",
	})

	// SnapshotsRecorded counts market snapshots written, by result.
	SnapshotsRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deals_snapshots_recorded_total",
		Help: "Market snapshots written to the store",
	}, []string{"result"})

	// AlertsSent counts deal alerts delivered, by channel.
	AlertsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deals_alerts_sent_total",
		Help: "Deal alerts delivered",
	}, []string{"channel"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "deals_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deals_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "deals_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25},
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
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the route pattern for path label to avoid high cardinality.
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
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

// Hijack lets the WebSocket upgrader take over wrapped connections.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	return h.Hijack()
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
