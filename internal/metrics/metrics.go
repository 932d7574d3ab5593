// Package metrics provides Prometheus instrumentation for the turn engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TurnsSettled counts settled turns by outcome (ok, conflict, price_error, rejected).
	TurnsSettled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "turnengine_turns_settled_total",
		Help: "Total number of turn settlements by outcome",
	}, []string{"outcome"})

	// SettlementLatency tracks advance-turn latency including price resolution.
	SettlementLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "turnengine_settlement_latency_seconds",
		Help:    "Turn settlement latency in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// PriceLookups counts close resolutions by the layer that answered
	// (memo, store, upstream) or "miss" when every window came back empty.
	PriceLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "turnengine_price_lookups_total",
		Help: "Price lookups by answering layer",
	}, []string{"layer"})

	// UpstreamErrors counts failed market-data requests per provider.
	UpstreamErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "turnengine_upstream_errors_total",
		Help: "Failed market-data requests by provider",
	}, []string{"provider"})

	// UpstreamLatency tracks market-data request latency per provider.
	UpstreamLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "turnengine_upstream_latency_seconds",
		Help:    "Market-data request latency in seconds",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"provider"})

	// GamesStarted counts games created.
	GamesStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "turnengine_games_started_total",
		Help: "Total games started",
	})

	// GamesFinished counts games finalized into a leaderboard entry.
	GamesFinished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "turnengine_games_finished_total",
		Help: "Total games finished",
	})

	// WebSocketClients tracks connected event-feed clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "turnengine_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "turnengine_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "turnengine_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
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

		path := routePattern(r)
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// routePattern returns the matched chi route (e.g. /api/v1/games/{gameId})
// so game IDs do not become label values.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
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
