// Package metrics provides Prometheus instrumentation for the settlement engine.
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
	// TradesCreated counts trades opened, partitioned by direction.
	TradesCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settle_trades_created_total",
		Help: "Total number of trades created",
	}, []string{"direction"})

	// TradesSettled counts terminal transitions by outcome.
	TradesSettled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settle_trades_settled_total",
		Help: "Total number of trades settled",
	}, []string{"outcome"})

	// SettlementDuration tracks how long one settlement execution takes.
	SettlementDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "settle_settlement_duration_seconds",
		Help:    "Settlement execution time in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// SettlementRetries counts settlement attempts rescheduled after a
	// transient failure.
	SettlementRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "settle_settlement_retries_total",
		Help: "Settlement jobs rescheduled after transient failure",
	})

	// DeadLetters counts jobs parked after exhausting retries or hitting a
	// fatal error.
	DeadLetters = promauto.NewCounter(prometheus.CounterOpts{
		Name: "settle_dead_letters_total",
		Help: "Settlement jobs moved to the dead-letter queue",
	})

	// OverdueTrades counts ACTIVE trades found past expiry by the
	// reconciliation sweep.
	OverdueTrades = promauto.NewCounter(prometheus.CounterOpts{
		Name: "settle_overdue_trades_total",
		Help: "Overdue ACTIVE trades re-driven by reconciliation",
	})

	// QueueScheduled, QueueProcessing, QueueDead export queue depths.
	QueueScheduled = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "settle_queue_scheduled",
		Help: "Settlement jobs waiting for their delay to elapse",
	})
	QueueProcessing = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "settle_queue_processing",
		Help: "Settlement jobs currently claimed by workers",
	})
	QueueDead = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "settle_queue_dead",
		Help: "Settlement jobs in the dead-letter queue",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "settle_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settle_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "settle_http_request_duration_seconds",
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
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the raw path for the label; routes here are low-cardinality.
		path := r.URL.Path
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
