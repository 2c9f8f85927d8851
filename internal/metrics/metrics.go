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
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bloodlink_http_requests_total",
			Help: "Total HTTP requests by method, route, and status",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bloodlink_http_request_duration_seconds",
			Help:    "HTTP request latency distribution",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"method", "path"},
	)

	requestsSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bloodlink_blood_requests_total",
			Help: "Blood requests submitted by outcome",
		},
		[]string{"outcome"},
	)

	donorsMatched = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bloodlink_donors_matched",
			Help:    "Eligible donors per blood request",
			Buckets: []float64{0, 1, 5, 10, 50, 100, 500, 1000, 5000},
		},
	)

	notificationsRecorded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bloodlink_notifications_recorded_total",
			Help: "Notification history records written",
		},
	)

	pushResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bloodlink_push_results_total",
			Help: "Per-token push results by outcome and provider error code",
		},
		[]string{"result", "code"},
	)

	pushBatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bloodlink_push_batch_duration_seconds",
			Help:    "Time spent in one provider multicast call",
			Buckets: []float64{.05, .1, .25, .5, 1, 2, 5, 10, 30},
		},
	)

	tokenHealthEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bloodlink_token_health_events_total",
			Help: "Token health events handled by action",
		},
		[]string{"action"},
	)

	sqsMessagesInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bloodlink_sqs_messages_in_flight",
			Help: "Current messages being processed from SQS",
		},
	)

	idempotencyHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bloodlink_idempotency_hits_total",
			Help: "Requests served from idempotency cache",
		},
	)

	breakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bloodlink_circuit_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 open, 2 half-open)",
		},
		[]string{"name"},
	)

	dbConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bloodlink_db_connections_active",
			Help: "Active database connections",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest records HTTP request metrics
func RecordRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordBloodRequest records how a submission ended: accepted, invalid or unavailable.
func RecordBloodRequest(outcome string) {
	requestsSubmitted.WithLabelValues(outcome).Inc()
}

// RecordDonorsMatched records the size of one notify-list.
func RecordDonorsMatched(n int) {
	donorsMatched.Observe(float64(n))
}

// RecordNotificationsRecorded counts history records written.
func RecordNotificationsRecorded(n int) {
	notificationsRecorded.Add(float64(n))
}

// RecordPushResult counts one token's delivery result.
func RecordPushResult(success bool, code string) {
	result := "success"
	if !success {
		result = "failure"
	}
	pushResults.WithLabelValues(result, code).Inc()
}

// RecordPushBatch records the latency of one multicast call.
func RecordPushBatch(d time.Duration) {
	pushBatchDuration.Observe(d.Seconds())
}

// RecordTokenHealth counts a token-health event by the action taken.
func RecordTokenHealth(action string) {
	tokenHealthEvents.WithLabelValues(action).Inc()
}

// SetSQSMessagesInFlight sets the current in-flight message count
func SetSQSMessagesInFlight(count int) {
	sqsMessagesInFlight.Set(float64(count))
}

// RecordIdempotencyHit records a cache hit for idempotency
func RecordIdempotencyHit() {
	idempotencyHits.Inc()
}

// SetBreakerState exports a circuit breaker's state.
func SetBreakerState(name string, state int) {
	breakerState.WithLabelValues(name).Set(float64(state))
}

// SetDBConnections sets active database connection count
func SetDBConnections(count int) {
	dbConnectionsActive.Set(float64(count))
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware returns HTTP middleware that records request metrics. Paths are
// labelled by chi route pattern so ids do not explode label cardinality.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		RecordRequest(r.Method, path, wrapped.status, time.Since(start))
	})
}
