package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Histogram bucket definitions.
var (
	httpDurationBuckets    = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	backendDurationBuckets = []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}
	bodySizeBuckets        = []float64{100, 1024, 10240, 102400, 1048576}
)

// Metrics holds all Prometheus metric instruments for the BFF.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal     *prometheus.CounterVec
	HTTPRequestDuration   *prometheus.HistogramVec
	HTTPRequestSizeBytes  *prometheus.HistogramVec
	HTTPResponseSizeBytes *prometheus.HistogramVec

	// Backend invocation metrics
	BackendRequestsTotal       *prometheus.CounterVec
	BackendRequestDuration     *prometheus.HistogramVec
	BackendCircuitBreakerState prometheus.Gauge

	// OAuth metrics
	OAuthAttemptsTotal   *prometheus.CounterVec
	OAuthExchangesTotal  *prometheus.CounterVec
	OAuthPendingAttempts prometheus.Gauge

	// Composer metrics
	ComposerTransitionsTotal *prometheus.CounterVec
	ComposerSubmissionsTotal *prometheus.CounterVec
	ComposerSubmitDuration   prometheus.Histogram
	ComposerRestoresTotal    *prometheus.CounterVec

	// Session metrics
	SessionInvalidationsTotal *prometheus.CounterVec
}

// InitMetrics creates and registers all Prometheus metric instruments.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		// HTTP
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "area_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "area_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: httpDurationBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPRequestSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "area_http_request_size_bytes",
			Help:    "HTTP request body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPResponseSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "area_http_response_size_bytes",
			Help:    "HTTP response body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),

		// Backend
		BackendRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "area_backend_requests_total",
			Help: "Total number of Area API requests.",
		}, []string{"method", "route", "status"}),
		BackendRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "area_backend_request_duration_seconds",
			Help:    "Area API request duration in seconds.",
			Buckets: backendDurationBuckets,
		}, []string{"route"}),
		BackendCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "area_backend_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open).",
		}),

		// OAuth
		OAuthAttemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "area_oauth_attempts_total",
			Help: "Total OAuth authorization attempts by outcome.",
		}, []string{"provider", "outcome"}),
		OAuthExchangesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "area_oauth_exchanges_total",
			Help: "Total callback exchanges with the backend.",
		}, []string{"provider", "status"}),
		OAuthPendingAttempts: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "area_oauth_pending_attempts",
			Help: "Number of authorization attempts awaiting a redirect.",
		}),

		// Composer
		ComposerTransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "area_composer_transitions_total",
			Help: "Total composer state transitions by target stage.",
		}, []string{"stage"}),
		ComposerSubmissionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "area_composer_submissions_total",
			Help: "Total area submissions by status.",
		}, []string{"status"}),
		ComposerSubmitDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "area_composer_submit_duration_seconds",
			Help:    "Area submission duration in seconds.",
			Buckets: backendDurationBuckets,
		}),
		ComposerRestoresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "area_composer_restores_total",
			Help: "Total draft restores by result.",
		}, []string{"result"}),

		// Session
		SessionInvalidationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "area_session_invalidations_total",
			Help: "Total session invalidations by reason.",
		}, []string{"reason"}),
	}

	reg.MustRegister(
		// HTTP
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestSizeBytes,
		m.HTTPResponseSizeBytes,
		// Backend
		m.BackendRequestsTotal,
		m.BackendRequestDuration,
		m.BackendCircuitBreakerState,
		// OAuth
		m.OAuthAttemptsTotal,
		m.OAuthExchangesTotal,
		m.OAuthPendingAttempts,
		// Composer
		m.ComposerTransitionsTotal,
		m.ComposerSubmissionsTotal,
		m.ComposerSubmitDuration,
		m.ComposerRestoresTotal,
		// Session
		m.SessionInvalidationsTotal,
	)

	return m
}

// --- Recording helpers ---
//
// All helpers are safe to call on a nil *Metrics so packages can be used
// without a registry in tests and in the CLI.

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(method, pathPattern string, status int, duration time.Duration, reqSize, respSize int) {
	if m == nil {
		return
	}
	statusStr := strconv.Itoa(status)
	m.HTTPRequestsTotal.WithLabelValues(method, pathPattern, statusStr).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pathPattern).Observe(duration.Seconds())
	m.HTTPRequestSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(reqSize))
	m.HTTPResponseSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(respSize))
}

// RecordBackendRequest records an Area API request. Status 0 means the
// request never produced a response.
func (m *Metrics) RecordBackendRequest(method, route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.BackendRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.BackendRequestDuration.WithLabelValues(route).Observe(duration.Seconds())
}

// SetBackendCircuitBreakerState sets the circuit breaker state.
// State: 0=closed, 1=half-open, 2=open.
func (m *Metrics) SetBackendCircuitBreakerState(state float64) {
	if m == nil {
		return
	}
	m.BackendCircuitBreakerState.Set(state)
}

// RecordOAuthAttempt records the outcome of an authorization attempt.
func (m *Metrics) RecordOAuthAttempt(provider, outcome string) {
	if m == nil {
		return
	}
	m.OAuthAttemptsTotal.WithLabelValues(provider, outcome).Inc()
}

// RecordOAuthExchange records a callback exchange.
func (m *Metrics) RecordOAuthExchange(provider, status string) {
	if m == nil {
		return
	}
	m.OAuthExchangesTotal.WithLabelValues(provider, status).Inc()
}

// SetOAuthPendingAttempts sets the number of pending attempts.
func (m *Metrics) SetOAuthPendingAttempts(n int) {
	if m == nil {
		return
	}
	m.OAuthPendingAttempts.Set(float64(n))
}

// RecordComposerTransition records a composer moving into stage.
func (m *Metrics) RecordComposerTransition(stage string) {
	if m == nil {
		return
	}
	m.ComposerTransitionsTotal.WithLabelValues(stage).Inc()
}

// RecordComposerSubmission records an area submission.
func (m *Metrics) RecordComposerSubmission(status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.ComposerSubmissionsTotal.WithLabelValues(status).Inc()
	m.ComposerSubmitDuration.Observe(duration.Seconds())
}

// RecordComposerRestore records a draft restore.
func (m *Metrics) RecordComposerRestore(result string) {
	if m == nil {
		return
	}
	m.ComposerRestoresTotal.WithLabelValues(result).Inc()
}

// RecordSessionInvalidation records a cleared session.
func (m *Metrics) RecordSessionInvalidation(reason string) {
	if m == nil {
		return
	}
	m.SessionInvalidationsTotal.WithLabelValues(reason).Inc()
}

// --- HTTP Middleware ---

// MetricsMiddleware returns HTTP middleware that records request metrics using
// chi's route pattern (not the actual URL path) to avoid label cardinality
// explosion.
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &metricsResponseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		duration := time.Since(start)
		pathPattern := routePattern(r)
		reqSize := 0
		if r.ContentLength > 0 {
			reqSize = int(r.ContentLength)
		}

		m.RecordHTTPRequest(r.Method, pathPattern, sw.status, duration, reqSize, sw.bytes)
	})
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// routePattern extracts chi's route pattern from the request context.
// Falls back to the raw URL path if no pattern is found.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return r.URL.Path
	}
	pattern := strings.Join(rctx.RoutePatterns, "")
	// chi route patterns have trailing /*, remove it.
	pattern = strings.TrimSuffix(pattern, "/*")
	if pattern == "" {
		return r.URL.Path
	}
	return pattern
}

// metricsResponseWriter wraps http.ResponseWriter to capture status and bytes.
type metricsResponseWriter struct {
	http.ResponseWriter
	status  int
	bytes   int
	written bool
}

func (w *metricsResponseWriter) WriteHeader(code int) {
	if !w.written {
		w.status = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *metricsResponseWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.written = true
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}
