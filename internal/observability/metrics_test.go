package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func newTestMetrics(t *testing.T) (*Metrics, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	m := InitMetrics(reg)
	return m, reg
}

func TestInitMetrics_registersAllMetrics(t *testing.T) {
	m, reg := newTestMetrics(t)
	if m == nil {
		t.Fatal("InitMetrics returned nil")
	}

	expected := []string{
		"area_http_requests_total",
		"area_http_request_duration_seconds",
		"area_http_request_size_bytes",
		"area_http_response_size_bytes",
		"area_backend_requests_total",
		"area_backend_request_duration_seconds",
		"area_backend_circuit_breaker_state",
		"area_oauth_attempts_total",
		"area_oauth_exchanges_total",
		"area_oauth_pending_attempts",
		"area_composer_transitions_total",
		"area_composer_submissions_total",
		"area_composer_submit_duration_seconds",
		"area_composer_restores_total",
		"area_session_invalidations_total",
	}

	// Record a value for each metric so they appear in Gather.
	m.RecordHTTPRequest("GET", "/test", 200, time.Millisecond, 0, 100)
	m.RecordBackendRequest("GET", "/area", 200, time.Millisecond)
	m.SetBackendCircuitBreakerState(0)
	m.RecordOAuthAttempt("github", "success")
	m.RecordOAuthExchange("github", "ok")
	m.SetOAuthPendingAttempts(1)
	m.RecordComposerTransition("action_chosen")
	m.RecordComposerSubmission("created", time.Millisecond)
	m.RecordComposerRestore("restored")
	m.RecordSessionInvalidation("unauthorized")

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}

	for _, name := range expected {
		if !names[name] {
			t.Errorf("metric %q not registered", name)
		}
	}
}

func TestMetrics_nilReceiverIsNoop(t *testing.T) {
	var m *Metrics
	m.RecordHTTPRequest("GET", "/", 200, time.Millisecond, 0, 0)
	m.RecordBackendRequest("GET", "/area", 200, time.Millisecond)
	m.SetBackendCircuitBreakerState(2)
	m.RecordOAuthAttempt("github", "cancelled")
	m.RecordOAuthExchange("github", "error")
	m.SetOAuthPendingAttempts(0)
	m.RecordComposerTransition("idle")
	m.RecordComposerSubmission("failed", time.Millisecond)
	m.RecordComposerRestore("discarded")
	m.RecordSessionInvalidation("logout")
}

func TestRecordHTTPRequest(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordHTTPRequest("POST", "/api/area/myareas", 200, 50*time.Millisecond, 20, 1024)
	m.RecordHTTPRequest("POST", "/api/area/myareas", 200, 100*time.Millisecond, 20, 2048)
	m.RecordHTTPRequest("POST", "/api/workflow/create", 500, 200*time.Millisecond, 512, 256)

	val := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("POST", "/api/area/myareas", "200"))
	if val != 2 {
		t.Errorf("myareas requests = %v, want 2", val)
	}
	val = testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("POST", "/api/workflow/create", "500"))
	if val != 1 {
		t.Errorf("create requests = %v, want 1", val)
	}
}

func TestRecordBackendRequest(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordBackendRequest("POST", "/area", 201, 100*time.Millisecond)

	val := testutil.ToFloat64(m.BackendRequestsTotal.WithLabelValues("POST", "/area", "201"))
	if val != 1 {
		t.Errorf("backend requests = %v, want 1", val)
	}
}

func TestSetBackendCircuitBreakerState(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.SetBackendCircuitBreakerState(0)
	if val := testutil.ToFloat64(m.BackendCircuitBreakerState); val != 0 {
		t.Errorf("circuit breaker state = %v, want 0 (closed)", val)
	}

	m.SetBackendCircuitBreakerState(2)
	if val := testutil.ToFloat64(m.BackendCircuitBreakerState); val != 2 {
		t.Errorf("circuit breaker state = %v, want 2 (open)", val)
	}
}

func TestRecordOAuthAttempt(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordOAuthAttempt("spotify", "in_progress")
	m.RecordOAuthAttempt("spotify", "in_progress")
	m.RecordOAuthAttempt("spotify", "success")

	if val := testutil.ToFloat64(m.OAuthAttemptsTotal.WithLabelValues("spotify", "in_progress")); val != 2 {
		t.Errorf("in_progress = %v, want 2", val)
	}
}

func TestRecordComposerSubmission(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordComposerSubmission("created", 10*time.Millisecond)
	m.RecordComposerSubmission("failed", 10*time.Millisecond)

	if val := testutil.ToFloat64(m.ComposerSubmissionsTotal.WithLabelValues("created")); val != 1 {
		t.Errorf("created = %v, want 1", val)
	}
	if count := testutil.CollectAndCount(m.ComposerSubmitDuration); count == 0 {
		t.Error("expected submit duration observations")
	}
}

func TestRecordSessionInvalidation(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordSessionInvalidation("unauthorized")
	if val := testutil.ToFloat64(m.SessionInvalidationsTotal.WithLabelValues("unauthorized")); val != 1 {
		t.Errorf("invalidations = %v, want 1", val)
	}
}

func TestMetricsMiddleware_recordsRequestMetrics(t *testing.T) {
	m, _ := newTestMetrics(t)

	// Build a chi router so route patterns are captured.
	r := chi.NewRouter()
	r.Use(m.MetricsMiddleware)
	r.Get("/api/oauth/{provider}/start", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	req := httptest.NewRequest(http.MethodGet, "/api/oauth/github/start", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	// Verify metrics were recorded with the route pattern, not the actual path.
	val := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/api/oauth/{provider}/start", "200"))
	if val != 1 {
		t.Errorf("requests total = %v, want 1", val)
	}
}

func TestMetricsMiddleware_capturesResponseSize(t *testing.T) {
	m, _ := newTestMetrics(t)

	r := chi.NewRouter()
	r.Use(m.MetricsMiddleware)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("healthy"))
	})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	// Response size should have been recorded.
	count := testutil.CollectAndCount(m.HTTPResponseSizeBytes)
	if count == 0 {
		t.Error("expected response size histogram to have observations")
	}
}

func TestMetricsMiddleware_capturesStatusCode(t *testing.T) {
	m, _ := newTestMetrics(t)

	r := chi.NewRouter()
	r.Use(m.MetricsMiddleware)
	r.Post("/api/composer/{step}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})

	req := httptest.NewRequest(http.MethodPost, "/api/composer/action", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	val := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("POST", "/api/composer/{step}", "400"))
	if val != 1 {
		t.Errorf("400 requests = %v, want 1", val)
	}
}

func TestMetricsMiddleware_fallsBackToPath(t *testing.T) {
	m, _ := newTestMetrics(t)

	// Use middleware directly without chi router.
	handler := m.MetricsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/raw/path", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	// Without chi, should fall back to raw path.
	val := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/raw/path", "200"))
	if val != 1 {
		t.Errorf("raw path requests = %v, want 1", val)
	}
}

func TestHandler_servesMetrics(t *testing.T) {
	handler := Handler()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	// Prometheus handler should return at least go runtime metrics.
	if !strings.Contains(body, "go_") {
		t.Error("metrics response should contain go runtime metrics")
	}
}

func TestHistogramBuckets(t *testing.T) {
	// Verify bucket configurations are correct.
	if len(httpDurationBuckets) != 11 {
		t.Errorf("httpDurationBuckets length = %d, want 11", len(httpDurationBuckets))
	}
	if len(backendDurationBuckets) != 9 {
		t.Errorf("backendDurationBuckets length = %d, want 9", len(backendDurationBuckets))
	}
	if len(bodySizeBuckets) != 5 {
		t.Errorf("bodySizeBuckets length = %d, want 5", len(bodySizeBuckets))
	}

	// Verify buckets are sorted ascending.
	for i := 1; i < len(httpDurationBuckets); i++ {
		if httpDurationBuckets[i] <= httpDurationBuckets[i-1] {
			t.Errorf("httpDurationBuckets not sorted at index %d", i)
		}
	}
}
