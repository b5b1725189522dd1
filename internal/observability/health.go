package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Build-time variables injected via ldflags.
var (
	Version = "dev"
	Commit  = "unknown"
)

// HealthResponse is the JSON response for the liveness endpoint.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Commit  string `json:"commit"`
}

// ReadinessResponse is the JSON response for the readiness endpoint.
type ReadinessResponse struct {
	Status string                 `json:"status"`
	Checks map[string]CheckResult `json:"checks"`
}

// CheckResult is the result of a single readiness check.
type CheckResult struct {
	Status    string `json:"status"`
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// HealthChecker can verify its own health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// ReadinessChecks lists what /readyz checks. Backend is required; the
// draft store and submit guard are checked when set.
type ReadinessChecks struct {
	Backend     HealthChecker
	DraftStore  HealthChecker
	SubmitGuard HealthChecker
}

const checkTimeout = 2 * time.Second

// HandleHealth returns an HTTP handler for the liveness endpoint.
func HandleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(HealthResponse{
			Status:  "ok",
			Version: Version,
			Commit:  Commit,
		})
	}
}

// HandleReady checks every configured dependency in parallel. The BFF is
// ready only when all of them answer within checkTimeout.
func HandleReady(checks ReadinessChecks) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checkers := map[string]HealthChecker{"backend": checks.Backend}
		if checks.DraftStore != nil {
			checkers["draft_store"] = checks.DraftStore
		}
		if checks.SubmitGuard != nil {
			checkers["submit_guard"] = checks.SubmitGuard
		}

		var (
			mu      sync.Mutex
			results = make(map[string]CheckResult, len(checkers))
		)
		var g errgroup.Group
		for name, checker := range checkers {
			name, checker := name, checker
			g.Go(func() error {
				res := CheckResult{Status: "error", Error: "no backend configured"}
				if checker != nil {
					res = runCheck(r.Context(), checker)
				}
				mu.Lock()
				results[name] = res
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()

		body := ReadinessResponse{Status: "ready", Checks: results}
		code := http.StatusOK
		for _, res := range results {
			if res.Status != "ok" {
				body.Status = "not_ready"
				code = http.StatusServiceUnavailable
				break
			}
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(body)
	}
}

// runCheck executes a health check with a per-check timeout.
func runCheck(parent context.Context, checker HealthChecker) CheckResult {
	ctx, cancel := context.WithTimeout(parent, checkTimeout)
	defer cancel()

	start := time.Now()
	err := checker.HealthCheck(ctx)
	latency := time.Since(start).Milliseconds()

	if err != nil {
		return CheckResult{
			Status:    "error",
			LatencyMs: latency,
			Error:     err.Error(),
		}
	}
	return CheckResult{
		Status:    "ok",
		LatencyMs: latency,
	}
}
