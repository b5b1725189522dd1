// Package backend is the HTTP client for the Area REST API. It attaches the
// bearer token, propagates trace headers, and turns every failure into one
// of the model error envelopes: AuthError for 401, UpstreamError for other
// non-2xx replies or an {error} body, NetworkError when no reply arrives.
// It never retries.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/perimeter-epitech/area/internal/config"
	"github.com/perimeter-epitech/area/internal/observability"
	"github.com/perimeter-epitech/area/model"
)

// Request is one call to the Area API.
type Request struct {
	Method string
	// Path is relative to the API base, e.g. "/area-result/12".
	Path string
	// Route is the path template used for metrics and spans, e.g.
	// "/area-result/{id}". Defaults to Path.
	Route string
	// Token is sent as "Authorization: Bearer <Token>" when non-empty.
	Token string
	// Body is JSON-encoded unless it is already a json.RawMessage.
	Body any
}

// Response is a successful reply.
type Response struct {
	Status int
	Body   json.RawMessage
}

// Decode unmarshals the reply body into v.
func (r Response) Decode(v any) error {
	if len(r.Body) == 0 {
		return fmt.Errorf("backend: empty response body")
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("backend: decode response: %w", err)
	}
	return nil
}

// Client talks to the Area API.
type Client struct {
	baseURL string
	http    *http.Client
	breaker *CircuitBreaker
	maxBody int64
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewClient builds a Client from backend configuration. metrics and logger
// may be nil.
func NewClient(cfg config.BackendConfig, metrics *observability.Metrics, logger *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 10 << 20
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxConnsPerHost:     50,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}

	cb := cfg.CircuitBreaker
	breaker := NewCircuitBreaker(cb.FailureThreshold, cb.SuccessThreshold, cb.Timeout)
	breaker.OnStateChange(func(s BreakerState) {
		metrics.SetBackendCircuitBreakerState(float64(s))
		if s == BreakerOpen {
			logger.Warn("backend circuit breaker opened")
		}
	})

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    &http.Client{Timeout: timeout, Transport: transport},
		breaker: breaker,
		maxBody: maxBody,
		metrics: metrics,
		logger:  logger,
	}
}

// BaseURL returns the configured API base.
func (c *Client) BaseURL() string { return c.baseURL }

// Breaker exposes the circuit breaker for diagnostics.
func (c *Client) Breaker() *CircuitBreaker { return c.breaker }

// Do executes req once. On success the reply status is 2xx and its body
// carries no "error" field.
func (c *Client) Do(ctx context.Context, req Request) (Response, error) {
	route := req.Route
	if route == "" {
		route = req.Path
	}

	ctx, span := observability.StartSpan(ctx, "backend.request",
		observability.AttrBackendRoute.String(route),
	)
	resp, err := c.do(ctx, req, route)
	observability.EndSpanWithError(span, err)
	return resp, err
}

func (c *Client) do(ctx context.Context, req Request, route string) (Response, error) {
	if err := c.breaker.Allow(); err != nil {
		return Response{}, model.NewBackendUnavailableError()
	}

	var body io.Reader
	if req.Body != nil {
		var b []byte
		switch v := req.Body.(type) {
		case json.RawMessage:
			b = v
		case []byte:
			b = v
		default:
			var err error
			if b, err = json.Marshal(v); err != nil {
				return Response{}, fmt.Errorf("backend: marshal body: %w", err)
			}
		}
		body = bytes.NewReader(b)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, c.baseURL+req.Path, body)
	if err != nil {
		return Response{}, fmt.Errorf("backend: build request: %w", err)
	}
	c.setHeaders(ctx, httpReq, req)

	start := time.Now()
	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		c.breaker.RecordFailure()
		c.metrics.RecordBackendRequest(req.Method, route, 0, time.Since(start))
		return Response{}, classifyTransportError(ctx, err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, c.maxBody))
	c.metrics.RecordBackendRequest(req.Method, route, httpResp.StatusCode, time.Since(start))
	if err != nil {
		c.breaker.RecordFailure()
		return Response{}, model.NewNetworkError()
	}

	// 4xx are the caller's problem, not the backend's.
	if httpResp.StatusCode >= 500 {
		c.breaker.RecordFailure()
	} else {
		c.breaker.RecordSuccess()
	}

	if httpResp.StatusCode == http.StatusUnauthorized {
		return Response{}, model.NewUnauthorizedError(upstreamMessage(raw, "Unauthorized"))
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		return Response{}, model.NewUpstreamError(httpResp.StatusCode, upstreamMessage(raw, ""))
	}
	if msg, ok := bodyError(raw); ok {
		return Response{}, model.NewUpstreamError(http.StatusInternalServerError, msg)
	}

	return Response{Status: httpResp.StatusCode, Body: raw}, nil
}

func (c *Client) setHeaders(ctx context.Context, httpReq *http.Request, req Request) {
	h := httpReq.Header
	h.Set("Accept", "application/json")
	if req.Body != nil {
		h.Set("Content-Type", "application/json")
	}
	if req.Token != "" {
		h.Set("Authorization", "Bearer "+sanitizeHeader(req.Token))
	}
	if rctx := model.RequestContextFrom(ctx); rctx != nil && rctx.CorrelationID != "" {
		h.Set("X-Correlation-Id", sanitizeHeader(rctx.CorrelationID))
	}
	observability.InjectTraceHeaders(ctx, h)
}

// HealthCheck reports whether the API answers at all. Any HTTP reply,
// including an error status, counts as reachable.
func (c *Client) HealthCheck(ctx context.Context) error {
	_, err := c.Do(ctx, Request{Method: http.MethodGet, Path: "/service/info"})
	if err == nil {
		return nil
	}
	if env, ok := model.AsEnvelope(err); ok {
		switch env.Code {
		case model.ErrUpstreamError, model.ErrUnauthorized:
			return nil
		}
	}
	return err
}

// sanitizeHeader strips newlines and carriage returns to prevent header injection.
func sanitizeHeader(s string) string {
	s = strings.ReplaceAll(s, "\r", "")
	s = strings.ReplaceAll(s, "\n", "")
	return s
}

// upstreamMessage pulls a human message out of an error reply.
func upstreamMessage(raw []byte, fallback string) string {
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &body) == nil {
		if body.Error != "" {
			return body.Error
		}
		if body.Message != "" {
			return body.Message
		}
	}
	return fallback
}

// bodyError reports a non-empty "error" field in an object reply.
func bodyError(raw []byte) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return "", false
	}
	var body struct {
		Error json.RawMessage `json:"error"`
	}
	if json.Unmarshal(raw, &body) != nil || len(body.Error) == 0 {
		return "", false
	}
	var s string
	if json.Unmarshal(body.Error, &s) == nil {
		if s == "" {
			return "", false
		}
		return s, true
	}
	if string(body.Error) == "null" || string(body.Error) == "false" {
		return "", false
	}
	return string(body.Error), true
}

func classifyTransportError(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded {
		return model.NewBackendTimeoutError()
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return model.NewBackendTimeoutError()
	}
	return model.NewNetworkError()
}
