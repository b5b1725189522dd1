package model

import (
	"context"
	"strings"
)

// RequestContext carries per-request identity and tracing information. The
// bearer token is whatever the caller or its session supplied; the BFF never
// validates it and only forwards it to the backend.
type RequestContext struct {
	Token         string
	SessionID     string
	Username      string
	CorrelationID string
	TraceID       string
	SpanID        string
}

// Authenticated reports whether the request carries a bearer token.
func (rc *RequestContext) Authenticated() bool {
	return rc != nil && rc.Token != ""
}

// BearerToken strips an optional "Bearer " prefix from an Authorization
// header value.
func BearerToken(header string) string {
	header = strings.TrimSpace(header)
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return header
}

type contextKey struct{}

// WithRequestContext attaches a RequestContext to the given context.
func WithRequestContext(ctx context.Context, rctx *RequestContext) context.Context {
	return context.WithValue(ctx, contextKey{}, rctx)
}

// RequestContextFrom extracts the RequestContext from the context, or returns nil
// if not present.
func RequestContextFrom(ctx context.Context) *RequestContext {
	rctx, _ := ctx.Value(contextKey{}).(*RequestContext)
	return rctx
}

// MustRequestContext extracts the RequestContext from the context, panicking if
// it is not present. This is safe to call in handlers that are guaranteed to run
// behind the session middleware.
func MustRequestContext(ctx context.Context) *RequestContext {
	rctx := RequestContextFrom(ctx)
	if rctx == nil {
		panic("model: RequestContext not found in context")
	}
	return rctx
}
