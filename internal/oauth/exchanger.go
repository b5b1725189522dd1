package oauth

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/perimeter-epitech/area/internal/observability"
	"github.com/perimeter-epitech/area/internal/provider"
	"github.com/perimeter-epitech/area/model"
)

// CallbackPoster is the backend call the exchanger needs.
type CallbackPoster interface {
	AuthCallback(ctx context.Context, service string, mobile bool, payload any, bearer string) (string, error)
}

// ExchangeError wraps a failed callback. Unwrap exposes the backend error
// so model.IsUnauthorized still sees a 401.
type ExchangeError struct {
	Provider string
	Err      error
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("oauth: exchange for %s: %v", e.Provider, e.Err)
}

func (e *ExchangeError) Unwrap() error { return e.Err }

// Exchanger posts an attempt's outcome to the backend.
type Exchanger struct {
	backend CallbackPoster
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewExchanger wraps a backend client.
func NewExchanger(backend CallbackPoster, metrics *observability.Metrics, logger *zap.Logger) *Exchanger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Exchanger{backend: backend, metrics: metrics, logger: logger}
}

// Exchange posts payload to /{service}/auth/callback[/mobile]. bearer is
// sent only when linking a service to an existing account. A returned token
// is the caller's new session token.
func (e *Exchanger) Exchange(ctx context.Context, p provider.Provider, payload any, bearer string) (string, error) {
	ctx, span := observability.StartSpan(ctx, "oauth.exchange",
		observability.AttrProvider.String(p.Name),
		observability.AttrLinking.Bool(bearer != ""),
	)
	token, err := e.backend.AuthCallback(ctx, p.Service, p.Mobile, payload, bearer)
	observability.EndSpanWithError(span, err)

	if err != nil {
		e.metrics.RecordOAuthExchange(p.Name, exchangeStatus(err))
		return "", &ExchangeError{Provider: p.Name, Err: err}
	}
	e.metrics.RecordOAuthExchange(p.Name, "ok")
	return token, nil
}

func exchangeStatus(err error) string {
	env, ok := model.AsEnvelope(err)
	if !ok {
		return "error"
	}
	if env.Code == model.ErrUnauthorized {
		return "unauthorized"
	}
	return env.Code
}
