package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/perimeter-epitech/area/internal/observability"
	"github.com/perimeter-epitech/area/internal/provider"
	"github.com/perimeter-epitech/area/internal/session"
	"github.com/perimeter-epitech/area/model"
)

// TokenRedeemer trades a code for a provider token client-side, for
// providers whose exchange mode is "token".
type TokenRedeemer func(ctx context.Context, p provider.Provider, code, verifier string) (string, error)

// Flow ties the launcher and exchanger to a Session.
type Flow struct {
	launcher  *Launcher
	exchanger *Exchanger
	redeem    TokenRedeemer
	metrics   *observability.Metrics
	logger    *zap.Logger
}

// NewFlow builds a flow. redeem may be nil to use the provider's token
// endpoint through golang.org/x/oauth2.
func NewFlow(launcher *Launcher, exchanger *Exchanger, redeem TokenRedeemer, metrics *observability.Metrics, logger *zap.Logger) *Flow {
	if redeem == nil {
		redeem = redeemWithOAuth2
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	f := &Flow{launcher: launcher, exchanger: exchanger, redeem: redeem, metrics: metrics, logger: logger}
	launcher.OnExpire(f.expired)
	return f
}

// reportTimeout bounds the callback for an attempt nobody is waiting on.
const reportTimeout = 10 * time.Second

// Launcher exposes the underlying launcher.
func (f *Flow) Launcher() *Launcher { return f.launcher }

// Start begins an attempt for sess and records its verifier in the session
// before the caller opens the browser. linking asks the backend to attach
// the service to the logged-in account rather than log in with it.
func (f *Flow) Start(sess *session.Session, providerName string, linking bool) (*Attempt, error) {
	return f.start(sess, providerName, linking, false)
}

func (f *Flow) start(sess *session.Session, providerName string, linking, inProcess bool) (*Attempt, error) {
	if linking && !sess.Authenticated() {
		return nil, model.NewUnauthorizedError("Log in before connecting a service")
	}
	opts := beginOptions{inProcess: inProcess}
	if linking {
		opts.bearer = sess.Token
	}
	a, err := f.launcher.begin(AttemptKey(sess.ID, providerName), providerName, linking, opts)
	if err != nil {
		return nil, err
	}
	sess.BeginOAuth(providerName, a.Verifier)
	return a, nil
}

// Finish completes the attempt named by state and reports it to the
// backend. On success the session receives the returned token; on any
// failure the session is left as it was, except that a backend 401 logs
// the user out.
func (f *Flow) Finish(ctx context.Context, sess *session.Session, state string, params url.Values) (AuthResult, error) {
	attempt, ok := f.launcher.Pending(state)
	if !ok || attempt.Key != AttemptKey(sess.ID, attempt.Provider.Name) {
		return AuthResult{}, model.NewOAuthError(model.ErrOAuthError, "Unknown or expired authorization attempt")
	}
	result, err := f.launcher.Complete(state, params)
	if err != nil {
		return AuthResult{}, model.NewOAuthError(model.ErrOAuthError, "Unknown or expired authorization attempt")
	}
	return f.report(ctx, sess, attempt.Provider, result)
}

// Connect runs a whole attempt in-process and reports it. Used by the
// native client, which owns the redirect listener. An attempt abandoned
// through ctx or expiry is reported as cancelled and Connect returns the
// ctx error or ErrExpired.
func (f *Flow) Connect(ctx context.Context, sess *session.Session, providerName string, linking bool, open Opener) (AuthResult, error) {
	a, err := f.start(sess, providerName, linking, true)
	if err != nil {
		if IsInProgress(err) {
			return AuthResult{Outcome: OutcomeInProgress, Provider: providerName}, err
		}
		return AuthResult{}, err
	}
	if err := open(ctx, a.URL); err != nil {
		f.launcher.Cancel(a.State)
		sess.EndOAuth()
		return AuthResult{}, fmt.Errorf("oauth: open authorization page: %w", err)
	}
	result, err := f.launcher.Wait(ctx, a)
	if err != nil {
		abandoned := expiredResult(a)
		if !errors.Is(err, ErrExpired) {
			abandoned.ProviderError = "cancelled"
			abandoned.Description = "The client stopped waiting for the redirect"
		}
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), reportTimeout)
		defer cancel()
		abandoned, _ = f.report(rctx, sess, a.Provider, abandoned)
		return abandoned, err
	}
	return f.report(ctx, sess, a.Provider, result)
}

// expired reports an attempt that timed out with no one waiting on it.
func (f *Flow) expired(a *Attempt, r AuthResult) {
	ctx, cancel := context.WithTimeout(context.Background(), reportTimeout)
	defer cancel()
	log := f.logger.With(zap.String("provider", a.Provider.Name))
	if _, err := f.exchanger.Exchange(ctx, a.Provider, r.failurePayload(), a.bearer); err != nil {
		log.Warn("failed to report expired oauth attempt", zap.Error(err))
		return
	}
	log.Info("oauth attempt expired")
}

func (f *Flow) report(ctx context.Context, sess *session.Session, p provider.Provider, result AuthResult) (AuthResult, error) {
	ctx, span := observability.StartSpan(ctx, "oauth.flow",
		observability.AttrProvider.String(p.Name),
		observability.AttrOAuthOutcome.String(string(result.Outcome)),
		observability.AttrLinking.Bool(result.Linking),
	)
	defer span.End()

	log := observability.RequestLogger(ctx, f.logger).With(
		zap.String("provider", p.Name),
		zap.String("outcome", string(result.Outcome)),
	)
	defer sess.EndOAuth()

	bearer := ""
	if result.Linking {
		bearer = sess.Token
	}

	if result.Outcome != OutcomeSuccess {
		// The backend hears about every attempt; its reply only matters
		// for a 401.
		if _, err := f.exchanger.Exchange(ctx, p, result.failurePayload(), bearer); err != nil {
			f.handleUnauthorized(sess, err)
		}
		log.Info("oauth attempt did not succeed", zap.String("provider_error", result.ProviderError))
		return result, result.Err()
	}

	payload, err := f.successPayload(ctx, p, result)
	if err != nil {
		log.Warn("oauth token redemption failed", zap.Error(err))
		result.Outcome = OutcomeError
		result.Description = err.Error()
		return result, model.NewOAuthError(model.ErrOAuthError, "Could not redeem the authorization code")
	}

	token, err := f.exchanger.Exchange(ctx, p, payload, bearer)
	if err != nil {
		f.handleUnauthorized(sess, err)
		log.Warn("oauth exchange failed", zap.Error(err))
		return result, err
	}

	sess.SetToken(token)
	log.Info("oauth attempt succeeded")
	return result, nil
}

// successPayload builds the callback body. Code-mode providers send the
// code (and verifier) for the backend to redeem. Token-mode providers
// redeem first and send {"token": ...}.
func (f *Flow) successPayload(ctx context.Context, p provider.Provider, r AuthResult) (map[string]string, error) {
	if r.Token != "" {
		return map[string]string{"token": r.Token}, nil
	}
	if p.Exchange == provider.ExchangeToken {
		tok, err := f.redeem(ctx, p, r.Code, r.CodeVerifier)
		if err != nil {
			return nil, err
		}
		return map[string]string{"token": tok}, nil
	}
	payload := map[string]string{"code": r.Code}
	if r.CodeVerifier != "" {
		payload["code_verifier"] = r.CodeVerifier
	}
	if r.RedirectURI != "" {
		payload["redirect_uri"] = r.RedirectURI
	}
	return payload, nil
}

func (f *Flow) handleUnauthorized(sess *session.Session, err error) {
	if model.IsUnauthorized(err) {
		sess.Invalidate()
		f.metrics.RecordSessionInvalidation("oauth_callback")
	}
}

func redeemWithOAuth2(ctx context.Context, p provider.Provider, code, verifier string) (string, error) {
	var opts []oauth2.AuthCodeOption
	if verifier != "" {
		opts = append(opts, oauth2.VerifierOption(verifier))
	}
	tok, err := p.OAuth2Config().Exchange(ctx, code, opts...)
	if err != nil {
		return "", err
	}
	if tok.AccessToken == "" {
		return "", errors.New("token endpoint returned no access token")
	}
	return tok.AccessToken, nil
}
