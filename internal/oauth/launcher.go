package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/perimeter-epitech/area/internal/observability"
	"github.com/perimeter-epitech/area/internal/provider"
)

// ErrUnknownState is returned by Complete when the state parameter does not
// match a pending attempt, either because it never existed or it expired.
var ErrUnknownState = errors.New("oauth: unknown or expired state")

// ErrExpired is returned by Authorize when no redirect arrived in time.
var ErrExpired = errors.New("oauth: authorization attempt expired")

// Opener shows the authorization URL to the user.
type Opener func(ctx context.Context, authURL string) error

// Attempt is one pending authorization.
type Attempt struct {
	Key       string
	State     string
	Provider  provider.Provider
	Verifier  string
	URL       string
	Linking   bool
	CreatedAt time.Time

	// bearer is the session token to report an abandoned link attempt
	// with. inProcess attempts have a Wait caller that reports for them.
	bearer    string
	inProcess bool

	// done receives exactly one result, from whoever claims the attempt.
	done    chan AuthResult
	claimed atomic.Bool
}

// ExpiryHook is told about attempts that expired without a redirect and
// without anyone waiting on them.
type ExpiryHook func(a *Attempt, r AuthResult)

type beginOptions struct {
	bearer    string
	inProcess bool
}

// Launcher starts authorization attempts and matches redirects to them.
// At most one attempt per key is pending at a time.
type Launcher struct {
	registry *provider.Registry
	ttl      time.Duration
	pending  *cache.Cache

	mu       sync.Mutex
	inflight map[string]string // key → state
	onExpire ExpiryHook

	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewLauncher returns a launcher whose attempts expire after ttl.
func NewLauncher(registry *provider.Registry, ttl time.Duration, metrics *observability.Metrics, logger *zap.Logger) *Launcher {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Launcher{
		registry: registry,
		ttl:      ttl,
		pending:  cache.New(ttl, ttl/2),
		inflight: make(map[string]string),
		metrics:  metrics,
		logger:   logger,
	}
	l.pending.OnEvicted(l.release)
	return l
}

// AttemptKey scopes the in-progress guard to one session and provider.
func AttemptKey(sessionID, providerName string) string {
	return sessionID + ":" + providerName
}

// OnExpire installs the hook run for expired attempts.
func (l *Launcher) OnExpire(hook ExpiryHook) {
	l.mu.Lock()
	l.onExpire = hook
	l.mu.Unlock()
}

// Begin registers a new attempt and returns the authorization URL to open.
// A second Begin for the same key while the first is pending is refused
// with OAUTH_IN_PROGRESS.
func (l *Launcher) Begin(key, providerName string, linking bool) (*Attempt, error) {
	return l.begin(key, providerName, linking, beginOptions{})
}

func (l *Launcher) begin(key, providerName string, linking bool, opts beginOptions) (*Attempt, error) {
	p, err := l.registry.Lookup(providerName)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	if state, ok := l.inflight[key]; ok {
		if _, live := l.pending.Get(state); live {
			l.mu.Unlock()
			l.metrics.RecordOAuthAttempt(providerName, string(OutcomeInProgress))
			return nil, errInProgress()
		}
		delete(l.inflight, key)
	}

	a := &Attempt{
		Key:       key,
		State:     uuid.NewString(),
		Provider:  p,
		Linking:   linking,
		CreatedAt: time.Now(),
		bearer:    opts.bearer,
		inProcess: opts.inProcess,
		done:      make(chan AuthResult, 1),
	}
	var authOpts []oauth2.AuthCodeOption
	if p.PKCE {
		a.Verifier = oauth2.GenerateVerifier()
		authOpts = append(authOpts, oauth2.S256ChallengeOption(a.Verifier))
	}
	a.URL = p.OAuth2Config().AuthCodeURL(a.State, authOpts...)

	l.pending.Set(a.State, a, cache.DefaultExpiration)
	l.inflight[key] = a.State
	l.mu.Unlock()

	l.metrics.SetOAuthPendingAttempts(l.pending.ItemCount())
	l.logger.Debug("oauth attempt started",
		zap.String("provider", providerName),
		zap.Bool("linking", linking),
	)
	return a, nil
}

// Complete matches a redirect to its attempt and classifies it. The attempt
// is consumed whatever the outcome.
func (l *Launcher) Complete(state string, params url.Values) (AuthResult, error) {
	v, ok := l.pending.Get(state)
	if state == "" || !ok {
		return AuthResult{}, ErrUnknownState
	}
	a := v.(*Attempt)
	if !a.claimed.CompareAndSwap(false, true) {
		return AuthResult{}, ErrUnknownState
	}
	l.pending.Delete(state)

	r := Classify(params)
	r.Provider = a.Provider.Name
	r.CodeVerifier = a.Verifier
	r.RedirectURI = a.Provider.RedirectURI
	r.Linking = a.Linking

	a.done <- r
	l.metrics.RecordOAuthAttempt(r.Provider, string(r.Outcome))
	return r, nil
}

// Cancel abandons a pending attempt. The caller owns reporting it.
func (l *Launcher) Cancel(state string) {
	if v, ok := l.pending.Get(state); ok {
		v.(*Attempt).claimed.Store(true)
	}
	l.pending.Delete(state)
}

// Authorize runs a whole attempt in-process: Begin, open the URL, then
// wait for Complete to be called from the redirect listener.
func (l *Launcher) Authorize(ctx context.Context, key, providerName string, linking bool, open Opener) (AuthResult, error) {
	a, err := l.begin(key, providerName, linking, beginOptions{inProcess: true})
	if err != nil {
		if IsInProgress(err) {
			return AuthResult{Outcome: OutcomeInProgress, Provider: providerName}, err
		}
		return AuthResult{}, err
	}
	if err := open(ctx, a.URL); err != nil {
		l.Cancel(a.State)
		return AuthResult{}, fmt.Errorf("oauth: open authorization page: %w", err)
	}
	return l.Wait(ctx, a)
}

// Wait blocks until a's redirect is completed, ctx ends, or it expires.
// When Wait gives up first it returns ctx.Err() or ErrExpired and the
// caller reports the abandoned attempt; otherwise it returns whatever
// result claimed the attempt, including an expiry.
func (l *Launcher) Wait(ctx context.Context, a *Attempt) (AuthResult, error) {
	timer := time.NewTimer(time.Until(a.CreatedAt.Add(l.ttl)))
	defer timer.Stop()

	var err error
	select {
	case r := <-a.done:
		return r, nil
	case <-ctx.Done():
		err = ctx.Err()
	case <-timer.C:
		err = ErrExpired
	}
	if a.claimed.CompareAndSwap(false, true) {
		l.pending.Delete(a.State)
		return AuthResult{}, err
	}
	return <-a.done, nil
}

// Pending returns the attempt for state without consuming it.
func (l *Launcher) Pending(state string) (*Attempt, bool) {
	v, ok := l.pending.Get(state)
	if !ok {
		return nil, false
	}
	return v.(*Attempt), true
}

// release runs when an attempt leaves the cache, by Complete, Cancel, Wait
// or expiry. Only an expiry still finds the attempt unclaimed.
func (l *Launcher) release(state string, v any) {
	a := v.(*Attempt)
	l.mu.Lock()
	if l.inflight[a.Key] == state {
		delete(l.inflight, a.Key)
	}
	hook := l.onExpire
	l.mu.Unlock()
	l.metrics.SetOAuthPendingAttempts(l.pending.ItemCount())

	if !a.claimed.CompareAndSwap(false, true) {
		return
	}
	r := expiredResult(a)
	a.done <- r
	l.metrics.RecordOAuthAttempt(r.Provider, string(r.Outcome))
	l.logger.Debug("oauth attempt expired", zap.String("provider", r.Provider))
	if !a.inProcess && hook != nil {
		go hook(a, r)
	}
}

func expiredResult(a *Attempt) AuthResult {
	return AuthResult{
		Outcome:       OutcomeCancelled,
		Provider:      a.Provider.Name,
		ProviderError: "expired",
		Description:   "No redirect arrived before the attempt expired",
		Linking:       a.Linking,
	}
}
