// Package session holds the client's authentication state: the backend
// base URL, the bearer token, and the PKCE verifier of an OAuth attempt in
// progress. A Session is an explicit value passed through the request
// context; nothing in this package is global.
package session

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Session is the client's view of who is logged in.
type Session struct {
	ID           string `json:"id"`
	BaseURL      string `json:"base_url,omitempty"`
	Token        string `json:"token,omitempty"`
	CodeVerifier string `json:"code_verifier,omitempty"`
	Provider     string `json:"provider,omitempty"`
	Username     string `json:"username,omitempty"`

	// OAuthStartedAt is when the attempt in Provider began.
	OAuthStartedAt time.Time `json:"oauth_started_at,omitzero"`
}

// New returns an anonymous session with a fresh id.
func New(baseURL string) *Session {
	return &Session{ID: uuid.NewString(), BaseURL: baseURL}
}

// Authenticated reports whether a token is held.
func (s *Session) Authenticated() bool {
	return s != nil && s.Token != ""
}

// SetToken stores a new bearer token.
func (s *Session) SetToken(token string) {
	s.Token = token
}

// Invalidate drops everything tied to the current login. The id and base
// URL survive so the client keeps its identity for the next login.
func (s *Session) Invalidate() {
	s.Token = ""
	s.Username = ""
	s.CodeVerifier = ""
	s.Provider = ""
	s.OAuthStartedAt = time.Time{}
}

// BeginOAuth records the verifier of an attempt before the browser opens.
func (s *Session) BeginOAuth(provider, verifier string) {
	s.Provider = provider
	s.CodeVerifier = verifier
	s.OAuthStartedAt = time.Now()
}

// EndOAuth forgets the attempt.
func (s *Session) EndOAuth() {
	s.Provider = ""
	s.CodeVerifier = ""
	s.OAuthStartedAt = time.Time{}
}

// OAuthPending reports whether an attempt for provider began less than ttl
// before now and has not ended.
func (s *Session) OAuthPending(provider string, ttl time.Duration, now time.Time) bool {
	if s.Provider == "" || s.Provider != provider || s.OAuthStartedAt.IsZero() {
		return false
	}
	return now.Sub(s.OAuthStartedAt) < ttl
}

// Claims is what the client can read from a backend token without
// verifying it. The backend puts the user id in "jti".
type Claims struct {
	UserID    string
	ExpiresAt time.Time
}

// TokenClaims parses the token without checking its signature. The client
// never holds the signing key; the backend remains the authority. ok is
// false when the token is not a JWT.
func (s *Session) TokenClaims() (Claims, bool) {
	if s == nil || s.Token == "" {
		return Claims{}, false
	}
	tok, _, err := jwt.NewParser().ParseUnverified(s.Token, jwt.MapClaims{})
	if err != nil {
		return Claims{}, false
	}
	mc, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return Claims{}, false
	}
	var c Claims
	c.UserID, _ = mc["jti"].(string)
	if exp, err := mc.GetExpirationTime(); err == nil && exp != nil {
		c.ExpiresAt = exp.Time
	}
	return c, true
}

// Expired reports whether the token carries an exp claim in the past.
// Opaque tokens never expire client-side.
func (s *Session) Expired(now time.Time) bool {
	c, ok := s.TokenClaims()
	return ok && !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

type contextKey struct{}

// WithSession attaches s to ctx.
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, contextKey{}, s)
}

// FromContext returns the session attached to ctx, or nil.
func FromContext(ctx context.Context) *Session {
	s, _ := ctx.Value(contextKey{}).(*Session)
	return s
}
