package transport

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/perimeter-epitech/area/internal/observability"
	"github.com/perimeter-epitech/area/internal/session"
	"github.com/perimeter-epitech/area/model"
)

// sessionWriter persists session changes and applies the global 401 rule:
// any unauthorized reply from the backend drops the session token.
type sessionWriter struct {
	store   SessionStore
	metrics *observability.Metrics
	logger  *zap.Logger
}

// save writes the session cookie. It must run before the response body.
func (sw *sessionWriter) save(w http.ResponseWriter, r *http.Request, s *session.Session) {
	if err := sw.store.Save(w, r, s); err != nil {
		observability.RequestLogger(r.Context(), sw.logger).Error("failed to save session", zap.Error(err))
	}
}

// clear expires the session cookie.
func (sw *sessionWriter) clear(w http.ResponseWriter, r *http.Request, reason string) {
	if s := session.FromContext(r.Context()); s != nil {
		s.Invalidate()
	}
	if err := sw.store.Clear(w, r); err != nil {
		observability.RequestLogger(r.Context(), sw.logger).Error("failed to clear session", zap.Error(err))
	}
	sw.metrics.RecordSessionInvalidation(reason)
}

// invalidate drops the token but keeps the session id, and with it the
// composer draft, for the next login.
func (sw *sessionWriter) invalidate(w http.ResponseWriter, r *http.Request, reason string) {
	if s := session.FromContext(r.Context()); s != nil {
		s.Invalidate()
		sw.save(w, r, s)
	}
	sw.metrics.RecordSessionInvalidation(reason)
}

// fail writes err. An AuthError also drops the token so the next guarded
// page redirects to the login page.
func (sw *sessionWriter) fail(w http.ResponseWriter, r *http.Request, err error) {
	if model.IsUnauthorized(err) {
		sw.invalidate(w, r, "unauthorized")
	}
	if ee, ok := model.AsEnvelope(err); ok && ee.TraceID == "" {
		ee.TraceID = observability.TraceIDFromContext(r.Context())
	} else if !ok {
		observability.RequestLogger(r.Context(), sw.logger).Error("request failed", zap.Error(err))
	}
	WriteError(w, err)
}

// tokenReply is the part of a backend reply that carries a new token.
type tokenReply struct {
	Token string `json:"token"`
}

// adoptToken stores the token a backend reply carries, if any.
func adoptToken(s *session.Session, body json.RawMessage, username string) bool {
	var tr tokenReply
	if err := json.Unmarshal(body, &tr); err != nil || tr.Token == "" {
		return false
	}
	s.SetToken(tr.Token)
	if username != "" {
		s.Username = username
	}
	return true
}

// handleLogout drops the session. It never calls the backend.
func handleLogout(sw *sessionWriter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sw.clear(w, r, "logout")
		WriteJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
	}
}

// handleSession reports whether the browser is logged in, for the web
// client's guard checks.
func handleSession() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s := session.FromContext(r.Context())
		body := map[string]any{"authenticated": s.Authenticated()}
		if s.Username != "" {
			body["username"] = s.Username
		}
		if c, ok := s.TokenClaims(); ok {
			if c.UserID != "" {
				body["user_id"] = c.UserID
			}
			if !c.ExpiresAt.IsZero() {
				body["expires_at"] = c.ExpiresAt
			}
		}
		WriteJSON(w, http.StatusOK, body)
	}
}
