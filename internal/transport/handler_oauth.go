package transport

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/perimeter-epitech/area/internal/oauth"
	"github.com/perimeter-epitech/area/internal/observability"
	"github.com/perimeter-epitech/area/internal/provider"
	"github.com/perimeter-epitech/area/internal/session"
	"github.com/perimeter-epitech/area/model"
)

// Where the browser lands after an OAuth redirect.
const (
	afterOAuthSuccess = "/myareas"
	afterOAuthFailure = model.LoginPath
)

// handleOAuthStart begins an attempt and sends the browser to the provider.
// mode=link attaches the service to the logged-in account; anything else
// logs in with it.
func handleOAuthStart(flow *oauth.Flow, sw *sessionWriter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess := session.FromContext(r.Context())
		name := chi.URLParam(r, "provider")
		linking := r.URL.Query().Get("mode") == "link"

		a, err := flow.Start(sess, name, linking)
		if errors.Is(err, provider.ErrNotFound) {
			WriteNotFound(w, "unknown provider "+name)
			return
		}
		if err != nil {
			sw.fail(w, r, err)
			return
		}

		sw.save(w, r, sess)
		http.Redirect(w, r, a.URL, http.StatusFound)
	}
}

// handleOAuthRedirect receives the provider's redirect, reports it to the
// backend and sends the browser on. Failures land on the login page with
// the outcome code in the query.
func handleOAuthRedirect(flow *oauth.Flow, sw *sessionWriter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess := session.FromContext(r.Context())
		params := r.URL.Query()

		result, err := flow.Finish(r.Context(), sess, params.Get("state"), params)
		if err != nil {
			observability.RequestLogger(r.Context(), sw.logger).Info("oauth redirect failed",
				zap.String("provider", result.Provider),
				zap.Error(err),
			)
			if model.IsUnauthorized(err) {
				sw.invalidate(w, r, "unauthorized")
			} else {
				sw.save(w, r, sess)
			}
			code := model.ErrOAuthError
			if ee, ok := model.AsEnvelope(err); ok {
				code = ee.Code
			}
			target := afterOAuthFailure
			if result.Linking && sess.Authenticated() {
				target = afterOAuthSuccess
			}
			http.Redirect(w, r, target+"?"+url.Values{"error": {code}}.Encode(), http.StatusFound)
			return
		}

		sw.save(w, r, sess)
		http.Redirect(w, r, afterOAuthSuccess, http.StatusFound)
	}
}

// handleServiceRedirect returns the backend's authorization link for a
// service. The link is built from the service name only.
func handleServiceRedirect(client LinkFetcher, sw *sessionWriter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		in, err := decodeProxyInput(r)
		if err != nil {
			sw.fail(w, r, err)
			return
		}
		if missing := in.missing([]string{"service"}); len(missing) > 0 {
			WriteMissingParameters(w, missing...)
			return
		}
		service, err := in.serviceName("service")
		if err != nil {
			sw.fail(w, r, err)
			return
		}
		link, err := client.AuthLink(r.Context(), service, in.token)
		if err != nil {
			sw.fail(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]string{"authentication_url": link})
	}
}

// LinkFetcher asks the backend for a provider authorization link.
type LinkFetcher interface {
	AuthLink(ctx context.Context, service, token string) (string, error)
}
