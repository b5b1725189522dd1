package transport

import (
	"net/http"

	"golang.org/x/sync/errgroup"

	"github.com/perimeter-epitech/area/model"
)

// Page paths the guards know about.
const (
	pageMyAreas  = "/myareas"
	pageWorkflow = "/workflow"
)

// requireAuth sends anonymous visitors to the login page.
func requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !model.MustRequestContext(r.Context()).Authenticated() {
			http.Redirect(w, r, model.LoginPath, http.StatusFound)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireGuest sends logged-in visitors to their areas.
func requireGuest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if model.MustRequestContext(r.Context()).Authenticated() {
			http.Redirect(w, r, pageMyAreas, http.StatusFound)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// pagePlaceholder answers guarded page routes when no page handler is
// mounted, so the guards can be exercised without the web client.
func pagePlaceholder(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"page": r.URL.Path})
}

// handleConnections merges the service catalogue with the user's tokens.
// Both backend calls run concurrently; either failure fails the request.
func handleConnections(cat Catalog, sw *sessionWriter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.MustRequestContext(r.Context())
		token := model.BearerToken(r.Header.Get("Authorization"))
		if token == "" {
			token = rctx.Token
		}
		if token == "" {
			WriteMissingParameters(w, "token")
			return
		}

		var (
			services []model.Service
			info     model.ConnectionInfo
		)
		g, ctx := errgroup.WithContext(r.Context())
		g.Go(func() error {
			var err error
			services, err = cat.Services(ctx, token)
			return err
		})
		g.Go(func() error {
			var err error
			info, err = cat.UserInfoAll(ctx, token)
			return err
		})
		if err := g.Wait(); err != nil {
			sw.fail(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, model.Connections(services, info))
	}
}
