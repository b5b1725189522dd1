package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/perimeter-epitech/area/internal/composer"
	"github.com/perimeter-epitech/area/internal/config"
	"github.com/perimeter-epitech/area/internal/oauth"
	"github.com/perimeter-epitech/area/internal/observability"
	"github.com/perimeter-epitech/area/model"
)

// Backend is everything the BFF asks of the Area API.
// *backend.Client implements it.
type Backend interface {
	Forwarder
	Catalog
	LinkFetcher
}

// Dependencies holds all injected dependencies for the HTTP transport layer.
type Dependencies struct {
	Config    *config.Config
	Logger    *zap.Logger
	Metrics   *observability.Metrics
	Backend   Backend
	Sessions  SessionStore
	Flow      *oauth.Flow
	Composer  *composer.Composer
	Readiness observability.ReadinessChecks

	// Pages serves the guarded web pages. Nil answers with a placeholder.
	Pages http.Handler
}

// NewRouter creates a chi.Router with the full middleware pipeline and all
// route registrations. Health, readiness, and metrics endpoints bypass the
// session middleware.
func NewRouter(deps Dependencies) chi.Router {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	sw := &sessionWriter{store: deps.Sessions, metrics: deps.Metrics, logger: logger}

	r := chi.NewRouter()

	// Global middleware: applied to all routes including health.
	r.Use(Recovery(logger))
	r.Use(observability.TracingMiddleware)
	r.Use(CORS(deps.Config.Server.CORS))
	r.Use(RequestID)
	r.Use(SecurityHeaders)
	if deps.Metrics != nil {
		r.Use(deps.Metrics.MetricsMiddleware)
	}

	// Public routes.
	r.Get("/healthz", observability.HandleHealth())
	r.Get("/readyz", observability.HandleReady(deps.Readiness))
	if deps.Config.Observability.Metrics.Enabled {
		r.Handle(deps.Config.Observability.Metrics.Path, observability.Handler())
	}

	pages := deps.Pages
	if pages == nil {
		pages = http.HandlerFunc(pagePlaceholder)
	}

	r.Group(func(r chi.Router) {
		r.Use(Sessions(deps.Sessions, deps.Metrics))
		r.Use(HandlerTimeout(deps.Config.Server.HandlerTimeout))
		r.Use(RequestLogging(logger))

		// Pages.
		r.With(requireAuth).Get(pageMyAreas, pages.ServeHTTP)
		r.With(requireAuth).Get(pageWorkflow, pages.ServeHTTP)
		r.With(requireGuest).Get(model.LoginPath, pages.ServeHTTP)

		// Backend proxy.
		for _, route := range proxyRoutes {
			method := route.Method
			if method == "" {
				method = http.MethodPost
			}
			r.Method(method, route.Pattern, handleProxy(route, deps.Backend, sw))
		}
		r.Post("/api/auth/logout", handleLogout(sw))
		r.Get("/api/auth/session", handleSession())
		r.Post("/api/auth/service/redirect", handleServiceRedirect(deps.Backend, sw))
		r.Get("/api/services/connections", handleConnections(deps.Backend, sw))

		// OAuth.
		r.Get("/api/oauth/{provider}/start", handleOAuthStart(deps.Flow, sw))
		r.Get("/oauthredirect", handleOAuthRedirect(deps.Flow, sw))

		// Composer.
		r.Route("/api/composer", func(r chi.Router) {
			r.Get("/", handleComposerSnapshot(deps.Composer, sw))
			r.Post("/action", handleComposerSelect(deps.Composer, deps.Backend, sw, false))
			r.Post("/action/options", handleComposerConfigure(deps.Composer, sw, false))
			r.Post("/reaction", handleComposerSelect(deps.Composer, deps.Backend, sw, true))
			r.Post("/reaction/options", handleComposerConfigure(deps.Composer, sw, true))
			r.Post("/describe", handleComposerDescribe(deps.Composer, sw))
			r.Post("/submit", handleComposerSubmit(deps.Composer, sw))
			r.Post("/reset", handleComposerReset(deps.Composer, sw))
		})
	})

	return r
}
