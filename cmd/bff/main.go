// Package main is the entry point for the Area BFF server.
// It wires all dependencies together and starts the HTTP server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/perimeter-epitech/area/internal/backend"
	"github.com/perimeter-epitech/area/internal/composer"
	"github.com/perimeter-epitech/area/internal/config"
	"github.com/perimeter-epitech/area/internal/oauth"
	"github.com/perimeter-epitech/area/internal/observability"
	"github.com/perimeter-epitech/area/internal/provider"
	"github.com/perimeter-epitech/area/internal/session"
	"github.com/perimeter-epitech/area/internal/transport"
)

// Build-time variables set via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc1234"
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Step 1: Parse CLI flags.
	configPath := flag.String("config", "", "path to configuration file")
	flag.Parse()

	// Step 2: Load configuration. A missing .env is not an error.
	_ = godotenv.Load()
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}

	// Step 3: Initialize telemetry (logger, tracer, metrics).
	observability.Version = version
	observability.Commit = commit

	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		return 1
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, "area-bff", version)
	if err != nil {
		logger.Error("tracing initialization failed", zap.Error(err))
		return 1
	}

	var metrics *observability.Metrics
	if cfg.Observability.Metrics.Enabled {
		metrics = observability.InitMetrics(prometheus.DefaultRegisterer)
	}

	// Step 4: Backend client and session cookies.
	client := backend.NewClient(cfg.Backend, metrics, logger)
	cookies, err := session.NewCookieManager(cfg.Session, cfg.Backend.BaseURL)
	if err != nil {
		logger.Error("session initialization failed", zap.Error(err))
		return 1
	}
	if cfg.Session.HashKey == "" || cfg.Session.BlockKey == "" {
		logger.Warn("session keys not configured, sessions will not survive a restart")
	}

	// Step 5: OAuth providers and flow.
	redirectURI := strings.TrimRight(cfg.Server.PublicURL, "/") + "/oauthredirect"
	registry, err := provider.NewRegistry(cfg.OAuth, redirectURI)
	if err != nil {
		logger.Error("provider registry initialization failed", zap.Error(err))
		return 1
	}
	launcher := oauth.NewLauncher(registry, cfg.OAuth.PendingTTL, metrics, logger)
	flow := oauth.NewFlow(launcher, oauth.NewExchanger(client, metrics, logger), nil, metrics, logger)

	// Step 6: Composer store and submit guard.
	store, storeCloser, err := buildDraftStore(ctx, cfg.Composer.Store, logger)
	if err != nil {
		logger.Error("draft store initialization failed", zap.Error(err))
		return 1
	}
	guard, guardCloser, err := buildSubmitGuard(ctx, cfg.Composer.Guard, logger)
	if err != nil {
		logger.Error("submit guard initialization failed", zap.Error(err))
		return 1
	}
	comp := composer.New(store, guard, client, metrics, logger)

	// Step 7: Build HTTP router.
	readiness := observability.ReadinessChecks{
		Backend:     client,
		DraftStore:  store,
		SubmitGuard: guard,
	}
	router := transport.NewRouter(transport.Dependencies{
		Config:    cfg,
		Logger:    logger,
		Metrics:   metrics,
		Backend:   client,
		Sessions:  cookies,
		Flow:      flow,
		Composer:  comp,
		Readiness: readiness,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}

	// Step 8: Start HTTP server.
	logger.Info("server started",
		zap.Int("port", cfg.Server.Port),
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("backend", cfg.Backend.BaseURL),
		zap.Strings("providers", registry.Names()),
		zap.String("draft_store", cfg.Composer.Store.Driver),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error.
	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		return 1
	}

	// Graceful shutdown sequence.
	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	// Stop accepting new connections and drain in-flight requests.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	// Close stores.
	if storeCloser != nil {
		storeCloser()
	}
	if guardCloser != nil {
		guardCloser()
	}

	// Flush telemetry.
	if err := tracingShutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return 0
}

// draftStore is a composer.DraftStore that can report its health.
type draftStore interface {
	composer.DraftStore
	observability.HealthChecker
}

// buildDraftStore creates the draft store based on config.
func buildDraftStore(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (draftStore, func(), error) {
	switch cfg.Driver {
	case "memory", "":
		logger.Info("using in-memory draft store")
		return composer.NewMemoryDraftStore(), nil, nil
	case "file":
		logger.Info("using file draft store", zap.String("path", cfg.Path))
		return composer.NewFileDraftStore(cfg.Path), nil, nil
	case "sqlite":
		store, err := composer.OpenSQLiteDraftStore(cfg.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("draft store: %w", err)
		}
		logger.Info("using sqlite draft store", zap.String("path", cfg.Path))
		return store, func() { _ = store.Close() }, nil
	case "postgres":
		dsn := os.Getenv(cfg.DSNEnv)
		if dsn == "" {
			return nil, nil, fmt.Errorf("draft store: %s environment variable not set", cfg.DSNEnv)
		}
		store, err := composer.OpenPgDraftStore(ctx, dsn, cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("draft store: %w", err)
		}
		logger.Info("using postgres draft store")
		return store, store.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported draft store driver: %q", cfg.Driver)
	}
}

// submitGuard is a composer.SubmitGuard that can report its health.
type submitGuard interface {
	composer.SubmitGuard
	observability.HealthChecker
}

// buildSubmitGuard creates the submission lock based on config. Redis is
// needed once more than one BFF replica serves the same sessions.
func buildSubmitGuard(ctx context.Context, cfg config.GuardConfig, logger *zap.Logger) (submitGuard, func(), error) {
	switch cfg.Driver {
	case "memory", "":
		logger.Info("using in-memory submit guard")
		return composer.NewMemorySubmitGuard(cfg.TTL), nil, nil
	case "redis":
		addr := os.Getenv(cfg.AddrEnv)
		if addr == "" {
			return nil, nil, fmt.Errorf("submit guard: %s environment variable not set", cfg.AddrEnv)
		}
		rdb := redis.NewClient(&redis.Options{Addr: addr, DB: cfg.DB})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, nil, fmt.Errorf("submit guard: ping: %w", err)
		}
		logger.Info("using redis submit guard", zap.String("addr", addr))
		return composer.NewRedisSubmitGuard(rdb, cfg.TTL), func() { _ = rdb.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unsupported submit guard driver: %q", cfg.Driver)
	}
}
