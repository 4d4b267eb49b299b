// Package activityservice boots the activity HTTP service: configuration,
// store driver selection, the access guard, the live feed and the router.
package activityservice

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/ledgerline/activity-service/internal/api"
	"github.com/ledgerline/activity-service/internal/auth"
	"github.com/ledgerline/activity-service/internal/config"
	"github.com/ledgerline/activity-service/internal/feed"
	"github.com/ledgerline/activity-service/internal/guard"
	"github.com/ledgerline/activity-service/internal/health"
	"github.com/ledgerline/activity-service/internal/logger"
	"github.com/ledgerline/activity-service/internal/services"
	"github.com/ledgerline/activity-service/internal/store"
	"github.com/ledgerline/activity-service/internal/store/postgres"
	"github.com/ledgerline/activity-service/internal/store/sqlite"
)

// Run starts the activity service HTTP server and blocks until shutdown or error.
func Run() error {
	log := logger.New("activity-service")

	cfg, err := config.New()
	if err != nil {
		log.Error().Err(err).Msg("Failed to load configuration")
		return err
	}

	log.Info().
		Str("environment", string(cfg.Environment)).
		Str("db_driver", cfg.DBDriver).
		Int("http_port", cfg.HTTPPort).
		Str("auth_mode", cfg.AuthMode).
		Msg("Activity service starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, st, err := openStore(cfg, log)
	if err != nil {
		log.Error().Stack().Err(err).Msg("Store unavailable")
		return err
	}
	defer func() { _ = db.Close() }()

	bus := feed.NewBus(cfg.FeedBusBuffer)
	registry := feed.NewRegistry(st.Activities(), bus, feed.Options{
		ReconcileInterval: cfg.FeedReconcileInterval(),
		ReconcileBatch:    cfg.FeedReconcileBatch,
	}, log)
	defer registry.Shutdown()

	svc := services.NewActivityService(st, bus, services.Options{
		PageSizeMin:     cfg.PageSizeMin,
		PageSizeDefault: cfg.PageSizeDefault,
		PageSizeMax:     cfg.PageSizeMax,
		MaxOffset:       cfg.MaxOffset,
		QueryMaxLen:     cfg.QueryMaxLen,
		SmartCandidates: cfg.SmartCandidates,
		SmartTopN:       cfg.SmartTopK,
	}, log)

	authorizer, err := newAuthorizer(cfg, log)
	if err != nil {
		log.Error().Err(err).Msg("Authorizer setup failed")
		return err
	}

	storeChecker := store.NewHealthChecker(st, log, 2*time.Second)
	go storeChecker.Start(ctx, 5*time.Second)
	svcHealth := health.NewServiceHealthChecker(log, storeChecker)
	go svcHealth.Start(ctx, 5*time.Second)

	router := api.NewRouter(api.RouterDeps{
		Service:        svc,
		Registry:       registry,
		Authorizer:     authorizer,
		ServiceHealthy: svcHealth.IsHealthy,
		StoreHealthy:   storeChecker.IsHealthy,
		KeepAlive:      cfg.FeedKeepAlive(),
		Log:            log,
	})

	server := newHTTPServer(ctx, cfg, router)
	errCh := serveHTTP(server, log, cfg)

	select {
	case <-ctx.Done():
		log.Info().Msg("Shutting down server")
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctxShutdown); err != nil {
			log.Error().Stack().Err(err).Msg("Server forced to shutdown")
			return err
		}
		log.Info().Msg("Server exited")
		return nil
	case err := <-errCh:
		log.Error().Stack().Err(err).Msg("HTTP server failed")
		return err
	}
}

// openStore selects the driver from configuration and wraps it in the access
// guard so every database round-trip shares the same admission policy.
func openStore(cfg *config.Config, log zerolog.Logger) (*sql.DB, store.Store, error) {
	var (
		db  *sql.DB
		err error
	)
	switch cfg.DBDriver {
	case "postgres":
		db, err = postgres.Open(cfg.PostgresDSN)
	case "sqlite":
		db, err = sqlite.Open(cfg.SQLitePath)
	default:
		err = fmt.Errorf("unsupported DB_DRIVER %q", cfg.DBDriver)
	}
	if err != nil {
		return nil, nil, err
	}

	g := guard.New(db, guard.Options{
		MaxConcurrent:  cfg.GuardMaxConcurrent,
		MaxQueue:       cfg.GuardMaxQueue,
		AcquireTimeout: cfg.GuardAcquireTimeoutDuration(),
		DedupeWindow:   cfg.GuardDedupeWindow(),
		RetryMax:       uint64(cfg.GuardRetryMax),
	}, log)

	if cfg.DBDriver == "postgres" {
		return db, postgres.New(g), nil
	}
	return db, sqlite.New(g), nil
}

func newAuthorizer(cfg *config.Config, log zerolog.Logger) (auth.Authorizer, error) {
	switch cfg.AuthMode {
	case "static":
		if len(cfg.StaticTokens) == 0 {
			return nil, fmt.Errorf("auth mode static requires ACTIVITY_STATIC_TOKENS")
		}
		return auth.NewStaticAuthorizer(cfg.StaticTokens, log), nil
	case "none":
		log.Warn().Str("owner", cfg.DevOwner).Msg("auth disabled, all requests map to dev owner")
		return &auth.InsecureAuthorizer{OwnerID: cfg.DevOwner}, nil
	default:
		return nil, fmt.Errorf("unsupported AUTH_MODE %q", cfg.AuthMode)
	}
}

func newHTTPServer(ctx context.Context, cfg *config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		// WriteTimeout stays unset: the SSE stream holds its response open
		// for the life of the subscription.
		IdleTimeout: 60 * time.Second,
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
}

func serveHTTP(server *http.Server, log zerolog.Logger, cfg *config.Config) <-chan error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", cfg.HTTPPort).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	return errCh
}
