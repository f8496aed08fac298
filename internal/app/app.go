package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"go-token-gate/internal/config"
	"go-token-gate/internal/database"
	"go-token-gate/internal/event"
	"go-token-gate/internal/handler"
	"go-token-gate/internal/metrics"
	"go-token-gate/internal/middleware"
	"go-token-gate/internal/repository"
	"go-token-gate/internal/router"
	"go-token-gate/internal/service"
	"go-token-gate/internal/token"
)

// prunableLedger is a rotation ledger that can also drop expired rows.
type prunableLedger interface {
	service.RefreshLedger
	PruneExpired(ctx context.Context) (int64, error)
}

type App struct {
	server       *http.Server
	cleanupFuncs []func()
}

func New(cfg *config.Config) (*App, error) {
	codec, err := token.NewCodec(cfg.JWTSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize token codec: %w", err)
	}

	slog.Info("connecting to PostgreSQL")
	db, err := database.New(context.Background(), cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database schema: %w", err)
	}

	cleanupFuncs := []func(){db.Close}
	healthChecks := map[string]handler.HealthCheck{"database": db.Health}

	userRepo := repository.NewUserRepository(db.Pool)
	auditRepo := repository.NewAuditRepository(db.Pool)

	var ledger prunableLedger
	switch cfg.LedgerBackend {
	case config.LedgerRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			_ = client.Close()
			runCleanup(cleanupFuncs)
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		slog.Info("redis connected", "addr", cfg.RedisAddr)

		ledger = repository.NewRedisRefreshTokenRepository(client)
		healthChecks["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
		cleanupFuncs = append(cleanupFuncs, func() { _ = client.Close() })
	default:
		ledger = repository.NewRefreshTokenRepository(db.Pool)
	}
	slog.Info("rotation ledger ready", "backend", cfg.LedgerBackend)

	m := metrics.New()
	bus := event.NewBus()
	auditSink := event.NewAuditSink(bus, slog.Default(), auditRepo)

	roles := service.NewRoleResolver(userRepo)
	rotationService := service.NewRotationService(codec, ledger, roles, bus, m, service.RotationOptions{
		AccessTTL:      cfg.JWTAccessTTL,
		RefreshTTL:     cfg.JWTRefreshTTL,
		ReuseDetection: cfg.ReuseDetection,
		RevokeOnReuse:  cfg.RevokeOnReuse,
		Logger:         slog.Default(),
	})
	authenticator := service.NewAuthenticator(codec, rotationService, roles, bus, m)
	logoutService := service.NewLogoutService(codec, ledger, bus, m)
	loginService := service.NewLoginService(userRepo, rotationService)
	pruner := service.NewLedgerPruner(ledger)

	credentials := cfg.CredentialPolicy()
	authMiddleware := middleware.NewAuthMiddleware(authenticator, credentials)
	authHandler := handler.NewAuthHandler(rotationService, logoutService, loginService, credentials, cfg.ProviderHandoffSecret)
	userHandler := handler.NewUserHandler(userRepo)
	auditHandler := handler.NewAuditHandler(auditRepo)
	healthHandler := handler.NewHealthHandler(healthChecks)

	if cfg.ProviderHandoffSecret == "" {
		slog.Warn("PROVIDER_HANDOFF_SECRET is empty; provider login is disabled")
	}

	appRouter := router.New(cfg, m, authMiddleware, authHandler, userHandler, auditHandler, healthHandler)

	backgroundCtx, backgroundCancel := context.WithCancel(context.Background())
	go auditSink.Run(backgroundCtx)
	go pruner.StartPruneTicker(backgroundCtx, cfg.LedgerPruneInterval)

	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           appRouter,
		ReadHeaderTimeout: cfg.ServerReadHeaderTimeout,
		WriteTimeout:      cfg.ServerWriteTimeout,
		IdleTimeout:       cfg.ServerIdleTimeout,
	}

	// Background work stops before the stores it uses are closed.
	cleanupFuncs = append([]func(){backgroundCancel}, cleanupFuncs...)

	return &App{
		server:       server,
		cleanupFuncs: cleanupFuncs,
	}, nil
}

func (a *App) Run() error {
	serverErr := make(chan error, 1)
	go func() {
		slog.Info("server starting", "addr", a.server.Addr)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case <-stop:
	case err := <-serverErr:
		runErr = fmt.Errorf("server failed: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := a.server.Shutdown(ctx); err != nil && runErr == nil {
		runErr = fmt.Errorf("graceful shutdown failed: %w", err)
	}

	runCleanup(a.cleanupFuncs)

	slog.Info("server stopped")
	return runErr
}

// runCleanup releases resources in registration order.
func runCleanup(funcs []func()) {
	for _, cleanup := range funcs {
		cleanup()
	}
}
