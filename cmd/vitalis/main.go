package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/vitalis-health/vitalis/internal/app"
	"github.com/vitalis-health/vitalis/internal/audit"
	"github.com/vitalis-health/vitalis/internal/auth"
	"github.com/vitalis-health/vitalis/internal/observability"
	"github.com/vitalis-health/vitalis/internal/platform/cache"
	"github.com/vitalis-health/vitalis/internal/platform/db"
	"github.com/vitalis-health/vitalis/internal/rbac"
	rbachttp "github.com/vitalis-health/vitalis/internal/rbac/http"
	"github.com/vitalis-health/vitalis/internal/shared"
	"github.com/vitalis-health/vitalis/internal/users"
	"github.com/vitalis-health/vitalis/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	// Sessions live in Redis, so unlike the permission cache it is not
	// optional here.
	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	sessionManager := shared.NewSessionManager(redisClient, "vitalis_session", cfg.SessionTTL, cfg.IsProduction())

	metrics := observability.NewMetrics()

	jobsClient := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := jobsClient.Close(); err != nil {
			logger.Warn("jobs client close", slog.Any("error", err))
		}
	}()

	auditLogger := audit.NewLogger(pool, logger)
	auditSink := audit.NewAsyncRecorder(jobsClient, auditLogger, logger)

	rbacStore := rbac.NewStore(pool)
	rbacCache := rbac.NewCache(redisClient, cfg.PermissionCacheTTL)
	resolver := rbac.NewResolver(rbacStore, rbacCache, logger, metrics)
	guard := rbac.NewGuard(rbacStore, resolver)
	rbacService := rbac.NewService(rbacStore, rbacCache, resolver, guard, auditSink, logger)

	userRepo := users.NewRepository(pool)
	userService := users.NewService(userRepo, guard, rbacCache, auditSink, logger)

	rbacMiddleware := rbac.Middleware{Resolver: resolver, Users: userRepo, Logger: logger}

	authService := auth.NewService(userRepo)
	authHandler := auth.NewHandler(logger, authService, sessionManager)

	userHandler := users.NewHandler(logger, userService, rbacMiddleware)
	rbacHandler := rbachttp.NewHandler(logger, rbacService, rbacMiddleware)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterDeps{
		Middlewares: app.MiddlewareStack(app.MiddlewareConfig{
			Logger:         logger,
			Config:         cfg,
			SessionManager: sessionManager,
			Metrics:        metrics,
		}),
		Auth:    authHandler,
		Users:   userHandler,
		RBAC:    rbacHandler,
		RBACMw:  rbacMiddleware,
		Jobs:    jobHandler,
		Metrics: metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
