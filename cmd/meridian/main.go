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

	"github.com/meridian-crm/meridian-crm/internal/app"
	"github.com/meridian-crm/meridian-crm/internal/audit"
	"github.com/meridian-crm/meridian-crm/internal/identity"
	"github.com/meridian-crm/meridian-crm/internal/observability"
	"github.com/meridian-crm/meridian-crm/internal/platform/cache"
	"github.com/meridian-crm/meridian-crm/internal/platform/db"
	"github.com/meridian-crm/meridian-crm/internal/querycache"
	"github.com/meridian-crm/meridian-crm/internal/rbac"
	"github.com/meridian-crm/meridian-crm/internal/roles"
	"github.com/meridian-crm/meridian-crm/internal/users"
	"github.com/meridian-crm/meridian-crm/jobs"
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

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, identity caching disabled", slog.Any("error", err))
		redisClient = nil
	}
	defer func() {
		if redisClient == nil {
			return
		}
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()

	queryCache := querycache.New(logger, metrics, querycache.Config{
		TTL:        cfg.QueryCacheTTL,
		MaxEntries: cfg.QueryCacheMaxEntries,
		SlowQuery:  cfg.SlowQueryThreshold,
	})

	var provider identity.Provider = identity.NewClient(cfg.IdentityURL)
	if redisClient != nil {
		provider = identity.NewCachedProvider(provider, redisClient, cfg.IdentityCacheTTL, logger)
	}
	authMiddleware := identity.Middleware{Provider: provider, Logger: logger}

	auditRepo := audit.NewRepository(pool)
	auditLogger := audit.NewLogger(auditRepo, logger)
	auditService := audit.NewService(auditRepo)

	usersRepo := users.NewRepository(pool, queryCache)
	rolesRepo := roles.NewRepository(pool, queryCache)
	rolesService := roles.NewService(rolesRepo, usersRepo, auditLogger)

	rbacMiddleware := rbac.Middleware{Roles: rolesService, Logger: logger}
	rolesHandler := roles.NewHandler(logger, rolesService, auditService, rbacMiddleware)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobsHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:       logger,
		Config:       cfg,
		Auth:         authMiddleware,
		RolesHandler: rolesHandler,
		JobsHandler:  jobsHandler,
		Metrics:      metrics,
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
