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

	"github.com/atlas-iam/atlas-iam/internal/app"
	"github.com/atlas-iam/atlas-iam/internal/authn"
	"github.com/atlas-iam/atlas-iam/internal/authz"
	"github.com/atlas-iam/atlas-iam/internal/observability"
	"github.com/atlas-iam/atlas-iam/internal/platform/cache"
	"github.com/atlas-iam/atlas-iam/internal/platform/db"
	"github.com/atlas-iam/atlas-iam/internal/roles"
	"github.com/atlas-iam/atlas-iam/internal/shared"
	"github.com/atlas-iam/atlas-iam/internal/users"
	"github.com/atlas-iam/atlas-iam/jobs"
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

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

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

	metrics := observability.NewMetrics()

	gate := authz.NewGate(logger)
	authz.RegisterDefaultRules(gate)
	gate.OnDeny(metrics.CountDenial)

	relationFilter := authz.NewRelationFilter(gate)
	relationFilter.RegisterEntity(users.EntityUser, authz.UserRelations())

	roleRepo := roles.NewRepository(dbpool)
	roleService := roles.NewService(roleRepo, cfg.Guard)
	resolver := authz.NewResolver(roles.NewAuthzSource(roleRepo), cfg.Guard, logger)

	jobClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	auditLogger := shared.NewAuditLogger(dbpool)

	userRepo := users.NewRepository(dbpool, roleRepo)
	userService := users.NewService(userRepo, roleService, gate, relationFilter, jobs.NewEventSink(jobClient), auditLogger, logger, cfg.BcryptCost)
	usersHandler := users.NewHandler(logger, userService, gate)

	rolesHandler := roles.NewHandler(logger, roleService, gate)

	tokenStore := authn.NewTokenStore(redisClient, "atlas:token", cfg.TokenTTL)
	authnService := authn.NewService(userRepo, tokenStore)
	authHandler := authn.NewHandler(logger, authnService)
	authnMiddleware := authn.Middleware{Tokens: tokenStore, Resolver: resolver, Logger: logger}

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:       logger,
		Config:       cfg,
		Authn:        authnMiddleware,
		AuthHandler:  authHandler,
		UsersHandler: usersHandler,
		RolesHandler: rolesHandler,
		JobHandler:   jobHandler,
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
