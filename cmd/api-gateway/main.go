package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/fintrack-api/api/swagger"
	"github.com/noah-isme/fintrack-api/internal/handler"
	"github.com/noah-isme/fintrack-api/internal/middleware"
	"github.com/noah-isme/fintrack-api/internal/models"
	"github.com/noah-isme/fintrack-api/internal/repository"
	"github.com/noah-isme/fintrack-api/internal/service"
	"github.com/noah-isme/fintrack-api/pkg/broadcast"
	"github.com/noah-isme/fintrack-api/pkg/cache"
	"github.com/noah-isme/fintrack-api/pkg/clock"
	"github.com/noah-isme/fintrack-api/pkg/config"
	"github.com/noah-isme/fintrack-api/pkg/database"
	"github.com/noah-isme/fintrack-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/fintrack-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/fintrack-api/pkg/middleware/requestid"
	"github.com/noah-isme/fintrack-api/pkg/security"
)

// @title FinTrack Auth API
// @version 1.0.0
// @description Login, device sessions and token rotation for FinTrack clients
// @BasePath /api
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect database", "error", err)
	}

	readiness := map[string]handler.ReadinessCheck{"database": db.PingContext}

	var (
		redisClient *redis.Client
		bus         broadcast.Bus = broadcast.Noop{}
	)
	switch cfg.Bus.Driver {
	case config.BusRedis:
		redisClient, err = cache.NewRedis(ctx, cfg.Redis)
		if err != nil {
			logr.Sugar().Fatalw("failed to connect redis", "error", err)
		}
		readiness["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
		bus = broadcast.NewRedis(redisClient, cfg.Bus.Channel)
	case config.BusNATS:
		conn, err := broadcast.ConnectNATS(cfg.NATS)
		if err != nil {
			logr.Sugar().Fatalw("failed to connect nats", "error", err)
		}
		readiness["nats"] = func(context.Context) error {
			if !conn.IsConnected() {
				return errors.New("nats disconnected")
			}
			return nil
		}
		bus = broadcast.NewNATS(conn, cfg.Bus.Channel)
	}
	logr.Sugar().Infow("invalidation bus configured", "driver", cfg.Bus.Driver)

	clk := clock.Real{}
	metrics := service.NewMetricsService()

	userRepo := repository.NewUserRepository(db)
	sessionRepo := repository.NewSessionRepository(db)
	auditRepo := repository.NewAuditRepository(db)

	auditSvc := service.NewAuditService(auditRepo, clk, logr)
	if cfg.Audit.Async {
		auditSvc.EnableAsync(cfg.Audit.BufferSize)
	}

	guard := service.NewLoginGuard(userRepo, service.LoginGuardConfig{
		MaxFailedAttempts: cfg.Auth.MaxFailedAttempts,
		TempBanDuration:   cfg.Auth.TempBanDuration,
		MaxTempBans:       cfg.Auth.MaxTempBans,
		AutoUnlockEnabled: cfg.Auth.AutoUnlockEnabled,
	}, clk, metrics, logr)

	registry := service.NewSessionRegistry(sessionRepo, bus, auditSvc, metrics, clk, logr, service.SessionRegistryConfig{
		RefreshDuration: cfg.Auth.RefreshDuration,
		WaitTimeout:     cfg.Session.WaitTimeout,
		MaxWaitTimeout:  cfg.Session.MaxWaitTimeout,
		TouchInterval:   cfg.Session.TouchInterval,
		SweepInterval:   cfg.Session.SweepInterval,
		TombstoneTTL:    cfg.Session.TombstoneTTL,
	})
	metrics.RegisterWaiterGauge(registry.Waiters)

	tokens := service.NewTokenService(sessionRepo, userRepo, registry, auditSvc, metrics, clk, logr, service.TokenConfig{
		Secret:          cfg.JWT.Secret,
		Issuer:          cfg.JWT.Issuer,
		Audience:        cfg.JWT.Audience,
		AccessDuration:  cfg.Auth.AccessDuration,
		RefreshDuration: cfg.Auth.RefreshDuration,
		ReuseGrace:      cfg.Auth.RefreshReuseGrace,
	})

	vault := security.NewPasswordVault(cfg.Auth.BcryptCost)
	authSvc := service.NewAuthService(userRepo, vault, guard, tokens, registry, auditSvc, metrics, validator.New(), clk, logr)
	sessionSvc := service.NewSessionService(registry, auditSvc, logr)
	adminSvc := service.NewAdminService(userRepo, guard, registry, auditSvc, logr)

	registry.Start(ctx)
	auditSvc.Start(ctx)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metrics))

	metricsHandler := handler.NewMetricsHandler(metrics, readiness)
	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	registerRoutes(r.Group(cfg.APIPrefix), routeDeps{
		auth:     handler.NewAuthHandler(authSvc),
		sessions: handler.NewSessionHandler(sessionSvc),
		admin:    handler.NewAdminHandler(adminSvc),
		verifier: authSvc,
		registry: registry,
		clock:    clk,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		logr.Info("shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			logr.Error("server failed", zap.Error(err))
		}
	}

	// Release long-poll waiters first so Shutdown is not held up by them.
	registry.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Warn("http shutdown incomplete", zap.Error(err))
	}

	auditSvc.Stop(shutdownCtx)

	if err := bus.Close(); err != nil {
		logr.Warn("failed to close invalidation bus", zap.Error(err))
	}
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			logr.Warn("failed to close redis", zap.Error(err))
		}
	}
	if err := db.Close(); err != nil {
		logr.Warn("failed to close database", zap.Error(err))
	}
	logr.Info("server stopped")
}

type routeDeps struct {
	auth     *handler.AuthHandler
	sessions *handler.SessionHandler
	admin    *handler.AdminHandler
	verifier middleware.TokenVerifier
	registry middleware.SessionLookup
	clock    clock.Clock
}

func registerRoutes(api *gin.RouterGroup, deps routeDeps) {
	api.POST("/auth/login", deps.auth.Login)
	api.POST("/auth/refresh", deps.auth.Refresh)

	authed := api.Group("", middleware.JWT(deps.verifier))
	// Waiting on an already invalidated session must still answer, so this
	// route skips the live-session check.
	authed.GET("/sessions/:id/wait-invalidation", deps.sessions.WaitInvalidation)

	live := authed.Group("", middleware.ActiveSession(deps.registry, deps.clock))
	live.POST("/auth/logout", deps.auth.Logout)
	live.GET("/auth/me", deps.auth.Me)
	live.POST("/auth/change-password", deps.auth.ChangePassword)
	live.GET("/sessions", deps.sessions.List)
	live.DELETE("/sessions/all", deps.sessions.RevokeAll)
	live.DELETE("/sessions/:id", deps.sessions.Revoke)

	admin := live.Group("/admin", middleware.RequireRoles(models.RoleAdmin))
	admin.POST("/users/:username/unlock", deps.admin.Unlock)
	admin.GET("/users/:username/lock-status", deps.admin.LockStatus)
	admin.DELETE("/users/:username/sessions", deps.admin.RevokeSessions)
}
