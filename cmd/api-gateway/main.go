package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/puckledger/treasury-api/api/swagger"
	"github.com/puckledger/treasury-api/internal/handler"
	internalmiddleware "github.com/puckledger/treasury-api/internal/middleware"
	"github.com/puckledger/treasury-api/internal/models"
	"github.com/puckledger/treasury-api/internal/repository"
	"github.com/puckledger/treasury-api/internal/service"
	"github.com/puckledger/treasury-api/pkg/cache"
	"github.com/puckledger/treasury-api/pkg/config"
	"github.com/puckledger/treasury-api/pkg/database"
	"github.com/puckledger/treasury-api/pkg/logger"
	corsmiddleware "github.com/puckledger/treasury-api/pkg/middleware/cors"
	reqidmiddleware "github.com/puckledger/treasury-api/pkg/middleware/requestid"
)

// @title Team Treasury API
// @version 1.0.0
// @description Validation and exception resolution for youth sports team finances
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

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

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer db.Close()

	metricsSvc := service.NewMetricsService()

	var cacheRepo service.CacheRepository
	readiness := map[string]handler.ReadinessCheck{"postgres": db.PingContext}
	if cfg.Compliance.CacheEnabled {
		redisClient, err := cache.NewRedis(ctx, cfg.Redis)
		if err != nil {
			logr.Warn("redis unavailable, compliance cache disabled", zap.Error(err))
		} else {
			repo := repository.NewCacheRepository(redisClient, logr)
			defer repo.Close() //nolint:errcheck
			cacheRepo = repo
			readiness["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
		}
	}
	cacheSvc := service.NewCacheService(cacheRepo, metricsSvc, cfg.Compliance.CacheTTL, logr, cacheRepo != nil)

	txnRepo := repository.NewTransactionRepository(db, metricsSvc)
	teamRepo := repository.NewTeamRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	complianceRepo := repository.NewComplianceRepository(db)

	validate := validator.New()
	tokenSvc := service.NewTokenService(service.TokenConfig{Secret: cfg.JWT.Secret, Issuer: cfg.JWT.Issuer}, logr)
	transactionSvc := service.NewTransactionService(txnRepo, teamRepo, nil, cfg.Validation, cacheSvc, metricsSvc, validate, logr)
	resolutionSvc := service.NewResolutionService(txnRepo, teamRepo, nil, cfg.Validation, cacheSvc, metricsSvc, validate, logr)
	complianceSvc := service.NewComplianceService(complianceRepo, auditRepo, teamRepo, cacheSvc, cfg.Compliance, logr)

	transactionHandler := handler.NewTransactionHandler(transactionSvc)
	exceptionHandler := handler.NewExceptionHandler(resolutionSvc)
	complianceHandler := handler.NewComplianceHandler(complianceSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc, readiness)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(internalmiddleware.RequestMetrics(metricsSvc))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.Use(internalmiddleware.JWT(tokenSvc))
	api.Use(internalmiddleware.WithResponseMeta())
	api.Use(internalmiddleware.ReadOnlyTier())

	api.GET("/metrics/summary", internalmiddleware.RequireRoles(models.RoleAssociationAdmin), metricsHandler.Summary)

	transactions := api.Group("/transactions")
	transactions.POST("", transactionHandler.Submit)
	transactions.POST("/import", transactionHandler.Import)
	transactions.GET("", transactionHandler.List)
	transactions.GET("/:id", transactionHandler.Get)
	transactions.PATCH("/:id", transactionHandler.Edit)
	transactions.DELETE("/:id", transactionHandler.Delete)
	transactions.POST("/:id/revalidate", transactionHandler.Revalidate)
	transactions.POST("/:id/approvals", transactionHandler.Approve)

	exceptions := api.Group("/exceptions")
	exceptions.GET("", transactionHandler.ListExceptions)
	exceptions.POST("/resolve", exceptionHandler.Resolve)

	teams := api.Group("/teams/:teamId")
	teams.POST("/season/lock", transactionHandler.LockSeason)
	teams.GET("/compliance", complianceHandler.Summary)
	teams.GET("/compliance/trends", complianceHandler.Trends)
	teams.GET("/audit-logs", complianceHandler.AuditLogs)
	teams.GET("/audit-logs/export", complianceHandler.ExportAuditLogs)
	teams.GET("/transactions/:id/history", complianceHandler.History)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
		os.Exit(1)
	}
}
