package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/bookpulse-io/bookpulse-engine/pkg/cache"
	"github.com/bookpulse-io/bookpulse-engine/pkg/config"
	"github.com/bookpulse-io/bookpulse-engine/pkg/database"
	"github.com/bookpulse-io/bookpulse-engine/pkg/handlers"
	"github.com/bookpulse-io/bookpulse-engine/pkg/logging"
	"github.com/bookpulse-io/bookpulse-engine/pkg/repositories"
	"github.com/bookpulse-io/bookpulse-engine/pkg/services"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	logger.Info("Configuration loaded",
		zap.String("environment", cfg.Env),
		zap.String("database", cfg.Database.Host),
		zap.String("redis", cfg.Redis.Host))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewConnection(ctx, &cfg.Database)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	if err := database.RunMigrations(db.SQLDB(), "migrations", logger); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}

	var resultCache cache.ResultCache
	redisClient, err := database.NewRedisClient(&cfg.Redis)
	if err != nil {
		logger.Fatal("Failed to connect to redis", zap.Error(err))
	}
	if redisClient != nil {
		resultCache = cache.NewRedisCache(redisClient)
		logger.Info("Using redis result cache")
	} else {
		resultCache = cache.NewMemoryCache()
		logger.Info("Using in-memory result cache")
	}

	auditRepo := repositories.NewAuditRepository(db)
	archiveRepo := repositories.NewAuditArchiveRepository(db, logger)
	eventRepo := repositories.NewSystemEventRepository(db)
	companyRepo := repositories.NewCompanyRepository(db)
	kpiDefRepo := repositories.NewKPIDefinitionRepository(db)
	kpiValRepo := repositories.NewKPIValueRepository(db)
	partRepo := repositories.NewPartitionRepository(db, logger)

	kpiService := services.NewKPIService(kpiDefRepo, kpiValRepo, logger)
	auditService := services.NewAuditService(auditRepo, eventRepo, kpiService, logger)
	metricsService := services.NewMetricsService(auditRepo, kpiDefRepo, kpiValRepo, resultCache, cfg.Cache.DefaultTTL(), logger)
	maintenanceService := services.NewMaintenanceService(
		db, kpiService, companyRepo, auditRepo, archiveRepo, eventRepo, partRepo,
		resultCache, &cfg.Scheduler, &cfg.Retention, logger)

	go maintenanceService.StartScheduler(ctx)

	mux := http.NewServeMux()
	handlers.NewHealthHandler(cfg, logger).RegisterRoutes(mux)
	handlers.NewAuditHandler(auditService, logger).RegisterRoutes(mux)
	handlers.NewMetricsHandler(metricsService, logger).RegisterRoutes(mux)
	handlers.NewKPIHandler(kpiService, logger).RegisterRoutes(mux)
	handlers.NewMaintenanceHandler(maintenanceService, kpiService, logger).RegisterRoutes(mux)

	server := &http.Server{
		Addr:    net.JoinHostPort(cfg.BindAddr, cfg.Port),
		Handler: mux,
	}

	go func() {
		logger.Info("Starting bookpulse-engine",
			zap.String("addr", server.Addr),
			zap.String("version", cfg.Version))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Graceful shutdown failed", zap.Error(err))
	}
}
