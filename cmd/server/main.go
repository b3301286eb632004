package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	appentitlement "github.com/verimail/backend/internal/application/entitlement"
	"github.com/verimail/backend/internal/domain/account"
	"github.com/verimail/backend/internal/domain/entitlement"
	"github.com/verimail/backend/internal/domain/usage"
	"github.com/verimail/backend/internal/infrastructure/cache"
	"github.com/verimail/backend/internal/infrastructure/config"
	"github.com/verimail/backend/internal/infrastructure/logger"
	"github.com/verimail/backend/internal/infrastructure/persistence"
	"github.com/verimail/backend/internal/interfaces/http/handler"
	"github.com/verimail/backend/internal/interfaces/http/middleware"
	"github.com/verimail/backend/internal/interfaces/http/router"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	// Initialize logger
	log, err := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = logger.Sync(log)
	}()

	log.Info("Starting entitlement service",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
		zap.String("ledger_backend", cfg.Ledger.Backend),
	)

	// Tier registry with deployment-time overrides
	overrides, err := buildTierOverrides(cfg.Tiers)
	if err != nil {
		log.Fatal("Invalid tier override configuration", zap.Error(err))
	}
	registry, err := entitlement.NewRegistry(overrides...)
	if err != nil {
		log.Fatal("Failed to build tier registry", zap.Error(err))
	}

	// Create GORM logger backed by zap
	gormLogLevel := logger.MapGormLogLevel(cfg.Log.Level)
	gormLog := logger.NewGormLogger(log, gormLogLevel)

	// Database holds the account directory and, with the postgres
	// backend, the usage ledger as well
	db, err := persistence.NewDatabaseWithCustomLogger(&cfg.Database, gormLog)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()
	log.Info("Database connected successfully")

	// Select the usage ledger backend
	var ledger usage.Ledger
	switch cfg.Ledger.Backend {
	case config.LedgerBackendPostgres:
		ledger = persistence.NewGormUsageLedger(db.DB)
		log.Info("Using postgres usage ledger")
	case config.LedgerBackendRedis:
		factory := cache.NewUsageLedgerFactory(cfg.Redis,
			cache.WithLogger(log),
			cache.WithInMemoryFallback(cfg.App.Env != "production"),
		)
		ledger, err = factory.CreateRedisLedger()
		if err != nil {
			log.Fatal("Failed to create redis usage ledger", zap.Error(err))
		}
	case config.LedgerBackendMemory:
		factory := cache.NewUsageLedgerFactory(cfg.Redis, cache.WithLogger(log))
		ledger = factory.CreateInMemoryLedger()
	default:
		log.Fatal("Unknown ledger backend", zap.String("backend", cfg.Ledger.Backend))
	}

	// Wire the entitlement service
	accountRepo := persistence.NewGormAccountRepository(db.DB)
	resolver := account.NewResolver(accountRepo)
	service := appentitlement.NewService(registry, resolver, ledger, log)

	entitlementHandler := handler.NewEntitlementHandler(service, cfg.Ledger.MaxRetries)
	adminHandler := handler.NewAdminHandler(service)

	// Set Gin mode based on environment
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Setup validation
	middleware.SetupValidator()

	engine := gin.New()

	if len(cfg.HTTP.TrustedProxies) > 0 {
		if err := engine.SetTrustedProxies(cfg.HTTP.TrustedProxies); err != nil {
			log.Warn("Failed to set trusted proxies", zap.Error(err))
		}
	}

	// Middleware stack, outermost first
	engine.Use(middleware.RequestID())
	engine.Use(logger.Recovery(log))
	engine.Use(logger.GinMiddleware(log))
	engine.Use(middleware.Secure())

	corsConfig := middleware.CORSConfig{
		AllowOrigins:     cfg.HTTP.CORSAllowOrigins,
		AllowMethods:     cfg.HTTP.CORSAllowMethods,
		AllowHeaders:     cfg.HTTP.CORSAllowHeaders,
		ExposeHeaders:    []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	engine.Use(middleware.CORSWithConfig(corsConfig))

	engine.Use(middleware.BodyLimit(cfg.HTTP.MaxBodySize))

	// Health check endpoint (outside API versioning)
	engine.GET("/health", healthHandler(db))

	// API routes
	r := router.NewRouter(engine, router.WithAPIVersion("v1"))

	entitlementRoutes := router.NewDomainGroup("entitlements", "/entitlements")
	entitlementRoutes.POST("/authorize", entitlementHandler.Authorize)
	entitlementRoutes.GET("/accounts/:id/quota", entitlementHandler.GetQuota)
	entitlementRoutes.GET("/tiers", entitlementHandler.ListTiers)

	adminRoutes := router.NewDomainGroup("admin", "/admin")
	adminRoutes.POST("/accounts/:id/usage/reset", adminHandler.ResetUsage)

	r.Register(entitlementRoutes).Register(adminRoutes)
	r.Setup()

	// Simple ping at root API level for basic liveness checks
	engine.GET("/api/v1/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})

	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown", zap.Error(err))
	}

	if closer, ok := ledger.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			log.Error("Error closing usage ledger", zap.Error(err))
		}
	}

	log.Info("Server exited gracefully")
}

// buildTierOverrides converts configured tier overrides into domain
// overrides, rejecting unknown tiers, reset periods, and features
func buildTierOverrides(cfg config.TiersConfig) ([]entitlement.Override, error) {
	overrides := make([]entitlement.Override, 0, len(cfg.Overrides))
	for _, o := range cfg.Overrides {
		tier, err := entitlement.ParseTierID(o.Tier)
		if err != nil {
			return nil, err
		}
		reset, err := entitlement.ParseResetPeriod(o.Reset)
		if err != nil {
			return nil, err
		}
		features := make([]entitlement.Feature, 0, len(o.Features))
		for _, f := range o.Features {
			features = append(features, entitlement.Feature(f))
		}
		overrides = append(overrides, entitlement.Override{
			Tier:     tier,
			Limit:    o.Limit,
			Reset:    reset,
			Features: features,
		})
	}
	return overrides, nil
}

// healthHandler reports liveness including a database ping
func healthHandler(db *persistence.Database) gin.HandlerFunc {
	return func(c *gin.Context) {
		reqLog := logger.GetGinLogger(c)
		if err := db.Ping(); err != nil {
			reqLog.Warn("Health check failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":   "unhealthy",
				"time":     time.Now().Format(time.RFC3339),
				"database": "error",
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":   "healthy",
			"time":     time.Now().Format(time.RFC3339),
			"database": "ok",
		})
	}
}
