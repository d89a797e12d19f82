package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rail-service/rail_bridge/internal/api/routes"
	"github.com/rail-service/rail_bridge/internal/infrastructure/config"
	"github.com/rail-service/rail_bridge/internal/infrastructure/database"
	"github.com/rail-service/rail_bridge/internal/infrastructure/di"
	"github.com/rail-service/rail_bridge/pkg/graceful"
	"github.com/rail-service/rail_bridge/pkg/logger"
	"github.com/rail-service/rail_bridge/pkg/tracing"
)

// @title Rail Bridge API
// @version 1.0
// @description Cross-chain transfer relay: initiation, relayed completion and policy administration.

// @BasePath /api/v1

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// Initialize logger
	log := logger.New(cfg.LogLevel, cfg.Environment)
	defer log.Sync()

	// Initialize OpenTelemetry tracing
	tracingShutdown, err := tracing.InitTracer(context.Background(), tracing.Config{
		Enabled:        cfg.Tracing.Enabled,
		CollectorURL:   cfg.Tracing.CollectorURL,
		Environment:    cfg.Environment,
		SampleRate:     cfg.Tracing.SampleRate,
		Insecure:       cfg.Tracing.Insecure,
		ChainID:        cfg.Chain.ID,
		ServiceVersion: routes.Version,
	}, log.Zap())
	if err != nil {
		log.Fatal("Failed to initialize tracing", "error", err)
	}
	defer tracingShutdown(context.Background())

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Build dependency injection container
	container, err := di.NewContainer(context.Background(), cfg, log)
	if err != nil {
		log.Fatal("Failed to create DI container", "error", err)
	}

	router := routes.SetupRoutes(container)

	server := &http.Server{
		Addr:           fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:        router,
		ReadTimeout:    time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout:   time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20, // 1MB
	}

	shutdown := graceful.NewShutdownManager(server, time.Duration(cfg.Server.ShutdownTimeout)*time.Second, log)

	go container.EventDispatcher.Start(context.Background())
	shutdown.Register(container.EventDispatcher)

	if cfg.Reconciliation.Enabled {
		if err := container.ReconciliationScheduler.Start(); err != nil {
			log.Fatal("Failed to start reconciliation scheduler", "error", err)
		}
		shutdown.Register(container.ReconciliationScheduler)
		log.Info("Reconciliation scheduler started", "schedule", cfg.Reconciliation.Schedule)
	} else {
		log.Info("Reconciliation scheduler disabled in configuration")
	}

	if container.DB != nil {
		stop := make(chan struct{})
		go func() {
			ticker := time.NewTicker(30 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					database.RecordPoolStats(container.DB)
				case <-stop:
					return
				}
			}
		}()
		shutdown.Register(graceful.ShutdownFunc(func(time.Duration) error {
			close(stop)
			return nil
		}))
	}

	shutdown.RegisterCloser(container)

	go func() {
		log.Info("Starting server",
			"addr", server.Addr,
			"chain_id", cfg.Chain.ID,
			"environment", cfg.Environment)

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", "error", err)
		}
	}()

	shutdown.WaitForShutdown()
}
