package routes

import (
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/rail-service/rail_bridge/docs"
	"github.com/rail-service/rail_bridge/internal/api/handlers"
	"github.com/rail-service/rail_bridge/internal/api/middleware"
	"github.com/rail-service/rail_bridge/internal/infrastructure/di"
	"github.com/rail-service/rail_bridge/pkg/auth"
	"github.com/rail-service/rail_bridge/pkg/idempotency"
	"github.com/rail-service/rail_bridge/pkg/metrics"
	"github.com/rail-service/rail_bridge/pkg/tracing"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// Version is reported by the health probes.
var Version = "dev"

// SetupRoutes configures all application routes
func SetupRoutes(container *di.Container) *gin.Engine {
	router := gin.New()
	cfg := container.Config

	// Global middleware - order matters for security
	router.Use(tracing.HTTPMiddleware())
	router.Use(middleware.RequestID())
	router.Use(metrics.Middleware())
	router.Use(middleware.RequestSizeLimit())
	router.Use(middleware.Logger(container.Logger))
	router.Use(middleware.Recovery(container.Logger))
	router.Use(middleware.CORS(cfg.Server.AllowedOrigins))
	router.Use(middleware.RateLimit(cfg.Server.RateLimitPerMin))
	router.Use(middleware.SecurityHeaders())

	healthHandler := handlers.NewHealthHandler(container.HealthDependencies(), cfg.Chain.ID, Version, container.Logger.Zap())
	bridgeHandlers := handlers.NewBridgeHandlers(container.TransferService, container.CompletionService, container.Logger)
	policyHandlers := handlers.NewPolicyHandlers(container.PolicyService, container.Logger)
	ledgerHandlers := handlers.NewLedgerHandlers(container.LedgerService, container.Logger)
	reconciliationHandlers := handlers.NewReconciliationHandlers(container.ReconciliationService, container.Logger)

	router.GET("/health", healthHandler.Health)
	router.GET("/ready", healthHandler.Ready)
	router.GET("/metrics", handlers.Metrics())

	authenticate := middleware.Authentication(cfg.JWT.Secret, container.Revocations, container.Logger)
	replay := idempotency.Middleware(idempotency.Config{
		Store:   container.Idempotency,
		Locker:  container.Locker,
		Subject: middleware.Subject,
		TTL:     time.Duration(cfg.Store.IdempotencyTTL) * time.Second,
		Logger:  container.Logger.Zap(),
	})
	authenticated := []gin.HandlerFunc{authenticate}
	if container.RateLimiter != nil {
		authenticated = append(authenticated, middleware.DistributedRateLimit(container.RateLimiter, container.Logger))
	}

	v1 := router.Group("/api/v1")
	{
		// Read-only views are public.
		v1.GET("/transfers/:identifier", bridgeHandlers.GetTransfer)
		v1.GET("/transfers/:identifier/processed", bridgeHandlers.IsProcessed)
		v1.GET("/accounts/:account/transfers", bridgeHandlers.ListTransfers)
		v1.GET("/accounts/:account/nonce", bridgeHandlers.NextNonce)
		v1.GET("/policy", policyHandlers.GetPolicy)
		v1.GET("/ledger/accounts/:account/balances/:asset", ledgerHandlers.GetBalance)

		users := v1.Group("")
		users.Use(authenticated...)
		users.Use(middleware.RequireRole(auth.RoleUser, auth.RoleAdmin))
		{
			users.POST("/transfers", replay, bridgeHandlers.InitiateTransfer)
			users.POST("/ledger/allowances", ledgerHandlers.Approve)
		}

		relayers := v1.Group("")
		relayers.Use(authenticated...)
		relayers.Use(middleware.RequireRole(auth.RoleRelayer))
		{
			relayers.POST("/completions", replay, bridgeHandlers.CompleteTransfer)
		}

		admin := v1.Group("/admin")
		admin.Use(authenticated...)
		admin.Use(middleware.RequireRole(auth.RoleAdmin))
		{
			admin.GET("/reconciliation/latest", reconciliationHandlers.Latest)
			admin.GET("/reconciliation/reports", reconciliationHandlers.List)
			admin.GET("/reconciliation/reports/:id", reconciliationHandlers.Get)
		}

		// Mutations additionally need a one-time code when configured.
		mutations := admin.Group("")
		if cfg.Security.RequireAdminTOTP {
			mutations.Use(middleware.RequireTOTP(cfg.Security.AdminTOTPSecret))
		}
		{
			mutations.PUT("/assets/:asset", policyHandlers.SetAssetSupported)
			mutations.PUT("/chains/:chain", policyHandlers.SetChainSupported)
			mutations.PUT("/fee", policyHandlers.SetFeeRate)
			mutations.PUT("/limits", policyHandlers.SetLimits)
			mutations.POST("/pause", policyHandlers.Pause)
			mutations.POST("/unpause", policyHandlers.Unpause)
			mutations.POST("/ledger/fund", ledgerHandlers.Fund)
			mutations.POST("/reconciliation/run", reconciliationHandlers.Run)
		}
	}

	if cfg.Server.EnableSwagger && cfg.Environment != "production" {
		router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	return router
}
