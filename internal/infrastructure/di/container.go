package di

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	"github.com/rail-service/rail_bridge/internal/api/handlers"
	"github.com/rail-service/rail_bridge/internal/domain/entities"
	"github.com/rail-service/rail_bridge/internal/domain/repositories"
	"github.com/rail-service/rail_bridge/internal/domain/services/attestation"
	"github.com/rail-service/rail_bridge/internal/domain/services/completion"
	"github.com/rail-service/rail_bridge/internal/domain/services/ledger"
	"github.com/rail-service/rail_bridge/internal/domain/services/policy"
	"github.com/rail-service/rail_bridge/internal/domain/services/reconciliation"
	"github.com/rail-service/rail_bridge/internal/domain/services/transfer"
	"github.com/rail-service/rail_bridge/internal/infrastructure/adapters/events"
	"github.com/rail-service/rail_bridge/internal/infrastructure/cache"
	"github.com/rail-service/rail_bridge/internal/infrastructure/config"
	"github.com/rail-service/rail_bridge/internal/infrastructure/database"
	pgrepo "github.com/rail-service/rail_bridge/internal/infrastructure/repositories"
	"github.com/rail-service/rail_bridge/internal/workers/event_dispatcher"
	"github.com/rail-service/rail_bridge/pkg/auth"
	"github.com/rail-service/rail_bridge/pkg/idempotency"
	"github.com/rail-service/rail_bridge/pkg/lock"
	"github.com/rail-service/rail_bridge/pkg/logger"
	"github.com/rail-service/rail_bridge/pkg/ratelimit"
	"go.uber.org/zap"
)

// Container holds every dependency of a bridge node.
type Container struct {
	Config *config.Config
	Logger *logger.Logger

	DB    *sqlx.DB
	Redis cache.RedisClient

	Store       repositories.Store
	Locker      lock.Locker
	Idempotency idempotency.Store
	Revocations auth.Revocations
	RateLimiter *ratelimit.TieredLimiter
	Publisher   events.Publisher
	Attestor    attestation.Attestor

	PolicyService         *policy.Service
	LedgerService         *ledger.Service
	TransferService       *transfer.Service
	CompletionService     *completion.Service
	ReconciliationService *reconciliation.Service

	EventDispatcher         *event_dispatcher.Worker
	ReconciliationScheduler *reconciliation.Scheduler
}

// NewContainer builds the backends selected in cfg, seeds the policy and
// wires the services on top.
func NewContainer(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Container, error) {
	c := &Container{Config: cfg, Logger: log}
	zlog := log.Zap()

	if err := c.initializeInfrastructure(ctx, zlog); err != nil {
		c.Close()
		return nil, err
	}
	if err := c.initializeDomainServices(ctx); err != nil {
		c.Close()
		return nil, err
	}
	c.initializeWorkers()

	log.Info("Container initialized",
		"chain_id", cfg.Chain.ID,
		"store", cfg.Store.Driver,
		"publisher", cfg.Events.Publisher,
		"attestor", cfg.Attestor.Mode,
		"alerts", cfg.Alerts.Provider)
	return c, nil
}

func (c *Container) initializeInfrastructure(ctx context.Context, zlog *zap.Logger) error {
	cfg := c.Config

	store, db, err := buildStore(cfg, zlog)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	c.Store = store
	c.DB = db

	if cfg.Redis.Enabled {
		redisClient, err := cache.NewRedisClient(cfg.Redis, zlog)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		c.Redis = redisClient
		if cfg.Security.EnableTokenBlacklist {
			c.Revocations = auth.NewTokenBlacklist(redisClient.Client())
		}
		c.RateLimiter = ratelimit.NewTieredLimiter(redisClient.Client(), ratelimit.TieredConfig{
			IPLimit:       int64(cfg.Server.RateLimitPerMin),
			IPWindow:      time.Minute,
			SubjectLimit:  int64(cfg.Server.SubjectRateLimitPerMin),
			SubjectWindow: time.Minute,
		}, zlog)
	}

	rdb := c.redisClient()
	if c.Locker, err = buildLocker(cfg, rdb, zlog); err != nil {
		return err
	}
	if c.Idempotency, err = buildIdempotencyStore(cfg, c.Redis, db, zlog); err != nil {
		return err
	}
	if c.Publisher, err = buildPublisher(ctx, cfg, rdb, zlog); err != nil {
		return err
	}
	if c.Attestor, err = buildAttestor(cfg); err != nil {
		return fmt.Errorf("failed to build attestor: %w", err)
	}
	return nil
}

func (c *Container) initializeDomainServices(ctx context.Context) error {
	cfg := c.Config
	chainID := cfg.Chain.ID

	c.PolicyService = policy.NewService(c.Store, auth.NewRoleAuthorizer(auth.RoleAdmin), chainID, c.Logger)
	if err := c.bootstrapPolicy(ctx); err != nil {
		return err
	}

	c.LedgerService = ledger.NewService(c.Store, cfg.Chain.CustodyAccount, c.Logger)
	c.TransferService = transfer.NewService(c.Store, c.PolicyService, c.LedgerService, c.Locker, chainID, c.Logger)
	c.CompletionService = completion.NewService(c.Store, c.PolicyService, c.LedgerService, c.Attestor, c.Locker, chainID, c.Logger)
	opts, err := buildReconciliationOptions(cfg, c.Logger.Zap())
	if err != nil {
		return err
	}
	c.ReconciliationService = reconciliation.NewService(c.Store, c.Logger, opts...)
	return nil
}

func (c *Container) bootstrapPolicy(ctx context.Context) error {
	p := c.Config.Policy
	chains, err := p.ChainIDs()
	if err != nil {
		return err
	}
	minAmount, maxAmount, err := p.Limits()
	if err != nil {
		return err
	}
	seeded, err := c.PolicyService.Bootstrap(ctx, entities.Policy{
		SupportedAssets:   p.SupportedAssets,
		SupportedChains:   chains,
		FeeRateBps:        p.FeeRateBps,
		MinTransferAmount: minAmount,
		MaxTransferAmount: maxAmount,
		Paused:            p.Paused,
	})
	if err != nil {
		return fmt.Errorf("failed to bootstrap policy: %w", err)
	}
	c.Logger.Info("Policy loaded",
		"assets", len(seeded.SupportedAssets),
		"chains", len(seeded.SupportedChains),
		"fee_rate_bps", seeded.FeeRateBps,
		"paused", seeded.Paused)
	return nil
}

func (c *Container) initializeWorkers() {
	cfg := c.Config
	c.EventDispatcher = event_dispatcher.NewWorker(c.Store.Outbox(), c.Publisher, &event_dispatcher.Config{
		PollInterval: time.Duration(cfg.Events.PollInterval) * time.Millisecond,
		BatchSize:    cfg.Events.BatchSize,
		MaxAttempts:  cfg.Events.MaxAttempts,
	}, c.Logger)

	var jobs []reconciliation.Job
	if repo, ok := c.Idempotency.(*pgrepo.IdempotencyRepository); ok {
		jobs = append(jobs, reconciliation.Job{
			Name:     "idempotency_cleanup",
			Schedule: "@hourly",
			Run: func(ctx context.Context) error {
				n, err := repo.DeleteExpired(ctx)
				if err == nil && n > 0 {
					c.Logger.Info("Deleted expired idempotency keys", "count", n)
				}
				return err
			},
		})
	}
	c.ReconciliationScheduler = reconciliation.NewScheduler(c.ReconciliationService, cfg.Reconciliation.Schedule, c.Logger, jobs...)
}

// HealthDependencies lists the backends probed by /ready.
func (c *Container) HealthDependencies() map[string]handlers.Pinger {
	deps := map[string]handlers.Pinger{"store": c.Store}
	if c.DB != nil {
		db := c.DB
		deps["database"] = handlers.PingFunc(func(ctx context.Context) error {
			return database.HealthCheck(ctx, db)
		})
	}
	if c.Redis != nil {
		deps["redis"] = c.Redis
	}
	return deps
}

func (c *Container) redisClient() *redis.Client {
	if c.Redis == nil {
		return nil
	}
	return c.Redis.Client()
}

// Close releases the backends. The dispatcher and scheduler must be stopped
// first.
func (c *Container) Close() error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if c.Store != nil {
		keep(c.Store.Close())
	}
	if c.DB != nil {
		keep(c.DB.Close())
	}
	if c.Redis != nil {
		keep(c.Redis.Close())
	}
	return firstErr
}
