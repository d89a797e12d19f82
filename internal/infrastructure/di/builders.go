package di

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	"github.com/rail-service/rail_bridge/internal/domain/repositories"
	"github.com/rail-service/rail_bridge/internal/domain/services/attestation"
	"github.com/rail-service/rail_bridge/internal/domain/services/reconciliation"
	"github.com/rail-service/rail_bridge/internal/infrastructure/adapters/alerts"
	"github.com/rail-service/rail_bridge/internal/infrastructure/adapters/events"
	"github.com/rail-service/rail_bridge/internal/infrastructure/cache"
	"github.com/rail-service/rail_bridge/internal/infrastructure/config"
	"github.com/rail-service/rail_bridge/internal/infrastructure/database"
	"github.com/rail-service/rail_bridge/internal/infrastructure/kvstore"
	pgrepo "github.com/rail-service/rail_bridge/internal/infrastructure/repositories"
	"github.com/rail-service/rail_bridge/pkg/idempotency"
	"github.com/rail-service/rail_bridge/pkg/lock"
	"go.uber.org/zap"
)

// buildStore opens the configured persistence backend. db is non-nil only
// for the postgres driver.
func buildStore(cfg *config.Config, logger *zap.Logger) (repositories.Store, *sqlx.DB, error) {
	switch cfg.Store.Driver {
	case config.StoreDriverPostgres:
		db, err := database.NewConnection(cfg.Database)
		if err != nil {
			return nil, nil, err
		}
		if err := database.RunMigrations(db, cfg.Store.MigrationsDir); err != nil {
			db.Close()
			return nil, nil, err
		}
		logger.Info("Using postgres store")
		return pgrepo.NewPostgresStore(db, logger), db, nil

	case config.StoreDriverPebble:
		store, err := kvstore.NewPebbleStore(cfg.Store.PebblePath, logger)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("Using pebble store", zap.String("path", cfg.Store.PebblePath))
		return store, nil, nil

	case config.StoreDriverMemory:
		logger.Warn("Using in-memory store; state is lost on restart")
		return kvstore.NewMemoryStore(logger), nil, nil

	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

func buildLocker(cfg *config.Config, rdb *redis.Client, logger *zap.Logger) (lock.Locker, error) {
	switch cfg.Store.LockDriver {
	case "", "local":
		return lock.NewLocalLocker(), nil
	case "redis":
		if rdb == nil {
			return nil, fmt.Errorf("redis lock driver requires redis to be enabled")
		}
		return cache.NewRedisLocker(rdb, time.Duration(cfg.Store.LockTTL)*time.Second, logger), nil
	default:
		return nil, fmt.Errorf("unknown lock driver %q", cfg.Store.LockDriver)
	}
}

func buildIdempotencyStore(cfg *config.Config, redisClient cache.RedisClient, db *sqlx.DB, logger *zap.Logger) (idempotency.Store, error) {
	switch cfg.Store.IdempotencyDriver {
	case "", "memory":
		return idempotency.NewMemoryStore(), nil
	case "redis":
		if redisClient == nil {
			return nil, fmt.Errorf("redis idempotency driver requires redis to be enabled")
		}
		return cache.NewIdempotencyStore(redisClient), nil
	case "postgres":
		if db == nil {
			return nil, fmt.Errorf("postgres idempotency driver requires the postgres store")
		}
		return pgrepo.NewIdempotencyRepository(db, logger), nil
	default:
		return nil, fmt.Errorf("unknown idempotency driver %q", cfg.Store.IdempotencyDriver)
	}
}

func buildPublisher(ctx context.Context, cfg *config.Config, rdb *redis.Client, logger *zap.Logger) (events.Publisher, error) {
	switch cfg.Events.Publisher {
	case "", config.PublisherLog:
		return events.NewLogPublisher(logger), nil
	case config.PublisherRedis:
		if rdb == nil {
			return nil, fmt.Errorf("redis publisher requires redis to be enabled")
		}
		return events.NewBreakerPublisher("redis-publisher",
			events.NewRedisPublisher(rdb, cfg.Events.ChannelPrefix), logger), nil
	case config.PublisherSNS:
		if cfg.Events.SNSTopicARN == "" {
			return nil, fmt.Errorf("sns publisher requires a topic ARN")
		}
		sns, err := events.NewSNSPublisher(ctx, cfg.Events.AWSRegion, cfg.Events.SNSTopicARN, logger)
		if err != nil {
			return nil, err
		}
		return events.NewBreakerPublisher("sns-publisher", sns, logger), nil
	default:
		return nil, fmt.Errorf("unknown event publisher %q", cfg.Events.Publisher)
	}
}

func buildAttestor(cfg *config.Config) (attestation.Attestor, error) {
	switch cfg.Attestor.Mode {
	case config.AttestorModeKeySet:
		return attestation.NewKeySetAttestor(cfg.Attestor.PublicKeys, cfg.Attestor.Threshold)
	case config.AttestorModePrincipal:
		return attestation.NewPrincipalAttestor(cfg.Attestor.AllowedSubjects...), nil
	default:
		return nil, fmt.Errorf("unknown attestor mode %q", cfg.Attestor.Mode)
	}
}

// buildReconciliationOptions returns the alerter option when an alert
// provider is configured.
func buildReconciliationOptions(cfg *config.Config, logger *zap.Logger) ([]reconciliation.Option, error) {
	switch cfg.Alerts.Provider {
	case "":
		return nil, nil
	case config.AlertProviderSendGrid:
		alerter, err := alerts.NewSendGridAlerter(alerts.Config{
			APIKey:     cfg.Alerts.SendGridAPIKey,
			FromEmail:  cfg.Alerts.FromEmail,
			FromName:   cfg.Alerts.FromName,
			Recipients: cfg.Alerts.Recipients,
			ChainID:    cfg.Chain.ID,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to build sendgrid alerter: %w", err)
		}
		return []reconciliation.Option{reconciliation.WithAlerter(alerter)}, nil
	default:
		return nil, fmt.Errorf("unknown alert provider %q", cfg.Alerts.Provider)
	}
}
