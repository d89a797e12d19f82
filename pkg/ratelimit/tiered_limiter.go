// Package ratelimit shares request budgets across bridge nodes through Redis.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const keyPrefix = "bridge:ratelimit:"

// TieredConfig defines tiered rate limiting configuration. A zero limit
// disables its tier.
type TieredConfig struct {
	IPLimit       int64
	IPWindow      time.Duration
	SubjectLimit  int64
	SubjectWindow time.Duration
}

// TieredLimiter checks a caller against the IP tier, then the subject tier,
// using a sliding window per key.
type TieredLimiter struct {
	redis  *redis.Client
	config TieredConfig
	logger *zap.Logger
}

func NewTieredLimiter(redis *redis.Client, config TieredConfig, logger *zap.Logger) *TieredLimiter {
	return &TieredLimiter{
		redis:  redis,
		config: config,
		logger: logger,
	}
}

// CheckResult contains the result of a rate limit check
type CheckResult struct {
	Allowed    bool
	Remaining  int64
	RetryAfter time.Duration
	LimitedBy  string
}

// Check records one request from ip and subject. subject may be empty.
func (l *TieredLimiter) Check(ctx context.Context, ip, subject string) (*CheckResult, error) {
	tiers := []struct {
		name   string
		key    string
		limit  int64
		window time.Duration
	}{
		{"ip", ip, l.config.IPLimit, l.config.IPWindow},
		{"subject", subject, l.config.SubjectLimit, l.config.SubjectWindow},
	}

	remaining := int64(-1)
	for _, tier := range tiers {
		if tier.limit <= 0 || tier.key == "" {
			continue
		}
		allowed, left, err := l.checkLimit(ctx, tier.name, tier.key, tier.limit, tier.window)
		if err != nil {
			return nil, err
		}
		if !allowed {
			l.logger.Debug("Rate limit exceeded",
				zap.String("tier", tier.name),
				zap.String("key", tier.key))
			return &CheckResult{Allowed: false, Remaining: 0, RetryAfter: tier.window, LimitedBy: tier.name}, nil
		}
		if remaining < 0 || left < remaining {
			remaining = left
		}
	}

	return &CheckResult{Allowed: true, Remaining: remaining}, nil
}

func (l *TieredLimiter) checkLimit(ctx context.Context, tier, key string, limit int64, window time.Duration) (bool, int64, error) {
	redisKey := keyPrefix + tier + ":" + key
	now := time.Now()
	windowStart := now.Add(-window)

	pipe := l.redis.Pipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "0", fmt.Sprintf("%d", windowStart.UnixNano()))
	countCmd := pipe.ZCount(ctx, redisKey, fmt.Sprintf("%d", windowStart.UnixNano()), "+inf")
	pipe.ZAdd(ctx, redisKey, &redis.Z{Score: float64(now.UnixNano()), Member: now.UnixNano()})
	pipe.Expire(ctx, redisKey, window*2)

	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, fmt.Errorf("rate limit check failed: %w", err)
	}

	count := countCmd.Val()
	remaining := limit - count - 1
	if remaining < 0 {
		remaining = 0
	}
	return count < limit, remaining, nil
}
