package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const blacklistPrefix = "bridge:token:revoked:"

// Revocations invalidates every token issued to a subject before a point in
// time, such as a compromised relayer's credentials.
type Revocations interface {
	RevokeSubject(ctx context.Context, subject string, ttl time.Duration) error
	IsRevoked(ctx context.Context, subject string, issuedAt time.Time) (bool, error)
}

// TokenBlacklist manages revoked subjects using Redis
type TokenBlacklist struct {
	redis *redis.Client
}

// NewTokenBlacklist creates a new token blacklist service
func NewTokenBlacklist(redisClient *redis.Client) *TokenBlacklist {
	return &TokenBlacklist{redis: redisClient}
}

// RevokeSubject rejects all tokens for subject issued up to now. The marker
// lives for ttl, which should cover the longest token lifetime.
func (b *TokenBlacklist) RevokeSubject(ctx context.Context, subject string, ttl time.Duration) error {
	return b.redis.Set(ctx, blacklistPrefix+subject, time.Now().Unix(), ttl).Err()
}

// IsRevoked checks whether a token for subject issued at issuedAt was revoked.
func (b *TokenBlacklist) IsRevoked(ctx context.Context, subject string, issuedAt time.Time) (bool, error) {
	val, err := b.redis.Get(ctx, blacklistPrefix+subject).Int64()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check blacklist: %w", err)
	}
	return !issuedAt.After(time.Unix(val, 0)), nil
}
