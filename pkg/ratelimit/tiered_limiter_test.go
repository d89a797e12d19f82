package ratelimit

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("Skipping integration test: TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	require.NoError(t, client.Ping(context.Background()).Err())
	t.Cleanup(func() { client.Close() })
	return client
}

func TestTieredLimiter_SubjectTier(t *testing.T) {
	client := newTestRedis(t)
	limiter := NewTieredLimiter(client, TieredConfig{
		IPLimit:       100,
		IPWindow:      time.Minute,
		SubjectLimit:  2,
		SubjectWindow: time.Minute,
	}, zap.NewNop())
	ctx := context.Background()
	ip := "10.0.0." + uuid.NewString()[:4]
	subject := "relayer-" + uuid.NewString()

	for i := 0; i < 2; i++ {
		res, err := limiter.Check(ctx, ip, subject)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
	}

	res, err := limiter.Check(ctx, ip, subject)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, "subject", res.LimitedBy)
	assert.Equal(t, time.Minute, res.RetryAfter)

	// Another subject from the same address still has budget.
	res, err = limiter.Check(ctx, ip, "relayer-"+uuid.NewString())
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestTieredLimiter_DisabledTiers(t *testing.T) {
	client := newTestRedis(t)
	limiter := NewTieredLimiter(client, TieredConfig{}, zap.NewNop())

	res, err := limiter.Check(context.Background(), "10.0.0.1", "")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, int64(-1), res.Remaining)
}
