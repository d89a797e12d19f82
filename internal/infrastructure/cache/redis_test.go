package cache

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/rail-service/rail_bridge/pkg/idempotency"
	"github.com/rail-service/rail_bridge/pkg/lock"
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

func TestRedisLocker_MutualExclusion(t *testing.T) {
	client := newTestRedis(t)
	locker := NewRedisLocker(client, 5*time.Second, zap.NewNop())
	key := "nonce:" + uuid.NewString()

	var (
		mu      sync.Mutex
		inside  int
		maxSeen int
		wg      sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := locker.Lock(context.Background(), key)
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()

			time.Sleep(5 * time.Millisecond)

			mu.Lock()
			inside--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxSeen)
}

func TestRedisLocker_ContextCancelled(t *testing.T) {
	client := newTestRedis(t)
	locker := NewRedisLocker(client, 5*time.Second, zap.NewNop())
	key := "completion:" + uuid.NewString()

	unlock, err := locker.Lock(context.Background(), key)
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(ctx, key)
	assert.ErrorIs(t, err, lock.ErrNotAcquired)
}

func TestIdempotencyStore(t *testing.T) {
	client := newTestRedis(t)
	store := NewIdempotencyStore(NewRedisClientFrom(client, zap.NewNop()))
	ctx := context.Background()
	key := "alice:" + uuid.NewString()

	rec, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, rec)

	record := &idempotency.Record{
		Key:            key,
		RequestHash:    "h",
		ResponseStatus: 201,
		ResponseBody:   []byte(`{"ok":true}`),
		ExpiresAt:      time.Now().Add(time.Minute),
	}
	require.NoError(t, store.Create(ctx, record))
	assert.Error(t, store.Create(ctx, record))

	rec, err = store.Get(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, 201, rec.ResponseStatus)
	assert.JSONEq(t, `{"ok":true}`, string(rec.ResponseBody))
}
