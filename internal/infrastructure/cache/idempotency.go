package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rail-service/rail_bridge/pkg/idempotency"
)

const idempotencyPrefix = "bridge:idempotency:"

// IdempotencyStore keeps idempotent responses in Redis with the record's
// expiry as TTL.
type IdempotencyStore struct {
	client RedisClient
}

var _ idempotency.Store = (*IdempotencyStore)(nil)

func NewIdempotencyStore(client RedisClient) *IdempotencyStore {
	return &IdempotencyStore{client: client}
}

func (s *IdempotencyStore) Get(ctx context.Context, key string) (*idempotency.Record, error) {
	var rec idempotency.Record
	err := s.client.Get(ctx, idempotencyPrefix+key, &rec)
	if errors.Is(err, ErrCacheMiss) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *IdempotencyStore) Create(ctx context.Context, record *idempotency.Record) error {
	ttl := time.Until(record.ExpiresAt)
	if ttl <= 0 {
		return nil
	}
	ok, err := s.client.SetNX(ctx, idempotencyPrefix+record.Key, record, ttl)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("idempotency key %q already stored", record.Key)
	}
	return nil
}
