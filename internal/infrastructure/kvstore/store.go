package kvstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rail-service/rail_bridge/internal/domain/repositories"
	"github.com/rail-service/rail_bridge/pkg/metrics"
	"github.com/rail-service/rail_bridge/pkg/retry"
	"go.uber.org/zap"
)

// ErrConflict is returned when a transaction's reads were invalidated by a
// concurrent commit. WithinTx retries such transactions.
var ErrConflict = errors.New("transaction conflict")

// Store implements repositories.Store on a KV with optimistic transactions:
// each transaction records the values it read and commit fails if any of them
// changed in the meantime.
type Store struct {
	kv       KV
	commitMu sync.Mutex
	policy   retry.Policy
	logger   *zap.Logger
}

var _ repositories.Store = (*Store)(nil)

// NewStore wraps kv.
func NewStore(kv KV, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := retry.ConflictPolicy()
	p.RetryableFunc = func(err error) bool { return errors.Is(err, ErrConflict) }
	p.OnRetry = func(int, error) { metrics.StoreConflictsTotal.Inc() }
	return &Store{kv: kv, policy: p, logger: logger}
}

// NewMemoryStore creates a store backed by process memory.
func NewMemoryStore(logger *zap.Logger) *Store {
	return NewStore(NewMemoryKV(), logger)
}

// NewPebbleStore opens a store persisted at path.
func NewPebbleStore(path string, logger *zap.Logger) (*Store, error) {
	kv, err := OpenPebble(path)
	if err != nil {
		return nil, err
	}
	return NewStore(kv, logger), nil
}

func (s *Store) Nonces() repositories.NonceRepository           { return &nonceRepo{s} }
func (s *Store) Transfers() repositories.TransferRepository     { return &transferRepo{s} }
func (s *Store) Completions() repositories.CompletionRepository { return &completionRepo{s} }
func (s *Store) Policies() repositories.PolicyRepository        { return &policyRepo{s} }
func (s *Store) Outbox() repositories.OutboxRepository          { return &outboxRepo{s} }
func (s *Store) Ledger() repositories.LedgerRepository          { return &ledgerRepo{s} }
func (s *Store) Reports() repositories.ReconciliationReportRepository {
	return &reportRepo{s}
}

func (s *Store) Ping(ctx context.Context) error {
	_, err := s.kv.Get([]byte(keyPolicy))
	if err != nil && !errors.Is(err, ErrKeyNotFound) {
		return err
	}
	return nil
}

func (s *Store) Close() error {
	return s.kv.Close()
}

type txKey struct{}

type readValue struct {
	value  []byte
	exists bool
}

type writeValue struct {
	value  []byte
	delete bool
}

// kvTx buffers writes and records reads until commit.
type kvTx struct {
	store  *Store
	reads  map[string]readValue
	writes map[string]writeValue
}

// WithinTx runs fn in one optimistic transaction, retrying on conflict. A
// nested call joins the enclosing transaction.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*kvTx); ok {
		return fn(ctx)
	}

	return retry.Do(ctx, s.policy, s.logger, func() error {
		tx := &kvTx{
			store:  s,
			reads:  make(map[string]readValue),
			writes: make(map[string]writeValue),
		}
		if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
			return err
		}
		return tx.commit()
	})
}

// run executes fn in the transaction carried by ctx or, failing that, in a
// new single-operation transaction.
func (s *Store) run(ctx context.Context, fn func(tx *kvTx) error) error {
	if tx, ok := ctx.Value(txKey{}).(*kvTx); ok {
		return fn(tx)
	}
	return s.WithinTx(ctx, func(ctx context.Context) error {
		return fn(ctx.Value(txKey{}).(*kvTx))
	})
}

func (tx *kvTx) get(key string) ([]byte, bool, error) {
	if w, ok := tx.writes[key]; ok {
		if w.delete {
			return nil, false, nil
		}
		return w.value, true, nil
	}
	if r, ok := tx.reads[key]; ok {
		return r.value, r.exists, nil
	}

	v, err := tx.store.kv.Get([]byte(key))
	switch {
	case errors.Is(err, ErrKeyNotFound):
		tx.reads[key] = readValue{}
		return nil, false, nil
	case err != nil:
		return nil, false, err
	}
	tx.reads[key] = readValue{value: v, exists: true}
	return v, true, nil
}

func (tx *kvTx) getJSON(key string, dest interface{}) (bool, error) {
	v, ok, err := tx.get(key)
	if err != nil || !ok {
		return ok, err
	}
	if err := json.Unmarshal(v, dest); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func (tx *kvTx) put(key string, value []byte) {
	tx.writes[key] = writeValue{value: value}
}

func (tx *kvTx) putJSON(key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	tx.put(key, data)
	return nil
}

func (tx *kvTx) delete(key string) {
	tx.writes[key] = writeValue{delete: true}
}

// scan returns committed pairs under prefix overlaid with this transaction's
// own writes. Scanned keys are not added to the read set.
func (tx *kvTx) scan(prefix string) ([]string, [][]byte, error) {
	merged := make(map[string][]byte)

	it, err := tx.store.kv.NewIterator([]byte(prefix), prefixEnd([]byte(prefix)))
	if err != nil {
		return nil, nil, err
	}
	for it.Next() {
		v, err := it.Value()
		if err != nil {
			it.Close()
			return nil, nil, err
		}
		merged[string(it.Key())] = v
	}
	if err := it.Close(); err != nil {
		return nil, nil, err
	}

	for k, w := range tx.writes {
		if len(k) < len(prefix) || k[:len(prefix)] != prefix {
			continue
		}
		if w.delete {
			delete(merged, k)
		} else {
			merged[k] = w.value
		}
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	values := make([][]byte, len(keys))
	for i, k := range keys {
		values[i] = merged[k]
	}
	return keys, values, nil
}

func (tx *kvTx) commit() error {
	if len(tx.writes) == 0 {
		return nil
	}

	tx.store.commitMu.Lock()
	defer tx.store.commitMu.Unlock()

	for key, read := range tx.reads {
		current, err := tx.store.kv.Get([]byte(key))
		exists := true
		if errors.Is(err, ErrKeyNotFound) {
			exists = false
		} else if err != nil {
			return err
		}
		if exists != read.exists || !bytes.Equal(current, read.value) {
			return ErrConflict
		}
	}

	batch := tx.store.kv.NewBatch()
	defer batch.Close()
	for key, w := range tx.writes {
		var err error
		if w.delete {
			err = batch.Delete([]byte(key))
		} else {
			err = batch.Put([]byte(key), w.value)
		}
		if err != nil {
			return err
		}
	}
	return batch.Commit()
}

// prefixEnd returns the smallest key greater than every key with prefix.
func prefixEnd(prefix []byte) []byte {
	end := bytes.Clone(prefix)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}
