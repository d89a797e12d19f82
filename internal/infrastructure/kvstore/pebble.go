package kvstore

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/pebble"
)

// PebbleKV is a KV persisted on disk with pebble.
type PebbleKV struct {
	db     *pebble.DB
	closed bool
	mu     sync.RWMutex
}

// pebbleOptions bounds the block cache to 64 MiB and queued memtables to
// 128 MiB.
func pebbleOptions() *pebble.Options {
	return &pebble.Options{
		Cache:                       pebble.NewCache(64 << 20),
		MemTableSize:                32 << 20,
		MemTableStopWritesThreshold: 4,
	}
}

// OpenPebble opens or creates a pebble database at path.
func OpenPebble(path string) (*PebbleKV, error) {
	opts := pebbleOptions()
	defer opts.Cache.Unref()

	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("open pebble at %s: %w", path, err)
	}
	return &PebbleKV{db: db}, nil
}

func (p *PebbleKV) Get(key []byte) ([]byte, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return nil, ErrClosed
	}

	value, closer, err := p.db.Get(key)
	if err == pebble.ErrNotFound {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	result := make([]byte, len(value))
	copy(result, value)
	return result, nil
}

func (p *PebbleKV) NewBatch() Batch {
	return &pebbleBatch{batch: p.db.NewBatch()}
}

func (p *PebbleKV) NewIterator(start, end []byte) (Iterator, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return nil, ErrClosed
	}

	iter, err := p.db.NewIter(&pebble.IterOptions{
		LowerBound: start,
		UpperBound: end,
	})
	if err != nil {
		return nil, fmt.Errorf("create iterator: %w", err)
	}
	return &pebbleIterator{iter: iter}, nil
}

func (p *PebbleKV) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	return p.db.Close()
}

type pebbleBatch struct {
	batch *pebble.Batch
	done  atomic.Bool
}

func (b *pebbleBatch) Put(key, value []byte) error {
	if b.done.Load() {
		return ErrBatchDone
	}
	return b.batch.Set(key, value, nil)
}

func (b *pebbleBatch) Delete(key []byte) error {
	if b.done.Load() {
		return ErrBatchDone
	}
	return b.batch.Delete(key, nil)
}

// Commit writes the batch durably. The batch is released either way.
func (b *pebbleBatch) Commit() error {
	if !b.done.CompareAndSwap(false, true) {
		return ErrBatchDone
	}
	defer b.batch.Close()
	return b.batch.Commit(pebble.Sync)
}

func (b *pebbleBatch) Close() error {
	if !b.done.CompareAndSwap(false, true) {
		return nil
	}
	return b.batch.Close()
}

type pebbleIterator struct {
	iter    *pebble.Iterator
	started bool
}

func (it *pebbleIterator) Next() bool {
	if !it.started {
		it.started = true
		return it.iter.First()
	}
	return it.iter.Next()
}

func (it *pebbleIterator) Key() []byte {
	key := it.iter.Key()
	result := make([]byte, len(key))
	copy(result, key)
	return result
}

func (it *pebbleIterator) Value() ([]byte, error) {
	if !it.iter.Valid() {
		return nil, fmt.Errorf("iterator not positioned")
	}
	val, err := it.iter.ValueAndErr()
	if err != nil {
		return nil, fmt.Errorf("read iterator value: %w", err)
	}
	result := make([]byte, len(val))
	copy(result, val)
	return result, nil
}

func (it *pebbleIterator) Close() error {
	return it.iter.Close()
}
