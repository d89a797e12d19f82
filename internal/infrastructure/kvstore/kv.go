// Package kvstore implements the bridge repositories over an ordered
// key-value store, either in memory or on disk with pebble.
package kvstore

import (
	"bytes"
	"errors"
	"sort"
	"sync"
)

var (
	ErrKeyNotFound = errors.New("key not found")
	ErrClosed      = errors.New("store closed")
	ErrBatchDone   = errors.New("batch already committed or closed")
)

// KV is an ordered key-value store with atomic batches.
type KV interface {
	Get(key []byte) ([]byte, error)
	NewBatch() Batch
	// NewIterator walks keys in [start, end) in ascending order.
	NewIterator(start, end []byte) (Iterator, error)
	Close() error
}

// Batch represents an atomic batch of operations.
type Batch interface {
	Put(key, value []byte) error
	Delete(key []byte) error
	Commit() error
	Close() error
}

// Iterator provides sequential access over a range of key-value pairs.
// Iterators must be closed after use.
type Iterator interface {
	Next() bool
	Key() []byte
	Value() ([]byte, error)
	Close() error
}

// MemoryKV is a KV held in process memory.
type MemoryKV struct {
	mu     sync.RWMutex
	data   map[string][]byte
	closed bool
}

// NewMemoryKV creates an empty in-memory KV.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{data: make(map[string][]byte)}
}

func (m *MemoryKV) Get(key []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	v, ok := m.data[string(key)]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return bytes.Clone(v), nil
}

func (m *MemoryKV) NewBatch() Batch {
	return &memoryBatch{kv: m}
}

func (m *MemoryKV) NewIterator(start, end []byte) (Iterator, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}

	it := &memoryIterator{pos: -1}
	for k, v := range m.data {
		kb := []byte(k)
		if start != nil && bytes.Compare(kb, start) < 0 {
			continue
		}
		if end != nil && bytes.Compare(kb, end) >= 0 {
			continue
		}
		it.keys = append(it.keys, kb)
		it.values = append(it.values, bytes.Clone(v))
	}
	sort.Sort(it)
	return it, nil
}

func (m *MemoryKV) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

type memoryOp struct {
	key    string
	value  []byte
	delete bool
}

type memoryBatch struct {
	kv   *MemoryKV
	ops  []memoryOp
	done bool
}

func (b *memoryBatch) Put(key, value []byte) error {
	if b.done {
		return ErrBatchDone
	}
	b.ops = append(b.ops, memoryOp{key: string(key), value: bytes.Clone(value)})
	return nil
}

func (b *memoryBatch) Delete(key []byte) error {
	if b.done {
		return ErrBatchDone
	}
	b.ops = append(b.ops, memoryOp{key: string(key), delete: true})
	return nil
}

func (b *memoryBatch) Commit() error {
	if b.done {
		return ErrBatchDone
	}
	b.kv.mu.Lock()
	defer b.kv.mu.Unlock()
	if b.kv.closed {
		return ErrClosed
	}
	for _, op := range b.ops {
		if op.delete {
			delete(b.kv.data, op.key)
		} else {
			b.kv.data[op.key] = op.value
		}
	}
	b.done = true
	return nil
}

func (b *memoryBatch) Close() error {
	b.done = true
	b.ops = nil
	return nil
}

type memoryIterator struct {
	keys   [][]byte
	values [][]byte
	pos    int
}

func (it *memoryIterator) Len() int           { return len(it.keys) }
func (it *memoryIterator) Less(i, j int) bool { return bytes.Compare(it.keys[i], it.keys[j]) < 0 }
func (it *memoryIterator) Swap(i, j int) {
	it.keys[i], it.keys[j] = it.keys[j], it.keys[i]
	it.values[i], it.values[j] = it.values[j], it.values[i]
}

func (it *memoryIterator) Next() bool {
	it.pos++
	return it.pos < len(it.keys)
}

func (it *memoryIterator) Key() []byte {
	return it.keys[it.pos]
}

func (it *memoryIterator) Value() ([]byte, error) {
	if it.pos < 0 || it.pos >= len(it.keys) {
		return nil, errors.New("iterator not positioned")
	}
	return it.values[it.pos], nil
}

func (it *memoryIterator) Close() error {
	return nil
}
