// Package idempotency replays the stored response of a state-changing request
// when a client retries it with the same Idempotency-Key.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
)

// DefaultTTL is how long a stored response is replayed.
const DefaultTTL = 24 * time.Hour

const maxKeyLength = 255

// Record is a stored response.
type Record struct {
	Key            string          `json:"key"`
	RequestPath    string          `json:"request_path"`
	RequestMethod  string          `json:"request_method"`
	RequestHash    string          `json:"request_hash"`
	Subject        string          `json:"subject,omitempty"`
	ResponseStatus int             `json:"response_status"`
	ResponseBody   json.RawMessage `json:"response_body"`
	CreatedAt      time.Time       `json:"created_at"`
	ExpiresAt      time.Time       `json:"expires_at"`
}

// ValidateKey checks the client-supplied key.
func ValidateKey(key string) error {
	if len(key) < 8 {
		return errors.New("idempotency key must be at least 8 characters")
	}
	if len(key) > maxKeyLength {
		return fmt.Errorf("idempotency key must be at most %d characters", maxKeyLength)
	}
	for _, r := range key {
		if r < 0x21 || r > 0x7e {
			return errors.New("idempotency key must be printable ASCII without spaces")
		}
	}
	return nil
}

// ScopeKey namespaces key by the caller so two callers cannot collide.
func ScopeKey(subject, key string) string {
	return subject + ":" + key
}

// ReadBody reads at most limit bytes.
func ReadBody(body io.Reader, limit int64) ([]byte, error) {
	if body == nil {
		return nil, nil
	}
	data, err := io.ReadAll(io.LimitReader(body, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("request body exceeds %d bytes", limit)
	}
	return data, nil
}

// HashRequest fingerprints a request so a reused key with a different
// request is detected.
func HashRequest(method, path string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte{0})
	h.Write([]byte(path))
	h.Write([]byte{0})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// ShouldReturnCached reports whether the stored response answers a request
// with the given hash.
func ShouldReturnCached(existing *Record, requestHash string) (bool, string) {
	if existing.RequestHash != requestHash {
		return false, "idempotency key was already used with a different request"
	}
	return true, ""
}

// MemoryStore keeps records in process. Used by single-node deployments and
// tests.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*Record
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record), now: time.Now}
}

func (s *MemoryStore) Get(_ context.Context, key string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok {
		return nil, nil
	}
	if !s.now().Before(rec.ExpiresAt) {
		delete(s.records, key)
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (s *MemoryStore) Create(_ context.Context, record *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.records[record.Key]; ok && s.now().Before(existing.ExpiresAt) {
		return fmt.Errorf("idempotency key %q already stored", record.Key)
	}
	cp := *record
	s.records[record.Key] = &cp
	return nil
}
