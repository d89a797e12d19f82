package retry

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// ErrMaxRetriesExceeded is returned once every attempt has failed.
var ErrMaxRetriesExceeded = errors.New("max retries exceeded")

// Policy configures how many times and how quickly an operation is retried.
type Policy struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	// Jitter is the fraction of each interval randomised, 0..1.
	Jitter float64
	// RetryableFunc overrides the default error classification.
	RetryableFunc func(error) bool
	// OnRetry is called with the failed attempt (1-based) before each wait.
	OnRetry func(attempt int, err error)
}

// DefaultPolicy suits calls to external brokers and services.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:      3,
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		Multiplier:      2,
		Jitter:          0.2,
	}
}

// ConflictPolicy suits optimistic store transactions: quick, tight retries.
func ConflictPolicy() Policy {
	return Policy{
		MaxRetries:      8,
		InitialInterval: time.Millisecond,
		MaxInterval:     50 * time.Millisecond,
		Multiplier:      2,
		Jitter:          0.5,
	}
}

// Validate checks the policy is usable.
func (p Policy) Validate() error {
	if p.MaxRetries < 0 {
		return fmt.Errorf("max retries must be non-negative, got %d", p.MaxRetries)
	}
	if p.InitialInterval < 0 || p.MaxInterval < 0 {
		return fmt.Errorf("intervals must be non-negative")
	}
	if p.MaxInterval > 0 && p.InitialInterval > p.MaxInterval {
		return fmt.Errorf("initial interval %s exceeds max interval %s", p.InitialInterval, p.MaxInterval)
	}
	if p.Multiplier < 1 {
		return fmt.Errorf("multiplier must be >= 1, got %f", p.Multiplier)
	}
	if p.Jitter < 0 || p.Jitter > 1 {
		return fmt.Errorf("jitter must be within [0,1], got %f", p.Jitter)
	}
	return nil
}

// Backoff computes exponential wait intervals for a policy.
type Backoff struct {
	policy Policy
}

// NewBackoff creates a backoff calculator.
func NewBackoff(policy Policy) *Backoff {
	return &Backoff{policy: policy}
}

// Calculate returns the wait before the given attempt (1-based).
func (b *Backoff) Calculate(attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	interval := float64(b.policy.InitialInterval) * math.Pow(b.policy.Multiplier, float64(attempt-1))
	if b.policy.MaxInterval > 0 && interval > float64(b.policy.MaxInterval) {
		interval = float64(b.policy.MaxInterval)
	}
	if b.policy.Jitter > 0 {
		delta := interval * b.policy.Jitter
		interval = interval - delta + rand.Float64()*2*delta
	}
	if interval < 0 {
		return 0
	}
	return time.Duration(interval)
}
