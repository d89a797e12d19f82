package retry

import (
	"context"
	"fmt"
	"time"

	apperrors "github.com/rail-service/rail_bridge/pkg/errors"
	"go.uber.org/zap"
)

// Retrier runs an operation under a Policy.
type Retrier struct {
	policy  Policy
	backoff *Backoff
	logger  *zap.Logger
}

// NewRetrier panics on an invalid policy; policies are built in code.
func NewRetrier(policy Policy, logger *zap.Logger) *Retrier {
	if err := policy.Validate(); err != nil {
		panic(fmt.Sprintf("invalid retry policy: %v", err))
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retrier{policy: policy, backoff: NewBackoff(policy), logger: logger}
}

// Do calls operation until it succeeds, fails with a permanent error, the
// attempts run out or ctx ends. Exhaustion wraps both ErrMaxRetriesExceeded
// and the last error.
func (r *Retrier) Do(ctx context.Context, operation func() error) error {
	attempts := r.policy.MaxRetries + 1
	var err error
	for attempt := 1; ; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err = operation(); err == nil || !r.retryable(err) {
			return err
		}
		if attempt == attempts {
			break
		}
		if r.policy.OnRetry != nil {
			r.policy.OnRetry(attempt, err)
		}

		wait := r.backoff.Calculate(attempt)
		r.logger.Debug("Retrying operation",
			zap.Error(err),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait))
		if err := sleep(ctx, wait); err != nil {
			return err
		}
	}

	r.logger.Warn("Retries exhausted", zap.Error(err), zap.Int("attempts", attempts))
	return fmt.Errorf("%w: %w", ErrMaxRetriesExceeded, err)
}

func (r *Retrier) retryable(err error) bool {
	if r.policy.RetryableFunc != nil {
		return r.policy.RetryableFunc(err)
	}
	return apperrors.ShouldRetry(err)
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Do is a package-level helper for one-off retries.
func Do(ctx context.Context, policy Policy, logger *zap.Logger, operation func() error) error {
	return NewRetrier(policy, logger).Do(ctx, operation)
}
