package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	apperrors "github.com/rail-service/rail_bridge/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy(maxRetries int) Policy {
	return Policy{
		MaxRetries:      maxRetries,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
		Multiplier:      2,
	}
}

func TestDo_SucceedsAfterTransientFailures(t *testing.T) {
	var retried []int
	p := fastPolicy(3)
	p.OnRetry = func(attempt int, _ error) { retried = append(retried, attempt) }

	calls := 0
	err := Do(context.Background(), p, nil, func() error {
		calls++
		if calls < 3 {
			return apperrors.Transient(errors.New("busy"))
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, retried)
}

func TestDo_PermanentErrorStopsImmediately(t *testing.T) {
	permanent := errors.New("invalid")
	calls := 0
	err := Do(context.Background(), fastPolicy(5), nil, func() error {
		calls++
		return permanent
	})
	assert.Same(t, permanent, err)
	assert.Equal(t, 1, calls)
}

func TestDo_Exhausted(t *testing.T) {
	conflict := errors.New("conflict")
	p := fastPolicy(2)
	p.RetryableFunc = func(err error) bool { return errors.Is(err, conflict) }

	calls := 0
	err := Do(context.Background(), p, nil, func() error {
		calls++
		return conflict
	})
	assert.Equal(t, 3, calls)
	assert.ErrorIs(t, err, ErrMaxRetriesExceeded)
	assert.ErrorIs(t, err, conflict)
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Do(ctx, fastPolicy(3), nil, func() error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBackoff_Capped(t *testing.T) {
	b := NewBackoff(Policy{InitialInterval: 10 * time.Millisecond, MaxInterval: 40 * time.Millisecond, Multiplier: 2})
	assert.Equal(t, time.Duration(0), b.Calculate(0))
	assert.Equal(t, 10*time.Millisecond, b.Calculate(1))
	assert.Equal(t, 20*time.Millisecond, b.Calculate(2))
	assert.Equal(t, 40*time.Millisecond, b.Calculate(5))
}

func TestPolicy_Validate(t *testing.T) {
	assert.NoError(t, DefaultPolicy().Validate())
	assert.NoError(t, ConflictPolicy().Validate())
	assert.Error(t, Policy{MaxRetries: -1, Multiplier: 1}.Validate())
	assert.Error(t, Policy{Multiplier: 0.5}.Validate())
	assert.Error(t, Policy{Multiplier: 1, Jitter: 2}.Validate())
}
