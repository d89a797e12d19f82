// Package errors classifies errors for retry decisions.
package errors

import (
	"context"
	"errors"
	"net"
	"syscall"
)

// retryable is implemented by errors that know whether they are transient,
// such as the domain error type and store conflict errors.
type retryable interface {
	IsRetryable() bool
}

// temporary is the legacy net.Error contract still honoured by some clients.
type temporary interface {
	Temporary() bool
}

// ShouldRetry reports whether an operation that failed with err may succeed
// if attempted again.
func ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var r retryable
	if errors.As(err, &r) {
		return r.IsRetryable()
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var t temporary
	if errors.As(err, &t) && t.Temporary() {
		return true
	}

	return errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE)
}

// Transient marks err as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

type transientError struct {
	err error
}

func (e *transientError) Error() string     { return e.err.Error() }
func (e *transientError) Unwrap() error     { return e.err }
func (e *transientError) IsRetryable() bool { return true }
