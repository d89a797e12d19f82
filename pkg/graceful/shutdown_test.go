package graceful

import (
	"errors"
	"testing"
	"time"

	"github.com/rail-service/rail_bridge/pkg/logger"
	"github.com/stretchr/testify/assert"
)

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func TestShutdown_Order(t *testing.T) {
	var order []string
	sm := NewShutdownManager(nil, time.Second, logger.Nop())
	sm.RegisterCloser(closerFunc(func() error {
		order = append(order, "store")
		return nil
	}))
	sm.Register(ShutdownFunc(func(time.Duration) error {
		order = append(order, "dispatcher")
		return errors.New("slow")
	}))
	sm.Register(ShutdownFunc(func(timeout time.Duration) error {
		assert.Equal(t, time.Second, timeout)
		order = append(order, "scheduler")
		return nil
	}))

	sm.Shutdown()

	assert.Equal(t, []string{"dispatcher", "scheduler", "store"}, order)
}

func TestNewShutdownManager_DefaultTimeout(t *testing.T) {
	sm := NewShutdownManager(nil, 0, logger.Nop())
	assert.Equal(t, 30*time.Second, sm.timeout)
}
