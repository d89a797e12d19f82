package event_dispatcher

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rail-service/rail_bridge/internal/domain/entities"
	"github.com/rail-service/rail_bridge/internal/domain/repositories"
	"github.com/rail-service/rail_bridge/internal/infrastructure/adapters/events"
	"github.com/rail-service/rail_bridge/pkg/logger"
	"github.com/rail-service/rail_bridge/pkg/metrics"
	"github.com/rail-service/rail_bridge/pkg/retry"
)

// Worker drains the outbox into a publisher. Events stay pending until the
// publisher accepts them, so delivery is at-least-once.
type Worker struct {
	outbox       repositories.OutboxRepository
	publisher    events.Publisher
	retrier      *retry.Retrier
	pollInterval time.Duration
	batchSize    int
	logger       *logger.Logger
	stopCh       chan struct{}
	stopOnce     sync.Once
	started      atomic.Bool
	done         chan struct{}
}

// Config holds worker configuration
type Config struct {
	PollInterval time.Duration
	BatchSize    int
	// MaxAttempts bounds publish attempts per event per poll.
	MaxAttempts int
}

// DefaultConfig returns default worker configuration
func DefaultConfig() *Config {
	return &Config{
		PollInterval: time.Second,
		BatchSize:    100,
		MaxAttempts:  3,
	}
}

// NewWorker creates a new event dispatcher
func NewWorker(outbox repositories.OutboxRepository, publisher events.Publisher, config *Config, logger *logger.Logger) *Worker {
	if config == nil {
		config = DefaultConfig()
	}
	policy := retry.DefaultPolicy()
	if config.MaxAttempts > 0 {
		policy.MaxRetries = config.MaxAttempts - 1
	}
	return &Worker{
		outbox:       outbox,
		publisher:    publisher,
		retrier:      retry.NewRetrier(policy, logger.Zap()),
		pollInterval: config.PollInterval,
		batchSize:    config.BatchSize,
		logger:       logger,
		stopCh:       make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// Start polls until ctx is done or Stop is called. It returns at once if the
// worker already ran or was shut down.
func (w *Worker) Start(ctx context.Context) {
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	defer close(w.done)

	w.logger.Info("Starting event dispatcher",
		"poll_interval", w.pollInterval.String(),
		"batch_size", w.batchSize)

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		if _, err := w.DispatchOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			w.logger.Error("Event dispatch failed", "error", err)
		}

		select {
		case <-ctx.Done():
			w.logger.Info("Event dispatcher stopped (context cancelled)")
			return
		case <-w.stopCh:
			w.logger.Info("Event dispatcher stopped")
			return
		case <-ticker.C:
		}
	}
}

// Stop stops the worker
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
}

// Shutdown stops the worker and waits for the current batch.
func (w *Worker) Shutdown(timeout time.Duration) error {
	w.Stop()
	if w.started.CompareAndSwap(false, true) {
		close(w.done)
	}
	select {
	case <-w.done:
		return nil
	case <-time.After(timeout):
		return errors.New("event dispatcher did not stop in time")
	}
}

// DispatchOnce publishes one batch of pending events and returns how many
// were delivered.
func (w *Worker) DispatchOnce(ctx context.Context) (int, error) {
	pending, err := w.outbox.ListPending(ctx, w.batchSize)
	if err != nil {
		return 0, err
	}

	delivered := 0
	for _, event := range pending {
		if ctx.Err() != nil {
			return delivered, ctx.Err()
		}
		if w.dispatch(ctx, event) {
			delivered++
		}
	}

	if count, err := w.outbox.CountPending(ctx); err == nil {
		metrics.OutboxPendingGauge.Set(float64(count))
	}
	if delivered > 0 {
		w.logger.Debug("Dispatched events", "count", delivered)
	}
	return delivered, nil
}

func (w *Worker) dispatch(ctx context.Context, event *entities.OutboxEvent) bool {
	err := w.retrier.Do(ctx, func() error {
		return w.publisher.Publish(ctx, event)
	})
	if err != nil {
		metrics.EventsDispatchedTotal.WithLabelValues(string(event.Type), "failed").Inc()
		w.logger.Warn("Failed to publish event",
			"event_id", event.ID,
			"event_type", event.Type,
			"attempts", event.Attempts+1,
			"error", err)
		if markErr := w.outbox.MarkFailed(ctx, event.ID, err.Error()); markErr != nil {
			w.logger.Error("Failed to record publish failure", "event_id", event.ID, "error", markErr)
		}
		return false
	}

	// A crash between publish and this write re-sends the event on restart;
	// consumers deduplicate on the event id.
	if err := w.outbox.MarkDispatched(ctx, event.ID); err != nil {
		w.logger.Error("Failed to mark event dispatched", "event_id", event.ID, "error", err)
		return false
	}
	metrics.EventsDispatchedTotal.WithLabelValues(string(event.Type), "delivered").Inc()
	return true
}
