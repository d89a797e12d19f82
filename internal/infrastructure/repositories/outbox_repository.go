package repositories

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rail-service/rail_bridge/internal/domain/entities"
	domain "github.com/rail-service/rail_bridge/internal/domain/repositories"
	"github.com/rail-service/rail_bridge/pkg/tracing"
)

// OutboxRepository stores events written alongside state changes until the
// dispatcher delivers them.
type OutboxRepository struct {
	conn
}

func NewOutboxRepository(db *sqlx.DB) *OutboxRepository {
	return &OutboxRepository{conn{db}}
}

func (r *OutboxRepository) Append(ctx context.Context, e *entities.OutboxEvent) error {
	ctx, span := tracing.StartDBSpan(ctx, tracing.DBSpanConfig{
		Operation: "INSERT",
		Table:     "outbox_events",
	})
	defer span.End()

	query := `
		INSERT INTO outbox_events (id, event_type, aggregate_key, chain_id, payload, attempts, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	// JSONB takes the payload as text; lib/pq would send []byte as bytea.
	_, err := r.ext(ctx).ExecContext(ctx, query,
		e.ID,
		e.Type,
		e.Key,
		numeric(e.ChainID),
		string(e.Payload),
		e.Attempts,
		e.CreatedAt,
	)
	tracing.EndDBSpan(span, err, 1)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicate
		}
		return fmt.Errorf("append outbox event: %w", err)
	}
	return nil
}

// ListPending returns undelivered events with the fewest attempts first, so
// a batch of failing events cannot hold back newer ones.
func (r *OutboxRepository) ListPending(ctx context.Context, limit int) ([]*entities.OutboxEvent, error) {
	ctx, span := tracing.StartDBSpan(ctx, tracing.DBSpanConfig{
		Operation: "SELECT",
		Table:     "outbox_events",
	})
	defer span.End()

	query := `
		SELECT id, event_type, aggregate_key, chain_id, payload, attempts,
		       last_error, created_at, dispatched_at
		FROM outbox_events
		WHERE dispatched_at IS NULL
		ORDER BY attempts, created_at, id
		LIMIT $1
	`

	var events []*entities.OutboxEvent
	err := sqlx.SelectContext(ctx, r.ext(ctx), &events, query, nullableLimit(limit))
	tracing.EndDBSpan(span, err, int64(len(events)))
	if err != nil {
		return nil, fmt.Errorf("list pending events: %w", err)
	}
	return events, nil
}

func (r *OutboxRepository) MarkDispatched(ctx context.Context, id uuid.UUID) error {
	return r.update(ctx, `
		UPDATE outbox_events
		SET dispatched_at = NOW(), attempts = attempts + 1
		WHERE id = $1
	`, id)
}

func (r *OutboxRepository) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	return r.update(ctx, `
		UPDATE outbox_events
		SET attempts = attempts + 1, last_error = $2
		WHERE id = $1
	`, id, reason)
}

func (r *OutboxRepository) update(ctx context.Context, query string, args ...interface{}) error {
	ctx, span := tracing.StartDBSpan(ctx, tracing.DBSpanConfig{
		Operation: "UPDATE",
		Table:     "outbox_events",
	})
	defer span.End()

	result, err := r.ext(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		tracing.EndDBSpan(span, err, -1)
		return fmt.Errorf("update outbox event: %w", err)
	}
	rows, _ := result.RowsAffected()
	tracing.EndDBSpan(span, nil, rows)
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *OutboxRepository) CountPending(ctx context.Context) (int, error) {
	ctx, span := tracing.StartDBSpan(ctx, tracing.DBSpanConfig{
		Operation: "SELECT",
		Table:     "outbox_events",
	})
	defer span.End()

	var n int
	err := sqlx.GetContext(ctx, r.ext(ctx), &n,
		`SELECT COUNT(*) FROM outbox_events WHERE dispatched_at IS NULL`)
	tracing.EndDBSpan(span, err, 1)
	if err != nil {
		return 0, fmt.Errorf("count pending events: %w", err)
	}
	return n, nil
}
