package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/rail-service/rail_bridge/pkg/idempotency"
	"github.com/rail-service/rail_bridge/pkg/tracing"
	"go.uber.org/zap"
)

// IdempotencyRepository handles idempotency key operations
type IdempotencyRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

var _ idempotency.Store = (*IdempotencyRepository)(nil)

// NewIdempotencyRepository creates a new idempotency repository
func NewIdempotencyRepository(db *sqlx.DB, logger *zap.Logger) *IdempotencyRepository {
	return &IdempotencyRepository{
		db:     db,
		logger: logger,
	}
}

type idempotencyRow struct {
	IdempotencyKey string         `db:"idempotency_key"`
	RequestPath    string         `db:"request_path"`
	RequestMethod  string         `db:"request_method"`
	RequestHash    string         `db:"request_hash"`
	Subject        sql.NullString `db:"subject"`
	ResponseStatus int            `db:"response_status"`
	ResponseBody   []byte         `db:"response_body"`
	CreatedAt      sql.NullTime   `db:"created_at"`
	ExpiresAt      sql.NullTime   `db:"expires_at"`
}

// Get retrieves an unexpired idempotency key record
func (r *IdempotencyRepository) Get(ctx context.Context, key string) (*idempotency.Record, error) {
	ctx, span := tracing.StartDBSpan(ctx, tracing.DBSpanConfig{
		Operation: "SELECT",
		Table:     "idempotency_keys",
	})
	defer span.End()

	query := `
		SELECT idempotency_key, request_path, request_method, request_hash,
		       subject, response_status, response_body, created_at, expires_at
		FROM idempotency_keys
		WHERE idempotency_key = $1 AND expires_at > NOW()
	`

	var row idempotencyRow
	err := r.db.GetContext(ctx, &row, query, key)
	if errors.Is(err, sql.ErrNoRows) {
		tracing.EndDBSpan(span, nil, 0)
		return nil, nil // Not found is not an error
	}

	tracing.EndDBSpan(span, err, 1)

	if err != nil {
		r.logger.Error("Failed to get idempotency key",
			zap.String("key", key),
			zap.Error(err))
		return nil, err
	}

	return &idempotency.Record{
		Key:            row.IdempotencyKey,
		RequestPath:    row.RequestPath,
		RequestMethod:  row.RequestMethod,
		RequestHash:    row.RequestHash,
		Subject:        row.Subject.String,
		ResponseStatus: row.ResponseStatus,
		ResponseBody:   row.ResponseBody,
		CreatedAt:      row.CreatedAt.Time,
		ExpiresAt:      row.ExpiresAt.Time,
	}, nil
}

// Create stores a new idempotency key record
func (r *IdempotencyRepository) Create(ctx context.Context, record *idempotency.Record) error {
	ctx, span := tracing.StartDBSpan(ctx, tracing.DBSpanConfig{
		Operation: "INSERT",
		Table:     "idempotency_keys",
	})
	defer span.End()

	query := `
		INSERT INTO idempotency_keys (
			idempotency_key, request_path, request_method, request_hash,
			subject, response_status, response_body, expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (idempotency_key) DO UPDATE SET
			request_path = EXCLUDED.request_path,
			request_method = EXCLUDED.request_method,
			request_hash = EXCLUDED.request_hash,
			subject = EXCLUDED.subject,
			response_status = EXCLUDED.response_status,
			response_body = EXCLUDED.response_body,
			created_at = NOW(),
			expires_at = EXCLUDED.expires_at
		WHERE idempotency_keys.expires_at <= NOW()
	`

	var body interface{}
	if len(record.ResponseBody) > 0 {
		body = string(record.ResponseBody)
	}

	_, err := r.db.ExecContext(ctx, query,
		record.Key,
		record.RequestPath,
		record.RequestMethod,
		record.RequestHash,
		sql.NullString{String: record.Subject, Valid: record.Subject != ""},
		record.ResponseStatus,
		body,
		record.ExpiresAt,
	)

	tracing.EndDBSpan(span, err, 1)

	if err != nil {
		r.logger.Error("Failed to create idempotency key",
			zap.String("key", record.Key),
			zap.Error(err))
		return err
	}

	return nil
}

// DeleteExpired removes expired idempotency keys
func (r *IdempotencyRepository) DeleteExpired(ctx context.Context) (int64, error) {
	ctx, span := tracing.StartDBSpan(ctx, tracing.DBSpanConfig{
		Operation: "DELETE",
		Table:     "idempotency_keys",
	})
	defer span.End()

	query := `DELETE FROM idempotency_keys WHERE expires_at <= NOW()`

	result, err := r.db.ExecContext(ctx, query)
	if err != nil {
		tracing.EndDBSpan(span, err, -1)
		r.logger.Error("Failed to delete expired idempotency keys", zap.Error(err))
		return 0, err
	}

	rowsAffected, _ := result.RowsAffected()
	tracing.EndDBSpan(span, nil, rowsAffected)

	r.logger.Info("Deleted expired idempotency keys", zap.Int64("count", rowsAffected))
	return rowsAffected, nil
}
