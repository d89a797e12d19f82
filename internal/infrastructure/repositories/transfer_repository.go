package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/jmoiron/sqlx"
	"github.com/rail-service/rail_bridge/internal/domain/entities"
	domain "github.com/rail-service/rail_bridge/internal/domain/repositories"
	"github.com/rail-service/rail_bridge/pkg/tracing"
)

// Chain ids and nonces are uint64 and live in NUMERIC(20,0) columns. They are
// bound as decimal strings because database/sql rejects uint64 parameters
// with the high bit set; scanning parses them back.
func numeric(v uint64) string {
	return strconv.FormatUint(v, 10)
}

// NonceRepository hands out per-sender nonces.
type NonceRepository struct {
	conn
}

func NewNonceRepository(db *sqlx.DB) *NonceRepository {
	return &NonceRepository{conn{db}}
}

// NextNonce increments the sender's counter in one statement; the upsert
// row lock serializes concurrent callers for the same sender.
func (r *NonceRepository) NextNonce(ctx context.Context, sender string) (uint64, error) {
	ctx, span := tracing.StartDBSpan(ctx, tracing.DBSpanConfig{
		Operation: "UPSERT",
		Table:     "account_nonces",
	})
	defer span.End()

	query := `
		INSERT INTO account_nonces (sender, next_nonce)
		VALUES ($1, 1)
		ON CONFLICT (sender) DO UPDATE
		SET next_nonce = account_nonces.next_nonce + 1, updated_at = NOW()
		RETURNING next_nonce - 1
	`

	var nonce uint64
	err := sqlx.GetContext(ctx, r.ext(ctx), &nonce, query, sender)
	tracing.EndDBSpan(span, err, 1)
	if err != nil {
		if pqCode(err) == pqCheckViolation {
			return 0, domain.ErrNonceOverflow
		}
		return 0, fmt.Errorf("next nonce: %w", err)
	}
	return nonce, nil
}

func (r *NonceRepository) PeekNonce(ctx context.Context, sender string) (uint64, error) {
	ctx, span := tracing.StartDBSpan(ctx, tracing.DBSpanConfig{
		Operation: "SELECT",
		Table:     "account_nonces",
	})
	defer span.End()

	var nonce uint64
	err := sqlx.GetContext(ctx, r.ext(ctx), &nonce,
		`SELECT next_nonce FROM account_nonces WHERE sender = $1`, sender)
	if errors.Is(err, sql.ErrNoRows) {
		tracing.EndDBSpan(span, nil, 0)
		return 0, nil
	}
	tracing.EndDBSpan(span, err, 1)
	if err != nil {
		return 0, fmt.Errorf("peek nonce: %w", err)
	}
	return nonce, nil
}

// TransferRepository stores source-side transfer requests.
type TransferRepository struct {
	conn
}

func NewTransferRepository(db *sqlx.DB) *TransferRepository {
	return &TransferRepository{conn{db}}
}

const transferColumns = `identifier, sender, recipient, asset, gross_amount, fee, amount,
		       fee_rate_bps, source_chain, target_chain, nonce, created_at`

func (r *TransferRepository) Create(ctx context.Context, req *entities.TransferRequest) error {
	ctx, span := tracing.StartDBSpan(ctx, tracing.DBSpanConfig{
		Operation: "INSERT",
		Table:     "transfer_requests",
	})
	defer span.End()

	query := `
		INSERT INTO transfer_requests (
			identifier, sender, recipient, asset, gross_amount, fee, amount,
			fee_rate_bps, source_chain, target_chain, nonce, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err := r.ext(ctx).ExecContext(ctx, query,
		req.Identifier,
		req.Sender,
		req.Recipient,
		req.Asset,
		req.GrossAmount,
		req.Fee,
		req.Amount,
		req.FeeRateBps,
		numeric(req.SourceChain),
		numeric(req.TargetChain),
		numeric(req.Nonce),
		req.CreatedAt,
	)
	tracing.EndDBSpan(span, err, 1)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicate
		}
		return fmt.Errorf("create transfer: %w", err)
	}
	return nil
}

func (r *TransferRepository) GetByIdentifier(ctx context.Context, id entities.Identifier) (*entities.TransferRequest, error) {
	ctx, span := tracing.StartDBSpan(ctx, tracing.DBSpanConfig{
		Operation: "SELECT",
		Table:     "transfer_requests",
	})
	defer span.End()

	query := `SELECT ` + transferColumns + ` FROM transfer_requests WHERE identifier = $1`

	var req entities.TransferRequest
	err := sqlx.GetContext(ctx, r.ext(ctx), &req, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		tracing.EndDBSpan(span, nil, 0)
		return nil, domain.ErrNotFound
	}
	tracing.EndDBSpan(span, err, 1)
	if err != nil {
		return nil, fmt.Errorf("get transfer: %w", err)
	}
	return &req, nil
}

func (r *TransferRepository) ListBySender(ctx context.Context, sender string, limit, offset int) ([]*entities.TransferRequest, error) {
	ctx, span := tracing.StartDBSpan(ctx, tracing.DBSpanConfig{
		Operation: "SELECT",
		Table:     "transfer_requests",
	})
	defer span.End()

	query := `
		SELECT ` + transferColumns + `
		FROM transfer_requests
		WHERE sender = $1
		ORDER BY nonce DESC
		LIMIT $2 OFFSET $3
	`

	var list []*entities.TransferRequest
	err := sqlx.SelectContext(ctx, r.ext(ctx), &list, query, sender, nullableLimit(limit), offset)
	tracing.EndDBSpan(span, err, int64(len(list)))
	if err != nil {
		return nil, fmt.Errorf("list transfers: %w", err)
	}
	return list, nil
}

// CompletionRepository is the destination-side processed set.
type CompletionRepository struct {
	conn
}

func NewCompletionRepository(db *sqlx.DB) *CompletionRepository {
	return &CompletionRepository{conn{db}}
}

func (r *CompletionRepository) MarkProcessed(ctx context.Context, rec *entities.CompletionRecord) error {
	ctx, span := tracing.StartDBSpan(ctx, tracing.DBSpanConfig{
		Operation: "INSERT",
		Table:     "processed_transfers",
	})
	defer span.End()

	query := `
		INSERT INTO processed_transfers (
			identifier, sender, recipient, asset, gross_amount, credited_amount,
			source_chain, target_chain, nonce, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := r.ext(ctx).ExecContext(ctx, query,
		rec.Identifier,
		rec.Sender,
		rec.Recipient,
		rec.Asset,
		rec.GrossAmount,
		rec.CreditedAmount,
		numeric(rec.SourceChain),
		numeric(rec.TargetChain),
		numeric(rec.Nonce),
		rec.CompletedAt,
	)
	tracing.EndDBSpan(span, err, 1)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicate
		}
		return fmt.Errorf("mark processed: %w", err)
	}
	return nil
}

func (r *CompletionRepository) IsProcessed(ctx context.Context, id entities.Identifier) (bool, error) {
	ctx, span := tracing.StartDBSpan(ctx, tracing.DBSpanConfig{
		Operation: "SELECT",
		Table:     "processed_transfers",
	})
	defer span.End()

	var exists bool
	err := sqlx.GetContext(ctx, r.ext(ctx), &exists,
		`SELECT EXISTS (SELECT 1 FROM processed_transfers WHERE identifier = $1)`, id)
	tracing.EndDBSpan(span, err, 1)
	if err != nil {
		return false, fmt.Errorf("check processed: %w", err)
	}
	return exists, nil
}

func (r *CompletionRepository) GetCompletion(ctx context.Context, id entities.Identifier) (*entities.CompletionRecord, error) {
	ctx, span := tracing.StartDBSpan(ctx, tracing.DBSpanConfig{
		Operation: "SELECT",
		Table:     "processed_transfers",
	})
	defer span.End()

	query := `
		SELECT identifier, sender, recipient, asset, gross_amount, credited_amount,
		       source_chain, target_chain, nonce, completed_at
		FROM processed_transfers
		WHERE identifier = $1
	`

	var rec entities.CompletionRecord
	err := sqlx.GetContext(ctx, r.ext(ctx), &rec, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		tracing.EndDBSpan(span, nil, 0)
		return nil, domain.ErrNotFound
	}
	tracing.EndDBSpan(span, err, 1)
	if err != nil {
		return nil, fmt.Errorf("get completion: %w", err)
	}
	return &rec, nil
}

// nullableLimit maps a non-positive limit to NULL, which Postgres reads as
// no limit.
func nullableLimit(limit int) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(limit), Valid: limit > 0}
}
