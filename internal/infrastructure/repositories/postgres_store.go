package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	domain "github.com/rail-service/rail_bridge/internal/domain/repositories"
	"github.com/rail-service/rail_bridge/pkg/metrics"
	"github.com/rail-service/rail_bridge/pkg/retry"
	"go.uber.org/zap"
)

const (
	pqUniqueViolation      = "23505"
	pqCheckViolation       = "23514"
	pqSerializationFailure = "40001"
	pqDeadlockDetected     = "40P01"
)

type txKey struct{}

// conn resolves the executor for a call: the transaction carried by ctx, or
// the pool.
type conn struct {
	db *sqlx.DB
}

func (c conn) ext(ctx context.Context) sqlx.ExtContext {
	if tx, ok := ctx.Value(txKey{}).(*sqlx.Tx); ok {
		return tx
	}
	return c.db
}

// PostgresStore implements the bridge store on Postgres. Transactions run
// at SERIALIZABLE isolation and are retried on serialization failures.
type PostgresStore struct {
	db          *sqlx.DB
	policy      retry.Policy
	logger      *zap.Logger
	nonces      *NonceRepository
	transfers   *TransferRepository
	completions *CompletionRepository
	policies    *PolicyRepository
	outbox      *OutboxRepository
	ledger      *LedgerRepository
	reports     *ReconciliationRepository
}

var _ domain.Store = (*PostgresStore)(nil)

// NewPostgresStore creates a store over db.
func NewPostgresStore(db *sqlx.DB, logger *zap.Logger) *PostgresStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := retry.ConflictPolicy()
	p.RetryableFunc = isSerializationFailure
	p.OnRetry = func(int, error) { metrics.StoreConflictsTotal.Inc() }
	return &PostgresStore{
		db:          db,
		policy:      p,
		logger:      logger,
		nonces:      NewNonceRepository(db),
		transfers:   NewTransferRepository(db),
		completions: NewCompletionRepository(db),
		policies:    NewPolicyRepository(db),
		outbox:      NewOutboxRepository(db),
		ledger:      NewLedgerRepository(db),
		reports:     NewReconciliationRepository(db),
	}
}

func (s *PostgresStore) Nonces() domain.NonceRepository           { return s.nonces }
func (s *PostgresStore) Transfers() domain.TransferRepository     { return s.transfers }
func (s *PostgresStore) Completions() domain.CompletionRepository { return s.completions }
func (s *PostgresStore) Policies() domain.PolicyRepository        { return s.policies }
func (s *PostgresStore) Outbox() domain.OutboxRepository          { return s.outbox }
func (s *PostgresStore) Ledger() domain.LedgerRepository          { return s.ledger }
func (s *PostgresStore) Reports() domain.ReconciliationReportRepository {
	return s.reports
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close is a no-op; the pool belongs to the caller.
func (s *PostgresStore) Close() error {
	return nil
}

// WithinTx runs fn in one serializable transaction. A nested call joins the
// enclosing transaction.
func (s *PostgresStore) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*sqlx.Tx); ok {
		return fn(ctx)
	}

	return retry.Do(ctx, s.policy, s.logger, func() (err error) {
		tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}

		defer func() {
			if p := recover(); p != nil {
				tx.Rollback()
				panic(p)
			}
			if err != nil {
				tx.Rollback()
			} else if cerr := tx.Commit(); cerr != nil {
				err = fmt.Errorf("commit transaction: %w", cerr)
			}
		}()

		return fn(context.WithValue(ctx, txKey{}, tx))
	})
}

func pqCode(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}

func isSerializationFailure(err error) bool {
	code := pqCode(err)
	return code == pqSerializationFailure || code == pqDeadlockDetected
}

func isUniqueViolation(err error) bool {
	return pqCode(err) == pqUniqueViolation
}
