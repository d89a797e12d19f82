package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/rail-service/rail_bridge/internal/domain/entities"
	"github.com/rail-service/rail_bridge/pkg/tracing"
	"github.com/shopspring/decimal"
)

// LedgerRepository handles ledger data persistence
type LedgerRepository struct {
	conn
}

// NewLedgerRepository creates a new ledger repository
func NewLedgerRepository(db *sqlx.DB) *LedgerRepository {
	return &LedgerRepository{conn{db}}
}

// ===== Balances and allowances =====

// GetBalance returns the balance of account in asset, zero when unknown.
func (r *LedgerRepository) GetBalance(ctx context.Context, account, asset string) (decimal.Decimal, error) {
	return r.getAmount(ctx, "ledger_balances",
		`SELECT balance FROM ledger_balances WHERE account = $1 AND asset = $2`, account, asset)
}

func (r *LedgerRepository) SetBalance(ctx context.Context, account, asset string, balance decimal.Decimal) error {
	return r.setAmount(ctx, "ledger_balances", `
		INSERT INTO ledger_balances (account, asset, balance, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (account, asset) DO UPDATE
		SET balance = EXCLUDED.balance, updated_at = NOW()
	`, account, asset, balance)
}

// GetAllowance returns what owner approved the bridge to pull, zero when
// nothing was approved.
func (r *LedgerRepository) GetAllowance(ctx context.Context, owner, asset string) (decimal.Decimal, error) {
	return r.getAmount(ctx, "ledger_allowances",
		`SELECT amount FROM ledger_allowances WHERE owner = $1 AND asset = $2`, owner, asset)
}

func (r *LedgerRepository) SetAllowance(ctx context.Context, owner, asset string, amount decimal.Decimal) error {
	return r.setAmount(ctx, "ledger_allowances", `
		INSERT INTO ledger_allowances (owner, asset, amount, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (owner, asset) DO UPDATE
		SET amount = EXCLUDED.amount, updated_at = NOW()
	`, owner, asset, amount)
}

func (r *LedgerRepository) getAmount(ctx context.Context, table, query string, args ...interface{}) (decimal.Decimal, error) {
	ctx, span := tracing.StartDBSpan(ctx, tracing.DBSpanConfig{
		Operation: "SELECT",
		Table:     table,
	})
	defer span.End()

	var amount decimal.Decimal
	err := sqlx.GetContext(ctx, r.ext(ctx), &amount, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		tracing.EndDBSpan(span, nil, 0)
		return decimal.Zero, nil
	}
	tracing.EndDBSpan(span, err, 1)
	if err != nil {
		return decimal.Zero, fmt.Errorf("get %s: %w", table, err)
	}
	return amount, nil
}

func (r *LedgerRepository) setAmount(ctx context.Context, table, query string, args ...interface{}) error {
	ctx, span := tracing.StartDBSpan(ctx, tracing.DBSpanConfig{
		Operation: "UPSERT",
		Table:     table,
	})
	defer span.End()

	_, err := r.ext(ctx).ExecContext(ctx, query, args...)
	tracing.EndDBSpan(span, err, 1)
	if err != nil {
		return fmt.Errorf("set %s: %w", table, err)
	}
	return nil
}

// ===== Journal =====

// CreateTransaction writes a journal transaction and its entries. Callers
// run it inside the store transaction that also moves the balances.
func (r *LedgerRepository) CreateTransaction(ctx context.Context, tx *entities.LedgerTransaction, entries []*entities.LedgerEntry) error {
	ctx, span := tracing.StartDBSpan(ctx, tracing.DBSpanConfig{
		Operation: "INSERT",
		Table:     "ledger_transactions",
	})
	defer span.End()

	ext := r.ext(ctx)
	_, err := ext.ExecContext(ctx, `
		INSERT INTO ledger_transactions (id, transaction_type, reference, created_at)
		VALUES ($1, $2, $3, $4)
	`, tx.ID, tx.TransactionType, tx.Reference, tx.CreatedAt)
	if err != nil {
		tracing.EndDBSpan(span, err, -1)
		return fmt.Errorf("insert ledger transaction: %w", err)
	}

	for _, e := range entries {
		_, err := ext.ExecContext(ctx, `
			INSERT INTO ledger_entries (id, transaction_id, account, asset, entry_type, amount, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, e.ID, e.TransactionID, e.Account, e.Asset, e.EntryType, e.Amount, e.CreatedAt)
		if err != nil {
			tracing.EndDBSpan(span, err, -1)
			return fmt.Errorf("insert ledger entry: %w", err)
		}
	}

	tracing.EndDBSpan(span, nil, int64(len(entries)+1))
	return nil
}

// ===== Reconciliation queries =====

func (r *LedgerRepository) ListBalances(ctx context.Context) ([]*entities.LedgerAccount, error) {
	ctx, span := tracing.StartDBSpan(ctx, tracing.DBSpanConfig{
		Operation: "SELECT",
		Table:     "ledger_balances",
	})
	defer span.End()

	var accounts []*entities.LedgerAccount
	err := sqlx.SelectContext(ctx, r.ext(ctx), &accounts, `
		SELECT account, asset, balance, updated_at
		FROM ledger_balances
		ORDER BY account, asset
	`)
	tracing.EndDBSpan(span, err, int64(len(accounts)))
	if err != nil {
		return nil, fmt.Errorf("list balances: %w", err)
	}
	return accounts, nil
}

// SumEntriesByAccount replays the journal: credits add, debits subtract.
func (r *LedgerRepository) SumEntriesByAccount(ctx context.Context) (map[entities.AccountKey]decimal.Decimal, error) {
	ctx, span := tracing.StartDBSpan(ctx, tracing.DBSpanConfig{
		Operation: "SELECT",
		Table:     "ledger_entries",
	})
	defer span.End()

	var rows []struct {
		Account string          `db:"account"`
		Asset   string          `db:"asset"`
		Total   decimal.Decimal `db:"total"`
	}
	err := sqlx.SelectContext(ctx, r.ext(ctx), &rows, `
		SELECT account, asset,
		       SUM(CASE WHEN entry_type = 'credit' THEN amount ELSE -amount END) AS total
		FROM ledger_entries
		GROUP BY account, asset
	`)
	tracing.EndDBSpan(span, err, int64(len(rows)))
	if err != nil {
		return nil, fmt.Errorf("sum ledger entries: %w", err)
	}

	sums := make(map[entities.AccountKey]decimal.Decimal, len(rows))
	for _, row := range rows {
		sums[entities.AccountKey{Account: row.Account, Asset: row.Asset}] = row.Total
	}
	return sums, nil
}

func (r *LedgerRepository) ListUnbalancedTransactions(ctx context.Context) ([]*entities.UnbalancedTransaction, error) {
	ctx, span := tracing.StartDBSpan(ctx, tracing.DBSpanConfig{
		Operation: "SELECT",
		Table:     "ledger_entries",
	})
	defer span.End()

	var out []*entities.UnbalancedTransaction
	err := sqlx.SelectContext(ctx, r.ext(ctx), &out, `
		SELECT transaction_id, asset,
		       SUM(CASE WHEN entry_type = 'credit' THEN amount ELSE -amount END) AS net
		FROM ledger_entries
		GROUP BY transaction_id, asset
		HAVING SUM(CASE WHEN entry_type = 'credit' THEN amount ELSE -amount END) <> 0
	`)
	tracing.EndDBSpan(span, err, int64(len(out)))
	if err != nil {
		return nil, fmt.Errorf("list unbalanced transactions: %w", err)
	}
	return out, nil
}
