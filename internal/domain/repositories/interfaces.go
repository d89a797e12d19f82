package repositories

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/rail-service/rail_bridge/internal/domain/entities"
	"github.com/shopspring/decimal"
)

// Storage-level sentinel errors. Services translate them into domain errors.
var (
	ErrNotFound      = errors.New("record not found")
	ErrDuplicate     = errors.New("record already exists")
	ErrNonceOverflow = errors.New("nonce overflow")
)

// TxManager runs fn in a single atomic store transaction. Repositories called
// with the context passed to fn take part in that transaction. Returning an
// error from fn rolls back every write.
type TxManager interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// NonceRepository holds the per-sender nonce counters.
type NonceRepository interface {
	// NextNonce returns the sender's current nonce and advances the counter.
	// The first nonce is 0.
	NextNonce(ctx context.Context, sender string) (uint64, error)
	// PeekNonce returns the nonce the next transfer from sender will receive.
	PeekNonce(ctx context.Context, sender string) (uint64, error)
}

// TransferRepository stores transfer requests keyed by identifier.
type TransferRepository interface {
	// Create fails with ErrDuplicate when the identifier exists.
	Create(ctx context.Context, req *entities.TransferRequest) error
	// GetByIdentifier fails with ErrNotFound.
	GetByIdentifier(ctx context.Context, id entities.Identifier) (*entities.TransferRequest, error)
	ListBySender(ctx context.Context, sender string, limit, offset int) ([]*entities.TransferRequest, error)
}

// CompletionRepository is the processed set on the destination side.
type CompletionRepository interface {
	// MarkProcessed fails with ErrDuplicate when the identifier was already
	// processed.
	MarkProcessed(ctx context.Context, rec *entities.CompletionRecord) error
	IsProcessed(ctx context.Context, id entities.Identifier) (bool, error)
	// GetCompletion fails with ErrNotFound.
	GetCompletion(ctx context.Context, id entities.Identifier) (*entities.CompletionRecord, error)
}

// PolicyRepository persists the node's single policy document.
type PolicyRepository interface {
	// GetPolicy fails with ErrNotFound before the policy is bootstrapped.
	GetPolicy(ctx context.Context) (*entities.Policy, error)
	SavePolicy(ctx context.Context, policy *entities.Policy) error
}

// OutboxRepository stores events pending delivery.
type OutboxRepository interface {
	Append(ctx context.Context, event *entities.OutboxEvent) error
	// ListPending returns undelivered events, fewest attempts first, then
	// oldest first.
	ListPending(ctx context.Context, limit int) ([]*entities.OutboxEvent, error)
	MarkDispatched(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error
	CountPending(ctx context.Context) (int, error)
}

// LedgerRepository persists balances, allowances and journal entries.
type LedgerRepository interface {
	// GetBalance returns zero for unknown accounts.
	GetBalance(ctx context.Context, account, asset string) (decimal.Decimal, error)
	SetBalance(ctx context.Context, account, asset string, balance decimal.Decimal) error
	// GetAllowance returns zero when nothing was approved.
	GetAllowance(ctx context.Context, owner, asset string) (decimal.Decimal, error)
	SetAllowance(ctx context.Context, owner, asset string, amount decimal.Decimal) error
	CreateTransaction(ctx context.Context, tx *entities.LedgerTransaction, entries []*entities.LedgerEntry) error

	ListBalances(ctx context.Context) ([]*entities.LedgerAccount, error)
	SumEntriesByAccount(ctx context.Context) (map[entities.AccountKey]decimal.Decimal, error)
	ListUnbalancedTransactions(ctx context.Context) ([]*entities.UnbalancedTransaction, error)
}

// ReconciliationReportRepository keeps the history of reconciliation runs.
type ReconciliationReportRepository interface {
	Save(ctx context.Context, report *entities.ReconciliationReport) error
	// GetByID fails with ErrNotFound.
	GetByID(ctx context.Context, id uuid.UUID) (*entities.ReconciliationReport, error)
	// GetLatest returns the most recently completed run or ErrNotFound.
	GetLatest(ctx context.Context) (*entities.ReconciliationReport, error)
	// List returns up to limit runs, newest first.
	List(ctx context.Context, limit int) ([]*entities.ReconciliationReport, error)
}

// Store bundles every repository behind one transactional backend.
type Store interface {
	TxManager
	Nonces() NonceRepository
	Transfers() TransferRepository
	Completions() CompletionRepository
	Policies() PolicyRepository
	Outbox() OutboxRepository
	Ledger() LedgerRepository
	Reports() ReconciliationReportRepository
	Ping(ctx context.Context) error
	Close() error
}
