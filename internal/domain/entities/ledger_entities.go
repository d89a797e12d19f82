package entities

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CustodyAccount is the default account holding value locked by the bridge.
const CustodyAccount = "bridge:custody"

// TreasuryAccount is the external counterparty for administrative funding.
const TreasuryAccount = "bridge:treasury"

// TransactionType represents the type of ledger transaction
type TransactionType string

const (
	TransactionTypeBridgeLock    TransactionType = "bridge_lock"
	TransactionTypeBridgeRelease TransactionType = "bridge_release"
	TransactionTypeFunding       TransactionType = "funding"
)

// Validate checks if the transaction type is valid
func (t TransactionType) Validate() error {
	switch t {
	case TransactionTypeBridgeLock, TransactionTypeBridgeRelease, TransactionTypeFunding:
		return nil
	default:
		return fmt.Errorf("invalid transaction type: %s", t)
	}
}

// EntryType represents debit or credit. Balances are kept from the account
// holder's point of view: a debit lowers the balance, a credit raises it.
type EntryType string

const (
	EntryTypeDebit  EntryType = "debit"
	EntryTypeCredit EntryType = "credit"
)

// Validate checks if the entry type is valid
func (e EntryType) Validate() error {
	switch e {
	case EntryTypeDebit, EntryTypeCredit:
		return nil
	default:
		return fmt.Errorf("invalid entry type: %s", e)
	}
}

// LedgerAccount is the balance of one asset held by one account.
type LedgerAccount struct {
	Account   string          `json:"account" db:"account"`
	Asset     string          `json:"asset" db:"asset"`
	Balance   decimal.Decimal `json:"balance" db:"balance"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// LedgerAllowance is how much of an asset the bridge may pull from an owner.
type LedgerAllowance struct {
	Owner     string          `json:"owner" db:"owner"`
	Asset     string          `json:"asset" db:"asset"`
	Amount    decimal.Decimal `json:"amount" db:"amount"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// LedgerTransaction groups balanced entries.
type LedgerTransaction struct {
	ID              uuid.UUID       `json:"id" db:"id"`
	TransactionType TransactionType `json:"transaction_type" db:"transaction_type"`
	Reference       string          `json:"reference" db:"reference"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
}

// LedgerEntry is one leg of a ledger transaction.
type LedgerEntry struct {
	ID            uuid.UUID       `json:"id" db:"id"`
	TransactionID uuid.UUID       `json:"transaction_id" db:"transaction_id"`
	Account       string          `json:"account" db:"account"`
	Asset         string          `json:"asset" db:"asset"`
	EntryType     EntryType       `json:"entry_type" db:"entry_type"`
	Amount        decimal.Decimal `json:"amount" db:"amount"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
}

// Validate checks if the entry is valid
func (e *LedgerEntry) Validate() error {
	if e.Account == "" {
		return fmt.Errorf("account is required")
	}
	if e.Asset == "" {
		return fmt.Errorf("asset is required")
	}
	if err := e.EntryType.Validate(); err != nil {
		return err
	}
	if !e.Amount.IsPositive() {
		return fmt.Errorf("amount must be positive")
	}
	return nil
}

// Signed returns the entry's effect on the holder's balance.
func (e *LedgerEntry) Signed() decimal.Decimal {
	if e.EntryType == EntryTypeDebit {
		return e.Amount.Neg()
	}
	return e.Amount
}

// Transfer builds the two balanced legs moving amount of asset from one
// account to another.
func Transfer(txID uuid.UUID, from, to, asset string, amount decimal.Decimal, at time.Time) []*LedgerEntry {
	return []*LedgerEntry{
		{ID: uuid.New(), TransactionID: txID, Account: from, Asset: asset, EntryType: EntryTypeDebit, Amount: amount, CreatedAt: at},
		{ID: uuid.New(), TransactionID: txID, Account: to, Asset: asset, EntryType: EntryTypeCredit, Amount: amount, CreatedAt: at},
	}
}

// AccountKey identifies a balance.
type AccountKey struct {
	Account string
	Asset   string
}

// UnbalancedTransaction is a ledger transaction whose legs do not net to
// zero for an asset.
type UnbalancedTransaction struct {
	TransactionID uuid.UUID       `json:"transaction_id" db:"transaction_id"`
	Asset         string          `json:"asset" db:"asset"`
	Net           decimal.Decimal `json:"net" db:"net"`
}
