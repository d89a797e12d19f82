package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rail-service/rail_bridge/internal/domain/entities"
	apperrors "github.com/rail-service/rail_bridge/internal/domain/errors"
	"github.com/rail-service/rail_bridge/internal/domain/repositories"
	"github.com/rail-service/rail_bridge/pkg/logger"
	"github.com/shopspring/decimal"
)

// Service handles ledger operations using double-entry bookkeeping. Value
// locked by outgoing transfers sits in the custody account and incoming
// transfers are paid out of it.
type Service struct {
	store   repositories.Store
	custody string
	logger  *logger.Logger
	now     func() time.Time
}

// NewService creates a ledger service. An empty custody account selects
// entities.CustodyAccount.
func NewService(store repositories.Store, custody string, logger *logger.Logger) *Service {
	if custody == "" {
		custody = entities.CustodyAccount
	}
	return &Service{
		store:   store,
		custody: custody,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// CustodyAccount returns the account holding locked value.
func (s *Service) CustodyAccount() string {
	return s.custody
}

// Debit pulls amount of asset from account into custody. The account must
// have approved at least amount and hold at least amount. When ctx carries a
// store transaction the debit joins it.
func (s *Service) Debit(ctx context.Context, account, asset string, amount decimal.Decimal, reference string) error {
	if err := validateAmount(amount); err != nil {
		return err
	}
	if amount.IsZero() {
		return nil
	}

	return s.store.WithinTx(ctx, func(txCtx context.Context) error {
		repo := s.store.Ledger()

		allowance, err := repo.GetAllowance(txCtx, account, asset)
		if err != nil {
			return fmt.Errorf("get allowance: %w", err)
		}
		if allowance.LessThan(amount) {
			return apperrors.InsufficientFundsError("allowance", allowance.String(), amount.String())
		}

		balance, err := repo.GetBalance(txCtx, account, asset)
		if err != nil {
			return fmt.Errorf("get balance: %w", err)
		}
		if balance.LessThan(amount) {
			return apperrors.InsufficientFundsError("balance", balance.String(), amount.String())
		}

		if err := repo.SetAllowance(txCtx, account, asset, allowance.Sub(amount)); err != nil {
			return fmt.Errorf("update allowance: %w", err)
		}
		return s.post(txCtx, entities.TransactionTypeBridgeLock, reference, account, s.custody, asset, amount)
	})
}

// Credit pays amount of asset out of custody to account. Custody may not go
// negative.
func (s *Service) Credit(ctx context.Context, account, asset string, amount decimal.Decimal, reference string) error {
	if err := validateAmount(amount); err != nil {
		return err
	}
	if amount.IsZero() {
		return nil
	}

	return s.store.WithinTx(ctx, func(txCtx context.Context) error {
		available, err := s.store.Ledger().GetBalance(txCtx, s.custody, asset)
		if err != nil {
			return fmt.Errorf("get custody balance: %w", err)
		}
		if available.LessThan(amount) {
			return apperrors.CreditFailureError(asset, available.String(), amount.String())
		}
		return s.post(txCtx, entities.TransactionTypeBridgeRelease, reference, s.custody, account, asset, amount)
	})
}

// Fund issues amount of asset to account from the treasury. The treasury is
// the ledger's external counterparty and is the only account allowed to go
// negative.
func (s *Service) Fund(ctx context.Context, account, asset string, amount decimal.Decimal) error {
	if err := validateAmount(amount); err != nil {
		return err
	}
	if !amount.IsPositive() {
		return apperrors.ValidationError("amount", "funding amount must be positive")
	}

	err := s.store.WithinTx(ctx, func(txCtx context.Context) error {
		return s.post(txCtx, entities.TransactionTypeFunding, "fund:"+account, entities.TreasuryAccount, account, asset, amount)
	})
	if err != nil {
		return err
	}

	s.logger.Info("Ledger account funded",
		"account", account,
		"asset", asset,
		"amount", amount.String())
	return nil
}

// Approve sets how much of asset the bridge may debit from owner. It replaces
// any previous allowance.
func (s *Service) Approve(ctx context.Context, owner, asset string, amount decimal.Decimal) error {
	if err := validateAmount(amount); err != nil {
		return err
	}
	if err := s.store.Ledger().SetAllowance(ctx, owner, asset, amount); err != nil {
		return fmt.Errorf("set allowance: %w", err)
	}
	s.logger.Debug("Allowance approved", "owner", owner, "asset", asset, "amount", amount.String())
	return nil
}

// Balance returns the balance of asset held by account.
func (s *Service) Balance(ctx context.Context, account, asset string) (decimal.Decimal, error) {
	balance, err := s.store.Ledger().GetBalance(ctx, account, asset)
	if err != nil {
		return decimal.Zero, fmt.Errorf("get balance: %w", err)
	}
	return balance, nil
}

// Allowance returns the remaining approval of owner for asset.
func (s *Service) Allowance(ctx context.Context, owner, asset string) (decimal.Decimal, error) {
	allowance, err := s.store.Ledger().GetAllowance(ctx, owner, asset)
	if err != nil {
		return decimal.Zero, fmt.Errorf("get allowance: %w", err)
	}
	return allowance, nil
}

// post records a balanced two-leg transaction and applies it to both
// balances. Must run inside a store transaction.
func (s *Service) post(ctx context.Context, txType entities.TransactionType, reference, from, to, asset string, amount decimal.Decimal) error {
	now := s.now()
	ltx := &entities.LedgerTransaction{
		ID:              uuid.New(),
		TransactionType: txType,
		Reference:       reference,
		CreatedAt:       now,
	}
	entries := entities.Transfer(ltx.ID, from, to, asset, amount, now)
	if err := ValidateBalanced(entries); err != nil {
		return err
	}

	repo := s.store.Ledger()
	if err := repo.CreateTransaction(ctx, ltx, entries); err != nil {
		return fmt.Errorf("create transaction: %w", err)
	}
	for _, e := range entries {
		if err := s.applyEntry(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) applyEntry(ctx context.Context, e *entities.LedgerEntry) error {
	repo := s.store.Ledger()
	current, err := repo.GetBalance(ctx, e.Account, e.Asset)
	if err != nil {
		return fmt.Errorf("get balance: %w", err)
	}

	next := current.Add(e.Signed())
	if next.IsNegative() && e.Account != entities.TreasuryAccount {
		return fmt.Errorf("balance of %s would go negative: current=%s, adjustment=%s %s",
			e.Account, current.String(), e.Amount.String(), e.EntryType)
	}
	if err := repo.SetBalance(ctx, e.Account, e.Asset, next); err != nil {
		return fmt.Errorf("update balance: %w", err)
	}
	return nil
}

func validateAmount(amount decimal.Decimal) error {
	if !entities.IsValidAmount(amount) {
		return apperrors.InvalidAmountError(amount.String())
	}
	return nil
}
