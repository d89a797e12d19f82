package reconciliation

import (
	"context"
	"fmt"
	"sort"

	"github.com/rail-service/rail_bridge/internal/domain/entities"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// CheckTransactionBalance finds journal transactions whose legs do not net
// to zero for an asset.
func (s *Service) CheckTransactionBalance(ctx context.Context) ([]entities.Discrepancy, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "CheckTransactionBalance")
	defer span.End()

	unbalanced, err := s.ledger.ListUnbalancedTransactions(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("list unbalanced transactions: %w", err)
	}

	out := make([]entities.Discrepancy, 0, len(unbalanced))
	for _, u := range unbalanced {
		txID := u.TransactionID
		out = append(out, entities.Discrepancy{
			Asset:         u.Asset,
			TransactionID: &txID,
			Expected:      decimal.Zero.String(),
			Actual:        u.Net.String(),
			Message:       "transaction legs do not balance",
		})
	}
	span.SetAttributes(attribute.Int("discrepancies", len(out)))
	return out, nil
}

// CheckBalanceEntries compares every stored balance with the sum of the
// entries posted to it. Accounts that have entries but no stored balance
// are reported too.
func (s *Service) CheckBalanceEntries(ctx context.Context) ([]entities.Discrepancy, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "CheckBalanceEntries")
	defer span.End()

	balances, err := s.ledger.ListBalances(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("list balances: %w", err)
	}
	sums, err := s.ledger.SumEntriesByAccount(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("sum entries: %w", err)
	}

	var out []entities.Discrepancy
	seen := make(map[entities.AccountKey]bool, len(balances))
	for _, b := range balances {
		key := entities.AccountKey{Account: b.Account, Asset: b.Asset}
		seen[key] = true
		expected := sums[key]
		if !b.Balance.Equal(expected) {
			out = append(out, entities.Discrepancy{
				Account:  b.Account,
				Asset:    b.Asset,
				Expected: expected.String(),
				Actual:   b.Balance.String(),
				Message:  "stored balance differs from entry sum",
			})
		}
	}

	var missing []entities.AccountKey
	for key, sum := range sums {
		if !seen[key] && !sum.IsZero() {
			missing = append(missing, key)
		}
	}
	sort.Slice(missing, func(i, j int) bool {
		if missing[i].Account != missing[j].Account {
			return missing[i].Account < missing[j].Account
		}
		return missing[i].Asset < missing[j].Asset
	})
	for _, key := range missing {
		out = append(out, entities.Discrepancy{
			Account:  key.Account,
			Asset:    key.Asset,
			Expected: sums[key].String(),
			Actual:   decimal.Zero.String(),
			Message:  "entries posted to an account with no stored balance",
		})
	}

	span.SetAttributes(attribute.Int("discrepancies", len(out)))
	return out, nil
}

// CheckNegativeBalances reports any account other than the treasury holding
// less than zero.
func (s *Service) CheckNegativeBalances(ctx context.Context) ([]entities.Discrepancy, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "CheckNegativeBalances")
	defer span.End()

	balances, err := s.ledger.ListBalances(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("list balances: %w", err)
	}

	var out []entities.Discrepancy
	for _, b := range balances {
		if b.Account == s.treasury || !b.Balance.IsNegative() {
			continue
		}
		out = append(out, entities.Discrepancy{
			Account:  b.Account,
			Asset:    b.Asset,
			Expected: ">= 0",
			Actual:   b.Balance.String(),
			Message:  "negative balance",
		})
	}
	span.SetAttributes(attribute.Int("discrepancies", len(out)))
	return out, nil
}
