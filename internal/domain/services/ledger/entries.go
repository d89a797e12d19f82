package ledger

import (
	"fmt"

	"github.com/rail-service/rail_bridge/internal/domain/entities"
	"github.com/shopspring/decimal"
)

// ValidateBalanced ensures entries are valid and net to zero per asset.
func ValidateBalanced(entries []*entities.LedgerEntry) error {
	if len(entries) < 2 {
		return fmt.Errorf("transaction must have at least 2 entries")
	}

	net := make(map[string]decimal.Decimal)
	for _, e := range entries {
		if err := e.Validate(); err != nil {
			return fmt.Errorf("invalid entry for %s: %w", e.Account, err)
		}
		net[e.Asset] = net[e.Asset].Add(e.Signed())
	}
	for asset, n := range net {
		if !n.IsZero() {
			return fmt.Errorf("unbalanced transaction: %s nets to %s", asset, n.String())
		}
	}
	return nil
}
