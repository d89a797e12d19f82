package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rail-service/rail_bridge/internal/domain/entities"
	domain "github.com/rail-service/rail_bridge/internal/domain/repositories"
	"github.com/rail-service/rail_bridge/pkg/tracing"
	"github.com/shopspring/decimal"
)

// PolicyRepository persists the singleton policy row.
type PolicyRepository struct {
	conn
}

func NewPolicyRepository(db *sqlx.DB) *PolicyRepository {
	return &PolicyRepository{conn{db}}
}

type policyRow struct {
	ChainID           uint64          `db:"chain_id"`
	SupportedAssets   pq.StringArray  `db:"supported_assets"`
	SupportedChains   pq.StringArray  `db:"supported_chains"`
	FeeRateBps        uint32          `db:"fee_rate_bps"`
	MinTransferAmount decimal.Decimal `db:"min_transfer_amount"`
	MaxTransferAmount decimal.Decimal `db:"max_transfer_amount"`
	Paused            bool            `db:"paused"`
	UpdatedAt         time.Time       `db:"updated_at"`
}

func (row *policyRow) toEntity() (*entities.Policy, error) {
	chains := make([]uint64, 0, len(row.SupportedChains))
	for _, c := range row.SupportedChains {
		id, err := strconv.ParseUint(c, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse supported chain %q: %w", c, err)
		}
		chains = append(chains, id)
	}
	return &entities.Policy{
		ChainID:           row.ChainID,
		SupportedAssets:   []string(row.SupportedAssets),
		SupportedChains:   chains,
		FeeRateBps:        row.FeeRateBps,
		MinTransferAmount: row.MinTransferAmount,
		MaxTransferAmount: row.MaxTransferAmount,
		Paused:            row.Paused,
		UpdatedAt:         row.UpdatedAt,
	}, nil
}

func (r *PolicyRepository) GetPolicy(ctx context.Context) (*entities.Policy, error) {
	ctx, span := tracing.StartDBSpan(ctx, tracing.DBSpanConfig{
		Operation: "SELECT",
		Table:     "bridge_policy",
	})
	defer span.End()

	query := `
		SELECT chain_id, supported_assets, supported_chains, fee_rate_bps,
		       min_transfer_amount, max_transfer_amount, paused, updated_at
		FROM bridge_policy
		WHERE id = 1
	`

	var row policyRow
	err := sqlx.GetContext(ctx, r.ext(ctx), &row, query)
	if errors.Is(err, sql.ErrNoRows) {
		tracing.EndDBSpan(span, nil, 0)
		return nil, domain.ErrNotFound
	}
	tracing.EndDBSpan(span, err, 1)
	if err != nil {
		return nil, fmt.Errorf("get policy: %w", err)
	}
	return row.toEntity()
}

func (r *PolicyRepository) SavePolicy(ctx context.Context, p *entities.Policy) error {
	ctx, span := tracing.StartDBSpan(ctx, tracing.DBSpanConfig{
		Operation: "UPSERT",
		Table:     "bridge_policy",
	})
	defer span.End()

	chains := make(pq.StringArray, 0, len(p.SupportedChains))
	for _, c := range p.SupportedChains {
		chains = append(chains, numeric(c))
	}
	assets := pq.StringArray(p.SupportedAssets)
	if assets == nil {
		assets = pq.StringArray{}
	}

	query := `
		INSERT INTO bridge_policy (
			id, chain_id, supported_assets, supported_chains, fee_rate_bps,
			min_transfer_amount, max_transfer_amount, paused, updated_at
		) VALUES (1, $1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			chain_id = EXCLUDED.chain_id,
			supported_assets = EXCLUDED.supported_assets,
			supported_chains = EXCLUDED.supported_chains,
			fee_rate_bps = EXCLUDED.fee_rate_bps,
			min_transfer_amount = EXCLUDED.min_transfer_amount,
			max_transfer_amount = EXCLUDED.max_transfer_amount,
			paused = EXCLUDED.paused,
			updated_at = EXCLUDED.updated_at
	`

	_, err := r.ext(ctx).ExecContext(ctx, query,
		numeric(p.ChainID),
		assets,
		chains,
		p.FeeRateBps,
		p.MinTransferAmount,
		p.MaxTransferAmount,
		p.Paused,
		p.UpdatedAt,
	)
	tracing.EndDBSpan(span, err, 1)
	if err != nil {
		return fmt.Errorf("save policy: %w", err)
	}
	return nil
}
