package policy

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rail-service/rail_bridge/internal/domain/entities"
	apperrors "github.com/rail-service/rail_bridge/internal/domain/errors"
	"github.com/rail-service/rail_bridge/internal/domain/repositories"
	"github.com/rail-service/rail_bridge/pkg/auth"
	"github.com/rail-service/rail_bridge/pkg/logger"
	"github.com/rail-service/rail_bridge/pkg/metrics"
	"github.com/shopspring/decimal"
)

// Actions checked against the Authorizer.
const (
	ActionSetAsset  = "policy.set_asset"
	ActionSetChain  = "policy.set_chain"
	ActionSetFee    = "policy.set_fee"
	ActionSetLimits = "policy.set_limits"
	ActionPause     = "policy.pause"
)

// Reader is the read side consumed by the ledgers.
type Reader interface {
	Snapshot(ctx context.Context) (*entities.Policy, error)
}

// Service is the policy store: supported assets and chains, fee rate,
// transfer bounds and the pause switch. Writes require authorization and are
// committed atomically with their event.
type Service struct {
	store      repositories.Store
	authorizer auth.Authorizer
	chainID    uint64
	logger     *logger.Logger
	now        func() time.Time
}

// NewService creates a policy service for the local chain.
func NewService(store repositories.Store, authorizer auth.Authorizer, chainID uint64, logger *logger.Logger) *Service {
	return &Service{
		store:      store,
		authorizer: authorizer,
		chainID:    chainID,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// ChainID returns the local chain id.
func (s *Service) ChainID() uint64 {
	return s.chainID
}

// Bootstrap stores initial as the policy if none exists yet. An existing
// policy is left untouched and returned.
func (s *Service) Bootstrap(ctx context.Context, initial entities.Policy) (*entities.Policy, error) {
	initial.ChainID = s.chainID
	normalized := make([]string, 0, len(initial.SupportedAssets))
	for _, a := range initial.SupportedAssets {
		normalized = append(normalized, entities.NormalizeAccount(a))
	}
	seed := &entities.Policy{ChainID: s.chainID}
	for _, a := range normalized {
		if err := s.validateAsset(a); err != nil {
			return nil, err
		}
		seed.SetAsset(a, true)
	}
	for _, c := range initial.SupportedChains {
		if err := s.validateChain(c); err != nil {
			return nil, err
		}
		seed.SetChain(c, true)
	}
	if err := validateFee(initial.FeeRateBps); err != nil {
		return nil, err
	}
	if err := validateLimits(initial.MinTransferAmount, initial.MaxTransferAmount); err != nil {
		return nil, err
	}
	seed.FeeRateBps = initial.FeeRateBps
	seed.MinTransferAmount = initial.MinTransferAmount
	seed.MaxTransferAmount = initial.MaxTransferAmount
	seed.Paused = initial.Paused
	seed.UpdatedAt = s.now()

	var result *entities.Policy
	err := s.store.WithinTx(ctx, func(txCtx context.Context) error {
		existing, err := s.store.Policies().GetPolicy(txCtx)
		if err == nil {
			result = existing
			return nil
		}
		if !errors.Is(err, repositories.ErrNotFound) {
			return fmt.Errorf("load policy: %w", err)
		}
		if err := s.store.Policies().SavePolicy(txCtx, seed); err != nil {
			return fmt.Errorf("save policy: %w", err)
		}
		result = seed
		s.logger.Info("Policy bootstrapped",
			"chain_id", s.chainID,
			"assets", len(seed.SupportedAssets),
			"chains", len(seed.SupportedChains),
			"fee_rate_bps", seed.FeeRateBps)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Snapshot returns the current policy.
func (s *Service) Snapshot(ctx context.Context) (*entities.Policy, error) {
	p, err := s.store.Policies().GetPolicy(ctx)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, apperrors.ServiceUnavailableError("policy", err)
		}
		return nil, fmt.Errorf("load policy: %w", err)
	}
	return p, nil
}

func (s *Service) IsAssetSupported(ctx context.Context, asset string) (bool, error) {
	p, err := s.Snapshot(ctx)
	if err != nil {
		return false, err
	}
	return p.SupportsAsset(entities.NormalizeAccount(asset)), nil
}

func (s *Service) IsChainSupported(ctx context.Context, chain uint64) (bool, error) {
	p, err := s.Snapshot(ctx)
	if err != nil {
		return false, err
	}
	return p.SupportsChain(chain), nil
}

func (s *Service) FeeRateBps(ctx context.Context) (uint32, error) {
	p, err := s.Snapshot(ctx)
	if err != nil {
		return 0, err
	}
	return p.FeeRateBps, nil
}

// Limits returns the inclusive transfer bounds.
func (s *Service) Limits(ctx context.Context) (min, max decimal.Decimal, err error) {
	p, err := s.Snapshot(ctx)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	return p.MinTransferAmount, p.MaxTransferAmount, nil
}

func (s *Service) IsPaused(ctx context.Context) (bool, error) {
	p, err := s.Snapshot(ctx)
	if err != nil {
		return false, err
	}
	return p.Paused, nil
}

// SetAssetSupported enables or disables an asset.
func (s *Service) SetAssetSupported(ctx context.Context, asset string, supported bool) (*entities.Policy, error) {
	if err := s.authorize(ctx, ActionSetAsset); err != nil {
		return nil, err
	}
	asset = entities.NormalizeAccount(asset)
	if err := s.validateAsset(asset); err != nil {
		return nil, err
	}

	return s.mutate(ctx, "asset", func(p *entities.Policy) (*entities.OutboxEvent, error) {
		p.SetAsset(asset, supported)
		return entities.NewOutboxEvent(entities.EventTokenSupported, asset, s.chainID,
			entities.TokenSupportedEvent{Asset: asset, Supported: supported})
	})
}

// SetChainSupported enables or disables a counterparty chain.
func (s *Service) SetChainSupported(ctx context.Context, chain uint64, supported bool) (*entities.Policy, error) {
	if err := s.authorize(ctx, ActionSetChain); err != nil {
		return nil, err
	}
	if err := s.validateChain(chain); err != nil {
		return nil, err
	}

	return s.mutate(ctx, "chain", func(p *entities.Policy) (*entities.OutboxEvent, error) {
		p.SetChain(chain, supported)
		return entities.NewOutboxEvent(entities.EventChainSupported, strconv.FormatUint(chain, 10), s.chainID,
			entities.ChainSupportedEvent{Chain: chain, Supported: supported})
	})
}

// SetFeeRate replaces the fee rate. Transfers already initiated keep the
// rate recorded on them.
func (s *Service) SetFeeRate(ctx context.Context, bps uint32) (*entities.Policy, error) {
	if err := s.authorize(ctx, ActionSetFee); err != nil {
		return nil, err
	}
	if err := validateFee(bps); err != nil {
		return nil, err
	}

	return s.mutate(ctx, "fee", func(p *entities.Policy) (*entities.OutboxEvent, error) {
		old := p.FeeRateBps
		p.FeeRateBps = bps
		return entities.NewOutboxEvent(entities.EventFeeUpdated, "fee", s.chainID,
			entities.FeeUpdatedEvent{OldFeeRateBps: old, NewFeeRateBps: bps})
	})
}

// SetLimits replaces the inclusive transfer bounds.
func (s *Service) SetLimits(ctx context.Context, min, max decimal.Decimal) (*entities.Policy, error) {
	if err := s.authorize(ctx, ActionSetLimits); err != nil {
		return nil, err
	}
	if err := validateLimits(min, max); err != nil {
		return nil, err
	}

	return s.mutate(ctx, "limits", func(p *entities.Policy) (*entities.OutboxEvent, error) {
		p.MinTransferAmount = min
		p.MaxTransferAmount = max
		return entities.NewOutboxEvent(entities.EventLimitsUpdated, "limits", s.chainID,
			entities.LimitsUpdatedEvent{MinTransferAmount: min, MaxTransferAmount: max})
	})
}

// Pause stops new transfer initiations. Completions are not affected.
func (s *Service) Pause(ctx context.Context) (*entities.Policy, error) {
	return s.setPaused(ctx, true)
}

// Unpause resumes transfer initiation.
func (s *Service) Unpause(ctx context.Context) (*entities.Policy, error) {
	return s.setPaused(ctx, false)
}

func (s *Service) setPaused(ctx context.Context, paused bool) (*entities.Policy, error) {
	if err := s.authorize(ctx, ActionPause); err != nil {
		return nil, err
	}
	return s.mutate(ctx, "pause", func(p *entities.Policy) (*entities.OutboxEvent, error) {
		p.Paused = paused
		return entities.NewOutboxEvent(entities.EventPauseChanged, "pause", s.chainID,
			entities.PauseChangedEvent{Paused: paused})
	})
}

func (s *Service) mutate(ctx context.Context, kind string, apply func(p *entities.Policy) (*entities.OutboxEvent, error)) (*entities.Policy, error) {
	var updated *entities.Policy
	err := s.store.WithinTx(ctx, func(txCtx context.Context) error {
		current, err := s.store.Policies().GetPolicy(txCtx)
		if err != nil {
			if errors.Is(err, repositories.ErrNotFound) {
				return apperrors.ServiceUnavailableError("policy", err)
			}
			return fmt.Errorf("load policy: %w", err)
		}

		next := current.Clone()
		event, err := apply(next)
		if err != nil {
			return err
		}
		next.UpdatedAt = s.now()

		if err := s.store.Policies().SavePolicy(txCtx, next); err != nil {
			return fmt.Errorf("save policy: %w", err)
		}
		if err := s.store.Outbox().Append(txCtx, event); err != nil {
			return fmt.Errorf("append %s event: %w", event.Type, err)
		}
		updated = next
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.PolicyChangesTotal.WithLabelValues(kind).Inc()
	s.logger.Info("Policy updated",
		"kind", kind,
		"fee_rate_bps", updated.FeeRateBps,
		"paused", updated.Paused)
	return updated, nil
}

func (s *Service) authorize(ctx context.Context, action string) error {
	if s.authorizer == nil {
		return apperrors.ForbiddenError("no authorizer configured")
	}
	if err := s.authorizer.Authorize(ctx, action); err != nil {
		s.logger.Warn("Policy change denied", "action", action, "error", err)
		if errors.Is(err, auth.ErrNoPrincipal) {
			return apperrors.UnauthorizedError("authentication required")
		}
		return apperrors.ForbiddenError("administrative privileges required")
	}
	return nil
}

func (s *Service) validateAsset(asset string) error {
	if !entities.IsValidAccount(asset) {
		return apperrors.InvalidAssetAddressError(asset)
	}
	return nil
}

func (s *Service) validateChain(chain uint64) error {
	if chain == 0 || chain == s.chainID {
		return apperrors.InvalidChainIDError(chain)
	}
	return nil
}

func validateFee(bps uint32) error {
	if bps > entities.MaxFeeRateBps {
		return apperrors.FeeTooHighError(bps, entities.MaxFeeRateBps)
	}
	return nil
}

func validateLimits(min, max decimal.Decimal) error {
	if min.IsNegative() || !min.LessThan(max) || !entities.IsValidAmount(min) || !entities.IsValidAmount(max) {
		return apperrors.InvalidLimitsError(min.String(), max.String())
	}
	return nil
}
