// Package completion is the destination side of the bridge: it honors each
// relayed transfer exactly once and credits the recipient.
package completion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rail-service/rail_bridge/internal/domain/entities"
	apperrors "github.com/rail-service/rail_bridge/internal/domain/errors"
	"github.com/rail-service/rail_bridge/internal/domain/identifier"
	"github.com/rail-service/rail_bridge/internal/domain/repositories"
	"github.com/rail-service/rail_bridge/internal/domain/services/attestation"
	"github.com/rail-service/rail_bridge/internal/domain/services/policy"
	"github.com/rail-service/rail_bridge/pkg/lock"
	"github.com/rail-service/rail_bridge/pkg/logger"
	"github.com/rail-service/rail_bridge/pkg/metrics"
	"github.com/rail-service/rail_bridge/pkg/tracing"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
)

// Ledger is the asset ledger the recipient is credited on.
type Ledger interface {
	Credit(ctx context.Context, account, asset string, amount decimal.Decimal, reference string) error
}

// Service is the completion ledger of one chain.
type Service struct {
	store    repositories.Store
	policy   policy.Reader
	ledger   Ledger
	attestor attestation.Attestor
	locker   lock.Locker
	chainID  uint64
	logger   *logger.Logger
	now      func() time.Time
}

// NewService creates a completion ledger for chainID.
func NewService(
	store repositories.Store,
	policies policy.Reader,
	ledger Ledger,
	attestor attestation.Attestor,
	locker lock.Locker,
	chainID uint64,
	logger *logger.Logger,
) *Service {
	return &Service{
		store:    store,
		policy:   policies,
		ledger:   ledger,
		attestor: attestor,
		locker:   locker,
		chainID:  chainID,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Complete honors a relayed transfer. The identifier is recomputed from the
// supplied fields with this chain as target; the supplied identifier is only
// compared against it. Marking the identifier processed, the credit and the
// TransferCompleted event commit together, so a rejected completion leaves
// the identifier unprocessed.
func (s *Service) Complete(ctx context.Context, req *entities.CompleteTransferRequest) (result *entities.CompletionRecord, err error) {
	sender := entities.NormalizeAccount(req.Sender)
	recipient := entities.NormalizeAccount(req.Recipient)
	asset := entities.NormalizeAccount(req.Asset)

	ctx, span := tracing.StartSpan(ctx, "transfer.complete",
		attribute.String("bridge.identifier", req.Identifier.String()),
		attribute.String("bridge.asset", asset),
		attribute.Int64("bridge.source_chain", int64(req.SourceChain)))
	defer func() { tracing.EndSpan(span, err) }()
	defer func() {
		if apperrors.IsRejection(err) {
			metrics.OperationRejectionsTotal.WithLabelValues("complete", apperrors.GetErrorCode(err)).Inc()
		}
	}()

	unlock, err := s.locker.Lock(ctx, CompletionLockKey(req.Identifier))
	if err != nil {
		return nil, apperrors.ServiceUnavailableError("completion lock", err)
	}
	defer unlock()

	err = s.store.WithinTx(ctx, func(txCtx context.Context) error {
		processed, err := s.store.Completions().IsProcessed(txCtx, req.Identifier)
		if err != nil {
			return fmt.Errorf("check processed: %w", err)
		}
		if processed {
			return apperrors.AlreadyProcessedError(req.Identifier.String())
		}

		p, err := s.policy.Snapshot(txCtx)
		if err != nil {
			return err
		}
		if err := s.validate(p, sender, recipient, asset, req.GrossAmount, req.SourceChain); err != nil {
			return err
		}

		computed, err := identifier.Derive(identifier.Fields{
			Sender:      sender,
			Recipient:   recipient,
			Asset:       asset,
			GrossAmount: req.GrossAmount,
			TargetChain: s.chainID,
			Nonce:       req.Nonce,
			SourceChain: req.SourceChain,
		})
		if err != nil {
			return apperrors.InvalidAmountError(req.GrossAmount.String())
		}
		if computed != req.Identifier {
			return apperrors.IdentifierMismatchError(req.Identifier.String(), computed.String())
		}

		if err := s.attestor.Verify(txCtx, attestation.Claim{
			Identifier:       computed,
			NetAmount:        req.NetAmount,
			DestinationChain: s.chainID,
			Signatures:       req.Signatures,
		}); err != nil {
			return err
		}
		if err := ValidateNetAmount(req.GrossAmount, req.NetAmount); err != nil {
			return err
		}

		record := &entities.CompletionRecord{
			Identifier:     computed,
			Sender:         sender,
			Recipient:      recipient,
			Asset:          asset,
			GrossAmount:    req.GrossAmount,
			CreditedAmount: req.NetAmount,
			SourceChain:    req.SourceChain,
			TargetChain:    s.chainID,
			Nonce:          req.Nonce,
			CompletedAt:    s.now(),
		}
		if err := s.store.Completions().MarkProcessed(txCtx, record); err != nil {
			if errors.Is(err, repositories.ErrDuplicate) {
				return apperrors.AlreadyProcessedError(computed.String())
			}
			return fmt.Errorf("mark processed: %w", err)
		}

		if err := s.ledger.Credit(txCtx, recipient, asset, req.NetAmount, computed.String()); err != nil {
			return err
		}

		event, err := entities.NewOutboxEvent(entities.EventTransferCompleted, computed.String(), s.chainID,
			entities.TransferCompletedEvent{
				Identifier: computed,
				Recipient:  recipient,
				Asset:      asset,
				Amount:     req.NetAmount,
			})
		if err != nil {
			return err
		}
		if err := s.store.Outbox().Append(txCtx, event); err != nil {
			return fmt.Errorf("append event: %w", err)
		}

		result = record
		return nil
	})
	if err != nil {
		logFn := s.logger.Warn
		if !apperrors.IsRejection(err) {
			logFn = s.logger.Error
		}
		logFn("Completion failed",
			"identifier", req.Identifier.String(),
			"source_chain", req.SourceChain,
			"error", err)
		return nil, err
	}

	metrics.TransfersCompletedTotal.WithLabelValues(asset, metrics.ChainLabel(req.SourceChain)).Inc()
	s.logger.Info("Transfer completed",
		"identifier", result.Identifier.String(),
		"recipient", recipient,
		"asset", asset,
		"amount", result.CreditedAmount.String(),
		"source_chain", result.SourceChain)
	return result, nil
}

func (s *Service) validate(p *entities.Policy, sender, recipient, asset string, gross decimal.Decimal, source uint64) error {
	if !entities.IsValidAccount(recipient) {
		return apperrors.InvalidRecipientError(recipient)
	}
	if !entities.IsValidAccount(sender) {
		return apperrors.InvalidSenderError(sender)
	}
	if !p.SupportsAsset(asset) {
		return apperrors.UnsupportedAssetError(asset)
	}
	if source == s.chainID {
		return apperrors.SameChainTransferError(source)
	}
	if !p.SupportsChain(source) {
		return apperrors.UnsupportedChainError(source)
	}
	if !entities.IsValidAmount(gross) {
		return apperrors.InvalidAmountError(gross.String())
	}
	return nil
}

// ValidateNetAmount checks that net could have resulted from gross under any
// permitted fee rate.
func ValidateNetAmount(gross, net decimal.Decimal) error {
	if !entities.IsValidAmount(net) || net.GreaterThan(gross) {
		return apperrors.InvalidNetAmountError(gross.String(), net.String())
	}
	if gross.Sub(net).GreaterThan(policy.MaxFee(gross)) {
		return apperrors.InvalidNetAmountError(gross.String(), net.String())
	}
	return nil
}

// IsProcessed reports whether id has been completed on this chain.
func (s *Service) IsProcessed(ctx context.Context, id entities.Identifier) (bool, error) {
	ok, err := s.store.Completions().IsProcessed(ctx, id)
	if err != nil {
		return false, fmt.Errorf("check processed: %w", err)
	}
	return ok, nil
}

// GetCompletion returns the completion record for id.
func (s *Service) GetCompletion(ctx context.Context, id entities.Identifier) (*entities.CompletionRecord, error) {
	rec, err := s.store.Completions().GetCompletion(ctx, id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, apperrors.TransferNotFoundError(id.String())
		}
		return nil, fmt.Errorf("get completion: %w", err)
	}
	return rec, nil
}

// CompletionLockKey is the lock serializing completions of one identifier.
func CompletionLockKey(id entities.Identifier) string {
	return "completion:" + id.String()
}
