// Package transfer is the source side of the bridge: it accepts transfer
// requests, locks the sender's funds in custody and announces the transfer
// for relaying.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rail-service/rail_bridge/internal/domain/entities"
	apperrors "github.com/rail-service/rail_bridge/internal/domain/errors"
	"github.com/rail-service/rail_bridge/internal/domain/identifier"
	"github.com/rail-service/rail_bridge/internal/domain/repositories"
	"github.com/rail-service/rail_bridge/internal/domain/services/policy"
	"github.com/rail-service/rail_bridge/pkg/lock"
	"github.com/rail-service/rail_bridge/pkg/logger"
	"github.com/rail-service/rail_bridge/pkg/metrics"
	"github.com/rail-service/rail_bridge/pkg/tracing"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

// Ledger is the asset ledger the sender is debited on.
type Ledger interface {
	Debit(ctx context.Context, account, asset string, amount decimal.Decimal, reference string) error
}

// Service is the transfer ledger of one chain.
type Service struct {
	store   repositories.Store
	policy  policy.Reader
	ledger  Ledger
	locker  lock.Locker
	chainID uint64
	logger  *logger.Logger
	now     func() time.Time
}

// NewService creates a transfer ledger for chainID.
func NewService(
	store repositories.Store,
	policies policy.Reader,
	ledger Ledger,
	locker lock.Locker,
	chainID uint64,
	logger *logger.Logger,
) *Service {
	return &Service{
		store:   store,
		policy:  policies,
		ledger:  ledger,
		locker:  locker,
		chainID: chainID,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Initiate records a transfer from req.Sender and debits the gross amount
// into custody. The nonce, the record, the debit and the TransferInitiated
// event commit together or not at all.
func (s *Service) Initiate(ctx context.Context, req *entities.InitiateTransferRequest) (result *entities.TransferRequest, err error) {
	sender := entities.NormalizeAccount(req.Sender)
	recipient := entities.NormalizeAccount(req.Recipient)
	asset := entities.NormalizeAccount(req.Asset)

	ctx, span := tracing.StartSpan(ctx, "transfer.initiate",
		attribute.String("bridge.sender", sender),
		attribute.String("bridge.asset", asset),
		attribute.Int64("bridge.target_chain", int64(req.TargetChain)))
	defer func() { tracing.EndSpan(span, err) }()
	defer func() {
		if apperrors.IsRejection(err) {
			metrics.OperationRejectionsTotal.WithLabelValues("initiate", apperrors.GetErrorCode(err)).Inc()
		}
	}()

	unlock, err := s.locker.Lock(ctx, NonceLockKey(sender))
	if err != nil {
		return nil, apperrors.ServiceUnavailableError("sender lock", err)
	}
	defer unlock()

	err = s.store.WithinTx(ctx, func(txCtx context.Context) error {
		p, err := s.policy.Snapshot(txCtx)
		if err != nil {
			return err
		}
		if err := s.validate(p, sender, recipient, asset, req.Amount, req.TargetChain); err != nil {
			return err
		}

		fee, net := policy.SplitAmount(req.Amount, p.FeeRateBps)

		nonce, err := s.store.Nonces().NextNonce(txCtx, sender)
		if err != nil {
			if errors.Is(err, repositories.ErrNonceOverflow) {
				return apperrors.NonceOverflowError(sender)
			}
			return fmt.Errorf("next nonce: %w", err)
		}

		id, err := identifier.Derive(identifier.Fields{
			Sender:      sender,
			Recipient:   recipient,
			Asset:       asset,
			GrossAmount: req.Amount,
			TargetChain: req.TargetChain,
			Nonce:       nonce,
			SourceChain: s.chainID,
		})
		if err != nil {
			return apperrors.InvalidAmountError(req.Amount.String())
		}

		record := &entities.TransferRequest{
			Identifier:  id,
			Sender:      sender,
			Recipient:   recipient,
			Asset:       asset,
			GrossAmount: req.Amount,
			Fee:         fee,
			Amount:      net,
			FeeRateBps:  p.FeeRateBps,
			SourceChain: s.chainID,
			TargetChain: req.TargetChain,
			Nonce:       nonce,
			CreatedAt:   s.now(),
		}
		if err := s.store.Transfers().Create(txCtx, record); err != nil {
			if errors.Is(err, repositories.ErrDuplicate) {
				return apperrors.InternalError("identifier collision", err)
			}
			return fmt.Errorf("store transfer: %w", err)
		}

		if err := s.ledger.Debit(txCtx, sender, asset, req.Amount, id.String()); err != nil {
			return err
		}

		event, err := entities.NewOutboxEvent(entities.EventTransferInitiated, id.String(), s.chainID,
			entities.TransferInitiatedEvent{
				Identifier:  id,
				Sender:      sender,
				Recipient:   recipient,
				Asset:       asset,
				GrossAmount: req.Amount,
				NetAmount:   net,
				Fee:         fee,
				SourceChain: s.chainID,
				TargetChain: req.TargetChain,
				Nonce:       nonce,
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
		logFn("Transfer failed",
			"sender", sender,
			"asset", asset,
			"target_chain", req.TargetChain,
			"error", err)
		return nil, err
	}

	metrics.TransfersInitiatedTotal.WithLabelValues(asset, metrics.ChainLabel(req.TargetChain)).Inc()
	s.logger.Info("Transfer initiated",
		"identifier", result.Identifier.String(),
		"sender", sender,
		"asset", asset,
		"gross_amount", result.GrossAmount.String(),
		"fee", result.Fee.String(),
		"target_chain", result.TargetChain,
		"nonce", result.Nonce)
	return result, nil
}

func (s *Service) validate(p *entities.Policy, sender, recipient, asset string, amount decimal.Decimal, target uint64) error {
	if p.Paused {
		return apperrors.TransferPausedError()
	}
	if !entities.IsValidAccount(sender) {
		return apperrors.InvalidSenderError(sender)
	}
	if !entities.IsValidAccount(recipient) {
		return apperrors.InvalidRecipientError(recipient)
	}
	if !p.SupportsAsset(asset) {
		return apperrors.UnsupportedAssetError(asset)
	}
	if target == s.chainID {
		return apperrors.SameChainTransferError(target)
	}
	if !p.SupportsChain(target) {
		return apperrors.UnsupportedChainError(target)
	}
	if !entities.IsValidAmount(amount) {
		return apperrors.InvalidAmountError(amount.String())
	}
	if amount.LessThan(p.MinTransferAmount) || amount.GreaterThan(p.MaxTransferAmount) {
		return apperrors.AmountOutOfRangeError(amount.String(), p.MinTransferAmount.String(), p.MaxTransferAmount.String())
	}
	return nil
}

// GetTransferRequest returns the transfer recorded under id: the source
// record when this chain originated it, otherwise the completion record when
// this chain received it.
func (s *Service) GetTransferRequest(ctx context.Context, id entities.Identifier) (*entities.TransferRequest, error) {
	req, err := s.store.Transfers().GetByIdentifier(ctx, id)
	if err == nil {
		return req, nil
	}
	if !errors.Is(err, repositories.ErrNotFound) {
		return nil, fmt.Errorf("get transfer: %w", err)
	}

	rec, err := s.store.Completions().GetCompletion(ctx, id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, apperrors.TransferNotFoundError(id.String())
		}
		return nil, fmt.Errorf("get completion: %w", err)
	}
	return rec.AsTransferRequest(), nil
}

// NextNonce returns the nonce the sender's next transfer will use.
func (s *Service) NextNonce(ctx context.Context, sender string) (uint64, error) {
	nonce, err := s.store.Nonces().PeekNonce(ctx, entities.NormalizeAccount(sender))
	if err != nil {
		return 0, fmt.Errorf("peek nonce: %w", err)
	}
	return nonce, nil
}

// ListBySender returns the sender's transfers, newest first.
func (s *Service) ListBySender(ctx context.Context, sender string, limit, offset int) ([]*entities.TransferRequest, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	list, err := s.store.Transfers().ListBySender(ctx, entities.NormalizeAccount(sender), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list transfers: %w", err)
	}
	return list, nil
}

// NonceLockKey is the lock serializing initiations by sender.
func NonceLockKey(sender string) string {
	return "nonce:" + sender
}
