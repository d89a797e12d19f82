package completion

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"sync"
	"testing"

	"github.com/rail-service/rail_bridge/internal/domain/entities"
	apperrors "github.com/rail-service/rail_bridge/internal/domain/errors"
	"github.com/rail-service/rail_bridge/internal/domain/identifier"
	"github.com/rail-service/rail_bridge/internal/domain/services/attestation"
	"github.com/rail-service/rail_bridge/internal/domain/services/ledger"
	"github.com/rail-service/rail_bridge/internal/domain/services/policy"
	"github.com/rail-service/rail_bridge/internal/domain/services/transfer"
	"github.com/rail-service/rail_bridge/internal/infrastructure/kvstore"
	"github.com/rail-service/rail_bridge/pkg/auth"
	"github.com/rail-service/rail_bridge/pkg/lock"
	"github.com/rail-service/rail_bridge/pkg/logger"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	sourceChain = 1
	targetChain = 2
	sender      = "0x1111111111111111111111111111111111111111"
	recipient   = "0x2222222222222222222222222222222222222222"
	asset       = "0x3333333333333333333333333333333333333333"
)

// node is one chain's bridge with both ledgers over its own store.
type node struct {
	store      *kvstore.Store
	policy     *policy.Service
	ledger     *ledger.Service
	transfers  *transfer.Service
	completion *Service
}

func newNode(t *testing.T, chain, counterparty uint64, attestor attestation.Attestor) *node {
	t.Helper()
	log := logger.Nop()

	store := kvstore.NewMemoryStore(zap.NewNop())
	policies := policy.NewService(store, auth.NewRoleAuthorizer(auth.RoleAdmin), chain, log)
	_, err := policies.Bootstrap(context.Background(), entities.Policy{
		SupportedAssets:   []string{asset},
		SupportedChains:   []uint64{counterparty},
		FeeRateBps:        30,
		MinTransferAmount: decimal.NewFromInt(1),
		MaxTransferAmount: decimal.NewFromInt(1_000_000),
	})
	require.NoError(t, err)

	ledgerSvc := ledger.NewService(store, "", log)
	locker := lock.NewLocalLocker()
	return &node{
		store:      store,
		policy:     policies,
		ledger:     ledgerSvc,
		transfers:  transfer.NewService(store, policies, ledgerSvc, locker, chain, log),
		completion: NewService(store, policies, ledgerSvc, attestor, locker, chain, log),
	}
}

type relay struct {
	key      ed25519.PrivateKey
	attestor *attestation.KeySetAttestor
}

func newRelay(t *testing.T) *relay {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	a, err := attestation.NewSingleKeyAttestor(hex.EncodeToString(pub))
	require.NoError(t, err)
	return &relay{key: priv, attestor: a}
}

// deliver turns a TransferInitiated event into a signed completion request.
func (r *relay) deliver(t *testing.T, ev entities.TransferInitiatedEvent) *entities.CompleteTransferRequest {
	t.Helper()
	sig, err := attestation.Sign(r.key, attestation.Claim{
		Identifier:       ev.Identifier,
		NetAmount:        ev.NetAmount,
		DestinationChain: ev.TargetChain,
	})
	require.NoError(t, err)
	return &entities.CompleteTransferRequest{
		Identifier:  ev.Identifier,
		Sender:      ev.Sender,
		Recipient:   ev.Recipient,
		Asset:       ev.Asset,
		GrossAmount: ev.GrossAmount,
		SourceChain: ev.SourceChain,
		Nonce:       ev.Nonce,
		NetAmount:   ev.NetAmount,
		Signatures:  []entities.RelayerSignature{sig},
	}
}

func (r *relay) resign(t *testing.T, req *entities.CompleteTransferRequest, chain uint64) {
	t.Helper()
	sig, err := attestation.Sign(r.key, attestation.Claim{
		Identifier:       req.Identifier,
		NetAmount:        req.NetAmount,
		DestinationChain: chain,
	})
	require.NoError(t, err)
	req.Signatures = []entities.RelayerSignature{sig}
}

// bridged initiates 100000 on the source chain and returns the relayed
// request for the destination, whose custody holds enough liquidity.
func bridged(t *testing.T) (*relay, *node, *entities.CompleteTransferRequest) {
	t.Helper()
	ctx := context.Background()
	r := newRelay(t)
	source := newNode(t, sourceChain, targetChain, r.attestor)
	dest := newNode(t, targetChain, sourceChain, r.attestor)

	require.NoError(t, source.ledger.Fund(ctx, sender, asset, decimal.NewFromInt(1_000_000)))
	require.NoError(t, source.ledger.Approve(ctx, sender, asset, decimal.NewFromInt(1_000_000)))
	require.NoError(t, dest.ledger.Fund(ctx, entities.CustodyAccount, asset, decimal.NewFromInt(1_000_000)))

	_, err := source.transfers.Initiate(ctx, &entities.InitiateTransferRequest{
		Sender:      sender,
		Recipient:   recipient,
		Asset:       asset,
		Amount:      decimal.NewFromInt(100000),
		TargetChain: targetChain,
	})
	require.NoError(t, err)

	events, err := source.store.Outbox().ListPending(ctx, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	var ev entities.TransferInitiatedEvent
	require.NoError(t, json.Unmarshal(events[0].Payload, &ev))

	return r, dest, r.deliver(t, ev)
}

func balance(t *testing.T, n *node, account string) string {
	t.Helper()
	b, err := n.ledger.Balance(context.Background(), account, asset)
	require.NoError(t, err)
	return b.String()
}

func TestEndToEnd_CompletesExactlyOnce(t *testing.T) {
	ctx := context.Background()
	_, dest, req := bridged(t)

	want, err := identifier.Derive(identifier.Fields{
		Sender: sender, Recipient: recipient, Asset: asset,
		GrossAmount: decimal.NewFromInt(100000),
		TargetChain: targetChain, Nonce: 0, SourceChain: sourceChain,
	})
	require.NoError(t, err)
	require.Equal(t, want, req.Identifier)

	rec, err := dest.completion.Complete(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "99700", rec.CreditedAmount.String())
	assert.Equal(t, uint64(targetChain), rec.TargetChain)
	assert.Equal(t, "99700", balance(t, dest, recipient))

	processed, err := dest.completion.IsProcessed(ctx, req.Identifier)
	require.NoError(t, err)
	assert.True(t, processed)

	_, err = dest.completion.Complete(ctx, req)
	assert.ErrorIs(t, err, apperrors.ErrAlreadyProcessed)
	assert.Equal(t, "99700", balance(t, dest, recipient))

	viewed, err := dest.transfers.GetTransferRequest(ctx, req.Identifier)
	require.NoError(t, err)
	assert.True(t, viewed.Completed)
	assert.Equal(t, "99700", viewed.Amount.String())

	events, err := dest.store.Outbox().ListPending(ctx, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, entities.EventTransferCompleted, events[0].Type)
	var payload entities.TransferCompletedEvent
	require.NoError(t, json.Unmarshal(events[0].Payload, &payload))
	assert.Equal(t, "99700", payload.Amount.String())
	assert.Equal(t, recipient, payload.Recipient)
}

func TestComplete_ConcurrentDuplicates(t *testing.T) {
	_, dest, req := bridged(t)

	const n = 10
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded, replayed := 0, 0
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := dest.completion.Complete(context.Background(), req)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case apperrors.IsAlreadyProcessed(err):
				replayed++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, n-1, replayed)
	assert.Equal(t, "99700", balance(t, dest, recipient))
}

func TestComplete_TamperedFields(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*entities.CompleteTransferRequest)
	}{
		{"gross plus one", func(r *entities.CompleteTransferRequest) { r.GrossAmount = r.GrossAmount.Add(decimal.NewFromInt(1)) }},
		{"nonce", func(r *entities.CompleteTransferRequest) { r.Nonce++ }},
		{"recipient", func(r *entities.CompleteTransferRequest) { r.Recipient = "0x5555555555555555555555555555555555555555" }},
		{"sender", func(r *entities.CompleteTransferRequest) { r.Sender = "0x6666666666666666666666666666666666666666" }},
		{"identifier", func(r *entities.CompleteTransferRequest) { r.Identifier[0] ^= 0xff }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			_, dest, req := bridged(t)
			original := req.Identifier
			tt.mutate(req)

			_, err := dest.completion.Complete(ctx, req)
			assert.ErrorIs(t, err, apperrors.ErrIdentifierMismatch)
			assert.Equal(t, "0", balance(t, dest, recipient))

			processed, err := dest.completion.IsProcessed(ctx, original)
			require.NoError(t, err)
			assert.False(t, processed)
		})
	}
}

func TestComplete_AttestationRequired(t *testing.T) {
	ctx := context.Background()
	_, dest, req := bridged(t)

	signed := req.Signatures
	req.Signatures = nil
	_, err := dest.completion.Complete(ctx, req)
	assert.ErrorIs(t, err, apperrors.ErrUnauthorizedRelayer)

	rogue := newRelay(t)
	rogue.resign(t, req, targetChain)
	_, err = dest.completion.Complete(ctx, req)
	assert.ErrorIs(t, err, apperrors.ErrUnauthorizedRelayer)

	// a signature over a different net amount does not carry over
	req.Signatures = signed
	req.NetAmount = req.NetAmount.Add(decimal.NewFromInt(1))
	_, err = dest.completion.Complete(ctx, req)
	assert.ErrorIs(t, err, apperrors.ErrUnauthorizedRelayer)

	assert.Equal(t, "0", balance(t, dest, recipient))
}

func TestComplete_NetAmountBounds(t *testing.T) {
	tests := []struct {
		name string
		net  int64
		ok   bool
	}{
		{"above gross", 100001, false},
		{"gross", 100000, true},
		{"max fee", 90000, true},
		{"beyond max fee", 89999, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, dest, req := bridged(t)
			req.NetAmount = decimal.NewFromInt(tt.net)
			r.resign(t, req, targetChain)

			_, err := dest.completion.Complete(context.Background(), req)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, apperrors.ErrInvalidNetAmount)
			}
		})
	}
}

func TestComplete_CreditFailureLeavesUnprocessed(t *testing.T) {
	ctx := context.Background()
	r := newRelay(t)
	dest := newNode(t, targetChain, sourceChain, r.attestor)

	id, err := identifier.Derive(identifier.Fields{
		Sender: sender, Recipient: recipient, Asset: asset,
		GrossAmount: decimal.NewFromInt(1000),
		TargetChain: targetChain, Nonce: 7, SourceChain: sourceChain,
	})
	require.NoError(t, err)
	req := r.deliver(t, entities.TransferInitiatedEvent{
		Identifier: id, Sender: sender, Recipient: recipient, Asset: asset,
		GrossAmount: decimal.NewFromInt(1000), NetAmount: decimal.NewFromInt(997),
		SourceChain: sourceChain, TargetChain: targetChain, Nonce: 7,
	})

	_, err = dest.completion.Complete(ctx, req)
	assert.ErrorIs(t, err, apperrors.ErrCreditFailed)

	processed, err := dest.completion.IsProcessed(ctx, id)
	require.NoError(t, err)
	assert.False(t, processed)

	require.NoError(t, dest.ledger.Fund(ctx, entities.CustodyAccount, asset, decimal.NewFromInt(997)))
	_, err = dest.completion.Complete(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "997", balance(t, dest, recipient))
	assert.Equal(t, "0", balance(t, dest, entities.CustodyAccount))
}

func TestComplete_PolicyChecks(t *testing.T) {
	ctx := context.Background()
	admin := auth.WithPrincipal(ctx, auth.Principal{Subject: "ops", Role: auth.RoleAdmin})

	t.Run("unsupported asset", func(t *testing.T) {
		_, dest, req := bridged(t)
		_, err := dest.policy.SetAssetSupported(admin, asset, false)
		require.NoError(t, err)
		_, err = dest.completion.Complete(ctx, req)
		assert.ErrorIs(t, err, apperrors.ErrUnsupportedAsset)
	})

	t.Run("unsupported source chain", func(t *testing.T) {
		_, dest, req := bridged(t)
		_, err := dest.policy.SetChainSupported(admin, sourceChain, false)
		require.NoError(t, err)
		_, err = dest.completion.Complete(ctx, req)
		assert.ErrorIs(t, err, apperrors.ErrUnsupportedChain)
	})

	t.Run("same chain", func(t *testing.T) {
		_, dest, req := bridged(t)
		req.SourceChain = targetChain
		_, err := dest.completion.Complete(ctx, req)
		assert.ErrorIs(t, err, apperrors.ErrSameChainTransfer)
	})

	t.Run("invalid recipient", func(t *testing.T) {
		_, dest, req := bridged(t)
		req.Recipient = "0x0"
		_, err := dest.completion.Complete(ctx, req)
		assert.ErrorIs(t, err, apperrors.ErrInvalidRecipient)
	})

	t.Run("pause does not block completion", func(t *testing.T) {
		_, dest, req := bridged(t)
		_, err := dest.policy.Pause(admin)
		require.NoError(t, err)
		_, err = dest.completion.Complete(ctx, req)
		assert.NoError(t, err)
	})
}

func TestGetCompletion_NotFound(t *testing.T) {
	dest := newNode(t, targetChain, sourceChain, newRelay(t).attestor)
	_, err := dest.completion.GetCompletion(context.Background(), entities.Identifier{1})
	assert.ErrorIs(t, err, apperrors.ErrTransferNotFound)
}

func TestValidateNetAmount(t *testing.T) {
	gross := decimal.NewFromInt(10)
	assert.NoError(t, ValidateNetAmount(gross, decimal.NewFromInt(9)))
	assert.NoError(t, ValidateNetAmount(decimal.Zero, decimal.Zero))
	assert.Error(t, ValidateNetAmount(gross, decimal.NewFromInt(8)))
	assert.Error(t, ValidateNetAmount(gross, decimal.NewFromInt(-1)))
	assert.Error(t, ValidateNetAmount(gross, decimal.RequireFromString("9.5")))
}
