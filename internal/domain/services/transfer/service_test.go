package transfer

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/rail-service/rail_bridge/internal/domain/entities"
	apperrors "github.com/rail-service/rail_bridge/internal/domain/errors"
	"github.com/rail-service/rail_bridge/internal/domain/identifier"
	"github.com/rail-service/rail_bridge/internal/domain/services/ledger"
	"github.com/rail-service/rail_bridge/internal/domain/services/policy"
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

type fixture struct {
	store   *kvstore.Store
	policy  *policy.Service
	ledger  *ledger.Service
	service *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	log := logger.Nop()

	store := kvstore.NewMemoryStore(zap.NewNop())
	policies := policy.NewService(store, auth.NewRoleAuthorizer(auth.RoleAdmin), sourceChain, log)
	_, err := policies.Bootstrap(ctx, entities.Policy{
		SupportedAssets:   []string{asset},
		SupportedChains:   []uint64{targetChain},
		FeeRateBps:        30,
		MinTransferAmount: decimal.NewFromInt(1),
		MaxTransferAmount: decimal.NewFromInt(1_000_000),
	})
	require.NoError(t, err)

	ledgerSvc := ledger.NewService(store, "", log)
	require.NoError(t, ledgerSvc.Fund(ctx, sender, asset, decimal.NewFromInt(10_000_000)))
	require.NoError(t, ledgerSvc.Approve(ctx, sender, asset, decimal.NewFromInt(10_000_000)))

	return &fixture{
		store:   store,
		policy:  policies,
		ledger:  ledgerSvc,
		service: NewService(store, policies, ledgerSvc, lock.NewLocalLocker(), sourceChain, log),
	}
}

func (f *fixture) initiate(amount int64) (*entities.TransferRequest, error) {
	return f.service.Initiate(context.Background(), &entities.InitiateTransferRequest{
		Sender:      sender,
		Recipient:   recipient,
		Asset:       asset,
		Amount:      decimal.NewFromInt(amount),
		TargetChain: targetChain,
	})
}

func adminCtx() context.Context {
	return auth.WithPrincipal(context.Background(), auth.Principal{Subject: "ops", Role: auth.RoleAdmin})
}

func TestInitiate_FeeNonceAndIdentifier(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req, err := f.initiate(100000)
	require.NoError(t, err)

	assert.Equal(t, "300", req.Fee.String())
	assert.Equal(t, "99700", req.Amount.String())
	assert.Equal(t, "100000", req.GrossAmount.String())
	assert.Equal(t, uint64(0), req.Nonce)
	assert.Equal(t, uint32(30), req.FeeRateBps)
	assert.False(t, req.Completed)

	want, err := identifier.Derive(identifier.Fields{
		Sender:      sender,
		Recipient:   recipient,
		Asset:       asset,
		GrossAmount: decimal.NewFromInt(100000),
		TargetChain: targetChain,
		Nonce:       0,
		SourceChain: sourceChain,
	})
	require.NoError(t, err)
	assert.Equal(t, want, req.Identifier)

	stored, err := f.service.GetTransferRequest(ctx, req.Identifier)
	require.NoError(t, err)
	assert.Equal(t, req.Nonce, stored.Nonce)

	custody, err := f.ledger.Balance(ctx, entities.CustodyAccount, asset)
	require.NoError(t, err)
	assert.Equal(t, "100000", custody.String())

	bal, err := f.ledger.Balance(ctx, sender, asset)
	require.NoError(t, err)
	assert.Equal(t, "9900000", bal.String())

	events, err := f.store.Outbox().ListPending(ctx, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, entities.EventTransferInitiated, events[0].Type)

	var payload entities.TransferInitiatedEvent
	require.NoError(t, json.Unmarshal(events[0].Payload, &payload))
	assert.Equal(t, req.Identifier, payload.Identifier)
	assert.Equal(t, "99700", payload.NetAmount.String())
	assert.Equal(t, "300", payload.Fee.String())
	assert.Equal(t, uint64(sourceChain), payload.SourceChain)
}

func TestInitiate_NoncesIncrease(t *testing.T) {
	f := newFixture(t)

	first, err := f.initiate(500)
	require.NoError(t, err)
	second, err := f.initiate(500)
	require.NoError(t, err)

	assert.Equal(t, uint64(0), first.Nonce)
	assert.Equal(t, uint64(1), second.Nonce)
	assert.NotEqual(t, first.Identifier, second.Identifier)

	next, err := f.service.NextNonce(context.Background(), sender)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), next)
}

func TestInitiate_NoncesPerSenderAcrossAssetsAndChains(t *testing.T) {
	const (
		otherSender = "0x4444444444444444444444444444444444444444"
		otherAsset  = "0x5555555555555555555555555555555555555555"
		otherChain  = 3
	)
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.policy.SetAssetSupported(adminCtx(), otherAsset, true)
	require.NoError(t, err)
	_, err = f.policy.SetChainSupported(adminCtx(), otherChain, true)
	require.NoError(t, err)
	require.NoError(t, f.ledger.Fund(ctx, sender, otherAsset, decimal.NewFromInt(10_000_000)))
	require.NoError(t, f.ledger.Approve(ctx, sender, otherAsset, decimal.NewFromInt(10_000_000)))
	for _, a := range []string{asset, otherAsset} {
		require.NoError(t, f.ledger.Fund(ctx, otherSender, a, decimal.NewFromInt(2_000)))
		require.NoError(t, f.ledger.Approve(ctx, otherSender, a, decimal.NewFromInt(2_000)))
	}

	initiate := func(from, a string, chain uint64, amount int64) (*entities.TransferRequest, error) {
		return f.service.Initiate(ctx, &entities.InitiateTransferRequest{
			Sender:      from,
			Recipient:   recipient,
			Asset:       a,
			Amount:      decimal.NewFromInt(amount),
			TargetChain: chain,
		})
	}

	assets := []string{asset, otherAsset}
	chains := []uint64{targetChain, otherChain}
	var got, otherGot []uint64
	for i := 0; i < 6; i++ {
		a, chain := assets[i%2], chains[(i/2)%2]

		req, err := initiate(sender, a, chain, 100)
		require.NoError(t, err)
		got = append(got, req.Nonce)

		if i == 3 {
			// More than otherSender holds of either asset.
			_, err := initiate(otherSender, a, chain, 50_000)
			require.Error(t, err)
			assert.True(t, apperrors.IsInsufficientFunds(err), "got %v", err)
			continue
		}
		req, err = initiate(otherSender, assets[(i+1)%2], chains[i%2], 100)
		require.NoError(t, err)
		otherGot = append(otherGot, req.Nonce)
	}

	assert.Equal(t, []uint64{0, 1, 2, 3, 4, 5}, got)
	assert.Equal(t, []uint64{0, 1, 2, 3, 4}, otherGot)

	next, err := f.service.NextNonce(ctx, otherSender)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), next)
}

func TestInitiate_ConcurrentSameSender(t *testing.T) {
	f := newFixture(t)

	const n = 20
	var wg sync.WaitGroup
	nonces := make(chan uint64, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req, err := f.initiate(100)
			if assert.NoError(t, err) {
				nonces <- req.Nonce
			}
		}()
	}
	wg.Wait()
	close(nonces)

	seen := make(map[uint64]bool)
	for nonce := range nonces {
		assert.False(t, seen[nonce], "nonce %d issued twice", nonce)
		seen[nonce] = true
	}
	for i := uint64(0); i < n; i++ {
		assert.True(t, seen[i], "nonce %d missing", i)
	}
}

func TestInitiate_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*entities.InitiateTransferRequest)
		kind   error
	}{
		{"zero recipient", func(r *entities.InitiateTransferRequest) { r.Recipient = "0x0000000000000000000000000000000000000000" }, apperrors.ErrInvalidRecipient},
		{"empty recipient", func(r *entities.InitiateTransferRequest) { r.Recipient = "" }, apperrors.ErrInvalidRecipient},
		{"unsupported asset", func(r *entities.InitiateTransferRequest) { r.Asset = "0x4444" }, apperrors.ErrUnsupportedAsset},
		{"same chain", func(r *entities.InitiateTransferRequest) { r.TargetChain = sourceChain }, apperrors.ErrSameChainTransfer},
		{"unsupported chain", func(r *entities.InitiateTransferRequest) { r.TargetChain = 99 }, apperrors.ErrUnsupportedChain},
		{"below min", func(r *entities.InitiateTransferRequest) { r.Amount = decimal.Zero }, apperrors.ErrAmountOutOfRange},
		{"above max", func(r *entities.InitiateTransferRequest) { r.Amount = decimal.NewFromInt(1_000_001) }, apperrors.ErrAmountOutOfRange},
		{"fractional", func(r *entities.InitiateTransferRequest) { r.Amount = decimal.RequireFromString("10.5") }, apperrors.ErrAmountOutOfRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			req := &entities.InitiateTransferRequest{
				Sender:      sender,
				Recipient:   recipient,
				Asset:       asset,
				Amount:      decimal.NewFromInt(1000),
				TargetChain: targetChain,
			}
			tt.mutate(req)

			_, err := f.service.Initiate(context.Background(), req)
			assert.ErrorIs(t, err, tt.kind)
			assertUntouched(t, f)
		})
	}
}

func TestInitiate_Boundaries(t *testing.T) {
	f := newFixture(t)

	_, err := f.initiate(1)
	assert.NoError(t, err)
	_, err = f.initiate(1_000_000)
	assert.NoError(t, err)
}

func TestInitiate_Paused(t *testing.T) {
	f := newFixture(t)
	_, err := f.policy.Pause(adminCtx())
	require.NoError(t, err)

	_, err = f.initiate(1000)
	assert.ErrorIs(t, err, apperrors.ErrTransferPaused)

	_, err = f.policy.Unpause(adminCtx())
	require.NoError(t, err)
	_, err = f.initiate(1000)
	assert.NoError(t, err)
}

func TestInitiate_InsufficientFundsRollsBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.ledger.Approve(ctx, sender, asset, decimal.NewFromInt(10)))

	_, err := f.initiate(1000)
	require.Error(t, err)
	assert.True(t, apperrors.IsInsufficientFunds(err))

	nonce, err := f.service.NextNonce(ctx, sender)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), nonce)

	list, err := f.service.ListBySender(ctx, sender, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, list)

	count, err := f.store.Outbox().CountPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestInitiate_FeeChangeDoesNotAffectRecorded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	before, err := f.initiate(100000)
	require.NoError(t, err)

	_, err = f.policy.SetFeeRate(adminCtx(), 1000)
	require.NoError(t, err)

	after, err := f.initiate(100000)
	require.NoError(t, err)
	assert.Equal(t, "10000", after.Fee.String())

	stored, err := f.service.GetTransferRequest(ctx, before.Identifier)
	require.NoError(t, err)
	assert.Equal(t, "300", stored.Fee.String())
	assert.Equal(t, uint32(30), stored.FeeRateBps)
}

func TestGetTransferRequest_NotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.GetTransferRequest(context.Background(), entities.Identifier{9})
	assert.ErrorIs(t, err, apperrors.ErrTransferNotFound)
}

func TestListBySender(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 3; i++ {
		_, err := f.initiate(100)
		require.NoError(t, err)
	}

	list, err := f.service.ListBySender(context.Background(), sender, 2, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, uint64(2), list[0].Nonce)
}

func assertUntouched(t *testing.T, f *fixture) {
	t.Helper()
	ctx := context.Background()

	nonce, err := f.service.NextNonce(ctx, sender)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), nonce)

	custody, err := f.ledger.Balance(ctx, entities.CustodyAccount, asset)
	require.NoError(t, err)
	assert.True(t, custody.IsZero())

	count, err := f.store.Outbox().CountPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}
