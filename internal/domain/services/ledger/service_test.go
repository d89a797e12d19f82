package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rail-service/rail_bridge/internal/domain/entities"
	apperrors "github.com/rail-service/rail_bridge/internal/domain/errors"
	"github.com/rail-service/rail_bridge/internal/infrastructure/kvstore"
	"github.com/rail-service/rail_bridge/pkg/logger"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestService(t *testing.T) (*Service, *kvstore.Store) {
	t.Helper()
	store := kvstore.NewMemoryStore(zap.NewNop())
	return NewService(store, "", logger.Nop()), store
}

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func TestDebit_MovesFundsIntoCustody(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	require.NoError(t, svc.Fund(ctx, "alice", "usdc", d(100)))
	require.NoError(t, svc.Approve(ctx, "alice", "usdc", d(60)))
	require.NoError(t, svc.Debit(ctx, "alice", "usdc", d(40), "ref"))

	bal, err := svc.Balance(ctx, "alice", "usdc")
	require.NoError(t, err)
	assert.True(t, bal.Equal(d(60)))

	custody, err := svc.Balance(ctx, entities.CustodyAccount, "usdc")
	require.NoError(t, err)
	assert.True(t, custody.Equal(d(40)))

	allowance, err := svc.Allowance(ctx, "alice", "usdc")
	require.NoError(t, err)
	assert.True(t, allowance.Equal(d(20)))
}

func TestDebit_InsufficientAllowance(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	require.NoError(t, svc.Fund(ctx, "alice", "usdc", d(100)))
	require.NoError(t, svc.Approve(ctx, "alice", "usdc", d(10)))

	err := svc.Debit(ctx, "alice", "usdc", d(11), "ref")
	require.Error(t, err)
	assert.True(t, apperrors.IsInsufficientFunds(err))
	assert.Equal(t, "allowance", apperrors.GetErrorDetails(err)["reason"])

	bal, err := svc.Balance(ctx, "alice", "usdc")
	require.NoError(t, err)
	assert.True(t, bal.Equal(d(100)))
}

func TestDebit_InsufficientBalance(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	require.NoError(t, svc.Fund(ctx, "alice", "usdc", d(5)))
	require.NoError(t, svc.Approve(ctx, "alice", "usdc", d(100)))

	err := svc.Debit(ctx, "alice", "usdc", d(6), "ref")
	require.Error(t, err)
	assert.True(t, apperrors.IsInsufficientFunds(err))
	assert.Equal(t, "balance", apperrors.GetErrorDetails(err)["reason"])

	allowance, err := svc.Allowance(ctx, "alice", "usdc")
	require.NoError(t, err)
	assert.True(t, allowance.Equal(d(100)))
}

func TestCredit_RequiresCustodyLiquidity(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	err := svc.Credit(ctx, "bob", "usdc", d(1), "ref")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrCreditFailed)

	require.NoError(t, svc.Fund(ctx, entities.CustodyAccount, "usdc", d(10)))
	require.NoError(t, svc.Credit(ctx, "bob", "usdc", d(7), "ref"))

	bob, err := svc.Balance(ctx, "bob", "usdc")
	require.NoError(t, err)
	assert.True(t, bob.Equal(d(7)))

	custody, err := svc.Balance(ctx, entities.CustodyAccount, "usdc")
	require.NoError(t, err)
	assert.True(t, custody.Equal(d(3)))
}

func TestZeroAmountIsNoop(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)

	require.NoError(t, svc.Debit(ctx, "alice", "usdc", decimal.Zero, "ref"))
	require.NoError(t, svc.Credit(ctx, "alice", "usdc", decimal.Zero, "ref"))

	balances, err := store.Ledger().ListBalances(ctx)
	require.NoError(t, err)
	assert.Empty(t, balances)
}

func TestRejectsInvalidAmounts(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	for _, amount := range []decimal.Decimal{d(-1), decimal.RequireFromString("1.5")} {
		assert.ErrorIs(t, svc.Debit(ctx, "alice", "usdc", amount, "ref"), apperrors.ErrAmountOutOfRange)
		assert.ErrorIs(t, svc.Approve(ctx, "alice", "usdc", amount), apperrors.ErrAmountOutOfRange)
	}
	assert.True(t, apperrors.IsInvalidInput(svc.Fund(ctx, "alice", "usdc", decimal.Zero)))
}

func TestJournalStaysBalanced(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)

	require.NoError(t, svc.Fund(ctx, "alice", "usdc", d(100)))
	require.NoError(t, svc.Approve(ctx, "alice", "usdc", d(100)))
	require.NoError(t, svc.Debit(ctx, "alice", "usdc", d(30), "lock"))
	require.NoError(t, svc.Credit(ctx, "bob", "usdc", d(25), "release"))

	unbalanced, err := store.Ledger().ListUnbalancedTransactions(ctx)
	require.NoError(t, err)
	assert.Empty(t, unbalanced)

	sums, err := store.Ledger().SumEntriesByAccount(ctx)
	require.NoError(t, err)
	balances, err := store.Ledger().ListBalances(ctx)
	require.NoError(t, err)
	for _, b := range balances {
		assert.True(t, b.Balance.Equal(sums[entities.AccountKey{Account: b.Account, Asset: b.Asset}]),
			"%s/%s", b.Account, b.Asset)
	}
}

func TestValidateBalanced(t *testing.T) {
	entries := entities.Transfer(uuid.New(), "a", "b", "usdc", d(5), time.Now())
	require.NoError(t, ValidateBalanced(entries))

	entries[1].Amount = d(4)
	assert.Error(t, ValidateBalanced(entries))
	assert.Error(t, ValidateBalanced(entries[:1]))
}
