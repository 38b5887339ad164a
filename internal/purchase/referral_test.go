package purchase

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/dkurbatov/vpn-shop-bot/types"
)

func setupLedger(t *testing.T, percent int64) (*Ledger, *memEntityStore, *types.User, *types.User) {
	t.Helper()
	entity := newMemEntityStore()
	ledger := NewLedger(entity, percent, zerolog.Nop())

	ctx := context.Background()
	referrer, err := entity.GetOrCreateUser(ctx, types.User{UserID: 1, ChatID: 100, ReferralCode: "REF00001"})
	require.NoError(t, err)
	referred, err := entity.GetOrCreateUser(ctx, types.User{UserID: 2, ChatID: 200, ReferralCode: "REF00002"})
	require.NoError(t, err)
	applied, err := entity.SetReferrer(ctx, referred.UserID, referrer.UserID)
	require.NoError(t, err)
	require.True(t, applied)

	return ledger, entity, referrer, referred
}

func TestLedgerCreditsReferrer(t *testing.T) {
	ledger, _, referrer, referred := setupLedger(t, 10)
	ctx := context.Background()

	order := &types.Order{ID: "order-1", UserID: referred.UserID, Amount: 79900}
	require.NoError(t, ledger.OnOrderCompleted(ctx, order))

	balance, err := ledger.Balance(ctx, referrer.UserID)
	require.NoError(t, err)
	require.Equal(t, int64(7990), balance)

	count, err := ledger.Referrals(ctx, referrer.UserID)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)
}

func TestLedgerIgnoresDuplicateOrder(t *testing.T) {
	ledger, entity, referrer, referred := setupLedger(t, 10)
	ctx := context.Background()

	order := &types.Order{ID: "order-1", UserID: referred.UserID, Amount: 29900}
	require.NoError(t, ledger.OnOrderCompleted(ctx, order))
	require.NoError(t, ledger.OnOrderCompleted(ctx, order))

	require.Equal(t, 1, entity.creditCount())
	balance, err := ledger.Balance(ctx, referrer.UserID)
	require.NoError(t, err)
	require.Equal(t, int64(2990), balance)
}

func TestLedgerSkipsUserWithoutReferrer(t *testing.T) {
	entity := newMemEntityStore()
	ledger := NewLedger(entity, 10, zerolog.Nop())
	ctx := context.Background()

	user, err := entity.GetOrCreateUser(ctx, types.User{UserID: 3, ChatID: 300, ReferralCode: "REF00003"})
	require.NoError(t, err)

	order := &types.Order{ID: "order-1", UserID: user.UserID, Amount: 29900}
	require.NoError(t, ledger.OnOrderCompleted(ctx, order))
	require.Equal(t, 0, entity.creditCount())
}

func TestLedgerSkipsZeroCredit(t *testing.T) {
	ledger, entity, _, referred := setupLedger(t, 0)
	ctx := context.Background()

	order := &types.Order{ID: "order-1", UserID: referred.UserID, Amount: 29900}
	require.NoError(t, ledger.OnOrderCompleted(ctx, order))
	require.Equal(t, 0, entity.creditCount())
}
