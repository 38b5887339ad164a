package purchase

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/dkurbatov/vpn-shop-bot/types"
)

// Ledger awards referral credit when a referred user's order settles.
// Credits are keyed by order id in storage, so invoking it twice for the
// same order is safe.
type Ledger struct {
	store   types.EntityStore
	percent int64
	log     zerolog.Logger
}

func NewLedger(store types.EntityStore, percent int64, log zerolog.Logger) *Ledger {
	return &Ledger{store: store, percent: percent, log: log}
}

func (l *Ledger) OnOrderCompleted(ctx context.Context, order *types.Order) error {
	payer, err := l.store.GetUser(ctx, order.UserID)
	if err != nil {
		return err
	}
	if payer.ReferrerID == nil {
		return nil
	}

	credit := order.Amount * l.percent / 100
	if credit <= 0 {
		return nil
	}

	inserted, err := l.store.AddReferralCredit(ctx, types.ReferralCredit{
		OrderID:    order.ID,
		ReferrerID: *payer.ReferrerID,
		ReferredID: order.UserID,
		Amount:     credit,
		CreatedAt:  time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	if !inserted {
		l.log.Debug().Str("order_id", order.ID).Msg("referral credit already recorded")
		return nil
	}

	l.log.Info().
		Str("order_id", order.ID).
		Int64("referrer_id", *payer.ReferrerID).
		Int64("amount", credit).
		Msg("referral credit recorded")
	return nil
}

func (l *Ledger) Balance(ctx context.Context, userID int64) (int64, error) {
	return l.store.ReferralBalance(ctx, userID)
}

func (l *Ledger) Referrals(ctx context.Context, userID int64) (int64, error) {
	return l.store.CountReferrals(ctx, userID)
}
