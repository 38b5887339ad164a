package types

import (
	"context"
	"time"
)

type ScratchStore interface {
	GetScratch(chatID int64) (*Scratch, error)
	PutScratch(s *Scratch) error
	DeleteScratch(chatID int64) error
}

type UserStore interface {
	// GetOrCreateUser upserts display metadata for an existing user or
	// creates a fresh row with a new referral code.
	GetOrCreateUser(ctx context.Context, u User) (*User, error)
	GetUser(ctx context.Context, userID int64) (*User, error)
	GetUserByReferralCode(ctx context.Context, code string) (*User, error)
	// SetReferrer binds the referrer only when none is set yet and the
	// referrer is not the user itself. Returns whether the write applied.
	SetReferrer(ctx context.Context, userID, referrerID int64) (bool, error)
}

type OrderStore interface {
	CreateOrder(ctx context.Context, o *Order) error
	GetOrder(ctx context.Context, id string) (*Order, error)
	SetOrderExternal(ctx context.Context, id, externalRef, payURL string) error
	// CompleteOrderIfPending is the compare-and-set that resolves duplicate
	// verify triggers: the transition applies only if the row is still
	// pending, and exactly one caller observes applied=true.
	CompleteOrderIfPending(ctx context.Context, id string, at time.Time) (applied bool, err error)
	FinishOrderIfPending(ctx context.Context, id string, status OrderStatus) (applied bool, err error)
	CancelPendingOrders(ctx context.Context, userID int64) (int64, error)
	FailOrdersPendingSince(ctx context.Context, cutoff time.Time) (int64, error)
}

type SubscriptionStore interface {
	// ActivateSubscription deactivates any prior active rows for the user
	// and inserts the new row in one transaction. Insertion is idempotent
	// on the originating order id.
	ActivateSubscription(ctx context.Context, sub *Subscription) error
	GetActiveSubscription(ctx context.Context, userID int64) (*Subscription, error)
	GetSubscriptionByOrder(ctx context.Context, orderID string) (*Subscription, error)
}

type ReferralStore interface {
	// AddReferralCredit inserts at most one credit per order.
	AddReferralCredit(ctx context.Context, c ReferralCredit) (inserted bool, err error)
	ReferralBalance(ctx context.Context, referrerID int64) (int64, error)
	CountReferrals(ctx context.Context, referrerID int64) (int64, error)
}

// EntityStore is the durable source of truth behind the purchase flow.
type EntityStore interface {
	UserStore
	OrderStore
	SubscriptionStore
	ReferralStore
}

// BotStats feeds the admin panel.
type BotStats struct {
	TotalUsers          int64
	ActiveSubscriptions int64
	MonthRevenue        int64 // minor currency units, current calendar month
	CompletedOrders     int64
}

type StatsStore interface {
	Stats(ctx context.Context) (*BotStats, error)
}
