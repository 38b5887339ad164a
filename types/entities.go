package types

import "time"

type User struct {
	// Seq is a compact monotonically assigned key, used for deterministic
	// address derivation during provisioning.
	Seq          int64
	UserID       int64
	ChatID       int64
	Username     string
	FirstName    string
	LastName     string
	ReferralCode string
	ReferrerID   *int64
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Order records one attempted purchase, from method selection through
// settlement. Plan and protocol are persisted here so a verify after a
// process restart needs no scratch state.
type Order struct {
	ID          string
	UserID      int64
	PlanID      string
	Protocol    Protocol
	Method      string
	Amount      int64 // minor currency units
	ExternalRef string
	PayURL      string
	Status      OrderStatus
	CreatedAt   time.Time
	CompletedAt *time.Time
}

type Subscription struct {
	ID        string
	UserID    int64
	OrderID   string
	PlanID    string
	StartsAt  time.Time
	EndsAt    time.Time
	IsActive  bool
	VPNConfig string
	CreatedAt time.Time
}

// ReferralCredit is keyed by order id: one credit per completed order, ever.
type ReferralCredit struct {
	OrderID    string
	ReferrerID int64
	ReferredID int64
	Amount     int64 // minor currency units
	CreatedAt  time.Time
}

// Scratch is the ephemeral per-conversation state of the purchase flow.
// It lives in redis with a TTL and is not required to survive a restart.
type Scratch struct {
	ChatID    int64         `json:"chat_id"`
	UserID    int64         `json:"user_id"`
	State     PurchaseState `json:"state"`
	PlanID    string        `json:"plan_id,omitempty"`
	Protocol  Protocol      `json:"protocol,omitempty"`
	OrderID   string        `json:"order_id,omitempty"`
	UpdatedAt time.Time     `json:"updated_at"`
}
