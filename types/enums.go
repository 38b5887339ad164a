package types

// PurchaseState is the position of a conversation inside the purchase flow.
type PurchaseState string

const (
	StateSelectingPlan          PurchaseState = "selecting_plan"
	StateSelectingProtocol      PurchaseState = "selecting_protocol"
	StateSelectingPaymentMethod PurchaseState = "selecting_payment_method"
	StateAwaitingPayment        PurchaseState = "awaiting_payment"
)

// OrderStatus transitions are monotonic: pending is the only live state,
// the other three are terminal.
type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderCompleted OrderStatus = "completed"
	OrderFailed    OrderStatus = "failed"
	OrderCancelled OrderStatus = "cancelled"
)

func (s OrderStatus) Terminal() bool {
	return s == OrderCompleted || s == OrderFailed || s == OrderCancelled
}

type Protocol string

const (
	ProtocolWireGuard Protocol = "wireguard"
	ProtocolOpenVPN   Protocol = "openvpn"
)

func ParseProtocol(s string) (Protocol, bool) {
	switch Protocol(s) {
	case ProtocolWireGuard:
		return ProtocolWireGuard, true
	case ProtocolOpenVPN:
		return ProtocolOpenVPN, true
	default:
		return "", false
	}
}
