package payments

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

var (
	// ErrProviderUnavailable is transient: the caller may retry with backoff.
	ErrProviderUnavailable = errors.New("payment provider unavailable")
	// ErrProviderRejected is permanent: the order must be failed, not retried.
	ErrProviderRejected = errors.New("payment provider rejected request")
	// ErrUnknownMethod means no strategy is registered for the method id.
	// This is a configuration error, not a user error.
	ErrUnknownMethod = errors.New("unknown payment method")
)

// Invoice is what a provider hands back for a created payment.
type Invoice struct {
	ExternalRef string
	PayURL      string
}

// Gateway is one payment provider strategy.
type Gateway interface {
	// Create registers a payment for the given amount in minor currency
	// units and returns the external reference plus the redirect target.
	Create(ctx context.Context, amountMinor int64, description string) (*Invoice, error)
	// CheckStatus reports the provider's authoritative settlement status.
	// It fails only with ErrProviderUnavailable.
	CheckStatus(ctx context.Context, externalRef string) (Status, error)
}

// Registry is the strategy map keyed by payment method id, assembled at
// startup.
type Registry struct {
	gateways map[string]Gateway
}

func NewRegistry() *Registry {
	return &Registry{gateways: make(map[string]Gateway)}
}

func (r *Registry) Register(method string, g Gateway) {
	r.gateways[method] = g
}

func (r *Registry) Lookup(method string) (Gateway, error) {
	g, ok := r.gateways[method]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, method)
	}
	return g, nil
}

func (r *Registry) Methods() []string {
	out := make([]string, 0, len(r.gateways))
	for m := range r.gateways {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// minorToAmountString renders kopecks as a decimal string for providers
// that take major-unit amounts on the wire.
func minorToAmountString(amountMinor int64) string {
	return fmt.Sprintf("%d.%02d", amountMinor/100, amountMinor%100)
}
