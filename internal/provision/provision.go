package provision

import (
	"context"
	"errors"

	"github.com/dkurbatov/vpn-shop-bot/types"
)

// ErrAllocationExhausted means the address space for a protocol has run out.
// Callers surface it as "temporarily unavailable", not as a generic error,
// so operators see the capacity signal.
var ErrAllocationExhausted = errors.New("client address space exhausted")

var ErrUnsupportedProtocol = errors.New("unsupported protocol")

// Profile is the opaque client configuration handed to the end user.
type Profile struct {
	Protocol types.Protocol
	FileName string
	Config   string
}

// Provisioner allocates a client identity and renders a connection profile.
// userKey must be unique and compact per user (the users.seq column), which
// makes address derivation collision-free by construction.
type Provisioner interface {
	Allocate(ctx context.Context, userKey int64, protocol types.Protocol) (*Profile, error)
}

// Service fans out to per-protocol allocators.
type Service struct {
	wg   *WireGuard
	ovpn *OpenVPN
}

func NewService(wg *WireGuard, ovpn *OpenVPN) *Service {
	return &Service{wg: wg, ovpn: ovpn}
}

func (s *Service) Allocate(ctx context.Context, userKey int64, protocol types.Protocol) (*Profile, error) {
	switch protocol {
	case types.ProtocolWireGuard:
		return s.wg.Allocate(ctx, userKey)
	case types.ProtocolOpenVPN:
		return s.ovpn.Allocate(ctx, userKey)
	default:
		return nil, ErrUnsupportedProtocol
	}
}
