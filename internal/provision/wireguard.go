package provision

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os/exec"

	"golang.org/x/crypto/curve25519"

	"github.com/dkurbatov/vpn-shop-bot/types"
)

// Host indices 0 and 1 of the 10.66.0.0/16 pool are reserved for the network
// itself and the server address.
const (
	wgPoolReserved = 2
	wgPoolCapacity = 65536 - wgPoolReserved
)

// PeerRegistry is the boundary to the actual WireGuard interface. The core
// only needs "register this public key for this address".
type PeerRegistry interface {
	AddPeer(ctx context.Context, publicKey, address string) error
}

// WGQuickRegistry registers peers through the wg CLI on the local host.
type WGQuickRegistry struct {
	Interface string
}

func (r *WGQuickRegistry) AddPeer(ctx context.Context, publicKey, address string) error {
	cmd := exec.CommandContext(ctx, "wg", "set", r.Interface,
		"peer", publicKey, "allowed-ips", address)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("wg set: %v: %s", err, out)
	}
	return nil
}

type WireGuardConfig struct {
	ServerPublicKey string
	EndpointHost    string
	EndpointPort    int
}

type WireGuard struct {
	cfg      WireGuardConfig
	registry PeerRegistry
}

func NewWireGuard(cfg WireGuardConfig, registry PeerRegistry) *WireGuard {
	return &WireGuard{cfg: cfg, registry: registry}
}

func generateKeypair() (privateKey, publicKey string, err error) {
	var priv [32]byte
	if _, err := rand.Read(priv[:]); err != nil {
		return "", "", err
	}
	// Curve25519 clamping.
	priv[0] &= 248
	priv[31] &= 127
	priv[31] |= 64

	pub, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return "", "", err
	}
	return base64.StdEncoding.EncodeToString(priv[:]),
		base64.StdEncoding.EncodeToString(pub), nil
}

// clientAddress derives the client /32 from the user key. The key is unique
// per user, so two users can never collide on an address; the pool simply
// runs out once keys exceed its capacity.
func clientAddress(userKey int64) (string, error) {
	if userKey < 1 || userKey > wgPoolCapacity {
		return "", ErrAllocationExhausted
	}
	idx := userKey + wgPoolReserved - 1
	return fmt.Sprintf("10.66.%d.%d/32", idx/256, idx%256), nil
}

func (w *WireGuard) Allocate(ctx context.Context, userKey int64) (*Profile, error) {
	addr, err := clientAddress(userKey)
	if err != nil {
		return nil, err
	}

	privateKey, publicKey, err := generateKeypair()
	if err != nil {
		return nil, err
	}

	if w.registry != nil {
		if err := w.registry.AddPeer(ctx, publicKey, addr); err != nil {
			return nil, fmt.Errorf("registering peer: %w", err)
		}
	}

	config := fmt.Sprintf(`[Interface]
PrivateKey = %s
Address = %s
DNS = 1.1.1.1

[Peer]
PublicKey = %s
Endpoint = %s:%d
AllowedIPs = 0.0.0.0/0, ::/0
PersistentKeepalive = 25
`, privateKey, addr, w.cfg.ServerPublicKey, w.cfg.EndpointHost, w.cfg.EndpointPort)

	return &Profile{
		Protocol: types.ProtocolWireGuard,
		FileName: fmt.Sprintf("vpn_%d.conf", userKey),
		Config:   config,
	}, nil
}
