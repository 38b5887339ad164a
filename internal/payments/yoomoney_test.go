package payments

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestYooMoneyCreateBuildsQuickpayLink(t *testing.T) {
	y := NewYooMoney("token", "410011234567890")

	inv, err := y.Create(context.Background(), 29900, "VPN 1 месяц")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(inv.ExternalRef, "vpn_"))

	u, err := url.Parse(inv.PayURL)
	require.NoError(t, err)
	q := u.Query()
	require.Equal(t, "410011234567890", q.Get("receiver"))
	require.Equal(t, "299.00", q.Get("sum"))
	require.Equal(t, inv.ExternalRef, q.Get("label"))
	require.Equal(t, "button", q.Get("quickpay-form"))
}

func TestYooMoneyCreateWithoutReceiver(t *testing.T) {
	y := NewYooMoney("token", "")

	_, err := y.Create(context.Background(), 29900, "x")
	require.ErrorIs(t, err, ErrProviderRejected)
}

func TestYooMoneyCheckStatus(t *testing.T) {
	cases := []struct {
		name     string
		body     string
		expected Status
	}{
		{
			"success",
			`{"operations":[{"status":"success","label":"vpn_abc"}]}`,
			StatusCompleted,
		},
		{
			"refused",
			`{"operations":[{"status":"refused","label":"vpn_abc"}]}`,
			StatusFailed,
		},
		{
			"in progress",
			`{"operations":[{"status":"in_progress","label":"vpn_abc"}]}`,
			StatusPending,
		},
		{
			"no matching label",
			`{"operations":[{"status":"success","label":"vpn_other"}]}`,
			StatusPending,
		},
		{
			"empty history",
			`{"operations":[]}`,
			StatusPending,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				require.Equal(t, "Bearer token", r.Header.Get("Authorization"))
				require.NoError(t, r.ParseForm())
				require.Equal(t, "vpn_abc", r.PostForm.Get("label"))
				fmt.Fprint(w, tc.body)
			}))
			t.Cleanup(srv.Close)

			y := NewYooMoney("token", "410011234567890")
			y.historyURL = srv.URL

			status, err := y.CheckStatus(context.Background(), "vpn_abc")
			require.NoError(t, err)
			require.Equal(t, tc.expected, status)
		})
	}
}

func TestYooMoneyCheckStatusUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)

	y := NewYooMoney("token", "410011234567890")
	y.historyURL = srv.URL

	_, err := y.CheckStatus(context.Background(), "vpn_abc")
	require.ErrorIs(t, err, ErrProviderUnavailable)
}

func TestRegistryLookup(t *testing.T) {
	r := NewRegistry()
	r.Register("yoomoney", NewYooMoney("t", "r"))
	r.Register("crypto", NewCryptoPay("t", "USDT"))

	require.Equal(t, []string{"crypto", "yoomoney"}, r.Methods())

	_, err := r.Lookup("crypto")
	require.NoError(t, err)

	_, err = r.Lookup("cash")
	require.ErrorIs(t, err, ErrUnknownMethod)
}

func TestMinorToAmountString(t *testing.T) {
	require.Equal(t, "299.00", minorToAmountString(29900))
	require.Equal(t, "0.05", minorToAmountString(5))
	require.Equal(t, "2699.90", minorToAmountString(269990))
}
