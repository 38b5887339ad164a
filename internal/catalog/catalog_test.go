package catalog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testPrices() Prices {
	return Prices{OneMonth: 299, ThreeMonths: 799, SixMonths: 1499, TwelveMonths: 2699}
}

func TestCatalogPlans(t *testing.T) {
	cat := New(testPrices())

	plans := cat.Plans()
	require.Len(t, plans, 4)

	wantDays := map[string]int{
		"1_month":   30,
		"3_months":  90,
		"6_months":  180,
		"12_months": 365,
	}
	for _, p := range plans {
		require.Equal(t, wantDays[p.ID], p.DurationDays, p.ID)
		require.NotEmpty(t, p.Name)
		require.Positive(t, p.Price)
	}
}

func TestPlanAmountsAreMinorUnits(t *testing.T) {
	cat := New(testPrices())

	p, ok := cat.Plan("3_months")
	require.True(t, ok)
	require.Equal(t, int64(79900), p.AmountMinor())
	require.Equal(t, 90*24*time.Hour, p.Duration())

	p, ok = cat.Plan("12_months")
	require.True(t, ok)
	require.Equal(t, int64(269900), p.AmountMinor())
}

func TestPlanLookupUnknownID(t *testing.T) {
	cat := New(testPrices())

	_, ok := cat.Plan("lifetime")
	require.False(t, ok)
}
