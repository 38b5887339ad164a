package catalog

import "time"

// MinorUnitsPerMajor converts catalog prices (rubles) to order amounts
// (kopecks). All money past this point is integer minor units.
const MinorUnitsPerMajor = 100

type Plan struct {
	ID           string
	Name         string
	Price        int64 // major currency units
	DurationDays int
	Description  string
}

func (p Plan) AmountMinor() int64 {
	return p.Price * MinorUnitsPerMajor
}

func (p Plan) Duration() time.Duration {
	return time.Duration(p.DurationDays) * 24 * time.Hour
}

type Catalog struct {
	plans []Plan
	byID  map[string]Plan
}

type Prices struct {
	OneMonth     int64
	ThreeMonths  int64
	SixMonths    int64
	TwelveMonths int64
}

func New(prices Prices) *Catalog {
	plans := []Plan{
		{ID: "1_month", Name: "1 месяц", Price: prices.OneMonth, DurationDays: 30, Description: "Базовый план на 1 месяц"},
		{ID: "3_months", Name: "3 месяца", Price: prices.ThreeMonths, DurationDays: 90, Description: "Популярный план на 3 месяца"},
		{ID: "6_months", Name: "6 месяцев", Price: prices.SixMonths, DurationDays: 180, Description: "Выгодный план на полгода"},
		{ID: "12_months", Name: "1 год", Price: prices.TwelveMonths, DurationDays: 365, Description: "Максимальная выгода на год"},
	}
	byID := make(map[string]Plan, len(plans))
	for _, p := range plans {
		byID[p.ID] = p
	}
	return &Catalog{plans: plans, byID: byID}
}

func (c *Catalog) Plans() []Plan {
	out := make([]Plan, len(c.plans))
	copy(out, c.plans)
	return out
}

func (c *Catalog) Plan(id string) (Plan, bool) {
	p, ok := c.byID[id]
	return p, ok
}
