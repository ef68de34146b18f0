// Package plan defines the subscription plan catalog.
//
// The catalog is an explicitly constructed value handed to the components
// that need it. Account quotas are snapshots taken from the catalog at
// creation time; editing a plan here never changes existing accounts.
package plan

import (
	"github.com/shopspring/decimal"

	"github.com/bfitz887/pdf-api/internal/models"
)

// Well-known plan IDs.
const (
	Free        = "free"
	Basic       = "basic"
	Pro         = "pro"
	Enterprise  = "enterprise"
	Marketplace = "marketplace"
)

// Plan describes one subscription tier
type Plan struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	MonthlyQuota  int64           `json:"monthly_quota"`
	PriceUSD      decimal.Decimal `json:"price_usd"`
	StripePriceID string          `json:"-"`
}

// Unlimited reports whether the plan has no monthly cap
func (p Plan) Unlimited() bool {
	return p.MonthlyQuota == models.UnlimitedQuota
}

// Priced reports whether the plan bills through the payment provider
func (p Plan) Priced() bool {
	return p.PriceUSD.IsPositive()
}

// Catalog is the ordered set of plans the service sells
type Catalog struct {
	plans []Plan
	byID  map[string]int
}

// StripePrices binds payment-provider price IDs to purchasable plans
type StripePrices struct {
	Basic      string
	Pro        string
	Enterprise string
}

// NewCatalog builds the standard catalog. Price IDs may be empty when the
// payment provider is not configured.
func NewCatalog(prices StripePrices) *Catalog {
	return New([]Plan{
		{ID: Free, Name: "Free", MonthlyQuota: 100, PriceUSD: decimal.Zero},
		{ID: Basic, Name: "Basic", MonthlyQuota: 1000, PriceUSD: decimal.RequireFromString("9.99"), StripePriceID: prices.Basic},
		{ID: Pro, Name: "Pro", MonthlyQuota: 10000, PriceUSD: decimal.RequireFromString("39.99"), StripePriceID: prices.Pro},
		{ID: Enterprise, Name: "Enterprise", MonthlyQuota: models.UnlimitedQuota, PriceUSD: decimal.RequireFromString("199.99"), StripePriceID: prices.Enterprise},
		{ID: Marketplace, Name: "Marketplace", MonthlyQuota: 1000, PriceUSD: decimal.Zero},
	})
}

// New builds a catalog from an explicit plan list. Later duplicates of an ID
// override earlier ones.
func New(plans []Plan) *Catalog {
	c := &Catalog{
		plans: make([]Plan, 0, len(plans)),
		byID:  make(map[string]int, len(plans)),
	}
	for _, p := range plans {
		if i, ok := c.byID[p.ID]; ok {
			c.plans[i] = p
			continue
		}
		c.byID[p.ID] = len(c.plans)
		c.plans = append(c.plans, p)
	}
	return c
}

// Find returns the plan with the given ID
func (c *Catalog) Find(id string) (Plan, bool) {
	i, ok := c.byID[id]
	if !ok {
		return Plan{}, false
	}
	return c.plans[i], true
}

// Quota returns the monthly quota for a plan ID. Unknown plans fall back to
// the free quota so a stale identifier degrades instead of failing open.
func (c *Catalog) Quota(id string) int64 {
	if p, ok := c.Find(id); ok {
		return p.MonthlyQuota
	}
	if p, ok := c.Find(Free); ok {
		return p.MonthlyQuota
	}
	return 0
}

// ByStripePrice resolves a payment-provider price ID back to its plan
func (c *Catalog) ByStripePrice(priceID string) (Plan, bool) {
	if priceID == "" {
		return Plan{}, false
	}
	for _, p := range c.plans {
		if p.StripePriceID == priceID {
			return p, true
		}
	}
	return Plan{}, false
}

// List returns the plans in catalog order
func (c *Catalog) List() []Plan {
	out := make([]Plan, len(c.plans))
	copy(out, c.plans)
	return out
}
