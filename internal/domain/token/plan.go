// internal/domain/token/plan.go
package token

import (
	"fmt"
	"sort"
	"strings"
)

// Plan is a named, priced offering granting a fixed number of listing tokens
// for a fixed number of days.
type Plan struct {
	Name           string  `json:"name"`
	TokenGrant     int     `json:"token_grant"`
	ValidityDays   int     `json:"validity_days"`
	Price          float64 `json:"price"`
	CouponDiscount float64 `json:"coupon_discount"`
	Currency       string  `json:"currency"`
}

// Catalog is the static, read-only set of plans keyed by name.
type Catalog struct {
	plans map[string]Plan
}

// DefaultPlans is the plan line-up sold on the marketplace.
var DefaultPlans = []Plan{
	{Name: "Private Seller", TokenGrant: 1, ValidityDays: 30, Price: 9.99, Currency: "GBP"},
	{Name: "Traders Bronze", TokenGrant: 5, ValidityDays: 30, Price: 49.00, CouponDiscount: 5.00, Currency: "GBP"},
	{Name: "Traders Silver", TokenGrant: 10, ValidityDays: 30, Price: 89.00, CouponDiscount: 10.00, Currency: "GBP"},
	{Name: "Traders Gold", TokenGrant: 15, ValidityDays: 30, Price: 119.00, CouponDiscount: 15.00, Currency: "GBP"},
	{Name: "Traders Platinum", TokenGrant: 30, ValidityDays: 30, Price: 199.00, CouponDiscount: 25.00, Currency: "GBP"},
}

// NewCatalog builds a catalog and validates every plan.
func NewCatalog(plans ...Plan) (*Catalog, error) {
	c := &Catalog{plans: make(map[string]Plan, len(plans))}
	for _, p := range plans {
		if err := p.Validate(); err != nil {
			return nil, err
		}
		key := catalogKey(p.Name)
		if _, dup := c.plans[key]; dup {
			return nil, fmt.Errorf("duplicate plan %q", p.Name)
		}
		c.plans[key] = p
	}
	return c, nil
}

// MustDefaultCatalog returns the built-in catalog.
func MustDefaultCatalog() *Catalog {
	c, err := NewCatalog(DefaultPlans...)
	if err != nil {
		panic(err)
	}
	return c
}

// Validate checks the plan's invariants.
func (p Plan) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("plan name is required")
	}
	if p.TokenGrant < 1 {
		return fmt.Errorf("plan %q: token grant must be at least 1", p.Name)
	}
	if p.ValidityDays < 1 {
		return fmt.Errorf("plan %q: validity days must be at least 1", p.Name)
	}
	return nil
}

// Lookup finds a plan by name, ignoring case and surrounding space.
func (c *Catalog) Lookup(name string) (Plan, bool) {
	p, ok := c.plans[catalogKey(name)]
	return p, ok
}

// All returns the plans ordered by token grant.
func (c *Catalog) All() []Plan {
	out := make([]Plan, 0, len(c.plans))
	for _, p := range c.plans {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TokenGrant == out[j].TokenGrant {
			return out[i].Name < out[j].Name
		}
		return out[i].TokenGrant < out[j].TokenGrant
	})
	return out
}

func catalogKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
