package pricing

import (
	"context"
	"fmt"
	"time"
)

// Subscription is the membership record of a customer.
type Subscription struct {
	Active    bool       `json:"active"`
	Tier      string     `json:"tier"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// TierAt returns the tier the subscription grants at now. Inactive or expired
// subscriptions grant no tier.
func (s *Subscription) TierAt(now time.Time) Tier {
	if s == nil || !s.Active {
		return TierNone
	}
	if s.ExpiresAt != nil && now.After(*s.ExpiresAt) {
		return TierNone
	}
	return ParseTier(s.Tier)
}

// SubscriptionLookup fetches a customer's subscription. A nil subscription
// with a nil error means the customer has none.
type SubscriptionLookup interface {
	Subscription(ctx context.Context, customerID string) (*Subscription, error)
}

// Pass prices a batch of catalog entries for one customer. The tier is
// resolved once when the pass is created.
type Pass struct {
	CustomerID string
	Tier       Tier
}

// NewPass resolves the customer's tier through lookup. A nil lookup or an
// empty customer id prices everything at the base tier.
func NewPass(ctx context.Context, lookup SubscriptionLookup, customerID string, now time.Time) (*Pass, error) {
	p := &Pass{CustomerID: customerID, Tier: TierNone}
	if lookup == nil || customerID == "" {
		return p, nil
	}
	sub, err := lookup.Subscription(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("resolve membership tier: %w", err)
	}
	p.Tier = sub.TierAt(now)
	return p, nil
}

// UnitPrice resolves entry at the pass tier.
func (p *Pass) UnitPrice(entry CatalogEntry) (Money, error) {
	tier := TierNone
	if p != nil {
		tier = p.Tier
	}
	return ResolveUnitPrice(entry, tier)
}
