package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

const staleSubscriptionTTL = 24 * time.Hour

// CachedSubscriptions fronts a SubscriptionLookup with a Redis JSON cache.
// Concurrent misses for the same customer share one upstream call, and an
// upstream failure is served from the last known value when one exists.
type CachedSubscriptions struct {
	Lookup SubscriptionLookup
	Client *redis.Client
	TTL    time.Duration
	Logger zerolog.Logger

	group singleflight.Group
}

type cachedSubscription struct {
	Found        bool          `json:"found"`
	Subscription *Subscription `json:"subscription,omitempty"`
}

func freshKey(customerID string) string { return "subscription:" + customerID }
func staleKey(customerID string) string { return "subscription:stale:" + customerID }

// Subscription implements SubscriptionLookup.
func (c *CachedSubscriptions) Subscription(ctx context.Context, customerID string) (*Subscription, error) {
	if c.Client == nil {
		return c.Lookup.Subscription(ctx, customerID)
	}
	if entry, ok := c.get(ctx, freshKey(customerID)); ok {
		return entry.Subscription, nil
	}
	v, err, _ := c.group.Do(customerID, func() (any, error) {
		sub, err := c.Lookup.Subscription(ctx, customerID)
		if err != nil {
			if stale, ok := c.get(ctx, staleKey(customerID)); ok {
				c.Logger.Warn().Err(err).Str("customer_id", customerID).Msg("subscription lookup failed, serving stale tier")
				return stale, nil
			}
			return nil, err
		}
		entry := cachedSubscription{Found: sub != nil, Subscription: sub}
		c.set(ctx, freshKey(customerID), entry, c.ttl())
		c.set(ctx, staleKey(customerID), entry, staleSubscriptionTTL)
		return entry, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(cachedSubscription).Subscription, nil
}

// Invalidate drops the fresh cache entry so the next lookup goes upstream.
func (c *CachedSubscriptions) Invalidate(ctx context.Context, customerID string) error {
	if c.Client == nil {
		return nil
	}
	return c.Client.Del(ctx, freshKey(customerID)).Err()
}

func (c *CachedSubscriptions) ttl() time.Duration {
	if c.TTL <= 0 {
		return time.Minute
	}
	return c.TTL
}

func (c *CachedSubscriptions) get(ctx context.Context, key string) (cachedSubscription, bool) {
	var entry cachedSubscription
	data, err := c.Client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.Logger.Warn().Err(err).Str("key", key).Msg("subscription cache read failed")
		}
		return entry, false
	}
	if err := json.Unmarshal(data, &entry); err != nil {
		return entry, false
	}
	return entry, true
}

func (c *CachedSubscriptions) set(ctx context.Context, key string, entry cachedSubscription, ttl time.Duration) {
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	if err := c.Client.Set(ctx, key, data, ttl).Err(); err != nil {
		c.Logger.Warn().Err(err).Str("key", key).Msg("subscription cache write failed")
	}
}
