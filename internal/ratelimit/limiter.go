package ratelimit

import (
	"context"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
	limiter "github.com/ulule/limiter/v3"
	limiterredis "github.com/ulule/limiter/v3/drivers/store/redis"
)

// Decision is the outcome of one rate limit check.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Limiter counts an event for key and reports whether it is within the limit.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// Store adapts a ulule limiter to Limiter.
type Store struct {
	L *limiter.Limiter
}

// Allow implements Limiter.
func (s Store) Allow(ctx context.Context, key string) (Decision, error) {
	lc, err := s.L.Get(ctx, key)
	if err != nil {
		return Decision{Allowed: true}, err
	}
	return Decision{
		Allowed:   !lc.Reached,
		Limit:     int(lc.Limit),
		Remaining: int(lc.Remaining),
		ResetAt:   time.Unix(lc.Reset, 0),
	}, nil
}

// NewStore builds a limiter for a formatted rate such as "10-M".
func NewStore(store limiter.Store, rate string) (Store, error) {
	r, err := limiter.NewRateFromFormatted(rate)
	if err != nil {
		return Store{}, fmt.Errorf("rate limit %q: %w", rate, err)
	}
	return Store{L: limiter.New(store, r)}, nil
}

// NewRedisStore builds a Redis backed limiter shared by all replicas.
func NewRedisStore(client *redis.Client, prefix, rate string) (Store, error) {
	store, err := limiterredis.NewStoreWithOptions(client, limiter.StoreOptions{Prefix: prefix})
	if err != nil {
		return Store{}, fmt.Errorf("rate limit store: %w", err)
	}
	return NewStore(store, rate)
}
