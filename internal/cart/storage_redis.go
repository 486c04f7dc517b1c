package cart

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStorage keeps each cart as a JSON document under cart:<customer>.
// Every save slides the expiry forward by TTL.
type RedisStorage struct {
	Client *redis.Client
	TTL    time.Duration
}

func (r *RedisStorage) key(customerID string) string {
	return "cart:" + customerID
}

func (r *RedisStorage) ttl() time.Duration {
	if r.TTL <= 0 {
		return 7 * 24 * time.Hour
	}
	return r.TTL
}

// Load implements Storage.
func (r *RedisStorage) Load(ctx context.Context, customerID string) (*Cart, error) {
	data, err := r.Client.Get(ctx, r.key(customerID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return &Cart{CustomerID: customerID}, nil
		}
		return nil, err
	}
	var c Cart
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	c.CustomerID = customerID
	return &c, nil
}

// Save implements Storage.
func (r *RedisStorage) Save(ctx context.Context, c *Cart) error {
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return r.Client.Set(ctx, r.key(c.CustomerID), data, r.ttl()).Err()
}

// Delete implements Storage.
func (r *RedisStorage) Delete(ctx context.Context, customerID string) error {
	return r.Client.Del(ctx, r.key(customerID)).Err()
}
