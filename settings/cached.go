package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// Cached keeps provider answers in Redis so every instance reads the same values between refreshes.
// A nil client passes straight through.
type Cached struct {
	next   Provider
	client *redis.Client
	ttl    time.Duration
	prefix string
}

type commissionEntry struct {
	Rate  decimal.Decimal `json:"rate"`
	Found bool            `json:"found"`
}

func NewCached(next Provider, client *redis.Client, ttl time.Duration) *Cached {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cached{next: next, client: client, ttl: ttl, prefix: "settings:billing:"}
}

func (c *Cached) VATRate(ctx context.Context) (decimal.Decimal, error) {
	return getOrSet(ctx, c, c.prefix+"vat_rate", func() (decimal.Decimal, error) {
		return c.next.VATRate(ctx)
	})
}

func (c *Cached) CommissionRate(ctx context.Context, installmentCount int) (decimal.Decimal, bool, error) {
	key := fmt.Sprintf("%scommission:%d", c.prefix, installmentCount)
	entry, err := getOrSet(ctx, c, key, func() (commissionEntry, error) {
		rate, ok, err := c.next.CommissionRate(ctx, installmentCount)
		return commissionEntry{Rate: rate, Found: ok}, err
	})
	return entry.Rate, entry.Found, err
}

// Invalidate drops every cached billing setting.
func (c *Cached) Invalidate(ctx context.Context) error {
	if c.client == nil {
		return nil
	}
	keys, err := c.client.Keys(ctx, c.prefix+"*").Result()
	if err != nil || len(keys) == 0 {
		return err
	}
	return c.client.Del(ctx, keys...).Err()
}

func getOrSet[T any](ctx context.Context, c *Cached, key string, fn func() (T, error)) (T, error) {
	var result T
	if c.client == nil {
		return fn()
	}
	if data, err := c.client.Get(ctx, key).Bytes(); err == nil {
		if json.Unmarshal(data, &result) == nil {
			return result, nil
		}
	}

	result, err := fn()
	if err != nil {
		return result, err
	}
	if data, err := json.Marshal(result); err == nil {
		// cache write failures only cost a recomputation next time
		_ = c.client.Set(ctx, key, data, c.ttl).Err()
	}
	return result, nil
}
