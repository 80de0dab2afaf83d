package oracle

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// CachedOracle wraps a primary Oracle with a Redis read-through cache.
// Reads check Redis first then fall back to the primary; every successful
// primary read re-populates the cache. The TTL bounds staleness: the core
// treats any price inside it as point-in-time.
type CachedOracle struct {
	primary Oracle
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedOracle creates a cached wrapper around a primary oracle.
func NewCachedOracle(primary Oracle, rdb *redis.Client, ttl time.Duration) *CachedOracle {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &CachedOracle{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

func (o *CachedOracle) CurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	// Try cache.
	cached, err := o.rdb.Get(ctx, priceKey(symbol)).Result()
	if err == nil {
		if p, perr := decimal.NewFromString(cached); perr == nil {
			return p, nil
		}
	}

	// Cache miss: read from primary.
	price, err := o.primary.CurrentPrice(ctx, symbol)
	if err != nil {
		return decimal.Zero, err
	}

	o.rdb.Set(ctx, priceKey(symbol), price.String(), o.ttl)
	return price, nil
}

// UpdatePrice writes a price into the cache directly. Called by the poller so
// settlement reads hit warm prices.
func (o *CachedOracle) UpdatePrice(ctx context.Context, symbol string, price decimal.Decimal) {
	o.rdb.Set(ctx, priceKey(symbol), price.String(), o.ttl)
}

func priceKey(symbol string) string { return fmt.Sprintf("price:%s:INR", symbol) }
