// Package oracle provides point-in-time asset prices for trade entry and
// settlement. The CoinGecko client is the production source; a Redis
// read-through cache bounds staleness to a few seconds; the static oracle
// serves tests and development.
package oracle

import (
	"context"
	"errors"
	"sync"

	"github.com/shopspring/decimal"
)

// ErrUnavailable signals a transient price-feed failure. Settlement jobs
// hitting it are retried by the scheduler.
var ErrUnavailable = errors.New("oracle: price feed unavailable")

// Oracle returns the current price of an asset in the settlement currency.
type Oracle interface {
	CurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// StaticOracle serves fixed prices from memory. Used in tests and dev mode.
type StaticOracle struct {
	mu     sync.RWMutex
	prices map[string]decimal.Decimal
}

// NewStaticOracle creates an oracle with the given symbol→price map.
func NewStaticOracle(prices map[string]decimal.Decimal) *StaticOracle {
	cp := make(map[string]decimal.Decimal, len(prices))
	for k, v := range prices {
		cp[k] = v
	}
	return &StaticOracle{prices: cp}
}

func (o *StaticOracle) CurrentPrice(_ context.Context, symbol string) (decimal.Decimal, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	p, ok := o.prices[symbol]
	if !ok {
		return decimal.Zero, ErrUnavailable
	}
	return p, nil
}

// SetPrice updates a price, letting tests move the market.
func (o *StaticOracle) SetPrice(symbol string, price decimal.Decimal) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.prices[symbol] = price
}
