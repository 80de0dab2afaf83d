package oracle

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/binopt/settlement-engine/internal/asset"
)

// Poller periodically refreshes prices for every supported asset, keeping the
// cache warm and feeding the WebSocket fan-out. Settlement never depends on
// the poller; it exists so clients see live prices and cached reads stay hot.
type Poller struct {
	source   Oracle
	cache    *CachedOracle // optional
	onPrice  func(symbol string, price decimal.Decimal, at time.Time)
	interval time.Duration
}

// NewPoller creates a price poller. cache and onPrice may be nil.
func NewPoller(source Oracle, cache *CachedOracle, interval time.Duration,
	onPrice func(symbol string, price decimal.Decimal, at time.Time)) *Poller {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Poller{
		source:   source,
		cache:    cache,
		onPrice:  onPrice,
		interval: interval,
	}
}

// Run polls until the context is cancelled. Must be called in a goroutine.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.refresh(ctx)
		}
	}
}

func (p *Poller) refresh(ctx context.Context) {
	for _, symbol := range asset.Symbols() {
		price, err := p.source.CurrentPrice(ctx, symbol)
		if err != nil {
			slog.Warn("price refresh failed", "symbol", symbol, "err", err)
			continue
		}
		now := time.Now().UTC()
		if p.cache != nil {
			p.cache.UpdatePrice(ctx, symbol, price)
		}
		if p.onPrice != nil {
			p.onPrice(symbol, price, now)
		}
	}
}
