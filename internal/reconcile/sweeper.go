// Package reconcile re-drives settlement for trades the queue lost track of.
//
// The queue is at-least-once, but a Redis wipe, a dead-lettered job, or an
// enqueue that failed after trade creation all leave an ACTIVE trade with no
// scheduled delivery. The sweeper finds trades past expiry plus a grace
// period and enqueues them again; settlement itself stays idempotent, so
// re-driving a trade that is concurrently being settled is harmless.
package reconcile

import (
	"context"
	"log/slog"
	"time"

	"github.com/binopt/settlement-engine/internal/metrics"
	"github.com/binopt/settlement-engine/internal/queue"
	"github.com/binopt/settlement-engine/internal/store"
)

// Sweeper periodically scans for overdue ACTIVE trades and re-enqueues them.
type Sweeper struct {
	store    store.Store
	queue    queue.Queue
	grace    time.Duration
	interval time.Duration
}

// NewSweeper creates a sweeper. Grace is how far past expiry a trade must be
// before it counts as overdue (default 30s, covering normal queue latency);
// interval is the scan period (default 60s).
func NewSweeper(st store.Store, q queue.Queue, grace, interval time.Duration) *Sweeper {
	if grace <= 0 {
		grace = 30 * time.Second
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{store: st, queue: q, grace: grace, interval: interval}
}

// Run blocks until the context is cancelled, sweeping on each tick.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				slog.Error("reconciliation sweep failed", "err", err)
			}
		}
	}
}

// Sweep runs one scan, returning how many trades were re-driven.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-s.grace)
	overdue, err := s.store.ListOverdueTrades(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	redriven := 0
	for _, t := range overdue {
		if err := s.queue.Enqueue(ctx, t.ID, 0); err != nil {
			slog.Error("re-enqueue of overdue trade failed", "trade_id", t.ID, "err", err)
			continue
		}
		slog.Warn("re-driving overdue trade",
			"trade_id", t.ID,
			"user", t.UserID,
			"expired_at", t.ExpiresAt,
		)
		metrics.OverdueTrades.Inc()
		redriven++
	}
	return redriven, nil
}
