package reconcile_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/binopt/settlement-engine/internal/model"
	"github.com/binopt/settlement-engine/internal/queue"
	"github.com/binopt/settlement-engine/internal/reconcile"
	"github.com/binopt/settlement-engine/internal/store"
)

func seedTrade(t *testing.T, ms *store.MemoryStore, id string, expiresAt time.Time) {
	t.Helper()
	ctx := context.Background()
	stake := decimal.NewFromInt(100)

	tr := &model.Trade{
		ID:         id,
		UserID:     "user1",
		Asset:      "BTC",
		Stake:      stake,
		Direction:  model.DirectionUp,
		EntryPrice: decimal.NewFromInt(200),
		Duration:   60,
		ExpiresAt:  expiresAt,
		Status:     model.TradeActive,
		CreatedAt:  expiresAt.Add(-time.Minute),
	}
	if err := ms.CreateTrade(ctx, tr); err != nil {
		t.Fatalf("seed trade: %v", err)
	}
}

func newStore(t *testing.T) *store.MemoryStore {
	t.Helper()
	ms := store.NewMemoryStore()
	ctx := context.Background()
	if _, err := ms.CreateWallet(ctx, "user1", ""); err != nil {
		t.Fatalf("create wallet: %v", err)
	}
	if _, err := ms.Deposit(ctx, "user1", decimal.NewFromInt(1000), "seed"); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	return ms
}

func TestSweepRedrivesOverdueTrades(t *testing.T) {
	ms := newStore(t)
	mq := queue.NewMemoryQueue(0)
	sw := reconcile.NewSweeper(ms, mq, time.Second, time.Minute)
	ctx := context.Background()

	seedTrade(t, ms, "overdue", time.Now().Add(-time.Minute))

	n, err := sw.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 re-driven trade, got %d", n)
	}

	jobs, _ := mq.Claim(ctx, 10)
	if len(jobs) != 1 || jobs[0].TradeID != "overdue" {
		t.Errorf("re-driven trade should be immediately claimable, got %+v", jobs)
	}
}

func TestSweepIgnoresTradesWithinGrace(t *testing.T) {
	ms := newStore(t)
	mq := queue.NewMemoryQueue(0)
	sw := reconcile.NewSweeper(ms, mq, time.Minute, time.Minute)
	ctx := context.Background()

	// Expired five seconds ago, still inside the one-minute grace window.
	seedTrade(t, ms, "fresh", time.Now().Add(-5*time.Second))

	n, err := sw.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 0 {
		t.Errorf("trade inside grace must not be re-driven, got %d", n)
	}
}

func TestSweepIgnoresSettledTrades(t *testing.T) {
	ms := newStore(t)
	mq := queue.NewMemoryQueue(0)
	sw := reconcile.NewSweeper(ms, mq, time.Second, time.Minute)
	ctx := context.Background()

	seedTrade(t, ms, "done", time.Now().Add(-time.Minute))
	exit := decimal.NewFromInt(210)
	if _, err := ms.SettleTrade(ctx, "done", model.Settlement{
		Status:     model.TradeWon,
		ExitPrice:  exit,
		Payout:     decimal.NewFromInt(175),
		ProfitLoss: decimal.NewFromInt(75),
		SettledAt:  time.Now().UTC(),
	}); err != nil {
		t.Fatalf("settle: %v", err)
	}

	n, err := sw.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 0 {
		t.Errorf("settled trade must not be re-driven, got %d", n)
	}
}
