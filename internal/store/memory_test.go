package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/binopt/settlement-engine/internal/model"
	"github.com/binopt/settlement-engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func seedWallet(t *testing.T, ms *store.MemoryStore, userID string, balance decimal.Decimal) {
	t.Helper()
	if _, err := ms.CreateWallet(context.Background(), userID, ""); err != nil {
		t.Fatalf("create wallet: %v", err)
	}
	if !balance.IsZero() {
		if err := ms.Credit(context.Background(), userID, balance); err != nil {
			t.Fatalf("credit wallet: %v", err)
		}
	}
}

func seedTrade(t *testing.T, ms *store.MemoryStore, userID string, stake decimal.Decimal) *model.Trade {
	t.Helper()
	now := time.Now().UTC()
	tr := &model.Trade{
		ID:         uuid.New().String(),
		UserID:     userID,
		Asset:      "BTC",
		Stake:      stake,
		Direction:  model.DirectionUp,
		EntryPrice: d(200),
		Duration:   60,
		ExpiresAt:  now.Add(60 * time.Second),
		Status:     model.TradeActive,
		CreatedAt:  now,
	}
	if err := ms.CreateTrade(context.Background(), tr); err != nil {
		t.Fatalf("create trade: %v", err)
	}
	return tr
}

func TestCreateWallet_Duplicate(t *testing.T) {
	ms := store.NewMemoryStore()
	seedWallet(t, ms, "user1", decimal.Zero)

	_, err := ms.CreateWallet(context.Background(), "user1", "")
	if !errors.Is(err, store.ErrWalletExists) {
		t.Errorf("expected ErrWalletExists, got %v", err)
	}
}

func TestLock_InsufficientFunds(t *testing.T) {
	ms := store.NewMemoryStore()
	seedWallet(t, ms, "user1", d(50))

	err := ms.Lock(context.Background(), "user1", d(100))
	if !errors.Is(err, store.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}

	// Balance untouched on failure.
	w, _ := ms.GetWallet(context.Background(), "user1")
	if !w.Balance.Equal(d(50)) || !w.Locked.IsZero() {
		t.Errorf("balances changed on failed lock: balance=%s locked=%s", w.Balance, w.Locked)
	}
}

func TestLock_MovesBalanceConservatively(t *testing.T) {
	ms := store.NewMemoryStore()
	seedWallet(t, ms, "user1", d(1000))

	if err := ms.Lock(context.Background(), "user1", d(100)); err != nil {
		t.Fatalf("lock: %v", err)
	}

	w, _ := ms.GetWallet(context.Background(), "user1")
	if !w.Balance.Equal(d(900)) {
		t.Errorf("expected balance=900, got %s", w.Balance)
	}
	if !w.Locked.Equal(d(100)) {
		t.Errorf("expected locked=100, got %s", w.Locked)
	}
	// Locking is conservative: total value unchanged.
	if !w.Balance.Add(w.Locked).Equal(d(1000)) {
		t.Errorf("total value changed by lock: %s", w.Balance.Add(w.Locked))
	}
}

func TestUnlockAndCredit_ExceedsLockedIsInvariantViolation(t *testing.T) {
	ms := store.NewMemoryStore()
	seedWallet(t, ms, "user1", d(100))

	err := ms.UnlockAndCredit(context.Background(), "user1", d(50), d(80))
	if !errors.Is(err, store.ErrInvariant) {
		t.Errorf("expected ErrInvariant for unlock without lock, got %v", err)
	}
}

func TestDebit_InsufficientFunds(t *testing.T) {
	ms := store.NewMemoryStore()
	seedWallet(t, ms, "user1", d(10))

	err := ms.Debit(context.Background(), "user1", d(20))
	if !errors.Is(err, store.ErrInsufficientFunds) {
		t.Errorf("expected ErrInsufficientFunds, got %v", err)
	}
}

func TestDeposit_CreditsAndRecordsTransaction(t *testing.T) {
	ms := store.NewMemoryStore()
	seedWallet(t, ms, "user1", decimal.Zero)

	txn, err := ms.Deposit(context.Background(), "user1", d(500), "pay-123")
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if txn.Kind != model.TxnDeposit || txn.Status != model.TxnCompleted {
		t.Errorf("unexpected transaction %s/%s", txn.Kind, txn.Status)
	}

	w, _ := ms.GetWallet(context.Background(), "user1")
	if !w.Balance.Equal(d(500)) {
		t.Errorf("expected balance=500, got %s", w.Balance)
	}

	txns, _ := ms.ListTransactions(context.Background(), "user1", 0)
	if len(txns) != 1 {
		t.Fatalf("expected 1 transaction, got %d", len(txns))
	}
}

func TestWithdraw_PendingTransaction(t *testing.T) {
	ms := store.NewMemoryStore()
	seedWallet(t, ms, "user1", d(500))

	txn, err := ms.Withdraw(context.Background(), "user1", d(200))
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if txn.Status != model.TxnPending {
		t.Errorf("expected PENDING withdrawal, got %s", txn.Status)
	}

	w, _ := ms.GetWallet(context.Background(), "user1")
	if !w.Balance.Equal(d(300)) {
		t.Errorf("expected balance=300, got %s", w.Balance)
	}
}

func TestCreateTrade_LocksStake(t *testing.T) {
	ms := store.NewMemoryStore()
	seedWallet(t, ms, "user1", d(1000))

	tr := seedTrade(t, ms, "user1", d(100))

	w, _ := ms.GetWallet(context.Background(), "user1")
	if !w.Balance.Equal(d(900)) || !w.Locked.Equal(d(100)) {
		t.Errorf("expected 900/100, got %s/%s", w.Balance, w.Locked)
	}

	got, err := ms.GetTrade(context.Background(), tr.ID)
	if err != nil {
		t.Fatalf("get trade: %v", err)
	}
	if got.Status != model.TradeActive {
		t.Errorf("expected ACTIVE, got %s", got.Status)
	}
	if got.ExitPrice != nil || got.Payout != nil || got.ProfitLoss != nil || got.SettledAt != nil {
		t.Error("settlement fields must be absent while ACTIVE")
	}
}

func TestCreateTrade_InsufficientFundsCreatesNothing(t *testing.T) {
	ms := store.NewMemoryStore()
	seedWallet(t, ms, "user1", d(50))

	now := time.Now().UTC()
	tr := &model.Trade{
		ID: uuid.New().String(), UserID: "user1", Asset: "BTC",
		Stake: d(100), Direction: model.DirectionUp, EntryPrice: d(200),
		Duration: 60, ExpiresAt: now.Add(time.Minute), Status: model.TradeActive, CreatedAt: now,
	}
	err := ms.CreateTrade(context.Background(), tr)
	if !errors.Is(err, store.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}

	if _, err := ms.GetTrade(context.Background(), tr.ID); !errors.Is(err, store.ErrTradeNotFound) {
		t.Error("no trade record should exist after failed creation")
	}
}

func TestSettleTrade_WinCreditsPayoutOnce(t *testing.T) {
	ms := store.NewMemoryStore()
	seedWallet(t, ms, "user1", d(1000))
	tr := seedTrade(t, ms, "user1", d(100))

	set := model.Settlement{
		Status:     model.TradeWon,
		ExitPrice:  d(210),
		Payout:     d(175),
		ProfitLoss: d(75),
		SettledAt:  time.Now().UTC(),
	}
	settled, err := ms.SettleTrade(context.Background(), tr.ID, set)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if settled.Status != model.TradeWon {
		t.Errorf("expected WON, got %s", settled.Status)
	}
	if settled.Payout == nil || !settled.Payout.Equal(d(175)) {
		t.Errorf("expected payout=175, got %v", settled.Payout)
	}

	w, _ := ms.GetWallet(context.Background(), "user1")
	if !w.Balance.Equal(d(1075)) || !w.Locked.IsZero() {
		t.Errorf("expected 1075/0 after win, got %s/%s", w.Balance, w.Locked)
	}

	// Duplicate delivery: a no-op, and the ledger is untouched.
	_, err = ms.SettleTrade(context.Background(), tr.ID, set)
	if !errors.Is(err, store.ErrAlreadySettled) {
		t.Fatalf("expected ErrAlreadySettled, got %v", err)
	}
	w, _ = ms.GetWallet(context.Background(), "user1")
	if !w.Balance.Equal(d(1075)) {
		t.Errorf("duplicate settlement changed balance to %s", w.Balance)
	}

	txns, _ := ms.ListTransactions(context.Background(), "user1", 0)
	if len(txns) != 1 {
		t.Errorf("expected exactly 1 audit row, got %d", len(txns))
	}
	if txns[0].Kind != model.TxnTradeWin || txns[0].ReferenceID != tr.ID {
		t.Errorf("unexpected audit row %+v", txns[0])
	}
}

func TestSettleTrade_LossCreditsLossMultiplier(t *testing.T) {
	ms := store.NewMemoryStore()
	seedWallet(t, ms, "user1", d(1000))
	tr := seedTrade(t, ms, "user1", d(100))

	_, err := ms.SettleTrade(context.Background(), tr.ID, model.Settlement{
		Status:     model.TradeLost,
		ExitPrice:  d(190),
		Payout:     d(50),
		ProfitLoss: d(-50),
		SettledAt:  time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("settle: %v", err)
	}

	w, _ := ms.GetWallet(context.Background(), "user1")
	if !w.Balance.Equal(d(950)) || !w.Locked.IsZero() {
		t.Errorf("expected 950/0 after loss, got %s/%s", w.Balance, w.Locked)
	}
}

func TestSettleTrade_NotFound(t *testing.T) {
	ms := store.NewMemoryStore()
	_, err := ms.SettleTrade(context.Background(), "nope", model.Settlement{})
	if !errors.Is(err, store.ErrTradeNotFound) {
		t.Errorf("expected ErrTradeNotFound, got %v", err)
	}
}

func TestListActiveAndSettledTrades(t *testing.T) {
	ms := store.NewMemoryStore()
	seedWallet(t, ms, "user1", d(1000))

	t1 := seedTrade(t, ms, "user1", d(100))
	t2 := seedTrade(t, ms, "user1", d(100))

	active, _ := ms.ListActiveTrades(context.Background(), "user1")
	if len(active) != 2 {
		t.Fatalf("expected 2 active trades, got %d", len(active))
	}

	ms.SettleTrade(context.Background(), t1.ID, model.Settlement{
		Status: model.TradeLost, ExitPrice: d(200), Payout: d(50),
		ProfitLoss: d(-50), SettledAt: time.Now().UTC(),
	})

	active, _ = ms.ListActiveTrades(context.Background(), "user1")
	if len(active) != 1 || active[0].ID != t2.ID {
		t.Errorf("expected only %s active", t2.ID)
	}

	settled, _ := ms.ListSettledTrades(context.Background(), "user1", 10)
	if len(settled) != 1 || settled[0].ID != t1.ID {
		t.Errorf("expected only %s settled", t1.ID)
	}
}

func TestListOverdueTrades(t *testing.T) {
	ms := store.NewMemoryStore()
	seedWallet(t, ms, "user1", d(1000))
	tr := seedTrade(t, ms, "user1", d(100))

	// Not overdue yet.
	overdue, _ := ms.ListOverdueTrades(context.Background(), time.Now().UTC())
	if len(overdue) != 0 {
		t.Fatalf("expected no overdue trades, got %d", len(overdue))
	}

	// Past the expiry it shows up.
	overdue, _ = ms.ListOverdueTrades(context.Background(), time.Now().Add(2*time.Minute))
	if len(overdue) != 1 || overdue[0].ID != tr.ID {
		t.Errorf("expected %s overdue", tr.ID)
	}
}
