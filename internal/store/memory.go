package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/binopt/settlement-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing and
// development. Not suitable for production (no persistence). A single mutex
// serializes all mutations, which gives the same per-wallet and per-trade
// atomicity the SQL implementation gets from conditional updates.
type MemoryStore struct {
	mu      sync.Mutex
	wallets map[string]*model.Wallet // keyed by userID
	trades  map[string]*model.Trade
	txns    []model.Transaction
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		wallets: make(map[string]*model.Wallet),
		trades:  make(map[string]*model.Trade),
	}
}

// --- Wallets ---

func (s *MemoryStore) CreateWallet(_ context.Context, userID, currency string) (*model.Wallet, error) {
	if currency == "" {
		currency = DefaultCurrency
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.wallets[userID]; ok {
		return nil, ErrWalletExists
	}
	w := &model.Wallet{
		ID:        uuid.New().String(),
		UserID:    userID,
		Balance:   decimal.Zero,
		Locked:    decimal.Zero,
		Currency:  currency,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	s.wallets[userID] = w
	cp := *w
	return &cp, nil
}

func (s *MemoryStore) GetWallet(_ context.Context, userID string) (*model.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.wallets[userID]
	if !ok {
		return nil, ErrWalletNotFound
	}
	cp := *w
	return &cp, nil
}

func (s *MemoryStore) Lock(_ context.Context, userID string, amount decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lockLocked(userID, amount)
}

func (s *MemoryStore) lockLocked(userID string, amount decimal.Decimal) error {
	w, ok := s.wallets[userID]
	if !ok {
		return ErrWalletNotFound
	}
	if w.Balance.LessThan(amount) {
		return ErrInsufficientFunds
	}
	w.Balance = w.Balance.Sub(amount)
	w.Locked = w.Locked.Add(amount)
	w.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) UnlockAndCredit(_ context.Context, userID string, lockedAmount, payout decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unlockAndCreditLocked(userID, lockedAmount, payout)
}

func (s *MemoryStore) unlockAndCreditLocked(userID string, lockedAmount, payout decimal.Decimal) error {
	w, ok := s.wallets[userID]
	if !ok {
		return ErrWalletNotFound
	}
	if w.Locked.LessThan(lockedAmount) {
		return ErrInvariant
	}
	w.Locked = w.Locked.Sub(lockedAmount)
	w.Balance = w.Balance.Add(payout)
	w.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) Credit(_ context.Context, userID string, amount decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creditLocked(userID, amount)
}

func (s *MemoryStore) creditLocked(userID string, amount decimal.Decimal) error {
	w, ok := s.wallets[userID]
	if !ok {
		return ErrWalletNotFound
	}
	w.Balance = w.Balance.Add(amount)
	w.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) Debit(_ context.Context, userID string, amount decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.debitLocked(userID, amount)
}

func (s *MemoryStore) debitLocked(userID string, amount decimal.Decimal) error {
	w, ok := s.wallets[userID]
	if !ok {
		return ErrWalletNotFound
	}
	if w.Balance.LessThan(amount) {
		return ErrInsufficientFunds
	}
	w.Balance = w.Balance.Sub(amount)
	w.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) Deposit(_ context.Context, userID string, amount decimal.Decimal, paymentID string) (*model.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.creditLocked(userID, amount); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	txn := model.Transaction{
		ID:          uuid.New().String(),
		UserID:      userID,
		Kind:        model.TxnDeposit,
		Amount:      amount,
		Status:      model.TxnCompleted,
		ReferenceID: paymentID,
		CreatedAt:   now,
		CompletedAt: &now,
	}
	s.txns = append(s.txns, txn)
	return &txn, nil
}

func (s *MemoryStore) Withdraw(_ context.Context, userID string, amount decimal.Decimal) (*model.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.debitLocked(userID, amount); err != nil {
		return nil, err
	}
	txn := model.Transaction{
		ID:        uuid.New().String(),
		UserID:    userID,
		Kind:      model.TxnWithdrawal,
		Amount:    amount,
		Status:    model.TxnPending,
		CreatedAt: time.Now().UTC(),
	}
	s.txns = append(s.txns, txn)
	return &txn, nil
}

// --- Trades ---

func (s *MemoryStore) CreateTrade(_ context.Context, t *model.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.lockLocked(t.UserID, t.Stake); err != nil {
		return err
	}
	cp := *t
	s.trades[t.ID] = &cp
	return nil
}

func (s *MemoryStore) GetTrade(_ context.Context, id string) (*model.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.trades[id]
	if !ok {
		return nil, ErrTradeNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *MemoryStore) ListActiveTrades(_ context.Context, userID string) ([]model.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.Trade
	for _, t := range s.trades {
		if t.UserID == userID && t.Status == model.TradeActive {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) ListSettledTrades(_ context.Context, userID string, limit int) ([]model.Trade, error) {
	if limit <= 0 {
		limit = 50
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.Trade
	for _, t := range s.trades {
		if t.UserID == userID && t.Terminal() {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		ti, tj := out[i].SettledAt, out[j].SettledAt
		if ti == nil || tj == nil {
			return tj == nil
		}
		return ti.After(*tj)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) ListOverdueTrades(_ context.Context, cutoff time.Time) ([]model.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.Trade
	for _, t := range s.trades {
		if t.Status == model.TradeActive && t.ExpiresAt.Before(cutoff) {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	return out, nil
}

func (s *MemoryStore) SettleTrade(_ context.Context, id string, set model.Settlement) (*model.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.trades[id]
	if !ok {
		return nil, ErrTradeNotFound
	}
	if t.Status != model.TradeActive {
		return nil, ErrAlreadySettled
	}

	if err := s.unlockAndCreditLocked(t.UserID, t.Stake, set.Payout); err != nil {
		return nil, err
	}

	exit := set.ExitPrice
	payout := set.Payout
	pnl := set.ProfitLoss
	settledAt := set.SettledAt
	t.Status = set.Status
	t.ExitPrice = &exit
	t.Payout = &payout
	t.ProfitLoss = &pnl
	t.SettledAt = &settledAt

	if kind := auditKind(set.Status); kind != "" {
		s.txns = append(s.txns, model.Transaction{
			ID:          uuid.New().String(),
			UserID:      t.UserID,
			Kind:        kind,
			Amount:      set.ProfitLoss,
			Status:      model.TxnCompleted,
			ReferenceID: id,
			CreatedAt:   settledAt,
			CompletedAt: &settledAt,
		})
	}

	cp := *t
	return &cp, nil
}

// --- Transactions ---

func (s *MemoryStore) ListTransactions(_ context.Context, userID string, limit int) ([]model.Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.Transaction
	for i := len(s.txns) - 1; i >= 0 && len(out) < limit; i-- {
		if s.txns[i].UserID == userID {
			out = append(out, s.txns[i])
		}
	}
	return out, nil
}
