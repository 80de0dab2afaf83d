package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/binopt/settlement-engine/internal/model"
)

// DefaultCurrency is the single settlement currency.
const DefaultCurrency = "INR"

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
// Balance mutations are single conditional UPDATEs so the wallet row is the
// contention point; no SELECT-then-UPDATE anywhere.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// --- Wallets ---

func (s *PostgresStore) CreateWallet(ctx context.Context, userID, currency string) (*model.Wallet, error) {
	if currency == "" {
		currency = DefaultCurrency
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
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO wallets (id, user_id, balance, locked_balance, currency, created_at, updated_at)
		 VALUES ($1, $2, 0, 0, $3, $4, $4)
		 ON CONFLICT (user_id, currency) DO NOTHING`,
		w.ID, userID, currency, w.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("create wallet for %s: %w", userID, err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrWalletExists
	}
	return w, nil
}

func (s *PostgresStore) GetWallet(ctx context.Context, userID string) (*model.Wallet, error) {
	var w model.Wallet
	var balance, locked string

	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, balance::TEXT, locked_balance::TEXT, currency, created_at, updated_at
		 FROM wallets WHERE user_id = $1 AND currency = $2`,
		userID, DefaultCurrency).
		Scan(&w.ID, &w.UserID, &balance, &locked, &w.Currency, &w.CreatedAt, &w.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrWalletNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get wallet for %s: %w", userID, err)
	}

	w.Balance, _ = decimal.NewFromString(balance)
	w.Locked, _ = decimal.NewFromString(locked)
	return &w, nil
}

func (s *PostgresStore) Lock(ctx context.Context, userID string, amount decimal.Decimal) error {
	return s.lock(ctx, s.pool, userID, amount)
}

// lock runs the conditional balance→locked move on any pgx executor, so
// CreateTrade can reuse it inside a transaction.
func (s *PostgresStore) lock(ctx context.Context, db executor, userID string, amount decimal.Decimal) error {
	tag, err := db.Exec(ctx,
		`UPDATE wallets
		 SET balance = balance - $1::NUMERIC,
		     locked_balance = locked_balance + $1::NUMERIC,
		     updated_at = NOW()
		 WHERE user_id = $2 AND currency = $3 AND balance >= $1::NUMERIC`,
		amount.String(), userID, DefaultCurrency,
	)
	if err != nil {
		return fmt.Errorf("lock funds for %s: %w", userID, err)
	}
	if tag.RowsAffected() == 0 {
		return s.classifyNoWalletRow(ctx, db, userID)
	}
	return nil
}

func (s *PostgresStore) UnlockAndCredit(ctx context.Context, userID string, lockedAmount, payout decimal.Decimal) error {
	return s.unlockAndCredit(ctx, s.pool, userID, lockedAmount, payout)
}

func (s *PostgresStore) unlockAndCredit(ctx context.Context, db executor, userID string, lockedAmount, payout decimal.Decimal) error {
	tag, err := db.Exec(ctx,
		`UPDATE wallets
		 SET locked_balance = locked_balance - $1::NUMERIC,
		     balance = balance + $2::NUMERIC,
		     updated_at = NOW()
		 WHERE user_id = $3 AND currency = $4 AND locked_balance >= $1::NUMERIC`,
		lockedAmount.String(), payout.String(), userID, DefaultCurrency,
	)
	if err != nil {
		return fmt.Errorf("unlock and credit for %s: %w", userID, err)
	}
	if tag.RowsAffected() == 0 {
		if err := s.classifyNoWalletRow(ctx, db, userID); errors.Is(err, ErrWalletNotFound) {
			return err
		}
		// Wallet exists but locked_balance < lockedAmount: the lock this
		// settlement is releasing is gone. Ledger state is corrupt.
		return fmt.Errorf("%w: locked balance below stake for user %s", ErrInvariant, userID)
	}
	return nil
}

func (s *PostgresStore) Credit(ctx context.Context, userID string, amount decimal.Decimal) error {
	return s.credit(ctx, s.pool, userID, amount)
}

func (s *PostgresStore) credit(ctx context.Context, db executor, userID string, amount decimal.Decimal) error {
	tag, err := db.Exec(ctx,
		`UPDATE wallets
		 SET balance = balance + $1::NUMERIC, updated_at = NOW()
		 WHERE user_id = $2 AND currency = $3`,
		amount.String(), userID, DefaultCurrency,
	)
	if err != nil {
		return fmt.Errorf("credit %s: %w", userID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrWalletNotFound
	}
	return nil
}

func (s *PostgresStore) Debit(ctx context.Context, userID string, amount decimal.Decimal) error {
	return s.debit(ctx, s.pool, userID, amount)
}

func (s *PostgresStore) debit(ctx context.Context, db executor, userID string, amount decimal.Decimal) error {
	tag, err := db.Exec(ctx,
		`UPDATE wallets
		 SET balance = balance - $1::NUMERIC, updated_at = NOW()
		 WHERE user_id = $2 AND currency = $3 AND balance >= $1::NUMERIC`,
		amount.String(), userID, DefaultCurrency,
	)
	if err != nil {
		return fmt.Errorf("debit %s: %w", userID, err)
	}
	if tag.RowsAffected() == 0 {
		return s.classifyNoWalletRow(ctx, db, userID)
	}
	return nil
}

// classifyNoWalletRow distinguishes a missing wallet from an insufficient
// balance after a conditional update matched zero rows.
func (s *PostgresStore) classifyNoWalletRow(ctx context.Context, db executor, userID string) error {
	var exists bool
	err := db.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM wallets WHERE user_id = $1 AND currency = $2)`,
		userID, DefaultCurrency).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check wallet for %s: %w", userID, err)
	}
	if !exists {
		return ErrWalletNotFound
	}
	return ErrInsufficientFunds
}

func (s *PostgresStore) Deposit(ctx context.Context, userID string, amount decimal.Decimal, paymentID string) (*model.Transaction, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if err := s.credit(ctx, tx, userID, amount); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	txn := &model.Transaction{
		ID:          uuid.New().String(),
		UserID:      userID,
		Kind:        model.TxnDeposit,
		Amount:      amount,
		Status:      model.TxnCompleted,
		ReferenceID: paymentID,
		CreatedAt:   now,
		CompletedAt: &now,
	}
	if err := insertTransaction(ctx, tx, txn); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return txn, nil
}

func (s *PostgresStore) Withdraw(ctx context.Context, userID string, amount decimal.Decimal) (*model.Transaction, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if err := s.debit(ctx, tx, userID, amount); err != nil {
		return nil, err
	}

	txn := &model.Transaction{
		ID:        uuid.New().String(),
		UserID:    userID,
		Kind:      model.TxnWithdrawal,
		Amount:    amount,
		Status:    model.TxnPending,
		CreatedAt: time.Now().UTC(),
	}
	if err := insertTransaction(ctx, tx, txn); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return txn, nil
}

// --- Trades ---

func (s *PostgresStore) CreateTrade(ctx context.Context, t *model.Trade) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	// Lock the stake first; the insert below shares the transaction, so a
	// failed insert rolls the lock back with it.
	if err := s.lock(ctx, tx, t.UserID, t.Stake); err != nil {
		return err
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO trades
		 (id, user_id, asset, amount, direction, entry_price, duration, expires_at, status, created_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5, $6::NUMERIC, $7, $8, $9, $10)`,
		t.ID, t.UserID, t.Asset, t.Stake.String(), t.Direction,
		t.EntryPrice.String(), t.Duration, t.ExpiresAt, t.Status, t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert trade %s: %w", t.ID, err)
	}

	return tx.Commit(ctx)
}

const tradeColumns = `id, user_id, asset, amount::TEXT, direction, entry_price::TEXT,
	        exit_price::TEXT, duration, expires_at, status,
	        payout::TEXT, profit_loss::TEXT, created_at, settled_at`

func (s *PostgresStore) GetTrade(ctx context.Context, id string) (*model.Trade, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+tradeColumns+` FROM trades WHERE id = $1`, id)
	t, err := scanTrade(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrTradeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get trade %s: %w", id, err)
	}
	return t, nil
}

func (s *PostgresStore) ListActiveTrades(ctx context.Context, userID string) ([]model.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeColumns+` FROM trades
		 WHERE user_id = $1 AND status = $2
		 ORDER BY created_at DESC`,
		userID, model.TradeActive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTrades(rows)
}

func (s *PostgresStore) ListSettledTrades(ctx context.Context, userID string, limit int) ([]model.Trade, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeColumns+` FROM trades
		 WHERE user_id = $1 AND status IN ($2, $3, $4)
		 ORDER BY settled_at DESC
		 LIMIT $5`,
		userID, model.TradeWon, model.TradeLost, model.TradeCancelled, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTrades(rows)
}

func (s *PostgresStore) ListOverdueTrades(ctx context.Context, cutoff time.Time) ([]model.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeColumns+` FROM trades
		 WHERE status = $1 AND expires_at < $2
		 ORDER BY expires_at`,
		model.TradeActive, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTrades(rows)
}

func (s *PostgresStore) SettleTrade(ctx context.Context, id string, set model.Settlement) (*model.Trade, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	// Row lock serializes concurrent settlers for the same trade; the
	// status predicate on the UPDATE below stays as the authoritative guard.
	var status, userID, stakeS string
	err = tx.QueryRow(ctx,
		`SELECT status, user_id, amount::TEXT FROM trades WHERE id = $1 FOR UPDATE`, id).
		Scan(&status, &userID, &stakeS)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrTradeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("settle trade %s: %w", id, err)
	}
	if status != model.TradeActive {
		return nil, ErrAlreadySettled
	}
	stake, _ := decimal.NewFromString(stakeS)

	tag, err := tx.Exec(ctx,
		`UPDATE trades
		 SET status = $2, exit_price = $3::NUMERIC, payout = $4::NUMERIC,
		     profit_loss = $5::NUMERIC, settled_at = $6
		 WHERE id = $1 AND status = $7`,
		id, set.Status, set.ExitPrice.String(), set.Payout.String(),
		set.ProfitLoss.String(), set.SettledAt, model.TradeActive,
	)
	if err != nil {
		return nil, fmt.Errorf("transition trade %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrAlreadySettled
	}

	// Transition applied: this settler owns the ledger effects.
	if err := s.unlockAndCredit(ctx, tx, userID, stake, set.Payout); err != nil {
		return nil, err
	}

	if kind := auditKind(set.Status); kind != "" {
		txn := &model.Transaction{
			ID:          uuid.New().String(),
			UserID:      userID,
			Kind:        kind,
			Amount:      set.ProfitLoss,
			Status:      model.TxnCompleted,
			ReferenceID: id,
			CreatedAt:   set.SettledAt,
			CompletedAt: &set.SettledAt,
		}
		if err := insertTransaction(ctx, tx, txn); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return s.GetTrade(ctx, id)
}

// auditKind maps a terminal trade state to its transaction kind.
// Cancellations refund the stake without a win/loss audit row.
func auditKind(status string) string {
	switch status {
	case model.TradeWon:
		return model.TxnTradeWin
	case model.TradeLost:
		return model.TxnTradeLoss
	default:
		return ""
	}
}

// --- Transactions ---

func (s *PostgresStore) ListTransactions(ctx context.Context, userID string, limit int) ([]model.Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, type, amount::TEXT, status, COALESCE(reference_id, ''), created_at, completed_at
		 FROM transactions WHERE user_id = $1
		 ORDER BY created_at DESC LIMIT $2`,
		userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txns []model.Transaction
	for rows.Next() {
		var t model.Transaction
		var amount string
		if err := rows.Scan(&t.ID, &t.UserID, &t.Kind, &amount, &t.Status,
			&t.ReferenceID, &t.CreatedAt, &t.CompletedAt); err != nil {
			return nil, err
		}
		t.Amount, _ = decimal.NewFromString(amount)
		txns = append(txns, t)
	}
	return txns, rows.Err()
}

func insertTransaction(ctx context.Context, db executor, t *model.Transaction) error {
	var ref any
	if t.ReferenceID != "" {
		ref = t.ReferenceID
	}
	_, err := db.Exec(ctx,
		`INSERT INTO transactions (id, user_id, type, amount, status, reference_id, created_at, completed_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5, $6, $7, $8)`,
		t.ID, t.UserID, t.Kind, t.Amount.String(), t.Status, ref, t.CreatedAt, t.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert transaction %s: %w", t.ID, err)
	}
	return nil
}

// --- Scan helpers ---

// executor is the subset of pgx shared by pools and transactions.
type executor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrade(row rowScanner) (*model.Trade, error) {
	var t model.Trade
	var stake, entry string
	var exit, payout, pnl *string

	err := row.Scan(&t.ID, &t.UserID, &t.Asset, &stake, &t.Direction, &entry,
		&exit, &t.Duration, &t.ExpiresAt, &t.Status,
		&payout, &pnl, &t.CreatedAt, &t.SettledAt)
	if err != nil {
		return nil, err
	}

	t.Stake, _ = decimal.NewFromString(stake)
	t.EntryPrice, _ = decimal.NewFromString(entry)
	t.ExitPrice = parseNullDecimal(exit)
	t.Payout = parseNullDecimal(payout)
	t.ProfitLoss = parseNullDecimal(pnl)
	return &t, nil
}

func scanTrades(rows pgx.Rows) ([]model.Trade, error) {
	var trades []model.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		trades = append(trades, *t)
	}
	return trades, rows.Err()
}

func parseNullDecimal(s *string) *decimal.Decimal {
	if s == nil {
		return nil
	}
	d, _ := decimal.NewFromString(*s)
	return &d
}
