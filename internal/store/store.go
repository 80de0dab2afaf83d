// Package store defines the persistence interface for the settlement engine.
// Implementations include PostgreSQL (source of truth) and in-memory (for
// testing and development).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/binopt/settlement-engine/internal/model"
)

var (
	// ErrWalletNotFound is returned when no wallet exists for the user.
	ErrWalletNotFound = errors.New("store: wallet not found")

	// ErrWalletExists is returned when creating a wallet that already exists.
	ErrWalletExists = errors.New("store: wallet already exists")

	// ErrTradeNotFound is returned when no trade exists with the given id.
	ErrTradeNotFound = errors.New("store: trade not found")

	// ErrInsufficientFunds is returned when a conditional balance update
	// cannot be applied because the spendable balance is too low.
	ErrInsufficientFunds = errors.New("store: insufficient funds")

	// ErrAlreadySettled signals that a trade is no longer ACTIVE. It is the
	// idempotent no-op result of a duplicate settlement attempt, not a
	// failure: callers acknowledge and stop.
	ErrAlreadySettled = errors.New("store: trade already settled")

	// ErrInvariant signals a detected balance invariant violation. It must
	// halt automated retries for the affected entity and be surfaced for
	// manual reconciliation, never silently corrected.
	ErrInvariant = errors.New("store: balance invariant violated")
)

// Store is the persistence interface. PostgreSQL is the source of truth.
//
// Balance mutations are conditional single-row updates serialized on the
// wallet row; there is no separate check-then-act step anywhere. Trade
// settlement goes through SettleTrade, whose conditional transition on the
// expected ACTIVE state is the concurrency guard against double settlement.
type Store interface {
	// --- Wallet / ledger operations ---

	// CreateWallet creates a zero-balance wallet for the user.
	CreateWallet(ctx context.Context, userID, currency string) (*model.Wallet, error)

	// GetWallet retrieves the user's wallet.
	GetWallet(ctx context.Context, userID string) (*model.Wallet, error)

	// Lock atomically moves amount from spendable to locked balance.
	// Fails with ErrInsufficientFunds when balance < amount.
	Lock(ctx context.Context, userID string, amount decimal.Decimal) error

	// UnlockAndCredit atomically releases lockedAmount and credits payout to
	// the spendable balance. Not idempotent: callers must invoke it at most
	// once per trade (SettleTrade handles this for the settlement path).
	UnlockAndCredit(ctx context.Context, userID string, lockedAmount, payout decimal.Decimal) error

	// Credit adds amount to the spendable balance (deposits).
	Credit(ctx context.Context, userID string, amount decimal.Decimal) error

	// Debit removes amount from the spendable balance (withdrawals).
	// Fails with ErrInsufficientFunds when balance < amount.
	Debit(ctx context.Context, userID string, amount decimal.Decimal) error

	// Deposit credits the wallet and appends a COMPLETED transaction record
	// as one atomic unit.
	Deposit(ctx context.Context, userID string, amount decimal.Decimal, paymentID string) (*model.Transaction, error)

	// Withdraw debits the wallet and appends a PENDING transaction record as
	// one atomic unit.
	Withdraw(ctx context.Context, userID string, amount decimal.Decimal) (*model.Transaction, error)

	// --- Trade operations ---

	// CreateTrade locks the stake and inserts the ACTIVE trade as one atomic
	// unit. If the insert fails, the lock is rolled back.
	CreateTrade(ctx context.Context, t *model.Trade) error

	// GetTrade retrieves a trade by id.
	GetTrade(ctx context.Context, id string) (*model.Trade, error)

	// ListActiveTrades returns the user's ACTIVE trades, newest first.
	ListActiveTrades(ctx context.Context, userID string) ([]model.Trade, error)

	// ListSettledTrades returns the user's terminal trades, newest settled
	// first, capped at limit.
	ListSettledTrades(ctx context.Context, userID string, limit int) ([]model.Trade, error)

	// ListOverdueTrades returns ACTIVE trades whose expiry passed before the
	// cutoff. Used by the reconciliation sweep.
	ListOverdueTrades(ctx context.Context, cutoff time.Time) ([]model.Trade, error)

	// SettleTrade applies a terminal transition conditional on the trade
	// still being ACTIVE, releases the locked stake, credits the payout, and
	// appends the audit transaction — all in one atomic unit, transition
	// first. Returns ErrAlreadySettled (and touches nothing) if the trade
	// already left ACTIVE.
	SettleTrade(ctx context.Context, id string, s model.Settlement) (*model.Trade, error)

	// --- Transaction audit trail ---

	// ListTransactions returns the user's transaction records, newest first.
	ListTransactions(ctx context.Context, userID string, limit int) ([]model.Transaction, error)
}
