// Package model defines the core domain types shared across the settlement engine.
// All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade states.
const (
	TradeActive    = "ACTIVE"
	TradeWon       = "WON"
	TradeLost      = "LOST"
	TradeCancelled = "CANCELLED"
)

// Trade directions.
const (
	DirectionUp   = "UP"
	DirectionDown = "DOWN"
)

// Transaction kinds.
const (
	TxnDeposit    = "DEPOSIT"
	TxnWithdrawal = "WITHDRAWAL"
	TxnTradeWin   = "TRADE_WIN"
	TxnTradeLoss  = "TRADE_LOSS"
)

// Transaction statuses.
const (
	TxnPending   = "PENDING"
	TxnCompleted = "COMPLETED"
	TxnFailed    = "FAILED"
)

// Wallet holds a user's spendable and locked balance in one currency.
// Mutated only through the Store's conditional balance operations.
type Wallet struct {
	ID        string          `json:"id" db:"id"`
	UserID    string          `json:"user_id" db:"user_id"`
	Balance   decimal.Decimal `json:"balance" db:"balance"`               // spendable
	Locked    decimal.Decimal `json:"locked_balance" db:"locked_balance"` // reserved against open trades
	Currency  string          `json:"currency" db:"currency"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// Trade is a time-bound binary-outcome position against an asset price.
// ExitPrice, Payout, ProfitLoss and SettledAt are nil while ACTIVE and set
// exactly once when the trade reaches a terminal state.
type Trade struct {
	ID         string           `json:"id" db:"id"`
	UserID     string           `json:"user_id" db:"user_id"`
	Asset      string           `json:"asset" db:"asset"`
	Stake      decimal.Decimal  `json:"amount" db:"amount"`
	Direction  string           `json:"direction" db:"direction"` // UP or DOWN
	EntryPrice decimal.Decimal  `json:"entry_price" db:"entry_price"`
	ExitPrice  *decimal.Decimal `json:"exit_price,omitempty" db:"exit_price"`
	Duration   int              `json:"duration" db:"duration"` // seconds
	ExpiresAt  time.Time        `json:"expires_at" db:"expires_at"`
	Status     string           `json:"status" db:"status"`
	Payout     *decimal.Decimal `json:"payout,omitempty" db:"payout"`
	ProfitLoss *decimal.Decimal `json:"profit_loss,omitempty" db:"profit_loss"`
	CreatedAt  time.Time        `json:"created_at" db:"created_at"`
	SettledAt  *time.Time       `json:"settled_at,omitempty" db:"settled_at"`
}

// Terminal reports whether the trade has left the ACTIVE state.
func (t *Trade) Terminal() bool {
	return t.Status != TradeActive
}

// Settlement carries the fields applied by a terminal transition.
type Settlement struct {
	Status     string // WON, LOST or CANCELLED
	ExitPrice  decimal.Decimal
	Payout     decimal.Decimal
	ProfitLoss decimal.Decimal
	SettledAt  time.Time
}

// Transaction is an append-only audit record of a wallet movement.
// Never mutated after completion, except PENDING→COMPLETED/FAILED for
// withdrawals. Not read by the settlement logic.
type Transaction struct {
	ID          string          `json:"id" db:"id"`
	UserID      string          `json:"user_id" db:"user_id"`
	Kind        string          `json:"type" db:"type"`
	Amount      decimal.Decimal `json:"amount" db:"amount"`
	Status      string          `json:"status" db:"status"`
	ReferenceID string          `json:"reference_id,omitempty" db:"reference_id"` // trade id when applicable
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty" db:"completed_at"`
}
