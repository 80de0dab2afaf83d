// Package risk enforces per-user exposure limits at trade creation.
//
// Limits are advisory guards in front of the ledger: even without them the
// wallet's conditional lock keeps balances consistent, but a user holding an
// unbounded number of open positions concentrates payout risk on the house.
package risk

import (
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrOpenTradeLimit is returned when a user already holds the maximum
	// number of ACTIVE trades.
	ErrOpenTradeLimit = errors.New("risk: open trade limit exceeded")

	// ErrExposureLimit is returned when a new stake would push the user's
	// total locked amount beyond the maximum.
	ErrExposureLimit = errors.New("risk: locked exposure limit exceeded")
)

// Limiter enforces per-user open-position caps.
type Limiter struct {
	// MaxOpenTrades is the maximum number of simultaneously ACTIVE trades
	// per user. Zero disables the check.
	MaxOpenTrades int

	// MaxLockedStake is the maximum total stake a user may have locked
	// across ACTIVE trades. Zero disables the check.
	MaxLockedStake decimal.Decimal
}

// NewLimiter creates a limiter with the given caps.
func NewLimiter(maxOpenTrades int, maxLockedStake decimal.Decimal) *Limiter {
	return &Limiter{
		MaxOpenTrades:  maxOpenTrades,
		MaxLockedStake: maxLockedStake,
	}
}

// CheckLimit validates whether a new trade respects the user's caps.
//
// Parameters:
//   - stake: the stake of the trade being created
//   - openTrades: the user's current number of ACTIVE trades
//   - lockedStake: the user's current total locked balance
//
// Returns nil if the trade is within limits, or an error naming the
// violated cap.
func (l *Limiter) CheckLimit(stake decimal.Decimal, openTrades int, lockedStake decimal.Decimal) error {
	if l.MaxOpenTrades > 0 && openTrades >= l.MaxOpenTrades {
		return ErrOpenTradeLimit
	}
	if l.MaxLockedStake.IsPositive() && lockedStake.Add(stake).GreaterThan(l.MaxLockedStake) {
		return ErrExposureLimit
	}
	return nil
}
