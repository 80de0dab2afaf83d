package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schema is applied idempotently at startup. Balance invariants are enforced
// at the database level as a last line of defense behind the conditional
// updates.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS wallets (
		id UUID PRIMARY KEY,
		user_id VARCHAR(64) NOT NULL,
		balance NUMERIC(20, 2) NOT NULL DEFAULT 0 CHECK (balance >= 0),
		locked_balance NUMERIC(20, 2) NOT NULL DEFAULT 0 CHECK (locked_balance >= 0),
		currency VARCHAR(10) NOT NULL DEFAULT 'INR',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (user_id, currency)
	)`,

	`CREATE TABLE IF NOT EXISTS trades (
		id UUID PRIMARY KEY,
		user_id VARCHAR(64) NOT NULL,
		asset VARCHAR(20) NOT NULL,
		amount NUMERIC(20, 2) NOT NULL CHECK (amount > 0),
		direction VARCHAR(10) NOT NULL,
		entry_price NUMERIC(24, 8) NOT NULL CHECK (entry_price > 0),
		exit_price NUMERIC(24, 8),
		duration INTEGER NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL,
		status VARCHAR(20) NOT NULL,
		payout NUMERIC(20, 2),
		profit_loss NUMERIC(20, 2),
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		settled_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_trades_user_id ON trades (user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_trades_status ON trades (status)`,
	`CREATE INDEX IF NOT EXISTS idx_trades_expires_at ON trades (expires_at)`,

	`CREATE TABLE IF NOT EXISTS transactions (
		id UUID PRIMARY KEY,
		user_id VARCHAR(64) NOT NULL,
		type VARCHAR(20) NOT NULL,
		amount NUMERIC(20, 2) NOT NULL,
		status VARCHAR(20) NOT NULL,
		reference_id VARCHAR(64),
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		completed_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_user_id ON transactions (user_id)`,
}

// Migrate creates the schema if it does not exist.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
