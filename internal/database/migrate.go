package database

import (
	"database/sql"
	"fmt"
	"log"
)

// schema is applied at startup. Statements are idempotent so restarts are safe.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id UUID PRIMARY KEY,
		username TEXT NOT NULL UNIQUE,
		phone_number TEXT NOT NULL UNIQUE,
		platform TEXT NOT NULL,
		platform_user_id TEXT NOT NULL,
		asset_balance BIGINT NOT NULL DEFAULT 0 CHECK (asset_balance >= 0),
		fiat_balance BIGINT NOT NULL DEFAULT 0 CHECK (fiat_balance >= 0),
		rating DOUBLE PRECISION NOT NULL DEFAULT 0,
		transactions_completed INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'active',
		version INTEGER NOT NULL DEFAULT 1,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (platform, platform_user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS transactions (
		id UUID PRIMARY KEY,
		seller_id UUID NOT NULL REFERENCES users(id),
		buyer_id UUID REFERENCES users(id),
		amount BIGINT NOT NULL CHECK (amount > 0),
		description VARCHAR(280) NOT NULL,
		status TEXT NOT NULL DEFAULT 'created',
		inspection_start_time TIMESTAMPTZ,
		inspection_end_time TIMESTAMPTZ,
		extension_used BOOLEAN NOT NULL DEFAULT false,
		dispute_reason TEXT,
		dispute_evidence JSONB,
		deposit_address TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_due
		ON transactions (inspection_end_time)
		WHERE status = 'inspection_period'`,
	`CREATE TABLE IF NOT EXISTS disputes (
		id UUID PRIMARY KEY,
		transaction_id UUID NOT NULL UNIQUE REFERENCES transactions(id),
		initiator_id UUID NOT NULL REFERENCES users(id),
		reason TEXT NOT NULL,
		evidence JSONB,
		status TEXT NOT NULL DEFAULT 'open',
		resolution TEXT,
		resolved_by UUID,
		resolved_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS ledger_entries (
		id SERIAL PRIMARY KEY,
		transaction_id UUID NOT NULL,
		user_id UUID NOT NULL,
		kind TEXT NOT NULL,
		amount BIGINT NOT NULL,
		entry_type TEXT NOT NULL,
		balance BIGINT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS admins (
		id UUID PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		password TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}

// Migrate bootstraps the schema.
func Migrate(db *sql.DB) error {
	for i, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate statement %d: %w", i, err)
		}
	}
	log.Println("Database schema up to date")
	return nil
}
