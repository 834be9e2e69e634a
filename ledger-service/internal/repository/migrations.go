package repository

import (
	"context"
	"database/sql"
	"fmt"
)

// schema is applied in order by Migrate. Every statement is idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		seq               BIGSERIAL,
		id                TEXT PRIMARY KEY,
		full_name         TEXT NOT NULL,
		username          TEXT NOT NULL DEFAULT '',
		email             TEXT NOT NULL UNIQUE,
		password_hash     TEXT NOT NULL,
		phone             TEXT NOT NULL DEFAULT '',
		country           TEXT NOT NULL DEFAULT '',
		balance           NUMERIC(20,2) NOT NULL DEFAULT 0 CHECK (balance >= 0),
		can_trade         BOOLEAN NOT NULL DEFAULT FALSE,
		referred_by       TEXT REFERENCES accounts(id),
		referrals_count   INTEGER NOT NULL DEFAULT 0,
		referral_earnings NUMERIC(20,2) NOT NULL DEFAULT 0,
		referrals         TEXT[] NOT NULL DEFAULT '{}',
		created_at        TIMESTAMPTZ NOT NULL,
		updated_at        TIMESTAMPTZ NOT NULL
	)`,
	requestTableDDL("deposit_requests"),
	requestTableDDL("withdrawal_requests"),
	requestTableDDL("credit_requests"),
	requestTableDDL("kyc_requests"),
	`CREATE TABLE IF NOT EXISTS referral_events (
		seq         BIGSERIAL,
		id          TEXT PRIMARY KEY,
		referrer_id TEXT NOT NULL REFERENCES accounts(id),
		referred_id TEXT NOT NULL UNIQUE REFERENCES accounts(id),
		amount      NUMERIC(20,2) NOT NULL,
		type        TEXT NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS positions (
		seq        BIGSERIAL,
		id         TEXT PRIMARY KEY,
		account_id TEXT NOT NULL REFERENCES accounts(id),
		kind       TEXT NOT NULL,
		ref        TEXT NOT NULL DEFAULT '',
		ref_name   TEXT NOT NULL DEFAULT '',
		amount     NUMERIC(20,2) NOT NULL CHECK (amount > 0),
		status     TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS balance_journal (
		seq           BIGSERIAL,
		id            TEXT PRIMARY KEY,
		account_id    TEXT NOT NULL REFERENCES accounts(id),
		delta         NUMERIC(20,2) NOT NULL,
		balance_after NUMERIC(20,2) NOT NULL CHECK (balance_after >= 0),
		cause         TEXT NOT NULL,
		ref_id        TEXT NOT NULL DEFAULT '',
		created_at    TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS balance_journal_account_idx ON balance_journal (account_id, seq)`,
	`CREATE INDEX IF NOT EXISTS positions_account_idx ON positions (account_id, seq)`,
}

func requestTableDDL(table string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %[1]s (
		seq         BIGSERIAL,
		id          TEXT PRIMARY KEY,
		account_id  TEXT NOT NULL REFERENCES accounts(id),
		amount      NUMERIC(20,2) NOT NULL DEFAULT 0,
		status      TEXT NOT NULL DEFAULT 'pending',
		payload     JSONB NOT NULL DEFAULT '{}',
		created_at  TIMESTAMPTZ NOT NULL,
		resolved_at TIMESTAMPTZ
	);
	CREATE INDEX IF NOT EXISTS %[1]s_account_idx ON %[1]s (account_id, seq)`, table)
}

// Migrate creates the ledger tables if they do not exist.
func Migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration step %d failed: %w", i+1, err)
		}
	}
	return nil
}
