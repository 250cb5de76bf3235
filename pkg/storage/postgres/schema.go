package postgres

import (
	"context"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS balances (
		user_id    TEXT PRIMARY KEY,
		balance    NUMERIC(18,2) NOT NULL DEFAULT 0 CHECK (balance >= 0),
		reserved   NUMERIC(18,2) NOT NULL DEFAULT 0 CHECK (reserved >= 0),
		version    BIGINT NOT NULL DEFAULT 0,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS invoices (
		id              TEXT PRIMARY KEY,
		user_id         TEXT NOT NULL,
		amount          NUMERIC(18,2) NOT NULL CHECK (amount > 0),
		currency        TEXT NOT NULL DEFAULT 'USD',
		description     TEXT NOT NULL DEFAULT '',
		idempotency_key TEXT,
		status          TEXT NOT NULL,
		payment_id      TEXT,
		created_at      TIMESTAMPTZ NOT NULL,
		updated_at      TIMESTAMPTZ NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS invoices_idempotency_key_idx
		ON invoices (idempotency_key) WHERE idempotency_key IS NOT NULL`,
	`CREATE INDEX IF NOT EXISTS invoices_status_created_at_idx ON invoices (status, created_at)`,
	`CREATE TABLE IF NOT EXISTS payments (
		id                 TEXT PRIMARY KEY,
		invoice_id         TEXT NOT NULL UNIQUE REFERENCES invoices (id),
		user_id            TEXT NOT NULL,
		amount             NUMERIC(18,2) NOT NULL,
		currency           TEXT NOT NULL,
		provider_reference TEXT,
		status             TEXT NOT NULL,
		phase              TEXT NOT NULL,
		attempts           INTEGER NOT NULL DEFAULT 0,
		last_error         TEXT NOT NULL DEFAULT '',
		held               BOOLEAN NOT NULL DEFAULT false,
		created_at         TIMESTAMPTZ NOT NULL,
		updated_at         TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS payments_created_at_idx ON payments (created_at DESC)`,
	`ALTER TABLE payments ADD COLUMN IF NOT EXISTS held BOOLEAN NOT NULL DEFAULT false`,
}

// Migrate creates the tables and indexes if they do not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.Db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}
