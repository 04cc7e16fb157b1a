package postgres

import (
	"context"
	"fmt"
)

// Schema is the DDL for the tables this adapter expects. The unique
// constraints on external refs are load-bearing: UpsertSubscription and
// InsertPaymentIfAbsent rely on them for idempotency under concurrent
// webhook deliveries.
const Schema = `
CREATE TABLE IF NOT EXISTS members (
	id                   TEXT PRIMARY KEY,
	billing_customer_ref TEXT,
	subscription_status  TEXT
);

CREATE TABLE IF NOT EXISTS subscriptions (
	id                TEXT PRIMARY KEY,
	member_id         TEXT NOT NULL,
	external_ref      TEXT NOT NULL UNIQUE,
	plan              TEXT NOT NULL,
	billing_period    TEXT NOT NULL,
	status            TEXT NOT NULL,
	amount            DOUBLE PRECISION NOT NULL,
	start_date        TIMESTAMPTZ NOT NULL,
	next_billing_date TIMESTAMPTZ NOT NULL,
	end_date          TIMESTAMPTZ,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_subscriptions_member_status
	ON subscriptions (member_id, status);

CREATE TABLE IF NOT EXISTS payments (
	id              TEXT PRIMARY KEY,
	subscription_id TEXT NOT NULL,
	member_id       TEXT NOT NULL,
	external_ref    TEXT NOT NULL UNIQUE,
	amount          DOUBLE PRECISION NOT NULL,
	status          TEXT NOT NULL,
	paid_at         TIMESTAMPTZ NOT NULL,
	invoice_url     TEXT,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_payments_subscription
	ON payments (subscription_id, paid_at DESC);
`

// EnsureSchema creates the tables and indexes if they do not exist.
// Convenient for development and tests; production deployments usually
// manage migrations externally.
func (s *Storage) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}
