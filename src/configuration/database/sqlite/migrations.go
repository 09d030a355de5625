package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS payment_intents (
		id TEXT PRIMARY KEY,
		merchant_id TEXT NOT NULL,
		amount_minor INTEGER NOT NULL CHECK (amount_minor > 0),
		currency TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		provider TEXT NOT NULL,
		provider_ref TEXT NOT NULL DEFAULT '',
		idempotency_key TEXT NOT NULL DEFAULT '',
		provider_preference TEXT NOT NULL DEFAULT '',
		routing_decision_id TEXT NOT NULL,
		routing_reason_code TEXT NOT NULL,
		root_payment_intent_id TEXT NOT NULL,
		attempt_number INTEGER NOT NULL,
		failure_reason TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		version INTEGER NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_payment_intents_merchant ON payment_intents (merchant_id, created_at);`,
	`CREATE INDEX IF NOT EXISTS idx_payment_intents_root ON payment_intents (root_payment_intent_id, attempt_number);`,
	`CREATE INDEX IF NOT EXISTS idx_payment_intents_provider_ref ON payment_intents (provider, provider_ref);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_payment_intents_idempotency
		ON payment_intents (merchant_id, idempotency_key) WHERE idempotency_key <> '';`,
	`CREATE TABLE IF NOT EXISTS routing_decisions (
		id TEXT PRIMARY KEY,
		intent_id TEXT NOT NULL,
		merchant_id TEXT NOT NULL,
		chosen_provider TEXT NOT NULL,
		reason_code TEXT NOT NULL,
		candidates TEXT NOT NULL DEFAULT '[]',
		created_at INTEGER NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_routing_decisions_intent ON routing_decisions (intent_id);`,
	`CREATE INDEX IF NOT EXISTS idx_routing_decisions_created ON routing_decisions (created_at);`,
	`CREATE TABLE IF NOT EXISTS payment_events (
		id TEXT PRIMARY KEY,
		payment_intent_id TEXT NOT NULL,
		provider TEXT NOT NULL,
		event_type TEXT NOT NULL,
		payload_hash TEXT NOT NULL,
		payload TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_payment_events_intent ON payment_events (payment_intent_id, created_at);`,
	`CREATE TABLE IF NOT EXISTS checkout_configs (
		intent_id TEXT PRIMARY KEY,
		config TEXT NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS provider_configs (
		merchant_id TEXT NOT NULL,
		provider TEXT NOT NULL,
		enabled INTEGER NOT NULL,
		config TEXT NOT NULL,
		PRIMARY KEY (merchant_id, provider)
	);`,
}

func RunMigrations(ctx context.Context, db *sql.DB) error {
	for i, stmt := range migrations {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	return nil
}
