package migrate

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4"
)

// baseSchemaStatements creates every table the writer, metrics, and notify
// packages assume exists, at SchemaVersionInitial. Run once, idempotently
// (IF NOT EXISTS throughout), before any versioned migration in Ordered is
// considered — those only ever ALTER or backfill tables this step lays down.
// Columns added by a later migration (e.g. accounts.canonical_address,
// current_chain_parameters' bound columns) are deliberately absent here; they
// belong to the migration that introduces them.
var baseSchemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS schema_version (
		singleton BOOLEAN PRIMARY KEY DEFAULT true CHECK (singleton),
		version INT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS blocks (
		height BIGINT PRIMARY KEY,
		hash TEXT NOT NULL UNIQUE,
		slot_time TIMESTAMPTZ NOT NULL,
		cumulative_num_txs BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS transactions (
		index BIGINT PRIMARY KEY,
		block_height BIGINT NOT NULL REFERENCES blocks (height),
		hash TEXT NOT NULL UNIQUE,
		type TEXT NOT NULL,
		type_account TEXT,
		ccd_cost NUMERIC NOT NULL,
		events JSONB NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS transactions_block_height_idx ON transactions (block_height)`,
	`CREATE TABLE IF NOT EXISTS accounts (
		index BIGINT PRIMARY KEY,
		address TEXT NOT NULL UNIQUE,
		transaction_index BIGINT NOT NULL REFERENCES transactions (index),
		delegated_stake NUMERIC NOT NULL DEFAULT 0,
		delegated_target_baker_id BIGINT,
		delegated_restake_earnings BOOLEAN
	)`,
	`CREATE TABLE IF NOT EXISTS affected_accounts (
		transaction_index BIGINT NOT NULL REFERENCES transactions (index),
		account_index BIGINT NOT NULL REFERENCES accounts (index),
		PRIMARY KEY (transaction_index, account_index)
	)`,
	`CREATE TABLE IF NOT EXISTS bakers (
		id BIGINT PRIMARY KEY,
		staked NUMERIC NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS bakers_removed (
		id BIGINT PRIMARY KEY,
		removed_by_tx_index BIGINT NOT NULL REFERENCES transactions (index)
	)`,
	`CREATE TABLE IF NOT EXISTS tokens (
		contract_index BIGINT NOT NULL,
		contract_sub_index BIGINT NOT NULL,
		token_id TEXT NOT NULL,
		token_address TEXT NOT NULL,
		metadata_url TEXT,
		raw_total_supply NUMERIC NOT NULL,
		init_transaction_index BIGINT NOT NULL REFERENCES transactions (index),
		PRIMARY KEY (contract_index, contract_sub_index, token_id)
	)`,
	`CREATE TABLE IF NOT EXISTS token_events (
		id BIGSERIAL PRIMARY KEY,
		token_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		action TEXT NOT NULL,
		details_kind TEXT NOT NULL,
		details_text TEXT NOT NULL,
		transaction_index BIGINT NOT NULL REFERENCES transactions (index)
	)`,
	`CREATE INDEX IF NOT EXISTS token_events_token_id_idx ON token_events (token_id)`,
	`CREATE TABLE IF NOT EXISTS metrics_accounts (
		block_height BIGINT PRIMARY KEY,
		total_accounts BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS metrics_transactions (
		block_height BIGINT PRIMARY KEY,
		cumulative_num_txs BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS current_chain_parameters (
		singleton BOOLEAN PRIMARY KEY DEFAULT true CHECK (singleton)
	)`,
}

// ensureBaseSchema lays down every table above, in its own transaction, ahead
// of computing the database's current SchemaVersion — schema_version itself
// has to exist before CurrentVersion can query it. Idempotent: running this
// against an already-bootstrapped database is a no-op (every statement is
// IF NOT EXISTS).
func ensureBaseSchema(ctx context.Context, conn *pgx.Conn) error {
	tx, err := conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("migrate: begin base schema tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after Commit

	for _, stmt := range baseSchemaStatements {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: base schema: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("migrate: commit base schema: %w", err)
	}
	return nil
}
