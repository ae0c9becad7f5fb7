package migrate

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"

	"github.com/ccdscan/indexer/internal/caddr"
	"github.com/ccdscan/indexer/internal/nodeclient"
)

// canonicalAddressAndTransactionSearchIndex adds and backfills
// accounts.canonical_address, one row at a time, grounded on
// original_source's m0006/m0008 canonical-address migration. Only rows whose
// canonical_address is still NULL are selected; the whole pass runs in the
// migration's single transaction, so an interrupted run keeps none of its
// updates and the next run starts the pass over.
func canonicalAddressAndTransactionSearchIndex(ctx context.Context, tx pgx.Tx, _ nodeclient.Client) error {
	if _, err := tx.Exec(ctx, `
		ALTER TABLE accounts ADD COLUMN IF NOT EXISTS canonical_address BYTEA
	`); err != nil {
		return fmt.Errorf("adding canonical_address column: %w", err)
	}

	rows, err := tx.Query(ctx, `
		SELECT index, address FROM accounts WHERE canonical_address IS NULL ORDER BY index ASC
	`)
	if err != nil {
		return fmt.Errorf("selecting accounts to canonicalize: %w", err)
	}
	type pending struct {
		index   int64
		address string
	}
	var todo []pending
	for rows.Next() {
		var p pending
		if err := rows.Scan(&p.index, &p.address); err != nil {
			rows.Close()
			return fmt.Errorf("scanning account: %w", err)
		}
		todo = append(todo, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating accounts: %w", err)
	}

	for _, p := range todo {
		canon, err := caddr.Canonicalize(p.address)
		if err != nil {
			return fmt.Errorf("canonicalizing account %d: %w", p.index, err)
		}
		if _, err := tx.Exec(ctx, `
			UPDATE accounts SET canonical_address = $2 WHERE index = $1
		`, p.index, canon[:]); err != nil {
			return fmt.Errorf("updating canonical_address for account %d: %w", p.index, err)
		}
	}

	if _, err := tx.Exec(ctx, `
		CREATE INDEX IF NOT EXISTS transactions_hash_idx ON transactions (hash)
	`); err != nil {
		return fmt.Errorf("creating transaction search index: %w", err)
	}
	return nil
}

// reindexCredentialDeployments fixes two bugs in historically stored
// credential-deployment transactions: a non-zero ccd_cost (they must always
// be free) and a missing CredentialDeployed event ahead of AccountCreated.
// Grounded on original_source's m0027: each deployment must be reported
// finalized by the node, then its events column is rewritten from the stored
// account address. The registration id is not fetched, so the rewritten
// CredentialDeployed event carries no reg_id field.
func reindexCredentialDeployments(ctx context.Context, tx pgx.Tx, nc nodeclient.Client) error {
	rows, err := tx.Query(ctx, `
		SELECT t.index, t.hash, a.address
		FROM transactions t
		JOIN affected_accounts aa ON aa.transaction_index = t.index
		JOIN accounts a ON a.index = aa.account_index
		WHERE t.type = 'CredentialDeployment'
		ORDER BY t.index ASC
	`)
	if err != nil {
		return fmt.Errorf("selecting credential deployments: %w", err)
	}
	type row struct {
		index   int64
		hash    string
		address string
	}
	var todo []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.index, &r.hash, &r.address); err != nil {
			rows.Close()
			return fmt.Errorf("scanning deployment row: %w", err)
		}
		todo = append(todo, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating deployments: %w", err)
	}
	if len(todo) == 0 {
		return nil
	}

	nc, err = requireNode(nc, "reindex_credential_deployments")
	if err != nil {
		return err
	}

	for _, r := range todo {
		status, err := nc.BlockItemStatus(ctx, r.hash)
		if err != nil {
			return fmt.Errorf("fetching status for tx %s: %w", r.hash, err)
		}
		if !status.Finalized {
			return fmt.Errorf("reindex_credential_deployments: tx %s is not finalized on the node", r.hash)
		}

		if _, err := tx.Exec(ctx, `
			UPDATE transactions SET ccd_cost = 0, events = $2 WHERE index = $1
		`, r.index, credentialDeploymentEventsJSON(r.address)); err != nil {
			return fmt.Errorf("updating tx %d: %w", r.index, err)
		}
	}
	return nil
}

// credentialDeploymentEventsJSON builds the canonical two-event sequence a
// credential deployment must carry: CredentialDeployed followed by
// AccountCreated (spec.md §8 scenario S4).
func credentialDeploymentEventsJSON(address string) string {
	return fmt.Sprintf(`[{"kind":"CredentialDeployed","address":%q},{"kind":"AccountCreated","address":%q}]`, address, address)
}

// fillCapitalBoundAndLeverageBound adds the chain-parameters-singleton
// columns and backfills them from the node's current consensus info and
// chain parameters, grounded on original_source's m0010.
func fillCapitalBoundAndLeverageBound(ctx context.Context, tx pgx.Tx, nc nodeclient.Client) error {
	if _, err := tx.Exec(ctx, `
		ALTER TABLE current_chain_parameters
			ADD COLUMN IF NOT EXISTS epoch_duration_ms BIGINT,
			ADD COLUMN IF NOT EXISTS reward_period_length BIGINT,
			ADD COLUMN IF NOT EXISTS capital_bound_parts_per_hundred_thousand INT,
			ADD COLUMN IF NOT EXISTS leverage_bound_numerator BIGINT,
			ADD COLUMN IF NOT EXISTS leverage_bound_denominator BIGINT
	`); err != nil {
		return fmt.Errorf("adding chain parameter columns: %w", err)
	}

	nc, err := requireNode(nc, "fill_capital_bound_and_leverage_bound")
	if err != nil {
		return err
	}

	consensus, err := nc.ConsensusInfo(ctx)
	if err != nil {
		return fmt.Errorf("fetching consensus info: %w", err)
	}

	var latestHeight int64
	row := tx.QueryRow(ctx, `SELECT height FROM blocks ORDER BY height DESC LIMIT 1`)
	if err := row.Scan(&latestHeight); err != nil {
		if err == pgx.ErrNoRows {
			return nil // nothing indexed yet, nothing to backfill
		}
		return fmt.Errorf("reading latest block height: %w", err)
	}

	params, err := nc.BlockChainParameters(ctx, nodeclient.BlockHeight(latestHeight))
	if err != nil {
		return fmt.Errorf("fetching chain parameters: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO current_chain_parameters (
			singleton, epoch_duration_ms, reward_period_length,
			capital_bound_parts_per_hundred_thousand, leverage_bound_numerator, leverage_bound_denominator
		) VALUES (true, $1, $2, $3, $4, $5)
		ON CONFLICT (singleton) DO UPDATE SET
			epoch_duration_ms = EXCLUDED.epoch_duration_ms,
			reward_period_length = EXCLUDED.reward_period_length,
			capital_bound_parts_per_hundred_thousand = EXCLUDED.capital_bound_parts_per_hundred_thousand,
			leverage_bound_numerator = EXCLUDED.leverage_bound_numerator,
			leverage_bound_denominator = EXCLUDED.leverage_bound_denominator
	`, consensus.EpochDuration.Milliseconds(), params.RewardPeriodLength,
		params.CapitalBoundPartsPerHundredThousand, params.LeverageBoundNumerator, params.LeverageBoundDenominator); err != nil {
		return fmt.Errorf("upserting chain parameters: %w", err)
	}
	return nil
}

// bakerMetricsSupersededNoop is the m0013 placeholder: it only exists so
// that a database which already recorded this version as applied (under
// the old duplicate numbering) doesn't need its schema_version renumbered.
// It performs no schema change; reindexBakerMetrics (m0014) is canonical.
func bakerMetricsSupersededNoop(ctx context.Context, tx pgx.Tx, _ nodeclient.Client) error {
	return nil
}

// reindexBakerMetrics creates and backfills metrics_bakers from genesis
// baker count plus every historical BakerAdded/BakerRemoved event,
// restricted to account-transaction types the way original_source's
// m0014 JSONB containment predicate does (narrower and more precise than
// the superseded m0013 version it replaces).
func reindexBakerMetrics(ctx context.Context, tx pgx.Tx, nc nodeclient.Client) error {
	if _, err := tx.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS metrics_bakers (
			block_height BIGINT PRIMARY KEY,
			total_bakers_added BIGINT NOT NULL,
			total_bakers_removed BIGINT NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("creating metrics_bakers: %w", err)
	}
	if _, err := tx.Exec(ctx, `TRUNCATE metrics_bakers`); err != nil {
		return fmt.Errorf("clearing metrics_bakers for rebuild: %w", err)
	}

	var hasGenesis bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM blocks LIMIT 1)`).Scan(&hasGenesis); err != nil {
		return fmt.Errorf("checking for genesis block: %w", err)
	}
	if !hasGenesis {
		return nil
	}

	nc, err := requireNode(nc, "reindex_baker_metrics")
	if err != nil {
		return err
	}

	bakerIDs, errc := nc.BakerList(ctx, 0)
	var genesisCount int64
	for range bakerIDs {
		genesisCount++
	}
	if err := <-errc; err != nil {
		return fmt.Errorf("fetching genesis baker list: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO metrics_bakers (block_height, total_bakers_added, total_bakers_removed) VALUES (0, $1, 0)
	`, genesisCount); err != nil {
		return fmt.Errorf("inserting genesis baker metrics: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO metrics_bakers (block_height, total_bakers_added, total_bakers_removed)
		SELECT
			block_height,
			$1::BIGINT + SUM(SUM(CASE WHEN events @> '[{"kind":"BakerAdded"}]'::JSONB THEN 1 ELSE 0 END)) OVER (ORDER BY block_height),
			SUM(SUM(CASE WHEN events @> '[{"kind":"BakerRemoved"}]'::JSONB THEN 1 ELSE 0 END)) OVER (ORDER BY block_height)
		FROM transactions
		WHERE type_account IN ('AddBaker', 'RemoveBaker', 'ConfigureBaker')
		GROUP BY block_height
		HAVING block_height > 0
		ORDER BY block_height ASC
	`, genesisCount); err != nil {
		return fmt.Errorf("backfilling baker metrics from history: %w", err)
	}
	return nil
}

// createMetricsRewards adds the metrics_rewards append-only stream: a
// network-wide running total (account_id = networkWideAccountSentinel) plus
// one running total per account that has ever received a reward, answering
// rewardMetrics(period) and rewardMetrics(period, accountId) (spec.md §6;
// recovered from original_source's reward_metrics.rs, itself a todo!() stub
// there — the table shape is original work following metrics_bakers'
// established append-only-per-key pattern). account_id is NOT NULL because
// a PRIMARY KEY column cannot hold NULL in Postgres; real account indices
// are always >= 0, so a negative sentinel marks the network-wide row. No
// historical backfill: unlike metrics_bakers, the node contract in spec.md
// §4.1 exposes no reward/payday event stream to replay, so this starts
// empty and accumulates from the next indexed block forward.
func createMetricsRewards(ctx context.Context, tx pgx.Tx, _ nodeclient.Client) error {
	if _, err := tx.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS metrics_rewards (
			block_height BIGINT NOT NULL,
			account_id BIGINT NOT NULL,
			total_reward_amount NUMERIC NOT NULL,
			PRIMARY KEY (block_height, account_id)
		)
	`); err != nil {
		return fmt.Errorf("creating metrics_rewards: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		CREATE INDEX IF NOT EXISTS metrics_rewards_account_idx ON metrics_rewards (account_id, block_height)
	`); err != nil {
		return fmt.Errorf("creating metrics_rewards account index: %w", err)
	}
	return nil
}

// restakeEarningsNotNull sets every NULL delegated_restake_earnings to
// false, then adds a NOT NULL constraint, processing one row at a time
// under a 60-second time budget (grounded on original_source's m0037). If
// the budget runs out the migration returns an error and Run rolls back its
// transaction, so no partial progress is kept; the next run starts over.
func restakeEarningsNotNull(ctx context.Context, tx pgx.Tx, _ nodeclient.Client) error {
	rows, err := tx.Query(ctx, `
		SELECT index FROM accounts WHERE delegated_restake_earnings IS NULL
	`)
	if err != nil {
		return fmt.Errorf("selecting null restake_earnings accounts: %w", err)
	}
	var indexes []int64
	for rows.Next() {
		var idx int64
		if err := rows.Scan(&idx); err != nil {
			rows.Close()
			return fmt.Errorf("scanning account index: %w", err)
		}
		indexes = append(indexes, idx)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating null restake_earnings accounts: %w", err)
	}

	const budget = 60 * time.Second
	start := time.Now()
	for _, idx := range indexes {
		if time.Since(start) > budget {
			return fmt.Errorf("restake_earnings_not_null: exceeded %s time budget, rolled back, will start over next run", budget)
		}
		if _, err := tx.Exec(ctx, `
			UPDATE accounts SET delegated_restake_earnings = false WHERE index = $1
		`, idx); err != nil {
			return fmt.Errorf("updating account %d: %w", idx, err)
		}
	}

	if _, err := tx.Exec(ctx, `
		ALTER TABLE accounts ALTER COLUMN delegated_restake_earnings SET NOT NULL
	`); err != nil {
		return fmt.Errorf("adding NOT NULL constraint: %w", err)
	}
	return nil
}

// fixPassiveDelegatorStake repairs accounts.delegated_stake for passive-pool
// delegators by re-fetching authoritative stakes from the node, grounded on
// original_source's m0025 (a prior migration left passive delegators with
// restake earnings enabled under-credited).
func fixPassiveDelegatorStake(ctx context.Context, tx pgx.Tx, nc nodeclient.Client) error {
	var latestHeight int64
	row := tx.QueryRow(ctx, `SELECT height FROM blocks ORDER BY height DESC LIMIT 1`)
	if err := row.Scan(&latestHeight); err != nil {
		if err == pgx.ErrNoRows {
			return nil
		}
		return fmt.Errorf("reading latest block height: %w", err)
	}

	nc, err := requireNode(nc, "fix_passive_delegator_stake")
	if err != nil {
		return err
	}

	delegators, errc := nc.PassiveDelegators(ctx, nodeclient.BlockHeight(latestHeight))
	for d := range delegators {
		if _, err := tx.Exec(ctx, `
			UPDATE accounts SET delegated_stake = $2 WHERE address = $1
		`, d.AccountAddress, d.StakeMicroCCD.String()); err != nil {
			return fmt.Errorf("updating passive delegator %s: %w", d.AccountAddress, err)
		}
	}
	if err := <-errc; err != nil {
		return fmt.Errorf("streaming passive delegators: %w", err)
	}
	return nil
}
