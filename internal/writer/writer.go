// Package writer applies one preparer.PreparedBlock to PostgreSQL inside a
// single transaction, enforcing spec.md §4.4's row-count assertion contract
// on every mutating statement. Grounded on the teacher's Repository
// interface in datasync/chaindatafetcher/common/common.go (InsertX methods,
// one per entity kind) and its DBInsertRetryInterval constant, generalized
// from the teacher's insert-then-retry idiom to insert-then-assert.
package writer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgtype"

	"github.com/ccdscan/indexer/internal/metrics"
	"github.com/ccdscan/indexer/internal/preparer"
	"github.com/ccdscan/indexer/internal/xlog"
)

var logger = xlog.NewModuleLogger(xlog.Writer)

// Pool is the subset of *pgxpool.Pool Apply needs, narrow enough that a
// pgxmock pool satisfies it too for tests that drive Apply without a real
// database.
type Pool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// DBInsertRetryInterval is how long the caller should wait before retrying
// a whole-block Apply after a transient DB error, mirroring the teacher's
// common.DBInsertRetryInterval.
const DBInsertRetryInterval = 500 * time.Millisecond

// RowCount is an expectation on how many rows a statement affects.
type RowCount struct {
	lo, hi int64
}

// Exactly expects precisely n affected rows.
func Exactly(n int64) RowCount { return RowCount{lo: n, hi: n} }

// Between expects an affected-row count within [lo, hi] inclusive.
func Between(lo, hi int64) RowCount { return RowCount{lo: lo, hi: hi} }

func (r RowCount) allows(n int64) bool { return n >= r.lo && n <= r.hi }

func (r RowCount) String() string {
	if r.lo == r.hi {
		return fmt.Sprintf("exactly %d", r.lo)
	}
	return fmt.Sprintf("between %d and %d", r.lo, r.hi)
}

// AssertionError is returned when a statement's actual affected-row count
// falls outside its RowCount expectation. The caller must treat this as
// fatal for the whole block and roll back; spec.md §4.4 forbids silently
// tolerating a mismatch.
type AssertionError struct {
	SQL      string
	Expected RowCount
	Got      int64
}

func (e *AssertionError) Error() string {
	return fmt.Sprintf("writer: assertion failed: expected %s affected rows, got %d: %s", e.Expected, e.Got, e.SQL)
}

// execExpect issues sql and asserts the number of affected rows matches
// expect, returning *AssertionError on mismatch.
func execExpect(ctx context.Context, tx pgx.Tx, sql string, expect RowCount, args ...interface{}) error {
	var tag pgconn.CommandTag
	tag, err := tx.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("writer: exec failed: %w", err)
	}
	n := tag.RowsAffected()
	if !expect.allows(n) {
		return &AssertionError{SQL: sql, Expected: expect, Got: n}
	}
	return nil
}

// Apply writes one PreparedBlock to the database inside a single
// transaction, in strict block-height order (enforced by the caller, the
// indexer driver, never by this function). Every mutating statement goes
// through execExpect; on any assertion failure or DB error the transaction
// is rolled back and the error returned.
func Apply(ctx context.Context, pool Pool, pb *preparer.PreparedBlock) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("writer: begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after Commit

	if err := insertBlock(ctx, tx, pb); err != nil {
		return err
	}
	txIndexBase, err := insertTransactions(ctx, tx, pb)
	if err != nil {
		return err
	}
	if err := insertAccountCreations(ctx, tx, pb, txIndexBase); err != nil {
		return err
	}
	if err := applyBakerUpserts(ctx, tx, pb, txIndexBase); err != nil {
		return err
	}
	if err := applyDelegationChanges(ctx, tx, pb, txIndexBase); err != nil {
		return err
	}
	if err := insertTokenCreations(ctx, tx, pb, txIndexBase); err != nil {
		return err
	}
	if err := insertTokenEvents(ctx, tx, pb, txIndexBase); err != nil {
		return err
	}
	if err := insertAffectedAccountLinks(ctx, tx, pb, txIndexBase); err != nil {
		return err
	}
	if err := metrics.Append(ctx, tx, uint64(pb.Height), metrics.Delta{
		AccountsAdded:     pb.Metrics.AccountsAdded,
		TransactionsAdded: pb.Metrics.TransactionsAdded,
		BakersAdded:       pb.Metrics.BakersAdded,
		BakersRemoved:     pb.Metrics.BakersRemoved,
		CumulativeRewards: pb.Metrics.CumulativeRewards,
	}); err != nil {
		return err
	}
	if err := notifyBlockAdded(ctx, tx, pb); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("writer: commit: %w", err)
	}
	logger.Debug("committed block", "height", pb.Height, "txs", len(pb.Transactions))
	return nil
}

func insertBlock(ctx context.Context, tx pgx.Tx, pb *preparer.PreparedBlock) error {
	return execExpect(ctx, tx, `
		INSERT INTO blocks (height, hash, slot_time, cumulative_num_txs)
		VALUES ($1, $2, $3,
			COALESCE((SELECT cumulative_num_txs FROM blocks ORDER BY height DESC LIMIT 1), 0) + $4)
	`, Exactly(1), pb.Height, pb.Hash, pb.SlotTime, len(pb.Transactions))
}

// insertTransactions inserts every transaction row and returns the global
// index assigned to the block's first transaction, so downstream statements
// can compute tx.index = txIndexBase + position without a second query.
func insertTransactions(ctx context.Context, tx pgx.Tx, pb *preparer.PreparedBlock) (int64, error) {
	if len(pb.Transactions) == 0 {
		row := tx.QueryRow(ctx, `SELECT COALESCE(MAX(index), -1) + 1 FROM transactions`)
		var base int64
		if err := row.Scan(&base); err != nil {
			return 0, fmt.Errorf("writer: computing empty-block tx index base: %w", err)
		}
		return base, nil
	}

	var txIndexBase int64
	for i, t := range pb.Transactions {
		eventsJSON, err := json.Marshal(t.Events)
		if err != nil {
			return 0, fmt.Errorf("writer: marshaling events for tx %d: %w", i, err)
		}
		row := tx.QueryRow(ctx, `
			INSERT INTO transactions (index, block_height, hash, type, type_account, ccd_cost, events)
			VALUES (COALESCE((SELECT MAX(index) FROM transactions), -1) + 1, $1, $2, $3, $4, $5, $6)
			RETURNING index
		`, pb.Height, t.Hash, t.Kind, nullableSubtype(string(t.Subtype)), t.CostMicroCCD.String(), eventsJSON)
		var idx int64
		if err := row.Scan(&idx); err != nil {
			return 0, fmt.Errorf("writer: inserting tx %d: %w", i, err)
		}
		if i == 0 {
			txIndexBase = idx
		}
	}
	return txIndexBase, nil
}

func nullableSubtype(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func insertAccountCreations(ctx context.Context, tx pgx.Tx, pb *preparer.PreparedBlock, txIndexBase int64) error {
	for _, ac := range pb.AccountCreations {
		// delegated_restake_earnings is inserted false, never NULL: the
		// restakeEarningsNotNull migration (always fully applied before the
		// driver resumes live indexing) adds a NOT NULL constraint to this
		// column, so every account created from here on starts as a
		// non-delegator with the post-migration default (spec.md §3).
		if err := execExpect(ctx, tx, `
			INSERT INTO accounts (index, address, canonical_address, transaction_index, delegated_stake, delegated_target_baker_id, delegated_restake_earnings)
			VALUES (COALESCE((SELECT MAX(index) FROM accounts), -1) + 1, $1, $2, $3, 0, NULL, false)
		`, Exactly(1), ac.Address, ac.CanonicalAddress[:], txIndexBase+int64(ac.TxPosition)); err != nil {
			return err
		}
	}
	return nil
}

// applyBakerUpserts enforces baker/bakers_removed disjointness via
// paired statements in one transaction: an add or stake change inserts into
// bakers and then deletes any stale bakers_removed row, a remove deletes
// from bakers before inserting into bakers_removed (spec.md §3 invariant 4).
func applyBakerUpserts(ctx context.Context, tx pgx.Tx, pb *preparer.PreparedBlock, txIndexBase int64) error {
	for _, bu := range pb.BakerUpserts {
		txIndex := txIndexBase + int64(bu.TxPosition)
		switch {
		case bu.Remove:
			if err := execExpect(ctx, tx, `DELETE FROM bakers WHERE id = $1`, Between(0, 1), bu.BakerID); err != nil {
				return err
			}
			if err := execExpect(ctx, tx, `
				INSERT INTO bakers_removed (id, removed_by_tx_index) VALUES ($1, $2)
				ON CONFLICT (id) DO UPDATE SET removed_by_tx_index = EXCLUDED.removed_by_tx_index
			`, Exactly(1), bu.BakerID, txIndex); err != nil {
				return err
			}
		case bu.HasNewStake:
			if err := execExpect(ctx, tx, `
				INSERT INTO bakers (id, staked) VALUES ($1, $2)
				ON CONFLICT (id) DO UPDATE SET staked = EXCLUDED.staked
			`, Exactly(1), bu.BakerID, bu.NewStakeMicroCCD.String()); err != nil {
				return err
			}
			if err := execExpect(ctx, tx, `DELETE FROM bakers_removed WHERE id = $1`, Between(0, 1), bu.BakerID); err != nil {
				return err
			}
		default:
			if err := execExpect(ctx, tx, `
				INSERT INTO bakers (id, staked) VALUES ($1, 0)
				ON CONFLICT (id) DO NOTHING
			`, Between(0, 1), bu.BakerID); err != nil {
				return err
			}
			if err := execExpect(ctx, tx, `DELETE FROM bakers_removed WHERE id = $1`, Between(0, 1), bu.BakerID); err != nil {
				return err
			}
		}
	}
	return nil
}

func applyDelegationChanges(ctx context.Context, tx pgx.Tx, pb *preparer.PreparedBlock, txIndexBase int64) error {
	for _, dc := range pb.DelegationChanges {
		switch {
		case dc.Remove:
			if err := execExpect(ctx, tx, `
				UPDATE accounts SET delegated_stake = 0, delegated_target_baker_id = NULL, delegated_restake_earnings = false
				WHERE index = $1
			`, Exactly(1), dc.DelegatorID); err != nil {
				return err
			}
		case dc.Add:
			if err := execExpect(ctx, tx, `
				UPDATE accounts SET delegated_stake = 0, delegated_restake_earnings = false
				WHERE index = $1
			`, Exactly(1), dc.DelegatorID); err != nil {
				return err
			}
		case dc.Target != nil:
			bakerID := interface{}(nil)
			if !dc.Target.Passive {
				bakerID = dc.Target.BakerID
			}
			if err := execExpect(ctx, tx, `
				UPDATE accounts SET delegated_target_baker_id = $2 WHERE index = $1
			`, Exactly(1), dc.DelegatorID, bakerID); err != nil {
				return err
			}
		case dc.RestakeEarnings != nil:
			if err := execExpect(ctx, tx, `
				UPDATE accounts SET delegated_restake_earnings = $2 WHERE index = $1
			`, Exactly(1), dc.DelegatorID, *dc.RestakeEarnings); err != nil {
				return err
			}
		case dc.NewStakeMicroCCD != nil:
			if err := execExpect(ctx, tx, `
				UPDATE accounts SET delegated_stake = $2 WHERE index = $1
			`, Exactly(1), dc.DelegatorID, dc.NewStakeMicroCCD.String()); err != nil {
				return err
			}
		}
	}
	return nil
}

func insertTokenCreations(ctx context.Context, tx pgx.Tx, pb *preparer.PreparedBlock, txIndexBase int64) error {
	for _, tc := range pb.TokenCreations {
		var supply pgtype.Numeric
		if err := supply.Set(tc.RawTotalSupply.String()); err != nil {
			return fmt.Errorf("writer: token %s raw_total_supply: %w", tc.TokenID, err)
		}
		if err := execExpect(ctx, tx, `
			INSERT INTO tokens (contract_index, contract_sub_index, token_id, token_address, metadata_url, raw_total_supply, init_transaction_index)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, Exactly(1), tc.ContractIndex, tc.ContractSubIndex, tc.TokenID, tc.TokenAddress, tc.MetadataURL, supply, txIndexBase+int64(tc.TxPosition)); err != nil {
			return err
		}
	}
	return nil
}

func insertTokenEvents(ctx context.Context, tx pgx.Tx, pb *preparer.PreparedBlock, txIndexBase int64) error {
	for _, te := range pb.TokenEvents {
		kind := "TokenHolder"
		if te.Governance {
			kind = "TokenGovernance"
		}
		if err := execExpect(ctx, tx, `
			INSERT INTO token_events (token_id, kind, action, details_kind, details_text, transaction_index)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, Exactly(1), te.TokenID, kind, te.Action, te.DetailsKind, te.DetailsText, txIndexBase+int64(te.TxPosition)); err != nil {
			return err
		}
	}
	return nil
}

func insertAffectedAccountLinks(ctx context.Context, tx pgx.Tx, pb *preparer.PreparedBlock, txIndexBase int64) error {
	for _, al := range pb.AffectedAccountLinks {
		if err := execExpect(ctx, tx, `
			INSERT INTO affected_accounts (transaction_index, account_index)
			SELECT $1, index FROM accounts WHERE address = $2
		`, Exactly(1), txIndexBase+int64(al.TxPosition), al.Address); err != nil {
			return err
		}
	}
	return nil
}

// notifyBlockAdded issues pg_notify inside the same transaction so
// subscribers never observe an uncommitted block (spec.md §4.4, §4.8).
func notifyBlockAdded(ctx context.Context, tx pgx.Tx, pb *preparer.PreparedBlock) error {
	_, err := tx.Exec(ctx, `SELECT pg_notify('block_added', $1)`, fmt.Sprintf("%d", pb.Height))
	if err != nil {
		return fmt.Errorf("writer: notify block_added: %w", err)
	}
	return nil
}
