// Package metrics maintains the append-only cumulative counters the writer
// feeds on every block (metrics_accounts, metrics_transactions,
// metrics_bakers, metrics_rewards) and answers the time-bucketed range
// queries the read side needs (spec.md §4.7). Bucketed totals are computed
// as subtractions between cumulative values at two points in time, grounded
// on original_source's account_metrics.rs/reward_metrics.rs
// "slot_time < now() - interval" windowing (reward_metrics.rs itself is a
// `todo!()` stub there, so this port's reward-bucket query is original work
// following the account/transaction metrics' established shape).
package metrics

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// Delta is one block's contribution to the append-only metrics streams.
// CumulativeRewards is nil when the block produced no reward events.
type Delta struct {
	AccountsAdded     int64
	TransactionsAdded int64
	BakersAdded       int64
	BakersRemoved     int64
	CumulativeRewards *big.Int

	// AccountRewards carries per-account reward deltas, keyed by account
	// index, for the optional accountId filter on rewardMetrics (spec.md
	// §6, original_source's reward_metrics_for_account).
	AccountRewards map[int64]*big.Int
}

// assertionError mirrors internal/writer.AssertionError's row-count
// contract without importing internal/writer, keeping this package on the
// leaf side of the dependency graph.
type assertionError struct {
	sql      string
	expected int64
	got      int64
}

func (e *assertionError) Error() string {
	return fmt.Sprintf("metrics: expected exactly %d affected rows, got %d: %s", e.expected, e.got, e.sql)
}

func execExactlyOne(ctx context.Context, tx pgx.Tx, sql string, args ...interface{}) error {
	tag, err := tx.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("metrics: exec failed: %w", err)
	}
	if n := tag.RowsAffected(); n != 1 {
		return &assertionError{sql: sql, expected: 1, got: n}
	}
	return nil
}

// Append records one block's metrics delta into each non-zero append-only
// stream, inside the caller's transaction (spec.md §4.7) — called by
// internal/writer as part of the same transaction as the block write, so a
// rolled-back block never leaves a dangling metrics row.
func Append(ctx context.Context, tx pgx.Tx, height uint64, d Delta) error {
	if d.AccountsAdded != 0 {
		if err := execExactlyOne(ctx, tx, `
			INSERT INTO metrics_accounts (block_height, total_accounts)
			VALUES ($1, COALESCE((SELECT total_accounts FROM metrics_accounts ORDER BY block_height DESC LIMIT 1), 0) + $2)
		`, height, d.AccountsAdded); err != nil {
			return err
		}
	}
	if d.TransactionsAdded != 0 {
		if err := execExactlyOne(ctx, tx, `
			INSERT INTO metrics_transactions (block_height, cumulative_num_txs)
			VALUES ($1, COALESCE((SELECT cumulative_num_txs FROM metrics_transactions ORDER BY block_height DESC LIMIT 1), 0) + $2)
		`, height, d.TransactionsAdded); err != nil {
			return err
		}
	}
	if d.BakersAdded != 0 || d.BakersRemoved != 0 {
		if err := execExactlyOne(ctx, tx, `
			INSERT INTO metrics_bakers (block_height, total_bakers_added, total_bakers_removed)
			VALUES ($1,
				COALESCE((SELECT total_bakers_added FROM metrics_bakers ORDER BY block_height DESC LIMIT 1), 0) + $2,
				COALESCE((SELECT total_bakers_removed FROM metrics_bakers ORDER BY block_height DESC LIMIT 1), 0) + $3)
		`, height, d.BakersAdded, d.BakersRemoved); err != nil {
			return err
		}
	}
	if d.CumulativeRewards != nil {
		if err := insertRewardDelta(ctx, tx, height, networkWideAccountSentinel, d.CumulativeRewards.String()); err != nil {
			return err
		}
	}
	for accountID, amount := range d.AccountRewards {
		if err := insertRewardDelta(ctx, tx, height, accountID, amount.String()); err != nil {
			return err
		}
	}
	return nil
}

// networkWideAccountSentinel is metrics_rewards.account_id's value for the
// network-wide running total; PRIMARY KEY columns cannot be NULL in
// PostgreSQL, and real account indices are always >= 0 (spec.md §3), so -1
// is reserved to mean "no specific account".
const networkWideAccountSentinel int64 = -1

func insertRewardDelta(ctx context.Context, tx pgx.Tx, height uint64, accountID int64, amount string) error {
	return execExactlyOne(ctx, tx, `
		INSERT INTO metrics_rewards (block_height, account_id, total_reward_amount)
		VALUES ($1, $2, COALESCE((SELECT total_reward_amount FROM metrics_rewards WHERE account_id = $2 ORDER BY block_height DESC LIMIT 1), 0) + $3)
	`, height, accountID, amount)
}

// Period is the closed set of ranges the read side can request bucketed
// totals over.
type Period int

const (
	PeriodLastHour Period = iota
	PeriodLast24Hours
	PeriodLast7Days
	PeriodLast30Days
	PeriodLastYear
)

// Window returns the full lookback span and the width of each bucket within
// it. Last24Hours buckets at 6h (matching spec.md §8 scenario S3's 4
// buckets over 24h); the day-scale periods bucket at 1 day; LastYear buckets
// at 30 days, matching spec.md §6's closed MetricsPeriod enum.
func (p Period) Window() (span, bucketWidth time.Duration) {
	switch p {
	case PeriodLastHour:
		return time.Hour, 5 * time.Minute
	case PeriodLast24Hours:
		return 24 * time.Hour, 6 * time.Hour
	case PeriodLast7Days:
		return 7 * 24 * time.Hour, 24 * time.Hour
	case PeriodLast30Days:
		return 30 * 24 * time.Hour, 24 * time.Hour
	case PeriodLastYear:
		return 365 * 24 * time.Hour, 30 * 24 * time.Hour
	default:
		return 24 * time.Hour, 6 * time.Hour
	}
}

func (p Period) bucketCount() int {
	span, width := p.Window()
	return int(span / width)
}

// BucketedTotals is the result of a bucketed query over one cumulative
// stream: the width of every bucket, and parallel x/y slices (bucket start
// time, cumulative total at that bucket's end, and the delta within the
// bucket), matching spec.md §8 scenario S3's y_SumRewards shape.
type BucketedTotals struct {
	BucketWidth time.Duration
	BucketStart []time.Time
	Cumulative  []*big.Int
	Delta       []*big.Int
}

// cumulativeAt runs a "value as of the most recent row with slot_time <=
// asOf, or zero" query against one of the metrics_* tables, the shared shape
// behind every bucketed query below (spec.md §6's "SELECT ... WHERE
// slot_time < now() - $interval" contract).
func cumulativeAt(ctx context.Context, pool *pgxpool.Pool, sql string, asOf time.Time, args ...interface{}) (*big.Int, error) {
	var n int64
	err := pool.QueryRow(ctx, sql, append(append([]interface{}{}, args...), asOf)...).Scan(&n)
	if err != nil {
		return nil, fmt.Errorf("metrics: querying cumulative total: %w", err)
	}
	return big.NewInt(n), nil
}

// bucketedTotals walks period.Window() in bucketWidth-sized steps, calling
// at(asOf) for the cumulative value at each boundary and differencing
// consecutive values into per-bucket deltas.
func bucketedTotals(period Period, now time.Time, at func(asOf time.Time) (*big.Int, error)) (*BucketedTotals, error) {
	span, width := period.Window()
	n := period.bucketCount()

	start := now.Add(-span)
	prev, err := at(start)
	if err != nil {
		return nil, err
	}

	bt := &BucketedTotals{BucketWidth: width}
	for i := 1; i <= n; i++ {
		bucketEnd := start.Add(time.Duration(i) * width)
		cum, err := at(bucketEnd)
		if err != nil {
			return nil, err
		}
		delta := new(big.Int).Sub(cum, prev)
		bt.BucketStart = append(bt.BucketStart, start.Add(time.Duration(i-1)*width))
		bt.Cumulative = append(bt.Cumulative, cum)
		bt.Delta = append(bt.Delta, delta)
		prev = cum
	}
	return bt, nil
}

const rewardsAtForAccountSQL = `
	SELECT COALESCE((
		SELECT mr.total_reward_amount::BIGINT
		FROM metrics_rewards mr
		JOIN blocks b ON b.height = mr.block_height
		WHERE mr.account_id = $2 AND b.slot_time <= $1
		ORDER BY mr.block_height DESC
		LIMIT 1
	), 0)
`

// BucketedRewardTotals computes reward_metrics(period): a sequence of
// (bucket_start, cumulative-at-bucket-end, delta-within-bucket) samples
// spaced period.Window()'s bucketWidth apart over its span, ending now.
//
// spec.md §8 scenario S3: over the last 24h sampled every 6h with
// cumulative totals 1000→2000→3500→4500→5000, this yields
// y_SumRewards = [1000,1500,1000,500] and sum_reward_amount = 4000.
func BucketedRewardTotals(ctx context.Context, pool *pgxpool.Pool, period Period, now time.Time) (*BucketedTotals, error) {
	return BucketedRewardTotalsForAccount(ctx, pool, period, networkWideAccountSentinel, now)
}

// BucketedRewardTotalsForAccount answers
// reward_metrics(period, accountId): the same bucketing as
// BucketedRewardTotals restricted to one account's rewards (spec.md §6,
// original_source's reward_metrics_for_account).
func BucketedRewardTotalsForAccount(ctx context.Context, pool *pgxpool.Pool, period Period, accountID int64, now time.Time) (*BucketedTotals, error) {
	return bucketedTotals(period, now, func(asOf time.Time) (*big.Int, error) {
		var n int64
		err := pool.QueryRow(ctx, rewardsAtForAccountSQL, asOf, accountID).Scan(&n)
		if err != nil {
			return nil, fmt.Errorf("metrics: querying cumulative account rewards: %w", err)
		}
		return big.NewInt(n), nil
	})
}

// BucketedAccountTotals answers accountsMetrics(period): the running total
// of accounts created, bucketed the same way as reward_metrics (spec.md §6).
func BucketedAccountTotals(ctx context.Context, pool *pgxpool.Pool, period Period, now time.Time) (*BucketedTotals, error) {
	const sql = `
		SELECT COALESCE((
			SELECT ma.total_accounts
			FROM metrics_accounts ma
			JOIN blocks b ON b.height = ma.block_height
			WHERE b.slot_time <= $1
			ORDER BY ma.block_height DESC
			LIMIT 1
		), 0)
	`
	return bucketedTotals(period, now, func(asOf time.Time) (*big.Int, error) {
		return cumulativeAt(ctx, pool, sql, asOf)
	})
}

// BucketedTransactionTotals answers transactionMetrics(period): the running
// total of transactions (cumulative_num_txs), bucketed per spec.md §6.
func BucketedTransactionTotals(ctx context.Context, pool *pgxpool.Pool, period Period, now time.Time) (*BucketedTotals, error) {
	const sql = `
		SELECT COALESCE((
			SELECT mt.cumulative_num_txs
			FROM metrics_transactions mt
			JOIN blocks b ON b.height = mt.block_height
			WHERE b.slot_time <= $1
			ORDER BY mt.block_height DESC
			LIMIT 1
		), 0)
	`
	return bucketedTotals(period, now, func(asOf time.Time) (*big.Int, error) {
		return cumulativeAt(ctx, pool, sql, asOf)
	})
}

// BakerBucketedTotals pairs the bakers-added and bakers-removed running
// totals over the same set of buckets, answering bakerMetrics(period).
type BakerBucketedTotals struct {
	Added   *BucketedTotals
	Removed *BucketedTotals
}

// BucketedBakerTotals answers bakerMetrics(period) per spec.md §6.
func BucketedBakerTotals(ctx context.Context, pool *pgxpool.Pool, period Period, now time.Time) (*BakerBucketedTotals, error) {
	const addedSQL = `
		SELECT COALESCE((
			SELECT mb.total_bakers_added
			FROM metrics_bakers mb
			JOIN blocks b ON b.height = mb.block_height
			WHERE b.slot_time <= $1
			ORDER BY mb.block_height DESC
			LIMIT 1
		), 0)
	`
	const removedSQL = `
		SELECT COALESCE((
			SELECT mb.total_bakers_removed
			FROM metrics_bakers mb
			JOIN blocks b ON b.height = mb.block_height
			WHERE b.slot_time <= $1
			ORDER BY mb.block_height DESC
			LIMIT 1
		), 0)
	`
	added, err := bucketedTotals(period, now, func(asOf time.Time) (*big.Int, error) {
		return cumulativeAt(ctx, pool, addedSQL, asOf)
	})
	if err != nil {
		return nil, err
	}
	removed, err := bucketedTotals(period, now, func(asOf time.Time) (*big.Int, error) {
		return cumulativeAt(ctx, pool, removedSQL, asOf)
	})
	if err != nil {
		return nil, err
	}
	return &BakerBucketedTotals{Added: added, Removed: removed}, nil
}

// SumRewardAmount totals every bucket's delta, the "sum_reward_amount"
// value in spec.md §8 scenario S3.
func (bt *BucketedTotals) SumRewardAmount() *big.Int {
	sum := big.NewInt(0)
	for _, d := range bt.Delta {
		sum.Add(sum, d)
	}
	return sum
}
