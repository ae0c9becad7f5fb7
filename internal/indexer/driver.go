// Package indexer owns the node stream and drives it through the preparer
// and writer in strict block-height order, resuming after restarts and
// retrying transient node errors with backoff (spec.md §4.5).
//
// Driver is a direct generalization of the teacher's ChainDataFetcher in
// datasync/chaindatafetcher/chaindata_fetcher.go: its
// checkpointMu/checkpoint/checkpointMap out-of-order-completion bookkeeping
// collapses to a single lastCommittedHeight cursor here because blocks
// commit strictly in order (no parallel handlers to reorder), its
// reqCh/stopCh/wg goroutine-and-channel shape becomes the block-processing
// loop, and its retryFunc backoff-and-retry wrapping becomes exponential
// backoff with jitter on retryable nodeclient errors.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rcrowley/go-metrics"

	"github.com/ccdscan/indexer/internal/nodeclient"
	"github.com/ccdscan/indexer/internal/preparer"
	"github.com/ccdscan/indexer/internal/writer"
	"github.com/ccdscan/indexer/internal/xlog"
)

var logger = xlog.NewModuleLogger(xlog.Indexer)

var (
	committedHeightGauge = metrics.NewRegisteredGauge("indexer/height", metrics.DefaultRegistry)
	retryCountGauge      = metrics.NewRegisteredGauge("indexer/retries", metrics.DefaultRegistry)
)

// BackoffConfig controls the reconnect backoff applied after a retryable
// nodeclient error, mirroring the teacher's DBInsertRetryInterval constant
// generalized to an exponential schedule with jitter.
type BackoffConfig struct {
	Initial time.Duration
	Max     time.Duration
}

// DefaultBackoff matches the teacher's half-second retry interval as the
// starting point, growing to a 30s ceiling.
var DefaultBackoff = BackoffConfig{Initial: 500 * time.Millisecond, Max: 30 * time.Second}

// Driver streams finalized blocks from a nodeclient.Client, runs each
// through the preparer and writer, and advances a cursor of the
// last-committed height so a restart resumes exactly where it left off.
type Driver struct {
	Node    nodeclient.Client
	Pool    *pgxpool.Pool
	Backoff BackoffConfig

	lastCommittedHeight nodeclient.BlockHeight
	hasCommitted        bool
}

// NewDriver constructs a Driver. startHeight is the height to resume from,
// typically MAX(height)+1 read from blocks, or 0 for an empty database
// (spec.md §4.5).
func NewDriver(node nodeclient.Client, pool *pgxpool.Pool, startHeight nodeclient.BlockHeight) *Driver {
	d := &Driver{Node: node, Pool: pool, Backoff: DefaultBackoff}
	if startHeight > 0 {
		d.lastCommittedHeight = startHeight - 1
		d.hasCommitted = true
	}
	return d
}

// LastCommittedHeight reports the cursor position, primarily for tests and
// logging.
func (d *Driver) LastCommittedHeight() (nodeclient.BlockHeight, bool) {
	return d.lastCommittedHeight, d.hasCommitted
}

// Run streams blocks until ctx is cancelled or a non-retryable error
// occurs. It observes ctx.Done() only between block commits — a
// mid-transaction cancellation still completes commit-or-rollback first,
// per spec.md §4.5.
func (d *Driver) Run(ctx context.Context) error {
	retries := 0
	for {
		from := d.nextHeight()
		blocks, errc := d.Node.FinalizedBlocks(ctx, from)

		streamErr := d.consume(ctx, blocks, errc)
		if streamErr == nil {
			return nil // channel closed cleanly: ctx was cancelled
		}
		if ctx.Err() != nil {
			return nil
		}
		if !nodeclient.IsRetryable(streamErr) {
			return fmt.Errorf("indexer: fatal stream error: %w", streamErr)
		}

		retries++
		retryCountGauge.Update(int64(retries))
		delay := d.backoffDelay(retries)
		logger.Warn("retrying node stream after transient error", "err", streamErr, "retry", retries, "delay", delay)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil
		}
	}
}

func (d *Driver) nextHeight() nodeclient.BlockHeight {
	if !d.hasCommitted {
		return 0
	}
	return d.lastCommittedHeight + 1
}

// consume drains blocks until either channel signals completion, committing
// each finalized block in order. It returns the stream error (if any);
// nil means the block channel closed without error (graceful shutdown).
func (d *Driver) consume(ctx context.Context, blocks <-chan nodeclient.FinalizedBlock, errc <-chan error) error {
	for {
		select {
		case fb, ok := <-blocks:
			if !ok {
				select {
				case err := <-errc:
					return err
				default:
					return nil
				}
			}
			if err := d.commitBlock(ctx, fb); err != nil {
				return err
			}
		case err := <-errc:
			if err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// commitBlock fetches the block's transactions, prepares, and writes it.
// Cancellation is not observed mid-commit: once a block's write begins it
// runs to completion (spec.md §4.5).
func (d *Driver) commitBlock(ctx context.Context, fb nodeclient.FinalizedBlock) error {
	summary, err := d.Node.BlockTransactionEvents(ctx, fb.Height)
	if err != nil {
		return err
	}

	pb, err := preparer.Prepare(&summary)
	if err != nil {
		return fmt.Errorf("indexer: preparing block %d: %w", fb.Height, err)
	}

	if err := writer.Apply(ctx, d.Pool, pb); err != nil {
		var ae *writer.AssertionError
		if errors.As(err, &ae) {
			return fmt.Errorf("indexer: fatal write assertion at block %d: %w", fb.Height, err)
		}
		return err
	}

	d.lastCommittedHeight = fb.Height
	d.hasCommitted = true
	committedHeightGauge.Update(int64(fb.Height))
	return nil
}

// backoffDelay computes exponential backoff with full jitter, capped at
// Backoff.Max.
func (d *Driver) backoffDelay(attempt int) time.Duration {
	base := d.Backoff.Initial
	for i := 1; i < attempt && base < d.Backoff.Max; i++ {
		base *= 2
	}
	if base > d.Backoff.Max {
		base = d.Backoff.Max
	}
	jittered := time.Duration(rand.Int63n(int64(base) + 1))
	return jittered
}
