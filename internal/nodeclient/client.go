package nodeclient

import (
	"context"
)

// BlockSummary bundles a finalized block header with the ordered
// transaction summaries the Block Preparer needs (spec.md §4.1/§4.3).
type BlockSummary struct {
	Block        FinalizedBlock
	Transactions []BlockItemSummary
}

// Client is the narrow contract over the consensus node's streaming gRPC
// surface that the rest of the indexer depends on, mirroring the teacher's
// BlockChain interface in datasync/chaindatafetcher/chaindata_fetcher.go:
// callers depend on this interface, never on a concrete gRPC stub, so tests
// substitute a fake.
type Client interface {
	// FinalizedBlocks streams block headers starting at fromHeight,
	// forever, until ctx is cancelled or a non-retryable error occurs.
	FinalizedBlocks(ctx context.Context, fromHeight BlockHeight) (<-chan FinalizedBlock, <-chan error)

	// BlockTransactionEvents returns the finite set of transaction
	// summaries belonging to the block at height.
	BlockTransactionEvents(ctx context.Context, height BlockHeight) (BlockSummary, error)

	// BakerList streams the ids of every registered baker as of block.
	BakerList(ctx context.Context, block BlockHeight) (<-chan BakerID, <-chan error)

	// AccountInfo returns the node's authoritative view of an account as
	// of block, used by repair migrations (spec.md §4.6).
	AccountInfo(ctx context.Context, id AccountID, block BlockHeight) (AccountInfo, error)

	// PoolDelegators streams delegators of a specific baker's pool.
	PoolDelegators(ctx context.Context, block BlockHeight, baker BakerID) (<-chan Delegator, <-chan error)

	// PassiveDelegators streams delegators of the passive pool.
	PassiveDelegators(ctx context.Context, block BlockHeight) (<-chan Delegator, <-chan error)

	// BlockItemStatus reports whether hash is finalized, and at what
	// height, for node-backed reindex migrations (spec.md §4.6).
	BlockItemStatus(ctx context.Context, hash string) (BlockItemStatus, error)

	// BlockChainParameters returns the chain parameters singleton as of
	// block.
	BlockChainParameters(ctx context.Context, block BlockHeight) (ChainParameters, error)

	// ConsensusInfo returns current consensus-level parameters.
	ConsensusInfo(ctx context.Context) (ConsensusInfo, error)

	// Close releases any underlying transport resources.
	Close() error
}

type retryableError interface {
	Retryable() bool
}

// IsRetryable reports whether err represents a transport-level failure that
// the driver should retry against the same or a different endpoint, rather
// than treat as fatal (spec.md §4.1/§7).
func IsRetryable(err error) bool {
	for e := err; e != nil; {
		if r, ok := e.(retryableError); ok {
			return r.Retryable()
		}
		u, ok := e.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		e = u.Unwrap()
	}
	return false
}
