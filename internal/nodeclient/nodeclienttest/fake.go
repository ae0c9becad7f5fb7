// Package nodeclienttest provides an in-memory nodeclient.Client for use by
// the indexer driver, migration runtime, and preparer tests, the same role
// the teacher's generated BlockChain mock plays for chaindata_fetcher tests
// (see the //go:generate mockgen directive on that interface).
package nodeclienttest

import (
	"context"
	"sync"

	"github.com/ccdscan/indexer/internal/nodeclient"
)

// Fake is a scriptable nodeclient.Client. Blocks and bakers are supplied up
// front; FinalizedBlocks replays them once per call starting at fromHeight.
type Fake struct {
	mu sync.Mutex

	Blocks []nodeclient.BlockSummary
	Bakers []nodeclient.BakerID

	ChainParams nodeclient.ChainParameters
	Consensus   nodeclient.ConsensusInfo

	// FailAfter, if >0, causes FinalizedBlocks to emit a retryable error
	// after streaming this many blocks (simulating spec.md §8 property 5 /
	// S5: a transient error after block 100).
	FailAfter int

	Closed bool
}

type fakeErr struct{ msg string }

func (e *fakeErr) Error() string     { return e.msg }
func (e *fakeErr) Retryable() bool   { return true }

func (f *Fake) FinalizedBlocks(ctx context.Context, fromHeight nodeclient.BlockHeight) (<-chan nodeclient.FinalizedBlock, <-chan error) {
	out := make(chan nodeclient.FinalizedBlock)
	errc := make(chan error, 1)
	go func() {
		defer close(out)
		sent := 0
		for _, b := range f.Blocks {
			if b.Block.Height < fromHeight {
				continue
			}
			if f.FailAfter > 0 && sent >= f.FailAfter {
				errc <- &fakeErr{msg: "simulated transient stream reset"}
				return
			}
			select {
			case out <- b.Block:
				sent++
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, errc
}

func (f *Fake) BlockTransactionEvents(ctx context.Context, height nodeclient.BlockHeight) (nodeclient.BlockSummary, error) {
	for _, b := range f.Blocks {
		if b.Block.Height == height {
			return b, nil
		}
	}
	return nodeclient.BlockSummary{}, &fakeErr{msg: "block not found"}
}

func (f *Fake) BakerList(ctx context.Context, block nodeclient.BlockHeight) (<-chan nodeclient.BakerID, <-chan error) {
	out := make(chan nodeclient.BakerID, len(f.Bakers))
	errc := make(chan error, 1)
	for _, b := range f.Bakers {
		out <- b
	}
	close(out)
	return out, errc
}

func (f *Fake) AccountInfo(ctx context.Context, id nodeclient.AccountID, block nodeclient.BlockHeight) (nodeclient.AccountInfo, error) {
	return nodeclient.AccountInfo{}, nil
}

func (f *Fake) PoolDelegators(ctx context.Context, block nodeclient.BlockHeight, baker nodeclient.BakerID) (<-chan nodeclient.Delegator, <-chan error) {
	out := make(chan nodeclient.Delegator)
	close(out)
	return out, make(chan error, 1)
}

func (f *Fake) PassiveDelegators(ctx context.Context, block nodeclient.BlockHeight) (<-chan nodeclient.Delegator, <-chan error) {
	out := make(chan nodeclient.Delegator)
	close(out)
	return out, make(chan error, 1)
}

func (f *Fake) BlockItemStatus(ctx context.Context, hash string) (nodeclient.BlockItemStatus, error) {
	return nodeclient.BlockItemStatus{Finalized: true}, nil
}

func (f *Fake) BlockChainParameters(ctx context.Context, block nodeclient.BlockHeight) (nodeclient.ChainParameters, error) {
	return f.ChainParams, nil
}

func (f *Fake) ConsensusInfo(ctx context.Context) (nodeclient.ConsensusInfo, error) {
	return f.Consensus, nil
}

func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return nil
}
