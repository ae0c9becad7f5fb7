// Package nodeclient is the thin contract over the consensus node's
// streaming gRPC surface (spec.md §4.1), grounded on the teacher's
// datasync/chaindatafetcher BlockChain interface: a narrow, mockable Go
// interface in front of a concrete transport, plus the multi-endpoint
// failover idiom from the teacher's node/cn service wiring generalized to
// try each configured endpoint in turn.
package nodeclient

import (
	"math/big"
	"time"
)

// BlockHeight is the monotonically increasing, gap-free block height.
type BlockHeight uint64

// BlockHash uniquely identifies a finalized block.
type BlockHash string

// FinalizedBlock is one element of the finalized-block stream.
type FinalizedBlock struct {
	Height   BlockHeight
	Hash     BlockHash
	SlotTime time.Time
}

// AccountID is the dense account index.
type AccountID uint64

// BakerID is a validator id, equal to the account index that registered it.
type BakerID uint64

// DelegationTarget is either the passive pool or a specific baker.
type DelegationTarget struct {
	Passive bool
	BakerID BakerID // only meaningful when Passive is false
}

// Delegator describes one entry returned by PoolDelegators/PassiveDelegators.
type Delegator struct {
	AccountAddress string
	StakeMicroCCD  *big.Int
	RestakeEarnings bool
}

// AccountInfo is the subset of account state the indexer needs to repair
// derived data during migrations (spec.md §4.6).
type AccountInfo struct {
	Address                  string
	DelegatedStakeMicroCCD   *big.Int
	DelegatedTarget          *DelegationTarget
	DelegatedRestakeEarnings bool
}

// ChainParameters is the singleton row described in spec.md §3.
type ChainParameters struct {
	EpochDuration            time.Duration
	RewardPeriodLength        uint64
	CapitalBoundPartsPerHundredThousand uint32
	LeverageBoundNumerator   uint64
	LeverageBoundDenominator uint64
}

// BlockItemStatus reports whether a transaction hash is finalized, and if
// so at what height, matching spec.md's "non-finalized status during
// migration" fatal-assertion case.
type BlockItemStatus struct {
	Finalized bool
	Height    BlockHeight
}

// ConsensusInfo mirrors the subset of node consensus info the migration
// runtime needs (e.g. current epoch duration for m0010-style migrations).
type ConsensusInfo struct {
	EpochDuration time.Duration
}
