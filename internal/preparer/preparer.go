// Package preparer transforms a raw block summary from the node client into
// a PreparedBlock: the ordered set of insert/update intents the writer will
// later apply inside one transaction (spec.md §4.3). Prepare is pure — it
// never imports internal/store or calls internal/nodeclient; entities
// reference each other by numeric index rather than pointer, following the
// arena-by-index guidance in spec.md §9 that warns against cyclic
// block/tx/account object graphs.
//
// Grounded on the teacher's pure decode-then-build step in
// datasync/chaindatafetcher/kafka/repository.go, which separates "turn a
// chain event into a request payload" from "send it" — the same separation
// of transformation from I/O this package enforces.
package preparer

import (
	"fmt"
	"math/big"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ccdscan/indexer/internal/caddr"
	"github.com/ccdscan/indexer/internal/event"
	"github.com/ccdscan/indexer/internal/nodeclient"
)

// AccountCreation is the intent to insert one new account row, keyed by the
// creating transaction's position within PreparedBlock.Transactions.
type AccountCreation struct {
	TxPosition        int
	Address           string
	CanonicalAddress  caddr.Canonical
}

// BakerUpsert either adds/updates stake for a baker, or marks it removed.
type BakerUpsert struct {
	TxPosition       int
	BakerID          nodeclient.BakerID
	Remove           bool
	NewStakeMicroCCD *big.Int
	HasNewStake      bool
}

// DelegationChange captures one delegator mutation (add/remove/retarget/
// restake/stake change), mirroring event.go's per-sub-event expansion.
type DelegationChange struct {
	TxPosition       int
	DelegatorID      nodeclient.AccountID
	Add              bool
	Remove           bool
	Target           *nodeclient.DelegationTarget
	RestakeEarnings  *bool
	NewStakeMicroCCD *big.Int
}

// TokenCreation is the intent to insert a new token row.
type TokenCreation struct {
	TxPosition       int
	ContractIndex    uint64
	ContractSubIndex uint64
	TokenID          string
	TokenAddress     string
	MetadataURL      *string
	// RawTotalSupply is parsed from the node's decimal string at the
	// preparer boundary so a malformed supply fails the block here rather
	// than as an opaque database error (spec.md §3's "arbitrary-precision
	// decimal", grounded on gallery-so-go-gallery's pgx-adjacent use of
	// typed decimal fields at the ingest boundary).
	RawTotalSupply decimal.Decimal
}

// TokenEvent is the intent to insert one protocol-level token event row
// (holder or governance).
type TokenEvent struct {
	TxPosition  int
	TokenID     string
	Governance  bool
	Action      string // EventType for holder events, Action for governance
	DetailsKind string // "Cbor" or "Hex", per internal/cbortext.Kind
	DetailsText string
}

// AffectedAccountLink is the intent to insert one (transaction, account)
// referential row.
type AffectedAccountLink struct {
	TxPosition int
	Address    string
}

// MetricsDelta accumulates the per-block change to each append-only metrics
// stream; the writer passes it to metrics.Append, which inserts one new
// running-total row per non-zero stream (spec.md §4.7).
type MetricsDelta struct {
	AccountsAdded      int64
	TransactionsAdded  int64
	BakersAdded        int64
	BakersRemoved      int64
	CumulativeRewards  *big.Int // nil when no reward events occurred
}

// PreparedTransaction is one transaction row plus its events, ready for
// insertion.
type PreparedTransaction struct {
	Hash         string
	Kind         nodeclient.TransactionKind
	Subtype      nodeclient.AccountTransactionSubtype
	CostMicroCCD *big.Int
	Events       []event.Event
}

// PreparedBlock bundles everything one committed block contributes to the
// database, in the order the writer must apply it.
type PreparedBlock struct {
	Height   nodeclient.BlockHeight
	Hash     nodeclient.BlockHash
	SlotTime time.Time

	Transactions []PreparedTransaction

	AccountCreations     []AccountCreation
	BakerUpserts         []BakerUpsert
	DelegationChanges    []DelegationChange
	TokenCreations       []TokenCreation
	TokenEvents          []TokenEvent
	AffectedAccountLinks []AffectedAccountLink
	Metrics              MetricsDelta
}

// Prepare converts one finite block summary into a PreparedBlock. It
// performs no I/O; failure is fatal for the block and must propagate to the
// driver for retry (spec.md §4.3).
func Prepare(summary *nodeclient.BlockSummary) (*PreparedBlock, error) {
	pb := &PreparedBlock{
		Height:   summary.Block.Height,
		Hash:     summary.Block.Hash,
		SlotTime: summary.Block.SlotTime,
	}

	for i := range summary.Transactions {
		tx := &summary.Transactions[i]
		evs, err := event.EventsFromSummary(tx, summary.Block.SlotTime)
		if err != nil {
			return nil, fmt.Errorf("preparer: block %d tx %d: %w", summary.Block.Height, tx.Index, err)
		}

		cost := tx.CostMicroCCD
		if tx.Kind == nodeclient.KindCredentialDeployment {
			// Credential deployments are always fee-free (spec.md §3).
			cost = big.NewInt(0)
		}

		pb.Transactions = append(pb.Transactions, PreparedTransaction{
			Hash:         tx.Hash,
			Kind:         tx.Kind,
			Subtype:      tx.Subtype,
			CostMicroCCD: cost,
			Events:       evs,
		})
		pb.Metrics.TransactionsAdded++

		if err := pb.absorbEvents(i, evs); err != nil {
			return nil, fmt.Errorf("preparer: block %d tx %d: %w", summary.Block.Height, tx.Index, err)
		}
	}

	return pb, nil
}

// absorbEvents folds one transaction's ordered events into the block-level
// intent lists, preserving the within-transaction ordering the events arrive
// in (spec.md §4.3 "ordering within the block is preserved").
func (pb *PreparedBlock) absorbEvents(txPos int, evs []event.Event) error {
	for _, ev := range evs {
		switch e := ev.(type) {
		case event.CredentialDeployed:
			pb.AffectedAccountLinks = append(pb.AffectedAccountLinks, AffectedAccountLink{TxPosition: txPos, Address: e.Address})

		case event.AccountCreated:
			canon, err := caddr.Canonicalize(e.Address)
			if err != nil {
				return fmt.Errorf("canonicalizing account address: %w", err)
			}
			pb.AccountCreations = append(pb.AccountCreations, AccountCreation{
				TxPosition:       txPos,
				Address:          e.Address,
				CanonicalAddress: canon,
			})
			pb.Metrics.AccountsAdded++

		case event.Transferred:
			pb.AffectedAccountLinks = append(pb.AffectedAccountLinks,
				AffectedAccountLink{TxPosition: txPos, Address: e.From},
				AffectedAccountLink{TxPosition: txPos, Address: e.To},
			)

		case event.TransferredWithSchedule:
			pb.AffectedAccountLinks = append(pb.AffectedAccountLinks,
				AffectedAccountLink{TxPosition: txPos, Address: e.From},
				AffectedAccountLink{TxPosition: txPos, Address: e.To},
			)

		case event.BakerAdded:
			pb.BakerUpserts = append(pb.BakerUpserts, BakerUpsert{TxPosition: txPos, BakerID: e.BakerID})
			pb.Metrics.BakersAdded++

		case event.BakerRemoved:
			pb.BakerUpserts = append(pb.BakerUpserts, BakerUpsert{TxPosition: txPos, BakerID: e.BakerID, Remove: true})
			pb.Metrics.BakersRemoved++

		case event.BakerStakeIncreased:
			pb.BakerUpserts = append(pb.BakerUpserts, BakerUpsert{TxPosition: txPos, BakerID: e.BakerID, NewStakeMicroCCD: e.NewStakeMicroCCD, HasNewStake: true})

		case event.BakerStakeDecreased:
			pb.BakerUpserts = append(pb.BakerUpserts, BakerUpsert{TxPosition: txPos, BakerID: e.BakerID, NewStakeMicroCCD: e.NewStakeMicroCCD, HasNewStake: true})

		case event.DelegationAdded:
			pb.DelegationChanges = append(pb.DelegationChanges, DelegationChange{TxPosition: txPos, DelegatorID: e.DelegatorID, Add: true})

		case event.DelegationRemoved:
			pb.DelegationChanges = append(pb.DelegationChanges, DelegationChange{TxPosition: txPos, DelegatorID: e.DelegatorID, Remove: true})

		case event.DelegationSetTarget:
			t := e.Target
			pb.DelegationChanges = append(pb.DelegationChanges, DelegationChange{TxPosition: txPos, DelegatorID: e.DelegatorID, Target: &t})

		case event.DelegationSetRestakeEarnings:
			r := e.RestakeEarnings
			pb.DelegationChanges = append(pb.DelegationChanges, DelegationChange{TxPosition: txPos, DelegatorID: e.DelegatorID, RestakeEarnings: &r})

		case event.DelegationStakeIncreased:
			pb.DelegationChanges = append(pb.DelegationChanges, DelegationChange{TxPosition: txPos, DelegatorID: e.DelegatorID, NewStakeMicroCCD: e.NewStakeMicroCCD})

		case event.DelegationStakeDecreased:
			pb.DelegationChanges = append(pb.DelegationChanges, DelegationChange{TxPosition: txPos, DelegatorID: e.DelegatorID, NewStakeMicroCCD: e.NewStakeMicroCCD})

		case event.TokenCreated:
			supply, err := decimal.NewFromString(e.RawTotalSupply)
			if err != nil {
				return fmt.Errorf("preparer: token %s raw_total_supply %q: %w", e.TokenID, e.RawTotalSupply, err)
			}
			pb.TokenCreations = append(pb.TokenCreations, TokenCreation{
				TxPosition:       txPos,
				ContractIndex:    e.ContractIndex,
				ContractSubIndex: e.ContractSubIndex,
				TokenID:          e.TokenID,
				TokenAddress:     e.TokenAddress,
				MetadataURL:      e.MetadataURL,
				RawTotalSupply:   supply,
			})

		case event.TokenHolderEvent:
			pb.TokenEvents = append(pb.TokenEvents, TokenEvent{
				TxPosition:  txPos,
				TokenID:     e.TokenID,
				Action:      e.EventType,
				DetailsKind: e.Details.Kind.String(),
				DetailsText: e.Details.Text,
			})

		case event.TokenGovernanceEvent:
			pb.TokenEvents = append(pb.TokenEvents, TokenEvent{
				TxPosition:  txPos,
				TokenID:     e.TokenID,
				Governance:  true,
				Action:      e.Action,
				DetailsKind: e.Details.Kind.String(),
				DetailsText: e.Details.Text,
			})

		case event.CredentialKeysUpdated, event.CredentialsUpdated, event.ChainUpdate, event.TransactionRejected:
			// Recorded in PreparedTransaction.Events; no separate derived
			// aggregate to update.

		default:
			return fmt.Errorf("preparer: unhandled event kind %T", e)
		}
	}
	return nil
}
