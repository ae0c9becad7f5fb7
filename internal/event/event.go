// Package event models the closed set of on-chain events the indexer
// recognizes (spec.md §4.2) as a Go tagged union: one struct per variant,
// a private marker method closing the set, and a total conversion function
// from the node's raw per-transaction summary to an ordered event sequence.
//
// Grounded on the teacher's exhaustive switch over Kafka RequestType in
// datasync/chaindatafetcher/kafka/repository.go: every recognized tag has a
// case, and the default case is an error, never a silent drop.
package event

import (
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/ccdscan/indexer/internal/cbortext"
	"github.com/ccdscan/indexer/internal/nodeclient"
)

// Kind discriminates Event variants for storage and logging.
type Kind string

const (
	KindAccountCreated               Kind = "AccountCreated"
	KindCredentialDeployed           Kind = "CredentialDeployed"
	KindCredentialKeysUpdated        Kind = "CredentialKeysUpdated"
	KindCredentialsUpdated           Kind = "CredentialsUpdated"
	KindTransferred                  Kind = "Transferred"
	KindTransferredWithSchedule      Kind = "TransferredWithSchedule"
	KindDelegationAdded              Kind = "DelegationAdded"
	KindDelegationRemoved            Kind = "DelegationRemoved"
	KindDelegationSetTarget          Kind = "DelegationSetTarget"
	KindDelegationSetRestakeEarnings Kind = "DelegationSetRestakeEarnings"
	KindDelegationStakeIncreased     Kind = "DelegationStakeIncreased"
	KindDelegationStakeDecreased     Kind = "DelegationStakeDecreased"
	KindBakerAdded                   Kind = "BakerAdded"
	KindBakerRemoved                 Kind = "BakerRemoved"
	KindBakerStakeIncreased          Kind = "BakerStakeIncreased"
	KindBakerStakeDecreased          Kind = "BakerStakeDecreased"
	KindTokenCreated                 Kind = "TokenCreated"
	KindTokenHolderEvent             Kind = "TokenHolderEvent"
	KindTokenGovernanceEvent         Kind = "TokenGovernanceEvent"
	KindChainUpdate                  Kind = "ChainUpdate"
	KindTransactionRejected          Kind = "TransactionRejected"
)

// Event is the closed union. Only types in this package implement it.
type Event interface {
	Kind() Kind
	isEvent()
}

type base struct{ kind Kind }

func (b base) Kind() Kind { return b.kind }
func (base) isEvent()     {}

// Each variant below defines a local `alias` type (so its own MarshalJSON
// isn't re-entered) and marshals it anonymously embedded alongside an
// explicit Kind field. base.kind is unexported so it promotes no JSON field
// of its own — only the Kind() method, which encoding/json's struct-field
// scan ignores — so the explicit field below never collides with it. This
// gives every variant the same `{"kind": "...", ...fields}` shape that
// internal/migrate's hand-built event JSON uses.

type AccountCreated struct {
	base
	Address string `json:"address"`
}

func (e AccountCreated) MarshalJSON() ([]byte, error) {
	type alias AccountCreated
	return json.Marshal(struct {
		Kind Kind `json:"kind"`
		alias
	}{Kind: e.Kind(), alias: alias(e)})
}

type CredentialDeployed struct {
	base
	RegID   string `json:"reg_id"`
	Address string `json:"address"`
}

func (e CredentialDeployed) MarshalJSON() ([]byte, error) {
	type alias CredentialDeployed
	return json.Marshal(struct {
		Kind Kind `json:"kind"`
		alias
	}{Kind: e.Kind(), alias: alias(e)})
}

type CredentialKeysUpdated struct {
	base
	CredID string `json:"cred_id"`
}

func (e CredentialKeysUpdated) MarshalJSON() ([]byte, error) {
	type alias CredentialKeysUpdated
	return json.Marshal(struct {
		Kind Kind `json:"kind"`
		alias
	}{Kind: e.Kind(), alias: alias(e)})
}

type CredentialsUpdated struct {
	base
	Address        string   `json:"address"`
	NewCredIDs     []string `json:"new_cred_ids"`
	RemovedCredIDs []string `json:"removed_cred_ids"`
	NewThreshold   uint8    `json:"new_threshold"`
}

func (e CredentialsUpdated) MarshalJSON() ([]byte, error) {
	type alias CredentialsUpdated
	return json.Marshal(struct {
		Kind Kind `json:"kind"`
		alias
	}{Kind: e.Kind(), alias: alias(e)})
}

type Transferred struct {
	base
	From           string   `json:"from"`
	To             string   `json:"to"`
	AmountMicroCCD *big.Int `json:"amount_micro_ccd"`
	Memo           []byte   `json:"memo,omitempty"`
}

func (e Transferred) MarshalJSON() ([]byte, error) {
	type alias Transferred
	return json.Marshal(struct {
		Kind Kind `json:"kind"`
		alias
	}{Kind: e.Kind(), alias: alias(e)})
}

type TransferredWithSchedule struct {
	base
	From          string   `json:"from"`
	To            string   `json:"to"`
	TotalMicroCCD *big.Int `json:"total_micro_ccd"`
	Memo          []byte   `json:"memo,omitempty"`
}

func (e TransferredWithSchedule) MarshalJSON() ([]byte, error) {
	type alias TransferredWithSchedule
	return json.Marshal(struct {
		Kind Kind `json:"kind"`
		alias
	}{Kind: e.Kind(), alias: alias(e)})
}

type DelegationAdded struct {
	base
	DelegatorID nodeclient.AccountID `json:"delegator_id"`
}

func (e DelegationAdded) MarshalJSON() ([]byte, error) {
	type alias DelegationAdded
	return json.Marshal(struct {
		Kind Kind `json:"kind"`
		alias
	}{Kind: e.Kind(), alias: alias(e)})
}

type DelegationRemoved struct {
	base
	DelegatorID nodeclient.AccountID `json:"delegator_id"`
}

func (e DelegationRemoved) MarshalJSON() ([]byte, error) {
	type alias DelegationRemoved
	return json.Marshal(struct {
		Kind Kind `json:"kind"`
		alias
	}{Kind: e.Kind(), alias: alias(e)})
}

type DelegationSetTarget struct {
	base
	DelegatorID nodeclient.AccountID        `json:"delegator_id"`
	Target      nodeclient.DelegationTarget `json:"target"`
}

func (e DelegationSetTarget) MarshalJSON() ([]byte, error) {
	type alias DelegationSetTarget
	return json.Marshal(struct {
		Kind Kind `json:"kind"`
		alias
	}{Kind: e.Kind(), alias: alias(e)})
}

type DelegationSetRestakeEarnings struct {
	base
	DelegatorID     nodeclient.AccountID `json:"delegator_id"`
	RestakeEarnings bool                 `json:"restake_earnings"`
}

func (e DelegationSetRestakeEarnings) MarshalJSON() ([]byte, error) {
	type alias DelegationSetRestakeEarnings
	return json.Marshal(struct {
		Kind Kind `json:"kind"`
		alias
	}{Kind: e.Kind(), alias: alias(e)})
}

type DelegationStakeIncreased struct {
	base
	DelegatorID      nodeclient.AccountID `json:"delegator_id"`
	NewStakeMicroCCD *big.Int             `json:"new_stake_micro_ccd"`
}

func (e DelegationStakeIncreased) MarshalJSON() ([]byte, error) {
	type alias DelegationStakeIncreased
	return json.Marshal(struct {
		Kind Kind `json:"kind"`
		alias
	}{Kind: e.Kind(), alias: alias(e)})
}

type DelegationStakeDecreased struct {
	base
	DelegatorID      nodeclient.AccountID `json:"delegator_id"`
	NewStakeMicroCCD *big.Int             `json:"new_stake_micro_ccd"`
}

func (e DelegationStakeDecreased) MarshalJSON() ([]byte, error) {
	type alias DelegationStakeDecreased
	return json.Marshal(struct {
		Kind Kind `json:"kind"`
		alias
	}{Kind: e.Kind(), alias: alias(e)})
}

type BakerAdded struct {
	base
	BakerID nodeclient.BakerID `json:"baker_id"`
}

func (e BakerAdded) MarshalJSON() ([]byte, error) {
	type alias BakerAdded
	return json.Marshal(struct {
		Kind Kind `json:"kind"`
		alias
	}{Kind: e.Kind(), alias: alias(e)})
}

type BakerRemoved struct {
	base
	BakerID nodeclient.BakerID `json:"baker_id"`
}

func (e BakerRemoved) MarshalJSON() ([]byte, error) {
	type alias BakerRemoved
	return json.Marshal(struct {
		Kind Kind `json:"kind"`
		alias
	}{Kind: e.Kind(), alias: alias(e)})
}

type BakerStakeIncreased struct {
	base
	BakerID          nodeclient.BakerID `json:"baker_id"`
	NewStakeMicroCCD *big.Int           `json:"new_stake_micro_ccd"`
}

func (e BakerStakeIncreased) MarshalJSON() ([]byte, error) {
	type alias BakerStakeIncreased
	return json.Marshal(struct {
		Kind Kind `json:"kind"`
		alias
	}{Kind: e.Kind(), alias: alias(e)})
}

type BakerStakeDecreased struct {
	base
	BakerID          nodeclient.BakerID `json:"baker_id"`
	NewStakeMicroCCD *big.Int           `json:"new_stake_micro_ccd"`
}

func (e BakerStakeDecreased) MarshalJSON() ([]byte, error) {
	type alias BakerStakeDecreased
	return json.Marshal(struct {
		Kind Kind `json:"kind"`
		alias
	}{Kind: e.Kind(), alias: alias(e)})
}

// TokenCreated models a protocol-level token's creation event.
type TokenCreated struct {
	base
	ContractIndex    uint64  `json:"contract_index"`
	ContractSubIndex uint64  `json:"contract_sub_index"`
	TokenID          string  `json:"token_id"`
	TokenAddress     string  `json:"token_address"`
	MetadataURL      *string `json:"metadata_url,omitempty"`
	RawTotalSupply   string  `json:"raw_total_supply"`
}

func (e TokenCreated) MarshalJSON() ([]byte, error) {
	type alias TokenCreated
	return json.Marshal(struct {
		Kind Kind `json:"kind"`
		alias
	}{Kind: e.Kind(), alias: alias(e)})
}

// TokenHolderEvent and TokenGovernanceEvent carry a free-form `details`
// payload that is decoded from CBOR when possible, or hex-tagged as a
// fallback, per spec.md §4.2's losslessness requirement.
type TokenHolderEvent struct {
	base
	TokenID   string               `json:"token_id"`
	EventType string               `json:"event_type"`
	Details   cbortext.DecodedText `json:"details"`
}

func (e TokenHolderEvent) MarshalJSON() ([]byte, error) {
	type alias TokenHolderEvent
	return json.Marshal(struct {
		Kind Kind `json:"kind"`
		alias
	}{Kind: e.Kind(), alias: alias(e)})
}

type TokenGovernanceEvent struct {
	base
	TokenID string               `json:"token_id"`
	Action  string               `json:"action"`
	Details cbortext.DecodedText `json:"details"`
}

func (e TokenGovernanceEvent) MarshalJSON() ([]byte, error) {
	type alias TokenGovernanceEvent
	return json.Marshal(struct {
		Kind Kind `json:"kind"`
		alias
	}{Kind: e.Kind(), alias: alias(e)})
}

type ChainUpdate struct {
	base
	EffectiveTime time.Time `json:"effective_time"`
	PayloadTag    string    `json:"payload_tag"`
	Payload       []byte    `json:"payload,omitempty"`
}

func (e ChainUpdate) MarshalJSON() ([]byte, error) {
	type alias ChainUpdate
	return json.Marshal(struct {
		Kind Kind `json:"kind"`
		alias
	}{Kind: e.Kind(), alias: alias(e)})
}

type TransactionRejected struct {
	base
	Reason string `json:"reason"`
}

func (e TransactionRejected) MarshalJSON() ([]byte, error) {
	type alias TransactionRejected
	return json.Marshal(struct {
		Kind Kind `json:"kind"`
		alias
	}{Kind: e.Kind(), alias: alias(e)})
}

// UnknownEventVariantError is returned by EventsFromSummary when a summary
// carries a tag this package has no case for. Callers must treat this as
// fatal, never as "skip this transaction" — spec.md §4.2's totality
// requirement.
type UnknownEventVariantError struct {
	Kind    nodeclient.TransactionKind
	Subtype nodeclient.AccountTransactionSubtype
}

func (e *UnknownEventVariantError) Error() string {
	return fmt.Sprintf("event: unrecognized summary variant kind=%q subtype=%q", e.Kind, e.Subtype)
}

func newBase(k Kind) base { return base{kind: k} }

// EventsFromSummary converts one node-reported transaction outcome into its
// ordered sequence of events. It is total: every SummaryDetails shape
// nodeclient can produce has a case, and an unrecognized shape returns
// UnknownEventVariantError rather than an empty slice.
func EventsFromSummary(s *nodeclient.BlockItemSummary, slotTime time.Time) ([]Event, error) {
	d := s.Details
	switch {
	case d.AccountCreation != nil:
		ac := d.AccountCreation
		return []Event{
			CredentialDeployed{base: newBase(KindCredentialDeployed), RegID: ac.RegID, Address: ac.Address},
			AccountCreated{base: newBase(KindAccountCreated), Address: ac.Address},
		}, nil

	case d.Transfer != nil:
		t := d.Transfer
		return []Event{Transferred{
			base:           newBase(KindTransferred),
			From:           t.From,
			To:             t.To,
			AmountMicroCCD: t.AmountMicroCCD,
			Memo:           t.Memo,
		}}, nil

	case d.TransferWithSchedule != nil:
		t := d.TransferWithSchedule
		return []Event{TransferredWithSchedule{
			base:          newBase(KindTransferredWithSchedule),
			From:          t.From,
			To:            t.To,
			TotalMicroCCD: t.TotalMicroCCD,
			Memo:          t.Memo,
		}}, nil

	case d.BakerConfigured != nil:
		return bakerConfiguredEvents(d.BakerConfigured), nil

	case d.DelegationConfigured != nil:
		return delegationConfiguredEvents(d.DelegationConfigured), nil

	case d.CredentialKeysUpdated != nil:
		c := d.CredentialKeysUpdated
		return []Event{CredentialKeysUpdated{base: newBase(KindCredentialKeysUpdated), CredID: c.CredID}}, nil

	case d.CredentialsUpdated != nil:
		c := d.CredentialsUpdated
		return []Event{CredentialsUpdated{
			base:           newBase(KindCredentialsUpdated),
			Address:        c.Address,
			NewCredIDs:     c.NewCredIDs,
			RemovedCredIDs: c.RemovedCredIDs,
			NewThreshold:   c.NewThreshold,
		}}, nil

	case d.ChainUpdate != nil:
		c := d.ChainUpdate
		return []Event{ChainUpdate{
			base:          newBase(KindChainUpdate),
			EffectiveTime: time.Unix(c.EffectiveTime, 0).UTC(),
			PayloadTag:    c.PayloadTag,
			Payload:       c.PayloadJSON,
		}}, nil

	case d.TokenCreation != nil:
		tc := d.TokenCreation
		evs := []Event{TokenCreated{
			base:             newBase(KindTokenCreated),
			ContractIndex:    tc.ContractIndex,
			ContractSubIndex: tc.ContractSubIndex,
			TokenID:          tc.TokenID,
			TokenAddress:     tc.TokenAddress,
			MetadataURL:      tc.MetadataURL,
			RawTotalSupply:   tc.RawTotalSupply,
		}}
		for _, g := range tc.GovernanceEvents {
			evs = append(evs, TokenGovernanceEvent{
				base:    newBase(KindTokenGovernanceEvent),
				TokenID: g.TokenID,
				Action:  g.Action,
				Details: cbortext.Decode(g.DetailsCBOR),
			})
		}
		return evs, nil

	case d.TokenHolderUpdate != nil:
		th := d.TokenHolderUpdate
		return []Event{TokenHolderEvent{
			base:      newBase(KindTokenHolderEvent),
			TokenID:   th.TokenID,
			EventType: th.EventType,
			Details:   cbortext.Decode(th.DetailsCBOR),
		}}, nil

	case d.TokenGovernanceUpdate != nil:
		tg := d.TokenGovernanceUpdate
		return []Event{TokenGovernanceEvent{
			base:    newBase(KindTokenGovernanceEvent),
			TokenID: tg.TokenID,
			Action:  tg.Action,
			Details: cbortext.Decode(tg.DetailsCBOR),
		}}, nil

	case d.Rejected != nil:
		return []Event{TransactionRejected{base: newBase(KindTransactionRejected), Reason: d.Rejected.Reason}}, nil

	default:
		return nil, &UnknownEventVariantError{Kind: s.Kind, Subtype: s.Subtype}
	}
}

// bakerConfiguredEvents expands a single ConfigureBaker outcome into its
// ordered sub-events — a transaction can both add a baker and set its
// initial stake, so order matters for consumers replaying history.
func bakerConfiguredEvents(c *nodeclient.BakerConfiguredDetails) []Event {
	var evs []Event
	if c.Added {
		evs = append(evs, BakerAdded{base: newBase(KindBakerAdded), BakerID: c.BakerID})
	}
	if c.StakeIncreased {
		evs = append(evs, BakerStakeIncreased{base: newBase(KindBakerStakeIncreased), BakerID: c.BakerID, NewStakeMicroCCD: c.NewStakeMicroCCD})
	}
	if c.StakeDecreased {
		evs = append(evs, BakerStakeDecreased{base: newBase(KindBakerStakeDecreased), BakerID: c.BakerID, NewStakeMicroCCD: c.NewStakeMicroCCD})
	}
	if c.Removed {
		evs = append(evs, BakerRemoved{base: newBase(KindBakerRemoved), BakerID: c.BakerID})
	}
	return evs
}

// delegationConfiguredEvents mirrors bakerConfiguredEvents for delegation
// transactions, which can add, retarget, and restake in one transaction.
func delegationConfiguredEvents(c *nodeclient.DelegationConfiguredDetails) []Event {
	var evs []Event
	if c.Added {
		evs = append(evs, DelegationAdded{base: newBase(KindDelegationAdded), DelegatorID: c.DelegatorID})
	}
	if c.SetTarget != nil {
		evs = append(evs, DelegationSetTarget{base: newBase(KindDelegationSetTarget), DelegatorID: c.DelegatorID, Target: *c.SetTarget})
	}
	if c.SetRestake != nil {
		evs = append(evs, DelegationSetRestakeEarnings{base: newBase(KindDelegationSetRestakeEarnings), DelegatorID: c.DelegatorID, RestakeEarnings: *c.SetRestake})
	}
	if c.StakeIncreased {
		evs = append(evs, DelegationStakeIncreased{base: newBase(KindDelegationStakeIncreased), DelegatorID: c.DelegatorID, NewStakeMicroCCD: c.NewStakeMicroCCD})
	}
	if c.StakeDecreased {
		evs = append(evs, DelegationStakeDecreased{base: newBase(KindDelegationStakeDecreased), DelegatorID: c.DelegatorID, NewStakeMicroCCD: c.NewStakeMicroCCD})
	}
	if c.Removed {
		evs = append(evs, DelegationRemoved{base: newBase(KindDelegationRemoved), DelegatorID: c.DelegatorID})
	}
	return evs
}
