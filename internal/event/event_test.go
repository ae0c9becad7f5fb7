package event

import (
	"encoding/json"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccdscan/indexer/internal/nodeclient"
)

func TestEventsFromSummaryAccountCreationOrdersCredentialThenAccount(t *testing.T) {
	s := &nodeclient.BlockItemSummary{
		Kind: nodeclient.KindCredentialDeployment,
		Details: nodeclient.SummaryDetails{
			AccountCreation: &nodeclient.AccountCreationDetails{RegID: "reg1", Address: "addr1"},
		},
	}
	evs, err := EventsFromSummary(s, time.Now())
	require.NoError(t, err)
	require.Len(t, evs, 2)
	assert.Equal(t, KindCredentialDeployed, evs[0].Kind())
	assert.Equal(t, KindAccountCreated, evs[1].Kind())
	assert.Equal(t, "addr1", evs[1].(AccountCreated).Address)
}

func TestEventsFromSummaryBakerConfiguredOrdersAddBeforeRemove(t *testing.T) {
	s := &nodeclient.BlockItemSummary{
		Kind: nodeclient.KindAccountTransaction,
		Subtype: nodeclient.SubtypeConfigureBaker,
		Details: nodeclient.SummaryDetails{
			BakerConfigured: &nodeclient.BakerConfiguredDetails{
				BakerID: 7,
				Added:   true,
				Removed: true,
			},
		},
	}
	evs, err := EventsFromSummary(s, time.Now())
	require.NoError(t, err)
	require.Len(t, evs, 2)
	assert.Equal(t, KindBakerAdded, evs[0].Kind())
	assert.Equal(t, KindBakerRemoved, evs[1].Kind())
	assert.Equal(t, nodeclient.BakerID(7), evs[0].(BakerAdded).BakerID)
}

func TestEventsFromSummaryDelegationConfiguredFullSequence(t *testing.T) {
	target := nodeclient.DelegationTarget{Passive: true}
	restake := true
	s := &nodeclient.BlockItemSummary{
		Details: nodeclient.SummaryDetails{
			DelegationConfigured: &nodeclient.DelegationConfiguredDetails{
				DelegatorID:      42,
				Added:            true,
				SetTarget:        &target,
				SetRestake:       &restake,
				NewStakeMicroCCD: big.NewInt(1000),
				StakeIncreased:   true,
			},
		},
	}
	evs, err := EventsFromSummary(s, time.Now())
	require.NoError(t, err)
	require.Len(t, evs, 4)
	kinds := []Kind{evs[0].Kind(), evs[1].Kind(), evs[2].Kind(), evs[3].Kind()}
	assert.Equal(t, []Kind{
		KindDelegationAdded,
		KindDelegationSetTarget,
		KindDelegationSetRestakeEarnings,
		KindDelegationStakeIncreased,
	}, kinds)
}

func TestEventsFromSummaryTransferCarriesMemo(t *testing.T) {
	s := &nodeclient.BlockItemSummary{
		Details: nodeclient.SummaryDetails{
			Transfer: &nodeclient.TransferDetails{
				From: "a", To: "b", AmountMicroCCD: big.NewInt(500), Memo: []byte("hi"),
			},
		},
	}
	evs, err := EventsFromSummary(s, time.Now())
	require.NoError(t, err)
	require.Len(t, evs, 1)
	tr := evs[0].(Transferred)
	assert.Equal(t, "a", tr.From)
	assert.Equal(t, []byte("hi"), tr.Memo)
}

func TestEventsFromSummaryTokenCreationIncludesGovernanceEvents(t *testing.T) {
	s := &nodeclient.BlockItemSummary{
		Details: nodeclient.SummaryDetails{
			TokenCreation: &nodeclient.TokenCreationDetails{
				TokenID:        "tok1",
				RawTotalSupply: "1000000000000000000000",
				GovernanceEvents: []nodeclient.TokenGovernanceUpdateDetails{
					{TokenID: "tok1", Action: "mint", DetailsCBOR: []byte{0x60}},
				},
			},
		},
	}
	evs, err := EventsFromSummary(s, time.Now())
	require.NoError(t, err)
	require.Len(t, evs, 2)
	assert.Equal(t, KindTokenCreated, evs[0].Kind())
	assert.Equal(t, KindTokenGovernanceEvent, evs[1].Kind())
	assert.Equal(t, "", evs[1].(TokenGovernanceEvent).Details.Text)
}

func TestEventsFromSummaryUnknownVariantIsError(t *testing.T) {
	s := &nodeclient.BlockItemSummary{Kind: nodeclient.KindUpdate}
	evs, err := EventsFromSummary(s, time.Now())
	require.Error(t, err)
	assert.Nil(t, evs)
	var uv *UnknownEventVariantError
	require.True(t, errors.As(err, &uv))
}

func TestEventsFromSummaryRejectedYieldsNoSuccessEvents(t *testing.T) {
	s := &nodeclient.BlockItemSummary{
		Details: nodeclient.SummaryDetails{Rejected: &nodeclient.RejectedDetails{Reason: "InvalidSignature"}},
	}
	evs, err := EventsFromSummary(s, time.Now())
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, KindTransactionRejected, evs[0].Kind())
}

func TestEventJSONCarriesKindDiscriminator(t *testing.T) {
	evs, err := EventsFromSummary(&nodeclient.BlockItemSummary{
		Kind: nodeclient.KindCredentialDeployment,
		Details: nodeclient.SummaryDetails{
			AccountCreation: &nodeclient.AccountCreationDetails{RegID: "reg1", Address: "addr1"},
		},
	}, time.Now())
	require.NoError(t, err)

	b, err := json.Marshal(evs)
	require.NoError(t, err)

	var decoded []map[string]interface{}
	require.NoError(t, json.Unmarshal(b, &decoded))
	require.Len(t, decoded, 2)
	assert.Equal(t, "CredentialDeployed", decoded[0]["kind"])
	assert.Equal(t, "reg1", decoded[0]["reg_id"])
	assert.Equal(t, "addr1", decoded[0]["address"])
	assert.Equal(t, "AccountCreated", decoded[1]["kind"])
	assert.Equal(t, "addr1", decoded[1]["address"])
}
