package preparer

import (
	"math/big"
	"testing"
	"time"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccdscan/indexer/internal/caddr"
	"github.com/ccdscan/indexer/internal/nodeclient"
)

// fakeAddress returns a syntactically valid base58check account address so
// caddr.Canonicalize succeeds inside the preparer (1 version byte + 32
// payload bytes + 4 unchecked checksum bytes, matching caddr_test.go).
func fakeAddress(t *testing.T, fill byte) string {
	t.Helper()
	buf := make([]byte, 0, 1+32+4)
	buf = append(buf, 1)
	for i := 0; i < 32; i++ {
		buf = append(buf, fill)
	}
	buf = append(buf, 0, 0, 0, 0)
	return base58.Encode(buf)
}

func TestPrepareS1AccountCreationAtPositionZero(t *testing.T) {
	addr := fakeAddress(t, 0x01)
	summary := &nodeclient.BlockSummary{
		Block: nodeclient.FinalizedBlock{Height: 0, Hash: "h0", SlotTime: time.Unix(1000, 0)},
		Transactions: []nodeclient.BlockItemSummary{
			{
				Index:        0,
				Hash:         "tx0",
				Kind:         nodeclient.KindCredentialDeployment,
				CostMicroCCD: big.NewInt(42),
				Details: nodeclient.SummaryDetails{
					AccountCreation: &nodeclient.AccountCreationDetails{RegID: "reg0", Address: addr},
				},
			},
		},
	}

	pb, err := Prepare(summary)
	require.NoError(t, err)

	require.Len(t, pb.Transactions, 1)
	assert.Equal(t, nodeclient.KindCredentialDeployment, pb.Transactions[0].Kind)
	assert.Zero(t, pb.Transactions[0].CostMicroCCD.Sign())

	require.Len(t, pb.AccountCreations, 1)
	assert.Equal(t, 0, pb.AccountCreations[0].TxPosition)
	assert.Equal(t, addr, pb.AccountCreations[0].Address)
	assert.Len(t, pb.AccountCreations[0].CanonicalAddress, caddr.Length)

	require.Len(t, pb.Transactions[0].Events, 2)
	assert.Equal(t, "CredentialDeployed", string(pb.Transactions[0].Events[0].Kind()))
	assert.Equal(t, "AccountCreated", string(pb.Transactions[0].Events[1].Kind()))
}

func TestPrepareS2BakerAddedThenRemovedNetsToRemoved(t *testing.T) {
	summary := &nodeclient.BlockSummary{
		Block: nodeclient.FinalizedBlock{Height: 5},
		Transactions: []nodeclient.BlockItemSummary{
			{
				Index:   0,
				Subtype: nodeclient.SubtypeConfigureBaker,
				Details: nodeclient.SummaryDetails{
					BakerConfigured: &nodeclient.BakerConfiguredDetails{BakerID: 7, Added: true},
				},
			},
			{
				Index:   1,
				Subtype: nodeclient.SubtypeConfigureBaker,
				Details: nodeclient.SummaryDetails{
					BakerConfigured: &nodeclient.BakerConfiguredDetails{BakerID: 7, Removed: true},
				},
			},
		},
	}

	pb, err := Prepare(summary)
	require.NoError(t, err)

	require.Len(t, pb.BakerUpserts, 2)
	assert.Equal(t, 0, pb.BakerUpserts[0].TxPosition)
	assert.False(t, pb.BakerUpserts[0].Remove)
	assert.Equal(t, 1, pb.BakerUpserts[1].TxPosition)
	assert.True(t, pb.BakerUpserts[1].Remove)

	assert.EqualValues(t, 1, pb.Metrics.BakersAdded)
	assert.EqualValues(t, 1, pb.Metrics.BakersRemoved)
}

func TestPrepareIsFatalOnUnknownVariant(t *testing.T) {
	summary := &nodeclient.BlockSummary{
		Block:        nodeclient.FinalizedBlock{Height: 1},
		Transactions: []nodeclient.BlockItemSummary{{Kind: nodeclient.KindUpdate}},
	}
	_, err := Prepare(summary)
	require.Error(t, err)
}

func TestPrepareTransferLinksBothAccounts(t *testing.T) {
	summary := &nodeclient.BlockSummary{
		Block: nodeclient.FinalizedBlock{Height: 2},
		Transactions: []nodeclient.BlockItemSummary{
			{
				Subtype: nodeclient.SubtypeTransfer,
				Details: nodeclient.SummaryDetails{
					Transfer: &nodeclient.TransferDetails{From: "a", To: "b", AmountMicroCCD: big.NewInt(1)},
				},
			},
		},
	}
	pb, err := Prepare(summary)
	require.NoError(t, err)
	require.Len(t, pb.AffectedAccountLinks, 2)
	assert.Equal(t, "a", pb.AffectedAccountLinks[0].Address)
	assert.Equal(t, "b", pb.AffectedAccountLinks[1].Address)
}

func TestPrepareCountsOneTransactionMetricPerTx(t *testing.T) {
	summary := &nodeclient.BlockSummary{
		Block: nodeclient.FinalizedBlock{Height: 3},
		Transactions: []nodeclient.BlockItemSummary{
			{Details: nodeclient.SummaryDetails{Rejected: &nodeclient.RejectedDetails{Reason: "x"}}},
			{Details: nodeclient.SummaryDetails{Rejected: &nodeclient.RejectedDetails{Reason: "y"}}},
		},
	}
	pb, err := Prepare(summary)
	require.NoError(t, err)
	assert.EqualValues(t, 2, pb.Metrics.TransactionsAdded)
}
