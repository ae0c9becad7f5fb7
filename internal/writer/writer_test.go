package writer

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/mr-tron/base58"
	"github.com/pashagolub/pgxmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccdscan/indexer/internal/caddr"
	"github.com/ccdscan/indexer/internal/event"
	"github.com/ccdscan/indexer/internal/nodeclient"
	"github.com/ccdscan/indexer/internal/preparer"
)

func TestExactlyAllowsOnlyThatCount(t *testing.T) {
	rc := Exactly(3)
	assert.False(t, rc.allows(2))
	assert.True(t, rc.allows(3))
	assert.False(t, rc.allows(4))
}

func TestBetweenAllowsInclusiveRange(t *testing.T) {
	rc := Between(0, 1)
	assert.True(t, rc.allows(0))
	assert.True(t, rc.allows(1))
	assert.False(t, rc.allows(2))
}

func TestAssertionErrorMessageNamesExpectedAndGot(t *testing.T) {
	err := &AssertionError{SQL: "DELETE FROM bakers WHERE id = $1", Expected: Exactly(1), Got: 0}
	msg := err.Error()
	assert.Contains(t, msg, "exactly 1")
	assert.Contains(t, msg, "got 0")
}

func TestNullableSubtypeTreatsEmptyStringAsNull(t *testing.T) {
	assert.Nil(t, nullableSubtype(""))
	assert.Equal(t, "Transfer", nullableSubtype("Transfer"))
}

func TestRowCountStringFormatsRangeDistinctly(t *testing.T) {
	assert.Equal(t, "exactly 1", Exactly(1).String())
	assert.Equal(t, "between 0 and 2", Between(0, 2).String())
}

// TestApplyEmptyBlockCommitsInOrder drives Apply against a block with no
// transactions at all: block insert, the empty-block tx-index lookup, and
// the notify all happen inside one transaction that commits (spec.md §8
// property 1 — blocks are written in order relative to their own content;
// here that means insertBlock always runs before the notify). No metrics
// rows are written since the block contributes nothing to any counter.
func TestApplyEmptyBlockCommitsInOrder(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	pb := &preparer.PreparedBlock{
		Height:   100,
		Hash:     "blockhash100",
		SlotTime: time.Now(),
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO blocks").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), 0).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery("SELECT COALESCE\\(MAX\\(index\\), -1\\) \\+ 1 FROM transactions").
		WillReturnRows(pgxmock.NewRows([]string{"coalesce"}).AddRow(int64(0)))
	mock.ExpectExec("SELECT pg_notify").
		WithArgs("100").
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectCommit()

	err = Apply(context.Background(), mock, pb)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestApplyAccountCreationWritesAccountAndMetrics drives a single
// AccountCreation transaction (S1-style scenario: a credential deployment
// that also creates an account) end to end, asserting the account row, the
// affected-account link, and both append-only metrics counters are all
// written inside the one transaction that Apply commits.
func TestApplyAccountCreationWritesAccountAndMetrics(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	// 1 version byte + 32 payload bytes + 4 unchecked checksum bytes, so
	// caddr.Canonicalize accepts it (same layout as caddr_test.go).
	addr := base58.Encode(append(append([]byte{1}, make([]byte, 32)...), 0, 0, 0, 0))
	canon, err := caddr.Canonicalize(addr)
	require.NoError(t, err)

	pb := &preparer.PreparedBlock{
		Height:   7,
		Hash:     "blockhash7",
		SlotTime: time.Now(),
		Transactions: []preparer.PreparedTransaction{
			{
				Hash:         "txhash1",
				Kind:         nodeclient.KindCredentialDeployment,
				CostMicroCCD: big.NewInt(0),
				Events: []event.Event{
					event.CredentialDeployed{},
					event.AccountCreated{},
				},
			},
		},
		AccountCreations: []preparer.AccountCreation{
			{TxPosition: 0, Address: addr, CanonicalAddress: canon},
		},
		AffectedAccountLinks: []preparer.AffectedAccountLink{
			{TxPosition: 0, Address: addr},
		},
		Metrics: preparer.MetricsDelta{
			AccountsAdded:     1,
			TransactionsAdded: 1,
		},
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO blocks").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery("INSERT INTO transactions").
		WillReturnRows(pgxmock.NewRows([]string{"index"}).AddRow(int64(0)))
	mock.ExpectExec("INSERT INTO accounts").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO affected_accounts").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO metrics_accounts").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO metrics_transactions").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("SELECT pg_notify").
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectCommit()

	err = Apply(context.Background(), mock, pb)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestApplyRowCountMismatchRollsBack covers spec.md §8 property 6: when a
// mutating statement's affected-row count falls outside its expectation,
// Apply must return an *AssertionError and the transaction must roll back
// rather than commit, leaving no partial state.
func TestApplyRowCountMismatchRollsBack(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	pb := &preparer.PreparedBlock{
		Height:   42,
		Hash:     "blockhash42",
		SlotTime: time.Now(),
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO blocks").
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectRollback()

	err = Apply(context.Background(), mock, pb)
	require.Error(t, err)
	var assertErr *AssertionError
	require.ErrorAs(t, err, &assertErr)
	assert.Equal(t, int64(0), assertErr.Got)
	assert.Equal(t, Exactly(1), assertErr.Expected)
	assert.NoError(t, mock.ExpectationsWereMet())
}
