package store

import (
	"context"
	"errors"
	"testing"

	"github.com/pashagolub/pgxmock"
	"github.com/stretchr/testify/require"

	"github.com/ccdscan/indexer/internal/ccderr"
)

func TestLockKeyIsDeterministic(t *testing.T) {
	a := lockKey(indexerLockName)
	b := lockKey(indexerLockName)
	if a != b {
		t.Fatalf("lockKey not deterministic: %d != %d", a, b)
	}
}

func TestLockKeyDiffersByName(t *testing.T) {
	if lockKey("ccdscan-indexing") == lockKey("something-else") {
		t.Fatal("expected distinct lock names to hash to distinct keys")
	}
}

// TestAcquireIndexerLockExclusivity covers spec.md §8 property 3: a second
// indexer contending for the same advisory lock must fail fast with
// ccderr.ErrAssertion, never silently proceed, while the first holder's
// acquisition succeeds. dialLockConn is swapped for two scripted pgxmock
// connections standing in for two indexer processes dialing the same
// database.
func TestAcquireIndexerLockExclusivity(t *testing.T) {
	winner, err := pgxmock.NewConn()
	require.NoError(t, err)
	winner.ExpectQuery("SELECT pg_try_advisory_lock").
		WillReturnRows(pgxmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(true))

	loser, err := pgxmock.NewConn()
	require.NoError(t, err)
	loser.ExpectQuery("SELECT pg_try_advisory_lock").
		WillReturnRows(pgxmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(false))
	loser.ExpectClose()

	conns := []lockConnIface{winner, loser}
	originalDial := dialLockConn
	defer func() { dialLockConn = originalDial }()
	dialLockConn = func(ctx context.Context, dsn string) (lockConnIface, error) {
		conn := conns[0]
		conns = conns[1:]
		return conn, nil
	}

	first := &Store{}
	require.NoError(t, first.AcquireIndexerLock(context.Background(), "dsn"))
	require.NoError(t, winner.ExpectationsWereMet())

	second := &Store{}
	err = second.AcquireIndexerLock(context.Background(), "dsn")
	require.Error(t, err)
	require.True(t, errors.Is(err, ccderr.ErrAssertion))
	require.NoError(t, loser.ExpectationsWereMet())
}
