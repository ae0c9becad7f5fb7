package migrate

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccdscan/indexer/internal/ccderr"
)

func TestOrderedVersionsStrictlyIncreasing(t *testing.T) {
	require.NotEmpty(t, Ordered)
	for i := 1; i < len(Ordered); i++ {
		assert.Greater(t, Ordered[i].Version, Ordered[i-1].Version,
			"migration %q did not strictly increase schema version over %q", Ordered[i].Name, Ordered[i-1].Name)
	}
}

func TestOrderedVersionsAreUnique(t *testing.T) {
	seen := make(map[SchemaVersion]string)
	for _, m := range Ordered {
		if other, ok := seen[m.Version]; ok {
			t.Fatalf("version %d used by both %q and %q", m.Version, other, m.Name)
		}
		seen[m.Version] = m.Name
	}
}

func TestBakerMetricsSupersededVersionPrecedesCanonical(t *testing.T) {
	assert.Less(t, SchemaVersionBakerMetricsSuperseded, SchemaVersionBakerMetrics)
}

func TestRequireNodeFailsCleanlyWithoutEndpoint(t *testing.T) {
	_, err := requireNode(nil, "some_migration")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ccderr.ErrConfiguration))
}
