package indexer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewDriverStartHeightZeroMeansNoCommits(t *testing.T) {
	d := NewDriver(nil, nil, 0)
	_, has := d.LastCommittedHeight()
	assert.False(t, has)
	assert.EqualValues(t, 0, d.nextHeight())
}

func TestNewDriverResumesAtStartHeight(t *testing.T) {
	d := NewDriver(nil, nil, 101)
	h, has := d.LastCommittedHeight()
	assert.True(t, has)
	assert.EqualValues(t, 100, h)
	assert.EqualValues(t, 101, d.nextHeight())
}

func TestBackoffDelayNeverExceedsMax(t *testing.T) {
	d := &Driver{Backoff: BackoffConfig{Initial: 10 * time.Millisecond, Max: 100 * time.Millisecond}}
	for attempt := 1; attempt <= 20; attempt++ {
		delay := d.backoffDelay(attempt)
		assert.LessOrEqual(t, delay, d.Backoff.Max)
		assert.GreaterOrEqual(t, delay, time.Duration(0))
	}
}

func TestBackoffDelayGrowsWithAttempts(t *testing.T) {
	d := &Driver{Backoff: BackoffConfig{Initial: 10 * time.Millisecond, Max: 10 * time.Second}}
	// Can't assert exact growth under jitter, but attempt 1 is capped at
	// Initial while attempt 4's ceiling is 8x Initial, so among many draws
	// at least one attempt-4 delay must exceed Initial.
	for i := 0; i < 100; i++ {
		assert.LessOrEqual(t, d.backoffDelay(1), d.Backoff.Initial)
	}
	grew := false
	for i := 0; i < 100 && !grew; i++ {
		grew = d.backoffDelay(4) > d.Backoff.Initial
	}
	assert.True(t, grew)
}
