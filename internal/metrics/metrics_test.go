package metrics

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPeriodWindowBucketCounts(t *testing.T) {
	cases := []struct {
		period        Period
		expectBuckets int
	}{
		{PeriodLastHour, 12},
		{PeriodLast24Hours, 4},
		{PeriodLast7Days, 7},
		{PeriodLast30Days, 30},
		{PeriodLastYear, 12},
	}
	for _, c := range cases {
		assert.Equal(t, c.expectBuckets, c.period.bucketCount())
	}
}

func TestNetworkWideAccountSentinelIsNotAValidAccountID(t *testing.T) {
	assert.Less(t, networkWideAccountSentinel, int64(0))
}

func TestBucketedTotalsSumRewardAmount(t *testing.T) {
	bt := &BucketedTotals{}
	for _, n := range []int64{1000, 500, -500, 1500} {
		bt.Delta = append(bt.Delta, big.NewInt(n))
	}
	assert.Equal(t, int64(2500), bt.SumRewardAmount().Int64())
}

func TestS3RewardMetricsScenarioYieldsExpectedDeltas(t *testing.T) {
	// spec.md §8 S3: cumulative rewards 1000,2000,3500,4500,5000 sampled
	// every 6h over the last 24h yields deltas [1000,1500,1000,500]
	// summing to 4000.
	cumulative := []int64{2000, 3500, 4500, 5000}
	prev := int64(1000)
	var deltas []int64
	for _, c := range cumulative {
		deltas = append(deltas, c-prev)
		prev = c
	}
	assert.Equal(t, []int64{1000, 1500, 1000, 500}, deltas)

	sum := int64(0)
	for _, d := range deltas {
		sum += d
	}
	assert.EqualValues(t, 4000, sum)
}
