package kafkamirror

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultSaramaConfigReturnsSuccesses(t *testing.T) {
	cfg := DefaultSaramaConfig()
	assert.True(t, cfg.Producer.Return.Successes)
}

func TestDefaultPartitionsAndReplicasMatchTeacherDefaults(t *testing.T) {
	assert.Equal(t, 1, DefaultPartitions)
	assert.Equal(t, 1, DefaultReplicas)
}
