package notify

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatchDropsOldestWhenSubscriberQueueFull(t *testing.T) {
	l := NewListener(nil)
	ch := l.Subscribe("block_added")

	for i := 0; i < SubscriberQueueSize+5; i++ {
		l.dispatch(Payload{Channel: "block_added", Data: strconv.Itoa(i)})
	}

	require.Len(t, ch, SubscriberQueueSize)
	// Payloads 0..4 were the oldest and were dropped to make room.
	assert.Equal(t, "5", (<-ch).Data)
}

func TestDispatchOnlyReachesMatchingChannel(t *testing.T) {
	l := NewListener(nil)
	blocks := l.Subscribe("block_added")
	other := l.Subscribe("token_event")

	l.dispatch(Payload{Channel: "block_added", Data: "42"})

	assert.Len(t, blocks, 1)
	assert.Len(t, other, 0)
}

func TestMultipleSubscribersToSameChannelEachReceive(t *testing.T) {
	l := NewListener(nil)
	a := l.Subscribe("block_added")
	b := l.Subscribe("block_added")

	l.dispatch(Payload{Channel: "block_added", Data: "1"})

	assert.Len(t, a, 1)
	assert.Len(t, b, 1)
}
