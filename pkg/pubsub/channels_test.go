package pubsub

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoomEventsChannel(t *testing.T) {
	assert.Equal(t, "relay:room:ROOM123:events", RoomEventsChannel("ROOM123"))
}

func TestChannelToTopicAndKey(t *testing.T) {
	topic, key, err := channelToTopicAndKey("relay:room:ROOM123:events")
	require.NoError(t, err)
	assert.Equal(t, "relay-events", topic)
	assert.Equal(t, "ROOM123", key)

	_, _, err = channelToTopicAndKey("nope")
	require.Error(t, err)

	_, _, err = channelToTopicAndKey("relay:user:ROOM123:events")
	require.Error(t, err)
}

func TestPatternToTopic(t *testing.T) {
	topic, err := patternToTopic(PatternRoomEvents)
	require.NoError(t, err)
	assert.Equal(t, "relay-events", topic)
}

func TestEventPayloadRoundTrip(t *testing.T) {
	type payload struct {
		Content string `json:"content"`
	}

	ev, err := NewEvent("update", "room-1", "instance-a", payload{Content: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "instance-a", ev.Origin)

	var got payload
	require.NoError(t, ev.UnmarshalPayload(&got))
	assert.Equal(t, "hello", got.Content)
}
