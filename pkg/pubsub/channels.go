package pubsub

import "fmt"

// Channel naming conventions for the relay event bridge.
const (
	// ChannelRoomEvents carries every structured broadcast of a room to
	// sibling relay instances.
	ChannelRoomEvents = "relay:room:%s:events"

	// PatternRoomEvents matches the room-events channel of every room.
	PatternRoomEvents = "relay:room:*:events"
)

// RoomEventsChannel returns the bridge channel name for a room.
func RoomEventsChannel(roomID string) string {
	return fmt.Sprintf(ChannelRoomEvents, roomID)
}
