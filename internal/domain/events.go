package domain

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Wire event types.
const (
	EventAdd    = "add"
	EventUpdate = "update"
	EventAll    = "all"
)

// ErrMalformedEvent marks inbound frames that cannot be processed as
// structured events. Such frames are still relayed raw to peers.
var ErrMalformedEvent = errors.New("malformed event")

// MessageEvent is the wire shape of "add" and "update" events.
type MessageEvent struct {
	Type    string `json:"type"`
	ID      string `json:"id"`
	Author  string `json:"author"`
	Role    string `json:"role"`
	Content string `json:"content"`
}

// NewMessageEvent wraps a message into an outbound event.
func NewMessageEvent(eventType string, m Message) MessageEvent {
	return MessageEvent{
		Type:    eventType,
		ID:      m.ID,
		Author:  m.Author,
		Role:    m.Role,
		Content: m.Content,
	}
}

// Message extracts the message carried by the event.
func (e MessageEvent) Message() Message {
	return Message{
		ID:      e.ID,
		Author:  e.Author,
		Role:    e.Role,
		Content: e.Content,
	}
}

// ParseMessageEvent decodes an inbound frame into a message event.
// Frames with an unknown type or a missing id are malformed.
func ParseMessageEvent(raw []byte) (MessageEvent, error) {
	var e MessageEvent
	if err := json.Unmarshal(raw, &e); err != nil {
		return MessageEvent{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if e.Type != EventAdd && e.Type != EventUpdate {
		return MessageEvent{}, fmt.Errorf("%w: unknown type %q", ErrMalformedEvent, e.Type)
	}
	if e.ID == "" {
		return MessageEvent{}, fmt.Errorf("%w: missing id", ErrMalformedEvent)
	}
	return e, nil
}

// SnapshotEvent is the {type:"all"} bootstrap event sent once per new
// connection, before any other event reaches it.
type SnapshotEvent struct {
	Type     string    `json:"type"`
	Messages []Message `json:"messages"`
}

// NewSnapshotEvent builds a snapshot event. The message list always
// marshals as a JSON array, never null.
func NewSnapshotEvent(messages []Message) SnapshotEvent {
	if messages == nil {
		messages = []Message{}
	}
	return SnapshotEvent{Type: EventAll, Messages: messages}
}

// APIResponse is the envelope for REST responses.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}
