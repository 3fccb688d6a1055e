package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMessageEvent(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr bool
		want    MessageEvent
	}{
		{
			name: "valid add",
			raw:  `{"type":"add","id":"m1","author":"alice","role":"user","content":"hi"}`,
			want: MessageEvent{Type: EventAdd, ID: "m1", Author: "alice", Role: RoleUser, Content: "hi"},
		},
		{
			name: "valid update",
			raw:  `{"type":"update","id":"m1","author":"alice","role":"user","content":"edited"}`,
			want: MessageEvent{Type: EventUpdate, ID: "m1", Author: "alice", Role: RoleUser, Content: "edited"},
		},
		{
			name:    "unknown type",
			raw:     `{"type":"typing","id":"m1"}`,
			wantErr: true,
		},
		{
			name:    "missing id",
			raw:     `{"type":"add","author":"alice","content":"hi"}`,
			wantErr: true,
		},
		{
			name:    "not json",
			raw:     `hello there`,
			wantErr: true,
		},
		{
			name:    "snapshot type is not a client event",
			raw:     `{"type":"all","id":"m1"}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseMessageEvent([]byte(tt.raw))
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrMalformedEvent)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSnapshotEventMarshalsEmptyArray(t *testing.T) {
	data, err := json.Marshal(NewSnapshotEvent(nil))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"all","messages":[]}`, string(data))
}

func TestMessageEventRoundTrip(t *testing.T) {
	msg := Message{ID: "m1", Author: "bob", Role: RoleAssistant, Content: "hello"}
	ev := NewMessageEvent(EventUpdate, msg)

	assert.Equal(t, EventUpdate, ev.Type)
	assert.Equal(t, msg, ev.Message())
}
