package hub

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/driftlabs/chatrelay/pkg/log"
)

// Peer is one websocket participant as the fan-out sees it.
type Peer interface {
	ID() string
	// Send queues a payload for delivery. Returns false when the
	// peer's buffer is full.
	Send(payload []byte) bool
}

// Hub tracks which peers are in which room and fans payloads out to
// them. It does no parsing and keeps no message state; rooms decide
// what gets broadcast and in which order.
type Hub struct {
	mu     sync.RWMutex
	rooms  map[string]map[string]Peer
	logger zerolog.Logger
}

// NewHub creates an empty hub.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		rooms:  make(map[string]map[string]Peer),
		logger: logger,
	}
}

// Join adds a peer to a room.
func (h *Hub) Join(roomID string, p Peer) {
	h.mu.Lock()
	defer h.mu.Unlock()

	peers, ok := h.rooms[roomID]
	if !ok {
		peers = make(map[string]Peer)
		h.rooms[roomID] = peers
	}
	peers[p.ID()] = p

	h.logger.Debug().
		Str(log.FieldRoomID, roomID).
		Str(log.FieldClientID, p.ID()).
		Int("participants", len(peers)).
		Msg("peer joined")
}

// Leave removes a peer from a room.
func (h *Hub) Leave(roomID string, p Peer) {
	h.mu.Lock()
	defer h.mu.Unlock()

	peers, ok := h.rooms[roomID]
	if !ok {
		return
	}
	delete(peers, p.ID())
	if len(peers) == 0 {
		delete(h.rooms, roomID)
	}

	h.logger.Debug().
		Str(log.FieldRoomID, roomID).
		Str(log.FieldClientID, p.ID()).
		Msg("peer left")
}

// Broadcast delivers a payload to every peer in the room except the
// one with excludeID (pass "" to reach everyone).
func (h *Hub) Broadcast(roomID string, payload []byte, excludeID string) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for id, p := range h.rooms[roomID] {
		if id == excludeID {
			continue
		}
		if !p.Send(payload) {
			h.logger.Warn().
				Str(log.FieldRoomID, roomID).
				Str(log.FieldClientID, id).
				Msg("peer send buffer full, dropping payload")
		}
	}
}

// Count returns the number of peers in a room.
func (h *Hub) Count(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}
