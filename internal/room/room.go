package room

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/driftlabs/chatrelay/internal/ai"
	"github.com/driftlabs/chatrelay/internal/domain"
	"github.com/driftlabs/chatrelay/internal/hub"
	"github.com/driftlabs/chatrelay/internal/store"
	"github.com/driftlabs/chatrelay/pkg/id"
	"github.com/driftlabs/chatrelay/pkg/log"
)

// Broadcaster is the fan-out surface a room drives. Implemented by
// hub.Hub.
type Broadcaster interface {
	Join(roomID string, p hub.Peer)
	Leave(roomID string, p hub.Peer)
	Broadcast(roomID string, payload []byte, excludeID string)
	Count(roomID string) int
}

// Publisher mirrors structured broadcasts to sibling instances. May be
// nil when the bridge is disabled.
type Publisher interface {
	PublishEvent(roomID string, ev domain.MessageEvent)
}

// Config tunes room behavior.
type Config struct {
	AssistantName   string
	Placeholder     string
	TypingIndicator string
	ErrorNotice     string
	QueueSize       int
	ReplyTimeout    time.Duration
}

type envelopeKind int

const (
	joinEnvelope envelopeKind = iota
	leaveEnvelope
	frameEnvelope
	remoteEnvelope
)

type envelope struct {
	kind   envelopeKind
	peer   hub.Peer
	sender string
	frame  []byte
	event  domain.MessageEvent
}

// Room owns one chat timeline. A single goroutine consumes the inbox
// and performs every store write and every broadcast, so joins, client
// frames, remote events and the streamed assistant reply are totally
// ordered. Events arriving while a reply streams wait in the inbox.
type Room struct {
	id        string
	log       *store.Log
	hub       Broadcaster
	completer ai.Completer
	ids       id.Generator
	pub       Publisher
	cfg       Config

	inbox      chan envelope
	stop       chan struct{}
	stopOnce   sync.Once
	done       chan struct{}
	lastActive atomic.Int64

	logger zerolog.Logger
}

// New creates a room around a loaded timeline. Call Run on its own
// goroutine to start it.
func New(roomID string, timeline *store.Log, b Broadcaster, completer ai.Completer, ids id.Generator, pub Publisher, cfg Config, logger zerolog.Logger) *Room {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	r := &Room{
		id:        roomID,
		log:       timeline,
		hub:       b,
		completer: completer,
		ids:       ids,
		pub:       pub,
		cfg:       cfg,
		inbox:     make(chan envelope, cfg.QueueSize),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
		logger:    logger.With().Str(log.FieldRoomID, roomID).Logger(),
	}
	r.touch()
	return r
}

// Run consumes the inbox until the context is cancelled or Stop is
// called.
func (r *Room) Run(ctx context.Context) {
	defer close(r.done)

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stop:
			return
		case env := <-r.inbox:
			switch env.kind {
			case joinEnvelope:
				r.handleJoin(env.peer)
			case leaveEnvelope:
				r.hub.Leave(r.id, env.peer)
			case frameEnvelope:
				r.handleFrame(ctx, env.sender, env.frame)
			case remoteEnvelope:
				r.handleRemote(ctx, env.event)
			}
			r.touch()
		}
	}
}

// Stop shuts the room down. Idempotent.
func (r *Room) Stop() {
	r.stopOnce.Do(func() {
		close(r.stop)
	})
	<-r.done
}

// Join enqueues a peer for membership. The peer receives the snapshot
// event before anything else the room broadcasts afterwards. Returns
// false when the room has already stopped; the caller must reload the
// room and retry, or the peer never gets its snapshot.
func (r *Room) Join(p hub.Peer) bool {
	return r.enqueue(envelope{kind: joinEnvelope, peer: p})
}

// Leave enqueues removal of a peer.
func (r *Room) Leave(p hub.Peer) {
	r.enqueue(envelope{kind: leaveEnvelope, peer: p})
}

// HandleFrame enqueues a raw client frame for relay and processing.
// Returns false when the room has already stopped.
func (r *Room) HandleFrame(senderID string, frame []byte) bool {
	return r.enqueue(envelope{kind: frameEnvelope, sender: senderID, frame: frame})
}

// ApplyRemote enqueues an event received from a sibling instance.
func (r *Room) ApplyRemote(ev domain.MessageEvent) {
	r.enqueue(envelope{kind: remoteEnvelope, event: ev})
}

func (r *Room) enqueue(env envelope) bool {
	select {
	case r.inbox <- env:
		return true
	case <-r.done:
		return false
	}
}

// Snapshot returns the current timeline.
func (r *Room) Snapshot() []domain.Message {
	return r.log.Snapshot()
}

// Participants returns the number of connected peers.
func (r *Room) Participants() int {
	return r.hub.Count(r.id)
}

// IdleSince reports how long the room has gone without handling an
// envelope.
func (r *Room) IdleSince() time.Duration {
	return time.Since(time.Unix(0, r.lastActive.Load()))
}

func (r *Room) touch() {
	r.lastActive.Store(time.Now().UnixNano())
}

// handleJoin registers the peer and hands it the bootstrap snapshot.
// Both happen on the room goroutine, so no broadcast can slip between
// membership and the snapshot.
func (r *Room) handleJoin(p hub.Peer) {
	r.hub.Join(r.id, p)

	payload, err := json.Marshal(domain.NewSnapshotEvent(r.log.Snapshot()))
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to marshal snapshot")
		return
	}
	if !p.Send(payload) {
		r.logger.Warn().Str(log.FieldClientID, p.ID()).Msg("snapshot dropped, peer buffer full")
	}
}

// handleFrame relays the raw bytes to the sender's peers, then applies
// the frame as a structured event if it parses. A brand-new user
// message additionally triggers the streamed assistant reply.
func (r *Room) handleFrame(ctx context.Context, senderID string, frame []byte) {
	r.hub.Broadcast(r.id, frame, senderID)

	ev, err := domain.ParseMessageEvent(frame)
	if err != nil {
		r.logger.Debug().Err(err).Str(log.FieldClientID, senderID).Msg("frame relayed without processing")
		return
	}

	isNew := !r.log.Has(ev.ID)
	r.log.Upsert(ctx, ev.Message())
	r.publish(ev)

	if isNew && ev.Type == domain.EventAdd && ev.Role == domain.RoleUser {
		r.streamReply(ctx)
	}
}

// handleRemote applies a sibling instance's event: upsert plus local
// broadcast, never re-published.
func (r *Room) handleRemote(ctx context.Context, ev domain.MessageEvent) {
	r.log.Upsert(ctx, ev.Message())

	payload, err := json.Marshal(ev)
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to marshal remote event")
		return
	}
	r.hub.Broadcast(r.id, payload, "")
}

// broadcastEvent fans a system-synthesized event out to every peer and
// mirrors it over the bridge.
func (r *Room) broadcastEvent(ev domain.MessageEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to marshal event")
		return
	}
	r.hub.Broadcast(r.id, payload, "")
	r.publish(ev)
}

func (r *Room) publish(ev domain.MessageEvent) {
	if r.pub == nil {
		return
	}
	r.pub.PublishEvent(r.id, ev)
}
