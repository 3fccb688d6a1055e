package room

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftlabs/chatrelay/internal/ai"
	"github.com/driftlabs/chatrelay/internal/domain"
	"github.com/driftlabs/chatrelay/internal/hub"
	"github.com/driftlabs/chatrelay/internal/repository"
	"github.com/driftlabs/chatrelay/internal/store"
	"github.com/driftlabs/chatrelay/pkg/id"
)

const testRoomID = "room-1"

// memRepo is an in-memory MessageRepository for tests.
type memRepo struct {
	mu   sync.Mutex
	rows map[int64]repository.Record
}

func newMemRepo() *memRepo {
	return &memRepo{rows: make(map[int64]repository.Record)}
}

func (m *memRepo) EnsureSchema(ctx context.Context) error { return nil }

func (m *memRepo) ListMessages(ctx context.Context, roomID string) ([]repository.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var records []repository.Record
	for _, rec := range m.rows {
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Seq < records[j].Seq })
	return records, nil
}

func (m *memRepo) UpsertMessage(ctx context.Context, roomID string, seq int64, msg domain.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[seq] = repository.Record{Seq: seq, Message: msg}
	return nil
}

func (m *memRepo) Close() error { return nil }

// fakePeer records everything it is sent.
type fakePeer struct {
	id       string
	mu       sync.Mutex
	payloads [][]byte
}

func newFakePeer(id string) *fakePeer { return &fakePeer{id: id} }

func (p *fakePeer) ID() string { return p.id }

func (p *fakePeer) Send(payload []byte) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	buf := make([]byte, len(payload))
	copy(buf, payload)
	p.payloads = append(p.payloads, buf)
	return true
}

func (p *fakePeer) received() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]byte, len(p.payloads))
	copy(out, p.payloads)
	return out
}

func (p *fakePeer) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.payloads)
}

// fakeBroadcaster delivers broadcasts to registered fake peers.
type fakeBroadcaster struct {
	mu    sync.Mutex
	peers map[string]hub.Peer
}

func newFakeBroadcaster() *fakeBroadcaster {
	return &fakeBroadcaster{peers: make(map[string]hub.Peer)}
}

func (b *fakeBroadcaster) Join(roomID string, p hub.Peer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.peers[p.ID()] = p
}

func (b *fakeBroadcaster) Leave(roomID string, p hub.Peer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.peers, p.ID())
}

func (b *fakeBroadcaster) Broadcast(roomID string, payload []byte, excludeID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for pid, p := range b.peers {
		if pid == excludeID {
			continue
		}
		p.Send(payload)
	}
}

func (b *fakeBroadcaster) Count(roomID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.peers)
}

// scriptedCompleter replays fragments and ends with Done or an error.
type scriptedCompleter struct {
	fragments []string
	err       error
	calls     atomic.Int32
}

func (s *scriptedCompleter) StreamCompletion(ctx context.Context, history []ai.Turn) (<-chan ai.TokenEvent, error) {
	s.calls.Add(1)
	ch := make(chan ai.TokenEvent, len(s.fragments)+1)
	for _, f := range s.fragments {
		ch <- ai.TokenEvent{Fragment: f}
	}
	if s.err != nil {
		ch <- ai.TokenEvent{Err: s.err}
	} else {
		ch <- ai.TokenEvent{Done: true}
	}
	close(ch)
	return ch, nil
}

// recordingPublisher captures bridge publications.
type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.MessageEvent
}

func (r *recordingPublisher) PublishEvent(roomID string, ev domain.MessageEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingPublisher) published() []domain.MessageEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.MessageEvent, len(r.events))
	copy(out, r.events)
	return out
}

func newTestRoom(t *testing.T, completer ai.Completer, pub Publisher) (*Room, *fakeBroadcaster, *memRepo) {
	t.Helper()

	repo := newMemRepo()
	timeline, err := store.Load(context.Background(), testRoomID, repo, zerolog.Nop())
	require.NoError(t, err)

	gen, err := id.New(id.StrategyUUID)
	require.NoError(t, err)

	b := newFakeBroadcaster()
	cfg := Config{
		AssistantName:   "assistant",
		Placeholder:     "...",
		TypingIndicator: "|",
		ErrorNotice:     "[unavailable]",
		QueueSize:       64,
		ReplyTimeout:    5 * time.Second,
	}
	r := New(testRoomID, timeline, b, completer, gen, pub, cfg, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	go r.Run(ctx)
	t.Cleanup(func() {
		cancel()
		r.Stop()
	})

	return r, b, repo
}

func addFrame(t *testing.T, id, author, role, content string) []byte {
	t.Helper()
	raw, err := json.Marshal(domain.MessageEvent{
		Type: domain.EventAdd, ID: id, Author: author, Role: role, Content: content,
	})
	require.NoError(t, err)
	return raw
}

func decodeTypes(t *testing.T, payloads [][]byte) []string {
	t.Helper()
	types := make([]string, 0, len(payloads))
	for _, p := range payloads {
		var base struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(p, &base); err != nil {
			types = append(types, "raw")
			continue
		}
		if base.Type == "" {
			types = append(types, "raw")
			continue
		}
		types = append(types, base.Type)
	}
	return types
}

func waitForReply(t *testing.T, r *Room, wantLen int) []domain.Message {
	t.Helper()
	require.Eventually(t, func() bool {
		snap := r.Snapshot()
		if len(snap) != wantLen {
			return false
		}
		// Only the placeholder and the terminal content ever reach the
		// store; finalized means the placeholder is gone.
		last := snap[len(snap)-1]
		return last.Role != domain.RoleAssistant || last.Content != "..."
	}, 2*time.Second, 5*time.Millisecond)
	return r.Snapshot()
}

func TestNewUserMessageStreamsReply(t *testing.T) {
	completer := &scriptedCompleter{fragments: []string{"Hel", "lo"}}
	r, _, _ := newTestRoom(t, completer, nil)

	sender := newFakePeer("p1")
	watcher := newFakePeer("p2")
	r.Join(sender)
	r.Join(watcher)

	r.HandleFrame(sender.ID(), addFrame(t, "m1", "alice", domain.RoleUser, "hi"))

	// snapshot, raw frame, placeholder add, 2 partials, terminal update
	require.Eventually(t, func() bool { return watcher.count() == 6 }, 2*time.Second, 5*time.Millisecond)

	payloads := watcher.received()
	assert.Equal(t, []string{"all", "add", "add", "update", "update", "update"}, decodeTypes(t, payloads))

	var partial1, partial2, final domain.MessageEvent
	require.NoError(t, json.Unmarshal(payloads[3], &partial1))
	require.NoError(t, json.Unmarshal(payloads[4], &partial2))
	require.NoError(t, json.Unmarshal(payloads[5], &final))

	// Tokens appear in order, cumulative, with the wire-only indicator.
	assert.Equal(t, "Hel|", partial1.Content)
	assert.Equal(t, "Hello|", partial2.Content)
	assert.Equal(t, "Hello", final.Content)
	assert.Equal(t, domain.RoleAssistant, final.Role)
	assert.Equal(t, "assistant", final.Author)
	assert.Equal(t, partial1.ID, final.ID)

	// The sender never gets its own raw frame back.
	senderTypes := decodeTypes(t, sender.received())
	assert.Equal(t, []string{"all", "add", "update", "update", "update"}, senderTypes)

	// Timeline: user message then finalized reply, no indicator persisted.
	snap := waitForReply(t, r, 2)
	assert.Equal(t, "m1", snap[0].ID)
	assert.Equal(t, "Hello", snap[1].Content)
	assert.Equal(t, domain.RoleAssistant, snap[1].Role)
}

func TestJoinDeliversSnapshotBeforeAnythingElse(t *testing.T) {
	completer := &scriptedCompleter{fragments: []string{"ok"}}
	r, _, _ := newTestRoom(t, completer, nil)

	first := newFakePeer("p1")
	r.Join(first)
	r.HandleFrame(first.ID(), addFrame(t, "m1", "alice", domain.RoleUser, "hi"))
	waitForReply(t, r, 2)

	late := newFakePeer("p2")
	r.Join(late)

	require.Eventually(t, func() bool { return late.count() >= 1 }, 2*time.Second, 5*time.Millisecond)

	var snap domain.SnapshotEvent
	require.NoError(t, json.Unmarshal(late.received()[0], &snap))
	assert.Equal(t, domain.EventAll, snap.Type)
	require.Len(t, snap.Messages, 2)
	assert.Equal(t, "m1", snap.Messages[0].ID)
	assert.Equal(t, "ok", snap.Messages[1].Content)
}

func TestEmptyRoomSnapshotIsEmptyArray(t *testing.T) {
	r, _, _ := newTestRoom(t, &scriptedCompleter{}, nil)

	p := newFakePeer("p1")
	r.Join(p)

	require.Eventually(t, func() bool { return p.count() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.JSONEq(t, `{"type":"all","messages":[]}`, string(p.received()[0]))
}

func TestMalformedFrameRelayedRawOnly(t *testing.T) {
	completer := &scriptedCompleter{fragments: []string{"ok"}}
	r, _, _ := newTestRoom(t, completer, nil)

	sender := newFakePeer("p1")
	watcher := newFakePeer("p2")
	r.Join(sender)
	r.Join(watcher)

	raw := []byte("this is not json")
	r.HandleFrame(sender.ID(), raw)

	require.Eventually(t, func() bool { return watcher.count() == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, raw, watcher.received()[1])

	// Nothing structured happened: no store write, no reply.
	assert.Equal(t, 0, len(r.Snapshot()))
	assert.Equal(t, int32(0), completer.calls.Load())
	assert.Equal(t, 1, sender.count()) // snapshot only
}

func TestDuplicateAddTriggersSingleReply(t *testing.T) {
	completer := &scriptedCompleter{fragments: []string{"once"}}
	r, _, _ := newTestRoom(t, completer, nil)

	sender := newFakePeer("p1")
	r.Join(sender)

	frame := addFrame(t, "m1", "alice", domain.RoleUser, "hi")
	r.HandleFrame(sender.ID(), frame)
	r.HandleFrame(sender.ID(), frame)

	snap := waitForReply(t, r, 2)
	assert.Equal(t, "m1", snap[0].ID)
	assert.Equal(t, "once", snap[1].Content)
	assert.Equal(t, int32(1), completer.calls.Load())
}

func TestUpdateForUnknownIDAppendsWithoutReply(t *testing.T) {
	completer := &scriptedCompleter{fragments: []string{"never"}}
	r, _, _ := newTestRoom(t, completer, nil)

	sender := newFakePeer("p1")
	r.Join(sender)

	raw, err := json.Marshal(domain.MessageEvent{
		Type: domain.EventUpdate, ID: "ghost", Author: "alice", Role: domain.RoleUser, Content: "late edit",
	})
	require.NoError(t, err)
	r.HandleFrame(sender.ID(), raw)

	require.Eventually(t, func() bool { return len(r.Snapshot()) == 1 }, 2*time.Second, 5*time.Millisecond)
	snap := r.Snapshot()
	assert.Equal(t, "ghost", snap[0].ID)
	assert.Equal(t, "late edit", snap[0].Content)
	assert.Equal(t, int32(0), completer.calls.Load())
}

func TestStreamErrorFallsBackToNotice(t *testing.T) {
	completer := &scriptedCompleter{err: errors.New("backend down")}
	r, _, _ := newTestRoom(t, completer, nil)

	sender := newFakePeer("p1")
	r.Join(sender)
	r.HandleFrame(sender.ID(), addFrame(t, "m1", "alice", domain.RoleUser, "hi"))

	snap := waitForReply(t, r, 2)
	assert.Equal(t, "[unavailable]", snap[1].Content)
	assert.Equal(t, domain.RoleAssistant, snap[1].Role)
}

func TestStreamErrorKeepsBufferedTokens(t *testing.T) {
	completer := &scriptedCompleter{fragments: []string{"par", "tial"}, err: errors.New("cut off")}
	r, _, _ := newTestRoom(t, completer, nil)

	sender := newFakePeer("p1")
	r.Join(sender)
	r.HandleFrame(sender.ID(), addFrame(t, "m1", "alice", domain.RoleUser, "hi"))

	snap := waitForReply(t, r, 2)
	assert.Equal(t, "partial", snap[1].Content)
}

func TestEventsQueuedDuringStreamApplyAfterFinalize(t *testing.T) {
	completer := &scriptedCompleter{fragments: []string{"answer"}}
	r, _, _ := newTestRoom(t, completer, nil)

	sender := newFakePeer("p1")
	r.Join(sender)

	r.HandleFrame(sender.ID(), addFrame(t, "m1", "alice", domain.RoleUser, "hi"))
	edit, err := json.Marshal(domain.MessageEvent{
		Type: domain.EventUpdate, ID: "m1", Author: "alice", Role: domain.RoleUser, Content: "hi (edited)",
	})
	require.NoError(t, err)
	r.HandleFrame(sender.ID(), edit)

	require.Eventually(t, func() bool {
		snap := r.Snapshot()
		return len(snap) == 2 && snap[0].Content == "hi (edited)"
	}, 2*time.Second, 5*time.Millisecond)

	// The edit kept its position before the reply.
	snap := r.Snapshot()
	assert.Equal(t, "m1", snap[0].ID)
	assert.Equal(t, "answer", snap[1].Content)
	assert.Equal(t, int32(1), completer.calls.Load())
}

func TestRemoteEventsApplyWithoutRepublish(t *testing.T) {
	pub := &recordingPublisher{}
	r, _, _ := newTestRoom(t, &scriptedCompleter{fragments: []string{"ok"}}, pub)

	watcher := newFakePeer("p1")
	r.Join(watcher)

	r.ApplyRemote(domain.MessageEvent{
		Type: domain.EventAdd, ID: "remote-1", Author: "bob", Role: domain.RoleUser, Content: "from afar",
	})

	require.Eventually(t, func() bool { return len(r.Snapshot()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "from afar", r.Snapshot()[0].Content)

	// The remote event reached local peers but never bounced back out.
	require.Eventually(t, func() bool { return watcher.count() == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Empty(t, pub.published())
}

func TestStoppedRoomRejectsJoin(t *testing.T) {
	r, _, _ := newTestRoom(t, &scriptedCompleter{}, nil)
	r.Stop()

	p := newFakePeer("p1")
	assert.False(t, r.Join(p), "join against a stopped room must report failure")
	assert.Equal(t, 0, p.count())

	assert.False(t, r.HandleFrame(p.ID(), addFrame(t, "m1", "alice", domain.RoleUser, "hi")))
}

func TestLocalEventsArePublished(t *testing.T) {
	pub := &recordingPublisher{}
	r, _, _ := newTestRoom(t, &scriptedCompleter{fragments: []string{"Hello"}}, pub)

	sender := newFakePeer("p1")
	r.Join(sender)
	r.HandleFrame(sender.ID(), addFrame(t, "m1", "alice", domain.RoleUser, "hi"))

	waitForReply(t, r, 2)

	// user add + placeholder add + terminal update; partials stay local.
	require.Eventually(t, func() bool { return len(pub.published()) == 3 }, 2*time.Second, 5*time.Millisecond)
	events := pub.published()
	assert.Equal(t, domain.EventAdd, events[0].Type)
	assert.Equal(t, "m1", events[0].ID)
	assert.Equal(t, domain.EventAdd, events[1].Type)
	assert.Equal(t, "...", events[1].Content)
	assert.Equal(t, domain.EventUpdate, events[2].Type)
	assert.Equal(t, "Hello", events[2].Content)
}
