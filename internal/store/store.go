package store

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/driftlabs/chatrelay/internal/domain"
	"github.com/driftlabs/chatrelay/internal/repository"
	"github.com/driftlabs/chatrelay/pkg/log"
)

// Log is the in-memory timeline of one room, backed by a durable
// repository. Identity is the message ID: an upsert with an unknown ID
// appends, a known ID rewrites the entry in place. Every message keeps
// the seq it was assigned on first insert, so the durable rows replay
// into the same order.
//
// Mutation happens only on the owning room goroutine; the lock exists
// for concurrent snapshot reads from the REST surface.
type Log struct {
	roomID string
	repo   repository.MessageRepository
	logger zerolog.Logger

	mu      sync.RWMutex
	entries []domain.Message
	index   map[string]int   // message ID → position in entries
	seqs    map[string]int64 // message ID → durable seq
	nextSeq int64
}

// Load builds the room log from its durable rows.
func Load(ctx context.Context, roomID string, repo repository.MessageRepository, logger zerolog.Logger) (*Log, error) {
	records, err := repo.ListMessages(ctx, roomID)
	if err != nil {
		return nil, err
	}

	l := &Log{
		roomID:  roomID,
		repo:    repo,
		logger:  logger.With().Str(log.FieldRoomID, roomID).Logger(),
		index:   make(map[string]int),
		seqs:    make(map[string]int64),
		nextSeq: 1,
	}

	for _, rec := range records {
		if _, ok := l.index[rec.Message.ID]; ok {
			// Duplicate IDs cannot be produced by this process; tolerate
			// rows written by hand and keep the first occurrence.
			continue
		}
		l.index[rec.Message.ID] = len(l.entries)
		l.entries = append(l.entries, rec.Message)
		l.seqs[rec.Message.ID] = rec.Seq
		if rec.Seq >= l.nextSeq {
			l.nextSeq = rec.Seq + 1
		}
	}

	return l, nil
}

// Upsert inserts the message if its ID is unknown, otherwise rewrites
// the existing entry without moving it. The write goes through to the
// repository; a durable failure is logged and the in-memory timeline
// stays authoritative.
func (l *Log) Upsert(ctx context.Context, msg domain.Message) {
	l.mu.Lock()
	pos, known := l.index[msg.ID]
	if known {
		l.entries[pos] = msg
	} else {
		l.index[msg.ID] = len(l.entries)
		l.entries = append(l.entries, msg)
		l.seqs[msg.ID] = l.nextSeq
		l.nextSeq++
	}
	seq := l.seqs[msg.ID]
	l.mu.Unlock()

	if err := l.repo.UpsertMessage(ctx, l.roomID, seq, msg); err != nil {
		l.logger.Warn().Err(err).
			Str(log.FieldMessageID, msg.ID).
			Msg("durable write failed, timeline kept in memory")
	}
}

// Has reports whether a message ID is already in the timeline.
func (l *Log) Has(id string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.index[id]
	return ok
}

// Get returns the message with the given ID.
func (l *Log) Get(id string) (domain.Message, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	pos, ok := l.index[id]
	if !ok {
		return domain.Message{}, false
	}
	return l.entries[pos], true
}

// Snapshot returns a copy of the full timeline in order.
func (l *Log) Snapshot() []domain.Message {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]domain.Message, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len returns the number of messages in the timeline.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}
