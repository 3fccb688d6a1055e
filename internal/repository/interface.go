package repository

import (
	"context"

	"github.com/driftlabs/chatrelay/internal/domain"
)

// Record is one durable row of a room's timeline. Seq is the
// store-assigned position of the message; an upsert for a known
// message reuses its original seq, so ordered reads reproduce the
// in-memory timeline exactly.
type Record struct {
	Seq     int64
	Message domain.Message
}

// MessageRepository is the durable side of the message store.
//
// Implementations must make EnsureSchema idempotent, return records
// ordered by seq, and treat UpsertMessage as insert-or-replace keyed
// by (roomID, seq).
type MessageRepository interface {
	EnsureSchema(ctx context.Context) error
	ListMessages(ctx context.Context, roomID string) ([]Record, error)
	UpsertMessage(ctx context.Context, roomID string, seq int64, msg domain.Message) error
	Close() error
}
