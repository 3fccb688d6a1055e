package ai

import "context"

// Turn is one prior message handed to the completion backend.
type Turn struct {
	Role    string
	Content string
}

// TokenEvent is one element of a completion stream. Exactly one
// terminal event (Done or Err set) ends every stream.
type TokenEvent struct {
	Fragment string
	Done     bool
	Err      error
}

// Completer streams an assistant reply for the given conversation
// history. The returned channel is closed after the terminal event.
// Cancelling ctx aborts the stream; the terminal event then carries
// the context error.
type Completer interface {
	StreamCompletion(ctx context.Context, history []Turn) (<-chan TokenEvent, error)
}
