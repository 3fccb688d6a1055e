package room

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/driftlabs/chatrelay/internal/ai"
	"github.com/driftlabs/chatrelay/internal/domain"
	"github.com/driftlabs/chatrelay/pkg/log"
)

// streamReply drives one assistant reply: placeholder add, one wire
// update per token in arrival order, then exactly one terminal update.
// It runs on the room goroutine, so the whole reply occupies a single
// slot in the room timeline; inbound events queue behind it.
//
// The history is captured before the placeholder upsert, so the model
// never sees its own pending reply.
func (r *Room) streamReply(ctx context.Context) {
	history := r.historyTurns()

	replyID, err := r.ids.Generate()
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to generate reply id")
		return
	}

	placeholder := domain.Message{
		ID:      replyID,
		Author:  r.cfg.AssistantName,
		Role:    domain.RoleAssistant,
		Content: r.cfg.Placeholder,
	}
	r.log.Upsert(ctx, placeholder)
	r.broadcastEvent(domain.NewMessageEvent(domain.EventAdd, placeholder))

	streamCtx := ctx
	cancel := context.CancelFunc(func() {})
	if r.cfg.ReplyTimeout > 0 {
		streamCtx, cancel = context.WithTimeout(ctx, r.cfg.ReplyTimeout)
	}
	defer cancel()

	events, err := r.completer.StreamCompletion(streamCtx, history)
	if err != nil {
		r.finalizeReply(ctx, replyID, "", err)
		return
	}

	var buf strings.Builder
	for ev := range events {
		switch {
		case ev.Err != nil:
			r.finalizeReply(ctx, replyID, buf.String(), ev.Err)
			return
		case ev.Done:
			r.finalizeReply(ctx, replyID, buf.String(), nil)
			return
		default:
			buf.WriteString(ev.Fragment)
			r.broadcastPartial(replyID, buf.String())
		}
	}

	// Stream closed without a terminal event.
	r.finalizeReply(ctx, replyID, buf.String(), errors.New("completion stream ended without terminal event"))
}

// broadcastPartial sends the growing reply with the typing indicator
// appended. Wire only: partial content never reaches the store or the
// bridge.
func (r *Room) broadcastPartial(replyID, content string) {
	ev := domain.MessageEvent{
		Type:    domain.EventUpdate,
		ID:      replyID,
		Author:  r.cfg.AssistantName,
		Role:    domain.RoleAssistant,
		Content: content + r.cfg.TypingIndicator,
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to marshal partial event")
		return
	}
	r.hub.Broadcast(r.id, payload, "")
}

// finalizeReply is the single exit of the reply state machine: clean
// end, stream error and deadline expiry all land here. One terminal
// store upsert, one terminal update broadcast.
func (r *Room) finalizeReply(ctx context.Context, replyID, buffered string, cause error) {
	content := buffered
	if cause != nil {
		r.logger.Error().Err(cause).
			Str(log.FieldMessageID, replyID).
			Int("buffered_bytes", len(buffered)).
			Msg("assistant reply aborted")
		if content == "" {
			content = r.cfg.ErrorNotice
		}
	}

	final := domain.Message{
		ID:      replyID,
		Author:  r.cfg.AssistantName,
		Role:    domain.RoleAssistant,
		Content: content,
	}
	r.log.Upsert(ctx, final)
	r.broadcastEvent(domain.NewMessageEvent(domain.EventUpdate, final))
}

// historyTurns flattens the timeline into completion turns.
func (r *Room) historyTurns() []ai.Turn {
	snapshot := r.log.Snapshot()
	turns := make([]ai.Turn, 0, len(snapshot))
	for _, msg := range snapshot {
		turns = append(turns, ai.Turn{Role: msg.Role, Content: msg.Content})
	}
	return turns
}
