package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/driftlabs/chatrelay/internal/domain"
	"github.com/driftlabs/chatrelay/pkg/log"
	"github.com/driftlabs/chatrelay/pkg/pubsub"
)

// eventBridge mirrors a room's structured broadcasts to sibling relay
// instances. The instance id travels as the event origin so a
// subscriber can drop its own publications.
type eventBridge struct {
	bus      pubsub.PubSub
	instance string
	logger   zerolog.Logger
}

func newEventBridge(bus pubsub.PubSub, instanceID string, logger zerolog.Logger) *eventBridge {
	return &eventBridge{
		bus:      bus,
		instance: instanceID,
		logger:   logger.With().Str(log.FieldInstance, instanceID).Logger(),
	}
}

// PublishEvent implements room.Publisher. Failures are logged, never
// surfaced: the local timeline is already committed.
func (b *eventBridge) PublishEvent(roomID string, ev domain.MessageEvent) {
	e, err := pubsub.NewEvent(ev.Type, roomID, b.instance, ev)
	if err != nil {
		b.logger.Error().Err(err).
			Str(log.FieldRoomID, roomID).
			Str(log.FieldEventType, ev.Type).
			Msg("failed to build bridge event")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := b.bus.Publish(ctx, pubsub.RoomEventsChannel(roomID), e); err != nil {
		b.logger.Warn().Err(err).
			Str(log.FieldRoomID, roomID).
			Str(log.FieldEventType, ev.Type).
			Msg("bridge publish failed")
	}
}

// forward pumps remote events of one room into its timeline, skipping
// events this instance published itself.
func (b *eventBridge) forward(events <-chan *pubsub.Event, apply func(domain.MessageEvent)) {
	for e := range events {
		if e.Origin == b.instance {
			continue
		}

		var ev domain.MessageEvent
		if err := e.UnmarshalPayload(&ev); err != nil {
			b.logger.Warn().Err(err).
				Str(log.FieldRoomID, e.RoomID).
				Str(log.FieldEventType, e.Type).
				Msg("bad bridge payload")
			continue
		}
		apply(ev)
	}
}
