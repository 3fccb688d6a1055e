package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/driftlabs/chatrelay/internal/ai"
	"github.com/driftlabs/chatrelay/internal/cache"
	"github.com/driftlabs/chatrelay/internal/config"
	"github.com/driftlabs/chatrelay/internal/domain"
	"github.com/driftlabs/chatrelay/internal/hub"
	"github.com/driftlabs/chatrelay/internal/registry"
	"github.com/driftlabs/chatrelay/internal/repository"
	"github.com/driftlabs/chatrelay/internal/room"
	"github.com/driftlabs/chatrelay/internal/store"
	"github.com/driftlabs/chatrelay/pkg/id"
	"github.com/driftlabs/chatrelay/pkg/log"
	"github.com/driftlabs/chatrelay/pkg/pubsub"
)

// RelayService routes connections, frames and history reads to rooms,
// loading rooms on demand and evicting them when idle.
type RelayService interface {
	Start(ctx context.Context) error
	Join(ctx context.Context, c *hub.Client, roomID string) error
	HandleFrame(ctx context.Context, c *hub.Client, roomID string, frame []byte)
	Leave(c *hub.Client, roomID string)
	History(ctx context.Context, roomID string) ([]domain.Message, error)
	Stop()
}

// Deps carries the collaborators the service wires into rooms.
// Bridge, Registry and HistoryCache are optional.
type Deps struct {
	Hub          *hub.Hub
	Repo         repository.MessageRepository
	Completer    ai.Completer
	IDs          id.Generator
	Bus          pubsub.PubSub
	Registry     registry.Registry
	HistoryCache cache.HistoryCache
}

type relayServiceImpl struct {
	hub       *hub.Hub
	repo      repository.MessageRepository
	completer ai.Completer
	ids       id.Generator
	bridge    *eventBridge
	reg       registry.Registry
	histCache cache.HistoryCache

	instanceID string
	roomCfg    room.Config
	idle       time.Duration
	evictEvery time.Duration
	cacheTTL   time.Duration

	mu    sync.Mutex
	rooms map[string]*roomEntry

	runCtx  context.Context
	cancel  context.CancelFunc
	started bool
	sf      singleflight.Group
	logger  zerolog.Logger
}

type roomEntry struct {
	room        *room.Room
	unsubscribe func()
}

// NewRelayService assembles the service from config and dependencies.
func NewRelayService(cfg *config.Config, deps Deps, logger zerolog.Logger) RelayService {
	instanceID := uuid.NewString()

	s := &relayServiceImpl{
		hub:        deps.Hub,
		repo:       deps.Repo,
		completer:  deps.Completer,
		ids:        deps.IDs,
		reg:        deps.Registry,
		histCache:  deps.HistoryCache,
		instanceID: instanceID,
		roomCfg: room.Config{
			AssistantName:   cfg.Room.AssistantName,
			Placeholder:     cfg.Room.Placeholder,
			TypingIndicator: cfg.Room.TypingIndicator,
			ErrorNotice:     cfg.Room.ErrorNotice,
			QueueSize:       cfg.Room.QueueSize,
			ReplyTimeout:    cfg.AI.RequestTimeout,
		},
		idle:       cfg.Room.IdleTimeout,
		evictEvery: cfg.Room.EvictInterval,
		cacheTTL:   cfg.Cache.TTL,
		rooms:      make(map[string]*roomEntry),
		logger:     logger.With().Str(log.FieldInstance, instanceID).Logger(),
	}

	if deps.Bus != nil {
		s.bridge = newEventBridge(deps.Bus, instanceID, logger)
	}

	return s
}

// Start launches the eviction loop and, when configured, the registry
// heartbeat.
func (s *relayServiceImpl) Start(ctx context.Context) error {
	s.runCtx, s.cancel = context.WithCancel(ctx)
	s.started = true

	if s.reg != nil {
		if err := s.reg.StartHeartbeat(s.runCtx); err != nil {
			return fmt.Errorf("failed to start registry heartbeat: %w", err)
		}
	}

	go s.evictLoop()
	return nil
}

// roomRetries bounds reloads when a room stops between lookup and
// delivery.
const roomRetries = 3

// Join attaches a connection to its room, loading the room first if it
// is not resident. The evictor can stop a room between the lookup and
// the join landing in its inbox; a rejected join drops the stale entry
// and retries against a freshly loaded room, so the connection always
// gets its bootstrap snapshot.
func (s *relayServiceImpl) Join(ctx context.Context, c *hub.Client, roomID string) error {
	for attempt := 0; attempt < roomRetries; attempt++ {
		entry, err := s.getOrCreateRoom(ctx, roomID)
		if err != nil {
			return err
		}
		if entry.room.Join(c) {
			return nil
		}
		s.dropStale(roomID, entry)
	}
	return fmt.Errorf("room %s kept stopping during join", roomID)
}

// HandleFrame forwards a client frame to its room, reloading the room
// if it stopped underneath the connection.
func (s *relayServiceImpl) HandleFrame(ctx context.Context, c *hub.Client, roomID string, frame []byte) {
	for attempt := 0; attempt < roomRetries; attempt++ {
		entry, err := s.getOrCreateRoom(ctx, roomID)
		if err != nil {
			s.logger.Error().Err(err).Str(log.FieldRoomID, roomID).Msg("failed to route frame")
			return
		}
		if entry.room.HandleFrame(c.ID(), frame) {
			return
		}
		s.dropStale(roomID, entry)
	}
	s.logger.Error().Str(log.FieldRoomID, roomID).Msg("frame dropped, room kept stopping")
}

// dropStale removes a stopped room entry so the next lookup loads a
// fresh one. Identity-checked: the evictor may already have removed it
// and run its cleanup.
func (s *relayServiceImpl) dropStale(roomID string, entry *roomEntry) {
	s.mu.Lock()
	stale := s.rooms[roomID] == entry
	if stale {
		delete(s.rooms, roomID)
	}
	s.mu.Unlock()

	if stale && entry.unsubscribe != nil {
		entry.unsubscribe()
	}
}

// Leave detaches a connection from its room. No-op when the room has
// already been evicted.
func (s *relayServiceImpl) Leave(c *hub.Client, roomID string) {
	s.mu.Lock()
	entry, ok := s.rooms[roomID]
	s.mu.Unlock()
	if !ok {
		return
	}
	entry.room.Leave(c)
}

// History serves the room timeline. Resident rooms answer from memory;
// for everything else the durable log is read through the cache, with
// singleflight collapsing concurrent misses.
func (s *relayServiceImpl) History(ctx context.Context, roomID string) ([]domain.Message, error) {
	s.mu.Lock()
	entry, resident := s.rooms[roomID]
	s.mu.Unlock()
	if resident {
		return entry.room.Snapshot(), nil
	}

	if s.histCache == nil {
		return s.readDurable(ctx, roomID)
	}

	key := s.histCache.BuildKey(roomID)
	result, err, _ := s.sf.Do(key, func() (interface{}, error) {
		return s.fetchWithCache(ctx, roomID, key)
	})
	if err != nil {
		return nil, err
	}

	messages, ok := result.([]domain.Message)
	if !ok {
		return nil, errors.New("unexpected result type from singleflight")
	}
	return messages, nil
}

func (s *relayServiceImpl) fetchWithCache(ctx context.Context, roomID, key string) ([]domain.Message, error) {
	cached, err := s.histCache.Get(ctx, key)
	if err == nil {
		return cached, nil
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		s.logger.Warn().Err(err).Str(log.FieldRoomID, roomID).Msg("cache get error")
	}

	messages, err := s.readDurable(ctx, roomID)
	if err != nil {
		return nil, err
	}

	// Store in cache (async to avoid blocking the response)
	go func() {
		cacheCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.histCache.Set(cacheCtx, key, messages, s.cacheTTL); err != nil {
			s.logger.Warn().Err(err).Str(log.FieldRoomID, roomID).Msg("cache set error")
		}
	}()

	return messages, nil
}

func (s *relayServiceImpl) readDurable(ctx context.Context, roomID string) ([]domain.Message, error) {
	records, err := s.repo.ListMessages(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to read room history: %w", err)
	}
	messages := make([]domain.Message, 0, len(records))
	for _, rec := range records {
		messages = append(messages, rec.Message)
	}
	return messages, nil
}

func (s *relayServiceImpl) getOrCreateRoom(ctx context.Context, roomID string) (*roomEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, ok := s.rooms[roomID]; ok {
		return entry, nil
	}
	if !s.started {
		return nil, errors.New("relay service not started")
	}

	timeline, err := store.Load(ctx, roomID, s.repo, s.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to load room %s: %w", roomID, err)
	}

	var pub room.Publisher
	if s.bridge != nil {
		pub = s.bridge
	}

	rm := room.New(roomID, timeline, s.hub, s.completer, s.ids, pub, s.roomCfg, s.logger)
	go rm.Run(s.runCtx)

	entry := &roomEntry{room: rm}

	if s.bridge != nil {
		channel := pubsub.RoomEventsChannel(roomID)
		events, err := s.bridge.bus.Subscribe(s.runCtx, channel)
		if err != nil {
			rm.Stop()
			return nil, fmt.Errorf("failed to subscribe bridge channel: %w", err)
		}
		go s.bridge.forward(events, rm.ApplyRemote)
		entry.unsubscribe = func() {
			unsubCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			if err := s.bridge.bus.Unsubscribe(unsubCtx, channel); err != nil {
				s.logger.Warn().Err(err).Str(log.FieldRoomID, roomID).Msg("bridge unsubscribe failed")
			}
		}
	}

	if s.reg != nil {
		if err := s.reg.Register(ctx, roomID); err != nil {
			s.logger.Warn().Err(err).Str(log.FieldRoomID, roomID).Msg("registry register failed")
		}
	}

	s.rooms[roomID] = entry
	s.logger.Info().Str(log.FieldRoomID, roomID).Int("messages", timeline.Len()).Msg("room loaded")
	return entry, nil
}

// evictLoop drops rooms that have no participants and have been quiet
// past the idle timeout. Their timelines persist and reload on the
// next join.
func (s *relayServiceImpl) evictLoop() {
	if s.idle <= 0 {
		return
	}

	ticker := time.NewTicker(s.evictEvery)
	defer ticker.Stop()

	for {
		select {
		case <-s.runCtx.Done():
			return
		case <-ticker.C:
			s.evictIdleRooms()
		}
	}
}

func (s *relayServiceImpl) evictIdleRooms() {
	s.mu.Lock()
	victims := make(map[string]*roomEntry)
	for roomID, entry := range s.rooms {
		if entry.room.Participants() == 0 && entry.room.IdleSince() > s.idle {
			victims[roomID] = entry
			delete(s.rooms, roomID)
		}
	}
	s.mu.Unlock()

	for roomID, entry := range victims {
		entry.room.Stop()
		if entry.unsubscribe != nil {
			entry.unsubscribe()
		}
		if s.reg != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			if err := s.reg.Deregister(ctx, roomID); err != nil {
				s.logger.Warn().Err(err).Str(log.FieldRoomID, roomID).Msg("registry deregister failed")
			}
			cancel()
		}
		s.logger.Info().Str(log.FieldRoomID, roomID).Msg("room evicted")
	}
}

// Stop shuts down every room and the background loops.
func (s *relayServiceImpl) Stop() {
	if s.cancel != nil {
		s.cancel()
	}

	s.mu.Lock()
	entries := make([]*roomEntry, 0, len(s.rooms))
	for roomID, entry := range s.rooms {
		entries = append(entries, entry)
		delete(s.rooms, roomID)
	}
	s.mu.Unlock()

	for _, entry := range entries {
		entry.room.Stop()
		if entry.unsubscribe != nil {
			entry.unsubscribe()
		}
	}

	if s.reg != nil {
		s.reg.StopHeartbeat()
	}
}
