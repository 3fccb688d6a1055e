package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/driftlabs/chatrelay/internal/config"
	"github.com/driftlabs/chatrelay/internal/domain"
)

var ErrCacheMiss = errors.New("cache miss")

// HistoryCache caches full-room history reads for rooms that are not
// resident in memory.
type HistoryCache interface {
	BuildKey(roomID string) string
	Get(ctx context.Context, key string) ([]domain.Message, error)
	Set(ctx context.Context, key string, messages []domain.Message, ttl time.Duration) error
	Close() error
}

type RedisHistoryCache struct {
	client *redis.Client
	prefix string
}

func NewRedisHistoryCache(cfg config.CacheConfig) (*RedisHistoryCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisHistoryCache{
		client: client,
		prefix: cfg.KeyPrefix,
	}, nil
}

func (c *RedisHistoryCache) BuildKey(roomID string) string {
	return fmt.Sprintf("%s:%s", c.prefix, roomID)
}

func (c *RedisHistoryCache) Get(ctx context.Context, key string) ([]domain.Message, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("failed to get from redis: %w", err)
	}

	var messages []domain.Message
	if err := json.Unmarshal(data, &messages); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cache data: %w", err)
	}

	return messages, nil
}

func (c *RedisHistoryCache) Set(ctx context.Context, key string, messages []domain.Message, ttl time.Duration) error {
	data, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("failed to marshal cache data: %w", err)
	}

	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set in redis: %w", err)
	}

	return nil
}

func (c *RedisHistoryCache) Close() error {
	return c.client.Close()
}

var _ HistoryCache = (*RedisHistoryCache)(nil)
