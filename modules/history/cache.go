package history

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync/atomic"
	"time"

	domain "github.com/example/ephemeral-chat/domain/chat"
	"github.com/go-monolith/mono/pkg/types"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// CachedStore puts a Redis cache-aside layer in front of a Store's history reads.
// Each room's cached reads live in one hash, one field per limit, so a write
// invalidates the room with a single DEL on an exact key.
// Writes go to the backing store first and then invalidate the room.
// Cache failures are logged and never fail the operation.
type CachedStore struct {
	Store
	client  *redis.Client
	prefix  string
	ttl     time.Duration
	logger  types.Logger
	sfGroup singleflight.Group

	hits   atomic.Uint64
	misses atomic.Uint64
	errs   atomic.Uint64
}

var _ Store = (*CachedStore)(nil)

// CacheStats is a snapshot of cache counters.
type CacheStats struct {
	Hits   uint64 `json:"hits"`
	Misses uint64 `json:"misses"`
	Errors uint64 `json:"errors"`
}

// NewCachedStore wraps store with a Redis cache.
func NewCachedStore(store Store, client *redis.Client, prefix string, ttl time.Duration, logger types.Logger) *CachedStore {
	return &CachedStore{
		Store:  store,
		client: client,
		prefix: prefix,
		ttl:    ttl,
		logger: logger,
	}
}

func (c *CachedStore) historyKey(roomID string) string {
	return c.prefix + "history:" + roomID
}

// Recent serves from Redis when possible, loading through singleflight on a miss.
func (c *CachedStore) Recent(ctx context.Context, roomID string, limit int) ([]domain.Message, error) {
	key := c.historyKey(roomID)
	field := strconv.Itoa(limit)

	data, err := c.client.HGet(ctx, key, field).Bytes()
	switch {
	case err == nil:
		var cached []domain.Message
		if err := json.Unmarshal(data, &cached); err == nil {
			c.hits.Add(1)
			return cached, nil
		}
		c.errs.Add(1)
		c.logger.Warn("Discarding undecodable history cache entry", "key", key)
	case errors.Is(err, redis.Nil):
		c.misses.Add(1)
	default:
		c.errs.Add(1)
		c.logger.Warn("History cache read failed", "key", key, "error", err)
	}

	val, err, _ := c.sfGroup.Do(key+"#"+field, func() (any, error) {
		messages, err := c.Store.Recent(ctx, roomID, limit)
		if err != nil {
			return nil, err
		}
		if payload, err := json.Marshal(messages); err == nil {
			pipe := c.client.TxPipeline()
			pipe.HSet(ctx, key, field, payload)
			pipe.Expire(ctx, key, c.ttl)
			if _, err := pipe.Exec(ctx); err != nil {
				c.errs.Add(1)
				c.logger.Warn("History cache write failed", "key", key, "error", err)
			}
		}
		return messages, nil
	})
	if err != nil {
		return nil, err
	}
	return val.([]domain.Message), nil
}

// Append stores the message and invalidates cached history for the room.
func (c *CachedStore) Append(ctx context.Context, roomID, sender, text string) (*domain.Message, error) {
	msg, err := c.Store.Append(ctx, roomID, sender, text)
	if err != nil {
		return nil, err
	}
	c.invalidate(ctx, roomID)
	return msg, nil
}

// DeleteMessages removes the room's messages and its cached history.
func (c *CachedStore) DeleteMessages(ctx context.Context, roomID string) error {
	if err := c.Store.DeleteMessages(ctx, roomID); err != nil {
		return err
	}
	c.invalidate(ctx, roomID)
	return nil
}

func (c *CachedStore) invalidate(ctx context.Context, roomID string) {
	if err := c.client.Del(ctx, c.historyKey(roomID)).Err(); err != nil {
		c.errs.Add(1)
		c.logger.Warn("History cache invalidation failed", "room_id", roomID, "error", err)
	}
}

// Stats returns the current cache counters.
func (c *CachedStore) Stats() CacheStats {
	return CacheStats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
		Errors: c.errs.Load(),
	}
}

// Ping checks the Redis connection.
func (c *CachedStore) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
