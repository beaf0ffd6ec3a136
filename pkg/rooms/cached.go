package rooms

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Cached keeps room metadata in Redis for a short TTL so that membership is
// re-read from the registry regularly. Redis failures fall through to the
// underlying registry.
type Cached struct {
	inner Registry
	redis *redis.Client
	ttl   time.Duration
	log   *zap.Logger
}

func NewCached(inner Registry, rdb *redis.Client, ttl time.Duration, log *zap.Logger) *Cached {
	return &Cached{inner: inner, redis: rdb, ttl: ttl, log: log}
}

func cacheKey(roomID string) string { return "room:" + roomID + ":meta" }

func (c *Cached) GetRoom(ctx context.Context, roomID string) (Room, error) {
	raw, err := c.redis.Get(ctx, cacheKey(roomID)).Bytes()
	switch {
	case err == nil:
		var r Room
		if jsonErr := json.Unmarshal(raw, &r); jsonErr == nil {
			return r, nil
		}
	case !errors.Is(err, redis.Nil):
		c.log.Warn("Room cache read failed", zap.String("room", roomID), zap.Error(err))
	}

	r, err := c.inner.GetRoom(ctx, roomID)
	if err != nil {
		return Room{}, err
	}
	if b, err := json.Marshal(r); err == nil {
		if err := c.redis.Set(ctx, cacheKey(roomID), b, c.ttl).Err(); err != nil {
			c.log.Warn("Room cache write failed", zap.String("room", roomID), zap.Error(err))
		}
	}
	return r, nil
}

func (c *Cached) IsMember(ctx context.Context, roomID, userID string) (bool, error) {
	r, err := c.GetRoom(ctx, roomID)
	if err != nil {
		return false, err
	}
	return r.HasMember(userID), nil
}

func (c *Cached) Touch(ctx context.Context, roomID, lastMessage string, at time.Time) error {
	if err := c.inner.Touch(ctx, roomID, lastMessage, at); err != nil {
		return err
	}
	return c.Invalidate(ctx, roomID)
}

func (c *Cached) Invalidate(ctx context.Context, roomID string) error {
	return c.redis.Del(ctx, cacheKey(roomID)).Err()
}
