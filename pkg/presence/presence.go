// Package presence mirrors the Hub's per-room online set into Redis so that
// the API can answer presence queries without talking to a gateway.
package presence

import (
	"context"
	"slices"

	"github.com/redis/go-redis/v9"
)

// Store records which users are online in a room.
type Store interface {
	Add(ctx context.Context, roomID, userID string) error
	Remove(ctx context.Context, roomID, userID string) error
	Online(ctx context.Context, roomID string) ([]string, error)
}

type Redis struct {
	redis *redis.Client
}

func NewRedis(rdb *redis.Client) *Redis {
	return &Redis{redis: rdb}
}

func Key(roomID string) string { return "room:" + roomID + ":online" }

func (p *Redis) Add(ctx context.Context, roomID, userID string) error {
	return p.redis.SAdd(ctx, Key(roomID), userID).Err()
}

func (p *Redis) Remove(ctx context.Context, roomID, userID string) error {
	return p.redis.SRem(ctx, Key(roomID), userID).Err()
}

// Online returns the sorted member list of the room's online set.
func (p *Redis) Online(ctx context.Context, roomID string) ([]string, error) {
	users, err := p.redis.SMembers(ctx, Key(roomID)).Result()
	if err != nil {
		return nil, err
	}
	slices.Sort(users)
	return users, nil
}
