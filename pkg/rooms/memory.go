package rooms

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/vinchx/chitchat/pkg/apperr"
)

type Memory struct {
	mu    sync.RWMutex
	rooms map[string]Room
}

func NewMemory(rooms ...Room) *Memory {
	m := &Memory{rooms: make(map[string]Room)}
	for _, r := range rooms {
		m.Put(r)
	}
	return m
}

func (m *Memory) Put(r Room) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r.Members = slices.Clone(r.Members)
	m.rooms[r.ID] = r
}

func (m *Memory) GetRoom(_ context.Context, roomID string) (Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rooms[roomID]
	if !ok {
		return Room{}, apperr.ErrRoomNotFound
	}
	r.Members = slices.Clone(r.Members)
	return r, nil
}

func (m *Memory) IsMember(ctx context.Context, roomID, userID string) (bool, error) {
	r, err := m.GetRoom(ctx, roomID)
	if err != nil {
		return false, err
	}
	return r.HasMember(userID), nil
}

func (m *Memory) Touch(_ context.Context, roomID, lastMessage string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[roomID]
	if !ok {
		return apperr.ErrRoomNotFound
	}
	r.LastMessage = lastMessage
	r.LastActivity = at
	m.rooms[roomID] = r
	return nil
}
