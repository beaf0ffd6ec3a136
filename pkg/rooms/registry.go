// Package rooms is the client side of the Room Registry collaborator. The
// core only reads room metadata and membership; it never owns rooms.
package rooms

import (
	"context"
	"slices"
	"time"
)

type Type string

const (
	TypePrivate Type = "private"
	TypeGroup   Type = "group"
	TypeAI      Type = "ai"
)

type Room struct {
	ID           string    `json:"id"`
	Type         Type      `json:"type"`
	Members      []string  `json:"members"`
	LastMessage  string    `json:"lastMessage,omitempty"`
	LastActivity time.Time `json:"lastActivity,omitempty"`
}

func (r Room) HasMember(userID string) bool {
	return slices.Contains(r.Members, userID)
}

// Registry resolves rooms. GetRoom returns apperr.ErrRoomNotFound for
// unknown ids.
type Registry interface {
	GetRoom(ctx context.Context, roomID string) (Room, error)
	IsMember(ctx context.Context, roomID, userID string) (bool, error)
	Touch(ctx context.Context, roomID, lastMessage string, at time.Time) error
}
