package rooms

import (
	"context"
	"errors"
	"time"

	"github.com/gocql/gocql"
	"github.com/vinchx/chitchat/pkg/apperr"
	"github.com/vinchx/chitchat/pkg/db"
)

type Scylla struct {
	db *db.Session
}

func NewScylla(session *db.Session) *Scylla {
	return &Scylla{db: session}
}

func (s *Scylla) GetRoom(ctx context.Context, roomID string) (Room, error) {
	r := Room{ID: roomID}
	var typ string
	var lastActivity time.Time
	err := s.db.Query(`SELECT type, members, last_message, last_activity FROM rooms WHERE id = ?`, roomID).
		WithContext(ctx).
		Scan(&typ, &r.Members, &r.LastMessage, &lastActivity)
	if errors.Is(err, gocql.ErrNotFound) {
		return Room{}, apperr.ErrRoomNotFound
	}
	if err != nil {
		return Room{}, apperr.Transient("get room", err)
	}
	r.Type = Type(typ)
	r.LastActivity = lastActivity
	return r, nil
}

func (s *Scylla) IsMember(ctx context.Context, roomID, userID string) (bool, error) {
	r, err := s.GetRoom(ctx, roomID)
	if err != nil {
		return false, err
	}
	return r.HasMember(userID), nil
}

func (s *Scylla) Touch(ctx context.Context, roomID, lastMessage string, at time.Time) error {
	err := s.db.Query(`UPDATE rooms SET last_message = ?, last_activity = ? WHERE id = ?`, lastMessage, at, roomID).
		WithContext(ctx).Exec()
	return apperr.Transient("touch room", err)
}

// Put upserts a room. Used by seeding scripts and integration tests.
func (s *Scylla) Put(ctx context.Context, r Room) error {
	err := s.db.Query(`INSERT INTO rooms (id, type, members, last_message, last_activity) VALUES (?, ?, ?, ?, ?)`,
		r.ID, string(r.Type), r.Members, r.LastMessage, r.LastActivity).
		WithContext(ctx).Exec()
	return apperr.Transient("put room", err)
}
