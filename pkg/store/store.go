// Package store defines the durable Message Store and Read-Receipt Store.
// They are the only authoritative mutable state of the system.
package store

import (
	"context"
	"time"

	"github.com/vinchx/chitchat/pkg/model"
)

const (
	DefaultDeleteWindow = time.Hour
	DefaultPageLimit    = 50
	MaxPageLimit        = 200
)

type NewMessage struct {
	RoomID      string
	SenderID    string
	Body        string
	Kind        model.Kind
	Attachment  *model.Attachment
	ReplyToID   string
	ClientToken string
}

// Page selects a window of history strictly older than BeforeID, or than
// Before when BeforeID is empty. Both empty means the newest page.
type Page struct {
	Before   time.Time
	BeforeID string
	Limit    int
}

// EffectiveLimit clamps Limit into [1, MaxPageLimit].
func (p Page) EffectiveLimit() int {
	switch {
	case p.Limit <= 0:
		return DefaultPageLimit
	case p.Limit > MaxPageLimit:
		return MaxPageLimit
	default:
		return p.Limit
	}
}

// PageResult holds messages ordered oldest to newest. NextCursor is the id of
// the oldest message and is passed back as Page.BeforeID.
type PageResult struct {
	Messages        []model.Message
	HasMore         bool
	OldestTimestamp time.Time
	NextCursor      string
}

type MessageStore interface {
	Create(ctx context.Context, msg NewMessage) (model.Message, error)
	Get(ctx context.Context, messageID string) (model.Message, error)
	Edit(ctx context.Context, messageID, editorID, body string) (model.Message, error)
	// Delete tombstones a message. deleted is true only for the call that
	// performed the tombstone; repeats return the existing one.
	Delete(ctx context.Context, messageID, requesterID string) (m model.Message, deleted bool, err error)
	ListByRoom(ctx context.Context, roomID string, page Page) (PageResult, error)
	// Recent returns up to n newest messages, oldest first.
	Recent(ctx context.Context, roomID string, n int) ([]model.Message, error)
	// UnreadCandidates snapshots the ids of messages in the room that were not
	// authored by readerID and are not deleted.
	UnreadCandidates(ctx context.Context, roomID, readerID string) ([]string, error)
}

type ReceiptStore interface {
	// MarkRead inserts one receipt per id. Ids that do not belong to the room
	// and receipts that already exist are skipped. The ids that got a new
	// receipt are returned even when some items failed.
	MarkRead(ctx context.Context, roomID, readerID string, messageIDs []string) ([]string, error)
	Receipts(ctx context.Context, roomID string, messageIDs []string) (map[string][]model.Reader, error)
}

// Options tune the mutation rules shared by every implementation.
type Options struct {
	DeleteWindow time.Duration
	// EditWindow of zero leaves edits unbounded.
	EditWindow time.Duration
	NodeID     int64
	Now        func() time.Time
}

func (o Options) WithDefaults() Options {
	if o.DeleteWindow <= 0 {
		o.DeleteWindow = DefaultDeleteWindow
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}
