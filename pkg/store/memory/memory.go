// Package memory is an in-process implementation of the message and receipt
// stores. It backs tests and STORE_DRIVER=memory deployments.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vinchx/chitchat/pkg/apperr"
	"github.com/vinchx/chitchat/pkg/model"
	"github.com/vinchx/chitchat/pkg/snowflake"
	"github.com/vinchx/chitchat/pkg/store"
)

var (
	_ store.MessageStore = (*Store)(nil)
	_ store.ReceiptStore = (*Store)(nil)
)

type Store struct {
	mu       sync.RWMutex
	opts     store.Options
	node     *snowflake.Node
	messages map[string]*model.Message
	// rooms holds message ids per room in ascending id order.
	rooms    map[string][]string
	receipts map[string]map[string]time.Time // message id -> user id -> read at
}

func New(opts store.Options) (*Store, error) {
	opts = opts.WithDefaults()
	node, err := snowflake.NewNode(opts.NodeID)
	if err != nil {
		return nil, err
	}
	node.WithClock(opts.Now)
	return &Store{
		opts:     opts,
		node:     node,
		messages: make(map[string]*model.Message),
		rooms:    make(map[string][]string),
		receipts: make(map[string]map[string]time.Time),
	}, nil
}

func (s *Store) Create(_ context.Context, in store.NewMessage) (model.Message, error) {
	in, err := in.Validate()
	if err != nil {
		return model.Message{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m := model.Message{
		RoomID:      in.RoomID,
		SenderID:    in.SenderID,
		Body:        in.Body,
		Kind:        in.Kind,
		Attachment:  cloneAttachment(in.Attachment),
		ClientToken: in.ClientToken,
	}
	if in.ReplyToID != "" {
		target, ok := s.messages[in.ReplyToID]
		if !ok || target.RoomID != in.RoomID {
			return model.Message{}, apperr.ErrReplyTargetNotFound
		}
		m.ReplyTo = target.Redacted().Snapshot()
	}

	// Id generation and append happen under the same lock, so the per-room
	// slice stays sorted.
	id := s.node.Generate()
	m.ID = snowflake.Format(id)
	m.CreatedAt = snowflake.Time(id)
	s.messages[m.ID] = &m
	s.rooms[m.RoomID] = append(s.rooms[m.RoomID], m.ID)
	return clone(m), nil
}

func (s *Store) Get(_ context.Context, messageID string) (model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[messageID]
	if !ok {
		return model.Message{}, apperr.ErrMessageNotFound
	}
	return clone(*m), nil
}

func (s *Store) Edit(_ context.Context, messageID, editorID, body string) (model.Message, error) {
	if body == "" {
		return model.Message{}, apperr.ErrMissingBody
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[messageID]
	if !ok {
		return model.Message{}, apperr.ErrMessageNotFound
	}
	now := s.opts.Now().UTC()
	if err := store.CheckEdit(*m, editorID, s.opts, now); err != nil {
		return model.Message{}, err
	}
	m.Body = body
	m.IsEdited = true
	m.EditedAt = &now
	return clone(*m), nil
}

func (s *Store) Delete(_ context.Context, messageID, requesterID string) (model.Message, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[messageID]
	if !ok {
		return model.Message{}, false, apperr.ErrMessageNotFound
	}
	now := s.opts.Now().UTC()
	done, err := store.CheckDelete(*m, requesterID, s.opts, now)
	if err != nil {
		return model.Message{}, false, err
	}
	if !done {
		m.IsDeleted = true
		m.DeletedAt = &now
	}
	return clone(*m), !done, nil
}

func (s *Store) ListByRoom(_ context.Context, roomID string, page store.Page) (store.PageResult, error) {
	bound := ""
	switch {
	case page.BeforeID != "":
		if _, err := snowflake.Parse(page.BeforeID); err != nil {
			return store.PageResult{}, apperr.ErrInvalidCursor
		}
		bound = page.BeforeID
	case !page.Before.IsZero():
		// CreatedAt is derived from the id, so this bound is exact.
		bound = snowflake.Format(snowflake.LowerBound(page.Before))
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.rooms[roomID]
	end := len(ids)
	if bound != "" {
		end = sort.SearchStrings(ids, bound)
	}
	start := max(end-page.EffectiveLimit(), 0)

	res := store.PageResult{HasMore: start > 0}
	for _, id := range ids[start:end] {
		res.Messages = append(res.Messages, clone(*s.messages[id]))
	}
	if len(res.Messages) > 0 {
		res.OldestTimestamp = res.Messages[0].CreatedAt
		res.NextCursor = res.Messages[0].ID
	}
	return res, nil
}

func (s *Store) Recent(ctx context.Context, roomID string, n int) ([]model.Message, error) {
	res, err := s.ListByRoom(ctx, roomID, store.Page{Limit: n})
	return res.Messages, err
}

func (s *Store) UnreadCandidates(_ context.Context, roomID, readerID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for _, id := range s.rooms[roomID] {
		m := s.messages[id]
		if m.SenderID != readerID && !m.IsDeleted {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (s *Store) MarkRead(_ context.Context, roomID, readerID string, messageIDs []string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.opts.Now().UTC()
	var marked []string
	for _, id := range messageIDs {
		m, ok := s.messages[id]
		if !ok || m.RoomID != roomID {
			continue
		}
		readers, ok := s.receipts[id]
		if !ok {
			readers = make(map[string]time.Time)
			s.receipts[id] = readers
		}
		if _, dup := readers[readerID]; dup {
			continue
		}
		readers[readerID] = now
		marked = append(marked, id)
	}
	return marked, nil
}

func (s *Store) Receipts(_ context.Context, roomID string, messageIDs []string) (map[string][]model.Reader, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(messageIDs) == 0 {
		messageIDs = s.rooms[roomID]
	}
	out := make(map[string][]model.Reader, len(messageIDs))
	for _, id := range messageIDs {
		m, ok := s.messages[id]
		if !ok || m.RoomID != roomID {
			continue
		}
		readers := make([]model.Reader, 0, len(s.receipts[id]))
		for userID, at := range s.receipts[id] {
			readers = append(readers, model.Reader{UserID: userID, ReadAt: at})
		}
		sort.Slice(readers, func(i, j int) bool {
			if readers[i].ReadAt.Equal(readers[j].ReadAt) {
				return readers[i].UserID < readers[j].UserID
			}
			return readers[i].ReadAt.Before(readers[j].ReadAt)
		})
		out[id] = readers
	}
	return out, nil
}

func clone(m model.Message) model.Message {
	m.Attachment = cloneAttachment(m.Attachment)
	if m.ReplyTo != nil {
		r := *m.ReplyTo
		r.Attachment = cloneAttachment(r.Attachment)
		m.ReplyTo = &r
	}
	if m.EditedAt != nil {
		t := *m.EditedAt
		m.EditedAt = &t
	}
	if m.DeletedAt != nil {
		t := *m.DeletedAt
		m.DeletedAt = &t
	}
	return m
}

func cloneAttachment(a *model.Attachment) *model.Attachment {
	if a == nil {
		return nil
	}
	c := *a
	return &c
}
