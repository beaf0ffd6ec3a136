// Package scylla persists messages and read receipts in ScyllaDB.
//
// Messages live in the room partition of the messages table, clustered by
// snowflake id. message_rooms maps an id back to its room for edit/delete by
// id. Mutations are lightweight transactions conditioned on the sender and
// the tombstone flag, so the ownership check and the write are one step.
package scylla

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"sort"
	"time"

	"github.com/gocql/gocql"
	"github.com/vinchx/chitchat/pkg/apperr"
	"github.com/vinchx/chitchat/pkg/db"
	"github.com/vinchx/chitchat/pkg/model"
	"github.com/vinchx/chitchat/pkg/snowflake"
	"github.com/vinchx/chitchat/pkg/store"
	"go.uber.org/zap"
)

var (
	_ store.MessageStore = (*Store)(nil)
	_ store.ReceiptStore = (*Store)(nil)
)

const columns = `room_id, id, sender_id, body, kind, attachment, reply_to, client_token, created_at, edited_at, deleted_at, is_edited, is_deleted`

type Store struct {
	db   *db.Session
	node *snowflake.Node
	opts store.Options
	log  *zap.Logger
}

func New(session *db.Session, opts store.Options, log *zap.Logger) (*Store, error) {
	opts = opts.WithDefaults()
	node, err := snowflake.NewNode(opts.NodeID)
	if err != nil {
		return nil, err
	}
	node.WithClock(opts.Now)
	return &Store{db: session, node: node, opts: opts, log: log}, nil
}

func (s *Store) Create(ctx context.Context, in store.NewMessage) (model.Message, error) {
	in, err := in.Validate()
	if err != nil {
		return model.Message{}, err
	}

	m := model.Message{
		RoomID:      in.RoomID,
		SenderID:    in.SenderID,
		Body:        in.Body,
		Kind:        in.Kind,
		Attachment:  in.Attachment,
		ClientToken: in.ClientToken,
	}
	if in.ReplyToID != "" {
		target, err := s.Get(ctx, in.ReplyToID)
		if errors.Is(err, apperr.ErrMessageNotFound) || (err == nil && target.RoomID != in.RoomID) {
			return model.Message{}, apperr.ErrReplyTargetNotFound
		}
		if err != nil {
			return model.Message{}, err
		}
		m.ReplyTo = target.Redacted().Snapshot()
	}

	id := s.node.Generate()
	m.ID = snowflake.Format(id)
	m.CreatedAt = snowflake.Time(id)

	attachment, err := encode(m.Attachment)
	if err != nil {
		return model.Message{}, err
	}
	replyTo, err := encode(m.ReplyTo)
	if err != nil {
		return model.Message{}, err
	}

	// Both rows or neither.
	b := s.db.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	b.Query(`INSERT INTO messages (`+columns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.RoomID, id, m.SenderID, m.Body, string(m.Kind), attachment, replyTo, m.ClientToken,
		m.CreatedAt, nil, nil, false, false)
	b.Query(`INSERT INTO message_rooms (id, room_id) VALUES (?, ?)`, id, m.RoomID)
	if err := s.db.ExecuteBatch(b); err != nil {
		return model.Message{}, apperr.Transient("insert message", err)
	}
	return m, nil
}

func (s *Store) Get(ctx context.Context, messageID string) (model.Message, error) {
	id, err := snowflake.Parse(messageID)
	if err != nil {
		return model.Message{}, apperr.ErrMessageNotFound
	}
	var roomID string
	err = s.db.Query(`SELECT room_id FROM message_rooms WHERE id = ?`, id).WithContext(ctx).Scan(&roomID)
	if errors.Is(err, gocql.ErrNotFound) {
		return model.Message{}, apperr.ErrMessageNotFound
	}
	if err != nil {
		return model.Message{}, apperr.Transient("lookup message room", err)
	}
	return s.get(ctx, roomID, id)
}

func (s *Store) get(ctx context.Context, roomID string, id int64) (model.Message, error) {
	iter := s.db.Query(`SELECT `+columns+` FROM messages WHERE room_id = ? AND id = ?`, roomID, id).
		WithContext(ctx).Iter()
	msgs, err := scanAll(iter)
	if err != nil {
		return model.Message{}, apperr.Transient("get message", err)
	}
	if len(msgs) == 0 {
		return model.Message{}, apperr.ErrMessageNotFound
	}
	return msgs[0], nil
}

func (s *Store) Edit(ctx context.Context, messageID, editorID, body string) (model.Message, error) {
	if body == "" {
		return model.Message{}, apperr.ErrMissingBody
	}
	m, err := s.Get(ctx, messageID)
	if err != nil {
		return model.Message{}, err
	}
	now := s.opts.Now().UTC().Truncate(time.Millisecond)
	if err := store.CheckEdit(m, editorID, s.opts, now); err != nil {
		return model.Message{}, err
	}

	id, _ := snowflake.Parse(m.ID)
	applied, err := s.db.Query(`UPDATE messages SET body = ?, edited_at = ?, is_edited = true
		WHERE room_id = ? AND id = ? IF sender_id = ? AND is_deleted = false`,
		body, now, m.RoomID, id, editorID).
		WithContext(ctx).MapScanCAS(map[string]interface{}{})
	if err != nil {
		return model.Message{}, apperr.Transient("edit message", err)
	}
	if !applied {
		// Lost a race with a delete.
		current, err := s.get(ctx, m.RoomID, id)
		if err != nil {
			return model.Message{}, err
		}
		if err := store.CheckEdit(current, editorID, s.opts, now); err != nil {
			return model.Message{}, err
		}
		return model.Message{}, apperr.ErrAlreadyDeleted
	}

	m.Body = body
	m.IsEdited = true
	m.EditedAt = &now
	return m, nil
}

func (s *Store) Delete(ctx context.Context, messageID, requesterID string) (model.Message, bool, error) {
	m, err := s.Get(ctx, messageID)
	if err != nil {
		return model.Message{}, false, err
	}
	now := s.opts.Now().UTC().Truncate(time.Millisecond)
	done, err := store.CheckDelete(m, requesterID, s.opts, now)
	if err != nil {
		return model.Message{}, false, err
	}
	if done {
		return m, false, nil
	}

	id, _ := snowflake.Parse(m.ID)
	applied, err := s.db.Query(`UPDATE messages SET is_deleted = true, deleted_at = ?
		WHERE room_id = ? AND id = ? IF sender_id = ? AND is_deleted = false`,
		now, m.RoomID, id, requesterID).
		WithContext(ctx).MapScanCAS(map[string]interface{}{})
	if err != nil {
		return model.Message{}, false, apperr.Transient("delete message", err)
	}
	if !applied {
		// A concurrent delete won; return its tombstone unchanged.
		m, err = s.get(ctx, m.RoomID, id)
		return m, false, err
	}
	m.IsDeleted = true
	m.DeletedAt = &now
	return m, true, nil
}

func (s *Store) ListByRoom(ctx context.Context, roomID string, page store.Page) (store.PageResult, error) {
	limit := page.EffectiveLimit()
	var q *gocql.Query
	switch {
	case page.BeforeID != "":
		bound, err := snowflake.Parse(page.BeforeID)
		if err != nil {
			return store.PageResult{}, apperr.ErrInvalidCursor
		}
		q = s.db.Query(`SELECT `+columns+` FROM messages WHERE room_id = ? AND id < ? LIMIT ?`, roomID, bound, limit+1)
	case !page.Before.IsZero():
		// id < LowerBound(t) is exactly created_at < t.
		q = s.db.Query(`SELECT `+columns+` FROM messages WHERE room_id = ? AND id < ? LIMIT ?`,
			roomID, snowflake.LowerBound(page.Before), limit+1)
	default:
		q = s.db.Query(`SELECT `+columns+` FROM messages WHERE room_id = ? LIMIT ?`, roomID, limit+1)
	}

	// Rows arrive newest first.
	msgs, err := scanAll(q.WithContext(ctx).Iter())
	if err != nil {
		return store.PageResult{}, apperr.Transient("list messages", err)
	}
	res := store.PageResult{HasMore: len(msgs) > limit}
	if res.HasMore {
		msgs = msgs[:limit]
	}
	slices.Reverse(msgs)
	res.Messages = msgs
	if len(msgs) > 0 {
		res.OldestTimestamp = msgs[0].CreatedAt
		res.NextCursor = msgs[0].ID
	}
	return res, nil
}

func (s *Store) Recent(ctx context.Context, roomID string, n int) ([]model.Message, error) {
	res, err := s.ListByRoom(ctx, roomID, store.Page{Limit: n})
	return res.Messages, err
}

func (s *Store) UnreadCandidates(ctx context.Context, roomID, readerID string) ([]string, error) {
	iter := s.db.Query(`SELECT id, sender_id, is_deleted FROM messages WHERE room_id = ?`, roomID).
		WithContext(ctx).Iter()
	var (
		ids       []string
		id        int64
		senderID  string
		isDeleted bool
	)
	for iter.Scan(&id, &senderID, &isDeleted) {
		if senderID != readerID && !isDeleted {
			ids = append(ids, snowflake.Format(id))
		}
	}
	if err := iter.Close(); err != nil {
		return nil, apperr.Transient("scan unread candidates", err)
	}
	slices.Reverse(ids)
	return ids, nil
}

// MarkRead inserts each receipt on its own with IF NOT EXISTS. One failing
// item does not abort the others.
func (s *Store) MarkRead(ctx context.Context, roomID, readerID string, messageIDs []string) ([]string, error) {
	now := s.opts.Now().UTC().Truncate(time.Millisecond)
	var marked []string
	var errs []error
	for _, messageID := range slices.Compact(slices.Sorted(slices.Values(messageIDs))) {
		id, err := snowflake.Parse(messageID)
		if err != nil {
			continue
		}
		var found int64
		err = s.db.Query(`SELECT id FROM messages WHERE room_id = ? AND id = ?`, roomID, id).WithContext(ctx).Scan(&found)
		if errors.Is(err, gocql.ErrNotFound) {
			continue
		}
		if err != nil {
			errs = append(errs, apperr.Transient("check message "+messageID, err))
			continue
		}
		applied, err := s.db.Query(`INSERT INTO read_receipts (room_id, message_id, user_id, read_at) VALUES (?, ?, ?, ?) IF NOT EXISTS`,
			roomID, id, readerID, now).
			WithContext(ctx).MapScanCAS(map[string]interface{}{})
		if err != nil {
			errs = append(errs, apperr.Transient("insert receipt "+messageID, err))
			continue
		}
		if applied {
			marked = append(marked, messageID)
		}
	}
	if len(errs) > 0 {
		s.log.Warn("Some receipts were not recorded",
			zap.String("room", roomID), zap.Int("failed", len(errs)), zap.Int("marked", len(marked)))
	}
	return marked, errors.Join(errs...)
}

func (s *Store) Receipts(ctx context.Context, roomID string, messageIDs []string) (map[string][]model.Reader, error) {
	var q *gocql.Query
	if len(messageIDs) == 0 {
		q = s.db.Query(`SELECT message_id, user_id, read_at FROM read_receipts WHERE room_id = ?`, roomID)
	} else {
		ids := make([]int64, 0, len(messageIDs))
		for _, m := range messageIDs {
			if id, err := snowflake.Parse(m); err == nil {
				ids = append(ids, id)
			}
		}
		if len(ids) == 0 {
			return map[string][]model.Reader{}, nil
		}
		q = s.db.Query(`SELECT message_id, user_id, read_at FROM read_receipts WHERE room_id = ? AND message_id IN ?`, roomID, ids)
	}

	out := make(map[string][]model.Reader)
	iter := q.WithContext(ctx).Iter()
	var (
		id     int64
		userID string
		readAt time.Time
	)
	for iter.Scan(&id, &userID, &readAt) {
		key := snowflake.Format(id)
		out[key] = append(out[key], model.Reader{UserID: userID, ReadAt: readAt})
	}
	if err := iter.Close(); err != nil {
		return nil, apperr.Transient("list receipts", err)
	}
	for _, readers := range out {
		sort.Slice(readers, func(i, j int) bool {
			if readers[i].ReadAt.Equal(readers[j].ReadAt) {
				return readers[i].UserID < readers[j].UserID
			}
			return readers[i].ReadAt.Before(readers[j].ReadAt)
		})
	}
	return out, nil
}

func scanAll(iter *gocql.Iter) ([]model.Message, error) {
	var out []model.Message
	for {
		var (
			m                          model.Message
			id                         int64
			kind, attachment, replyTo  string
			createdAt, editedAt, delAt time.Time
		)
		if !iter.Scan(&m.RoomID, &id, &m.SenderID, &m.Body, &kind, &attachment, &replyTo, &m.ClientToken,
			&createdAt, &editedAt, &delAt, &m.IsEdited, &m.IsDeleted) {
			break
		}
		m.ID = snowflake.Format(id)
		m.Kind = model.Kind(kind)
		// created_at only keeps milliseconds; the id carries the exact value.
		m.CreatedAt = snowflake.Time(id)
		if !editedAt.IsZero() {
			t := editedAt.UTC()
			m.EditedAt = &t
		}
		if !delAt.IsZero() {
			t := delAt.UTC()
			m.DeletedAt = &t
		}
		if err := decode(attachment, &m.Attachment); err != nil {
			_ = iter.Close()
			return nil, err
		}
		if err := decode(replyTo, &m.ReplyTo); err != nil {
			_ = iter.Close()
			return nil, err
		}
		out = append(out, m)
	}
	return out, iter.Close()
}

func encode[T any](v *T) (string, error) {
	if v == nil {
		return "", nil
	}
	b, err := json.Marshal(v)
	return string(b), err
}

func decode[T any](raw string, dst **T) error {
	if raw == "" {
		return nil
	}
	*dst = new(T)
	return json.Unmarshal([]byte(raw), *dst)
}
