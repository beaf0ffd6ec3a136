// Package storetest is a behavioural suite run against every store
// implementation.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vinchx/chitchat/pkg/apperr"
	"github.com/vinchx/chitchat/pkg/model"
	"github.com/vinchx/chitchat/pkg/store"
)

// Clock is a manually advanced time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock(t time.Time) *Clock { return &Clock{now: t} }

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Factory returns fresh stores sharing one backing state.
type Factory func(t *testing.T, opts store.Options) (store.MessageStore, store.ReceiptStore)

func Run(t *testing.T, newStores Factory) {
	cases := map[string]func(t *testing.T, newStores Factory){
		"CreateAssignsOrderedIds":         testCreateAssignsOrderedIDs,
		"CreateRejectsMissingContent":     testCreateRejectsMissingContent,
		"ReplySnapshotSurvivesDelete":     testReplySnapshot,
		"ReplyTargetMustBeInRoom":         testReplyTargetInRoom,
		"EditRules":                       testEditRules,
		"DeleteIsMonotonicAndIdempotent":  testDeleteScenario,
		"DeleteForbiddenAndTooOld":        testDeleteForbiddenAndTooOld,
		"ConcurrentDeletesTombstoneOnce":  testConcurrentDeletes,
		"PaginationIsContiguous":          testPagination,
		"PaginationByTimestamp":           testPaginationByTimestamp,
		"TimestampCursorWithFrozenClock":  testTimestampCursorFrozenClock,
		"MarkReadCountsOnce":              testMarkReadCountsOnce,
		"MarkAllSnapshot":                 testMarkAllScenario,
		"MarkReadIgnoresForeignIds":       testMarkReadForeignIDs,
		"ConcurrentCreatesGetDistinctIds": testConcurrentCreates,
	}
	for name, fn := range cases {
		t.Run(name, func(t *testing.T) { fn(t, newStores) })
	}
}

func room(t *testing.T) string {
	return fmt.Sprintf("room-%d", time.Now().UnixNano())
}

func send(t *testing.T, ms store.MessageStore, roomID, sender, body string) model.Message {
	t.Helper()
	m, err := ms.Create(context.Background(), store.NewMessage{RoomID: roomID, SenderID: sender, Body: body})
	require.NoError(t, err)
	return m
}

func testCreateAssignsOrderedIDs(t *testing.T, newStores Factory) {
	req := require.New(t)
	ms, _ := newStores(t, store.Options{})
	r := room(t)

	a := send(t, ms, r, "alice", "hi")
	b := send(t, ms, r, "bob", "hello")
	req.NotEmpty(a.ID)
	req.Less(a.ID, b.ID)
	req.Equal(model.KindText, a.Kind)
	req.False(a.CreatedAt.IsZero())

	got, err := ms.Get(context.Background(), a.ID)
	req.NoError(err)
	req.Equal("hi", got.Body)
	req.Equal(r, got.RoomID)

	_, err = ms.Get(context.Background(), "msg0000000000000000001")
	req.ErrorIs(err, apperr.ErrMessageNotFound)
}

func testCreateRejectsMissingContent(t *testing.T, newStores Factory) {
	req := require.New(t)
	ms, _ := newStores(t, store.Options{})
	_, err := ms.Create(context.Background(), store.NewMessage{RoomID: room(t), SenderID: "alice", Body: "  "})
	req.ErrorIs(err, apperr.ErrMissingContent)

	m, err := ms.Create(context.Background(), store.NewMessage{
		RoomID:     room(t),
		SenderID:   "alice",
		Kind:       model.KindImage,
		Attachment: &model.Attachment{Type: "image", URL: "https://cdn.example.com/a.png", MimeType: "image/png"},
	})
	req.NoError(err)
	req.Equal(model.KindImage, m.Kind)
	req.Equal("https://cdn.example.com/a.png", m.Attachment.URL)
}

func testReplySnapshot(t *testing.T, newStores Factory) {
	req := require.New(t)
	ctx := context.Background()
	ms, _ := newStores(t, store.Options{})
	r := room(t)

	original := send(t, ms, r, "alice", "original text")
	reply, err := ms.Create(ctx, store.NewMessage{RoomID: r, SenderID: "bob", Body: "answer", ReplyToID: original.ID})
	req.NoError(err)
	req.Equal(original.ID, reply.ReplyTo.MessageID)
	req.Equal("original text", reply.ReplyTo.Text)
	req.Equal("alice", reply.ReplyTo.Sender)

	_, _, err = ms.Delete(ctx, original.ID, "alice")
	req.NoError(err)

	reloaded, err := ms.Get(ctx, reply.ID)
	req.NoError(err)
	req.Equal("original text", reloaded.ReplyTo.Text)
}

func testReplyTargetInRoom(t *testing.T, newStores Factory) {
	req := require.New(t)
	ms, _ := newStores(t, store.Options{})
	other := send(t, ms, room(t)+"-other", "alice", "elsewhere")

	_, err := ms.Create(context.Background(), store.NewMessage{RoomID: room(t), SenderID: "bob", Body: "x", ReplyToID: other.ID})
	req.ErrorIs(err, apperr.ErrReplyTargetNotFound)

	_, err = ms.Create(context.Background(), store.NewMessage{RoomID: room(t), SenderID: "bob", Body: "x", ReplyToID: "msg0000000000000000007"})
	req.ErrorIs(err, apperr.ErrReplyTargetNotFound)
}

func testEditRules(t *testing.T, newStores Factory) {
	req := require.New(t)
	ctx := context.Background()
	ms, _ := newStores(t, store.Options{})
	m := send(t, ms, room(t), "alice", "tpyo")

	_, err := ms.Edit(ctx, m.ID, "bob", "hijack")
	req.ErrorIs(err, apperr.ErrForbidden)

	_, err = ms.Edit(ctx, "msg0000000000000000003", "alice", "x")
	req.ErrorIs(err, apperr.ErrMessageNotFound)

	edited, err := ms.Edit(ctx, m.ID, "alice", "typo")
	req.NoError(err)
	req.True(edited.IsEdited)
	req.NotNil(edited.EditedAt)
	req.Equal("typo", edited.Body)

	_, _, err = ms.Delete(ctx, m.ID, "alice")
	req.NoError(err)
	_, err = ms.Edit(ctx, m.ID, "alice", "again")
	req.ErrorIs(err, apperr.ErrAlreadyDeleted)
}

// A deletes at T+30min, deletes again at T+2h (idempotent), then edits at
// T+2h (AlreadyDeleted).
func testDeleteScenario(t *testing.T, newStores Factory) {
	req := require.New(t)
	ctx := context.Background()
	clock := NewClock(time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC))
	ms, _ := newStores(t, store.Options{Now: clock.Now})
	m := send(t, ms, room(t), "alice", "hi")

	clock.Advance(30 * time.Minute)
	first, deleted, err := ms.Delete(ctx, m.ID, "alice")
	req.NoError(err)
	req.True(deleted)
	req.True(first.IsDeleted)
	req.NotNil(first.DeletedAt)

	clock.Advance(90 * time.Minute)
	second, deleted, err := ms.Delete(ctx, m.ID, "alice")
	req.NoError(err)
	req.False(deleted, "a repeat delete is not a new tombstone")
	req.True(second.IsDeleted)
	req.True(first.DeletedAt.Equal(*second.DeletedAt))

	_, err = ms.Edit(ctx, m.ID, "alice", "resurrect")
	req.ErrorIs(err, apperr.ErrAlreadyDeleted)

	stored, err := ms.Get(ctx, m.ID)
	req.NoError(err)
	req.True(stored.IsDeleted)
	req.Equal("hi", stored.Body, "soft delete keeps the record")
}

func testConcurrentDeletes(t *testing.T, newStores Factory) {
	req := require.New(t)
	ms, _ := newStores(t, store.Options{})
	m := send(t, ms, room(t), "alice", "twice")

	const callers = 8
	var wg sync.WaitGroup
	var tombstones atomic.Int32
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, deleted, err := ms.Delete(context.Background(), m.ID, "alice")
			if !assert.NoError(t, err) {
				return
			}
			assert.True(t, got.IsDeleted)
			if deleted {
				tombstones.Add(1)
			}
		}()
	}
	wg.Wait()
	req.Equal(int32(1), tombstones.Load())
}

func testDeleteForbiddenAndTooOld(t *testing.T, newStores Factory) {
	req := require.New(t)
	ctx := context.Background()
	clock := NewClock(time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC))
	ms, _ := newStores(t, store.Options{Now: clock.Now})
	m := send(t, ms, room(t), "alice", "old news")

	_, _, err := ms.Delete(ctx, m.ID, "bob")
	req.ErrorIs(err, apperr.ErrForbidden)

	clock.Advance(time.Hour + time.Second)
	_, _, err = ms.Delete(ctx, m.ID, "alice")
	req.ErrorIs(err, apperr.ErrTooOld)

	stored, err := ms.Get(ctx, m.ID)
	req.NoError(err)
	req.False(stored.IsDeleted)

	_, _, err = ms.Delete(ctx, "msg0000000000000000009", "alice")
	req.ErrorIs(err, apperr.ErrMessageNotFound)
}

func testPagination(t *testing.T, newStores Factory) {
	req := require.New(t)
	ctx := context.Background()
	ms, _ := newStores(t, store.Options{})
	r := room(t)

	var want []string
	for i := 0; i < 23; i++ {
		want = append(want, send(t, ms, r, "alice", fmt.Sprintf("m%d", i)).ID)
	}

	var pages [][]model.Message
	page := store.Page{Limit: 5}
	for {
		res, err := ms.ListByRoom(ctx, r, page)
		req.NoError(err)
		pages = append(pages, res.Messages)
		if !res.HasMore {
			break
		}
		req.Equal(res.Messages[0].ID, res.NextCursor)
		req.True(res.OldestTimestamp.Equal(res.Messages[0].CreatedAt))
		page.BeforeID = res.NextCursor
	}
	req.Len(pages, 5)

	var got []string
	for i := len(pages) - 1; i >= 0; i-- {
		for j, m := range pages[i] {
			if j > 0 {
				req.Less(pages[i][j-1].ID, m.ID, "page is oldest to newest")
			}
			got = append(got, m.ID)
		}
	}
	req.Equal(want, got)
}

func testPaginationByTimestamp(t *testing.T, newStores Factory) {
	req := require.New(t)
	ctx := context.Background()
	clock := NewClock(time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC))
	ms, _ := newStores(t, store.Options{Now: clock.Now})
	r := room(t)

	early := send(t, ms, r, "alice", "early")
	clock.Advance(time.Minute)
	late := send(t, ms, r, "alice", "late")

	res, err := ms.ListByRoom(ctx, r, store.Page{Before: late.CreatedAt, Limit: 10})
	req.NoError(err)
	req.Len(res.Messages, 1)
	req.Equal(early.ID, res.Messages[0].ID)
	req.False(res.HasMore)

	_, err = ms.ListByRoom(ctx, r, store.Page{BeforeID: "garbage"})
	req.ErrorIs(err, apperr.ErrInvalidCursor)
}

// Every message lands in the same millisecond; walking back by
// OldestTimestamp must still visit each one exactly once.
func testTimestampCursorFrozenClock(t *testing.T, newStores Factory) {
	req := require.New(t)
	ctx := context.Background()
	clock := NewClock(time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC))
	ms, _ := newStores(t, store.Options{Now: clock.Now})
	r := room(t)

	var want []string
	for i := 0; i < 3; i++ {
		want = append(want, send(t, ms, r, "alice", fmt.Sprintf("m%d", i)).ID)
	}

	first, err := ms.ListByRoom(ctx, r, store.Page{Limit: 2})
	req.NoError(err)
	req.Len(first.Messages, 2)
	req.True(first.HasMore)

	second, err := ms.ListByRoom(ctx, r, store.Page{Before: first.OldestTimestamp, Limit: 2})
	req.NoError(err)
	req.Len(second.Messages, 1)
	req.False(second.HasMore)
	req.Equal(want[0], second.Messages[0].ID)

	for i := 3; i < 11; i++ {
		want = append(want, send(t, ms, r, "bob", fmt.Sprintf("m%d", i)).ID)
	}
	var got []string
	page := store.Page{Limit: 3}
	for {
		res, err := ms.ListByRoom(ctx, r, page)
		req.NoError(err)
		for j := 1; j < len(res.Messages); j++ {
			req.True(res.Messages[j-1].CreatedAt.Before(res.Messages[j].CreatedAt))
		}
		got = append(ids(res.Messages), got...)
		if !res.HasMore {
			break
		}
		page.Before = res.OldestTimestamp
	}
	req.Equal(want, got)
}

func ids(msgs []model.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func testMarkReadCountsOnce(t *testing.T, newStores Factory) {
	req := require.New(t)
	ctx := context.Background()
	ms, rs := newStores(t, store.Options{})
	r := room(t)
	m := send(t, ms, r, "alice", "hi")

	marked, err := rs.MarkRead(ctx, r, "bob", []string{m.ID})
	req.NoError(err)
	req.Equal([]string{m.ID}, marked)

	marked, err = rs.MarkRead(ctx, r, "bob", []string{m.ID, m.ID})
	req.NoError(err)
	req.Empty(marked)

	receipts, err := rs.Receipts(ctx, r, []string{m.ID})
	req.NoError(err)
	req.Len(receipts[m.ID], 1)
	req.Equal("bob", receipts[m.ID][0].UserID)
}

// Five messages from A, two already read by B: markAll marks three, then zero.
func testMarkAllScenario(t *testing.T, newStores Factory) {
	req := require.New(t)
	ctx := context.Background()
	ms, rs := newStores(t, store.Options{})
	r := room(t)

	var ids []string
	for i := 0; i < 5; i++ {
		ids = append(ids, send(t, ms, r, "alice", fmt.Sprintf("m%d", i)).ID)
	}
	send(t, ms, r, "bob", "mine")
	deleted := send(t, ms, r, "alice", "gone")
	_, _, err := ms.Delete(ctx, deleted.ID, "alice")
	req.NoError(err)

	marked, err := rs.MarkRead(ctx, r, "bob", ids[:2])
	req.NoError(err)
	req.ElementsMatch(ids[:2], marked)

	candidates, err := ms.UnreadCandidates(ctx, r, "bob")
	req.NoError(err)
	req.ElementsMatch(ids, candidates)

	// Only the three unread ones come back as newly marked.
	marked, err = rs.MarkRead(ctx, r, "bob", candidates)
	req.NoError(err)
	req.ElementsMatch(ids[2:], marked)

	candidates, err = ms.UnreadCandidates(ctx, r, "bob")
	req.NoError(err)
	marked, err = rs.MarkRead(ctx, r, "bob", candidates)
	req.NoError(err)
	req.Empty(marked)
}

func testMarkReadForeignIDs(t *testing.T, newStores Factory) {
	req := require.New(t)
	ctx := context.Background()
	ms, rs := newStores(t, store.Options{})
	r := room(t)
	elsewhere := send(t, ms, r+"-x", "alice", "not here")

	marked, err := rs.MarkRead(ctx, r, "bob", []string{elsewhere.ID, "msg0000000000000000005", "bogus"})
	req.NoError(err)
	req.Empty(marked)

	receipts, err := rs.Receipts(ctx, r, []string{elsewhere.ID})
	req.NoError(err)
	req.Empty(receipts[elsewhere.ID])
}

func testConcurrentCreates(t *testing.T, newStores Factory) {
	req := require.New(t)
	ms, _ := newStores(t, store.Options{})
	r := room(t)

	const writers, each = 8, 10
	var wg sync.WaitGroup
	var mu sync.Mutex
	ids := make(map[string]struct{})
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < each; i++ {
				m, err := ms.Create(context.Background(), store.NewMessage{RoomID: r, SenderID: fmt.Sprintf("u%d", w), Body: "x"})
				if err != nil {
					t.Error(err)
					return
				}
				mu.Lock()
				ids[m.ID] = struct{}{}
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	req.Len(ids, writers*each)

	res, err := ms.ListByRoom(context.Background(), r, store.Page{Limit: store.MaxPageLimit})
	req.NoError(err)
	req.Len(res.Messages, writers*each)
}
