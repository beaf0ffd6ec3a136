package chat

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vinchx/chitchat/pkg/apperr"
	"github.com/vinchx/chitchat/pkg/bus"
	"github.com/vinchx/chitchat/pkg/hub"
	"github.com/vinchx/chitchat/pkg/model"
	"github.com/vinchx/chitchat/pkg/rooms"
	"github.com/vinchx/chitchat/pkg/store"
	"github.com/vinchx/chitchat/pkg/store/memory"
	"github.com/vinchx/chitchat/pkg/store/storetest"
	"go.uber.org/zap"
)

type recorder struct {
	mu  sync.Mutex
	evs []model.Event
}

func (r *recorder) Publish(_ context.Context, ev model.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evs = append(r.evs, ev)
	return nil
}

func (r *recorder) ofType(t model.EventType) []model.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Event
	for _, ev := range r.evs {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

type inbox struct {
	user  string
	queue chan []byte
}

func (i *inbox) UserID() string { return i.user }

func (i *inbox) Deliver(b []byte) bool {
	select {
	case i.queue <- b:
		return true
	default:
		return false
	}
}

type fixture struct {
	svc    *Service
	clock  *storetest.Clock
	events *recorder
	hub    *hub.Hub
	rooms  *rooms.Memory
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := storetest.NewClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	st, err := memory.New(store.Options{Now: clock.Now})
	require.NoError(t, err)

	reg := rooms.NewMemory(
		rooms.Room{ID: "R", Type: rooms.TypePrivate, Members: []string{"A", "B"}},
		rooms.Room{ID: "G", Type: rooms.TypeGroup, Members: []string{"A", "B", "C"}},
	)
	h := hub.New(hub.Options{}, zap.NewNop())
	t.Cleanup(h.Close)
	events := &recorder{}

	svc := NewService(Config{
		Messages: st,
		Receipts: st,
		Rooms:    reg,
		Bus:      bus.NewLocal(h, events),
		Logger:   zap.NewNop(),
	})
	return &fixture{svc: svc, clock: clock, events: events, hub: h, rooms: reg}
}

// flush waits for the outbox so the recorder holds every event so far.
func (f *fixture) flush(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, f.svc.Flush(ctx))
}

func TestSendReadScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	b := &inbox{user: "B", queue: make(chan []byte, 16)}
	f.hub.Join("R", b)
	<-b.queue // presence

	m, err := f.svc.Create(ctx, "A", CreateInput{RoomID: "R", Body: "hi"})
	require.NoError(t, err)
	require.NotEmpty(t, m.ID)

	ev, err := model.UnmarshalEvent(<-b.queue)
	require.NoError(t, err)
	assert.Equal(t, model.EventMessageCreated, ev.Type)
	assert.Equal(t, m.ID, ev.MessageID)
	assert.Equal(t, "hi", ev.Message.Body)

	marked, err := f.svc.MarkRead(ctx, "B", "R", MarkInput{MessageIDs: []string{m.ID}})
	require.NoError(t, err)
	assert.Equal(t, 1, marked)

	got, err := f.svc.GetReceipts(ctx, "A", "R", []string{m.ID})
	require.NoError(t, err)
	require.Contains(t, got, m.ID)
	s := got[m.ID]
	assert.Equal(t, 1, s.ReadCount)
	assert.Equal(t, 2, s.TotalMembers)
	assert.True(t, s.IsReadByAll)
	assert.Equal(t, "B", s.ReadBy[0].UserID)

	room, err := f.rooms.GetRoom(ctx, "R")
	require.NoError(t, err)
	assert.Equal(t, "hi", room.LastMessage)
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, "A", CreateInput{Body: "hi"})
	require.ErrorIs(t, err, apperr.ErrMissingRoom)

	_, err = f.svc.Create(ctx, "A", CreateInput{RoomID: "R", Body: "   "})
	require.ErrorIs(t, err, apperr.ErrMissingContent)

	_, err = f.svc.Create(ctx, "C", CreateInput{RoomID: "R", Body: "let me in"})
	require.ErrorIs(t, err, apperr.ErrNotMember)

	_, err = f.svc.Create(ctx, "A", CreateInput{RoomID: "nope", Body: "hi"})
	require.ErrorIs(t, err, apperr.ErrRoomNotFound)

	_, err = f.svc.Create(ctx, "A", CreateInput{RoomID: "R", Body: "re", ReplyToID: "msg0000000000000000001"})
	require.ErrorIs(t, err, apperr.ErrReplyTargetNotFound)

	_, err = f.svc.Create(ctx, "A", CreateInput{RoomID: "R", Attachment: &model.Attachment{URL: "not a url"}})
	require.ErrorIs(t, err, apperr.ErrInvalidAttachment)

	assert.Empty(t, f.events.ofType(model.EventMessageCreated))
}

func TestAttachmentOnlyMessage(t *testing.T) {
	f := newFixture(t)
	m, err := f.svc.Create(context.Background(), "A", CreateInput{
		RoomID:     "R",
		Attachment: &model.Attachment{URL: "https://cdn.example.com/cat.jpg", MimeType: "image/jpeg", Size: 100},
	})
	require.NoError(t, err)
	assert.Equal(t, model.KindImage, m.Kind)
	assert.Equal(t, "cat.jpg", m.Attachment.Filename)
}

func TestDeleteThenEditScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	m, err := f.svc.Create(ctx, "A", CreateInput{RoomID: "R", Body: "hi"})
	require.NoError(t, err)

	_, err = f.svc.Delete(ctx, "B", m.ID)
	require.ErrorIs(t, err, apperr.ErrForbidden)

	f.clock.Advance(30 * time.Minute)
	deleted, err := f.svc.Delete(ctx, "A", m.ID)
	require.NoError(t, err)
	assert.True(t, deleted.IsDeleted)
	assert.Empty(t, deleted.Body)
	require.NotNil(t, deleted.DeletedAt)

	f.clock.Advance(90 * time.Minute)
	again, err := f.svc.Delete(ctx, "A", m.ID)
	require.NoError(t, err)
	assert.Equal(t, *deleted.DeletedAt, *again.DeletedAt)

	_, err = f.svc.Edit(ctx, "A", m.ID, "changed my mind")
	require.ErrorIs(t, err, apperr.ErrAlreadyDeleted)

	// One delete event, carrying no content.
	f.flush(t)
	evs := f.events.ofType(model.EventMessageDeleted)
	require.Len(t, evs, 1)
	assert.Empty(t, evs[0].Message.Body)

	page, err := f.svc.List(ctx, "B", "R", store.Page{})
	require.NoError(t, err)
	require.Len(t, page.Messages, 1)
	assert.True(t, page.Messages[0].IsDeleted)
	assert.Empty(t, page.Messages[0].Body)
}

func TestEditPublishes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m, err := f.svc.Create(ctx, "A", CreateInput{RoomID: "R", Body: "helo"})
	require.NoError(t, err)

	_, err = f.svc.Edit(ctx, "A", m.ID, "")
	require.ErrorIs(t, err, apperr.ErrMissingBody)
	_, err = f.svc.Edit(ctx, "B", m.ID, "hijack")
	require.ErrorIs(t, err, apperr.ErrForbidden)
	_, err = f.svc.Edit(ctx, "A", "msg9999999999999999999", "x")
	require.ErrorIs(t, err, apperr.ErrMessageNotFound)

	f.clock.Advance(time.Minute)
	edited, err := f.svc.Edit(ctx, "A", m.ID, "hello")
	require.NoError(t, err)
	assert.True(t, edited.IsEdited)

	f.flush(t)
	evs := f.events.ofType(model.EventMessageEdited)
	require.Len(t, evs, 1)
	assert.Equal(t, "hello", evs[0].Message.Body)
	assert.True(t, evs[0].At.After(m.CreatedAt))
}

func TestMarkAllScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var ids []string
	for range 5 {
		m, err := f.svc.Create(ctx, "A", CreateInput{RoomID: "R", Body: "ping"})
		require.NoError(t, err)
		ids = append(ids, m.ID)
	}
	_, err := f.svc.Create(ctx, "B", CreateInput{RoomID: "R", Body: "own message"})
	require.NoError(t, err)

	marked, err := f.svc.MarkRead(ctx, "B", "R", MarkInput{MessageIDs: ids[:2]})
	require.NoError(t, err)
	require.Equal(t, 2, marked)

	marked, err = f.svc.MarkRead(ctx, "B", "R", MarkInput{All: true})
	require.NoError(t, err)
	assert.Equal(t, 3, marked)

	marked, err = f.svc.MarkRead(ctx, "B", "R", MarkInput{All: true})
	require.NoError(t, err)
	assert.Equal(t, 0, marked)

	f.flush(t)
	evs := f.events.ofType(model.EventRoomMarkedRead)
	require.Len(t, evs, 1)
	assert.Equal(t, "B", evs[0].UserID)
	assert.Equal(t, 3, evs[0].Count)
	assert.ElementsMatch(t, ids[2:], evs[0].MessageIDs, "already read ids are left out")
}

func TestMarkReadRequiresMembership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m, err := f.svc.Create(ctx, "A", CreateInput{RoomID: "R", Body: "secret"})
	require.NoError(t, err)

	_, err = f.svc.MarkRead(ctx, "C", "R", MarkInput{MessageIDs: []string{m.ID}})
	require.ErrorIs(t, err, apperr.ErrNotMember)
	_, err = f.svc.GetReceipts(ctx, "C", "R", nil)
	require.ErrorIs(t, err, apperr.ErrNotMember)
}

func TestReceiptsExcludeSender(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m, err := f.svc.Create(ctx, "A", CreateInput{RoomID: "G", Body: "hello group"})
	require.NoError(t, err)

	for _, u := range []string{"A", "B"} {
		_, err := f.svc.MarkRead(ctx, u, "G", MarkInput{MessageIDs: []string{m.ID}})
		require.NoError(t, err)
	}
	got, err := f.svc.GetReceipts(ctx, "A", "G", nil)
	require.NoError(t, err)
	s := got[m.ID]
	assert.Equal(t, 1, s.ReadCount)
	assert.Equal(t, 3, s.TotalMembers)
	assert.False(t, s.IsReadByAll)

	_, err = f.svc.MarkRead(ctx, "C", "G", MarkInput{MessageIDs: []string{m.ID}})
	require.NoError(t, err)
	got, err = f.svc.GetReceipts(ctx, "A", "G", []string{m.ID, "msg0000000000000000007"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[m.ID].IsReadByAll)
}

func TestReceiptUpdatesAreCoalesced(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m1, err := f.svc.Create(ctx, "A", CreateInput{RoomID: "R", Body: "one"})
	require.NoError(t, err)
	m2, err := f.svc.Create(ctx, "A", CreateInput{RoomID: "R", Body: "two"})
	require.NoError(t, err)

	_, err = f.svc.MarkRead(ctx, "B", "R", MarkInput{MessageIDs: []string{m1.ID}})
	require.NoError(t, err)
	_, err = f.svc.MarkRead(ctx, "B", "R", MarkInput{MessageIDs: []string{m2.ID, m1.ID}})
	require.NoError(t, err)

	f.svc.FlushReceipts(ctx)
	f.flush(t)
	evs := f.events.ofType(model.EventReceiptUpdated)
	require.Len(t, evs, 1)
	assert.ElementsMatch(t, []string{m1.ID, m2.ID}, evs[0].MessageIDs)
	assert.Equal(t, 1, evs[0].Receipts[m2.ID].ReadCount)

	f.svc.FlushReceipts(ctx)
	f.flush(t)
	assert.Len(t, f.events.ofType(model.EventReceiptUpdated), 1)
}

func TestRunReceiptNotifier(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m, err := f.svc.Create(ctx, "A", CreateInput{RoomID: "R", Body: "tick"})
	require.NoError(t, err)
	_, err = f.svc.MarkRead(ctx, "B", "R", MarkInput{MessageIDs: []string{m.ID}})
	require.NoError(t, err)

	go f.svc.RunReceiptNotifier(ctx, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		return len(f.events.ofType(model.EventReceiptUpdated)) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestPublishOrderFollowsIDs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for range 40 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Create(ctx, "A", CreateInput{RoomID: "R", Body: "race"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	f.flush(t)
	evs := f.events.ofType(model.EventMessageCreated)
	require.Len(t, evs, 40)
	for i := 1; i < len(evs); i++ {
		assert.Less(t, evs[i-1].MessageID, evs[i].MessageID)
	}
}

func TestConcurrentDeletesPublishOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m, err := f.svc.Create(ctx, "A", CreateInput{RoomID: "R", Body: "bye"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := f.svc.Delete(ctx, "A", m.ID)
			assert.NoError(t, err)
			assert.True(t, got.IsDeleted)
		}()
	}
	wg.Wait()

	f.flush(t)
	assert.Len(t, f.events.ofType(model.EventMessageDeleted), 1)
}

// stalledBus holds every publish until its context expires.
type stalledBus struct{ calls atomic.Int32 }

func (b *stalledBus) Publish(ctx context.Context, _ model.Event) error {
	b.calls.Add(1)
	<-ctx.Done()
	return ctx.Err()
}

func TestCreateReturnsBeforePublish(t *testing.T) {
	st, err := memory.New(store.Options{})
	require.NoError(t, err)
	b := &stalledBus{}
	svc := NewService(Config{
		Messages:       st,
		Receipts:       st,
		Rooms:          rooms.NewMemory(rooms.Room{ID: "R", Type: rooms.TypePrivate, Members: []string{"A", "B"}}),
		Bus:            b,
		PublishTimeout: 500 * time.Millisecond,
	})

	start := time.Now()
	for range 3 {
		_, err := svc.Create(context.Background(), "A", CreateInput{RoomID: "R", Body: "hello"})
		require.NoError(t, err)
	}
	assert.Less(t, time.Since(start), 250*time.Millisecond)

	// The queue still works through every event, one at a time.
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, svc.Flush(ctx))
	assert.Equal(t, int32(3), b.calls.Load())
}

type observerFunc func(model.Message)

func (f observerFunc) Observe(m model.Message) { f(m) }

func TestObserverSeesCreatedMessages(t *testing.T) {
	f := newFixture(t)
	var seen []string
	f.svc.SetObserver(observerFunc(func(m model.Message) { seen = append(seen, m.Body) }))

	_, err := f.svc.Create(context.Background(), "A", CreateInput{RoomID: "R", Body: "/ai hello"})
	require.NoError(t, err)
	_, err = f.svc.PostAs(context.Background(), model.AISenderID, "R", "hi there")
	require.NoError(t, err)
	assert.Equal(t, []string{"/ai hello", "hi there"}, seen)

	_, err = f.svc.PostAs(context.Background(), model.AISenderID, "missing", "x")
	require.ErrorIs(t, err, apperr.ErrRoomNotFound)
}
