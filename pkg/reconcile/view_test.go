package reconcile

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vinchx/chitchat/pkg/model"
)

var t0 = time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

func msg(id, sender, body string, at time.Time) model.Message {
	return model.Message{ID: id, RoomID: "R", SenderID: sender, Body: body, Kind: model.KindText, CreatedAt: at}
}

func created(m model.Message) model.Event {
	return model.MessageEvent(model.EventMessageCreated, m)
}

func ids(entries []Entry) []string {
	return lo.Map(entries, func(e Entry, _ int) string { return e.Message.ID })
}

func TestResponseThenEcho(t *testing.T) {
	req := require.New(t)
	v := NewView("R", "alice")

	p := v.Submit("hi", nil, nil)
	req.True(p.Provisional())
	req.Equal(StatusPending, p.Status)

	persisted := msg("msg1", "alice", "hi", t0)
	persisted.ClientToken = p.Token
	v.Confirm(p.Token, persisted)

	snap := v.Snapshot()
	req.Len(snap, 1)
	req.Equal("msg1", snap[0].Message.ID)
	req.Equal(StatusConfirmed, snap[0].Status)

	// The broadcast echo and a redelivery of it do not duplicate the entry.
	req.False(v.Apply(created(persisted)))
	req.False(v.Apply(created(persisted)))
	req.Len(v.Snapshot(), 1)
}

func TestEchoThenResponse(t *testing.T) {
	req := require.New(t)
	v := NewView("R", "alice")

	p := v.Submit("hi", nil, nil)
	persisted := msg("msg1", "alice", "hi", t0)
	persisted.ClientToken = p.Token

	req.True(v.Apply(created(persisted)))
	v.Confirm(p.Token, persisted)

	snap := v.Snapshot()
	req.Len(snap, 1)
	req.Equal("msg1", snap[0].Message.ID)
	req.Equal(p.Token, snap[0].Message.ClientToken)
}

func TestConfirmKeepsSlot(t *testing.T) {
	req := require.New(t)
	v := NewView("R", "alice")
	v.Apply(created(msg("msg1", "bob", "before", t0)))

	first := v.Submit("one", nil, nil)
	second := v.Submit("two", nil, nil)

	m := msg("msg2", "alice", "one", t0.Add(time.Second))
	m.ClientToken = first.Token
	v.Confirm(first.Token, m)

	snap := v.Snapshot()
	req.Equal([]string{"msg1", "msg2", ""}, ids(snap))
	req.Equal(second.Token, snap[2].Token)
}

func TestConfirmAfterMissedEchoRestoresOrder(t *testing.T) {
	req := require.New(t)
	v := NewView("R", "alice")

	p := v.Submit("mine", nil, nil)
	// A later message arrives while both the echo and the response of ours
	// are still in flight.
	v.Apply(created(msg("msg5", "bob", "later", t0.Add(time.Second))))

	m := msg("msg3", "alice", "mine", t0)
	m.ClientToken = p.Token
	v.Confirm(p.Token, m)

	req.Equal([]string{"msg3", "msg5"}, ids(v.Snapshot()))
}

func TestFailAndDiscard(t *testing.T) {
	req := require.New(t)
	v := NewView("R", "alice")

	p := v.Submit("hi", nil, nil)
	v.Fail(p.Token, errors.New("boom"))

	snap := v.Snapshot()
	req.Len(snap, 1)
	req.Equal(StatusFailed, snap[0].Status)
	req.Equal("boom", snap[0].Err)

	req.True(v.Discard(p.Token))
	req.False(v.Discard(p.Token))
	req.Empty(v.Snapshot())
}

func TestInsertInIDOrder(t *testing.T) {
	req := require.New(t)
	v := NewView("R", "alice")
	pending := v.Submit("pending", nil, nil)

	for _, id := range []string{"msg3", "msg1", "msg2"} {
		v.Apply(created(msg(id, "bob", id, t0)))
	}

	snap := v.Snapshot()
	req.Equal([]string{"msg1", "msg2", "msg3", ""}, ids(snap))
	req.Equal(pending.Token, snap[3].Token)
}

func TestEditLastWriteWins(t *testing.T) {
	req := require.New(t)
	v := NewView("R", "alice")
	v.Apply(created(msg("msg1", "bob", "v0", t0)))

	edit := func(body string, at time.Time) model.Event {
		m := msg("msg1", "bob", body, t0)
		m.IsEdited = true
		m.EditedAt = &at
		return model.MessageEvent(model.EventMessageEdited, m)
	}

	req.True(v.Apply(edit("v2", t0.Add(2*time.Minute))))
	// A stale edit delivered late is ignored.
	req.False(v.Apply(edit("v1", t0.Add(time.Minute))))
	req.False(v.Apply(edit("v2", t0.Add(2*time.Minute))))

	snap := v.Snapshot()
	req.Equal("v2", snap[0].Message.Body)
	req.True(snap[0].Message.IsEdited)
}

func TestDeleteIsSticky(t *testing.T) {
	req := require.New(t)
	v := NewView("R", "alice")
	v.Apply(created(msg("msg1", "bob", "secret", t0)))

	del := msg("msg1", "bob", "", t0)
	delAt := t0.Add(time.Minute)
	del.IsDeleted = true
	del.DeletedAt = &delAt
	req.True(v.Apply(model.MessageEvent(model.EventMessageDeleted, del)))

	// An edit with a later clock does not resurrect the message, nor does
	// a redelivered create.
	edited := msg("msg1", "bob", "back", t0)
	editAt := t0.Add(time.Hour)
	edited.IsEdited = true
	edited.EditedAt = &editAt
	req.False(v.Apply(model.MessageEvent(model.EventMessageEdited, edited)))
	req.False(v.Apply(created(msg("msg1", "bob", "secret", t0))))

	snap := v.Snapshot()
	req.Len(snap, 1)
	req.True(snap[0].Message.IsDeleted)
	req.Empty(snap[0].Message.Body)
}

func TestParkedMutationMergesOnArrival(t *testing.T) {
	req := require.New(t)
	v := NewView("R", "alice")

	at := t0.Add(time.Minute)
	edited := msg("msg1", "bob", "edited", t0)
	edited.IsEdited = true
	edited.EditedAt = &at
	req.False(v.Apply(model.MessageEvent(model.EventMessageEdited, edited)))
	req.Empty(v.Snapshot())

	req.True(v.Apply(created(msg("msg1", "bob", "original", t0))))
	snap := v.Snapshot()
	req.Len(snap, 1)
	req.Equal("edited", snap[0].Message.Body)
}

func TestPrepend(t *testing.T) {
	req := require.New(t)
	v := NewView("R", "alice")
	v.Apply(created(msg("msg5", "bob", "new", t0)))
	v.Apply(created(msg("msg6", "bob", "newer", t0)))

	page := []model.Message{
		msg("msg2", "bob", "old", t0),
		msg("msg3", "alice", "old", t0),
		msg("msg5", "bob", "new", t0),
	}
	req.Equal(2, v.Prepend(page))
	req.Equal([]string{"msg2", "msg3", "msg5", "msg6"}, ids(v.Snapshot()))
	req.Equal("msg2", v.Oldest())
}

// serverPage mimics the history endpoint over all: up to limit messages
// older than before, oldest first.
func serverPage(all []model.Message, before string, limit int) []model.Message {
	end := len(all)
	if before != "" {
		end = 0
		for end < len(all) && all[end].ID < before {
			end++
		}
	}
	return all[max(end-limit, 0):end]
}

func TestPagingFillsGapBehindCache(t *testing.T) {
	req := require.New(t)
	var all []model.Message
	for i := range 60 {
		all = append(all, msg(fmt.Sprintf("msg%03d", i), "bob", fmt.Sprintf("m%d", i), t0))
	}

	v := NewView("R", "alice")
	req.Equal(2, v.Seed(all[:2]))
	req.Empty(v.Oldest(), "cached entries are not a cursor")

	v.Latest(serverPage(all, "", 50))
	req.Equal("msg010", v.Oldest())

	for {
		page := serverPage(all, v.Oldest(), 50)
		if len(page) == 0 {
			break
		}
		v.Prepend(page)
	}

	snap := v.Snapshot()
	req.Len(snap, 60)
	req.Equal(ids(lo.Map(all, func(m model.Message, _ int) Entry { return Entry{Message: m} })), ids(snap))
	for _, e := range snap {
		req.Equal(StatusConfirmed, e.Status, e.Message.ID)
	}
	req.Equal("msg000", v.Oldest())
}

func TestLatestResetsCursor(t *testing.T) {
	req := require.New(t)
	v := NewView("R", "alice")
	v.Latest([]model.Message{msg("msg10", "bob", "a", t0), msg("msg11", "bob", "b", t0)})
	v.Prepend([]model.Message{msg("msg08", "bob", "c", t0)})
	req.Equal("msg08", v.Oldest())

	// After a reconnect the newest page may not touch what is already held.
	v.Latest([]model.Message{msg("msg20", "bob", "d", t0)})
	req.Equal("msg20", v.Oldest())
	req.Len(v.Snapshot(), 4)
}

func TestOtherRoomsIgnored(t *testing.T) {
	v := NewView("R", "alice")
	other := msg("msg1", "bob", "elsewhere", t0)
	other.RoomID = "G"

	assert.False(t, v.Apply(created(other)))
	assert.Zero(t, v.Prepend([]model.Message{other}))
	assert.False(t, v.Apply(model.Event{Type: model.EventTypingStarted, RoomID: "R", UserID: "bob"}))
	assert.Empty(t, v.Snapshot())
}

func TestSeedIsReplacedByServer(t *testing.T) {
	req := require.New(t)
	v := NewView("R", "alice")

	req.Equal(2, v.Seed([]model.Message{msg("msg1", "bob", "a", t0), msg("msg2", "bob", "b", t0)}))
	req.Equal(StatusCached, v.Snapshot()[0].Status)

	del := msg("msg2", "bob", "", t0)
	at := t0.Add(time.Minute)
	del.IsDeleted = true
	del.DeletedAt = &at
	v.Prepend([]model.Message{msg("msg1", "bob", "a", t0), del})

	snap := v.Snapshot()
	req.Equal(StatusConfirmed, snap[0].Status)
	req.Equal(StatusConfirmed, snap[1].Status)
	req.True(snap[1].Message.IsDeleted)
}
