// Package reconcile keeps a client's local picture of one room consistent with
// the server: optimistic sends, HTTP responses, broadcast echoes, edits,
// deletes and older history pages all merge into a single ordered view.
package reconcile

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vinchx/chitchat/pkg/model"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
	// StatusCached marks entries seeded from the local cache that the server
	// has not re-sent yet.
	StatusCached    Status = "cached"
)

// Entry is one row of the view. Provisional entries have an empty
// Message.ID and a Token.
type Entry struct {
	Message model.Message
	Token   string
	Status  Status
	Err     string
}

func (e Entry) Provisional() bool { return e.Message.ID == "" }

type View struct {
	mu     sync.Mutex
	roomID string
	userID string
	now    func() time.Time

	entries []*Entry
	byID    map[string]*Entry
	byToken map[string]*Entry

	// parked holds mutations for ids that have not been seen yet.
	parked map[string]model.Message

	// floor is the oldest id of the history the server has sent without
	// gaps up to the present. Cached entries never lower it.
	floor string
}

func NewView(roomID, userID string) *View {
	return &View{
		roomID:  roomID,
		userID:  userID,
		now:     time.Now,
		byID:    make(map[string]*Entry),
		byToken: make(map[string]*Entry),
		parked:  make(map[string]model.Message),
	}
}

func (v *View) RoomID() string { return v.roomID }

// Submit appends a provisional entry and returns its correlation token, which
// the caller sends as clientToken with the create request.
func (v *View) Submit(body string, attachment *model.Attachment, replyTo *model.ReplySnapshot) Entry {
	v.mu.Lock()
	defer v.mu.Unlock()

	kind := model.KindText
	if attachment != nil && attachment.Type != "" {
		kind = model.Kind(attachment.Type)
	}
	e := &Entry{
		Token:  uuid.NewString(),
		Status: StatusPending,
		Message: model.Message{
			RoomID:     v.roomID,
			SenderID:   v.userID,
			Body:       body,
			Kind:       kind,
			Attachment: attachment,
			ReplyTo:    replyTo,
			CreatedAt:  v.now().UTC(),
		},
	}
	e.Message.ClientToken = e.Token
	v.entries = append(v.entries, e)
	v.byToken[e.Token] = e
	return *e
}

// Confirm resolves a provisional entry with the persisted message from the
// create response.
func (v *View) Confirm(token string, m model.Message) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if m.RoomID != v.roomID {
		return
	}
	if m.ClientToken == "" {
		m.ClientToken = token
	}
	v.resolve(token, m)
}

// Fail flags a provisional entry. It stays in the view until Discard.
func (v *View) Fail(token string, err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	e, ok := v.byToken[token]
	if !ok {
		return
	}
	e.Status = StatusFailed
	if err != nil {
		e.Err = err.Error()
	}
}

// Discard removes a provisional entry that is pending or failed.
func (v *View) Discard(token string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	e, ok := v.byToken[token]
	if !ok {
		return false
	}
	delete(v.byToken, token)
	v.remove(e)
	return true
}

// Apply merges a broadcast event. It reports whether the view changed.
func (v *View) Apply(ev model.Event) bool {
	if ev.RoomID != v.roomID || ev.Message == nil {
		return false
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	m := *ev.Message
	switch ev.Type {
	case model.EventMessageCreated:
		if _, ok := v.byID[m.ID]; !ok && m.ClientToken != "" {
			if _, mine := v.byToken[m.ClientToken]; mine {
				return v.resolve(m.ClientToken, m)
			}
		}
		return v.upsert(m, StatusConfirmed)
	case model.EventMessageEdited, model.EventMessageDeleted:
		if e, ok := v.byID[m.ID]; ok {
			return merge(e, m, StatusConfirmed)
		}
		v.park(m)
		return false
	}
	return false
}

// Latest merges the newest history page. History below it is unknown
// until paged in again, whatever the cache holds.
func (v *View) Latest(page []model.Message) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.floor = ""
	return v.loadLocked(page, StatusConfirmed)
}

// Prepend merges an older page fetched with Oldest as the cursor.
func (v *View) Prepend(page []model.Message) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.loadLocked(page, StatusConfirmed)
}

// Seed loads a cached snapshot. Cached entries are replaced as soon as the
// server sends the same ids.
func (v *View) Seed(cached []model.Message) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.loadLocked(cached, StatusCached)
}

func (v *View) loadLocked(msgs []model.Message, status Status) int {
	n := 0
	for _, m := range msgs {
		if m.RoomID != v.roomID || m.ID == "" {
			continue
		}
		if v.upsert(m, status) {
			n++
		}
		if status != StatusCached && (v.floor == "" || m.ID < v.floor) {
			v.floor = m.ID
		}
	}
	return n
}

// Snapshot returns the ordered view: confirmed messages by id, then
// provisional entries in submission order.
func (v *View) Snapshot() []Entry {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]Entry, len(v.entries))
	for i, e := range v.entries {
		out[i] = *e
		out[i].Message = e.Message.Redacted()
	}
	return out
}

// Messages returns the persisted messages of the view, oldest first.
func (v *View) Messages() []model.Message {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]model.Message, 0, len(v.byID))
	for _, e := range v.entries {
		if !e.Provisional() {
			out = append(out, e.Message)
		}
	}
	return out
}

// Oldest returns the cursor for the next history page: the oldest id the
// server has sent contiguously. It is empty until Latest or Prepend ran.
func (v *View) Oldest() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.floor
}

func (v *View) resolve(token string, m model.Message) bool {
	p, pending := v.byToken[token]
	if pending {
		delete(v.byToken, token)
	}
	if existing, ok := v.byID[m.ID]; ok {
		// The echo won the race; the provisional slot is redundant.
		if pending {
			v.remove(p)
		}
		return merge(existing, m, StatusConfirmed) || pending
	}
	if !pending {
		return v.upsert(m, StatusConfirmed)
	}
	p.Message = m
	p.Status = StatusConfirmed
	p.Err = ""
	v.byID[m.ID] = p
	v.unpark(p)
	v.settle(p)
	return true
}

func (v *View) upsert(m model.Message, status Status) bool {
	if e, ok := v.byID[m.ID]; ok {
		return merge(e, m, status)
	}
	e := &Entry{Message: m, Token: m.ClientToken, Status: status}
	v.insert(e)
	v.byID[m.ID] = e
	v.unpark(e)
	return true
}

// insert places a persisted entry in id order, ahead of provisional entries.
func (v *View) insert(e *Entry) {
	end := v.confirmedLen()
	i := sort.Search(end, func(i int) bool { return v.entries[i].Message.ID > e.Message.ID })
	v.entries = append(v.entries, nil)
	copy(v.entries[i+1:], v.entries[i:])
	v.entries[i] = e
}

// settle moves a just-confirmed entry left past pending entries and newer
// messages, so persisted entries stay in id order ahead of provisional ones.
func (v *View) settle(e *Entry) {
	i := v.index(e)
	for i > 0 {
		prev := v.entries[i-1]
		if !prev.Provisional() && prev.Message.ID < e.Message.ID {
			break
		}
		v.entries[i-1], v.entries[i] = e, prev
		i--
	}
}

func (v *View) remove(e *Entry) {
	i := v.index(e)
	if i < 0 {
		return
	}
	v.entries = append(v.entries[:i], v.entries[i+1:]...)
}

func (v *View) index(e *Entry) int {
	for i := len(v.entries) - 1; i >= 0; i-- {
		if v.entries[i] == e {
			return i
		}
	}
	return -1
}

func (v *View) confirmedLen() int {
	n := len(v.entries)
	for n > 0 && v.entries[n-1].Provisional() {
		n--
	}
	return n
}

func (v *View) park(m model.Message) {
	if prev, ok := v.parked[m.ID]; ok && !newer(prev, m) {
		return
	}
	v.parked[m.ID] = m
}

func (v *View) unpark(e *Entry) {
	m, ok := v.parked[e.Message.ID]
	if !ok {
		return
	}
	delete(v.parked, e.Message.ID)
	merge(e, m, e.Status)
}

// merge applies incoming to e with last-write-wins on the mutation timestamp.
// A deleted entry never comes back.
func merge(e *Entry, incoming model.Message, status Status) bool {
	changed := false
	if e.Status == StatusCached && status != StatusCached {
		e.Status = status
		changed = true
	}
	if !newer(e.Message, incoming) {
		return changed
	}
	token := e.Message.ClientToken
	e.Message = incoming
	if e.Message.ClientToken == "" {
		e.Message.ClientToken = token
	}
	return true
}

// newer reports whether incoming supersedes current.
func newer(current, incoming model.Message) bool {
	if current.IsDeleted {
		return false
	}
	if incoming.IsDeleted {
		return true
	}
	return incoming.Version().After(current.Version())
}
