// Package hub fans room events out to the participants connected to this
// process. It keeps no history: a participant that misses an event re-reads
// the stores on reconnect.
package hub

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/vinchx/chitchat/pkg/metrics"
	"github.com/vinchx/chitchat/pkg/model"
	"github.com/vinchx/chitchat/pkg/presence"
	"go.uber.org/zap"
)

const (
	DefaultTypingTTL = 3 * time.Second
	presenceTimeout  = time.Second
)

// Participant is one connection in a room. Deliver must not block; it
// reports false when the participant's queue is full.
type Participant interface {
	UserID() string
	Deliver(payload []byte) bool
}

type Options struct {
	TypingTTL time.Duration
	// Presence mirrors the online set. Nil disables mirroring.
	Presence presence.Store
	Now      func() time.Time
}

type Hub struct {
	mu    sync.RWMutex // guards rooms only
	rooms map[string]*room

	typingTTL time.Duration
	presence  presence.Store
	now       func() time.Time
	log       *zap.Logger
}

type room struct {
	id string

	mu           sync.Mutex
	participants map[Participant]struct{}
	users        map[string]int // user id -> open connections
	typing       map[string]typingTimer
	typingSeq    uint64
	closed       bool
}

func New(opts Options, log *zap.Logger) *Hub {
	if opts.TypingTTL <= 0 {
		opts.TypingTTL = DefaultTypingTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Hub{
		rooms:     make(map[string]*room),
		typingTTL: opts.TypingTTL,
		presence:  opts.Presence,
		now:       opts.Now,
		log:       log,
	}
}

// Join adds p to the room, creating the room entry on first join.
func (h *Hub) Join(roomID string, p Participant) {
	for {
		r := h.getOrCreate(roomID)
		r.mu.Lock()
		if r.closed {
			// Lost a race with the last Leave; the entry is gone from the index.
			r.mu.Unlock()
			continue
		}
		r.participants[p] = struct{}{}
		r.users[p.UserID()]++
		if r.users[p.UserID()] == 1 {
			h.mirror(roomID, p.UserID(), true)
		}
		h.broadcastPresence(r)
		r.mu.Unlock()

		h.log.Info("Participant joined", zap.String("room", roomID), zap.String("user", p.UserID()))
		return
	}
}

// Leave removes p. The room entry is dropped with its last participant.
func (h *Hub) Leave(roomID string, p Participant) {
	h.mu.RLock()
	r, ok := h.rooms[roomID]
	h.mu.RUnlock()
	if !ok {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.participants[p]; !ok {
		return
	}
	delete(r.participants, p)
	userID := p.UserID()
	r.users[userID]--
	if r.users[userID] == 0 {
		delete(r.users, userID)
		h.mirror(roomID, userID, false)
		if t, typing := r.typing[userID]; typing {
			t.Stop()
			delete(r.typing, userID)
			h.fanout(r, model.Event{Type: model.EventTypingStopped, RoomID: roomID, UserID: userID, At: h.now().UTC()})
		}
	}
	h.log.Info("Participant left", zap.String("room", roomID), zap.String("user", userID))

	if len(r.participants) > 0 {
		h.broadcastPresence(r)
		return
	}
	r.closed = true
	for _, t := range r.typing {
		t.Stop()
	}
	h.mu.Lock()
	if h.rooms[roomID] == r {
		delete(h.rooms, roomID)
		metrics.ActiveRooms.Dec()
	}
	h.mu.Unlock()
}

// Publish delivers ev to every participant of ev.RoomID, at most once each.
// Typing events also drive the per-user expiry timers.
func (h *Hub) Publish(_ context.Context, ev model.Event) error {
	h.mu.RLock()
	r, ok := h.rooms[ev.RoomID]
	h.mu.RUnlock()
	if !ok {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	switch ev.Type {
	case model.EventTypingStarted:
		h.armTyping(r, ev.UserID)
	case model.EventTypingStopped:
		t, typing := r.typing[ev.UserID]
		if !typing {
			return nil
		}
		t.Stop()
		delete(r.typing, ev.UserID)
	}
	return h.fanout(r, ev)
}

// Online lists users with at least one open connection in the room.
func (h *Hub) Online(roomID string) []string {
	h.mu.RLock()
	r, ok := h.rooms[roomID]
	h.mu.RUnlock()
	if !ok {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.online()
}

// Typing reports whether userID currently has a live typing indicator.
func (h *Hub) Typing(roomID, userID string) bool {
	h.mu.RLock()
	r, ok := h.rooms[roomID]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, typing := r.typing[userID]
	return typing
}

// Close stops every pending typing timer.
func (h *Hub) Close() {
	h.mu.RLock()
	rooms := make([]*room, 0, len(h.rooms))
	for _, r := range h.rooms {
		rooms = append(rooms, r)
	}
	h.mu.RUnlock()

	for _, r := range rooms {
		r.mu.Lock()
		for _, t := range r.typing {
			t.Stop()
		}
		r.typing = make(map[string]typingTimer)
		r.mu.Unlock()
	}
}

func (h *Hub) getOrCreate(roomID string) *room {
	h.mu.RLock()
	r, ok := h.rooms[roomID]
	h.mu.RUnlock()
	if ok {
		return r
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if r, ok := h.rooms[roomID]; ok {
		return r
	}
	r = &room{
		id:           roomID,
		participants: make(map[Participant]struct{}),
		users:        make(map[string]int),
		typing:       make(map[string]typingTimer),
	}
	h.rooms[roomID] = r
	metrics.ActiveRooms.Inc()
	return r
}

// fanout must be called with r.mu held.
func (h *Hub) fanout(r *room, ev model.Event) error {
	payload, err := ev.Marshal()
	if err != nil {
		return err
	}
	for p := range r.participants {
		if p.Deliver(payload) {
			metrics.EventsDelivered.Inc()
			continue
		}
		metrics.EventsDropped.Inc()
		h.log.Warn("Participant queue full, event dropped",
			zap.String("room", r.id), zap.String("user", p.UserID()), zap.String("type", string(ev.Type)))
	}
	return nil
}

func (h *Hub) broadcastPresence(r *room) {
	online := r.online()
	_ = h.fanout(r, model.Event{
		Type:   model.EventPresence,
		RoomID: r.id,
		Online: online,
		Count:  len(online),
		At:     h.now().UTC(),
	})
}

func (h *Hub) mirror(roomID, userID string, add bool) {
	if h.presence == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
	defer cancel()
	var err error
	if add {
		err = h.presence.Add(ctx, roomID, userID)
	} else {
		err = h.presence.Remove(ctx, roomID, userID)
	}
	if err != nil {
		h.log.Warn("Failed to update presence", zap.String("room", roomID), zap.String("user", userID), zap.Error(err))
	}
}

func (r *room) online() []string {
	users := make([]string, 0, len(r.users))
	for u := range r.users {
		users = append(users, u)
	}
	slices.Sort(users)
	return users
}
