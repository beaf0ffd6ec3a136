package hub

import (
	"time"

	"github.com/vinchx/chitchat/pkg/model"
)

// typingTimer is a live indicator's expiry. gen tells a stale callback from
// the current one, since the callback cannot compare timers without r.mu.
type typingTimer struct {
	*time.Timer
	gen uint64
}

// armTyping starts or re-arms the user's expiry timer. Called with r.mu held.
func (h *Hub) armTyping(r *room, userID string) {
	if t, ok := r.typing[userID]; ok {
		t.Stop()
	}
	r.typingSeq++
	gen := r.typingSeq
	r.typing[userID] = typingTimer{
		Timer: time.AfterFunc(h.typingTTL, func() { h.expireTyping(r, userID, gen) }),
		gen:   gen,
	}
}

func (h *Hub) expireTyping(r *room, userID string, gen uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	// A re-arm or an explicit stop replaced or removed this timer.
	if t, ok := r.typing[userID]; r.closed || !ok || t.gen != gen {
		return
	}
	delete(r.typing, userID)
	_ = h.fanout(r, model.Event{Type: model.EventTypingStopped, RoomID: r.id, UserID: userID, At: h.now().UTC()})
}
