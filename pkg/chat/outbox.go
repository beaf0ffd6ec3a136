package chat

import (
	"context"
	"sync"

	"github.com/vinchx/chitchat/pkg/model"
)

// outbox queues events per room and hands them to send from one goroutine
// per busy room. Events of a room leave in the order they were pushed.
type outbox struct {
	send func(model.Event)

	mu      sync.Mutex
	queues  map[string][]model.Event // present while a drainer runs
	pending int
	idle    chan struct{} // closed when pending drops to zero
}

func newOutbox(send func(model.Event)) *outbox {
	idle := make(chan struct{})
	close(idle)
	return &outbox{send: send, queues: make(map[string][]model.Event), idle: idle}
}

func (o *outbox) push(ev model.Event) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.pending == 0 {
		o.idle = make(chan struct{})
	}
	o.pending++
	q, draining := o.queues[ev.RoomID]
	o.queues[ev.RoomID] = append(q, ev)
	if !draining {
		go o.drain(ev.RoomID)
	}
}

func (o *outbox) drain(roomID string) {
	for {
		o.mu.Lock()
		q := o.queues[roomID]
		if len(q) == 0 {
			delete(o.queues, roomID)
			o.mu.Unlock()
			return
		}
		ev := q[0]
		q[0] = model.Event{}
		o.queues[roomID] = q[1:]
		o.mu.Unlock()

		o.send(ev)

		o.mu.Lock()
		o.pending--
		if o.pending == 0 {
			close(o.idle)
		}
		o.mu.Unlock()
	}
}

// wait blocks until every pushed event has been sent.
func (o *outbox) wait(ctx context.Context) error {
	o.mu.Lock()
	idle := o.idle
	o.mu.Unlock()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
