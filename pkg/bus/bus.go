// Package bus carries room events between the API, the gateways and the
// background responder.
package bus

import (
	"context"
	"errors"
	"sync"

	"github.com/vinchx/chitchat/pkg/metrics"
	"github.com/vinchx/chitchat/pkg/model"
)

// Publisher accepts an event for delivery. The Hub is a Publisher, so is
// every bus.
type Publisher interface {
	Publish(ctx context.Context, ev model.Event) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, ev model.Event) error

func (f PublisherFunc) Publish(ctx context.Context, ev model.Event) error { return f(ctx, ev) }

// Local delivers events synchronously to in-process subscribers. It backs
// single-process deployments and tests.
type Local struct {
	mu   sync.RWMutex
	subs []Publisher
}

func NewLocal(subs ...Publisher) *Local {
	return &Local{subs: subs}
}

func (l *Local) Subscribe(p Publisher) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.subs = append(l.subs, p)
}

func (l *Local) Publish(ctx context.Context, ev model.Event) error {
	metrics.EventsPublished.WithLabelValues(string(ev.Type)).Inc()
	l.mu.RLock()
	subs := l.subs
	l.mu.RUnlock()

	var errs []error
	for _, s := range subs {
		if err := s.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
