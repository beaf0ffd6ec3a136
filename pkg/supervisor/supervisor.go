// Package supervisor runs long-lived workers, restarting them when they
// fail or panic.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

const waitBeforeRestart = 200 * time.Millisecond

var ErrWorkerPanic = errors.New("worker panicked")

// Worker returns nil when it is done for good. Any error, or a panic, gets
// it restarted while the supervisor's context is alive.
type Worker interface {
	Run(ctx context.Context) error
}

type WorkerFunc func(ctx context.Context) error

func (f WorkerFunc) Run(ctx context.Context) error { return f(ctx) }

type named struct {
	name string
	w    Worker
}

type Supervisor struct {
	log     *zap.Logger
	workers []named
	wg      sync.WaitGroup
}

func New(log *zap.Logger) *Supervisor {
	return &Supervisor{log: log}
}

func (s *Supervisor) Add(name string, w Worker) *Supervisor {
	s.workers = append(s.workers, named{name: name, w: w})
	return s
}

// Run starts every worker and blocks until all of them have returned.
func (s *Supervisor) Run(ctx context.Context) {
	for _, n := range s.workers {
		s.start(ctx, n)
	}
	s.wg.Wait()
}

func (s *Supervisor) start(ctx context.Context, n named) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			if ctx.Err() != nil {
				return
			}
			err := runOnce(ctx, n.w)
			if err == nil {
				s.log.Info("Worker finished", zap.String("worker", n.name))
				return
			}
			if ctx.Err() != nil {
				s.log.Info("Worker stopped", zap.String("worker", n.name))
				return
			}

			s.log.Warn("Worker crashed, restarting", zap.String("worker", n.name), zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(waitBeforeRestart):
			}
		}
	}()
}

func runOnce(ctx context.Context, w Worker) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrWorkerPanic, r)
		}
	}()
	return w.Run(ctx)
}
