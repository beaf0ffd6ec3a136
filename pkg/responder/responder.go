// Package responder answers command-prefixed messages in the background.
// The triggering request never waits on it: jobs go through a bounded queue
// served by a supervised worker pool, and failures only reach the log.
package responder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/vinchx/chitchat/pkg/apperr"
	"github.com/vinchx/chitchat/pkg/metrics"
	"github.com/vinchx/chitchat/pkg/model"
	"github.com/vinchx/chitchat/pkg/supervisor"
	"go.uber.org/zap"
)

const (
	DefaultPrefix    = "/ai "
	DefaultWorkers   = 4
	DefaultQueueSize = 64
	DefaultHistory   = 20
	DefaultTimeout   = 30 * time.Second
)

var ErrEmptyReply = errors.New("generator returned an empty reply")

// History reads the newest n messages of a room, oldest first.
type History interface {
	Recent(ctx context.Context, roomID string, n int) ([]model.Message, error)
}

// Poster persists and publishes a message under a system sender.
type Poster interface {
	PostAs(ctx context.Context, senderID, roomID, body string) (model.Message, error)
}

type Config struct {
	Prefix    string
	Workers   int
	QueueSize int
	History   int
	Timeout   time.Duration
}

func (c Config) withDefaults() Config {
	if c.Prefix == "" {
		c.Prefix = DefaultPrefix
	}
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.History <= 0 {
		c.History = DefaultHistory
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	return c
}

type Responder struct {
	cfg     Config
	gen     Generator
	history History
	poster  Poster
	jobs    chan model.Message
	log     *zap.Logger
}

func New(cfg Config, gen Generator, history History, poster Poster, log *zap.Logger) *Responder {
	cfg = cfg.withDefaults()
	return &Responder{
		cfg:     cfg,
		gen:     gen,
		history: history,
		poster:  poster,
		jobs:    make(chan model.Message, cfg.QueueSize),
		log:     log,
	}
}

// Prompt returns the text after the command prefix. The prefix match is
// case-insensitive.
func (r *Responder) Prompt(body string) (string, bool) {
	trimmed := strings.TrimLeft(body, " \t")
	if len(trimmed) < len(r.cfg.Prefix) || !strings.EqualFold(trimmed[:len(r.cfg.Prefix)], r.cfg.Prefix) {
		return "", false
	}
	prompt := strings.TrimSpace(trimmed[len(r.cfg.Prefix):])
	return prompt, prompt != ""
}

// Observe enqueues m when it carries the command prefix. Replies from the
// responder itself are ignored.
func (r *Responder) Observe(m model.Message) {
	if m.SenderID == model.AISenderID || m.IsDeleted {
		return
	}
	if _, ok := r.Prompt(m.Body); !ok {
		return
	}
	r.Trigger(m)
}

// Trigger never blocks. A full queue drops the job.
func (r *Responder) Trigger(m model.Message) bool {
	select {
	case r.jobs <- m:
		metrics.ResponderJobs.WithLabelValues("queued").Inc()
		return true
	default:
		metrics.ResponderJobs.WithLabelValues("dropped").Inc()
		r.log.Warn("Responder queue full, job dropped", zap.String("room", m.RoomID), zap.String("message", m.ID))
		return false
	}
}

// Run serves the queue with the configured number of workers until ctx is
// done.
func (r *Responder) Run(ctx context.Context) {
	sup := supervisor.New(r.log)
	for i := range r.cfg.Workers {
		sup.Add(fmt.Sprintf("responder-%d", i), supervisor.WorkerFunc(r.work))
	}
	sup.Run(ctx)
}

func (r *Responder) work(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case m := <-r.jobs:
			r.runJob(ctx, m)
		}
	}
}

// runJob isolates one job so that a panic costs only that job.
func (r *Responder) runJob(ctx context.Context, m model.Message) {
	log := r.log.With(zap.String("room", m.RoomID), zap.String("message", m.ID))
	defer func() {
		if p := recover(); p != nil {
			metrics.ResponderJobs.WithLabelValues("panic").Inc()
			log.Error("Responder job panicked", zap.Any("panic", p))
		}
	}()

	reply, err := r.Handle(ctx, m)
	if err != nil {
		metrics.ResponderJobs.WithLabelValues("failed").Inc()
		log.Warn("Responder job failed", zap.Error(err))
		return
	}
	metrics.ResponderJobs.WithLabelValues("replied").Inc()
	log.Info("Responder replied", zap.String("reply", reply.ID))
}

// Handle runs one job to completion: history, generation, sanitizing and
// posting the reply.
func (r *Responder) Handle(ctx context.Context, m model.Message) (model.Message, error) {
	prompt, ok := r.Prompt(m.Body)
	if !ok {
		return model.Message{}, fmt.Errorf("message %s has no prompt", m.ID)
	}

	history, err := r.history.Recent(ctx, m.RoomID, r.cfg.History+1)
	if err != nil {
		return model.Message{}, fmt.Errorf("load history: %w", err)
	}
	history = lo.Filter(history, func(h model.Message, _ int) bool { return h.ID != m.ID && !h.IsDeleted })
	if len(history) > r.cfg.History {
		history = history[len(history)-r.cfg.History:]
	}

	genCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	text, err := r.gen.Generate(genCtx, prompt, history)
	cancel()
	if err != nil {
		return model.Message{}, fmt.Errorf("%w: %w", apperr.ErrGeneration, err)
	}
	text = Sanitize(text)
	if text == "" {
		return model.Message{}, ErrEmptyReply
	}

	reply, err := r.poster.PostAs(ctx, model.AISenderID, m.RoomID, text)
	if err != nil {
		return model.Message{}, fmt.Errorf("post reply: %w", err)
	}
	return reply, nil
}
