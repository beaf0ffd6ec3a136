// Package chat implements the message operations exposed by the API: it
// authorizes against the Room Registry, writes through the stores and
// publishes the resulting events.
package chat

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/vinchx/chitchat/pkg/apperr"
	"github.com/vinchx/chitchat/pkg/attachments"
	"github.com/vinchx/chitchat/pkg/bus"
	"github.com/vinchx/chitchat/pkg/metrics"
	"github.com/vinchx/chitchat/pkg/model"
	"github.com/vinchx/chitchat/pkg/rooms"
	"github.com/vinchx/chitchat/pkg/store"
	"go.uber.org/zap"
)

const DefaultPublishTimeout = 5 * time.Second

// Observer is told about every persisted message after its event has been
// queued for publication. It must not block.
type Observer interface {
	Observe(m model.Message)
}

type Config struct {
	Messages    store.MessageStore
	Receipts    store.ReceiptStore
	Rooms       rooms.Registry
	Bus         bus.Publisher
	Attachments *attachments.Resolver
	// PublishTimeout bounds each event publication. Events are published
	// from a per-room queue, detached from the request.
	PublishTimeout time.Duration
	Logger         *zap.Logger
}

type Service struct {
	messages       store.MessageStore
	receipts       store.ReceiptStore
	rooms          rooms.Registry
	bus            bus.Publisher
	attachments    *attachments.Resolver
	publishTimeout time.Duration
	log            *zap.Logger

	locks    *roomLocks
	out      *outbox
	dirty    *dirtySet
	observer Observer
}

func NewService(cfg Config) *Service {
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = DefaultPublishTimeout
	}
	if cfg.Attachments == nil {
		cfg.Attachments = attachments.NewResolver(nil, 0)
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	s := &Service{
		messages:       cfg.Messages,
		receipts:       cfg.Receipts,
		rooms:          cfg.Rooms,
		bus:            cfg.Bus,
		attachments:    cfg.Attachments,
		publishTimeout: cfg.PublishTimeout,
		log:            cfg.Logger,
		locks:          newRoomLocks(),
		dirty:          newDirtySet(),
	}
	s.out = newOutbox(s.publish)
	return s
}

// SetObserver installs the hook run after each Create. Call it before the
// service starts taking requests.
func (s *Service) SetObserver(o Observer) {
	s.observer = o
}

type CreateInput struct {
	RoomID      string
	Body        string
	Attachment  *model.Attachment
	ReplyToID   string
	ClientToken string
}

// Create persists a message from a room member and publishes
// message.created. The request returns once the store write has succeeded.
func (s *Service) Create(ctx context.Context, userID string, in CreateInput) (model.Message, error) {
	if strings.TrimSpace(in.RoomID) == "" {
		return model.Message{}, apperr.ErrMissingRoom
	}
	if strings.TrimSpace(in.Body) == "" && in.Attachment == nil {
		return model.Message{}, apperr.ErrMissingContent
	}
	if _, err := s.authorize(ctx, in.RoomID, userID); err != nil {
		return model.Message{}, err
	}

	nm := store.NewMessage{
		RoomID:      in.RoomID,
		SenderID:    userID,
		Body:        in.Body,
		ReplyToID:   in.ReplyToID,
		ClientToken: in.ClientToken,
	}
	if in.Attachment != nil {
		a, kind, err := s.attachments.Resolve(*in.Attachment)
		if err != nil {
			return model.Message{}, err
		}
		nm.Attachment = &a
		nm.Kind = kind
	}
	return s.create(ctx, nm)
}

// PostAs persists a message under a system sender. Membership is not
// checked, the room must exist.
func (s *Service) PostAs(ctx context.Context, senderID, roomID, body string) (model.Message, error) {
	if _, err := s.rooms.GetRoom(ctx, roomID); err != nil {
		return model.Message{}, err
	}
	return s.create(ctx, store.NewMessage{RoomID: roomID, SenderID: senderID, Body: body})
}

func (s *Service) create(ctx context.Context, nm store.NewMessage) (model.Message, error) {
	// Persist and enqueue under the room lock so that events leave this
	// process in id order.
	unlock := s.locks.lock(nm.RoomID)
	m, err := s.messages.Create(ctx, nm)
	if err != nil {
		unlock()
		return model.Message{}, err
	}
	s.enqueue(model.MessageEvent(model.EventMessageCreated, m))
	unlock()

	metrics.MessagesCreated.WithLabelValues(string(m.Kind)).Inc()
	s.touch(m)
	if s.observer != nil {
		s.observer.Observe(m)
	}
	return m, nil
}

func (s *Service) Get(ctx context.Context, userID, messageID string) (model.Message, error) {
	m, err := s.messages.Get(ctx, messageID)
	if err != nil {
		return model.Message{}, err
	}
	if _, err := s.authorize(ctx, m.RoomID, userID); err != nil {
		return model.Message{}, err
	}
	return m.Redacted(), nil
}

func (s *Service) Edit(ctx context.Context, userID, messageID, body string) (model.Message, error) {
	if strings.TrimSpace(body) == "" {
		return model.Message{}, apperr.ErrMissingBody
	}
	current, err := s.messages.Get(ctx, messageID)
	if err != nil {
		return model.Message{}, s.mutationFailed("edit", err)
	}
	if _, err := s.authorize(ctx, current.RoomID, userID); err != nil {
		return model.Message{}, s.mutationFailed("edit", err)
	}

	unlock := s.locks.lock(current.RoomID)
	defer unlock()
	m, err := s.messages.Edit(ctx, messageID, userID, body)
	if err != nil {
		return model.Message{}, s.mutationFailed("edit", err)
	}
	s.enqueue(model.MessageEvent(model.EventMessageEdited, m))
	metrics.MessageMutations.WithLabelValues("edit", "ok").Inc()
	return m, nil
}

// Delete soft-deletes a message. Deleting an already deleted message
// succeeds without publishing again.
func (s *Service) Delete(ctx context.Context, userID, messageID string) (model.Message, error) {
	current, err := s.messages.Get(ctx, messageID)
	if err != nil {
		return model.Message{}, s.mutationFailed("delete", err)
	}
	if _, err := s.authorize(ctx, current.RoomID, userID); err != nil {
		return model.Message{}, s.mutationFailed("delete", err)
	}

	unlock := s.locks.lock(current.RoomID)
	defer unlock()
	m, deleted, err := s.messages.Delete(ctx, messageID, userID)
	if err != nil {
		return model.Message{}, s.mutationFailed("delete", err)
	}
	if deleted {
		s.enqueue(model.MessageEvent(model.EventMessageDeleted, m.Redacted()))
	}
	metrics.MessageMutations.WithLabelValues("delete", "ok").Inc()
	return m.Redacted(), nil
}

func (s *Service) List(ctx context.Context, userID, roomID string, page store.Page) (store.PageResult, error) {
	if _, err := s.authorize(ctx, roomID, userID); err != nil {
		return store.PageResult{}, err
	}
	res, err := s.messages.ListByRoom(ctx, roomID, page)
	if err != nil {
		return store.PageResult{}, err
	}
	for i, m := range res.Messages {
		res.Messages[i] = m.Redacted()
	}
	return res, nil
}

// Authorize reports ErrNotMember or ErrRoomNotFound when userID may not
// act in the room.
func (s *Service) Authorize(ctx context.Context, roomID, userID string) error {
	_, err := s.authorize(ctx, roomID, userID)
	return err
}

// authorize re-reads the room on every call; the registry decides how long
// membership may be cached.
func (s *Service) authorize(ctx context.Context, roomID, userID string) (rooms.Room, error) {
	r, err := s.rooms.GetRoom(ctx, roomID)
	if err != nil {
		return rooms.Room{}, err
	}
	if !r.HasMember(userID) {
		return rooms.Room{}, apperr.ErrNotMember
	}
	return r, nil
}

// enqueue stamps ev and queues it behind the room's earlier events. Callers
// that need id order hold the room lock.
func (s *Service) enqueue(ev model.Event) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	s.out.push(ev)
}

// Flush waits until every queued event has been handed to the bus.
func (s *Service) Flush(ctx context.Context) error {
	return s.out.wait(ctx)
}

// publish runs detached from the caller's context: a client that hangs up
// after the store write still gets its event delivered.
func (s *Service) publish(ev model.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), s.publishTimeout)
	defer cancel()
	if err := s.bus.Publish(ctx, ev); err != nil {
		s.log.Error("Failed to publish event",
			zap.String("room", ev.RoomID), zap.String("type", string(ev.Type)), zap.Error(err))
	}
}

func (s *Service) touch(m model.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), s.publishTimeout)
	defer cancel()
	preview := m.Body
	if preview == "" && m.Attachment != nil {
		preview = m.Attachment.Filename
	}
	if err := s.rooms.Touch(ctx, m.RoomID, preview, m.CreatedAt); err != nil && !errors.Is(err, apperr.ErrRoomNotFound) {
		s.log.Warn("Failed to update room activity", zap.String("room", m.RoomID), zap.Error(err))
	}
}

func (s *Service) mutationFailed(op string, err error) error {
	metrics.MessageMutations.WithLabelValues(op, apperr.KindOf(err).String()).Inc()
	return err
}
