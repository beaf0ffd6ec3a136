package chat

import (
	"context"
	"sync"
	"time"

	"github.com/samber/lo"
	"github.com/vinchx/chitchat/pkg/apperr"
	"github.com/vinchx/chitchat/pkg/metrics"
	"github.com/vinchx/chitchat/pkg/model"
	"github.com/vinchx/chitchat/pkg/rooms"
	"github.com/vinchx/chitchat/pkg/store"
	"go.uber.org/zap"
)

const DefaultReceiptInterval = 2 * time.Second

type MarkInput struct {
	MessageIDs []string
	All        bool
}

// MarkRead records receipts for userID. With All set the ids are a snapshot
// of the room's unread messages taken now. Receipts are only accepted for
// messages that exist in the room.
func (s *Service) MarkRead(ctx context.Context, userID, roomID string, in MarkInput) (int, error) {
	if _, err := s.authorize(ctx, roomID, userID); err != nil {
		return 0, err
	}
	ids := lo.Uniq(in.MessageIDs)
	if in.All {
		var err error
		if ids, err = s.messages.UnreadCandidates(ctx, roomID, userID); err != nil {
			return 0, err
		}
	}
	if len(ids) == 0 {
		return 0, nil
	}

	marked, err := s.receipts.MarkRead(ctx, roomID, userID, ids)
	if err != nil {
		if len(marked) == 0 {
			return 0, err
		}
		s.log.Warn("Receipts partially recorded",
			zap.String("room", roomID), zap.String("user", userID), zap.Int("marked", len(marked)), zap.Error(err))
	}
	if len(marked) == 0 {
		return 0, nil
	}

	metrics.ReceiptsMarked.Add(float64(len(marked)))
	s.dirty.add(roomID, marked)
	if in.All {
		// Only the ids this call flipped to read, not the whole snapshot.
		s.enqueue(model.Event{
			Type:       model.EventRoomMarkedRead,
			RoomID:     roomID,
			UserID:     userID,
			MessageIDs: marked,
			Count:      len(marked),
		})
	}
	return len(marked), nil
}

// GetReceipts aggregates read state per message. An empty messageIDs means
// the newest page of the room. Ids outside the room are left out.
func (s *Service) GetReceipts(ctx context.Context, userID, roomID string, messageIDs []string) (map[string]model.ReceiptSummary, error) {
	r, err := s.authorize(ctx, roomID, userID)
	if err != nil {
		return nil, err
	}
	return s.summaries(ctx, r, messageIDs)
}

func (s *Service) summaries(ctx context.Context, r rooms.Room, messageIDs []string) (map[string]model.ReceiptSummary, error) {
	var msgs []model.Message
	if len(messageIDs) == 0 {
		recent, err := s.messages.Recent(ctx, r.ID, store.DefaultPageLimit)
		if err != nil {
			return nil, err
		}
		msgs = recent
	} else {
		for _, id := range lo.Uniq(messageIDs) {
			m, err := s.messages.Get(ctx, id)
			if apperr.KindOf(err) == apperr.KindNotFound || (err == nil && m.RoomID != r.ID) {
				continue
			}
			if err != nil {
				return nil, err
			}
			msgs = append(msgs, m)
		}
	}
	if len(msgs) == 0 {
		return map[string]model.ReceiptSummary{}, nil
	}

	readers, err := s.receipts.Receipts(ctx, r.ID, lo.Map(msgs, func(m model.Message, _ int) string { return m.ID }))
	if err != nil {
		return nil, err
	}
	out := make(map[string]model.ReceiptSummary, len(msgs))
	for _, m := range msgs {
		out[m.ID] = summarize(m, readers[m.ID], len(r.Members))
	}
	return out, nil
}

// summarize excludes the sender from both the readers and the denominator.
func summarize(m model.Message, readers []model.Reader, totalMembers int) model.ReceiptSummary {
	readBy := lo.Filter(readers, func(rd model.Reader, _ int) bool { return rd.UserID != m.SenderID })
	if readBy == nil {
		readBy = []model.Reader{}
	}
	return model.ReceiptSummary{
		ReadBy:       readBy,
		ReadCount:    len(readBy),
		TotalMembers: totalMembers,
		IsReadByAll:  len(readBy) >= totalMembers-1,
	}
}

// RunReceiptNotifier publishes receipt.updated for rooms with new receipts
// every interval until ctx is done.
func (s *Service) RunReceiptNotifier(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultReceiptInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.FlushReceipts(ctx)
		}
	}
}

// FlushReceipts publishes one receipt.updated event per dirty room.
func (s *Service) FlushReceipts(ctx context.Context) {
	for roomID, ids := range s.dirty.take() {
		r, err := s.rooms.GetRoom(ctx, roomID)
		if err != nil {
			s.log.Warn("Skipping receipt update", zap.String("room", roomID), zap.Error(err))
			continue
		}
		summaries, err := s.summaries(ctx, r, ids)
		if err != nil {
			s.log.Warn("Failed to aggregate receipts", zap.String("room", roomID), zap.Error(err))
			s.dirty.add(roomID, ids)
			continue
		}
		if len(summaries) == 0 {
			continue
		}
		s.enqueue(model.Event{
			Type:       model.EventReceiptUpdated,
			RoomID:     roomID,
			MessageIDs: lo.Keys(summaries),
			Receipts:   summaries,
		})
	}
}

// dirtySet collects message ids with new receipts, per room, between
// notifier ticks.
type dirtySet struct {
	mu    sync.Mutex
	rooms map[string]map[string]struct{}
}

func newDirtySet() *dirtySet {
	return &dirtySet{rooms: make(map[string]map[string]struct{})}
}

func (d *dirtySet) add(roomID string, ids []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	set, ok := d.rooms[roomID]
	if !ok {
		set = make(map[string]struct{}, len(ids))
		d.rooms[roomID] = set
	}
	for _, id := range ids {
		set[id] = struct{}{}
	}
}

func (d *dirtySet) take() map[string][]string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string][]string, len(d.rooms))
	for roomID, set := range d.rooms {
		out[roomID] = lo.Keys(set)
	}
	d.rooms = make(map[string]map[string]struct{})
	return out
}
