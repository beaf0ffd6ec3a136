package model

import (
	"encoding/json"
	"time"
)

type EventType string

const (
	EventMessageCreated EventType = "message.created"
	EventMessageEdited  EventType = "message.edited"
	EventMessageDeleted EventType = "message.deleted"
	EventTypingStarted  EventType = "typing.started"
	EventTypingStopped  EventType = "typing.stopped"
	EventPresence       EventType = "presence.update"
	EventReceiptUpdated EventType = "receipt.updated"
	EventRoomMarkedRead EventType = "room.marked_read"
)

// Event is the envelope published by the Hub. Every event carries the room it
// is scoped to.
type Event struct {
	Type       EventType                 `json:"type"`
	RoomID     string                    `json:"roomId"`
	UserID     string                    `json:"userId,omitempty"`
	MessageID  string                    `json:"messageId,omitempty"`
	MessageIDs []string                  `json:"messageIds,omitempty"`
	Message    *Message                  `json:"message,omitempty"`
	Receipts   map[string]ReceiptSummary `json:"receipts,omitempty"`
	Online     []string                  `json:"online,omitempty"`
	Count      int                       `json:"count,omitempty"`
	At         time.Time                 `json:"at"`
}

func (e Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

func UnmarshalEvent(b []byte) (Event, error) {
	var e Event
	err := json.Unmarshal(b, &e)
	return e, err
}

func MessageEvent(t EventType, m Message) Event {
	return Event{
		Type:      t,
		RoomID:    m.RoomID,
		UserID:    m.SenderID,
		MessageID: m.ID,
		Message:   &m,
		At:        m.Version(),
	}
}
