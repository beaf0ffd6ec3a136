package model

import "time"

type Kind string

const (
	KindText  Kind = "text"
	KindImage Kind = "image"
	KindFile  Kind = "file"
)

// AISenderID is the reserved sender of Background Responder replies.
const AISenderID = "ai-assistant"

type Attachment struct {
	Type     string `json:"type"`
	URL      string `json:"url"`
	Filename string `json:"filename,omitempty"`
	Size     int64  `json:"size,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// ReplySnapshot is a denormalized copy of the replied-to message. It is not a
// live reference and survives deletion of the original.
type ReplySnapshot struct {
	MessageID  string      `json:"messageId"`
	Text       string      `json:"text"`
	Sender     string      `json:"sender"`
	Attachment *Attachment `json:"attachment,omitempty"`
}

type Message struct {
	ID          string         `json:"id"`
	RoomID      string         `json:"roomId"`
	SenderID    string         `json:"senderId"`
	Body        string         `json:"body"`
	Kind        Kind           `json:"kind"`
	Attachment  *Attachment    `json:"attachment,omitempty"`
	ReplyTo     *ReplySnapshot `json:"replyTo,omitempty"`
	ClientToken string         `json:"clientToken,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
	EditedAt    *time.Time     `json:"editedAt,omitempty"`
	DeletedAt   *time.Time     `json:"deletedAt,omitempty"`
	IsEdited    bool           `json:"isEdited"`
	IsDeleted   bool           `json:"isDeleted"`
}

// Version is the timestamp of the latest mutation applied to the message.
func (m Message) Version() time.Time {
	v := m.CreatedAt
	if m.EditedAt != nil && m.EditedAt.After(v) {
		v = *m.EditedAt
	}
	if m.DeletedAt != nil && m.DeletedAt.After(v) {
		v = *m.DeletedAt
	}
	return v
}

// Redacted returns the message as it must be rendered to readers: a deleted
// message keeps its metadata but loses its content.
func (m Message) Redacted() Message {
	if !m.IsDeleted {
		return m
	}
	m.Body = ""
	m.Attachment = nil
	return m
}

// Snapshot builds the reply snapshot of m.
func (m Message) Snapshot() *ReplySnapshot {
	s := &ReplySnapshot{MessageID: m.ID, Text: m.Body, Sender: m.SenderID}
	if m.Attachment != nil {
		a := *m.Attachment
		s.Attachment = &a
	}
	return s
}

// Receipt records that UserID has read MessageID.
type Receipt struct {
	MessageID string    `json:"messageId"`
	RoomID    string    `json:"roomId"`
	UserID    string    `json:"userId"`
	ReadAt    time.Time `json:"readAt"`
}

type Reader struct {
	UserID string    `json:"userId"`
	ReadAt time.Time `json:"readAt"`
}

// ReceiptSummary is the aggregate read state of one message.
type ReceiptSummary struct {
	ReadBy       []Reader `json:"readBy"`
	ReadCount    int      `json:"readCount"`
	TotalMembers int      `json:"totalMembers"`
	IsReadByAll  bool     `json:"isReadByAll"`
}
