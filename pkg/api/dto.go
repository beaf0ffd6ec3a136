package api

import (
	"time"

	"github.com/vinchx/chitchat/pkg/model"
)

type LoginRequest struct {
	UserID string `json:"user_id" validate:"required,max=64,printascii,excludesall=:/"`
}

type LoginResponse struct {
	Token string `json:"token"`
}

type AttachmentRequest struct {
	URL      string `json:"url" validate:"required,url"`
	Filename string `json:"filename" validate:"omitempty,max=255"`
	Size     int64  `json:"size" validate:"gte=0"`
	MimeType string `json:"mimeType" validate:"omitempty,max=127"`
}

type CreateMessageRequest struct {
	Body        string             `json:"body" validate:"max=4000"`
	Attachment  *AttachmentRequest `json:"attachment" validate:"omitempty"`
	ReplyTo     string             `json:"replyTo" validate:"omitempty,startswith=msg"`
	ClientToken string             `json:"clientToken" validate:"omitempty,uuid"`
}

type CreateMessageResponse struct {
	MessageID string        `json:"messageId"`
	CreatedAt time.Time     `json:"createdAt"`
	Message   model.Message `json:"message"`
}

type ListMessagesResponse struct {
	Messages        []model.Message `json:"messages"`
	HasMore         bool            `json:"hasMore"`
	OldestTimestamp *time.Time      `json:"oldestTimestamp"`
	NextCursor      string          `json:"nextCursor,omitempty"`
}

type EditMessageRequest struct {
	Body string `json:"body" validate:"required,max=4000"`
}

type EditMessageResponse struct {
	IsEdited bool          `json:"isEdited"`
	Message  model.Message `json:"message"`
}

type DeleteMessageResponse struct {
	IsDeleted bool          `json:"isDeleted"`
	Message   model.Message `json:"message"`
}

type MarkReadRequest struct {
	MessageIDs    []string `json:"messageIds" validate:"required_without=MarkAllAsRead,max=500,dive,required"`
	MarkAllAsRead bool     `json:"markAllAsRead"`
}

type MarkReadResponse struct {
	MarkedCount int `json:"markedCount"`
}

type ReceiptsResponse struct {
	Receipts map[string]model.ReceiptSummary `json:"receipts"`
}

type PresenceResponse struct {
	RoomID string   `json:"roomId"`
	Online []string `json:"online"`
	Count  int      `json:"count"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
