package store

import (
	"strings"
	"time"

	"github.com/vinchx/chitchat/pkg/apperr"
	"github.com/vinchx/chitchat/pkg/model"
)

// Validate normalizes a NewMessage and rejects messages with no content.
func (n NewMessage) Validate() (NewMessage, error) {
	if strings.TrimSpace(n.RoomID) == "" {
		return n, apperr.ErrMissingRoom
	}
	if strings.TrimSpace(n.Body) == "" && n.Attachment == nil {
		return n, apperr.ErrMissingContent
	}
	if n.Kind == "" {
		n.Kind = model.KindText
		if n.Attachment != nil {
			n.Kind = model.KindFile
		}
	}
	return n, nil
}

// CheckEdit applies the edit rules to the current state of a message.
func CheckEdit(m model.Message, editorID string, opts Options, now time.Time) error {
	if m.SenderID != editorID {
		return apperr.ErrForbidden
	}
	if m.IsDeleted {
		return apperr.ErrAlreadyDeleted
	}
	if opts.EditWindow > 0 && now.Sub(m.CreatedAt) > opts.EditWindow {
		return apperr.ErrTooOld
	}
	return nil
}

// CheckDelete applies the delete rules. A nil error with done=true means the
// message is already deleted and must be returned unchanged.
func CheckDelete(m model.Message, requesterID string, opts Options, now time.Time) (done bool, err error) {
	if m.SenderID != requesterID {
		return false, apperr.ErrForbidden
	}
	if m.IsDeleted {
		return true, nil
	}
	if now.Sub(m.CreatedAt) > opts.DeleteWindow {
		return false, apperr.ErrTooOld
	}
	return false, nil
}
