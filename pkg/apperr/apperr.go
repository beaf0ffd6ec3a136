// Package apperr holds the error taxonomy shared by the stores, the chat
// service and the HTTP layer.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindAuthorization
	KindNotFound
	KindConflict
	KindTransient
	KindExternal
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthorization:
		return "authorization"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindTransient:
		return "transient"
	case KindExternal:
		return "external"
	default:
		return "unknown"
	}
}

type Error struct {
	kind Kind
	msg  string
}

func (e *Error) Error() string { return e.msg }
func (e *Error) Kind() Kind     { return e.kind }

func New(kind Kind, msg string) *Error {
	return &Error{kind: kind, msg: msg}
}

var (
	ErrMissingRoom         = New(KindValidation, "room id is required")
	ErrMissingContent      = New(KindValidation, "message body or attachment is required")
	ErrMissingBody         = New(KindValidation, "message body is required")
	ErrInvalidAttachment   = New(KindValidation, "invalid attachment")
	ErrInvalidCursor       = New(KindValidation, "invalid pagination cursor")
	ErrUnauthenticated     = New(KindAuthorization, "authentication required")
	ErrNotMember           = New(KindAuthorization, "user is not a member of this room")
	ErrForbidden           = New(KindAuthorization, "only the sender can modify this message")
	ErrTooOld              = New(KindAuthorization, "message is too old to be deleted")
	ErrRoomNotFound        = New(KindNotFound, "room not found")
	ErrMessageNotFound     = New(KindNotFound, "message not found")
	ErrReplyTargetNotFound = New(KindNotFound, "reply target not found")
	ErrAlreadyDeleted      = New(KindConflict, "message has been deleted")
	ErrDuplicateReceipt    = New(KindConflict, "receipt already recorded")
	ErrStoreUnavailable    = New(KindTransient, "store unavailable")
	ErrGeneration          = New(KindExternal, "generation failed")
)

// Transient wraps a storage I/O failure so that callers can tell it is safe
// to retry the whole operation.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}

func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.kind
	}
	return KindUnknown
}

func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuthorization:
		if errors.Is(err, ErrUnauthenticated) {
			return http.StatusUnauthorized
		}
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindTransient:
		return http.StatusServiceUnavailable
	case KindExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
