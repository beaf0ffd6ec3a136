package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/samber/lo"
	"github.com/vinchx/chitchat/pkg/apperr"
	"github.com/vinchx/chitchat/pkg/auth"
	"github.com/vinchx/chitchat/pkg/chat"
	"github.com/vinchx/chitchat/pkg/model"
	"github.com/vinchx/chitchat/pkg/store"
)

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// login issues a session token for any user id. Identity proof belongs to
// the external auth service.
func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	token, err := s.auth.GenerateToken(req.UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, LoginResponse{Token: token})
}

func (s *Server) createMessage(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserFromContext(r.Context())
	var req CreateMessageRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	in := chat.CreateInput{
		RoomID:      mux.Vars(r)["roomId"],
		Body:        req.Body,
		ReplyToID:   req.ReplyTo,
		ClientToken: req.ClientToken,
	}
	if a := req.Attachment; a != nil {
		in.Attachment = &model.Attachment{URL: a.URL, Filename: a.Filename, Size: a.Size, MimeType: a.MimeType}
	}
	m, err := s.chat.Create(r.Context(), userID, in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, CreateMessageResponse{MessageID: m.ID, CreatedAt: m.CreatedAt, Message: m})
}

func (s *Server) listMessages(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserFromContext(r.Context())
	page, err := parsePage(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.chat.List(r.Context(), userID, mux.Vars(r)["roomId"], page)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	out := ListMessagesResponse{Messages: res.Messages, HasMore: res.HasMore, NextCursor: res.NextCursor}
	if out.Messages == nil {
		out.Messages = []model.Message{}
	}
	if !res.OldestTimestamp.IsZero() {
		out.OldestTimestamp = &res.OldestTimestamp
	}
	writeJSON(w, http.StatusOK, out)
}

// parsePage reads cursor, before and limit. before is RFC 3339 or unix
// milliseconds.
func parsePage(r *http.Request) (store.Page, error) {
	q := r.URL.Query()
	page := store.Page{BeforeID: q.Get("cursor")}
	if raw := q.Get("before"); raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			ms, msErr := strconv.ParseInt(raw, 10, 64)
			if msErr != nil {
				return store.Page{}, apperr.ErrInvalidCursor
			}
			t = time.UnixMilli(ms)
		}
		page.Before = t
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return store.Page{}, apperr.New(apperr.KindValidation, "limit must be a positive integer")
		}
		page.Limit = n
	}
	return page, nil
}

func (s *Server) getMessage(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserFromContext(r.Context())
	m, err := s.chat.Get(r.Context(), userID, mux.Vars(r)["messageId"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) editMessage(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserFromContext(r.Context())
	var req EditMessageRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	m, err := s.chat.Edit(r.Context(), userID, mux.Vars(r)["messageId"], req.Body)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, EditMessageResponse{IsEdited: true, Message: m})
}

func (s *Server) deleteMessage(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserFromContext(r.Context())
	m, err := s.chat.Delete(r.Context(), userID, mux.Vars(r)["messageId"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, DeleteMessageResponse{IsDeleted: true, Message: m})
}

func (s *Server) markRead(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserFromContext(r.Context())
	var req MarkReadRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	n, err := s.chat.MarkRead(r.Context(), userID, mux.Vars(r)["roomId"], chat.MarkInput{
		MessageIDs: req.MessageIDs,
		All:        req.MarkAllAsRead,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MarkReadResponse{MarkedCount: n})
}

func (s *Server) receipts(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserFromContext(r.Context())
	var ids []string
	if raw := r.URL.Query().Get("messageIds"); raw != "" {
		ids = lo.Compact(lo.Map(strings.Split(raw, ","), func(id string, _ int) string { return strings.TrimSpace(id) }))
	}
	got, err := s.chat.GetReceipts(r.Context(), userID, mux.Vars(r)["roomId"], ids)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ReceiptsResponse{Receipts: got})
}

func (s *Server) presenceOf(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserFromContext(r.Context())
	roomID := mux.Vars(r)["roomId"]
	if err := s.chat.Authorize(r.Context(), roomID, userID); err != nil {
		s.writeError(w, r, err)
		return
	}

	online := []string{}
	if s.presence != nil {
		users, err := s.presence.Online(r.Context(), roomID)
		if err != nil {
			s.writeError(w, r, apperr.Transient("read presence", err))
			return
		}
		online = append(online, users...)
	}
	writeJSON(w, http.StatusOK, PresenceResponse{RoomID: roomID, Online: online, Count: len(online)})
}
