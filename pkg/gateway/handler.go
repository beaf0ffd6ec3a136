// Package gateway terminates participant websockets and attaches them to
// the Synchronization Hub.
package gateway

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vinchx/chitchat/pkg/apperr"
	"github.com/vinchx/chitchat/pkg/auth"
	"github.com/vinchx/chitchat/pkg/bus"
	"github.com/vinchx/chitchat/pkg/chat"
	"github.com/vinchx/chitchat/pkg/hub"
	"github.com/vinchx/chitchat/pkg/metrics"
	"github.com/vinchx/chitchat/pkg/rooms"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	DefaultSendBuffer = 256
	DefaultFrameRate  = 10
	DefaultFrameBurst = 20

	DefaultMembershipInterval = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for now
	},
}

// ReadMarker records read receipts on behalf of a connected user.
type ReadMarker interface {
	MarkRead(ctx context.Context, userID, roomID string, in chat.MarkInput) (int, error)
}

type Config struct {
	SendBuffer int
	// FrameRate and FrameBurst limit inbound frames per connection.
	FrameRate  float64
	FrameBurst int

	// MembershipInterval is how often an open socket re-checks that its
	// user still belongs to the room.
	MembershipInterval time.Duration
}

type Handler struct {
	hub   *hub.Hub
	auth  *auth.Authenticator
	rooms rooms.Registry
	bus   bus.Publisher
	reads ReadMarker
	cfg   Config
	log   *zap.Logger
}

// NewHandler serves /ws. Typing frames are published on b so that every
// gateway sees them; read frames go to reads, which may be nil.
func NewHandler(h *hub.Hub, authn *auth.Authenticator, reg rooms.Registry, b bus.Publisher, reads ReadMarker, cfg Config, log *zap.Logger) *Handler {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = DefaultSendBuffer
	}
	if cfg.FrameRate <= 0 {
		cfg.FrameRate = DefaultFrameRate
	}
	if cfg.FrameBurst <= 0 {
		cfg.FrameBurst = DefaultFrameBurst
	}
	if cfg.MembershipInterval <= 0 {
		cfg.MembershipInterval = DefaultMembershipInterval
	}
	return &Handler{hub: h, auth: authn, rooms: reg, bus: b, reads: reads, cfg: cfg, log: log}
}

// ServeHTTP handles websocket requests from the peer:
// GET /ws?room=<id>&token=<jwt>.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID, err := h.auth.Authenticate(r)
	if err != nil {
		h.log.Info("Unauthorized websocket request", zap.Error(err))
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	roomID := r.URL.Query().Get("room")
	if roomID == "" {
		http.Error(w, "room is required", http.StatusBadRequest)
		return
	}
	member, err := h.rooms.IsMember(r.Context(), roomID, userID)
	switch {
	case errors.Is(err, apperr.ErrRoomNotFound):
		http.Error(w, "room not found", http.StatusNotFound)
		return
	case err != nil:
		h.log.Error("Membership check failed", zap.String("room", roomID), zap.Error(err))
		http.Error(w, "membership check failed", http.StatusServiceUnavailable)
		return
	case !member:
		http.Error(w, "not a member of this room", http.StatusForbidden)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("Websocket upgrade failed", zap.Error(err))
		return
	}
	metrics.Connections.Inc()

	client := &Client{
		handler: h,
		conn:    conn,
		limiter: rate.NewLimiter(rate.Limit(h.cfg.FrameRate), h.cfg.FrameBurst),
		log:     h.log.With(zap.String("room", roomID), zap.String("user", userID)),
		send:    make(chan []byte, h.cfg.SendBuffer),
		done:    make(chan struct{}),
		userID:  userID,
		roomID:  roomID,
	}
	h.hub.Join(roomID, client)

	// Allow collection of memory referenced by the caller by doing all work in
	// new goroutines.
	go client.writePump()
	go client.readPump()
}
