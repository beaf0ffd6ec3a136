package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vinchx/chitchat/pkg/apperr"
	"github.com/vinchx/chitchat/pkg/chat"
	"github.com/vinchx/chitchat/pkg/metrics"
	"github.com/vinchx/chitchat/pkg/model"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 8192

	// Upper bound for work triggered by one inbound frame.
	frameTimeout = 5 * time.Second
)

// FrameRead is the inbound frame type reporting messages the user has seen.
const FrameRead = "read"

// Frame is sent by clients: typing.started, typing.stopped or read.
type Frame struct {
	Type       string   `json:"type"`
	MessageIDs []string `json:"messageIds"`
}

// Client is a middleman between the websocket connection and the hub. It
// belongs to exactly one room for its whole life.
type Client struct {
	handler *Handler
	conn    *websocket.Conn
	limiter *rate.Limiter
	log     *zap.Logger

	// Buffered channel of outbound messages.
	send chan []byte
	done chan struct{}

	userID string
	roomID string
}

func (c *Client) UserID() string { return c.userID }

// Deliver queues payload without blocking.
func (c *Client) Deliver(payload []byte) bool {
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// readPump pumps frames from the websocket connection to the hub.
func (c *Client) readPump() {
	defer func() {
		c.handler.hub.Leave(c.roomID, c)
		close(c.done)
		c.conn.Close()
		metrics.Connections.Dec()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warn("Unexpected close", zap.Error(err))
			}
			break
		}
		if !c.limiter.Allow() {
			c.log.Debug("Frame rate exceeded, frame dropped")
			continue
		}
		c.handleFrame(message)
	}
}

func (c *Client) handleFrame(message []byte) {
	var frame Frame
	if err := json.Unmarshal(message, &frame); err != nil {
		c.log.Debug("Ignoring malformed frame", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), frameTimeout)
	defer cancel()

	switch frame.Type {
	case string(model.EventTypingStarted), string(model.EventTypingStopped):
		ev := model.Event{Type: model.EventType(frame.Type), RoomID: c.roomID, UserID: c.userID, At: time.Now().UTC()}
		if err := c.handler.bus.Publish(ctx, ev); err != nil {
			c.log.Warn("Failed to publish typing event", zap.Error(err))
		}
	case FrameRead:
		if len(frame.MessageIDs) == 0 || c.handler.reads == nil {
			return
		}
		n, err := c.handler.reads.MarkRead(ctx, c.userID, c.roomID, chat.MarkInput{MessageIDs: frame.MessageIDs})
		if err != nil {
			c.log.Warn("Failed to record receipts", zap.Error(err))
			return
		}
		c.log.Debug("Receipts recorded", zap.Int("marked", n))
	default:
		c.log.Debug("Ignoring frame", zap.String("type", frame.Type))
	}
}

// stillMember re-reads membership. Only a definite answer revokes the
// socket; registry errors keep it open.
func (c *Client) stillMember() bool {
	ctx, cancel := context.WithTimeout(context.Background(), frameTimeout)
	defer cancel()
	member, err := c.handler.rooms.IsMember(ctx, c.roomID, c.userID)
	switch {
	case errors.Is(err, apperr.ErrRoomNotFound):
		return false
	case err != nil:
		c.log.Warn("Membership re-check failed", zap.Error(err))
		return true
	}
	return member
}

// writePump pumps events from the hub to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	membership := time.NewTicker(c.handler.cfg.MembershipInterval)
	defer func() {
		ticker.Stop()
		membership.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

			// Flush whatever queued up meanwhile, one frame per event.
			n := len(c.send)
			for i := 0; i < n; i++ {
				if err := c.conn.WriteMessage(websocket.TextMessage, <-c.send); err != nil {
					return
				}
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-membership.C:
			if c.stillMember() {
				continue
			}
			c.log.Info("Closing socket, user left the room")
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "no longer a member of this room"))
			return
		}
	}
}
