package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vinchx/chitchat/pkg/auth"
	"github.com/vinchx/chitchat/pkg/bus"
	"github.com/vinchx/chitchat/pkg/chat"
	"github.com/vinchx/chitchat/pkg/hub"
	"github.com/vinchx/chitchat/pkg/model"
	"github.com/vinchx/chitchat/pkg/rooms"
	"go.uber.org/zap"
)

type marker struct {
	mu    sync.Mutex
	calls []chat.MarkInput
}

func (m *marker) MarkRead(_ context.Context, userID, roomID string, in chat.MarkInput) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, in)
	return len(in.MessageIDs), nil
}

func (m *marker) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

type gatewayFixture struct {
	srv   *httptest.Server
	hub   *hub.Hub
	authn *auth.Authenticator
	reads *marker
	rooms *rooms.Memory
}

func newGateway(t *testing.T, cfg Config) *gatewayFixture {
	t.Helper()
	h := hub.New(hub.Options{TypingTTL: time.Hour}, zap.NewNop())
	t.Cleanup(h.Close)
	authn := auth.NewAuthenticator("gw-secret", time.Hour)
	reg := rooms.NewMemory(rooms.Room{ID: "R", Type: rooms.TypeGroup, Members: []string{"A", "B"}})
	reads := &marker{}

	handler := NewHandler(h, authn, reg, bus.NewLocal(h), reads, cfg, zap.NewNop())
	mux := http.NewServeMux()
	mux.Handle("/ws", handler)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return &gatewayFixture{srv: srv, hub: h, authn: authn, reads: reads, rooms: reg}
}

func (f *gatewayFixture) url(t *testing.T, user, room string) string {
	token, err := f.authn.GenerateToken(user)
	require.NoError(t, err)
	return "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws?room=" + room + "&token=" + token
}

func (f *gatewayFixture) dial(t *testing.T, user string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(f.url(t, user, "R"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil returns the first event of type want, skipping others.
func readUntil(t *testing.T, conn *websocket.Conn, want model.EventType) model.Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		_, payload, err := conn.ReadMessage()
		require.NoError(t, err)
		ev, err := model.UnmarshalEvent(payload)
		require.NoError(t, err)
		if ev.Type == want {
			return ev
		}
	}
}

func TestHandshakeRejections(t *testing.T) {
	f := newGateway(t, Config{})

	_, resp, err := websocket.DefaultDialer.Dial(f.url(t, "C", "R"), nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial(f.url(t, "A", "nope"), nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(f.srv.URL, "http")+"/ws?room=R&token=bogus", nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestEventsReachConnectedParticipants(t *testing.T) {
	f := newGateway(t, Config{})
	a := f.dial(t, "A")
	ev := readUntil(t, a, model.EventPresence)
	assert.Equal(t, []string{"A"}, ev.Online)

	b := f.dial(t, "B")
	ev = readUntil(t, a, model.EventPresence)
	assert.Equal(t, []string{"A", "B"}, ev.Online)

	m := model.Message{ID: "msg0000000000000000042", RoomID: "R", SenderID: "A", Body: "hi"}
	require.NoError(t, f.hub.Publish(context.Background(), model.MessageEvent(model.EventMessageCreated, m)))
	got := readUntil(t, b, model.EventMessageCreated)
	assert.Equal(t, m.ID, got.MessageID)
	assert.Equal(t, "hi", got.Message.Body)

	require.NoError(t, b.Close())
	ev = readUntil(t, a, model.EventPresence)
	assert.Equal(t, []string{"A"}, ev.Online)
}

func TestTypingAndReadFrames(t *testing.T) {
	f := newGateway(t, Config{})
	a := f.dial(t, "A")
	b := f.dial(t, "B")
	readUntil(t, a, model.EventPresence)

	require.NoError(t, b.WriteMessage(websocket.TextMessage, []byte(`{"type":"typing.started"}`)))
	ev := readUntil(t, a, model.EventTypingStarted)
	assert.Equal(t, "B", ev.UserID)
	assert.Equal(t, "R", ev.RoomID)

	require.NoError(t, b.WriteMessage(websocket.TextMessage, []byte(`{"type":"typing.stopped"}`)))
	assert.Equal(t, "B", readUntil(t, a, model.EventTypingStopped).UserID)

	require.NoError(t, b.WriteMessage(websocket.TextMessage, []byte(`{"type":"read","messageIds":["msg0000000000000000042"]}`)))
	require.NoError(t, b.WriteMessage(websocket.TextMessage, []byte(`not json`)))
	require.Eventually(t, func() bool { return f.reads.count() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestInboundFramesAreRateLimited(t *testing.T) {
	f := newGateway(t, Config{FrameRate: 0.001, FrameBurst: 2})
	b := f.dial(t, "B")

	for range 5 {
		require.NoError(t, b.WriteMessage(websocket.TextMessage, []byte(`{"type":"read","messageIds":["m"]}`)))
	}
	require.Eventually(t, func() bool { return f.reads.count() == 2 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 2, f.reads.count())
}

func TestRemovedMemberIsDisconnected(t *testing.T) {
	f := newGateway(t, Config{MembershipInterval: 20 * time.Millisecond})
	a := f.dial(t, "A")
	b := f.dial(t, "B")
	readUntil(t, a, model.EventPresence)

	f.rooms.Put(rooms.Room{ID: "R", Type: rooms.TypeGroup, Members: []string{"A"}})

	require.NoError(t, b.SetReadDeadline(time.Now().Add(2*time.Second)))
	var err error
	for err == nil {
		_, _, err = b.ReadMessage()
	}
	assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation), "got %v", err)

	// A is still a member and keeps receiving.
	require.Eventually(t, func() bool { return len(f.hub.Online("R")) == 1 }, time.Second, 10*time.Millisecond)
	m := model.Message{ID: "msg0000000000000000043", RoomID: "R", SenderID: "A", Body: "still here"}
	require.NoError(t, f.hub.Publish(context.Background(), model.MessageEvent(model.EventMessageCreated, m)))
	assert.Equal(t, m.ID, readUntil(t, a, model.EventMessageCreated).MessageID)
}
