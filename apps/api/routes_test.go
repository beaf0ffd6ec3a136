package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vinchx/chitchat/pkg/api"
	"github.com/vinchx/chitchat/pkg/auth"
	"github.com/vinchx/chitchat/pkg/backend"
	"github.com/vinchx/chitchat/pkg/model"
	"go.uber.org/zap"
)

// Without a broker, a message posted over HTTP reaches a socket held open
// on the same process.
func TestSingleProcessServesWebsocket(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rooms.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"id":"general","type":"group","members":["alice","bob"]}]`), 0o600))

	b, err := backend.Open(t.Context(), backend.Config{StoreDriver: backend.DriverMemory, RoomsFile: path}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(b.Close)
	svc := b.Service()

	authn := auth.NewAuthenticator("single-secret", time.Hour)
	handler, release, err := routes(Config{TypingTTL: time.Second}, b, svc, authn, nil, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(release)
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	bobToken, err := authn.GenerateToken("bob")
	require.NoError(t, err)
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws?room=general&token="+bobToken, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	aliceToken, err := authn.GenerateToken("alice")
	require.NoError(t, err)
	raw, err := json.Marshal(api.CreateMessageRequest{Body: "anyone here?"})
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/rooms/general/messages", bytes.NewReader(raw))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+aliceToken)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		_, payload, err := conn.ReadMessage()
		require.NoError(t, err)
		ev, err := model.UnmarshalEvent(payload)
		require.NoError(t, err)
		if ev.Type == model.EventMessageCreated {
			assert.Equal(t, "anyone here?", ev.Message.Body)
			assert.Equal(t, "alice", ev.Message.SenderID)
			return
		}
	}
}
