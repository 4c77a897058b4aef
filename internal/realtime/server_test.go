package realtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/ecoloop/internal/auth"
)

type wsEnv struct {
	hub    *Hub
	tokens *auth.TokenService
	srv    *httptest.Server
}

func newWSEnv(t *testing.T) *wsEnv {
	t.Helper()
	tokens, err := auth.NewTokenService("realtime-test-secret-123", time.Hour)
	require.NoError(t, err)
	hub := NewHub(testLogger())
	srv := httptest.NewServer(NewServer(hub, hub, tokens, []string{"*"}, testLogger()))
	t.Cleanup(srv.Close)
	return &wsEnv{hub: hub, tokens: tokens, srv: srv}
}

// dial connects as userID and waits until the session has joined its room.
func (e *wsEnv) dial(t *testing.T, userID string) *websocket.Conn {
	t.Helper()
	tok, err := e.tokens.Generate(userID)
	require.NoError(t, err)

	before := e.hub.Online(userID)
	url := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "?token=" + tok
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool { return e.hub.Online(userID) == before+1 },
		time.Second, 10*time.Millisecond)
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) (string, map[string]any) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	return decode(t, raw)
}

func TestServer_RejectsMissingOrBadToken(t *testing.T) {
	env := newWSEnv(t)
	url := "ws" + strings.TrimPrefix(env.srv.URL, "http")

	for _, q := range []string{"", "?token=garbage"} {
		_, resp, err := websocket.DefaultDialer.Dial(url+q, nil)
		require.Error(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	}
}

func TestServer_AcceptsBearerHeader(t *testing.T) {
	env := newWSEnv(t)
	tok, _ := env.tokens.Generate("carol")

	url := "ws" + strings.TrimPrefix(env.srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{"Authorization": {"Bearer " + tok}})
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return env.hub.Online("carol") == 1 }, time.Second, 10*time.Millisecond)
}

func TestServer_PushReachesConnectedUser(t *testing.T) {
	env := newWSEnv(t)
	bob := env.dial(t, "bob")

	err := env.hub.Publish(context.Background(), "bob", EventPrivateMessage, map[string]string{"content": "is the chair still available?"})
	require.NoError(t, err)

	event, data := readFrame(t, bob)
	assert.Equal(t, EventPrivateMessage, event)
	assert.Equal(t, "is the chair still available?", data["content"])
}

func TestServer_TypingRelayStampsSender(t *testing.T) {
	env := newWSEnv(t)
	alice := env.dial(t, "alice")
	bob := env.dial(t, "bob")

	require.NoError(t, alice.WriteJSON(map[string]any{
		"event": EventTyping,
		"data":  map[string]string{"recipientId": "bob", "userId": "mallory"},
	}))

	event, data := readFrame(t, bob)
	assert.Equal(t, EventTyping, event)
	assert.Equal(t, "alice", data["userId"])
	assert.Equal(t, "bob", data["recipientId"])

	require.NoError(t, alice.WriteJSON(map[string]any{
		"event": EventStopTyping,
		"data":  map[string]string{"recipientId": "bob"},
	}))
	event, data = readFrame(t, bob)
	assert.Equal(t, EventStopTyping, event)
	assert.Equal(t, "alice", data["userId"])
	assert.Equal(t, "bob", data["recipientId"])
}

func TestServer_ErrorFrames(t *testing.T) {
	env := newWSEnv(t)
	alice := env.dial(t, "alice")

	tests := []struct {
		name  string
		frame string
	}{
		{"join someone else", `{"event":"join","data":{"userId":"bob"}}`},
		{"typing without recipient", `{"event":"typing","data":{}}`},
		{"unknown event", `{"event":"dance"}`},
		{"malformed", `{not json`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, alice.WriteMessage(websocket.TextMessage, []byte(tt.frame)))
			event, data := readFrame(t, alice)
			assert.Equal(t, EventError, event)
			assert.NotEmpty(t, data["message"])
		})
	}
	assert.Equal(t, 0, env.hub.Online("bob"), "join for another user must not subscribe")
}

func TestServer_DisconnectLeavesRooms(t *testing.T) {
	env := newWSEnv(t)
	conn := env.dial(t, "dave")

	conn.Close()
	require.Eventually(t, func() bool { return env.hub.Online("dave") == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"https://ecoloop.example"})

	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	assert.True(t, check(r), "no Origin header")

	r.Header.Set("Origin", "https://ecoloop.example")
	assert.True(t, check(r))

	r.Header.Set("Origin", "https://evil.example")
	assert.False(t, check(r))
}
