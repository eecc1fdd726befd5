package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/jes11sy/realtime-gateway/internal/v1/auth"
	"github.com/jes11sy/realtime-gateway/internal/v1/registry"
	"github.com/jes11sy/realtime-gateway/internal/v1/room"
	"github.com/jes11sy/realtime-gateway/internal/v1/types"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testSigningKey = "test-signing-key-at-least-32-bytes-long"

func init() {
	gin.SetMode(gin.TestMode)
}

// noopBus is a degraded-mode types.Bus stand-in: no cross-instance fan-out,
// just enough to satisfy room.New for a single-instance test server.
type noopBus struct{}

func (noopBus) Publish(context.Context, types.Envelope) error       { return nil }
func (noopBus) Subscribe(context.Context, func(types.Envelope)) error { return nil }
func (noopBus) Close() error                                         { return nil }
func (noopBus) Ready() bool                                          { return false }

func newTestServer(t *testing.T) (*httptest.Server, *auth.Verifier) {
	verifier, err := auth.NewVerifier(testSigningKey, "")
	require.NoError(t, err)

	reg := registry.New(time.Minute, zap.NewNop())
	engine := room.New(reg, noopBus{}, zap.NewNop())
	h := New(verifier, reg, engine, zap.NewNop())

	router := gin.New()
	router.GET("/ws", func(c *gin.Context) { h.ServeHTTP(c) })
	srv := httptest.NewServer(router)
	return srv, verifier
}

// readUntilAuthenticated reads frames off conn until it sees the
// "authenticated" or "error" event, returning the decoded envelope.
func readUntilAuthenticated(t *testing.T, conn *websocket.Conn) types.Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)

		var env types.Envelope
		require.NoError(t, json.Unmarshal(data, &env))
		if env.Event == "connected" {
			continue
		}
		return env
	}
}

func dial(t *testing.T, wsURL string, header http.Header) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.NoError(t, err)
	return conn
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func TestAuthenticate_InlineToken(t *testing.T) {
	srv, _ := newTestServer(t)
	defer srv.Close()

	token, err := auth.GenerateToken(testSigningKey, 1, types.RoleOperator, time.Hour)
	require.NoError(t, err)

	conn := dial(t, wsURL(srv), nil)
	defer conn.Close()

	msg := map[string]any{"event": "authenticate", "data": map[string]string{"token": token}}
	raw, _ := json.Marshal(msg)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, raw))

	env := readUntilAuthenticated(t, conn)
	require.Equal(t, "authenticated", env.Event)
}

func TestAuthenticate_SocketAuthHeader(t *testing.T) {
	srv, _ := newTestServer(t)
	defer srv.Close()

	token, err := auth.GenerateToken(testSigningKey, 2, types.RoleOperator, time.Hour)
	require.NoError(t, err)

	header := http.Header{}
	header.Set("X-Socket-Auth", token)
	conn := dial(t, wsURL(srv), header)
	defer conn.Close()

	msg := map[string]any{"event": "authenticate", "data": map[string]string{}}
	raw, _ := json.Marshal(msg)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, raw))

	env := readUntilAuthenticated(t, conn)
	require.Equal(t, "authenticated", env.Event)
}

func TestAuthenticate_QueryParamToken(t *testing.T) {
	srv, _ := newTestServer(t)
	defer srv.Close()

	token, err := auth.GenerateToken(testSigningKey, 3, types.RoleOperator, time.Hour)
	require.NoError(t, err)

	u := wsURL(srv) + "?token=" + url.QueryEscape(token)
	conn := dial(t, u, nil)
	defer conn.Close()

	msg := map[string]any{"event": "authenticate", "data": map[string]string{}}
	raw, _ := json.Marshal(msg)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, raw))

	env := readUntilAuthenticated(t, conn)
	require.Equal(t, "authenticated", env.Event)
}

func TestAuthenticate_BearerHeader(t *testing.T) {
	srv, _ := newTestServer(t)
	defer srv.Close()

	token, err := auth.GenerateToken(testSigningKey, 4, types.RoleOperator, time.Hour)
	require.NoError(t, err)

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	conn := dial(t, wsURL(srv), header)
	defer conn.Close()

	msg := map[string]any{"event": "authenticate", "data": map[string]string{}}
	raw, _ := json.Marshal(msg)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, raw))

	env := readUntilAuthenticated(t, conn)
	require.Equal(t, "authenticated", env.Event)
}

func TestAuthenticate_Cookie(t *testing.T) {
	srv, _ := newTestServer(t)
	defer srv.Close()

	token, err := auth.GenerateToken(testSigningKey, 5, types.RoleOperator, time.Hour)
	require.NoError(t, err)

	header := http.Header{}
	header.Set("Cookie", "access_token="+token)
	conn := dial(t, wsURL(srv), header)
	defer conn.Close()

	msg := map[string]any{"event": "authenticate", "data": map[string]string{}}
	raw, _ := json.Marshal(msg)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, raw))

	env := readUntilAuthenticated(t, conn)
	require.Equal(t, "authenticated", env.Event)
}

func TestAuthenticate_NoSourceRejected(t *testing.T) {
	srv, _ := newTestServer(t)
	defer srv.Close()

	conn := dial(t, wsURL(srv), nil)
	defer conn.Close()

	msg := map[string]any{"event": "authenticate", "data": map[string]string{}}
	raw, _ := json.Marshal(msg)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, raw))

	env := readUntilAuthenticated(t, conn)
	require.Equal(t, "error", env.Event)
}
