// Package ws wires the authentication state machine and room engine to an
// actual WebSocket transport: it upgrades the HTTP connection, runs the
// accept/authenticate/join/leave/ping message loop described in spec §4.3
// and §6, and arms the liveness ping/pong cycle the periodic sweep relies on.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/jes11sy/realtime-gateway/internal/v1/auth"
	"github.com/jes11sy/realtime-gateway/internal/v1/metrics"
	"github.com/jes11sy/realtime-gateway/internal/v1/registry"
	"github.com/jes11sy/realtime-gateway/internal/v1/room"
	"github.com/jes11sy/realtime-gateway/internal/v1/types"
	"go.uber.org/zap"
)

// Resource caps from spec §5.
const (
	maxFrameBytes  = 1 << 20 // 1 MB
	pingInterval   = 25 * time.Second
	pongWait       = 60 * time.Second
	connectTimeout = 45 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true }, // origin checked by CORS/middleware upstream
}

// clientMessage is the envelope for every client→server message (spec §6).
type clientMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type authenticatePayload struct {
	Token string `json:"token"`
}

type roomPayload struct {
	Room string `json:"room"`
}

// Handler upgrades HTTP requests to WebSocket connections and runs the
// per-socket message loop.
type Handler struct {
	verifier *auth.Verifier
	registry *registry.Registry
	engine   *room.Engine
	log      *zap.Logger
}

// New builds a Handler over the given verifier, registry, and room engine.
func New(verifier *auth.Verifier, reg *registry.Registry, engine *room.Engine, log *zap.Logger) *Handler {
	return &Handler{verifier: verifier, registry: reg, engine: engine, log: log}
}

// ServeHTTP upgrades the request and runs the connection's lifetime.
// Authentication itself happens later, when the `authenticate` message
// arrives: handleAuthenticate resolves the token via the full source order
// from spec §4.1 (inline message field, X-Socket-Auth header, query param,
// Authorization bearer header, then cookie), reusing the original upgrade
// request for the non-inline sources.
func (h *Handler) ServeHTTP(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	sockConn := &gorillaSocket{conn: conn}
	sockConn.conn.SetReadLimit(maxFrameBytes)

	rc := h.registry.Accept(sockConn, h.log)

	var lastPong atomic.Int64
	lastPong.Store(time.Now().UnixNano())
	conn.SetReadDeadline(time.Now().Add(connectTimeout))
	conn.SetPongHandler(func(string) error {
		lastPong.Store(time.Now().UnixNano())
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	rc.Emit("connected", map[string]any{
		"socketId":     string(rc.SocketID()),
		"authDeadline": time.Now().Add(50 * time.Millisecond).UnixMilli(), // hint only; real deadline lives in the registry timer
	})

	go h.pingLoop(conn, rc.SocketID())

	h.readLoop(conn, rc, c.Request)
}

func (h *Handler) pingLoop(conn *websocket.Conn, socketID types.SocketIDType) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for range ticker.C {
		if _, ok := h.registry.Get(socketID); !ok {
			return
		}
		if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
			return
		}
	}
}

func (h *Handler) readLoop(conn *websocket.Conn, rc *registry.Connection, r *http.Request) {
	defer h.onDisconnect(rc)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			metrics.WebsocketEvents.WithLabelValues("unknown", "decode_error").Inc()
			continue
		}

		h.dispatch(rc, msg, r)
	}
}

func (h *Handler) dispatch(rc *registry.Connection, msg clientMessage, r *http.Request) {
	timer := time.Now()
	status := "ok"
	defer func() {
		metrics.WebsocketEvents.WithLabelValues(msg.Event, status).Inc()
		metrics.MessageProcessingDuration.WithLabelValues(msg.Event).Observe(time.Since(timer).Seconds())
	}()

	switch msg.Event {
	case "authenticate":
		status = h.handleAuthenticate(rc, msg.Data, r)
	case "join-room":
		status = h.handleJoinRoom(rc, msg.Data)
	case "leave-room":
		status = h.handleLeaveRoom(rc, msg.Data)
	case "ping":
		rc.Emit("pong", map[string]int64{"ts": time.Now().UnixMilli()})
	default:
		status = "unknown_event"
	}
}

func (h *Handler) handleAuthenticate(rc *registry.Connection, data json.RawMessage, r *http.Request) string {
	var payload authenticatePayload
	_ = json.Unmarshal(data, &payload)

	token, err := h.verifier.ExtractToken(r, payload.Token)
	if err != nil {
		rc.Close("invalid or missing token")
		return "invalid_token"
	}

	user, err := h.verifier.VerifyToken(token)
	if err != nil {
		rc.Close("invalid or missing token")
		return "invalid_token"
	}

	res, err := h.registry.Authenticate(rc.SocketID(), *user)
	if err != nil {
		rc.Close("authentication failed")
		return "error"
	}

	rc.Emit("authenticated", map[string]any{
		"userId": user.UserID,
		"role":   user.Role,
		"rooms":  res.JoinedRooms,
	})

	presence := map[string]any{"userId": user.UserID, "role": user.Role}
	for _, r := range res.PresenceRooms {
		_ = h.engine.BroadcastToRoom(context.Background(), r, "user:online", presence)
	}

	return "ok"
}

func (h *Handler) handleJoinRoom(rc *registry.Connection, data json.RawMessage) string {
	var payload roomPayload
	_ = json.Unmarshal(data, &payload)

	if err := h.registry.JoinRoom(rc.SocketID(), types.RoomIDType(payload.Room), room.MayJoin); err != nil {
		rc.Emit("error", map[string]string{"message": err.Error()})
		return "forbidden"
	}
	return "ok"
}

func (h *Handler) handleLeaveRoom(rc *registry.Connection, data json.RawMessage) string {
	var payload roomPayload
	_ = json.Unmarshal(data, &payload)

	if err := h.registry.LeaveRoom(rc.SocketID(), types.RoomIDType(payload.Room)); err != nil {
		rc.Emit("error", map[string]string{"message": err.Error()})
		return "invalid_room"
	}
	return "ok"
}

func (h *Handler) onDisconnect(rc *registry.Connection) {
	res := h.registry.Remove(rc.SocketID())
	if !res.WasAuthenticated {
		return
	}
	presence := map[string]any{"userId": res.User.UserID, "role": res.User.Role}
	for _, r := range res.PresenceRooms {
		_ = h.engine.BroadcastToRoom(context.Background(), r, "user:offline", presence)
	}
}

// gorillaSocket adapts *websocket.Conn to registry.Socket.
type gorillaSocket struct {
	conn *websocket.Conn
}

func (g *gorillaSocket) WriteMessage(messageType int, data []byte) error {
	return g.conn.WriteMessage(messageType, data)
}
func (g *gorillaSocket) Close() error                     { return g.conn.Close() }
func (g *gorillaSocket) SetWriteDeadline(t time.Time) error { return g.conn.SetWriteDeadline(t) }
