package registry

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/jes11sy/realtime-gateway/internal/v1/metrics"
	"github.com/jes11sy/realtime-gateway/internal/v1/types"
	"go.uber.org/zap"
)

// writeDeadline bounds a single WebSocket frame write (spec §5 resource caps).
const writeDeadline = 10 * time.Second

// sendBufferSize bounds the outbound queue per connection before a slow
// client starts dropping messages rather than applying backpressure to the
// whole registry.
const sendBufferSize = 64

// Socket is the minimal WebSocket surface a Connection needs. Satisfied by
// *websocket.Conn; narrowed to an interface so tests can use a fake.
type Socket interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
	SetWriteDeadline(t time.Time) error
}

// Connection is one live bidirectional socket (spec §3 "Connection").
// It implements types.Emitter.
type Connection struct {
	socketID types.SocketIDType
	conn     Socket
	log      *zap.Logger

	mu       sync.RWMutex
	state    types.ConnState
	user     *types.User
	rooms    map[types.RoomIDType]struct{}
	authTmr  *time.Timer
	closeOne sync.Once

	send chan []byte
}

var _ types.Emitter = (*Connection)(nil)

func newConnection(socketID types.SocketIDType, conn Socket, log *zap.Logger) *Connection {
	return &Connection{
		socketID: socketID,
		conn:     conn,
		log:      log,
		state:    types.StatePending,
		rooms:    make(map[types.RoomIDType]struct{}),
		send:     make(chan []byte, sendBufferSize),
	}
}

// SocketID returns the connection's opaque identifier.
func (c *Connection) SocketID() types.SocketIDType { return c.socketID }

// UserID returns the authenticated user id, if any.
func (c *Connection) UserID() (types.UserIDType, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.user == nil {
		return 0, false
	}
	return c.user.UserID, true
}

// User returns a copy of the authenticated principal, if any.
func (c *Connection) User() (types.User, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.user == nil {
		return types.User{}, false
	}
	return *c.user, true
}

// State returns the connection's current authentication state.
func (c *Connection) State() types.ConnState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Rooms returns a snapshot of the connection's current room memberships.
func (c *Connection) Rooms() []types.RoomIDType {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]types.RoomIDType, 0, len(c.rooms))
	for r := range c.rooms {
		out = append(out, r)
	}
	return out
}

// InRoom reports whether the connection currently holds room.
func (c *Connection) InRoom(room types.RoomIDType) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.rooms[room]
	return ok
}

func (c *Connection) addRoom(room types.RoomIDType) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rooms[room] = struct{}{}
}

func (c *Connection) removeRoom(room types.RoomIDType) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.rooms, room)
}

// Emit marshals {event, data} and queues it for delivery to this socket.
// Marshaling happens outside any registry lock; queuing never blocks on I/O
// (spec §5 "suspension points" — a full send buffer drops rather than
// stalling the caller).
func (c *Connection) Emit(event string, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		c.log.Error("emit: failed to marshal payload", zap.String("event", event), zap.Error(err))
		return
	}

	env := types.Envelope{Event: event, Data: raw}
	frame, err := json.Marshal(env)
	if err != nil {
		c.log.Error("emit: failed to marshal envelope", zap.String("event", event), zap.Error(err))
		return
	}

	select {
	case c.send <- frame:
	default:
		c.log.Warn("emit: send buffer full, dropping message", zap.String("socketId", string(c.socketID)), zap.String("event", event))
	}
}

// writePump drains the send channel to the underlying socket until it is
// closed. Runs in its own goroutine for the lifetime of the connection.
func (c *Connection) writePump() {
	defer c.conn.Close()
	for frame := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
		if err := c.conn.WriteMessage(1 /* websocket.TextMessage */, frame); err != nil {
			return
		}
	}
}

// wsPingMessageType mirrors gorilla/websocket.PingMessage (9) without
// importing the transport package here; registry stays transport-agnostic
// and only needs the wire constant to probe liveness.
const wsPingMessageType = 9

// Ping probes the underlying socket with a control frame, used by the
// registry's periodic sweep to reap connections whose disconnect callback
// never fired (spec §4.3). Returns false if the write fails.
func (c *Connection) Ping() bool {
	return c.conn.WriteMessage(wsPingMessageType, nil) == nil
}

// Close sends a best-effort error frame (when reason is non-empty) and tears
// down the socket. Safe to call more than once and from any goroutine.
func (c *Connection) Close(reason string) {
	c.closeOne.Do(func() {
		if reason != "" {
			type errPayload struct {
				Message string `json:"message"`
			}
			c.Emit("error", errPayload{Message: reason})
		}

		c.mu.Lock()
		c.state = types.StateTerminated
		if c.authTmr != nil {
			c.authTmr.Stop()
		}
		c.mu.Unlock()

		close(c.send)
		metrics.DecConnection()
	})
}
