// Package registry implements the connection registry and authentication
// state machine (spec §4.3/§4.5, components C3 and C5): an in-memory arena
// of live sockets, a secondary index by user id, a bounded authentication
// grace period, and a periodic sweep for orphaned sockets.
package registry

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jes11sy/realtime-gateway/internal/v1/auth"
	"github.com/jes11sy/realtime-gateway/internal/v1/metrics"
	"github.com/jes11sy/realtime-gateway/internal/v1/types"
	"go.uber.org/zap"
)

// ErrInvalidRoomName is returned when a room name fails types.RoomNamePattern.
var ErrInvalidRoomName = registryError("registry: invalid room name")

// ErrForbidden is returned when a join violates the room ACL (spec §4.4).
var ErrForbidden = registryError("registry: forbidden room join")

type registryError string

func (e registryError) Error() string { return string(e) }

// AuthResult carries what changed when a connection authenticates
// successfully: the rooms it auto-joined and the rooms its presence event
// should be scoped to.
type AuthResult struct {
	Connection    *Connection
	JoinedRooms   []types.RoomIDType
	PresenceRooms []types.RoomIDType
}

// RemoveResult carries what the caller needs to emit a presence event after
// a disconnect or sweep reap.
type RemoveResult struct {
	WasAuthenticated bool
	User             types.User
	PresenceRooms    []types.RoomIDType
}

// Stats summarizes registry occupancy for the stats HTTP endpoint.
type Stats struct {
	TotalConnections         int `json:"totalConnections"`
	AuthenticatedConnections int `json:"authenticatedConnections"`
	PendingConnections       int `json:"pendingConnections"`
	UniqueUsers              int `json:"uniqueUsers"`
}

// Registry is the arena of live connections plus the userId secondary
// index (spec §3 "Registry"). A single RWMutex guards both maps; the access
// pattern is read-heavy (broadcast lookups) with short critical sections and
// no I/O performed while held, per spec §5.
type Registry struct {
	authGrace time.Duration
	log       *zap.Logger

	mu       sync.RWMutex
	bySocket map[types.SocketIDType]*Connection
	byUser   map[types.UserIDType]map[types.SocketIDType]struct{}
}

// New builds an empty Registry. authGrace is the Pending→Terminated timeout
// (spec §3, default AUTH_GRACE_SECONDS=10).
func New(authGrace time.Duration, log *zap.Logger) *Registry {
	return &Registry{
		authGrace: authGrace,
		log:       log,
		bySocket:  make(map[types.SocketIDType]*Connection),
		byUser:    make(map[types.UserIDType]map[types.SocketIDType]struct{}),
	}
}

// Accept registers a newly accepted socket in the Pending state, arms the
// authentication grace timer, and starts its write pump. If the grace period
// expires before Authenticate is called, the registry unregisters the
// connection and closes it with a non-empty reason, which makes
// Connection.Close send the single `error` frame before closing.
func (r *Registry) Accept(conn Socket, log *zap.Logger) *Connection {
	socketID := types.SocketIDType(uuid.NewString())
	c := newConnection(socketID, conn, log)

	r.mu.Lock()
	r.bySocket[socketID] = c
	r.mu.Unlock()

	metrics.IncConnection()
	go c.writePump()

	c.mu.Lock()
	c.authTmr = time.AfterFunc(r.authGrace, func() {
		r.expireIfPending(socketID)
	})
	c.mu.Unlock()

	return c
}

func (r *Registry) expireIfPending(socketID types.SocketIDType) {
	r.mu.Lock()
	c, ok := r.bySocket[socketID]
	if !ok {
		r.mu.Unlock()
		return
	}
	if c.State() != types.StatePending {
		r.mu.Unlock()
		return
	}
	delete(r.bySocket, socketID)
	r.mu.Unlock()

	c.Close("authentication grace period exceeded")
}

// Get returns the connection for socketID, if still registered.
func (r *Registry) Get(socketID types.SocketIDType) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.bySocket[socketID]
	return c, ok
}

// Authenticate promotes a Pending connection to Authenticated: sets its
// user, cancels the grace timer, indexes it under byUser, and auto-joins
// the role rooms derived from the user's role (spec §4.3 steps 1-3).
func (r *Registry) Authenticate(socketID types.SocketIDType, user types.User) (*AuthResult, error) {
	r.mu.Lock()
	c, ok := r.bySocket[socketID]
	if !ok {
		r.mu.Unlock()
		return nil, registryError("registry: unknown socket")
	}

	c.mu.Lock()
	if c.state != types.StatePending {
		c.mu.Unlock()
		r.mu.Unlock()
		return nil, registryError("registry: connection is not pending")
	}
	c.user = &user
	c.state = types.StateAuthenticated
	if c.authTmr != nil {
		c.authTmr.Stop()
	}
	c.mu.Unlock()

	if r.byUser[user.UserID] == nil {
		r.byUser[user.UserID] = make(map[types.SocketIDType]struct{})
	}
	r.byUser[user.UserID][socketID] = struct{}{}
	r.mu.Unlock()

	joined := auth.RoleRooms(user.Role)
	for _, room := range joined {
		c.addRoom(room)
	}

	metrics.AuthenticatedConnections.Inc()

	return &AuthResult{
		Connection:    c,
		JoinedRooms:   joined,
		PresenceRooms: auth.PresenceRooms(user.Role),
	}, nil
}

// JoinRoom validates room and adds it to socketID's membership, enforcing
// the ACL from spec §4.4 via isAllowed (injected so registry stays
// decoupled from auth's role predicates — callers pass auth.MayJoinDirectors
// / auth.MayActAsDirector composed with the per-subject-room id parse).
func (r *Registry) JoinRoom(socketID types.SocketIDType, room types.RoomIDType, isAllowed func(types.User, types.RoomIDType) bool) error {
	if !types.RoomNamePattern.MatchString(string(room)) {
		return ErrInvalidRoomName
	}

	c, ok := r.Get(socketID)
	if !ok {
		return registryError("registry: unknown socket")
	}

	user, authenticated := c.User()
	if !authenticated {
		return ErrForbidden
	}

	if isAllowed != nil && !isAllowed(user, room) {
		return ErrForbidden
	}

	c.addRoom(room)
	return nil
}

// LeaveRoom validates room and removes it from socketID's membership.
func (r *Registry) LeaveRoom(socketID types.SocketIDType, room types.RoomIDType) error {
	if !types.RoomNamePattern.MatchString(string(room)) {
		return ErrInvalidRoomName
	}
	c, ok := r.Get(socketID)
	if !ok {
		return registryError("registry: unknown socket")
	}
	c.removeRoom(room)
	return nil
}

// Remove unregisters socketID (on disconnect or sweep reap), removing it
// from byUser if it was authenticated. Returns what the caller needs to
// emit the user:offline presence event.
func (r *Registry) Remove(socketID types.SocketIDType) RemoveResult {
	r.mu.Lock()
	c, ok := r.bySocket[socketID]
	if !ok {
		r.mu.Unlock()
		return RemoveResult{}
	}
	delete(r.bySocket, socketID)

	wasAuth := c.State() == types.StateAuthenticated
	var user types.User
	var presenceRooms []types.RoomIDType
	if wasAuth {
		user, _ = c.User()
		if sockets, exists := r.byUser[user.UserID]; exists {
			delete(sockets, socketID)
			if len(sockets) == 0 {
				delete(r.byUser, user.UserID)
			}
		}
		presenceRooms = auth.PresenceRooms(user.Role)
		metrics.AuthenticatedConnections.Dec()
	}
	r.mu.Unlock()

	c.Close("")

	return RemoveResult{WasAuthenticated: wasAuth, User: user, PresenceRooms: presenceRooms}
}

// SocketsInRoom returns every registered connection currently holding room,
// used by the room engine's broadcastToRoom (spec §4.4). Pending
// connections never appear here since they can only hold role rooms, which
// are only added at authentication (spec §3 invariant).
func (r *Registry) SocketsInRoom(room types.RoomIDType) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Connection, 0)
	for _, c := range r.bySocket {
		if c.State() == types.StateAuthenticated && c.InRoom(room) {
			out = append(out, c)
		}
	}
	return out
}

// RoomCounts returns the number of authenticated sockets currently holding
// each room, for the /stats/rooms diagnostic endpoint (spec §6). Computed by
// walking every connection once rather than maintaining a standing inverted
// index (spec §5 permits either).
func (r *Registry) RoomCounts() map[types.RoomIDType]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[types.RoomIDType]int)
	for _, c := range r.bySocket {
		if c.State() != types.StateAuthenticated {
			continue
		}
		for _, room := range c.Rooms() {
			counts[room]++
		}
	}
	return counts
}

// AllAuthenticated returns every authenticated connection, used by
// broadcastToAll (spec §4.4).
func (r *Registry) AllAuthenticated() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Connection, 0, len(r.bySocket))
	for _, c := range r.bySocket {
		if c.State() == types.StateAuthenticated {
			out = append(out, c)
		}
	}
	return out
}

// SocketsForUser returns every socket held by userID (O(1) index lookup),
// used by broadcastToUser (spec §4.4).
func (r *Registry) SocketsForUser(userID types.UserIDType) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids, ok := r.byUser[userID]
	if !ok {
		return nil
	}
	out := make([]*Connection, 0, len(ids))
	for socketID := range ids {
		if c, ok := r.bySocket[socketID]; ok {
			out = append(out, c)
		}
	}
	return out
}

// Sweep walks every registered connection and reaps any for which isAlive
// returns false, returning their removal results so the caller can emit
// presence events. Required because some WebSocket stacks do not guarantee
// a disconnect callback on every teardown path (spec §4.3).
func (r *Registry) Sweep(isAlive func(*Connection) bool) []RemoveResult {
	r.mu.RLock()
	conns := make(map[types.SocketIDType]*Connection, len(r.bySocket))
	for id, c := range r.bySocket {
		conns[id] = c
	}
	r.mu.RUnlock()

	candidates := make([]types.SocketIDType, 0)
	for id, c := range conns {
		if !isAlive(c) {
			candidates = append(candidates, id)
		}
	}

	results := make([]RemoveResult, 0, len(candidates))
	for _, id := range candidates {
		results = append(results, r.Remove(id))
	}
	return results
}

// Stats returns a point-in-time occupancy snapshot.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := Stats{
		TotalConnections: len(r.bySocket),
		UniqueUsers:      len(r.byUser),
	}
	for _, c := range r.bySocket {
		if c.State() == types.StateAuthenticated {
			s.AuthenticatedConnections++
		} else if c.State() == types.StatePending {
			s.PendingConnections++
		}
	}
	return s
}

// RunSweeper starts a goroutine that calls Sweep on interval until stop is
// closed. isAlive is the liveness probe (e.g. a WebSocket ping check);
// onReap receives every RemoveResult from connections the sweep reaped.
func (r *Registry) RunSweeper(interval time.Duration, stop <-chan struct{}, isAlive func(*Connection) bool, onReap func(RemoveResult)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			reaped := r.Sweep(isAlive)
			if len(reaped) > 0 {
				r.log.Info("sweep reaped stale connections", zap.Int("count", len(reaped)))
			}
			for _, res := range reaped {
				onReap(res)
			}
		}
	}
}
