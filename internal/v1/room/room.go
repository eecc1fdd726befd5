// Package room implements the room engine (spec §4.4, component C4):
// access control over arbitrary string room names and the three broadcast
// operations (to a room, to all, to a user). Room and all broadcasts fan
// out to locally-held sockets and, via the bus, to peer instances; user
// broadcasts reach locally-held sockets only.
package room

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/jes11sy/realtime-gateway/internal/v1/auth"
	"github.com/jes11sy/realtime-gateway/internal/v1/metrics"
	"github.com/jes11sy/realtime-gateway/internal/v1/registry"
	"github.com/jes11sy/realtime-gateway/internal/v1/types"
	"go.uber.org/zap"
)

// Engine implements broadcastToRoom/broadcastToAll/broadcastToUser over a
// Registry, publishing room and broadcast-to-all events to the bus so peer
// instances see them too; broadcastToUser is not published (spec §4.4
// "Operations").
type Engine struct {
	registry *registry.Registry
	bus      types.Bus
	log      *zap.Logger
}

// New builds a room Engine over reg, publishing cross-instance via bus.
func New(reg *registry.Registry, bus types.Bus, log *zap.Logger) *Engine {
	return &Engine{registry: reg, bus: bus, log: log}
}

// perSubjectPrefixes are the per-subject room kinds whose numeric id is
// ACL-checked against the joiner's own userId (spec §4.4).
var perSubjectPrefixes = []string{"operator:", "master:", "user:"}

// MayJoin enforces the room ACL from spec §4.4:
//   - operators/directors: directors requires role director; other role
//     rooms (including operators) are open to any authenticated user.
//   - operator:<id>/master:<id>/user:<id>: requires role director unless
//     id == the joiner's own userId.
//   - order:<id>: unrestricted (orders are not identities).
//   - anything else: open to any authenticated user.
func MayJoin(user types.User, room types.RoomIDType) bool {
	name := string(room)

	if room == types.RoomDirectors {
		return auth.MayJoinDirectors(user.Role)
	}
	if room == types.RoomOperators {
		return true
	}

	if strings.HasPrefix(name, "order:") {
		return true
	}

	for _, prefix := range perSubjectPrefixes {
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		idPart := strings.TrimPrefix(name, prefix)
		id, err := strconv.ParseInt(idPart, 10, 64)
		if err != nil {
			return auth.MayActAsDirector(user.Role)
		}
		if types.UserIDType(id) == user.UserID {
			return true
		}
		return auth.MayActAsDirector(user.Role)
	}

	return true
}

// BroadcastToRoom emits event/data to every locally-held socket in room,
// then publishes the envelope on the bus so peer instances deliver it to
// their own members (spec §4.4).
func (e *Engine) BroadcastToRoom(ctx context.Context, room types.RoomIDType, event string, data any) error {
	members := e.registry.SocketsInRoom(room)
	for _, c := range members {
		c.Emit(event, data)
	}
	metrics.RoomMembers.WithLabelValues(string(room)).Set(float64(len(members)))
	metrics.BroadcastFanout.WithLabelValues("room").Add(float64(len(members)))

	return e.publish(ctx, event, data, string(room))
}

// BroadcastToAll emits event/data to every authenticated local socket, then
// publishes the envelope (without a room) on the bus. Receivers on other
// instances suppress their own echo via originInstanceId (spec §4.4, §5).
func (e *Engine) BroadcastToAll(ctx context.Context, event string, data any) error {
	members := e.registry.AllAuthenticated()
	for _, c := range members {
		c.Emit(event, data)
	}
	metrics.BroadcastFanout.WithLabelValues("all").Add(float64(len(members)))

	return e.publish(ctx, event, data, "")
}

// BroadcastToUser emits event/data to every socket userID currently holds,
// via the O(1) registry index. This is local-only by design: cross-instance
// delivery to a specific user rides the durable inbox, not this path (spec
// §4.4).
func (e *Engine) BroadcastToUser(userID types.UserIDType, event string, data any) {
	members := e.registry.SocketsForUser(userID)
	for _, c := range members {
		c.Emit(event, data)
	}
	metrics.BroadcastFanout.WithLabelValues("user").Add(float64(len(members)))
}

func (e *Engine) publish(ctx context.Context, event string, data any, room string) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("room: marshal payload for publish: %w", err)
	}

	env := types.Envelope{Event: event, Data: raw, Room: room}
	if err := e.bus.Publish(ctx, env); err != nil {
		e.log.Error("room: bus publish failed", zap.String("event", event), zap.Error(err))
		return err
	}
	return nil
}

// HandleBusEnvelope re-emits an envelope received from a peer instance to
// this instance's own local sockets (self-origin filtering already happened
// in the bus layer before this is called).
func (e *Engine) HandleBusEnvelope(env types.Envelope) {
	var data json.RawMessage = env.Data

	if env.Room != "" {
		for _, c := range e.registry.SocketsInRoom(types.RoomIDType(env.Room)) {
			c.Emit(env.Event, data)
		}
		return
	}

	for _, c := range e.registry.AllAuthenticated() {
		c.Emit(env.Event, data)
	}
}

// Stats returns the registry's occupancy snapshot, re-exported here for
// callers that hold only an Engine. The stats endpoints read the Registry
// directly.
func (e *Engine) Stats() registry.Stats {
	return e.registry.Stats()
}
