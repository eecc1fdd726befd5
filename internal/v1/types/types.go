// Package types defines shared domain types and interfaces used across the
// gateway: connection identity, room membership, the wire envelope that
// crosses both the WebSocket and the pub/sub bridge, and the interfaces each
// package depends on so that registry, room, and transport stay decoupled.
package types

import (
	"context"
	"encoding/json"
	"regexp"
)

// UserIDType is the internal numeric identity carried in a verified token.
type UserIDType int64

// RoleType is the role claim carried in a verified token (e.g. "operator",
// "director"). It is a plain string, not an enum, because new roles are
// added without code changes on the gateway side.
type RoleType string

// SocketIDType is an opaque identifier assigned to a connection on accept.
type SocketIDType string

// RoomIDType is a room name. Must satisfy RoomNamePattern before use.
type RoomIDType string

// Known role rooms.
const (
	RoomOperators RoomIDType = "operators"
	RoomDirectors RoomIDType = "directors"
)

// Role synonyms that additionally join shared role rooms at authentication.
const (
	RoleOperator      RoleType = "operator"
	RoleCallCentreOp  RoleType = "callcentre_operator"
	RoleDirector      RoleType = "director"
)

// RoomNamePattern is the allowed character class for room names, per spec:
// [A-Za-z0-9:_-], length 1-100. Deliberately ASCII-only: room names built
// from non-Latin city names (e.g. Cyrillic) do not match.
var RoomNamePattern = regexp.MustCompile(`^[A-Za-z0-9:_-]{1,100}$`)

// ConnState is the explicit authentication state of a Connection. Modeled as
// its own type (not encoded via nil-ness of a user field) so invariants like
// "a Pending connection is never indexed by user" are locally checkable.
type ConnState int

const (
	StatePending ConnState = iota
	StateAuthenticated
	StateTerminated
)

func (s ConnState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateAuthenticated:
		return "authenticated"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// User identifies an authenticated principal.
type User struct {
	UserID UserIDType `json:"userId"`
	Role   RoleType   `json:"role"`
}

// Envelope is the event wire format, carried both to WebSocket clients and
// across the pub/sub bridge (spec §3 "Event envelope").
type Envelope struct {
	Event            string          `json:"event"`
	Data             json.RawMessage `json:"data,omitempty"`
	Room             string          `json:"room,omitempty"`
	OriginInstanceID string          `json:"originInstanceId,omitempty"`
}

// Bus is the interface the room/registry layer depends on for cross-instance
// fan-out. A nil-safe no-op implementation backs "degraded single-instance
// mode" (spec §4.2).
type Bus interface {
	// Publish broadcasts an envelope to every instance subscribed to the shared
	// channel, including this one (the receiving bus drops envelopes whose
	// OriginInstanceID is its own).
	Publish(ctx context.Context, env Envelope) error
	// Subscribe registers handler to be invoked for every envelope received
	// from the bus except this instance's own publishes, which the
	// implementation drops before calling handler (spec §4.2/§5).
	Subscribe(ctx context.Context, handler func(Envelope)) error
	// Close tears down both bus connections.
	Close() error
	// Ready reports whether the bus is connected (false in degraded mode).
	Ready() bool
}

// Emitter is what the room engine needs from a single connection to deliver
// a locally-held socket a message. Implemented by registry.Connection.
type Emitter interface {
	SocketID() SocketIDType
	UserID() (UserIDType, bool)
	State() ConnState
	Rooms() []RoomIDType
	Emit(event string, data any)
	Close(reason string)
}
