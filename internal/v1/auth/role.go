package auth

import (
	"strings"

	"github.com/jes11sy/realtime-gateway/internal/v1/types"
)

// RoleRooms returns the rooms a user auto-joins at authentication for their
// role (spec §4.3 step 3): their own lower-cased role room, plus the shared
// operators/directors room for the documented synonyms.
func RoleRooms(role types.RoleType) []types.RoomIDType {
	own := types.RoomIDType(strings.ToLower(string(role)))
	rooms := []types.RoomIDType{own}

	switch role {
	case types.RoleOperator, types.RoleCallCentreOp:
		rooms = append(rooms, types.RoomOperators)
	case types.RoleDirector:
		rooms = append(rooms, types.RoomDirectors)
	}
	return rooms
}

// MayJoinDirectors reports whether role may explicitly join the directors
// room (spec §4.4: "explicit join of directors requires role == director").
func MayJoinDirectors(role types.RoleType) bool {
	return role == types.RoleDirector
}

// MayActAsDirector reports whether role carries director-level authorization
// for per-subject room joins (spec §4.4: operator:<id>/master:<id>/user:<id>
// joins on someone else's id require role director).
func MayActAsDirector(role types.RoleType) bool {
	return role == types.RoleDirector
}

// PresenceRooms returns the rooms a user:online/user:offline presence event
// scopes to for role (spec §4.3 step 5): always directors, plus operators
// when the role is operator/callcentre_operator.
func PresenceRooms(role types.RoleType) []types.RoomIDType {
	rooms := []types.RoomIDType{types.RoomDirectors}
	if role == types.RoleOperator || role == types.RoleCallCentreOp {
		rooms = append(rooms, types.RoomOperators)
	}
	return rooms
}
