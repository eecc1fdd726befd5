// Package auth verifies the compact signed claim issued by the external
// identity service and extracts the {userId, role} pair the rest of the
// gateway authorizes against. The signer itself is out of scope (spec §1);
// this package only ever consumes tokens.
package auth

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jes11sy/realtime-gateway/internal/v1/types"
)

// ErrInvalidToken is returned for any token that fails verification,
// regardless of the underlying cause (missing, malformed, expired, bad
// signature, bad cookie signature). Callers surface a uniform "error, close
// socket" / 401 without leaking which check failed.
var ErrInvalidToken = errors.New("auth: invalid token")

// Claims is the compact signed claim's payload shape.
type Claims struct {
	UserID types.UserIDType `json:"userId"`
	Role   types.RoleType   `json:"role"`
	jwt.RegisteredClaims
}

// toUser converts verified claims into the domain User. UserID/Role are
// required; an empty role is rejected by the caller before this is reached.
func (c *Claims) toUser() *types.User {
	return &types.User{UserID: c.UserID, Role: c.Role}
}
