package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jes11sy/realtime-gateway/internal/v1/types"
)

// GenerateToken mints a compact signed claim for tests and local/dev runs,
// mirroring the teacher's MockValidator shortcut but signing for real so it
// round-trips through the same Verifier the production path uses.
func GenerateToken(signingKey string, userID types.UserIDType, role types.RoleType, ttl time.Duration) (string, error) {
	claims := &Claims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(signingKey))
}
