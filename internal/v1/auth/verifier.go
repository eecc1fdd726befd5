package auth

import (
	"context"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jes11sy/realtime-gateway/internal/v1/logging"
	"github.com/jes11sy/realtime-gateway/internal/v1/types"
	"go.uber.org/zap"
)

// MinSigningKeyLength is the minimum length of JWT_SECRET. Shorter keys are
// a fatal boot condition (spec §4.1).
const MinSigningKeyLength = 32

// Verifier validates the compact signed claim carrying {userId, role}.
// Only HS256 is ever accepted: the key function does not branch on the
// token's own "alg" header, which is what closes the classic
// algorithm-confusion hole (a token claiming RS256/none cannot trick the
// verifier into skipping the HMAC check).
type Verifier struct {
	signingKey   []byte
	cookieSecret []byte
}

// NewVerifier builds a Verifier. signingKey must be at least
// MinSigningKeyLength bytes. cookieSecret may be empty, in which case it
// falls back to signingKey (spec §6 COOKIE_SECRET).
func NewVerifier(signingKey, cookieSecret string) (*Verifier, error) {
	if len(signingKey) < MinSigningKeyLength {
		return nil, fmt.Errorf("auth: signing key must be at least %d characters (got %d)", MinSigningKeyLength, len(signingKey))
	}
	if cookieSecret == "" {
		cookieSecret = signingKey
	}
	return &Verifier{
		signingKey:   []byte(signingKey),
		cookieSecret: []byte(cookieSecret),
	}, nil
}

// VerifyToken parses and validates a compact signed claim, returning the
// extracted user identity.
func (v *Verifier) VerifyToken(tokenString string) (*types.User, error) {
	if tokenString == "" {
		return nil, ErrInvalidToken
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return v.signingKey, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		logging.Warn(context.Background(), "token verification failed", zap.Error(err))
		return nil, ErrInvalidToken
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.UserID == 0 || claims.Role == "" {
		return nil, ErrInvalidToken
	}

	return claims.toUser(), nil
}
