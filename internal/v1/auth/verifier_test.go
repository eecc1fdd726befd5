package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jes11sy/realtime-gateway/internal/v1/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSigningKey = "this-is-a-32-byte-or-longer-secret-key!!"

func TestNewVerifier_RejectsShortKey(t *testing.T) {
	_, err := NewVerifier("too-short", "")
	assert.Error(t, err)
}

func TestNewVerifier_CookieSecretFallsBackToSigningKey(t *testing.T) {
	v, err := NewVerifier(testSigningKey, "")
	require.NoError(t, err)
	assert.Equal(t, []byte(testSigningKey), v.cookieSecret)
}

func TestVerifyToken_RoundTrip(t *testing.T) {
	v, err := NewVerifier(testSigningKey, "")
	require.NoError(t, err)

	tok, err := GenerateToken(testSigningKey, 7, types.RoleOperator, time.Hour)
	require.NoError(t, err)

	user, err := v.VerifyToken(tok)
	require.NoError(t, err)
	assert.Equal(t, types.UserIDType(7), user.UserID)
	assert.Equal(t, types.RoleOperator, user.Role)
}

func TestVerifyToken_RejectsEmpty(t *testing.T) {
	v, err := NewVerifier(testSigningKey, "")
	require.NoError(t, err)

	_, err = v.VerifyToken("")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyToken_RejectsExpired(t *testing.T) {
	v, err := NewVerifier(testSigningKey, "")
	require.NoError(t, err)

	tok, err := GenerateToken(testSigningKey, 7, types.RoleOperator, -time.Hour)
	require.NoError(t, err)

	_, err = v.VerifyToken(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyToken_RejectsWrongSigningKey(t *testing.T) {
	v, err := NewVerifier(testSigningKey, "")
	require.NoError(t, err)

	tok, err := GenerateToken("a-totally-different-32-byte-key!!!!!", 7, types.RoleOperator, time.Hour)
	require.NoError(t, err)

	_, err = v.VerifyToken(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

// TestVerifyToken_AlgorithmConfusion ensures a token whose header claims a
// different signing method cannot bypass the HMAC check. This mirrors the
// teacher's validator_security_test.go coverage for algorithm confusion.
func TestVerifyToken_AlgorithmConfusion(t *testing.T) {
	v, err := NewVerifier(testSigningKey, "")
	require.NoError(t, err)

	token := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{
		UserID: 7,
		Role:   types.RoleOperator,
	})
	signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = v.VerifyToken(signed)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyToken_RejectsMissingClaims(t *testing.T) {
	v, err := NewVerifier(testSigningKey, "")
	require.NoError(t, err)

	claims := &Claims{RegisteredClaims: jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testSigningKey))
	require.NoError(t, err)

	_, err = v.VerifyToken(signed)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
