package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/jes11sy/realtime-gateway/internal/v1/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractToken_PrefersInline(t *testing.T) {
	v, err := NewVerifier(testSigningKey, "")
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodGet, "/ws?token=from-query", nil)
	tok, err := v.ExtractToken(r, "from-inline")
	require.NoError(t, err)
	assert.Equal(t, "from-inline", tok)
}

func TestExtractToken_FallsThroughSourcesInOrder(t *testing.T) {
	v, err := NewVerifier(testSigningKey, "")
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodGet, "/ws?token=from-query", nil)
	tok, err := v.ExtractToken(r, "")
	require.NoError(t, err)
	assert.Equal(t, "from-query", tok)

	r2 := httptest.NewRequest(http.MethodGet, "/ws", nil)
	r2.Header.Set("Authorization", "Bearer from-header")
	tok2, err := v.ExtractToken(r2, "")
	require.NoError(t, err)
	assert.Equal(t, "from-header", tok2)

	r3 := httptest.NewRequest(http.MethodGet, "/ws", nil)
	r3.AddCookie(&http.Cookie{Name: "access_token", Value: "a.b.c"})
	tok3, err := v.ExtractToken(r3, "")
	require.NoError(t, err)
	assert.Equal(t, "a.b.c", tok3)
}

func TestExtractToken_NoneFound(t *testing.T) {
	v, err := NewVerifier(testSigningKey, "")
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	tok, err := v.ExtractToken(r, "")
	require.NoError(t, err)
	assert.Empty(t, tok)
}

func TestStripCookieSignature_ValidSignatureStripped(t *testing.T) {
	v, err := NewVerifier(testSigningKey, "cookie-secret-at-least-32-bytes!!")
	require.NoError(t, err)

	claimPart := "header.payload.sig"
	mac := hmac.New(sha256.New, v.cookieSecret)
	mac.Write([]byte(claimPart))
	sig := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))

	raw := url.QueryEscape(claimPart + "." + sig)
	out, err := v.stripCookieSignature(raw)
	require.NoError(t, err)
	assert.Equal(t, claimPart, out)
}

func TestStripCookieSignature_BadSignatureHardRejects(t *testing.T) {
	v, err := NewVerifier(testSigningKey, "cookie-secret-at-least-32-bytes!!")
	require.NoError(t, err)

	raw := "header.payload.sig.not-the-right-signature"
	_, err = v.stripCookieSignature(raw)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestStripCookieSignature_ThreePartsPassThrough(t *testing.T) {
	v, err := NewVerifier(testSigningKey, "")
	require.NoError(t, err)

	out, err := v.stripCookieSignature("a.b.c")
	require.NoError(t, err)
	assert.Equal(t, "a.b.c", out)
}

func TestExtractToken_HostPrefixedCookie(t *testing.T) {
	v, err := NewVerifier(testSigningKey, "")
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.AddCookie(&http.Cookie{Name: "__Host-access_token", Value: "x.y.z"})
	tok, err := v.ExtractToken(r, "")
	require.NoError(t, err)
	assert.Equal(t, "x.y.z", tok)
}

func TestRoleRooms(t *testing.T) {
	assert.ElementsMatch(t, []types.RoomIDType{"operator", types.RoomOperators}, RoleRooms(types.RoleOperator))
	assert.ElementsMatch(t, []types.RoomIDType{"callcentre_operator", types.RoomOperators}, RoleRooms(types.RoleCallCentreOp))
	assert.ElementsMatch(t, []types.RoomIDType{"director", types.RoomDirectors}, RoleRooms(types.RoleDirector))
	assert.ElementsMatch(t, []types.RoomIDType{"technician"}, RoleRooms("technician"))
}

func TestPresenceRooms(t *testing.T) {
	assert.ElementsMatch(t, []types.RoomIDType{types.RoomDirectors, types.RoomOperators}, PresenceRooms(types.RoleOperator))
	assert.ElementsMatch(t, []types.RoomIDType{types.RoomDirectors}, PresenceRooms(types.RoleDirector))
}

func TestMayJoinDirectors(t *testing.T) {
	assert.True(t, MayJoinDirectors(types.RoleDirector))
	assert.False(t, MayJoinDirectors(types.RoleOperator))
}
