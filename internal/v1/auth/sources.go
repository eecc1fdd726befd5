package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"net/url"
	"strings"
)

// cookieNames are recognized per spec §4.1: a plain access_token cookie or
// its __Host- prefixed variant.
var cookieNames = []string{"access_token", "__Host-access_token"}

// ExtractToken resolves the raw token string from the ordered candidate
// sources in spec §4.1, trying each until one yields a non-empty candidate:
//  1. inline — the token field of the client's `authenticate` message
//  2. r's X-Socket-Auth header, the handshake "auth" object analog
//  3. r's "token" query parameter
//  4. r's Authorization: Bearer header
//  5. an access_token / __Host-access_token cookie
//
// The cookie source may carry an appended HMAC-SHA256 signature (see
// stripCookieSignature); a bad signature is a hard rejection, not a
// fallthrough to the next source, per spec §4.1.
func (v *Verifier) ExtractToken(r *http.Request, inline string) (string, error) {
	if inline != "" {
		return inline, nil
	}

	if h := r.Header.Get("X-Socket-Auth"); h != "" {
		return h, nil
	}

	if q := r.URL.Query().Get("token"); q != "" {
		return q, nil
	}

	if authz := r.Header.Get("Authorization"); strings.HasPrefix(authz, "Bearer ") {
		if tok := strings.TrimPrefix(authz, "Bearer "); tok != "" {
			return tok, nil
		}
	}

	for _, name := range cookieNames {
		c, err := r.Cookie(name)
		if err != nil || c.Value == "" {
			continue
		}
		return v.stripCookieSignature(c.Value)
	}

	return "", nil
}

// stripCookieSignature URL-decodes a cookie value and, if it carries an
// appended HMAC-SHA256 signature (recognizable by the decoded value having
// four dot-separated segments where a compact signed claim has three),
// verifies the trailing segment against the cookie secret and strips it
// before the remaining three segments go to claim verification. A
// signature mismatch is a hard rejection (spec §4.1).
func (v *Verifier) stripCookieSignature(raw string) (string, error) {
	decoded, err := url.QueryUnescape(raw)
	if err != nil {
		return "", ErrInvalidToken
	}

	parts := strings.Split(decoded, ".")
	switch len(parts) {
	case 3:
		return decoded, nil
	case 4:
		claimPart := strings.Join(parts[:3], ".")
		sig := parts[3]

		mac := hmac.New(sha256.New, v.cookieSecret)
		mac.Write([]byte(claimPart))
		expected := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))

		if !hmac.Equal([]byte(expected), []byte(sig)) {
			return "", ErrInvalidToken
		}
		return claimPart, nil
	default:
		return "", ErrInvalidToken
	}
}
