package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/jes11sy/realtime-gateway/internal/v1/apierr"
	"github.com/jes11sy/realtime-gateway/internal/v1/auth"
	"github.com/jes11sy/realtime-gateway/internal/v1/types"
)

// userContextKey is the gin context key a verified principal is stored
// under by RequireUser.
const userContextKey = "gateway.user"

// RequireUser verifies the end-user token carried in the request (bearer
// header, access_token cookie, or token query param — spec §4.1's source
// order minus the WebSocket-only inline field) and stores the resulting
// types.User in the gin context. Rejects with 401 on failure.
func RequireUser(verifier *auth.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := verifier.ExtractToken(c.Request, "")
		if err != nil {
			apierr.Unauthorized401(c)
			c.Abort()
			return
		}

		user, err := verifier.VerifyToken(token)
		if err != nil {
			apierr.Unauthorized401(c)
			c.Abort()
			return
		}

		c.Set(userContextKey, *user)
		c.Next()
	}
}

// UserFromContext retrieves the principal RequireUser stored, if any.
func UserFromContext(c *gin.Context) (types.User, bool) {
	val, ok := c.Get(userContextKey)
	if !ok {
		return types.User{}, false
	}
	user, ok := val.(types.User)
	return user, ok
}

// RequireWebhookSecret rejects requests whose `X-Webhook-Token` header does
// not constant-time-match token (spec §6 "internal notification publishers
// (webhook-secret protected)").
func RequireWebhookSecret(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !constantTimeEqual(c.GetHeader("X-Webhook-Token"), token) {
			apierr.Unauthorized401(c)
			c.Abort()
			return
		}
		c.Next()
	}
}
