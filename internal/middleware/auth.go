package middleware

import (
	"strings"

	"devicegate/internal/lib/api"
	"devicegate/internal/lib/jwt"

	"github.com/gin-gonic/gin"
)

const identityKey = "identity"

// Identity is the authenticated principal resolved from the request's bearer
// token. The token is minted by the external identity provider; this service
// only verifies it.
type Identity struct {
	AccountID string
	Email     string
}

// Auth verifies the Authorization bearer token and stores the resolved
// Identity in the request context. Requests without a valid identity are
// rejected with 401 before any handler runs.
func Auth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			api.Unauthorized(c, "missing authorization header")
			return
		}

		token := strings.TrimPrefix(header, "Bearer ")
		if token == header || token == "" {
			api.Unauthorized(c, "malformed authorization header")
			return
		}

		claims, err := jwt.ParseToken(token, secret)
		if err != nil {
			api.Unauthorized(c, "invalid token")
			return
		}

		c.Set(identityKey, Identity{
			AccountID: claims.AccountID,
			Email:     claims.Email,
		})

		c.Next()
	}
}

// IdentityFrom returns the Identity stored by Auth.
func IdentityFrom(c *gin.Context) (Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return Identity{}, false
	}
	id, ok := v.(Identity)
	return id, ok
}
