package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	// OwnerIDKey is the context key for the resolved caller owner id
	OwnerIDKey = "owner_id"
	// OwnerIDHeader carries the owner id resolved by the upstream
	// identity service. This core never authenticates; it trusts the
	// identity collaborator sitting in front of it.
	OwnerIDHeader = "X-Owner-ID"
)

// Identity resolves the calling owner's id from the identity header and
// stores it in the Gin context. Requests without a resolved identity
// are rejected with 401 before reaching any handler.
func Identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		ownerID := c.GetHeader(OwnerIDHeader)
		if ownerID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{
					"code":       "UNAUTHORIZED",
					"message":    "Caller identity is required",
					"request_id": GetRequestID(c),
				},
			})
			return
		}

		c.Set(OwnerIDKey, ownerID)
		c.Next()
	}
}

// GetOwnerID retrieves the resolved caller owner id from the Gin
// context. Returns an empty string if identity middleware did not run.
func GetOwnerID(c *gin.Context) string {
	if ownerID, exists := c.Get(OwnerIDKey); exists {
		if id, ok := ownerID.(string); ok {
			return id
		}
	}
	return ""
}
