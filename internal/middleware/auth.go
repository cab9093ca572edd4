package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// ManagementAuth gates mutating endpoints behind the management key when
// one is configured. The key is read from Authorization (bearer or bare)
// first, then X-Api-Key. With no key configured the check is skipped; the
// default listener is loopback-only and config validation warns otherwise.
func ManagementAuth(configured bool, validate func(string) bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !configured {
			c.Next()
			return
		}

		provided := extractKey(c)
		if provided == "" {
			abortAuth(c, http.StatusUnauthorized, "management key not provided")
			return
		}
		if !validate(provided) {
			abortAuth(c, http.StatusUnauthorized, "invalid management key")
			return
		}
		c.Next()
	}
}

func extractKey(c *gin.Context) string {
	auth := strings.TrimSpace(c.GetHeader("Authorization"))
	if auth != "" {
		if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
			return strings.TrimSpace(auth[7:])
		}
		return auth
	}
	return strings.TrimSpace(c.GetHeader("X-Api-Key"))
}

func abortAuth(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{
		"error": gin.H{
			"message": message,
			"kind":    "unauthorized",
		},
	})
}
