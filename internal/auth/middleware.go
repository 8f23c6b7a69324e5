package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"asr-eval-driver/internal/logx"

	"github.com/gin-gonic/gin"
)

// APIKeyMiddleware requires "Authorization: Bearer <key>" on every request.
// An empty key disables the check.
func APIKeyMiddleware(key string) gin.HandlerFunc {
	if key == "" {
		logx.Log.Warn().Msg("API key not configured; job API is unauthenticated")
		return func(c *gin.Context) { c.Next() }
	}
	want := []byte(key)
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: missing bearer token"})
			return
		}
		if subtle.ConstantTimeCompare([]byte(token), want) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: invalid token"})
			return
		}
		c.Next()
	}
}
