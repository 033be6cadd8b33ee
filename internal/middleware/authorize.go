package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"warden/internal/service"
)

// RequirePermission lets the request through only when the access token
// grants every listed permission. It must run after Auth.
func RequirePermission(permissions ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := Claims(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		if err := service.Authorize(claims, permissions...); err != nil {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "permission_denied"})
			return
		}

		c.Next()
	}
}
