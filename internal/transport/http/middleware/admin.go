package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

// AdminKeyHeader carries the operator API key.
const AdminKeyHeader = "X-Admin-Key"

// RequireAdminKey guards operator endpoints with a shared key. An empty key
// disables the routes entirely.
func RequireAdminKey(key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if key == "" {
			c.AbortWithStatusJSON(http.StatusNotFound, newErrorResponse(c, "not found"))
			return
		}
		presented := c.GetHeader(AdminKeyHeader)
		if presented == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, newErrorResponse(c, "admin key required"))
			return
		}
		if subtle.ConstantTimeCompare([]byte(presented), []byte(key)) != 1 {
			c.AbortWithStatusJSON(http.StatusForbidden, newErrorResponse(c, "invalid admin key"))
			return
		}
		c.Next()
	}
}
