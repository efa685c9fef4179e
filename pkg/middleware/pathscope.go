package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// PathScope enforces the virtual application path reported by the agent:
// requests outside the prefix are rejected with 404 before any application
// code runs. Applications hosted under a virtual path register their routes
// under the same prefix.
func PathScope(prefix string) gin.HandlerFunc {
	p := normalizePrefix(prefix)

	return func(c *gin.Context) {
		if p != "" && !underPrefix(c.Request.URL.Path, p) {
			c.AbortWithStatus(http.StatusNotFound)
			return
		}
		c.Next()
	}
}
