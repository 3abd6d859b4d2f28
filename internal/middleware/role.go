package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sleepwatch/backend/pkg/response"
)

// RequireScope returns a middleware that allows only the given token scopes.
// It must run after JWT.
func RequireScope(scopes ...string) gin.HandlerFunc {
	allowed := make(map[string]struct{})
	for _, s := range scopes {
		allowed[s] = struct{}{}
	}
	return func(c *gin.Context) {
		scope := c.GetString(ContextScope)
		if scope == "" {
			response.Abort(c, http.StatusUnauthorized, "missing token context")
			return
		}
		if _, ok := allowed[scope]; !ok {
			response.Abort(c, http.StatusForbidden, "insufficient permissions")
			return
		}
		c.Next()
	}
}
