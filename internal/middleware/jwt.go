package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/sleepwatch/backend/internal/auth"
	"github.com/sleepwatch/backend/pkg/response"
)

const (
	// ContextSubject is the key for the token subject in gin context.
	ContextSubject = "token_subject"
	// ContextScope is the key for the token scope in gin context.
	ContextScope = "token_scope"
)

// JWT returns a middleware that validates the bearer token and sets its claims in context.
func JWT(jwtService *auth.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			response.Abort(c, http.StatusUnauthorized, "missing authorization header")
			return
		}
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			response.Abort(c, http.StatusUnauthorized, "invalid authorization header")
			return
		}
		claims, err := jwtService.Validate(parts[1])
		if err != nil {
			response.Abort(c, http.StatusUnauthorized, "invalid or expired token")
			return
		}
		c.Set(ContextSubject, claims.Subject)
		c.Set(ContextScope, claims.Scope)
		c.Next()
	}
}
