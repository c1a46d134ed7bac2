package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// UserEmailKey is the gin context key the middleware stores the
// authenticated email under.
const UserEmailKey = "user_email"

// RequireAuth rejects requests without a valid bearer token and exposes the
// authenticated email to downstream handlers.
func (s *Service) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "message": "missing bearer token"})
			return
		}

		email, err := s.ValidateToken(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "message": "invalid or expired token"})
			return
		}

		c.Set(UserEmailKey, email)
		c.Next()
	}
}
