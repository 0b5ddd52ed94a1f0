package middleware

import (
	"net/http"
	"strings"

	"premiosplatzi/services"

	"github.com/gin-gonic/gin"
)

// TokenValidator turns a bearer token into admin claims.
type TokenValidator interface {
	ValidateToken(token string) (*services.Claims, error)
}

// AuthMiddleware rejects requests without a valid bearer token and stores the
// admin's id and username in the context.
func AuthMiddleware(validator TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
			return
		}

		claims, err := validator.ValidateToken(strings.TrimSpace(token))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			return
		}

		c.Set("user_id", claims.UserID)
		c.Set("username", claims.Username)
		c.Next()
	}
}
