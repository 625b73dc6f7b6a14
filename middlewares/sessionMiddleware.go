package middlewares

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/zonglinchua-ui/ampere-business-management-sub006/config"
	"github.com/zonglinchua-ui/ampere-business-management-sub006/utils"
)

// SessionMiddleware resolves the caller from either a redis-backed session
// token or a signed JWT, and stashes the identity into the request context.
// Requests without a token pass through; route handlers decide whether an
// identity is required.
func SessionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Request.Header.Get("token")
		if token == "" {
			c.Next()
			return
		}

		username, exists, err := config.GetRedisValue("Token:" + token)
		if err == nil && exists {
			ctx := context.WithValue(c.Request.Context(), utils.ContextKeyToken, token)
			ctx = context.WithValue(ctx, utils.ContextKeyUsername, username)
			c.Request = c.Request.WithContext(ctx)
			c.Next()
			return
		}

		claims, jwtErr := utils.JwtValidate(token)
		if jwtErr != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}

		ctx := context.WithValue(c.Request.Context(), utils.ContextKeyToken, token)
		ctx = context.WithValue(ctx, utils.ContextKeyUsername, claims.Username)
		ctx = context.WithValue(ctx, utils.ContextKeyUserId, claims.ID)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
