package api

import (
	"strings"

	"github.com/gin-gonic/gin"

	"spotlight/backend/pkg/errors"
	"spotlight/backend/pkg/jwt"
)

// AuthMiddleware validates the bearer token and stores the authenticated
// user id in the context. Browser WebSocket clients cannot set headers, so
// a ?token= query parameter is accepted as a fallback.
func AuthMiddleware(jwtService *jwt.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := bearerToken(c)
		if tokenString == "" {
			errors.Respond(c, errors.NewUnauthorizedError("MISSING_TOKEN", "Authorization token is required"))
			c.Abort()
			return
		}

		claims, err := jwtService.ValidateToken(tokenString)
		if err != nil {
			code := "INVALID_TOKEN"
			if err == jwt.ErrExpiredToken {
				code = "EXPIRED_TOKEN"
			}
			errors.Respond(c, errors.NewUnauthorizedError(code, "Invalid or expired token"))
			c.Abort()
			return
		}

		c.Set("userId", claims.UserID)
		c.Set("username", claims.Username)
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return strings.TrimSpace(c.Query("token"))
}

// authedUserID returns the user id set by AuthMiddleware
func authedUserID(c *gin.Context) (int64, bool) {
	v, ok := c.Get("userId")
	if !ok {
		return 0, false
	}
	id, ok := v.(int64)
	return id, ok
}
