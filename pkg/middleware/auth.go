package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/phonehub/phonehub/pkg/auth"
	"github.com/phonehub/phonehub/pkg/errors"
)

func AuthMiddleware(jwtSecret, issuer string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			errors.Unauthorized(c, "authorization header required")
			c.Abort()
			return
		}

		scheme, tokenString, ok := strings.Cut(authHeader, " ")
		if !ok || !strings.EqualFold(scheme, "bearer") || strings.TrimSpace(tokenString) == "" {
			errors.Unauthorized(c, "invalid authorization format")
			c.Abort()
			return
		}

		claims, err := auth.ParseToken(strings.TrimSpace(tokenString), jwtSecret, issuer)
		if err != nil {
			errors.Unauthorized(c, "invalid or expired token")
			c.Abort()
			return
		}

		c.Set("operator_id", claims.Subject)
		c.Set("operator_role", claims.Role)
		c.Next()
	}
}

func RoleMiddleware(allowedRoles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := c.GetString("operator_role")
		if role == "" {
			errors.Forbidden(c, "role not found in token")
			c.Abort()
			return
		}

		for _, allowed := range allowedRoles {
			if role == allowed {
				c.Next()
				return
			}
		}

		errors.Forbidden(c, "insufficient permissions")
		c.Abort()
	}
}
