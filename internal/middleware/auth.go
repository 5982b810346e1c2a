package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/lalith-99/dataroom/internal/auth"
	"github.com/lalith-99/dataroom/internal/tenant"
)

// ContextKeyTenant is the gin.Context key holding the caller's tenant.Context.
const ContextKeyTenant = "tenant_context"

// AuthMiddleware validates the bearer JWT and stores the caller identity in
// both gin.Context and the request context. Requests without a valid token
// never reach a handler.
func AuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "missing authorization header",
			})
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid authorization format, expected: Bearer <token>",
			})
			return
		}

		claims, err := auth.ParseToken(parts[1], secret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid or expired token",
			})
			return
		}

		tc := claims.TenantContext()
		c.Set(ContextKeyTenant, tc)
		c.Request = c.Request.WithContext(tenant.WithContext(c.Request.Context(), tc))

		c.Next()
	}
}

// GetTenant returns the caller identity set by AuthMiddleware, or the zero
// value, which fails every tenant check.
func GetTenant(c *gin.Context) tenant.Context {
	val, exists := c.Get(ContextKeyTenant)
	if !exists {
		return tenant.Context{}
	}
	tc, ok := val.(tenant.Context)
	if !ok {
		return tenant.Context{}
	}
	return tc
}
