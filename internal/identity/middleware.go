package identity

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

const ctxAdminClaims = "ima_admin_claims"

// RequireToken returns a Gin middleware that enforces a valid Bearer token.
// On success the *AdminClaims are stored in the context.
func RequireToken(tokens *TokenIssuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Bearer token required",
			})
			return
		}

		claims, err := tokens.Verify(strings.TrimPrefix(authHeader, "Bearer "))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid token: " + err.Error(),
			})
			return
		}

		c.Set(ctxAdminClaims, claims)
		c.Next()
	}
}

// RequireScope rejects requests whose token lacks scope, or whose :id path
// parameter names a namespace outside the token's namespaces. It must run
// after RequireToken.
func RequireScope(scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := ClaimsFromContext(c)
		if claims == nil || !claims.HasScope(scope) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "token lacks scope " + scope,
			})
			return
		}
		if id, err := strconv.Atoi(c.Param("id")); err == nil && !claims.AllowsNamespace(id) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "token not valid for namespace " + c.Param("id"),
			})
			return
		}
		c.Next()
	}
}

// ClaimsFromContext returns the claims stored by RequireToken, or nil.
func ClaimsFromContext(c *gin.Context) *AdminClaims {
	v, ok := c.Get(ctxAdminClaims)
	if !ok {
		return nil
	}
	claims, _ := v.(*AdminClaims)
	return claims
}
