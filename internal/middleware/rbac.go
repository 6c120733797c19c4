package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/puckledger/treasury-api/internal/models"
	"github.com/puckledger/treasury-api/internal/policy"
	appErrors "github.com/puckledger/treasury-api/pkg/errors"
	"github.com/puckledger/treasury-api/pkg/response"
)

// RequireRoles only lets principals holding one of roles through.
func RequireRoles(roles ...models.UserRole) gin.HandlerFunc {
	allowed := make(map[models.UserRole]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(c *gin.Context) {
		principal, ok := PrincipalFrom(c)
		if !ok {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		if _, ok := allowed[principal.Role]; ok {
			c.Next()
			return
		}
		response.Error(c, appErrors.Clone(appErrors.ErrInsufficientRole, ""))
		c.Abort()
	}
}

// ReadOnlyTier rejects mutating requests from association-tier viewers before any handler runs.
// Safe methods pass through; the services repeat the check for non-HTTP callers.
func ReadOnlyTier() gin.HandlerFunc {
	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			c.Next()
			return
		}
		principal, ok := PrincipalFrom(c)
		if !ok {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		if policy.IsReadOnlyTier(principal) {
			response.Error(c, appErrors.Clone(appErrors.ErrReadOnlyTier, ""))
			c.Abort()
			return
		}
		c.Next()
	}
}
