package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/puckledger/treasury-api/internal/models"
	appErrors "github.com/puckledger/treasury-api/pkg/errors"
	"github.com/puckledger/treasury-api/pkg/logger"
	"github.com/puckledger/treasury-api/pkg/response"
)

// ContextUserKey is the gin context key storing the acting *models.Principal.
const ContextUserKey = "currentUser"

// TokenValidator verifies bearer tokens issued by the identity provider.
type TokenValidator interface {
	ValidateToken(token string) (*models.Principal, error)
}

// JWT protects routes by requiring a valid access token.
func JWT(tokens TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, "invalid authorization header"))
			c.Abort()
			return
		}

		principal, err := tokens.ValidateToken(strings.TrimSpace(parts[1]))
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}

		c.Set(ContextUserKey, principal)
		c.Set(logger.UserIDKey, principal.UserID)
		c.Next()
	}
}

// PrincipalFrom returns the principal stored by JWT, if any.
func PrincipalFrom(c *gin.Context) (*models.Principal, bool) {
	value, exists := c.Get(ContextUserKey)
	if !exists {
		return nil, false
	}
	principal, ok := value.(*models.Principal)
	return principal, ok && principal != nil
}
