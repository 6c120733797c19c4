package models

import "github.com/golang-jwt/jwt/v5"

// TokenClaims is the payload of identity-provider access tokens. Subject holds the user id.
type TokenClaims struct {
	Role          UserRole `json:"role"`
	TeamIDs       []string `json:"team_ids"`
	AssociationID string   `json:"association_id,omitempty"`
	jwt.RegisteredClaims
}

// Principal converts verified claims into the acting user.
func (c *TokenClaims) Principal() *Principal {
	p := &Principal{UserID: c.Subject, Role: c.Role, TeamIDs: append([]string(nil), c.TeamIDs...)}
	if c.AssociationID != "" {
		id := c.AssociationID
		p.AssociationID = &id
	}
	return p
}
