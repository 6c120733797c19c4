package models

// UserRole is the role an identity provider asserts for a user.
type UserRole string

const (
	RoleTreasurer          UserRole = "TREASURER"
	RoleAssistantTreasurer UserRole = "ASSISTANT_TREASURER"
	RoleAssociationAdmin   UserRole = "ASSOCIATION_ADMIN"
	RolePresident          UserRole = "PRESIDENT"
	RoleBoardMember        UserRole = "BOARD_MEMBER"
	RoleCoach              UserRole = "COACH"
	RoleParent             UserRole = "PARENT"
	RoleAuditor            UserRole = "AUDITOR"
)

// DisplayName renders a role for user-facing messages.
func (r UserRole) DisplayName() string {
	switch r {
	case RoleTreasurer:
		return "Treasurer"
	case RoleAssistantTreasurer:
		return "Assistant Treasurer"
	case RoleAssociationAdmin:
		return "Association Admin"
	case RolePresident:
		return "President"
	case RoleBoardMember:
		return "Board Member"
	case RoleCoach:
		return "Coach"
	case RoleParent:
		return "Parent"
	case RoleAuditor:
		return "Auditor"
	default:
		return string(r)
	}
}

// Principal is the acting user as supplied by the identity provider.
type Principal struct {
	UserID        string   `json:"userId"`
	Role          UserRole `json:"role"`
	TeamIDs       []string `json:"teamIds"`
	AssociationID *string  `json:"associationId,omitempty"`
}

// MemberOf reports direct membership of teamID.
func (p *Principal) MemberOf(teamID string) bool {
	if p == nil {
		return false
	}
	for _, id := range p.TeamIDs {
		if id == teamID {
			return true
		}
	}
	return false
}

// AssociationTier reports whether the principal acts on behalf of an association.
func (p *Principal) AssociationTier() bool {
	return p != nil && p.AssociationID != nil && *p.AssociationID != ""
}
