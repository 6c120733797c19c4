// Package policy decides who may mutate team transactions. Every entry point is an ordered
// pipeline: team access, then the association read-only tier, then role or severity.
package policy

import (
	"fmt"
	"strings"

	"github.com/puckledger/treasury-api/internal/models"
	appErrors "github.com/puckledger/treasury-api/pkg/errors"
)

// Check is one step of an authorization pipeline. It returns a FORBIDDEN *appErrors.Error.
type Check func(p *models.Principal, team *models.Team) error

// Pipeline runs checks in order and stops at the first denial.
func Pipeline(checks ...Check) Check {
	return func(p *models.Principal, team *models.Team) error {
		for _, check := range checks {
			if err := check(p, team); err != nil {
				return err
			}
		}
		return nil
	}
}

// HasTeamAccess is true for direct members and for any association-tier user of the team's
// association. Whether that user may also mutate is decided by NotReadOnly.
func HasTeamAccess(p *models.Principal, team *models.Team) bool {
	if p == nil || team == nil {
		return false
	}
	if p.MemberOf(team.ID) {
		return true
	}
	return p.AssociationTier() && team.AssociationID != nil &&
		*p.AssociationID == *team.AssociationID
}

// IsReadOnlyTier reports association-tier users other than association admins, whatever role
// they carry.
func IsReadOnlyTier(p *models.Principal) bool {
	return p.AssociationTier() && p.Role != models.RoleAssociationAdmin
}

// TeamAccess denies principals outside the team.
func TeamAccess() Check {
	return func(p *models.Principal, team *models.Team) error {
		if !HasTeamAccess(p, team) {
			return appErrors.Clone(appErrors.ErrNoTeamAccess, "")
		}
		return nil
	}
}

// NotReadOnly denies association-tier viewers with the canonical message.
func NotReadOnly() Check {
	return func(p *models.Principal, _ *models.Team) error {
		if IsReadOnlyTier(p) {
			return appErrors.Clone(appErrors.ErrReadOnlyTier, "")
		}
		return nil
	}
}

// RoleIn denies principals whose role is not listed, naming the roles that would pass.
func RoleIn(action string, roles ...models.UserRole) Check {
	return func(p *models.Principal, _ *models.Team) error {
		for _, role := range roles {
			if p.Role == role {
				return nil
			}
		}
		return denied(fmt.Sprintf("You do not have permission to %s", action), roles)
	}
}

// Creators may create, import and delete transactions.
var Creators = []models.UserRole{models.RoleTreasurer}

// Editors may edit and re-validate transactions.
var Editors = []models.UserRole{models.RoleTreasurer, models.RoleAssistantTreasurer}

// Lockers may close a season.
var Lockers = []models.UserRole{models.RoleTreasurer, models.RoleAssociationAdmin}

// Approvers count toward dual approval.
var Approvers = []models.UserRole{
	models.RoleTreasurer, models.RoleAssistantTreasurer, models.RolePresident,
	models.RoleBoardMember, models.RoleAssociationAdmin,
}

// AuthorizeRead only requires team access.
func AuthorizeRead(p *models.Principal, team *models.Team) error {
	return TeamAccess()(p, team)
}

// AuthorizeTransactionCreate gates create and bulk import.
func AuthorizeTransactionCreate(p *models.Principal, team *models.Team) error {
	return Pipeline(TeamAccess(), NotReadOnly(), RoleIn("create transactions", Creators...))(p, team)
}

// AuthorizeTransactionEdit gates edit and re-validate.
func AuthorizeTransactionEdit(p *models.Principal, team *models.Team) error {
	return Pipeline(TeamAccess(), NotReadOnly(), RoleIn("edit transactions", Editors...))(p, team)
}

// AuthorizeTransactionDelete gates soft deletion.
func AuthorizeTransactionDelete(p *models.Principal, team *models.Team) error {
	return Pipeline(TeamAccess(), NotReadOnly(), RoleIn("delete transactions", Creators...))(p, team)
}

// AuthorizeApproval gates recording an approval.
func AuthorizeApproval(p *models.Principal, team *models.Team) error {
	return Pipeline(TeamAccess(), NotReadOnly(), RoleIn("approve transactions", Approvers...))(p, team)
}

// AuthorizeSeasonLock gates season closure.
func AuthorizeSeasonLock(p *models.Principal, team *models.Team) error {
	return Pipeline(TeamAccess(), NotReadOnly(), RoleIn("lock the season", Lockers...))(p, team)
}

// AuthorizeResolution gates resolving an exception of the given severity.
func AuthorizeResolution(p *models.Principal, team *models.Team, resolution models.ResolutionType, severity models.ExceptionSeverity) error {
	return Pipeline(TeamAccess(), NotReadOnly(), resolutionMatrix(resolution, severity))(p, team)
}

func resolutionMatrix(resolution models.ResolutionType, severity models.ExceptionSeverity) Check {
	return func(p *models.Principal, _ *models.Team) error {
		if CanResolve(p.Role, resolution, severity) {
			return nil
		}
		permitted := PermittedRoles(resolution, severity)
		if resolution == models.ResolutionOverride {
			return denied(fmt.Sprintf("You do not have permission to override %s exceptions", severity), permitted)
		}
		return denied("You do not have permission to resolve exceptions", permitted)
	}
}

// CanResolve is the role by resolution type by severity matrix.
func CanResolve(role models.UserRole, resolution models.ResolutionType, severity models.ExceptionSeverity) bool {
	switch resolution {
	case models.ResolutionCorrect:
		return role == models.RoleTreasurer || role == models.RoleAssistantTreasurer || role == models.RoleAssociationAdmin
	case models.ResolutionOverride:
		if !severity.Valid() {
			return false
		}
		return role == models.RoleAssistantTreasurer || role == models.RoleAssociationAdmin
	}
	return false
}

var allRoles = []models.UserRole{
	models.RoleTreasurer, models.RoleAssistantTreasurer, models.RoleAssociationAdmin,
	models.RolePresident, models.RoleBoardMember, models.RoleCoach, models.RoleParent, models.RoleAuditor,
}

// PermittedRoles lists the roles CanResolve accepts for the combination.
func PermittedRoles(resolution models.ResolutionType, severity models.ExceptionSeverity) []models.UserRole {
	var roles []models.UserRole
	for _, role := range allRoles {
		if CanResolve(role, resolution, severity) {
			roles = append(roles, role)
		}
	}
	return roles
}

func denied(message string, permitted []models.UserRole) error {
	if len(permitted) > 0 {
		message = fmt.Sprintf("%s (requires %s)", message, joinRoles(permitted))
	}
	return appErrors.WithDetails(
		appErrors.Clone(appErrors.ErrInsufficientRole, message),
		map[string]interface{}{"permittedRoles": permitted},
	)
}

func joinRoles(roles []models.UserRole) string {
	names := make([]string, len(roles))
	for i, r := range roles {
		names[i] = r.DisplayName()
	}
	switch len(names) {
	case 1:
		return names[0]
	case 2:
		return names[0] + " or " + names[1]
	}
	return strings.Join(names[:len(names)-1], ", ") + " or " + names[len(names)-1]
}
