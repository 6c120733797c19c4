package validation

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/puckledger/treasury-api/internal/models"
	"github.com/puckledger/treasury-api/pkg/config"
)

// Settings are the effective rule thresholds for one team.
type Settings struct {
	ReceiptThreshold          decimal.Decimal
	CriticalReceiptAmount     decimal.Decimal
	DualApprovalThreshold     decimal.Decimal
	DuplicateDetectionEnabled bool
	DuplicateWindowDays       int
	DuplicateAmountTolerance  decimal.Decimal
	FutureTolerance           time.Duration
	OverrunTolerancePercent   decimal.Decimal

	ReceiptsEnabled           bool
	ReceiptGracePeriodDays    int
	CategoryThresholdsEnabled bool
	CashLikeRequiresReview    bool
	TransactionAmountLimit    decimal.Decimal
}

// SettingsFor resolves the effective settings of a team. A team outside any association uses its
// own values. Inside an association the association value wins, and a team value only applies
// when the association allows team overrides and the team value is stricter.
func SettingsFor(defaults config.ValidationConfig, team *models.Team) Settings {
	s := Settings{
		ReceiptThreshold:         defaults.ReceiptThreshold,
		CriticalReceiptAmount:    defaults.CriticalReceiptAmount,
		DualApprovalThreshold:    defaults.DualApprovalThreshold,
		DuplicateWindowDays:      defaults.DuplicateWindowDays,
		DuplicateAmountTolerance: defaults.DuplicateAmountTolerance,
		FutureTolerance:          defaults.FutureTolerance,
		OverrunTolerancePercent:  defaults.OverrunTolerancePercent,
		ReceiptsEnabled:          defaults.ReceiptsEnabled,
		ReceiptGracePeriodDays:   defaults.ReceiptGracePeriodDays,
		CashLikeRequiresReview:   defaults.CashLikeRequiresReview,
		TransactionAmountLimit:   defaults.TransactionAmountLimit,
	}
	if team == nil {
		return s
	}

	s.DuplicateDetectionEnabled = team.DuplicateDetectionEnabled
	if team.DuplicateWindowDays != nil && *team.DuplicateWindowDays > 0 {
		s.DuplicateWindowDays = *team.DuplicateWindowDays
	}

	standalone := team.AssociationID == nil || *team.AssociationID == ""
	if standalone {
		s.ReceiptThreshold = firstValid(s.ReceiptThreshold, team.ReceiptThreshold)
		s.DualApprovalThreshold = firstValid(s.DualApprovalThreshold, team.DualApprovalThreshold)
		s.OverrunTolerancePercent = firstValid(s.OverrunTolerancePercent, team.OverrunTolerancePercent)
		return s
	}

	allow := boolOr(team.AssocAllowTeamOverride, false)
	s.ReceiptThreshold = stricter(firstValid(s.ReceiptThreshold, team.AssocReceiptThreshold), team.ReceiptThreshold, allow)
	s.OverrunTolerancePercent = stricter(firstValid(s.OverrunTolerancePercent, team.AssocOverrunTolerancePercent), team.OverrunTolerancePercent, allow)

	// Zero disables dual approval, so a team may only lower a positive threshold.
	dual := firstValid(s.DualApprovalThreshold, team.AssocDualApprovalThreshold)
	if team.DualApprovalThreshold.Valid && team.DualApprovalThreshold.Decimal.IsPositive() {
		dual = stricter(dual, team.DualApprovalThreshold, allow && dual.IsPositive())
	}
	s.DualApprovalThreshold = dual

	s.ReceiptsEnabled = boolOr(team.AssocReceiptsEnabled, s.ReceiptsEnabled)
	if team.AssocReceiptGracePeriodDays != nil && *team.AssocReceiptGracePeriodDays >= 0 {
		s.ReceiptGracePeriodDays = *team.AssocReceiptGracePeriodDays
	}
	s.CategoryThresholdsEnabled = boolOr(team.AssocCategoryThresholdsEnabled, false)
	s.CashLikeRequiresReview = boolOr(team.AssocCashLikeRequiresReview, s.CashLikeRequiresReview)
	s.TransactionAmountLimit = firstValid(s.TransactionAmountLimit, team.AssocTransactionAmountLimit)
	return s
}

func firstValid(fallback decimal.Decimal, candidates ...decimal.NullDecimal) decimal.Decimal {
	for _, c := range candidates {
		if c.Valid {
			return c.Decimal
		}
	}
	return fallback
}

// stricter returns the lower of base and the team override when overrides are allowed.
func stricter(base decimal.Decimal, team decimal.NullDecimal, allow bool) decimal.Decimal {
	if !allow || !team.Valid {
		return base
	}
	return decimal.Min(base, team.Decimal)
}

func boolOr(v *bool, fallback bool) bool {
	if v == nil {
		return fallback
	}
	return *v
}

// Context is everything a rule may look at besides the transaction itself. It is built once per
// validation and never mutated by rules.
type Context struct {
	Now         time.Time
	Settings    Settings
	SeasonStart *time.Time
	SeasonEnd   *time.Time
	Category    *models.Category
	// HasBudget is true when the team has any allocation for the season.
	HasBudget  bool
	Allocation *models.BudgetAllocation
	Envelopes  []models.BudgetEnvelope
	Approvals  []models.Approval
	Candidates []models.Transaction
}

// receiptCategory is the category whose receipt overrides apply, if any.
func (c *Context) receiptCategory() *models.Category {
	if c.Category == nil || !c.Settings.CategoryThresholdsEnabled {
		return nil
	}
	return c.Category
}
