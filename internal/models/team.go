package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Team owns transactions and carries the per-team rule settings. The assoc_* columns are the
// owning association's overrides, joined in when the team is loaded.
type Team struct {
	ID                        string              `db:"id" json:"id"`
	Name                      string              `db:"name" json:"name"`
	AssociationID             *string             `db:"association_id" json:"associationId,omitempty"`
	Season                    string              `db:"season" json:"season"`
	SeasonStart               *time.Time          `db:"season_start" json:"seasonStart,omitempty"`
	SeasonEnd                 *time.Time          `db:"season_end" json:"seasonEnd,omitempty"`
	ReceiptThreshold          decimal.NullDecimal `db:"receipt_threshold" json:"receiptThreshold"`
	DualApprovalThreshold     decimal.NullDecimal `db:"dual_approval_threshold" json:"dualApprovalThreshold"`
	DuplicateDetectionEnabled bool                `db:"duplicate_detection_enabled" json:"duplicateDetectionEnabled"`
	DuplicateWindowDays       *int                `db:"duplicate_window_days" json:"duplicateWindowDays,omitempty"`
	OverrunTolerancePercent   decimal.NullDecimal `db:"overrun_tolerance_percent" json:"overrunTolerancePercent"`

	AssocReceiptThreshold          decimal.NullDecimal `db:"assoc_receipt_threshold" json:"-"`
	AssocDualApprovalThreshold     decimal.NullDecimal `db:"assoc_dual_approval_threshold" json:"-"`
	AssocOverrunTolerancePercent   decimal.NullDecimal `db:"assoc_overrun_tolerance_percent" json:"-"`
	AssocAllowTeamOverride         *bool               `db:"assoc_allow_team_override" json:"-"`
	AssocReceiptsEnabled           *bool               `db:"assoc_receipts_enabled" json:"-"`
	AssocReceiptGracePeriodDays    *int                `db:"assoc_receipt_grace_period_days" json:"-"`
	AssocCategoryThresholdsEnabled *bool               `db:"assoc_category_thresholds_enabled" json:"-"`
	AssocCashLikeRequiresReview    *bool               `db:"assoc_cash_like_requires_review" json:"-"`
	AssocTransactionAmountLimit    decimal.NullDecimal `db:"assoc_transaction_amount_limit" json:"-"`
}

// Category is a team-scoped spending bucket. The receipt fields only take effect when the
// association enables category thresholds.
type Category struct {
	ID               string              `db:"id" json:"id"`
	TeamID           string              `db:"team_id" json:"teamId"`
	Name             string              `db:"name" json:"name"`
	ReceiptExempt    bool                `db:"receipt_exempt" json:"receiptExempt"`
	ReceiptThreshold decimal.NullDecimal `db:"receipt_threshold" json:"receiptThreshold"`
}

// BudgetAllocation is the season budget for one category. Spent is derived from settled expenses.
type BudgetAllocation struct {
	ID         string          `db:"id" json:"id"`
	TeamID     string          `db:"team_id" json:"teamId"`
	CategoryID string          `db:"category_id" json:"categoryId"`
	Season     string          `db:"season" json:"season"`
	Allocated  decimal.Decimal `db:"allocated" json:"allocated"`
	Spent      decimal.Decimal `db:"spent" json:"spent"`
}

// BudgetEnvelope caps spend within a category, optionally for a single vendor.
type BudgetEnvelope struct {
	ID                   string              `db:"id" json:"id"`
	TeamID               string              `db:"team_id" json:"teamId"`
	CategoryID           string              `db:"category_id" json:"categoryId"`
	Season               string              `db:"season" json:"season"`
	VendorMatch          *string             `db:"vendor_match" json:"vendorMatch,omitempty"`
	CapAmount            decimal.Decimal     `db:"cap_amount" json:"capAmount"`
	MaxSingleTransaction decimal.NullDecimal `db:"max_single_transaction" json:"maxSingleTransaction"`
	Spent                decimal.Decimal     `db:"spent" json:"spent"`
}
