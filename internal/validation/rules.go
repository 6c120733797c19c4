package validation

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"

	"github.com/puckledger/treasury-api/internal/models"
)

// ErrMissingContext marks a rule that could not run because its inputs are absent.
var ErrMissingContext = errors.New("missing rule context")

// Rule evaluates one compliance dimension. Applies returns a skip reason when it does not.
type Rule interface {
	Check() models.CheckName
	Applies(tx *models.Transaction, vctx *Context) (bool, string)
	Evaluate(tx *models.Transaction, vctx *Context) (*models.Violation, error)
}

var defaultSeverities = map[models.ViolationCode]models.ViolationSeverity{
	models.CodeMissingReceipt:       models.ViolationError,
	models.CodeThresholdBreach:      models.ViolationError,
	models.CodeEnvelopeCapExceeded:  models.ViolationError,
	models.CodeCategoryOverLimit:    models.ViolationError,
	models.CodeRequiresReview:       models.ViolationWarning,
	models.CodeTransactionTooFuture: models.ViolationError,
	models.CodeOutsideSeasonDates:   models.ViolationWarning,
	models.CodeUnapprovedCategory:   models.ViolationError,
	models.CodeCashLikeTransaction:  models.ViolationError,
}

// DefaultSeverity is the severity a code carries unless its rule says otherwise.
func DefaultSeverity(code models.ViolationCode) models.ViolationSeverity {
	if s, ok := defaultSeverities[code]; ok {
		return s
	}
	return models.ViolationError
}

func violation(code models.ViolationCode, format string, args ...interface{}) *models.Violation {
	return &models.Violation{Code: code, Severity: DefaultSeverity(code), Message: fmt.Sprintf(format, args...)}
}

func money(d decimal.Decimal) string {
	return "$" + d.StringFixed(2)
}

func expenseOnly(tx *models.Transaction) (bool, string) {
	if !tx.IsExpense() {
		return false, "not an expense"
	}
	return true, ""
}

// DefaultRules returns the full catalog in evaluation order.
func DefaultRules() []Rule {
	return []Rule{ReceiptRule{}, BudgetRule{}, DualApprovalRule{}, CashLikeRule{}, DuplicateRule{}, DateRule{}}
}

// ReceiptRule requires a receipt on expenses at or above the receipt threshold. A missing receipt
// is not judged until the grace period after the transaction date has passed.
type ReceiptRule struct{}

func (ReceiptRule) Check() models.CheckName { return models.CheckReceipt }

func (ReceiptRule) Applies(tx *models.Transaction, vctx *Context) (bool, string) {
	if ok, reason := expenseOnly(tx); !ok {
		return false, reason
	}
	if !vctx.Settings.ReceiptsEnabled {
		return false, "receipts disabled"
	}
	if cat := vctx.receiptCategory(); cat != nil && cat.ReceiptExempt {
		return false, "category exempt from receipts"
	}
	if grace := vctx.Settings.ReceiptGracePeriodDays; grace > 0 && !tx.HasReceipt() {
		due := tx.TransactionDate.AddDate(0, 0, grace)
		if vctx.Now.Before(due) {
			return false, "receipt grace period open until " + due.Format("2006-01-02")
		}
	}
	return true, ""
}

func (ReceiptRule) Evaluate(tx *models.Transaction, vctx *Context) (*models.Violation, error) {
	threshold := vctx.Settings.ReceiptThreshold
	if cat := vctx.receiptCategory(); cat != nil && cat.ReceiptThreshold.Valid {
		threshold = cat.ReceiptThreshold.Decimal
	}
	if tx.Amount.LessThan(threshold) || tx.HasReceipt() {
		return nil, nil
	}

	v := violation(models.CodeMissingReceipt, "Receipt required for expenses %s or more", money(threshold))
	critical := vctx.Settings.CriticalReceiptAmount
	if critical.IsPositive() && tx.Amount.GreaterThanOrEqual(critical) {
		v.Severity = models.ViolationCritical
	}
	return v, nil
}

// BudgetRule checks the matching envelope first and falls back to the category allocation.
type BudgetRule struct{}

func (BudgetRule) Check() models.CheckName { return models.CheckBudget }

func (BudgetRule) Applies(tx *models.Transaction, _ *Context) (bool, string) {
	return expenseOnly(tx)
}

func (BudgetRule) Evaluate(tx *models.Transaction, vctx *Context) (*models.Violation, error) {
	if env := matchEnvelope(tx, vctx.Envelopes); env != nil {
		if env.MaxSingleTransaction.Valid && tx.Amount.GreaterThan(env.MaxSingleTransaction.Decimal) {
			return violation(models.CodeEnvelopeCapExceeded,
				"Transaction of %s exceeds the envelope single-transaction limit of %s",
				money(tx.Amount), money(env.MaxSingleTransaction.Decimal)), nil
		}
		projected := env.Spent.Add(tx.Amount)
		if projected.GreaterThan(env.CapAmount) {
			return violation(models.CodeEnvelopeCapExceeded,
				"Transaction would bring envelope spend to %s, over its cap of %s",
				money(projected), money(env.CapAmount)), nil
		}
		return nil, nil
	}

	alloc := vctx.Allocation
	if alloc == nil {
		if vctx.HasBudget {
			return violation(models.CodeUnapprovedCategory, "Category not found in approved budget"), nil
		}
		return nil, fmt.Errorf("%w: no budget allocation for category %s", ErrMissingContext, tx.CategoryID)
	}

	tolerance := vctx.Settings.OverrunTolerancePercent
	limit := alloc.Allocated.Mul(decimal.NewFromInt(100).Add(tolerance)).Div(decimal.NewFromInt(100))
	projected := alloc.Spent.Add(tx.Amount)
	if projected.LessThanOrEqual(limit) {
		return nil, nil
	}

	if alloc.Allocated.IsZero() {
		return violation(models.CodeCategoryOverLimit, "Category has no budget allocated for this season"), nil
	}
	overrun := projected.Sub(alloc.Allocated).Div(alloc.Allocated).Mul(decimal.NewFromInt(100))
	return violation(models.CodeCategoryOverLimit,
		"Transaction would exceed category budget by %s%% (tolerance: %s%%)",
		overrun.StringFixed(1), tolerance.String()), nil
}

// matchEnvelope prefers a vendor-specific envelope over a category-wide one.
func matchEnvelope(tx *models.Transaction, envelopes []models.BudgetEnvelope) *models.BudgetEnvelope {
	var general *models.BudgetEnvelope
	vendor := normalizeVendor(tx.Vendor)
	for i := range envelopes {
		env := &envelopes[i]
		if env.CategoryID != tx.CategoryID {
			continue
		}
		if env.VendorMatch == nil || strings.TrimSpace(*env.VendorMatch) == "" {
			if general == nil {
				general = env
			}
			continue
		}
		if strings.Contains(vendor, normalizeVendor(*env.VendorMatch)) {
			return env
		}
	}
	return general
}

// qualifyingApprovers may count toward dual approval.
var qualifyingApprovers = map[models.UserRole]bool{
	models.RoleTreasurer:          true,
	models.RoleAssistantTreasurer: true,
	models.RolePresident:          true,
	models.RoleBoardMember:        true,
	models.RoleAssociationAdmin:   true,
}

// DualApprovalRule requires two distinct qualifying approvers at or above the threshold.
type DualApprovalRule struct{}

func (DualApprovalRule) Check() models.CheckName { return models.CheckThreshold }

func (DualApprovalRule) Applies(_ *models.Transaction, vctx *Context) (bool, string) {
	if !vctx.Settings.DualApprovalThreshold.IsPositive() {
		return false, "dual approval disabled"
	}
	return true, ""
}

func (DualApprovalRule) Evaluate(tx *models.Transaction, vctx *Context) (*models.Violation, error) {
	threshold := vctx.Settings.DualApprovalThreshold
	if tx.Amount.LessThan(threshold) {
		return nil, nil
	}

	approvers := make(map[string]struct{}, len(vctx.Approvals))
	for _, a := range vctx.Approvals {
		if a.TransactionID != "" && a.TransactionID != tx.ID {
			continue
		}
		if qualifyingApprovers[a.Role] {
			approvers[a.UserID] = struct{}{}
		}
	}
	if len(approvers) >= 2 {
		return nil, nil
	}
	return violation(models.CodeThresholdBreach,
		"Transactions of %s or more need two approvals (%d recorded)", money(threshold), len(approvers)), nil
}

// cashLikeTerms are matched as whole words against the vendor and description.
var cashLikeTerms = []string{
	"cash", "atm", "withdrawal", "gift card", "prepaid card", "money order",
	"venmo", "cash app", "cashapp", "paypal", "zelle", "e-transfer", "etransfer",
	"apple pay", "google pay",
}

// IsCashLike reports whether the vendor or description names a cash or cash-equivalent payment.
func IsCashLike(vendor string, description *string) bool {
	text := " " + normalizeWords(vendor)
	if description != nil {
		text += " " + normalizeWords(*description)
	}
	text += " "
	for _, term := range cashLikeTerms {
		if strings.Contains(text, " "+normalizeWords(term)+" ") {
			return true
		}
	}
	return false
}

// CashLikeRule sends cash and cash-equivalent expenses to review. Over the transaction limit the
// violation is CRITICAL.
type CashLikeRule struct{}

func (CashLikeRule) Check() models.CheckName { return models.CheckCashLike }

func (CashLikeRule) Applies(tx *models.Transaction, vctx *Context) (bool, string) {
	if !vctx.Settings.CashLikeRequiresReview {
		return false, "cash-like review disabled"
	}
	return expenseOnly(tx)
}

func (CashLikeRule) Evaluate(tx *models.Transaction, vctx *Context) (*models.Violation, error) {
	if !IsCashLike(tx.Vendor, tx.Description) {
		return nil, nil
	}
	limit := vctx.Settings.TransactionAmountLimit
	if limit.IsPositive() && tx.Amount.GreaterThan(limit) {
		v := violation(models.CodeCashLikeTransaction,
			"Cash-like transaction over limit (%s > %s) requires review", money(tx.Amount), money(limit))
		v.Severity = models.ViolationCritical
		return v, nil
	}
	return violation(models.CodeCashLikeTransaction, "Cash-like transaction requires review"), nil
}

// DuplicateRule flags a likely double entry of the same vendor and amount within the window.
type DuplicateRule struct{}

func (DuplicateRule) Check() models.CheckName { return models.CheckDuplicates }

func (DuplicateRule) Applies(_ *models.Transaction, vctx *Context) (bool, string) {
	if !vctx.Settings.DuplicateDetectionEnabled {
		return false, "duplicate detection disabled"
	}
	return true, ""
}

func (DuplicateRule) Evaluate(tx *models.Transaction, vctx *Context) (*models.Violation, error) {
	window := time.Duration(vctx.Settings.DuplicateWindowDays) * 24 * time.Hour
	vendor := normalizeVendor(tx.Vendor)
	for i := range vctx.Candidates {
		other := &vctx.Candidates[i]
		if other.ID == tx.ID || other.TeamID != tx.TeamID || other.DeletedAt != nil {
			continue
		}
		if normalizeVendor(other.Vendor) != vendor {
			continue
		}
		if other.Amount.Sub(tx.Amount).Abs().GreaterThan(vctx.Settings.DuplicateAmountTolerance) {
			continue
		}
		gap := other.TransactionDate.Sub(tx.TransactionDate)
		if gap < 0 {
			gap = -gap
		}
		if gap > window {
			continue
		}
		return violation(models.CodeRequiresReview,
			"Possible duplicate of %s transaction %s on %s",
			money(other.Amount), other.ID, other.TransactionDate.Format("2006-01-02")), nil
	}
	return nil, nil
}

// DateRule rejects future-dated transactions and warns on dates outside the season.
type DateRule struct{}

func (DateRule) Check() models.CheckName { return models.CheckDates }

func (DateRule) Applies(_ *models.Transaction, vctx *Context) (bool, string) {
	if vctx.Now.IsZero() {
		return false, "no reference time"
	}
	return true, ""
}

func (DateRule) Evaluate(tx *models.Transaction, vctx *Context) (*models.Violation, error) {
	if tx.TransactionDate.After(vctx.Now.Add(vctx.Settings.FutureTolerance)) {
		return violation(models.CodeTransactionTooFuture,
			"Transaction date %s is in the future", tx.TransactionDate.Format("2006-01-02")), nil
	}
	if vctx.SeasonStart != nil && tx.TransactionDate.Before(*vctx.SeasonStart) {
		return violation(models.CodeOutsideSeasonDates,
			"Transaction date %s is before the season start %s",
			tx.TransactionDate.Format("2006-01-02"), vctx.SeasonStart.Format("2006-01-02")), nil
	}
	// season_end is a date; the whole final day is in season.
	if vctx.SeasonEnd != nil && !tx.TransactionDate.Before(vctx.SeasonEnd.AddDate(0, 0, 1)) {
		return violation(models.CodeOutsideSeasonDates,
			"Transaction date %s is after the season end %s",
			tx.TransactionDate.Format("2006-01-02"), vctx.SeasonEnd.Format("2006-01-02")), nil
	}
	return nil, nil
}

func normalizeVendor(v string) string {
	return strings.Join(strings.Fields(strings.ToLower(v)), " ")
}

// normalizeWords lowercases and splits on anything that is not a letter or digit.
func normalizeWords(s string) string {
	return strings.Join(strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}), " ")
}
