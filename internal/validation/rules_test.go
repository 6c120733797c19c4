package validation

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/puckledger/treasury-api/internal/models"
	"github.com/puckledger/treasury-api/pkg/config"
)

var refNow = time.Date(2025, 11, 15, 12, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func strPtr(s string) *string { return &s }

func expense(amount string) *models.Transaction {
	return &models.Transaction{
		ID:              "tx-1",
		TeamID:          "team-1",
		Type:            models.TransactionTypeExpense,
		Amount:          dec(amount),
		Vendor:          "Ice Arena",
		TransactionDate: refNow.Add(-48 * time.Hour),
		CategoryID:      "cat-ice",
	}
}

func baseContext() *Context {
	return &Context{Now: refNow, Settings: SettingsFor(config.DefaultValidation(), nil)}
}

func TestReceiptRule(t *testing.T) {
	rule := ReceiptRule{}

	t.Run("below threshold passes", func(t *testing.T) {
		v, err := rule.Evaluate(expense("99.99"), baseContext())
		require.NoError(t, err)
		assert.Nil(t, v)
	})

	t.Run("receipt attached passes", func(t *testing.T) {
		tx := expense("150")
		tx.ReceiptURL = strPtr("blob://r1")
		v, err := rule.Evaluate(tx, baseContext())
		require.NoError(t, err)
		assert.Nil(t, v)
	})

	t.Run("missing receipt is an error", func(t *testing.T) {
		v, err := rule.Evaluate(expense("100"), baseContext())
		require.NoError(t, err)
		require.NotNil(t, v)
		assert.Equal(t, models.CodeMissingReceipt, v.Code)
		assert.Equal(t, models.ViolationError, v.Severity)
		assert.Contains(t, v.Message, "$100.00")
	})

	t.Run("large amounts escalate to critical", func(t *testing.T) {
		v, err := rule.Evaluate(expense("1000"), baseContext())
		require.NoError(t, err)
		require.NotNil(t, v)
		assert.Equal(t, models.ViolationCritical, v.Severity)
	})

	t.Run("income is not checked", func(t *testing.T) {
		tx := expense("500")
		tx.Type = models.TransactionTypeIncome
		ok, reason := rule.Applies(tx, baseContext())
		assert.False(t, ok)
		assert.Equal(t, "not an expense", reason)
	})
}

func TestReceiptRulePolicy(t *testing.T) {
	rule := ReceiptRule{}

	t.Run("disabled receipts are not checked", func(t *testing.T) {
		vctx := baseContext()
		vctx.Settings.ReceiptsEnabled = false
		ok, reason := rule.Applies(expense("500"), vctx)
		assert.False(t, ok)
		assert.Equal(t, "receipts disabled", reason)
	})

	t.Run("exempt category is not checked", func(t *testing.T) {
		vctx := baseContext()
		vctx.Category = &models.Category{ID: "cat-ice", ReceiptExempt: true}
		ok, _ := rule.Applies(expense("500"), vctx)
		assert.True(t, ok, "exemptions need category thresholds enabled")

		vctx.Settings.CategoryThresholdsEnabled = true
		ok, reason := rule.Applies(expense("500"), vctx)
		assert.False(t, ok)
		assert.Equal(t, "category exempt from receipts", reason)
	})

	t.Run("category threshold replaces the team threshold", func(t *testing.T) {
		vctx := baseContext()
		vctx.Settings.CategoryThresholdsEnabled = true
		vctx.Category = &models.Category{ID: "cat-ice", ReceiptThreshold: decimal.NewNullDecimal(dec("250"))}

		v, err := rule.Evaluate(expense("150"), vctx)
		require.NoError(t, err)
		assert.Nil(t, v)

		v, err = rule.Evaluate(expense("250"), vctx)
		require.NoError(t, err)
		require.NotNil(t, v)
		assert.Contains(t, v.Message, "$250.00")
	})

	t.Run("grace period defers the check", func(t *testing.T) {
		vctx := baseContext()
		vctx.Settings.ReceiptGracePeriodDays = 3
		tx := expense("150")

		ok, reason := rule.Applies(tx, vctx)
		assert.False(t, ok)
		assert.Contains(t, reason, "grace period open until 2025-11-16")

		tx.TransactionDate = refNow.AddDate(0, 0, -4)
		ok, _ = rule.Applies(tx, vctx)
		assert.True(t, ok)
	})
}

func TestCashLikeRule(t *testing.T) {
	rule := CashLikeRule{}
	vctx := baseContext()

	ok, reason := rule.Applies(expense("50"), vctx)
	assert.False(t, ok)
	assert.Equal(t, "cash-like review disabled", reason)

	vctx.Settings.CashLikeRequiresReview = true
	tx := expense("50")
	tx.Vendor = "Petty Cash"
	v, err := rule.Evaluate(tx, vctx)
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, models.CodeCashLikeTransaction, v.Code)
	assert.Equal(t, models.ViolationError, v.Severity)
	assert.Equal(t, "Cash-like transaction requires review", v.Message)

	tx = expense("1500")
	tx.Vendor = "Gift Card"
	v, err = rule.Evaluate(tx, vctx)
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, models.ViolationCritical, v.Severity)
	assert.Equal(t, "Cash-like transaction over limit ($1500.00 > $1000.00) requires review", v.Message)

	tx = expense("50")
	tx.Vendor = "Home Depot"
	v, err = rule.Evaluate(tx, vctx)
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestIsCashLike(t *testing.T) {
	assert.True(t, IsCashLike("Team Purchase", strPtr("Bought with gift card")))
	assert.True(t, IsCashLike("VENMO *coach", nil))
	assert.True(t, IsCashLike("Interac e-Transfer", nil))
	assert.False(t, IsCashLike("Cashmere Sweaters", nil))
	assert.False(t, IsCashLike("Treatment Centre", nil))
	assert.False(t, IsCashLike("Ice Arena", strPtr("ice time")))
}

func TestBudgetRuleEnvelopeTakesPrecedence(t *testing.T) {
	vctx := baseContext()
	vctx.Allocation = &models.BudgetAllocation{CategoryID: "cat-ice", Allocated: dec("10000"), Spent: dec("0")}
	vctx.Envelopes = []models.BudgetEnvelope{
		{CategoryID: "cat-ice", CapAmount: dec("5000"), Spent: dec("0")},
		{CategoryID: "cat-ice", VendorMatch: strPtr("arena"), CapAmount: dec("300"), Spent: dec("250")},
	}

	v, err := BudgetRule{}.Evaluate(expense("75"), vctx)
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, models.CodeEnvelopeCapExceeded, v.Code)
}

func TestBudgetRuleSingleTransactionLimit(t *testing.T) {
	vctx := baseContext()
	vctx.Envelopes = []models.BudgetEnvelope{{
		CategoryID:           "cat-ice",
		CapAmount:            dec("5000"),
		MaxSingleTransaction: decimal.NewNullDecimal(dec("400")),
	}}

	v, err := BudgetRule{}.Evaluate(expense("401"), vctx)
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, models.CodeEnvelopeCapExceeded, v.Code)
	assert.Contains(t, v.Message, "single-transaction")
}

func TestBudgetRuleCategoryAllocation(t *testing.T) {
	vctx := baseContext()
	vctx.Allocation = &models.BudgetAllocation{CategoryID: "cat-ice", Allocated: dec("1000"), Spent: dec("950")}

	v, err := BudgetRule{}.Evaluate(expense("50"), vctx)
	require.NoError(t, err)
	assert.Nil(t, v, "exactly at the allocation is allowed")

	v, err = BudgetRule{}.Evaluate(expense("100"), vctx)
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, models.CodeCategoryOverLimit, v.Code)
	assert.Contains(t, v.Message, "5.0%")

	vctx.Settings.OverrunTolerancePercent = dec("10")
	v, err = BudgetRule{}.Evaluate(expense("100"), vctx)
	require.NoError(t, err)
	assert.Nil(t, v, "within tolerance")
}

func TestBudgetRuleWithoutAllocationIsMissingContext(t *testing.T) {
	_, err := BudgetRule{}.Evaluate(expense("50"), baseContext())
	assert.True(t, errors.Is(err, ErrMissingContext))
}

func TestBudgetRuleCategoryOutsideApprovedBudget(t *testing.T) {
	vctx := baseContext()
	vctx.HasBudget = true

	v, err := BudgetRule{}.Evaluate(expense("50"), vctx)
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, models.CodeUnapprovedCategory, v.Code)
	assert.Equal(t, models.ViolationError, v.Severity)
	assert.Equal(t, "Category not found in approved budget", v.Message)
}

func TestDualApprovalRule(t *testing.T) {
	tx := expense("250")
	vctx := baseContext()

	v, err := DualApprovalRule{}.Evaluate(tx, vctx)
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, models.CodeThresholdBreach, v.Code)

	vctx.Approvals = []models.Approval{
		{TransactionID: "tx-1", UserID: "u1", Role: models.RoleTreasurer},
		{TransactionID: "tx-1", UserID: "u1", Role: models.RoleTreasurer},
		{TransactionID: "tx-1", UserID: "u2", Role: models.RoleCoach},
	}
	v, err = DualApprovalRule{}.Evaluate(tx, vctx)
	require.NoError(t, err)
	require.NotNil(t, v, "repeat approvals and non-qualifying roles do not count")
	assert.Contains(t, v.Message, "1 recorded")

	vctx.Approvals = append(vctx.Approvals, models.Approval{TransactionID: "tx-1", UserID: "u3", Role: models.RolePresident})
	v, err = DualApprovalRule{}.Evaluate(tx, vctx)
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestDuplicateRule(t *testing.T) {
	tx := expense("120.00")
	vctx := baseContext()

	ok, reason := DuplicateRule{}.Applies(tx, vctx)
	assert.False(t, ok)
	assert.Equal(t, "duplicate detection disabled", reason)

	vctx.Settings.DuplicateDetectionEnabled = true
	vctx.Candidates = []models.Transaction{
		{ID: "tx-old", TeamID: "team-1", Vendor: "ice  ARENA", Amount: dec("120.01"), TransactionDate: tx.TransactionDate.Add(-10 * 24 * time.Hour)},
	}
	v, err := DuplicateRule{}.Evaluate(tx, vctx)
	require.NoError(t, err)
	assert.Nil(t, v, "outside the window")

	vctx.Candidates[0].TransactionDate = tx.TransactionDate.Add(-3 * 24 * time.Hour)
	v, err = DuplicateRule{}.Evaluate(tx, vctx)
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, models.CodeRequiresReview, v.Code)
	assert.Equal(t, models.ViolationWarning, v.Severity)

	vctx.Candidates[0].Amount = dec("125")
	v, err = DuplicateRule{}.Evaluate(tx, vctx)
	require.NoError(t, err)
	assert.Nil(t, v, "amount differs materially")
}

func TestDateRule(t *testing.T) {
	vctx := baseContext()
	seasonStart := time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC)
	vctx.SeasonStart = &seasonStart

	tx := expense("10")
	tx.TransactionDate = refNow.Add(23 * time.Hour)
	v, err := DateRule{}.Evaluate(tx, vctx)
	require.NoError(t, err)
	assert.Nil(t, v, "within future tolerance")

	tx.TransactionDate = refNow.Add(25 * time.Hour)
	v, err = DateRule{}.Evaluate(tx, vctx)
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, models.CodeTransactionTooFuture, v.Code)

	tx.TransactionDate = seasonStart.Add(-time.Hour)
	v, err = DateRule{}.Evaluate(tx, vctx)
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, models.CodeOutsideSeasonDates, v.Code)
	assert.Equal(t, models.ViolationWarning, v.Severity)

	seasonEnd := time.Date(2025, 11, 10, 0, 0, 0, 0, time.UTC)
	vctx.SeasonEnd = &seasonEnd
	tx.TransactionDate = seasonEnd.Add(20 * time.Hour)
	v, err = DateRule{}.Evaluate(tx, vctx)
	require.NoError(t, err)
	assert.Nil(t, v, "the final day is in season")

	tx.TransactionDate = seasonEnd.AddDate(0, 0, 1)
	v, err = DateRule{}.Evaluate(tx, vctx)
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, models.CodeOutsideSeasonDates, v.Code)
	assert.Contains(t, v.Message, "after the season end 2025-11-10")
}

func TestSettingsForLayersOverrides(t *testing.T) {
	days := 14
	allow := true
	team := &models.Team{
		AssociationID:             strPtr("assoc-1"),
		ReceiptThreshold:          decimal.NewNullDecimal(dec("75")),
		AssocReceiptThreshold:     decimal.NewNullDecimal(dec("50")),
		DualApprovalThreshold:     decimal.NewNullDecimal(dec("150")),
		AssocAllowTeamOverride:    &allow,
		DuplicateDetectionEnabled: true,
		DuplicateWindowDays:       &days,
	}

	s := SettingsFor(config.DefaultValidation(), team)
	assert.True(t, s.ReceiptThreshold.Equal(dec("50")), "team may not loosen the association threshold")
	assert.True(t, s.DualApprovalThreshold.Equal(dec("150")), "a stricter team threshold applies")
	assert.True(t, s.OverrunTolerancePercent.IsZero())
	assert.True(t, s.DuplicateDetectionEnabled)
	assert.Equal(t, 14, s.DuplicateWindowDays)
}

func TestSettingsForIgnoresTeamValuesWithoutOverridePermission(t *testing.T) {
	team := &models.Team{
		AssociationID:         strPtr("assoc-1"),
		ReceiptThreshold:      decimal.NewNullDecimal(dec("25")),
		AssocReceiptThreshold: decimal.NewNullDecimal(dec("50")),
		DualApprovalThreshold: decimal.NewNullDecimal(dec("100")),
	}

	s := SettingsFor(config.DefaultValidation(), team)
	assert.True(t, s.ReceiptThreshold.Equal(dec("50")))
	assert.True(t, s.DualApprovalThreshold.Equal(dec("200")))

	allow := true
	team.AssocAllowTeamOverride = &allow
	s = SettingsFor(config.DefaultValidation(), team)
	assert.True(t, s.ReceiptThreshold.Equal(dec("25")))
	assert.True(t, s.DualApprovalThreshold.Equal(dec("100")))

	team.DualApprovalThreshold = decimal.NewNullDecimal(decimal.Zero)
	s = SettingsFor(config.DefaultValidation(), team)
	assert.True(t, s.DualApprovalThreshold.Equal(dec("200")), "a team cannot switch dual approval off")
}

func TestSettingsForStandaloneTeamUsesOwnValues(t *testing.T) {
	team := &models.Team{ReceiptThreshold: decimal.NewNullDecimal(dec("250"))}

	s := SettingsFor(config.DefaultValidation(), team)
	assert.True(t, s.ReceiptThreshold.Equal(dec("250")))
	assert.True(t, s.ReceiptsEnabled)
	assert.False(t, s.CategoryThresholdsEnabled)
}

func TestSettingsForAssociationReceiptPolicy(t *testing.T) {
	disabled, enabled := false, true
	grace := 3
	team := &models.Team{
		AssociationID:                  strPtr("assoc-1"),
		AssocReceiptsEnabled:           &disabled,
		AssocReceiptGracePeriodDays:    &grace,
		AssocCategoryThresholdsEnabled: &enabled,
		AssocCashLikeRequiresReview:    &enabled,
		AssocTransactionAmountLimit:    decimal.NewNullDecimal(dec("500")),
	}

	s := SettingsFor(config.DefaultValidation(), team)
	assert.False(t, s.ReceiptsEnabled)
	assert.Equal(t, 3, s.ReceiptGracePeriodDays)
	assert.True(t, s.CategoryThresholdsEnabled)
	assert.True(t, s.CashLikeRequiresReview)
	assert.True(t, s.TransactionAmountLimit.Equal(dec("500")))
}
