package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, EnvDevelopment, cfg.Env)
	assert.Equal(t, "/api/v1", cfg.APIPrefix)
	assert.Equal(t, 5*time.Minute, cfg.Compliance.CacheTTL)

	defaults := DefaultValidation()
	assert.True(t, defaults.ReceiptThreshold.Equal(cfg.Validation.ReceiptThreshold))
	assert.True(t, defaults.DualApprovalThreshold.Equal(cfg.Validation.DualApprovalThreshold))
	assert.Equal(t, 7, cfg.Validation.DuplicateWindowDays)
	assert.Equal(t, 24*time.Hour, cfg.Validation.FutureTolerance)
	assert.True(t, cfg.Validation.ReceiptsEnabled)
	assert.Zero(t, cfg.Validation.ReceiptGracePeriodDays)
	assert.False(t, cfg.Validation.CashLikeRequiresReview)
	assert.True(t, defaults.TransactionAmountLimit.Equal(cfg.Validation.TransactionAmountLimit))
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("VALIDATION_RECEIPT_THRESHOLD", "75.50")
	t.Setenv("VALIDATION_FUTURE_TOLERANCE", "2h")
	t.Setenv("VALIDATION_RECEIPT_GRACE_PERIOD_DAYS", "3")
	t.Setenv("VALIDATION_CASH_LIKE_REQUIRES_REVIEW", "true")
	t.Setenv("COMPLIANCE_CACHE_TTL", "not-a-duration")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, ,https://b.example")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "75.5", cfg.Validation.ReceiptThreshold.String())
	assert.Equal(t, 2*time.Hour, cfg.Validation.FutureTolerance)
	assert.Equal(t, 3, cfg.Validation.ReceiptGracePeriodDays)
	assert.True(t, cfg.Validation.CashLikeRequiresReview)
	assert.Equal(t, 5*time.Minute, cfg.Compliance.CacheTTL)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORS.AllowedOrigins)
}

func TestParseDecimalRejectsNegative(t *testing.T) {
	fallback := DefaultValidation().ReceiptThreshold
	assert.True(t, fallback.Equal(parseDecimal("-5", fallback)))
	assert.True(t, fallback.Equal(parseDecimal("abc", fallback)))
}
