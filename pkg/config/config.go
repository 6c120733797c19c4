package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database   DatabaseConfig
	Redis      RedisConfig
	JWT        JWTConfig
	CORS       CORSConfig
	Log        LogConfig
	Compliance ComplianceConfig
	Validation ValidationConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
	AutoMigrate  bool
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// JWTConfig describes how identity-provider tokens are verified.
type JWTConfig struct {
	Secret string
	Issuer string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// ComplianceConfig governs caching of compliance summaries.
type ComplianceConfig struct {
	CacheEnabled  bool
	CacheTTL      time.Duration
	TopViolations int
}

// ValidationConfig holds rule defaults applied when a team or association has no override.
type ValidationConfig struct {
	ReceiptThreshold         decimal.Decimal
	CriticalReceiptAmount    decimal.Decimal
	DualApprovalThreshold    decimal.Decimal
	DuplicateWindowDays      int
	DuplicateAmountTolerance decimal.Decimal
	FutureTolerance          time.Duration
	OverrunTolerancePercent  decimal.Decimal
	ReceiptsEnabled          bool
	ReceiptGracePeriodDays   int
	CashLikeRequiresReview   bool
	TransactionAmountLimit   decimal.Decimal
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !isMissingFile(err) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
		AutoMigrate:  v.GetBool("DB_AUTO_MIGRATE"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret: v.GetString("JWT_SECRET"),
		Issuer: v.GetString("JWT_ISSUER"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Compliance = ComplianceConfig{
		CacheEnabled:  v.GetBool("ENABLE_COMPLIANCE_CACHE"),
		CacheTTL:      parseDuration(v.GetString("COMPLIANCE_CACHE_TTL"), 5*time.Minute),
		TopViolations: v.GetInt("COMPLIANCE_TOP_VIOLATIONS"),
	}

	cfg.Validation = ValidationConfig{
		ReceiptThreshold:         parseDecimal(v.GetString("VALIDATION_RECEIPT_THRESHOLD"), decimal.NewFromInt(100)),
		CriticalReceiptAmount:    parseDecimal(v.GetString("VALIDATION_CRITICAL_RECEIPT_AMOUNT"), decimal.NewFromInt(1000)),
		DualApprovalThreshold:    parseDecimal(v.GetString("VALIDATION_DUAL_APPROVAL_THRESHOLD"), decimal.NewFromInt(200)),
		DuplicateWindowDays:      v.GetInt("VALIDATION_DUPLICATE_WINDOW_DAYS"),
		DuplicateAmountTolerance: parseDecimal(v.GetString("VALIDATION_DUPLICATE_AMOUNT_TOLERANCE"), decimal.RequireFromString("0.01")),
		FutureTolerance:          parseDuration(v.GetString("VALIDATION_FUTURE_TOLERANCE"), 24*time.Hour),
		OverrunTolerancePercent:  parseDecimal(v.GetString("VALIDATION_OVERRUN_TOLERANCE_PERCENT"), decimal.Zero),
		ReceiptsEnabled:          v.GetBool("VALIDATION_RECEIPTS_ENABLED"),
		ReceiptGracePeriodDays:   v.GetInt("VALIDATION_RECEIPT_GRACE_PERIOD_DAYS"),
		CashLikeRequiresReview:   v.GetBool("VALIDATION_CASH_LIKE_REQUIRES_REVIEW"),
		TransactionAmountLimit:   parseDecimal(v.GetString("VALIDATION_TRANSACTION_AMOUNT_LIMIT"), decimal.NewFromInt(1000)),
	}

	return cfg, nil
}

// DefaultValidation returns the built-in rule defaults, used by tests and as a fallback.
func DefaultValidation() ValidationConfig {
	return ValidationConfig{
		ReceiptThreshold:         decimal.NewFromInt(100),
		CriticalReceiptAmount:    decimal.NewFromInt(1000),
		DualApprovalThreshold:    decimal.NewFromInt(200),
		DuplicateWindowDays:      7,
		DuplicateAmountTolerance: decimal.RequireFromString("0.01"),
		FutureTolerance:          24 * time.Hour,
		OverrunTolerancePercent:  decimal.Zero,
		ReceiptsEnabled:          true,
		TransactionAmountLimit:   decimal.NewFromInt(1000),
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "team_treasury")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_AUTO_MIGRATE", false)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_ISSUER", "")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("ENABLE_COMPLIANCE_CACHE", false)
	v.SetDefault("COMPLIANCE_CACHE_TTL", "5m")
	v.SetDefault("COMPLIANCE_TOP_VIOLATIONS", 5)

	v.SetDefault("VALIDATION_RECEIPT_THRESHOLD", "100")
	v.SetDefault("VALIDATION_CRITICAL_RECEIPT_AMOUNT", "1000")
	v.SetDefault("VALIDATION_DUAL_APPROVAL_THRESHOLD", "200")
	v.SetDefault("VALIDATION_DUPLICATE_WINDOW_DAYS", 7)
	v.SetDefault("VALIDATION_DUPLICATE_AMOUNT_TOLERANCE", "0.01")
	v.SetDefault("VALIDATION_FUTURE_TOLERANCE", "24h")
	v.SetDefault("VALIDATION_OVERRUN_TOLERANCE_PERCENT", "0")
	v.SetDefault("VALIDATION_RECEIPTS_ENABLED", true)
	v.SetDefault("VALIDATION_RECEIPT_GRACE_PERIOD_DAYS", 0)
	v.SetDefault("VALIDATION_CASH_LIKE_REQUIRES_REVIEW", false)
	v.SetDefault("VALIDATION_TRANSACTION_AMOUNT_LIMIT", "1000")
}

func isMissingFile(err error) bool {
	return err != nil && strings.Contains(err.Error(), "no such file")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func parseDecimal(raw string, fallback decimal.Decimal) decimal.Decimal {
	if strings.TrimSpace(raw) == "" {
		return fallback
	}

	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil || d.IsNegative() {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
