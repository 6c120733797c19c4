package models

import "time"

// ComplianceReport summarises validation outcomes for a team.
type ComplianceReport struct {
	TeamID                 string                    `json:"teamId"`
	From                   *time.Time                `json:"from,omitempty"`
	To                     *time.Time                `json:"to,omitempty"`
	TotalTransactions      int                       `json:"totalTransactions"`
	ValidatedCount         int                       `json:"validatedCount"`
	ExceptionCount         int                       `json:"exceptionCount"`
	ResolvedCount          int                       `json:"resolvedCount"`
	LockedCount            int                       `json:"lockedCount"`
	CompliantCount         int                       `json:"compliantCount"`
	ComplianceRate         float64                   `json:"complianceRate"`
	ExceptionsBySeverity   map[ExceptionSeverity]int `json:"exceptionsBySeverity"`
	AverageResolutionHours float64                   `json:"averageResolutionHours"`
	MedianResolutionHours  float64                   `json:"medianResolutionHours"`
	ResolutionsByType      map[ResolutionType]int    `json:"resolutionsByType"`
	TopViolations          []ViolationFrequency      `json:"topViolations"`
	GeneratedAt            time.Time                 `json:"generatedAt"`
}

// ViolationFrequency is one entry of the top-violations list.
type ViolationFrequency struct {
	Code     ViolationCode     `json:"code"`
	Count    int               `json:"count"`
	Message  string            `json:"message"`
	Severity ViolationSeverity `json:"severity"`
}

// ComplianceRow is the slice of a transaction the aggregator needs.
type ComplianceRow struct {
	Status            TransactionStatus  `db:"status"`
	ExceptionSeverity *ExceptionSeverity `db:"exception_severity"`
	CreatedAt         time.Time          `db:"created_at"`
	ResolvedAt        *time.Time         `db:"resolved_at"`
	ValidationJSON    JSONB              `db:"validation_json"`
	ResolutionJSON    JSONB              `db:"resolution_json"`
}

// ComplianceQuery scopes a summary to a team and optional date range on transaction_date.
type ComplianceQuery struct {
	TeamID string
	From   *time.Time
	To     *time.Time
}

// TrendPeriod buckets exception trends.
type TrendPeriod string

const (
	TrendDay   TrendPeriod = "day"
	TrendWeek  TrendPeriod = "week"
	TrendMonth TrendPeriod = "month"
)

// Valid reports whether p is a supported bucket.
func (p TrendPeriod) Valid() bool {
	return p == TrendDay || p == TrendWeek || p == TrendMonth
}

// ExceptionTrendPoint counts exceptions raised in one period bucket.
type ExceptionTrendPoint struct {
	Period   string `db:"period" json:"period"`
	Total    int    `db:"total" json:"total"`
	Resolved int    `db:"resolved" json:"resolved"`
	Pending  int    `db:"pending" json:"pending"`
}
