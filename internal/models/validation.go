package models

import "time"

// ViolationCode is a stable identifier for a rule failure.
type ViolationCode string

const (
	CodeMissingReceipt       ViolationCode = "MISSING_RECEIPT"
	CodeThresholdBreach      ViolationCode = "THRESHOLD_BREACH"
	CodeEnvelopeCapExceeded  ViolationCode = "ENVELOPE_CAP_EXCEEDED"
	CodeCategoryOverLimit    ViolationCode = "CATEGORY_OVER_LIMIT"
	CodeRequiresReview       ViolationCode = "REQUIRES_REVIEW"
	CodeTransactionTooFuture ViolationCode = "TRANSACTION_TOO_FUTURE"
	CodeOutsideSeasonDates   ViolationCode = "OUTSIDE_SEASON_DATES"
	CodeUnapprovedCategory   ViolationCode = "UNAPPROVED_CATEGORY"
	CodeCashLikeTransaction  ViolationCode = "CASH_LIKE_TRANSACTION"
)

// ViolationSeverity weighs a single violation.
type ViolationSeverity string

const (
	ViolationInfo     ViolationSeverity = "INFO"
	ViolationWarning  ViolationSeverity = "WARNING"
	ViolationError    ViolationSeverity = "ERROR"
	ViolationCritical ViolationSeverity = "CRITICAL"
)

// Violation is one rule failure.
type Violation struct {
	Code     ViolationCode     `json:"code"`
	Severity ViolationSeverity `json:"severity"`
	Message  string            `json:"message"`
}

// CheckName identifies a rule category in ChecksRun.
type CheckName string

const (
	CheckReceipt    CheckName = "receipt"
	CheckBudget     CheckName = "budget"
	CheckThreshold  CheckName = "threshold"
	CheckDuplicates CheckName = "duplicates"
	CheckDates      CheckName = "dates"
	CheckCashLike   CheckName = "cashLike"
)

// CheckOutcome records whether a rule category executed and, if not, why.
type CheckOutcome struct {
	Ran        bool   `json:"ran"`
	SkipReason string `json:"skipReason,omitempty"`
}

// ValidationResult is the verdict attached to a transaction. It is replaced, never mutated.
// PriorViolations holds the violations of the last failing run once a later run passes, so an
// exception cleared by correction keeps its history.
type ValidationResult struct {
	Compliant       bool                       `json:"compliant"`
	Violations      []Violation                `json:"violations"`
	PriorViolations []Violation                `json:"priorViolations,omitempty"`
	Score           int                        `json:"score"`
	ValidatedAt     time.Time                  `json:"validatedAt"`
	ChecksRun       map[CheckName]CheckOutcome `json:"checksRun"`
}

// CarryHistory returns the violations a passing run should keep from prev.
func CarryHistory(prev *ValidationResult) []Violation {
	if prev == nil {
		return nil
	}
	if len(prev.Violations) > 0 {
		return prev.Violations
	}
	return prev.PriorViolations
}

// Recorded is every violation the transaction has carried, current or cleared.
func (r *ValidationResult) Recorded() []Violation {
	if r == nil {
		return nil
	}
	if len(r.PriorViolations) == 0 {
		return r.Violations
	}
	return append(append([]Violation(nil), r.PriorViolations...), r.Violations...)
}

// Codes returns the violation codes in order.
func (r *ValidationResult) Codes() []ViolationCode {
	if r == nil {
		return nil
	}
	codes := make([]ViolationCode, 0, len(r.Violations))
	for _, v := range r.Violations {
		codes = append(codes, v.Code)
	}
	return codes
}

// HasCritical reports whether any violation is CRITICAL.
func (r *ValidationResult) HasCritical() bool {
	if r == nil {
		return false
	}
	for _, v := range r.Violations {
		if v.Severity == ViolationCritical {
			return true
		}
	}
	return false
}
