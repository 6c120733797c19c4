package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType distinguishes money coming in from money going out.
type TransactionType string

const (
	TransactionTypeIncome  TransactionType = "INCOME"
	TransactionTypeExpense TransactionType = "EXPENSE"
)

// TransactionStatus is the lifecycle state of a transaction.
type TransactionStatus string

const (
	StatusImported  TransactionStatus = "IMPORTED"
	StatusValidated TransactionStatus = "VALIDATED"
	StatusException TransactionStatus = "EXCEPTION"
	StatusResolved  TransactionStatus = "RESOLVED"
	StatusLocked    TransactionStatus = "LOCKED"
)

// TransactionSource records how a transaction entered the system.
type TransactionSource string

const (
	SourceManual TransactionSource = "MANUAL"
	SourceImport TransactionSource = "IMPORT"
)

// ExceptionSeverity ranks how serious an open exception is.
type ExceptionSeverity string

const (
	SeverityLow      ExceptionSeverity = "LOW"
	SeverityMedium   ExceptionSeverity = "MEDIUM"
	SeverityHigh     ExceptionSeverity = "HIGH"
	SeverityCritical ExceptionSeverity = "CRITICAL"
)

// ExceptionSeverities lists severities from least to most serious.
var ExceptionSeverities = []ExceptionSeverity{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}

// Rank orders severities; unknown values rank below LOW.
func (s ExceptionSeverity) Rank() int {
	for i, candidate := range ExceptionSeverities {
		if candidate == s {
			return i
		}
	}
	return -1
}

// Valid reports whether s is one of the known severities.
func (s ExceptionSeverity) Valid() bool {
	return s.Rank() >= 0
}

// Transaction is a single money movement recorded against a team.
type Transaction struct {
	ID                string             `db:"id" json:"id"`
	TeamID            string             `db:"team_id" json:"teamId"`
	Type              TransactionType    `db:"type" json:"type"`
	Amount            decimal.Decimal    `db:"amount" json:"amount"`
	Vendor            string             `db:"vendor" json:"vendor"`
	Description       *string            `db:"description" json:"description,omitempty"`
	TransactionDate   time.Time          `db:"transaction_date" json:"transactionDate"`
	CategoryID        string             `db:"category_id" json:"categoryId"`
	ReceiptURL        *string            `db:"receipt_url" json:"receiptUrl,omitempty"`
	Status            TransactionStatus  `db:"status" json:"status"`
	ExceptionSeverity *ExceptionSeverity `db:"exception_severity" json:"exceptionSeverity,omitempty"`
	ExceptionReason   *string            `db:"exception_reason" json:"exceptionReason,omitempty"`
	Source            TransactionSource  `db:"source" json:"source"`
	Season            string             `db:"season" json:"season"`
	CreatedBy         string             `db:"created_by" json:"createdBy"`
	ResolvedBy        *string            `db:"resolved_by" json:"resolvedBy,omitempty"`
	CreatedAt         time.Time          `db:"created_at" json:"createdAt"`
	UpdatedAt         time.Time          `db:"updated_at" json:"updatedAt"`
	ResolvedAt        *time.Time         `db:"resolved_at" json:"resolvedAt,omitempty"`
	DeletedAt         *time.Time         `db:"deleted_at" json:"-"`

	Validation *ValidationResult `db:"-" json:"validation,omitempty"`
	Resolution *ResolutionRecord `db:"-" json:"resolution,omitempty"`

	ValidationJSON JSONB `db:"validation_json" json:"-"`
	ResolutionJSON JSONB `db:"resolution_json" json:"-"`
}

// IsExpense reports whether the transaction spends team money.
func (t *Transaction) IsExpense() bool {
	return t.Type == TransactionTypeExpense
}

// HasReceipt reports whether a receipt reference is attached.
func (t *Transaction) HasReceipt() bool {
	return t.ReceiptURL != nil && *t.ReceiptURL != ""
}

// EncodeJSONFields serialises the structured validation and resolution into their storage columns.
func (t *Transaction) EncodeJSONFields() error {
	t.ValidationJSON = nil
	t.ResolutionJSON = nil
	if t.Validation != nil {
		raw, err := json.Marshal(t.Validation)
		if err != nil {
			return fmt.Errorf("encode validation: %w", err)
		}
		t.ValidationJSON = raw
	}
	if t.Resolution != nil {
		raw, err := json.Marshal(t.Resolution)
		if err != nil {
			return fmt.Errorf("encode resolution: %w", err)
		}
		t.ResolutionJSON = raw
	}
	return nil
}

// DecodeJSONFields is the inverse of EncodeJSONFields, used after scanning a row.
func (t *Transaction) DecodeJSONFields() error {
	t.Validation = nil
	t.Resolution = nil
	if !t.ValidationJSON.IsNull() {
		var result ValidationResult
		if err := json.Unmarshal(t.ValidationJSON, &result); err != nil {
			return fmt.Errorf("decode validation: %w", err)
		}
		t.Validation = &result
	}
	if !t.ResolutionJSON.IsNull() {
		var record ResolutionRecord
		if err := json.Unmarshal(t.ResolutionJSON, &record); err != nil {
			return fmt.Errorf("decode resolution: %w", err)
		}
		t.Resolution = &record
	}
	return nil
}

// Snapshot captures the fields recorded in audit before/after values.
func (t *Transaction) Snapshot() TransactionSnapshot {
	snap := TransactionSnapshot{
		Status:          t.Status,
		Amount:          t.Amount,
		Vendor:          t.Vendor,
		CategoryID:      t.CategoryID,
		TransactionDate: t.TransactionDate,
		ReceiptURL:      t.ReceiptURL,
		Severity:        t.ExceptionSeverity,
	}
	if t.Validation != nil {
		snap.Compliant = &t.Validation.Compliant
		snap.ViolationCount = len(t.Validation.Violations)
	}
	return snap
}

// TransactionSnapshot is the audit-facing view of a transaction at one point in time.
type TransactionSnapshot struct {
	Status          TransactionStatus  `json:"status"`
	Amount          decimal.Decimal    `json:"amount"`
	Vendor          string             `json:"vendor"`
	CategoryID      string             `json:"categoryId"`
	TransactionDate time.Time          `json:"transactionDate"`
	ReceiptURL      *string            `json:"receiptUrl,omitempty"`
	Severity        *ExceptionSeverity `json:"exceptionSeverity,omitempty"`
	Compliant       *bool              `json:"compliant,omitempty"`
	ViolationCount  int                `json:"violationCount"`
}

// Approval is one user's sign-off on a transaction, counted by the dual-approval rule.
type Approval struct {
	ID            string    `db:"id" json:"id"`
	TransactionID string    `db:"transaction_id" json:"transactionId"`
	UserID        string    `db:"user_id" json:"userId"`
	Role          UserRole  `db:"role" json:"role"`
	CreatedAt     time.Time `db:"created_at" json:"createdAt"`
}

// TransactionFilter constrains listing queries.
type TransactionFilter struct {
	TeamID   string
	Status   []TransactionStatus
	Severity ExceptionSeverity
	Limit    int
	Offset   int
}

// DuplicateQuery narrows the candidates fetched for duplicate detection.
type DuplicateQuery struct {
	TeamID    string
	ExcludeID string
	Vendor    string
	From      time.Time
	To        time.Time
}
