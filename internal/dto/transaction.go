package dto

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/puckledger/treasury-api/internal/models"
	appErrors "github.com/puckledger/treasury-api/pkg/errors"
)

// TransactionDraft is the caller-supplied part of a new transaction.
type TransactionDraft struct {
	Type            models.TransactionType `json:"type" validate:"required,oneof=INCOME EXPENSE"`
	Amount          decimal.Decimal        `json:"amount"`
	Vendor          string                 `json:"vendor" validate:"required,max=255"`
	Description     *string                `json:"description" validate:"omitempty,max=1000"`
	TransactionDate time.Time              `json:"transactionDate"`
	CategoryID      string                 `json:"categoryId" validate:"required"`
	ReceiptURL      *string                `json:"receiptUrl" validate:"omitempty,url"`
}

// SubmitTransactionRequest creates one transaction.
type SubmitTransactionRequest struct {
	TeamID string `json:"teamId" validate:"required"`
	TransactionDraft
}

// ImportTransactionsRequest creates many transactions; each is validated and stored on its own.
type ImportTransactionsRequest struct {
	TeamID string             `json:"teamId" validate:"required"`
	Items  []TransactionDraft `json:"items" validate:"required,min=1,max=500,dive"`
}

// ImportResult reports the outcome of one imported item.
type ImportResult struct {
	Index       int                 `json:"index"`
	Transaction *models.Transaction `json:"transaction,omitempty"`
	Error       *appErrors.Error    `json:"error,omitempty"`
}

// ImportSummary is the response of a bulk import.
type ImportSummary struct {
	Imported int            `json:"imported"`
	Failed   int            `json:"failed"`
	Results  []ImportResult `json:"results"`
}

// UpdateTransactionRequest edits transaction data; nil fields are left untouched.
type UpdateTransactionRequest struct {
	Amount          *decimal.Decimal `json:"amount"`
	Vendor          *string          `json:"vendor" validate:"omitempty,min=1,max=255"`
	Description     *string          `json:"description" validate:"omitempty,max=1000"`
	TransactionDate *time.Time       `json:"transactionDate"`
	CategoryID      *string          `json:"categoryId" validate:"omitempty,min=1"`
	ReceiptURL      *string          `json:"receiptUrl" validate:"omitempty,url"`
}

// Changes converts the request into the model used by edits and CORRECT resolutions.
func (r *UpdateTransactionRequest) Changes() *models.CorrectedData {
	if r == nil {
		return nil
	}
	return &models.CorrectedData{
		Amount:          r.Amount,
		Vendor:          r.Vendor,
		Description:     r.Description,
		TransactionDate: r.TransactionDate,
		CategoryID:      r.CategoryID,
		ReceiptURL:      r.ReceiptURL,
	}
}

// ListTransactionsQuery filters the transaction list.
type ListTransactionsQuery struct {
	TeamID   string `form:"teamId" validate:"required"`
	Status   string `form:"status"`
	Severity string `form:"severity" validate:"omitempty,oneof=LOW MEDIUM HIGH CRITICAL"`
	Limit    int    `form:"limit" validate:"omitempty,min=1,max=200"`
	Offset   int    `form:"offset" validate:"omitempty,min=0"`
}

// LockSeasonRequest closes a season; an empty season means the team's current one.
type LockSeasonRequest struct {
	Season string `json:"season" validate:"omitempty,max=32"`
}

// LockSeasonResult reports what a season closure did.
type LockSeasonResult struct {
	TeamID         string   `json:"teamId"`
	Season         string   `json:"season"`
	Locked         int      `json:"locked"`
	TransactionIDs []string `json:"transactionIds"`
	OpenExceptions int      `json:"openExceptions"`
}
