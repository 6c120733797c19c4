package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ResolutionType is the human action taken on an exception.
type ResolutionType string

const (
	ResolutionCorrect  ResolutionType = "CORRECT"
	ResolutionOverride ResolutionType = "OVERRIDE"
)

// Valid reports whether t is CORRECT or OVERRIDE.
func (t ResolutionType) Valid() bool {
	return t == ResolutionCorrect || t == ResolutionOverride
}

// ResolutionRecord is created once with the EXCEPTION to RESOLVED transition and never changes.
type ResolutionRecord struct {
	Type          ResolutionType `json:"type"`
	ResolvedBy    string         `json:"resolvedBy"`
	ResolvedAt    time.Time      `json:"resolvedAt"`
	Reason        string         `json:"reason"`
	CorrectedData *CorrectedData `json:"correctedData,omitempty"`
	Notes         *string        `json:"notes,omitempty"`
}

// CorrectedData carries the fields a CORRECT resolution changed. Nil fields are untouched.
type CorrectedData struct {
	Amount          *decimal.Decimal `json:"amount,omitempty"`
	Vendor          *string          `json:"vendor,omitempty"`
	Description     *string          `json:"description,omitempty"`
	TransactionDate *time.Time       `json:"transactionDate,omitempty"`
	CategoryID      *string          `json:"categoryId,omitempty"`
	ReceiptURL      *string          `json:"receiptUrl,omitempty"`
}

// Empty reports whether no field was supplied.
func (c *CorrectedData) Empty() bool {
	return c == nil || (c.Amount == nil && c.Vendor == nil && c.Description == nil &&
		c.TransactionDate == nil && c.CategoryID == nil && c.ReceiptURL == nil)
}

// ApplyTo overwrites the supplied fields on tx.
func (c *CorrectedData) ApplyTo(tx *Transaction) {
	if c == nil || tx == nil {
		return
	}
	if c.Amount != nil {
		tx.Amount = *c.Amount
	}
	if c.Vendor != nil {
		tx.Vendor = *c.Vendor
	}
	if c.Description != nil {
		tx.Description = c.Description
	}
	if c.TransactionDate != nil {
		tx.TransactionDate = *c.TransactionDate
	}
	if c.CategoryID != nil {
		tx.CategoryID = *c.CategoryID
	}
	if c.ReceiptURL != nil {
		tx.ReceiptURL = c.ReceiptURL
	}
}
