package dto

import "github.com/puckledger/treasury-api/internal/models"

// ResolveExceptionRequest resolves one EXCEPTION transaction.
type ResolveExceptionRequest struct {
	TransactionID string                    `json:"transactionId" validate:"required"`
	Resolution    models.ResolutionType     `json:"resolution" validate:"required"`
	Reason        string                    `json:"reason" validate:"required,max=2000"`
	Notes         *string                   `json:"notes" validate:"omitempty,max=2000"`
	CorrectedData *UpdateTransactionRequest `json:"correctedData" validate:"omitempty"`
}

// ListExceptionsQuery filters the active exception queue.
type ListExceptionsQuery struct {
	TeamID   string `form:"teamId" validate:"required"`
	Severity string `form:"severity" validate:"omitempty,oneof=LOW MEDIUM HIGH CRITICAL"`
	Limit    int    `form:"limit" validate:"omitempty,min=1,max=200"`
	Offset   int    `form:"offset" validate:"omitempty,min=0"`
}
