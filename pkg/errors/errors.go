package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents a typed domain error with HTTP awareness. Reason narrows
// the cause when several errors share a code, e.g. the flavours of FORBIDDEN.
type Error struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Status  int         `json:"status"`
	Reason  string      `json:"reason,omitempty"`
	Details interface{} `json:"details,omitempty"`
	Err     error       `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches on code and reason so callers can compare against the predefined values.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) || e == nil || t == nil {
		return false
	}
	return e.Code == t.Code && e.Reason == t.Reason
}

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

func newWithReason(code string, status int, reason, message string) *Error {
	return &Error{Code: code, Status: status, Reason: reason, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// Authorization failure reasons. All of them share the FORBIDDEN code.
const (
	ReasonReadOnlyTier       = "READ_ONLY_TIER"
	ReasonNoTeamAccess       = "NO_TEAM_ACCESS"
	ReasonInsufficientRole   = "INSUFFICIENT_ROLE"
	ReasonStateInvalid       = "INVALID_STATE"
	ReasonTransactionLocked  = "TRANSACTION_LOCKED"
	ReasonStaleState         = "STALE_STATE"
	ReasonInvalidResolution  = "INVALID_RESOLUTION"
	ReasonCorrectionRequired = "CORRECTION_INCOMPLETE"
)

// ReadOnlyTierMessage is shown to association-tier users on every mutation attempt.
const ReadOnlyTierMessage = "Association users have read-only access to team data"

// Predefined errors for common scenarios.
var (
	ErrNotFound     = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrForbidden    = New("FORBIDDEN", http.StatusForbidden, "forbidden")
	ErrUnauthorized = New("UNAUTHORIZED", http.StatusUnauthorized, "unauthorized")
	ErrConflict     = New("CONFLICT", http.StatusConflict, "conflict")
	ErrValidation   = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrInternal     = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
	ErrCacheMiss    = New("CACHE_MISS", http.StatusNotFound, "cache miss")

	ErrReadOnlyTier     = newWithReason("FORBIDDEN", http.StatusForbidden, ReasonReadOnlyTier, ReadOnlyTierMessage)
	ErrNoTeamAccess     = newWithReason("FORBIDDEN", http.StatusForbidden, ReasonNoTeamAccess, "You do not have access to this team")
	ErrInsufficientRole = newWithReason("FORBIDDEN", http.StatusForbidden, ReasonInsufficientRole, "You do not have permission to perform this action")

	ErrInvalidResolution    = newWithReason("VALIDATION_ERROR", http.StatusBadRequest, ReasonInvalidResolution, "resolution must be CORRECT or OVERRIDE")
	ErrInvalidState         = newWithReason("CONFLICT", http.StatusConflict, ReasonStateInvalid, "transaction is not in a state that allows this action")
	ErrTransactionLocked    = newWithReason("CONFLICT", http.StatusConflict, ReasonTransactionLocked, "transaction is locked")
	ErrStaleState           = newWithReason("CONFLICT", http.StatusConflict, ReasonStaleState, "transaction was modified by another request")
	ErrCorrectionIncomplete = newWithReason("UNPROCESSABLE_ENTITY", http.StatusUnprocessableEntity, ReasonCorrectionRequired, "corrected transaction still has violations")
)

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}

// WithDetails returns a copy of err carrying structured details for the caller.
func WithDetails(err *Error, details interface{}) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	clone.Details = details
	return &clone
}
