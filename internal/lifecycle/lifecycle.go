// Package lifecycle holds the transaction state machine. It is pure: callers persist the
// outcome with a status compare-and-swap.
package lifecycle

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/puckledger/treasury-api/internal/models"
)

// Event drives a transition.
type Event string

const (
	EventValidate   Event = "validate"
	EventRevalidate Event = "revalidate"
	EventResolve    Event = "resolve"
	EventLock       Event = "lock"
)

var (
	// ErrTerminalState is returned for any event on a LOCKED transaction.
	ErrTerminalState = errors.New("transaction is locked")
	// ErrNotException is returned when resolving anything but an EXCEPTION.
	ErrNotException = errors.New("transaction is not an open exception")
	// ErrInvalidTransition covers every other event the current state does not accept.
	ErrInvalidTransition = errors.New("invalid transition")
)

// Outcome is the result of a permitted transition.
type Outcome struct {
	From        models.TransactionStatus
	To          models.TransactionStatus
	AutoCleared bool
}

// Changed reports whether the status moves.
func (o Outcome) Changed() bool {
	return o.From != o.To
}

// Transition applies event to a transaction in state from. compliant is the latest validation
// verdict and only matters for the validate events.
func Transition(from models.TransactionStatus, event Event, compliant bool) (Outcome, error) {
	if from == models.StatusLocked {
		return Outcome{}, ErrTerminalState
	}

	verdict := models.StatusException
	if compliant {
		verdict = models.StatusValidated
	}

	switch event {
	case EventValidate:
		if from != models.StatusImported {
			return Outcome{}, invalid(from, event)
		}
		return Outcome{From: from, To: verdict}, nil

	case EventRevalidate:
		switch from {
		case models.StatusImported, models.StatusValidated:
			return Outcome{From: from, To: verdict}, nil
		case models.StatusException:
			return Outcome{From: from, To: verdict, AutoCleared: compliant}, nil
		}
		return Outcome{}, invalid(from, event)

	case EventResolve:
		if from != models.StatusException {
			return Outcome{}, ErrNotException
		}
		return Outcome{From: from, To: models.StatusResolved}, nil

	case EventLock:
		if from != models.StatusValidated && from != models.StatusResolved {
			return Outcome{}, invalid(from, event)
		}
		return Outcome{From: from, To: models.StatusLocked}, nil
	}

	return Outcome{}, fmt.Errorf("%w: unknown event %q", ErrInvalidTransition, event)
}

func invalid(from models.TransactionStatus, event Event) error {
	return fmt.Errorf("%w: cannot %s a %s transaction", ErrInvalidTransition, event, from)
}

// CanEdit reports whether the transaction data may still change. RESOLVED is settled.
func CanEdit(status models.TransactionStatus) error {
	switch status {
	case models.StatusLocked:
		return ErrTerminalState
	case models.StatusResolved:
		return fmt.Errorf("%w: resolved transactions are settled", ErrInvalidTransition)
	}
	return nil
}

// DeriveExceptionSeverity bands by amount and raises to CRITICAL when any violation is CRITICAL.
func DeriveExceptionSeverity(amount decimal.Decimal, result *models.ValidationResult) models.ExceptionSeverity {
	severity := models.SeverityLow
	switch {
	case amount.GreaterThanOrEqual(decimal.NewFromInt(1000)):
		severity = models.SeverityCritical
	case amount.GreaterThanOrEqual(decimal.NewFromInt(500)):
		severity = models.SeverityHigh
	case amount.GreaterThanOrEqual(decimal.NewFromInt(200)):
		severity = models.SeverityMedium
	}
	if result.HasCritical() {
		severity = models.SeverityCritical
	}
	return severity
}

// AuditAction names the audit entry for an outcome. edited marks a data change by the caller.
func AuditAction(event Event, outcome Outcome, edited bool) models.AuditAction {
	switch {
	case event == EventResolve:
		return models.AuditResolveException
	case event == EventLock:
		return models.AuditTransactionLocked
	case outcome.AutoCleared:
		return models.AuditExceptionAutoCleared
	case outcome.Changed() && outcome.To == models.StatusException:
		return models.AuditTransactionExceptionRaised
	case outcome.Changed() && outcome.To == models.StatusValidated:
		return models.AuditTransactionValidated
	case edited:
		return models.AuditTransactionEdited
	}
	return models.AuditTransactionRevalidated
}
