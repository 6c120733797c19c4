package models

import "time"

// AuditAction names a consequential state change.
type AuditAction string

const (
	AuditTransactionValidated       AuditAction = "TRANSACTION_VALIDATED"
	AuditTransactionExceptionRaised AuditAction = "TRANSACTION_EXCEPTION_CREATED"
	AuditExceptionAutoCleared       AuditAction = "EXCEPTION_AUTO_CLEARED"
	AuditTransactionRevalidated     AuditAction = "TRANSACTION_REVALIDATED"
	AuditTransactionEdited          AuditAction = "TRANSACTION_EDITED"
	AuditResolveException           AuditAction = "RESOLVE_EXCEPTION"
	AuditOverrideException          AuditAction = "OVERRIDE_EXCEPTION"
	AuditTransactionLocked          AuditAction = "TRANSACTION_LOCKED"
	AuditTransactionApproved        AuditAction = "TRANSACTION_APPROVED"
	AuditTransactionDeleted         AuditAction = "TRANSACTION_DELETED"
)

// SystemActor is recorded when no user triggered the change.
const SystemActor = "SYSTEM"

// EntityTransaction is the entity type of every transaction audit entry.
const EntityTransaction = "transaction"

// AuditLogEntry is an append-only record of one state change.
type AuditLogEntry struct {
	ID         string      `db:"id" json:"id"`
	TeamID     string      `db:"team_id" json:"teamId"`
	ActorID    string      `db:"actor_id" json:"actorId"`
	Action     AuditAction `db:"action" json:"action"`
	EntityType string      `db:"entity_type" json:"entityType"`
	EntityID   string      `db:"entity_id" json:"entityId"`
	OldValues  JSONB       `db:"old_values" json:"oldValues"`
	NewValues  JSONB       `db:"new_values" json:"newValues"`
	Metadata   JSONB       `db:"metadata" json:"metadata"`
	CreatedAt  time.Time   `db:"created_at" json:"createdAt"`
}

// AuditMetadata is the denormalised context stored with each entry.
type AuditMetadata struct {
	Vendor         string            `json:"vendor,omitempty"`
	Amount         string            `json:"amount,omitempty"`
	CategoryID     string            `json:"categoryId,omitempty"`
	ViolationCount int               `json:"violationCount"`
	ResolutionType ResolutionType    `json:"resolutionType,omitempty"`
	Reason         string            `json:"reason,omitempty"`
	AutoCleared    bool              `json:"autoCleared,omitempty"`
	Severity       ExceptionSeverity `json:"exceptionSeverity,omitempty"`
	ApproverRole   UserRole          `json:"approverRole,omitempty"`
}

// AuditFilter constrains the audit read side.
type AuditFilter struct {
	TeamID  string
	ActorID string
	Action  AuditAction
	From    *time.Time
	To      *time.Time
	Limit   int
	Offset  int
}
