package service

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/puckledger/treasury-api/internal/models"
)

// AuditTrail builds the append-only entries written alongside every state change.
type AuditTrail struct {
	now func() time.Time
}

// NewAuditTrail constructs an AuditTrail using the wall clock.
func NewAuditTrail() *AuditTrail {
	return &AuditTrail{now: func() time.Time { return time.Now().UTC() }}
}

// Record builds an entry for one transaction. old or updated may be nil for creations and deletions.
func (a *AuditTrail) Record(action models.AuditAction, actorID string, old, updated *models.Transaction, meta models.AuditMetadata) (models.AuditLogEntry, error) {
	subject := updated
	if subject == nil {
		subject = old
	}
	if subject == nil {
		return models.AuditLogEntry{}, fmt.Errorf("audit %s: no transaction", action)
	}
	if actorID == "" {
		actorID = models.SystemActor
	}

	entry := models.AuditLogEntry{
		TeamID:     subject.TeamID,
		ActorID:    actorID,
		Action:     action,
		EntityType: models.EntityTransaction,
		EntityID:   subject.ID,
		CreatedAt:  a.now(),
	}

	var err error
	if old != nil {
		if entry.OldValues, err = marshalSnapshot(old); err != nil {
			return models.AuditLogEntry{}, err
		}
	}
	if updated != nil {
		if entry.NewValues, err = marshalSnapshot(updated); err != nil {
			return models.AuditLogEntry{}, err
		}
	}

	if meta.Vendor == "" {
		meta.Vendor = subject.Vendor
	}
	if meta.Amount == "" {
		meta.Amount = subject.Amount.StringFixed(2)
	}
	if meta.CategoryID == "" {
		meta.CategoryID = subject.CategoryID
	}
	if subject.Validation != nil {
		meta.ViolationCount = len(subject.Validation.Violations)
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return models.AuditLogEntry{}, fmt.Errorf("encode audit metadata: %w", err)
	}
	entry.Metadata = raw
	return entry, nil
}

func marshalSnapshot(tx *models.Transaction) (models.JSONB, error) {
	raw, err := json.Marshal(tx.Snapshot())
	if err != nil {
		return nil, fmt.Errorf("encode audit snapshot: %w", err)
	}
	return raw, nil
}
