package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/puckledger/treasury-api/internal/models"
)

const auditColumns = `id, team_id, actor_id, action, entity_type, entity_id, old_values, new_values, metadata, created_at`

// insertAuditEntries appends entries inside the caller's transaction. The table is insert-only.
func insertAuditEntries(ctx context.Context, tx *sqlx.Tx, entries []models.AuditLogEntry) error {
	const query = `INSERT INTO transaction_audit_logs
	(id, team_id, actor_id, action, entity_type, entity_id, old_values, new_values, metadata, created_at)
	VALUES (:id, :team_id, :actor_id, :action, :entity_type, :entity_id, :old_values, :new_values, :metadata, :created_at)`

	for i := range entries {
		entry := &entries[i]
		if entry.ID == "" {
			entry.ID = uuid.NewString()
		}
		if entry.CreatedAt.IsZero() {
			entry.CreatedAt = time.Now().UTC()
		}
		if _, err := tx.NamedExecContext(ctx, query, entry); err != nil {
			return fmt.Errorf("insert audit entry %s: %w", entry.Action, err)
		}
	}
	return nil
}

// AuditRepository is the read side of the transaction audit trail.
type AuditRepository struct {
	db *sqlx.DB
}

// NewAuditRepository constructs the repository.
func NewAuditRepository(db *sqlx.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// List returns a team's entries newest first, with the total match count.
func (r *AuditRepository) List(ctx context.Context, filter models.AuditFilter) ([]models.AuditLogEntry, int, error) {
	conditions := []string{"team_id = $1"}
	args := []interface{}{filter.TeamID}
	if filter.ActorID != "" {
		args = append(args, filter.ActorID)
		conditions = append(conditions, fmt.Sprintf("actor_id = $%d", len(args)))
	}
	if filter.Action != "" {
		args = append(args, filter.Action)
		conditions = append(conditions, fmt.Sprintf("action = $%d", len(args)))
	}
	if filter.From != nil {
		args = append(args, *filter.From)
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if filter.To != nil {
		args = append(args, *filter.To)
		conditions = append(conditions, fmt.Sprintf("created_at < $%d", len(args)))
	}
	where := " WHERE " + strings.Join(conditions, " AND ")

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM transaction_audit_logs"+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count audit entries: %w", err)
	}

	limit, offset := pageBounds(filter.Limit, filter.Offset)
	query := fmt.Sprintf("SELECT %s FROM transaction_audit_logs%s ORDER BY created_at DESC LIMIT %d OFFSET %d",
		auditColumns, where, limit, offset)

	var entries []models.AuditLogEntry
	if err := r.db.SelectContext(ctx, &entries, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list audit entries: %w", err)
	}
	return entries, total, nil
}

// ListByEntity returns every entry for one transaction in chronological order.
func (r *AuditRepository) ListByEntity(ctx context.Context, entityID string) ([]models.AuditLogEntry, error) {
	query := `SELECT ` + auditColumns + ` FROM transaction_audit_logs WHERE entity_id = $1 ORDER BY created_at`
	var entries []models.AuditLogEntry
	if err := r.db.SelectContext(ctx, &entries, query, entityID); err != nil {
		return nil, fmt.Errorf("list audit entries for %s: %w", entityID, err)
	}
	return entries, nil
}
