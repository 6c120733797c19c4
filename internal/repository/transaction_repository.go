package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/puckledger/treasury-api/internal/models"
	"github.com/puckledger/treasury-api/pkg/database"
)

// ErrDuplicateApproval is returned when a user approves the same transaction twice.
var ErrDuplicateApproval = errors.New("approval already recorded")

const transactionColumns = `id, team_id, type, amount, vendor, description, transaction_date, category_id,
       receipt_url, status, validation_json, exception_severity, exception_reason, resolution_json,
       source, season, created_by, resolved_by, created_at, updated_at, resolved_at, deleted_at`

// QueryObserver receives timings for repository calls.
type QueryObserver interface {
	ObserveDBQuery(label string, duration time.Duration)
}

// TransactionRepository persists transactions together with their audit entries.
type TransactionRepository struct {
	db       *sqlx.DB
	observer QueryObserver
}

// NewTransactionRepository constructs the repository. observer may be nil.
func NewTransactionRepository(db *sqlx.DB, observer QueryObserver) *TransactionRepository {
	return &TransactionRepository{db: db, observer: observer}
}

func (r *TransactionRepository) observe(label string, start time.Time) {
	if r.observer != nil {
		r.observer.ObserveDBQuery(label, time.Since(start))
	}
}

// Create inserts a transaction and the audit entries describing its initial state.
func (r *TransactionRepository) Create(ctx context.Context, txn *models.Transaction, entries ...models.AuditLogEntry) error {
	defer r.observe("transactions.create", time.Now())

	if txn.ID == "" {
		txn.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if txn.CreatedAt.IsZero() {
		txn.CreatedAt = now
	}
	txn.UpdatedAt = txn.CreatedAt
	if err := txn.EncodeJSONFields(); err != nil {
		return err
	}

	const query = `INSERT INTO transactions
	(id, team_id, type, amount, vendor, description, transaction_date, category_id, receipt_url, status,
	 validation_json, exception_severity, exception_reason, resolution_json, source, season, created_by,
	 resolved_by, created_at, updated_at, resolved_at)
	VALUES (:id, :team_id, :type, :amount, :vendor, :description, :transaction_date, :category_id, :receipt_url, :status,
	 :validation_json, :exception_severity, :exception_reason, :resolution_json, :source, :season, :created_by,
	 :resolved_by, :created_at, :updated_at, :resolved_at)`

	return database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		if _, err := tx.NamedExecContext(ctx, query, txn); err != nil {
			return fmt.Errorf("insert transaction: %w", err)
		}
		return insertAuditEntries(ctx, tx, entries)
	})
}

// GetByID fetches a live transaction.
func (r *TransactionRepository) GetByID(ctx context.Context, id string) (*models.Transaction, error) {
	defer r.observe("transactions.get", time.Now())

	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1 AND deleted_at IS NULL`
	var txn models.Transaction
	if err := r.db.GetContext(ctx, &txn, query, id); err != nil {
		return nil, err
	}
	if err := txn.DecodeJSONFields(); err != nil {
		return nil, err
	}
	return &txn, nil
}

// List returns live transactions for a team, newest first, and the total match count.
func (r *TransactionRepository) List(ctx context.Context, filter models.TransactionFilter) ([]models.Transaction, int, error) {
	defer r.observe("transactions.list", time.Now())

	conditions := []string{"team_id = $1", "deleted_at IS NULL"}
	args := []interface{}{filter.TeamID}
	if len(filter.Status) > 0 {
		statuses := make([]string, len(filter.Status))
		for i, status := range filter.Status {
			statuses[i] = string(status)
		}
		args = append(args, pq.Array(statuses))
		conditions = append(conditions, fmt.Sprintf("status = ANY($%d)", len(args)))
	}
	if filter.Severity != "" {
		args = append(args, filter.Severity)
		conditions = append(conditions, fmt.Sprintf("exception_severity = $%d", len(args)))
	}
	where := " WHERE " + strings.Join(conditions, " AND ")

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM transactions"+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count transactions: %w", err)
	}

	limit, offset := pageBounds(filter.Limit, filter.Offset)
	query := fmt.Sprintf("SELECT %s FROM transactions%s ORDER BY transaction_date DESC, created_at DESC LIMIT %d OFFSET %d",
		transactionColumns, where, limit, offset)

	var txns []models.Transaction
	if err := r.db.SelectContext(ctx, &txns, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list transactions: %w", err)
	}
	for i := range txns {
		if err := txns[i].DecodeJSONFields(); err != nil {
			return nil, 0, err
		}
	}
	return txns, total, nil
}

// ListLockable returns the VALIDATED and RESOLVED transactions of a team season.
func (r *TransactionRepository) ListLockable(ctx context.Context, teamID, season string) ([]models.Transaction, error) {
	defer r.observe("transactions.list_lockable", time.Now())

	query := `SELECT ` + transactionColumns + ` FROM transactions
	WHERE team_id = $1 AND season = $2 AND status IN ('VALIDATED', 'RESOLVED') AND deleted_at IS NULL
	ORDER BY created_at`
	var txns []models.Transaction
	if err := r.db.SelectContext(ctx, &txns, query, teamID, season); err != nil {
		return nil, fmt.Errorf("list lockable transactions: %w", err)
	}
	for i := range txns {
		if err := txns[i].DecodeJSONFields(); err != nil {
			return nil, err
		}
	}
	return txns, nil
}

// DuplicateCandidates returns same-team transactions dated inside the query window.
func (r *TransactionRepository) DuplicateCandidates(ctx context.Context, q models.DuplicateQuery) ([]models.Transaction, error) {
	defer r.observe("transactions.duplicates", time.Now())

	query := `SELECT ` + transactionColumns + ` FROM transactions
	WHERE team_id = $1 AND id <> $2 AND deleted_at IS NULL
	  AND transaction_date BETWEEN $3 AND $4
	ORDER BY transaction_date`
	var txns []models.Transaction
	if err := r.db.SelectContext(ctx, &txns, query, q.TeamID, q.ExcludeID, q.From, q.To); err != nil {
		return nil, fmt.Errorf("list duplicate candidates: %w", err)
	}
	return txns, nil
}

// Transition is one compare-and-swap write: Transaction holds the full new state and the row
// is only updated while its status still equals ExpectedStatus.
type Transition struct {
	Transaction    *models.Transaction
	ExpectedStatus models.TransactionStatus
	Audit          []models.AuditLogEntry
}

// ApplyTransitions writes every transition and its audit entries in a single database
// transaction. If any row lost its race the whole batch is rolled back with sql.ErrNoRows.
func (r *TransactionRepository) ApplyTransitions(ctx context.Context, transitions ...Transition) error {
	defer r.observe("transactions.transition", time.Now())

	const query = `UPDATE transactions SET
	    amount = :amount, vendor = :vendor, description = :description, transaction_date = :transaction_date,
	    category_id = :category_id, receipt_url = :receipt_url, status = :status,
	    validation_json = :validation_json, exception_severity = :exception_severity,
	    resolution_json = :resolution_json, resolved_by = :resolved_by, resolved_at = :resolved_at,
	    updated_at = :updated_at, deleted_at = :deleted_at
	WHERE id = :id AND status = :expected_status AND deleted_at IS NULL`

	return database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		for _, t := range transitions {
			txn := t.Transaction
			if err := txn.EncodeJSONFields(); err != nil {
				return err
			}
			result, err := tx.NamedExecContext(ctx, query, map[string]interface{}{
				"id":                 txn.ID,
				"amount":             txn.Amount,
				"vendor":             txn.Vendor,
				"description":        txn.Description,
				"transaction_date":   txn.TransactionDate,
				"category_id":        txn.CategoryID,
				"receipt_url":        txn.ReceiptURL,
				"status":             txn.Status,
				"validation_json":    txn.ValidationJSON,
				"exception_severity": txn.ExceptionSeverity,
				"resolution_json":    txn.ResolutionJSON,
				"resolved_by":        txn.ResolvedBy,
				"resolved_at":        txn.ResolvedAt,
				"updated_at":         txn.UpdatedAt,
				"deleted_at":         txn.DeletedAt,
				"expected_status":    t.ExpectedStatus,
			})
			if err != nil {
				return fmt.Errorf("update transaction %s: %w", txn.ID, err)
			}
			rows, err := result.RowsAffected()
			if err != nil {
				return fmt.Errorf("check transaction update rows: %w", err)
			}
			if rows == 0 {
				return sql.ErrNoRows
			}
			if err := insertAuditEntries(ctx, tx, t.Audit); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListApprovals returns the approvals recorded for a transaction.
func (r *TransactionRepository) ListApprovals(ctx context.Context, transactionID string) ([]models.Approval, error) {
	defer r.observe("approvals.list", time.Now())

	const query = `SELECT id, transaction_id, user_id, role, created_at
	FROM transaction_approvals WHERE transaction_id = $1 ORDER BY created_at`
	var approvals []models.Approval
	if err := r.db.SelectContext(ctx, &approvals, query, transactionID); err != nil {
		return nil, fmt.Errorf("list approvals: %w", err)
	}
	return approvals, nil
}

// AddApproval records an approval and its audit entry. A repeat approval by the same user
// returns ErrDuplicateApproval.
func (r *TransactionRepository) AddApproval(ctx context.Context, approval *models.Approval, entry models.AuditLogEntry) error {
	defer r.observe("approvals.create", time.Now())

	if approval.ID == "" {
		approval.ID = uuid.NewString()
	}
	if approval.CreatedAt.IsZero() {
		approval.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO transaction_approvals (id, transaction_id, user_id, role, created_at)
	VALUES (:id, :transaction_id, :user_id, :role, :created_at)
	ON CONFLICT (transaction_id, user_id) DO NOTHING`

	return database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		result, err := tx.NamedExecContext(ctx, query, approval)
		if err != nil {
			return fmt.Errorf("insert approval: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("check approval rows: %w", err)
		}
		if rows == 0 {
			return ErrDuplicateApproval
		}
		return insertAuditEntries(ctx, tx, []models.AuditLogEntry{entry})
	})
}

func pageBounds(limit, offset int) (int, int) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
