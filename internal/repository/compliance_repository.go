package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/puckledger/treasury-api/internal/models"
)

// ComplianceRepository reads the transaction history the compliance aggregator summarises.
type ComplianceRepository struct {
	db *sqlx.DB
}

// NewComplianceRepository constructs the repository.
func NewComplianceRepository(db *sqlx.DB) *ComplianceRepository {
	return &ComplianceRepository{db: db}
}

// Rows returns one row per live transaction in scope.
func (r *ComplianceRepository) Rows(ctx context.Context, q models.ComplianceQuery) ([]models.ComplianceRow, error) {
	conditions := []string{"team_id = $1", "deleted_at IS NULL"}
	args := []interface{}{q.TeamID}
	if q.From != nil {
		args = append(args, *q.From)
		conditions = append(conditions, fmt.Sprintf("transaction_date >= $%d", len(args)))
	}
	if q.To != nil {
		args = append(args, *q.To)
		conditions = append(conditions, fmt.Sprintf("transaction_date < $%d", len(args)))
	}

	query := `SELECT status, exception_severity, created_at, resolved_at, validation_json, resolution_json
	FROM transactions WHERE ` + strings.Join(conditions, " AND ")

	var rows []models.ComplianceRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("load compliance rows: %w", err)
	}
	return rows, nil
}

// Trends buckets transactions that were ever flagged as exceptions by creation period.
func (r *ComplianceRepository) Trends(ctx context.Context, teamID string, period models.TrendPeriod, from, to time.Time) ([]models.ExceptionTrendPoint, error) {
	if !period.Valid() {
		return nil, fmt.Errorf("unsupported trend period %q", period)
	}
	const query = `SELECT to_char(date_trunc($2, created_at), 'YYYY-MM-DD') AS period,
       COUNT(*) AS total,
       COUNT(*) FILTER (WHERE status IN ('RESOLVED', 'LOCKED')) AS resolved,
       COUNT(*) FILTER (WHERE status = 'EXCEPTION') AS pending
	FROM transactions
	WHERE team_id = $1 AND deleted_at IS NULL AND exception_severity IS NOT NULL
	  AND created_at >= $3 AND created_at < $4
	GROUP BY 1 ORDER BY 1`

	var points []models.ExceptionTrendPoint
	if err := r.db.SelectContext(ctx, &points, query, teamID, string(period), from, to); err != nil {
		return nil, fmt.Errorf("load exception trends: %w", err)
	}
	return points, nil
}
