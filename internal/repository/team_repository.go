package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/puckledger/treasury-api/internal/models"
)

// settledExpense matches expenses that count toward spend.
const settledExpense = `t.type = 'EXPENSE' AND t.status IN ('VALIDATED', 'RESOLVED', 'LOCKED') AND t.deleted_at IS NULL`

// TeamRepository reads team settings and the budget data maintained outside this service.
type TeamRepository struct {
	db *sqlx.DB
}

// NewTeamRepository constructs the repository.
func NewTeamRepository(db *sqlx.DB) *TeamRepository {
	return &TeamRepository{db: db}
}

// GetTeam loads a team with its association's overrides.
func (r *TeamRepository) GetTeam(ctx context.Context, id string) (*models.Team, error) {
	const query = `SELECT t.id, t.name, t.association_id, t.season, t.season_start, t.season_end,
       t.receipt_threshold, t.dual_approval_threshold, t.duplicate_detection_enabled,
       t.duplicate_window_days, t.overrun_tolerance_percent,
       a.receipt_threshold_override AS assoc_receipt_threshold,
       a.dual_approval_threshold_override AS assoc_dual_approval_threshold,
       a.overrun_tolerance_percent AS assoc_overrun_tolerance_percent,
       a.allow_team_override AS assoc_allow_team_override,
       a.receipts_enabled AS assoc_receipts_enabled,
       a.receipt_grace_period_days AS assoc_receipt_grace_period_days,
       a.category_thresholds_enabled AS assoc_category_thresholds_enabled,
       a.cash_like_requires_review AS assoc_cash_like_requires_review,
       a.transaction_amount_limit AS assoc_transaction_amount_limit
	FROM teams t LEFT JOIN associations a ON a.id = t.association_id
	WHERE t.id = $1`
	var team models.Team
	if err := r.db.GetContext(ctx, &team, query, id); err != nil {
		return nil, err
	}
	return &team, nil
}

// GetCategory loads a category only if it belongs to the team.
func (r *TeamRepository) GetCategory(ctx context.Context, teamID, categoryID string) (*models.Category, error) {
	const query = `SELECT id, team_id, name, receipt_exempt, receipt_threshold
	FROM categories WHERE id = $1 AND team_id = $2`
	var category models.Category
	if err := r.db.GetContext(ctx, &category, query, categoryID, teamID); err != nil {
		return nil, err
	}
	return &category, nil
}

// GetAllocation returns the season allocation for a category with spend excluding excludeID.
// A missing allocation is (nil, nil).
func (r *TeamRepository) GetAllocation(ctx context.Context, teamID, categoryID, season, excludeID string) (*models.BudgetAllocation, error) {
	query := `SELECT a.id, a.team_id, a.category_id, a.season, a.allocated,
       COALESCE((SELECT SUM(t.amount) FROM transactions t
                 WHERE t.team_id = a.team_id AND t.category_id = a.category_id AND t.season = a.season
                   AND ` + settledExpense + ` AND t.id <> $4), 0) AS spent
	FROM budget_allocations a
	WHERE a.team_id = $1 AND a.category_id = $2 AND a.season = $3`
	var alloc models.BudgetAllocation
	if err := r.db.GetContext(ctx, &alloc, query, teamID, categoryID, season, excludeID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get budget allocation: %w", err)
	}
	return &alloc, nil
}

// HasBudget reports whether the team has approved any allocation for the season.
func (r *TeamRepository) HasBudget(ctx context.Context, teamID, season string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM budget_allocations WHERE team_id = $1 AND season = $2)`
	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, teamID, season); err != nil {
		return false, fmt.Errorf("check budget: %w", err)
	}
	return exists, nil
}

// ListEnvelopes returns the category's envelopes with their current spend excluding excludeID.
func (r *TeamRepository) ListEnvelopes(ctx context.Context, teamID, categoryID, season, excludeID string) ([]models.BudgetEnvelope, error) {
	query := `SELECT e.id, e.team_id, e.category_id, e.season, e.vendor_match, e.cap_amount, e.max_single_transaction,
       COALESCE((SELECT SUM(t.amount) FROM transactions t
                 WHERE t.team_id = e.team_id AND t.category_id = e.category_id AND t.season = e.season
                   AND ` + settledExpense + ` AND t.id <> $4
                   AND (e.vendor_match IS NULL OR t.vendor ILIKE '%' || e.vendor_match || '%')), 0) AS spent
	FROM budget_envelopes e
	WHERE e.team_id = $1 AND e.category_id = $2 AND e.season = $3
	ORDER BY e.vendor_match NULLS LAST`
	var envelopes []models.BudgetEnvelope
	if err := r.db.SelectContext(ctx, &envelopes, query, teamID, categoryID, season, excludeID); err != nil {
		return nil, fmt.Errorf("list budget envelopes: %w", err)
	}
	return envelopes, nil
}
