package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/puckledger/treasury-api/internal/lifecycle"
	"github.com/puckledger/treasury-api/internal/models"
	"github.com/puckledger/treasury-api/internal/repository"
	"github.com/puckledger/treasury-api/internal/validation"
	"github.com/puckledger/treasury-api/pkg/config"
	appErrors "github.com/puckledger/treasury-api/pkg/errors"
)

type transactionStore interface {
	Create(ctx context.Context, txn *models.Transaction, entries ...models.AuditLogEntry) error
	GetByID(ctx context.Context, id string) (*models.Transaction, error)
	List(ctx context.Context, filter models.TransactionFilter) ([]models.Transaction, int, error)
	ListLockable(ctx context.Context, teamID, season string) ([]models.Transaction, error)
	DuplicateCandidates(ctx context.Context, q models.DuplicateQuery) ([]models.Transaction, error)
	ApplyTransitions(ctx context.Context, transitions ...repository.Transition) error
	ListApprovals(ctx context.Context, transactionID string) ([]models.Approval, error)
	AddApproval(ctx context.Context, approval *models.Approval, entry models.AuditLogEntry) error
}

type teamStore interface {
	GetTeam(ctx context.Context, id string) (*models.Team, error)
	GetCategory(ctx context.Context, teamID, categoryID string) (*models.Category, error)
	GetAllocation(ctx context.Context, teamID, categoryID, season, excludeID string) (*models.BudgetAllocation, error)
	HasBudget(ctx context.Context, teamID, season string) (bool, error)
	ListEnvelopes(ctx context.Context, teamID, categoryID, season, excludeID string) ([]models.BudgetEnvelope, error)
}

// contextLoader gathers the read-only inputs of one validation run.
type contextLoader struct {
	txns     transactionStore
	teams    teamStore
	defaults config.ValidationConfig
}

// load fetches category, budget, approvals and duplicate candidates concurrently.
func (l *contextLoader) load(ctx context.Context, team *models.Team, tx *models.Transaction, now time.Time) (validation.Context, error) {
	vctx := validation.Context{
		Now:         now,
		Settings:    validation.SettingsFor(l.defaults, team),
		SeasonStart: team.SeasonStart,
		SeasonEnd:   team.SeasonEnd,
	}

	g, gctx := errgroup.WithContext(ctx)
	if tx.IsExpense() {
		g.Go(func() error {
			category, err := l.teams.GetCategory(gctx, tx.TeamID, tx.CategoryID)
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			vctx.Category = category
			return err
		})
		g.Go(func() error {
			alloc, err := l.teams.GetAllocation(gctx, tx.TeamID, tx.CategoryID, tx.Season, tx.ID)
			vctx.Allocation = alloc
			return err
		})
		g.Go(func() error {
			exists, err := l.teams.HasBudget(gctx, tx.TeamID, tx.Season)
			vctx.HasBudget = exists
			return err
		})
		g.Go(func() error {
			envelopes, err := l.teams.ListEnvelopes(gctx, tx.TeamID, tx.CategoryID, tx.Season, tx.ID)
			vctx.Envelopes = envelopes
			return err
		})
	}
	if tx.ID != "" {
		g.Go(func() error {
			approvals, err := l.txns.ListApprovals(gctx, tx.ID)
			vctx.Approvals = approvals
			return err
		})
	}
	if vctx.Settings.DuplicateDetectionEnabled {
		window := time.Duration(vctx.Settings.DuplicateWindowDays) * 24 * time.Hour
		g.Go(func() error {
			candidates, err := l.txns.DuplicateCandidates(gctx, models.DuplicateQuery{
				TeamID:    tx.TeamID,
				ExcludeID: tx.ID,
				Vendor:    tx.Vendor,
				From:      tx.TransactionDate.Add(-window),
				To:        tx.TransactionDate.Add(window),
			})
			vctx.Candidates = candidates
			return err
		})
	}

	if err := g.Wait(); err != nil {
		return validation.Context{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load validation context")
	}
	return vctx, nil
}

func loadTransaction(ctx context.Context, store transactionStore, id string) (*models.Transaction, error) {
	txn, err := store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "transaction not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load transaction")
	}
	return txn, nil
}

func loadTeam(ctx context.Context, store teamLookup, id string) (*models.Team, error) {
	team, err := store.GetTeam(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "team not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load team")
	}
	return team, nil
}

func ensureCategory(ctx context.Context, store teamStore, teamID, categoryID string) error {
	if _, err := store.GetCategory(ctx, teamID, categoryID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "category not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load category")
	}
	return nil
}

// transitionError maps lifecycle rejections onto conflict responses.
func transitionError(err error) error {
	switch {
	case errors.Is(err, lifecycle.ErrTerminalState):
		return appErrors.Clone(appErrors.ErrTransactionLocked, "")
	case errors.Is(err, lifecycle.ErrNotException):
		return appErrors.Clone(appErrors.ErrInvalidState, "transaction is not an open exception")
	case errors.Is(err, lifecycle.ErrInvalidTransition):
		return appErrors.Clone(appErrors.ErrInvalidState, err.Error())
	}
	return err
}

// persistError maps a lost compare-and-swap onto ErrStaleState.
func persistError(err error, metrics *MetricsService, message string) error {
	if errors.Is(err, sql.ErrNoRows) {
		metrics.RecordConflict()
		return appErrors.Clone(appErrors.ErrStaleState, "")
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, message)
}

// applyVerdict moves txn to the outcome state and refreshes its exception fields. A passing result
// keeps the violations of the one it replaces.
func applyVerdict(txn *models.Transaction, result models.ValidationResult, to models.TransactionStatus) {
	if result.Compliant {
		result.PriorViolations = models.CarryHistory(txn.Validation)
	}
	txn.Validation = &result
	txn.Status = to
	if to == models.StatusException {
		severity := lifecycle.DeriveExceptionSeverity(txn.Amount, &result)
		txn.ExceptionSeverity = &severity
		return
	}
	txn.ExceptionSeverity = nil
}

func validationError(err error, message string) error {
	return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, message)
}

func clone(txn *models.Transaction) *models.Transaction {
	copied := *txn
	return &copied
}
