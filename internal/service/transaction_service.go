package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/puckledger/treasury-api/internal/dto"
	"github.com/puckledger/treasury-api/internal/lifecycle"
	"github.com/puckledger/treasury-api/internal/models"
	"github.com/puckledger/treasury-api/internal/policy"
	"github.com/puckledger/treasury-api/internal/repository"
	"github.com/puckledger/treasury-api/internal/validation"
	"github.com/puckledger/treasury-api/pkg/config"
	appErrors "github.com/puckledger/treasury-api/pkg/errors"
)

// TransactionService submits, edits, re-validates, approves and locks transactions.
type TransactionService struct {
	txns      transactionStore
	teams     teamStore
	engine    *validation.Engine
	loader    *contextLoader
	audit     *AuditTrail
	cache     *CacheService
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewTransactionService constructs the service. engine nil uses the default rule catalog.
func NewTransactionService(
	txns transactionStore,
	teams teamStore,
	engine *validation.Engine,
	defaults config.ValidationConfig,
	cache *CacheService,
	metrics *MetricsService,
	validate *validator.Validate,
	logger *zap.Logger,
) *TransactionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if engine == nil {
		engine = validation.NewEngine(validation.WithLogger(logger), validation.WithSkipObserver(metrics.RecordRuleSkip))
	}
	return &TransactionService{
		txns:      txns,
		teams:     teams,
		engine:    engine,
		loader:    &contextLoader{txns: txns, teams: teams, defaults: defaults},
		audit:     NewAuditTrail(),
		cache:     cache,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Submit validates and stores a single manually entered transaction.
func (s *TransactionService) Submit(ctx context.Context, actor *models.Principal, req dto.SubmitTransactionRequest) (*models.Transaction, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid transaction payload")
	}
	team, err := loadTeam(ctx, s.teams, req.TeamID)
	if err != nil {
		return nil, err
	}
	if err := policy.AuthorizeTransactionCreate(actor, team); err != nil {
		return nil, err
	}

	txn, err := s.create(ctx, actor, team, req.TransactionDraft, models.SourceManual)
	if err != nil {
		return nil, err
	}
	s.cache.InvalidateTeam(ctx, team.ID)
	return txn, nil
}

// Import stores each draft independently. A failed item never blocks the others.
func (s *TransactionService) Import(ctx context.Context, actor *models.Principal, req dto.ImportTransactionsRequest) (*dto.ImportSummary, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid import payload")
	}
	team, err := loadTeam(ctx, s.teams, req.TeamID)
	if err != nil {
		return nil, err
	}
	if err := policy.AuthorizeTransactionCreate(actor, team); err != nil {
		return nil, err
	}

	summary := &dto.ImportSummary{Results: make([]dto.ImportResult, 0, len(req.Items))}
	for i, draft := range req.Items {
		txn, err := s.create(ctx, actor, team, draft, models.SourceImport)
		if err != nil {
			s.logger.Warn("import item rejected", zap.String("team_id", team.ID), zap.Int("index", i), zap.Error(err))
			summary.Failed++
			summary.Results = append(summary.Results, dto.ImportResult{Index: i, Error: appErrors.FromError(err)})
			continue
		}
		summary.Imported++
		summary.Results = append(summary.Results, dto.ImportResult{Index: i, Transaction: txn})
	}
	if summary.Imported > 0 {
		s.cache.InvalidateTeam(ctx, team.ID)
	}
	return summary, nil
}

func (s *TransactionService) create(ctx context.Context, actor *models.Principal, team *models.Team, draft dto.TransactionDraft, source models.TransactionSource) (*models.Transaction, error) {
	if !draft.Amount.IsPositive() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "amount must be greater than zero")
	}
	if draft.TransactionDate.IsZero() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "transactionDate is required")
	}
	if err := ensureCategory(ctx, s.teams, team.ID, draft.CategoryID); err != nil {
		return nil, err
	}

	now := s.now()
	txn := &models.Transaction{
		TeamID:          team.ID,
		Type:            draft.Type,
		Amount:          draft.Amount,
		Vendor:          strings.TrimSpace(draft.Vendor),
		Description:     draft.Description,
		TransactionDate: draft.TransactionDate.UTC(),
		CategoryID:      draft.CategoryID,
		ReceiptURL:      draft.ReceiptURL,
		Status:          models.StatusImported,
		Source:          source,
		Season:          team.Season,
		CreatedBy:       actor.UserID,
		CreatedAt:       now,
	}

	vctx, err := s.loader.load(ctx, team, txn, now)
	if err != nil {
		return nil, err
	}
	result := s.engine.Validate(txn, vctx)
	outcome, err := lifecycle.Transition(txn.Status, lifecycle.EventValidate, result.Compliant)
	if err != nil {
		return nil, transitionError(err)
	}

	txn.ID = uuid.NewString()
	imported := clone(txn)
	applyVerdict(txn, result, outcome.To)

	entry, err := s.audit.Record(lifecycle.AuditAction(lifecycle.EventValidate, outcome, false), actor.UserID, imported, txn,
		models.AuditMetadata{Severity: severityOf(txn)})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to build audit entry")
	}
	if err := s.txns.Create(ctx, txn, entry); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store transaction")
	}

	s.metrics.RecordValidation(txn.Status)
	s.logger.Info("transaction validated",
		zap.String("transaction_id", txn.ID),
		zap.String("team_id", txn.TeamID),
		zap.String("from", string(outcome.From)),
		zap.String("to", string(outcome.To)),
		zap.Int("score", result.Score),
	)
	return txn, nil
}

// Get returns a transaction the actor can read.
func (s *TransactionService) Get(ctx context.Context, actor *models.Principal, id string) (*models.Transaction, error) {
	txn, err := loadTransaction(ctx, s.txns, id)
	if err != nil {
		return nil, err
	}
	team, err := loadTeam(ctx, s.teams, txn.TeamID)
	if err != nil {
		return nil, err
	}
	if err := policy.AuthorizeRead(actor, team); err != nil {
		return nil, err
	}
	return txn, nil
}

// List returns a page of a team's transactions.
func (s *TransactionService) List(ctx context.Context, actor *models.Principal, filter models.TransactionFilter) ([]models.Transaction, int, error) {
	team, err := loadTeam(ctx, s.teams, filter.TeamID)
	if err != nil {
		return nil, 0, err
	}
	if err := policy.AuthorizeRead(actor, team); err != nil {
		return nil, 0, err
	}
	txns, total, err := s.txns.List(ctx, filter)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list transactions")
	}
	return txns, total, nil
}

// Edit changes transaction data and re-validates it in the same write.
func (s *TransactionService) Edit(ctx context.Context, actor *models.Principal, id string, req dto.UpdateTransactionRequest) (*models.Transaction, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid transaction update")
	}
	changes := req.Changes()
	if changes.Empty() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "no fields to update")
	}
	if changes.Amount != nil && !changes.Amount.IsPositive() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "amount must be greater than zero")
	}

	current, team, err := s.loadForWrite(ctx, actor, id, policy.AuthorizeTransactionEdit)
	if err != nil {
		return nil, err
	}
	if err := lifecycle.CanEdit(current.Status); err != nil {
		return nil, transitionError(err)
	}
	if changes.CategoryID != nil && *changes.CategoryID != current.CategoryID {
		if err := ensureCategory(ctx, s.teams, team.ID, *changes.CategoryID); err != nil {
			return nil, err
		}
	}

	updated := clone(current)
	changes.ApplyTo(updated)
	return s.reevaluate(ctx, actor, team, current, updated, true)
}

// Revalidate re-runs the rules against current data. A now-compliant exception is auto-cleared.
func (s *TransactionService) Revalidate(ctx context.Context, actor *models.Principal, id string) (*models.Transaction, error) {
	current, team, err := s.loadForWrite(ctx, actor, id, policy.AuthorizeTransactionEdit)
	if err != nil {
		return nil, err
	}
	return s.reevaluate(ctx, actor, team, current, clone(current), false)
}

func (s *TransactionService) loadForWrite(ctx context.Context, actor *models.Principal, id string, authorize policy.Check) (*models.Transaction, *models.Team, error) {
	current, err := loadTransaction(ctx, s.txns, id)
	if err != nil {
		return nil, nil, err
	}
	team, err := loadTeam(ctx, s.teams, current.TeamID)
	if err != nil {
		return nil, nil, err
	}
	if err := authorize(actor, team); err != nil {
		return nil, nil, err
	}
	return current, team, nil
}

func (s *TransactionService) reevaluate(ctx context.Context, actor *models.Principal, team *models.Team, current, updated *models.Transaction, edited bool) (*models.Transaction, error) {
	now := s.now()
	vctx, err := s.loader.load(ctx, team, updated, now)
	if err != nil {
		return nil, err
	}
	result := s.engine.Validate(updated, vctx)
	outcome, err := lifecycle.Transition(current.Status, lifecycle.EventRevalidate, result.Compliant)
	if err != nil {
		return nil, transitionError(err)
	}

	applyVerdict(updated, result, outcome.To)
	updated.UpdatedAt = now

	actorID := ""
	if actor != nil {
		actorID = actor.UserID
	}
	action := lifecycle.AuditAction(lifecycle.EventRevalidate, outcome, edited)
	entry, err := s.audit.Record(action, actorID, current, updated, models.AuditMetadata{
		AutoCleared: outcome.AutoCleared,
		Severity:    severityOf(updated),
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to build audit entry")
	}

	if err := s.txns.ApplyTransitions(ctx, repository.Transition{
		Transaction:    updated,
		ExpectedStatus: current.Status,
		Audit:          []models.AuditLogEntry{entry},
	}); err != nil {
		return nil, persistError(err, s.metrics, "failed to store validation result")
	}

	s.metrics.RecordValidation(updated.Status)
	s.cache.InvalidateTeam(ctx, team.ID)
	s.logger.Info("transaction revalidated",
		zap.String("transaction_id", updated.ID),
		zap.String("team_id", updated.TeamID),
		zap.String("from", string(outcome.From)),
		zap.String("to", string(outcome.To)),
		zap.String("action", string(action)),
	)
	return updated, nil
}

// Delete soft-deletes a transaction that has not been settled.
func (s *TransactionService) Delete(ctx context.Context, actor *models.Principal, id string) error {
	current, team, err := s.loadForWrite(ctx, actor, id, policy.AuthorizeTransactionDelete)
	if err != nil {
		return err
	}
	if err := lifecycle.CanEdit(current.Status); err != nil {
		return transitionError(err)
	}

	now := s.now()
	deleted := clone(current)
	deleted.DeletedAt = &now
	deleted.UpdatedAt = now

	entry, err := s.audit.Record(models.AuditTransactionDeleted, actor.UserID, current, nil, models.AuditMetadata{})
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to build audit entry")
	}
	if err := s.txns.ApplyTransitions(ctx, repository.Transition{
		Transaction:    deleted,
		ExpectedStatus: current.Status,
		Audit:          []models.AuditLogEntry{entry},
	}); err != nil {
		return persistError(err, s.metrics, "failed to delete transaction")
	}

	s.cache.InvalidateTeam(ctx, team.ID)
	s.logger.Info("transaction deleted", zap.String("transaction_id", id), zap.String("team_id", team.ID))
	return nil
}

// Approve records the actor's approval and re-validates transactions still awaiting a verdict.
func (s *TransactionService) Approve(ctx context.Context, actor *models.Principal, id string) (*models.Transaction, error) {
	current, err := loadTransaction(ctx, s.txns, id)
	if err != nil {
		return nil, err
	}
	team, err := loadTeam(ctx, s.teams, current.TeamID)
	if err != nil {
		return nil, err
	}
	if err := policy.AuthorizeApproval(actor, team); err != nil {
		return nil, err
	}
	if current.Status == models.StatusLocked {
		return nil, appErrors.Clone(appErrors.ErrTransactionLocked, "")
	}

	approval := &models.Approval{TransactionID: current.ID, UserID: actor.UserID, Role: actor.Role, CreatedAt: s.now()}
	entry, err := s.audit.Record(models.AuditTransactionApproved, actor.UserID, nil, current, models.AuditMetadata{ApproverRole: actor.Role})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to build audit entry")
	}
	if err := s.txns.AddApproval(ctx, approval, entry); err != nil {
		if errors.Is(err, repository.ErrDuplicateApproval) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "you have already approved this transaction")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record approval")
	}

	if current.Status != models.StatusImported && current.Status != models.StatusException {
		return current, nil
	}
	return s.reevaluate(ctx, actor, team, current, clone(current), false)
}

// LockSeason closes a season: every VALIDATED or RESOLVED transaction becomes LOCKED in one write.
func (s *TransactionService) LockSeason(ctx context.Context, actor *models.Principal, teamID string, req dto.LockSeasonRequest) (*dto.LockSeasonResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid season lock payload")
	}
	team, err := loadTeam(ctx, s.teams, teamID)
	if err != nil {
		return nil, err
	}
	if err := policy.AuthorizeSeasonLock(actor, team); err != nil {
		return nil, err
	}
	season := strings.TrimSpace(req.Season)
	if season == "" {
		season = team.Season
	}

	lockable, err := s.txns.ListLockable(ctx, team.ID, season)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load season transactions")
	}

	now := s.now()
	transitions := make([]repository.Transition, 0, len(lockable))
	ids := make([]string, 0, len(lockable))
	for i := range lockable {
		current := &lockable[i]
		outcome, err := lifecycle.Transition(current.Status, lifecycle.EventLock, true)
		if err != nil {
			return nil, transitionError(err)
		}
		locked := clone(current)
		locked.Status = outcome.To
		locked.UpdatedAt = now

		entry, err := s.audit.Record(lifecycle.AuditAction(lifecycle.EventLock, outcome, false), actor.UserID, current, locked, models.AuditMetadata{})
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to build audit entry")
		}
		transitions = append(transitions, repository.Transition{
			Transaction:    locked,
			ExpectedStatus: current.Status,
			Audit:          []models.AuditLogEntry{entry},
		})
		ids = append(ids, current.ID)
	}

	if len(transitions) > 0 {
		if err := s.txns.ApplyTransitions(ctx, transitions...); err != nil {
			return nil, persistError(err, s.metrics, "failed to lock season")
		}
		s.cache.InvalidateTeam(ctx, team.ID)
	}

	_, open, err := s.txns.List(ctx, models.TransactionFilter{
		TeamID: team.ID,
		Status: []models.TransactionStatus{models.StatusException},
		Limit:  1,
	})
	if err != nil {
		s.logger.Warn("failed to count open exceptions", zap.String("team_id", team.ID), zap.Error(err))
	}

	s.logger.Info("season locked", zap.String("team_id", team.ID), zap.String("season", season), zap.Int("locked", len(ids)))
	return &dto.LockSeasonResult{TeamID: team.ID, Season: season, Locked: len(ids), TransactionIDs: ids, OpenExceptions: open}, nil
}

func severityOf(txn *models.Transaction) models.ExceptionSeverity {
	if txn.ExceptionSeverity == nil {
		return ""
	}
	return *txn.ExceptionSeverity
}
