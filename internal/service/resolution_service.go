package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
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

// ResolutionService moves exceptions to RESOLVED through a human CORRECT or OVERRIDE.
type ResolutionService struct {
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

// NewResolutionService constructs the service. engine nil uses the default rule catalog.
func NewResolutionService(
	txns transactionStore,
	teams teamStore,
	engine *validation.Engine,
	defaults config.ValidationConfig,
	cache *CacheService,
	metrics *MetricsService,
	validate *validator.Validate,
	logger *zap.Logger,
) *ResolutionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if engine == nil {
		engine = validation.NewEngine(validation.WithLogger(logger), validation.WithSkipObserver(metrics.RecordRuleSkip))
	}
	return &ResolutionService{
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

// Resolve settles an open exception. Authorization runs before any state check that depends on
// severity; the write is a compare-and-swap on EXCEPTION so a concurrent resolve loses with
// ErrStaleState. CORRECT re-validates the corrected data and is refused while violations remain.
func (s *ResolutionService) Resolve(ctx context.Context, actor *models.Principal, req dto.ResolveExceptionRequest) (*models.Transaction, error) {
	if req.Resolution != "" && !req.Resolution.Valid() {
		return nil, appErrors.Clone(appErrors.ErrInvalidResolution, "")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "transactionId, resolution and reason are required")
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "reason is required")
	}

	current, err := loadTransaction(ctx, s.txns, req.TransactionID)
	if err != nil {
		return nil, err
	}
	team, err := loadTeam(ctx, s.teams, current.TeamID)
	if err != nil {
		return nil, err
	}
	if err := policy.Pipeline(policy.TeamAccess(), policy.NotReadOnly())(actor, team); err != nil {
		return nil, err
	}

	outcome, err := lifecycle.Transition(current.Status, lifecycle.EventResolve, false)
	if err != nil {
		return nil, transitionError(err)
	}

	severity := severityOf(current)
	if !severity.Valid() {
		severity = lifecycle.DeriveExceptionSeverity(current.Amount, current.Validation)
	}
	if err := policy.AuthorizeResolution(actor, team, req.Resolution, severity); err != nil {
		s.logger.Info("resolution denied",
			zap.String("transaction_id", current.ID),
			zap.String("role", string(actor.Role)),
			zap.String("resolution", string(req.Resolution)),
			zap.String("severity", string(severity)),
		)
		return nil, err
	}

	now := s.now()
	resolved := clone(current)
	record := &models.ResolutionRecord{
		Type:       req.Resolution,
		ResolvedBy: actor.UserID,
		ResolvedAt: now,
		Reason:     reason,
		Notes:      req.Notes,
	}

	if req.Resolution == models.ResolutionCorrect {
		if err := s.correct(ctx, team, current, resolved, req.CorrectedData, now); err != nil {
			return nil, err
		}
		record.CorrectedData = req.CorrectedData.Changes()
	}

	resolved.Status = outcome.To
	resolved.ExceptionSeverity = &severity
	resolved.Resolution = record
	resolved.ResolvedBy = &actor.UserID
	resolved.ResolvedAt = &now
	resolved.UpdatedAt = now

	action := lifecycle.AuditAction(lifecycle.EventResolve, outcome, false)
	if req.Resolution == models.ResolutionOverride {
		action = models.AuditOverrideException
	}
	entry, err := s.audit.Record(action, actor.UserID, current, resolved, models.AuditMetadata{
		ResolutionType: req.Resolution,
		Reason:         reason,
		Severity:       severity,
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to build audit entry")
	}

	if err := s.txns.ApplyTransitions(ctx, repository.Transition{
		Transaction:    resolved,
		ExpectedStatus: models.StatusException,
		Audit:          []models.AuditLogEntry{entry},
	}); err != nil {
		mapped := persistError(err, s.metrics, "failed to store resolution")
		if errors.Is(mapped, appErrors.ErrStaleState) {
			s.logger.Info("resolution lost race", zap.String("transaction_id", current.ID), zap.String("user_id", actor.UserID))
		}
		return nil, mapped
	}

	s.metrics.RecordResolution(req.Resolution)
	s.cache.InvalidateTeam(ctx, team.ID)
	s.logger.Info("exception resolved",
		zap.String("transaction_id", resolved.ID),
		zap.String("team_id", resolved.TeamID),
		zap.String("resolution", string(req.Resolution)),
		zap.String("severity", string(severity)),
		zap.String("from", string(outcome.From)),
		zap.String("to", string(outcome.To)),
	)
	return resolved, nil
}

// correct applies the corrected data to resolved and requires the result to pass validation.
func (s *ResolutionService) correct(ctx context.Context, team *models.Team, current, resolved *models.Transaction, req *dto.UpdateTransactionRequest, now time.Time) error {
	changes := req.Changes()
	if changes.Empty() {
		return appErrors.Clone(appErrors.ErrValidation, "correctedData is required for CORRECT resolutions")
	}
	if changes.Amount != nil && !changes.Amount.IsPositive() {
		return appErrors.Clone(appErrors.ErrValidation, "amount must be greater than zero")
	}
	if changes.CategoryID != nil && *changes.CategoryID != current.CategoryID {
		if err := ensureCategory(ctx, s.teams, team.ID, *changes.CategoryID); err != nil {
			return err
		}
	}
	changes.ApplyTo(resolved)

	vctx, err := s.loader.load(ctx, team, resolved, now)
	if err != nil {
		return err
	}
	result := s.engine.Validate(resolved, vctx)
	if !result.Compliant {
		return appErrors.WithDetails(
			appErrors.Clone(appErrors.ErrCorrectionIncomplete, ""),
			map[string]interface{}{"violations": result.Violations},
		)
	}
	result.PriorViolations = models.CarryHistory(current.Validation)
	resolved.Validation = &result
	return nil
}
