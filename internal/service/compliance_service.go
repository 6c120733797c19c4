package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/puckledger/treasury-api/internal/models"
	"github.com/puckledger/treasury-api/internal/policy"
	"github.com/puckledger/treasury-api/pkg/config"
	appErrors "github.com/puckledger/treasury-api/pkg/errors"
)

type complianceStore interface {
	Rows(ctx context.Context, q models.ComplianceQuery) ([]models.ComplianceRow, error)
	Trends(ctx context.Context, teamID string, period models.TrendPeriod, from, to time.Time) ([]models.ExceptionTrendPoint, error)
}

type auditReader interface {
	List(ctx context.Context, filter models.AuditFilter) ([]models.AuditLogEntry, int, error)
	ListByEntity(ctx context.Context, entityID string) ([]models.AuditLogEntry, error)
}

type teamLookup interface {
	GetTeam(ctx context.Context, id string) (*models.Team, error)
}

// ComplianceService serves team-level compliance summaries, exception trends and the audit log.
type ComplianceService struct {
	store  complianceStore
	audit  auditReader
	teams  teamLookup
	cache  *CacheService
	config config.ComplianceConfig
	logger *zap.Logger
	now    func() time.Time
}

// NewComplianceService constructs the service.
func NewComplianceService(store complianceStore, audit auditReader, teams teamLookup, cache *CacheService, cfg config.ComplianceConfig, logger *zap.Logger) *ComplianceService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ComplianceService{
		store:  store,
		audit:  audit,
		teams:  teams,
		cache:  cache,
		config: cfg,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Summarize returns the compliance report of a team. The bool reports a cache hit. A team with no
// transactions yields a vacuous 100% report, never an error.
func (s *ComplianceService) Summarize(ctx context.Context, actor *models.Principal, q models.ComplianceQuery) (*models.ComplianceReport, bool, error) {
	if err := s.authorize(ctx, actor, q.TeamID); err != nil {
		return nil, false, err
	}
	if q.From != nil && q.To != nil && !q.From.Before(*q.To) {
		return nil, false, appErrors.Clone(appErrors.ErrValidation, "from must be before to")
	}

	key := ComplianceKey(q.TeamID, "summary", dateKey(q.From), dateKey(q.To))
	var cached models.ComplianceReport
	if hit, _ := s.cache.Get(ctx, key, &cached); hit {
		return &cached, true, nil
	}

	rows, err := s.store.Rows(ctx, q)
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load compliance data")
	}
	report := BuildComplianceReport(q, rows, s.config.TopViolations, s.now())
	_ = s.cache.Set(ctx, key, report, s.config.CacheTTL)
	return &report, false, nil
}

// Trends buckets exceptions raised between from and to. Zero bounds default to the last 90 days.
func (s *ComplianceService) Trends(ctx context.Context, actor *models.Principal, teamID string, period models.TrendPeriod, from, to time.Time) ([]models.ExceptionTrendPoint, bool, error) {
	if err := s.authorize(ctx, actor, teamID); err != nil {
		return nil, false, err
	}
	if period == "" {
		period = models.TrendWeek
	}
	if !period.Valid() {
		return nil, false, appErrors.Clone(appErrors.ErrValidation, "period must be day, week or month")
	}
	if to.IsZero() {
		to = s.now()
	}
	if from.IsZero() {
		from = to.AddDate(0, 0, -90)
	}
	if !from.Before(to) {
		return nil, false, appErrors.Clone(appErrors.ErrValidation, "from must be before to")
	}

	key := ComplianceKey(teamID, "trends", string(period), from.Format("2006-01-02"), to.Format("2006-01-02"))
	var cached []models.ExceptionTrendPoint
	if hit, _ := s.cache.Get(ctx, key, &cached); hit {
		return cached, true, nil
	}

	points, err := s.store.Trends(ctx, teamID, period, from, to)
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load exception trends")
	}
	if points == nil {
		points = []models.ExceptionTrendPoint{}
	}
	_ = s.cache.Set(ctx, key, points, s.config.CacheTTL)
	return points, false, nil
}

// AuditLogs pages through a team's audit trail.
func (s *ComplianceService) AuditLogs(ctx context.Context, actor *models.Principal, filter models.AuditFilter) ([]models.AuditLogEntry, int, error) {
	if err := s.authorize(ctx, actor, filter.TeamID); err != nil {
		return nil, 0, err
	}
	entries, total, err := s.audit.List(ctx, filter)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load audit logs")
	}
	return entries, total, nil
}

// TransactionHistory returns every audit entry of one transaction, oldest first.
func (s *ComplianceService) TransactionHistory(ctx context.Context, actor *models.Principal, teamID, transactionID string) ([]models.AuditLogEntry, error) {
	if err := s.authorize(ctx, actor, teamID); err != nil {
		return nil, err
	}
	entries, err := s.audit.ListByEntity(ctx, transactionID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load transaction history")
	}
	scoped := entries[:0]
	for _, e := range entries {
		if e.TeamID == teamID {
			scoped = append(scoped, e)
		}
	}
	return scoped, nil
}

func (s *ComplianceService) authorize(ctx context.Context, actor *models.Principal, teamID string) error {
	if teamID == "" {
		return appErrors.Clone(appErrors.ErrValidation, "teamId is required")
	}
	team, err := loadTeam(ctx, s.teams, teamID)
	if err != nil {
		return err
	}
	return policy.AuthorizeRead(actor, team)
}

func dateKey(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format("2006-01-02")
}
