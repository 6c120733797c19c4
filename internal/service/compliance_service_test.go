package service

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/puckledger/treasury-api/internal/dto"
	"github.com/puckledger/treasury-api/internal/models"
	"github.com/puckledger/treasury-api/pkg/config"
	appErrors "github.com/puckledger/treasury-api/pkg/errors"
)

type complianceStoreStub struct {
	rows      []models.ComplianceRow
	points    []models.ExceptionTrendPoint
	rowCalls  int
	lastFrom  time.Time
	lastTo    time.Time
	lastTrend models.TrendPeriod
}

func (s *complianceStoreStub) Rows(context.Context, models.ComplianceQuery) ([]models.ComplianceRow, error) {
	s.rowCalls++
	return s.rows, nil
}

func (s *complianceStoreStub) Trends(_ context.Context, _ string, period models.TrendPeriod, from, to time.Time) ([]models.ExceptionTrendPoint, error) {
	s.lastTrend, s.lastFrom, s.lastTo = period, from, to
	return s.points, nil
}

type auditReaderStub struct {
	entries []models.AuditLogEntry
	filter  models.AuditFilter
}

func (a *auditReaderStub) List(_ context.Context, filter models.AuditFilter) ([]models.AuditLogEntry, int, error) {
	a.filter = filter
	return a.entries, len(a.entries), nil
}

func (a *auditReaderStub) ListByEntity(context.Context, string) ([]models.AuditLogEntry, error) {
	return append([]models.AuditLogEntry(nil), a.entries...), nil
}

// memoryCache stores JSON documents the way the Redis repository does.
type memoryCache struct {
	items   map[string][]byte
	deleted []string
}

func newMemoryCache() *memoryCache {
	return &memoryCache{items: map[string][]byte{}}
}

func (m *memoryCache) Get(_ context.Context, key string, dest interface{}) error {
	raw, ok := m.items[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (m *memoryCache) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.items[key] = raw
	return nil
}

func (m *memoryCache) DeleteByPattern(_ context.Context, pattern string) error {
	prefix := strings.TrimSuffix(pattern, "*")
	for key := range m.items {
		if strings.HasPrefix(key, prefix) {
			delete(m.items, key)
		}
	}
	m.deleted = append(m.deleted, pattern)
	return nil
}

func newComplianceHarness(t *testing.T, cache *CacheService) (*ComplianceService, *complianceStoreStub, *auditReaderStub) {
	t.Helper()
	store := &complianceStoreStub{}
	audit := &auditReaderStub{}
	svc := NewComplianceService(store, audit, newFakeTeamStore(), cache, config.ComplianceConfig{TopViolations: 5}, zap.NewNop())
	svc.now = func() time.Time { return refNow }
	return svc, store, audit
}

func TestSummarizeEmptyTeamIsFullyCompliant(t *testing.T) {
	svc, _, _ := newComplianceHarness(t, nil)

	report, hit, err := svc.Summarize(context.Background(), treasurer, models.ComplianceQuery{TeamID: "team-1"})
	require.NoError(t, err)

	assert.False(t, hit)
	assert.Equal(t, 0, report.TotalTransactions)
	assert.Equal(t, float64(100), report.ComplianceRate)
	assert.Equal(t, 0, report.ExceptionsBySeverity[models.SeverityCritical])
	assert.Empty(t, report.TopViolations)
}

func TestSummarizeCachesReport(t *testing.T) {
	repo := newMemoryCache()
	metrics := NewMetricsService()
	cache := NewCacheService(repo, metrics, time.Minute, zap.NewNop(), true)
	svc, store, _ := newComplianceHarness(t, cache)
	store.rows = []models.ComplianceRow{{Status: models.StatusValidated, CreatedAt: refNow}}

	first, hit, err := svc.Summarize(context.Background(), treasurer, models.ComplianceQuery{TeamID: "team-1"})
	require.NoError(t, err)
	assert.False(t, hit)

	second, hit, err := svc.Summarize(context.Background(), treasurer, models.ComplianceQuery{TeamID: "team-1"})
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, first.ComplianceRate, second.ComplianceRate)
	assert.Equal(t, 1, store.rowCalls)
	assert.Contains(t, repo.items, "compliance:team-1:summary:-:-")

	cache.InvalidateTeam(context.Background(), "team-1")
	assert.Empty(t, repo.items)
	assert.Equal(t, uint64(1), metrics.Snapshot().CacheHits)
}

func TestSummarizeRejectsInvertedRange(t *testing.T) {
	svc, _, _ := newComplianceHarness(t, nil)
	from := refNow
	to := refNow.AddDate(0, 0, -1)

	_, _, err := svc.Summarize(context.Background(), treasurer, models.ComplianceQuery{TeamID: "team-1", From: &from, To: &to})
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestSummarizeRequiresTeamAccess(t *testing.T) {
	svc, _, _ := newComplianceHarness(t, nil)

	_, _, err := svc.Summarize(context.Background(), outsider, models.ComplianceQuery{TeamID: "team-1"})
	assert.ErrorIs(t, err, appErrors.ErrNoTeamAccess)
}

func TestAssociationViewerCanReadCompliance(t *testing.T) {
	svc, _, _ := newComplianceHarness(t, nil)

	_, _, err := svc.Summarize(context.Background(), assocView, models.ComplianceQuery{TeamID: "team-1"})
	assert.NoError(t, err)
}

func TestAssociationViewerWithoutMembershipCanReadCompliance(t *testing.T) {
	svc, _, audit := newComplianceHarness(t, nil)
	ctx := context.Background()

	_, _, err := svc.Summarize(ctx, auditor, models.ComplianceQuery{TeamID: "team-1"})
	assert.NoError(t, err)
	_, _, err = svc.AuditLogs(ctx, auditor, models.AuditFilter{TeamID: "team-1"})
	assert.NoError(t, err)
	assert.Equal(t, "team-1", audit.filter.TeamID)

	_, _, err = svc.Summarize(ctx, foreign, models.ComplianceQuery{TeamID: "team-1"})
	assert.ErrorIs(t, err, appErrors.ErrNoTeamAccess)
}

func TestBuildComplianceReport(t *testing.T) {
	low, high := models.SeverityLow, models.SeverityHigh
	resolvedAfter := func(h int) *time.Time {
		at := refNow.Add(time.Duration(h) * time.Hour)
		return &at
	}
	receipt := models.JSONB(`{"violations":[{"code":"MISSING_RECEIPT","severity":"ERROR","message":"Receipt required"}]}`)
	both := models.JSONB(`{"violations":[{"code":"MISSING_RECEIPT","severity":"ERROR","message":"Receipt required"},{"code":"THRESHOLD_BREACH","severity":"ERROR","message":"Two approvals"}]}`)

	rows := []models.ComplianceRow{
		{Status: models.StatusValidated, CreatedAt: refNow},
		{Status: models.StatusLocked, CreatedAt: refNow},
		{Status: models.StatusException, ExceptionSeverity: &low, CreatedAt: refNow, ValidationJSON: receipt},
		{Status: models.StatusResolved, ExceptionSeverity: &high, CreatedAt: refNow, ResolvedAt: resolvedAfter(2),
			ValidationJSON: both, ResolutionJSON: models.JSONB(`{"type":"OVERRIDE"}`)},
		{Status: models.StatusResolved, ExceptionSeverity: &low, CreatedAt: refNow, ResolvedAt: resolvedAfter(4),
			ValidationJSON: receipt, ResolutionJSON: models.JSONB(`{"type":"CORRECT"}`)},
		{Status: models.StatusResolved, ExceptionSeverity: &low, CreatedAt: refNow, ResolvedAt: resolvedAfter(9),
			ResolutionJSON: models.JSONB(`{"type":"CORRECT"}`)},
	}

	report := BuildComplianceReport(models.ComplianceQuery{TeamID: "team-1"}, rows, 1, refNow)

	assert.Equal(t, 6, report.TotalTransactions)
	assert.Equal(t, 5, report.CompliantCount)
	assert.Equal(t, 83.3, report.ComplianceRate)
	assert.Equal(t, 3, report.ExceptionsBySeverity[models.SeverityLow])
	assert.Equal(t, 1, report.ExceptionsBySeverity[models.SeverityHigh])
	assert.Equal(t, 0, report.ExceptionsBySeverity[models.SeverityMedium])
	assert.Equal(t, 5.0, report.AverageResolutionHours)
	assert.Equal(t, 4.0, report.MedianResolutionHours)
	assert.Equal(t, 2, report.ResolutionsByType[models.ResolutionCorrect])
	assert.Equal(t, 1, report.ResolutionsByType[models.ResolutionOverride])
	require.Len(t, report.TopViolations, 1)
	assert.Equal(t, models.CodeMissingReceipt, report.TopViolations[0].Code)
	assert.Equal(t, 3, report.TopViolations[0].Count)
}

// complianceRowOf projects a stored transaction the way the compliance query does.
func complianceRowOf(t *testing.T, txn models.Transaction) models.ComplianceRow {
	t.Helper()
	row := models.ComplianceRow{
		Status:            txn.Status,
		ExceptionSeverity: txn.ExceptionSeverity,
		CreatedAt:         txn.CreatedAt,
		ResolvedAt:        txn.ResolvedAt,
	}
	if txn.Validation != nil {
		raw, err := json.Marshal(txn.Validation)
		require.NoError(t, err)
		row.ValidationJSON = raw
	}
	if txn.Resolution != nil {
		raw, err := json.Marshal(txn.Resolution)
		require.NoError(t, err)
		row.ResolutionJSON = raw
	}
	return row
}

func TestCorrectedExceptionsStillCountTowardTopViolations(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	submitted, err := h.transaction.Submit(ctx, treasurer, dto.SubmitTransactionRequest{TeamID: "team-1", TransactionDraft: draft("150")})
	require.NoError(t, err)
	require.Equal(t, models.StatusException, submitted.Status)

	resolved, err := h.resolution.Resolve(ctx, treasurer, dto.ResolveExceptionRequest{
		TransactionID: submitted.ID,
		Resolution:    models.ResolutionCorrect,
		Reason:        "Receipt located",
		CorrectedData: &dto.UpdateTransactionRequest{ReceiptURL: strPtr("https://files.example.com/receipt.pdf")},
	})
	require.NoError(t, err)
	require.True(t, resolved.Validation.Compliant)
	assert.Empty(t, resolved.Validation.Violations)

	svc, store, _ := newComplianceHarness(t, nil)
	stored, err := h.txns.GetByID(ctx, submitted.ID)
	require.NoError(t, err)
	store.rows = []models.ComplianceRow{complianceRowOf(t, *stored)}

	report, _, err := svc.Summarize(ctx, treasurer, models.ComplianceQuery{TeamID: "team-1"})
	require.NoError(t, err)

	require.Len(t, report.TopViolations, 1)
	assert.Equal(t, models.CodeMissingReceipt, report.TopViolations[0].Code)
	assert.Equal(t, 1, report.TopViolations[0].Count)
	assert.Equal(t, 1, report.ResolutionsByType[models.ResolutionCorrect])
}

func TestAutoClearedExceptionsStillCountTowardTopViolations(t *testing.T) {
	h := newHarness(t)
	h.seedException("tx-1", "150", models.SeverityLow)
	ctx := context.Background()

	_, err := h.transaction.Edit(ctx, treasurer, "tx-1", dto.UpdateTransactionRequest{ReceiptURL: strPtr("https://files.example.com/r.pdf")})
	require.NoError(t, err)
	_, err = h.transaction.Edit(ctx, treasurer, "tx-1", dto.UpdateTransactionRequest{Vendor: strPtr("Ice Arena North")})
	require.NoError(t, err)

	stored, err := h.txns.GetByID(ctx, "tx-1")
	require.NoError(t, err)
	require.Equal(t, models.StatusValidated, stored.Status)

	report := BuildComplianceReport(models.ComplianceQuery{TeamID: "team-1"}, []models.ComplianceRow{complianceRowOf(t, *stored)}, 5, refNow)
	require.Len(t, report.TopViolations, 1)
	assert.Equal(t, models.CodeMissingReceipt, report.TopViolations[0].Code)
}

func TestTrendsDefaults(t *testing.T) {
	svc, store, _ := newComplianceHarness(t, nil)

	points, hit, err := svc.Trends(context.Background(), treasurer, "team-1", "", time.Time{}, time.Time{})
	require.NoError(t, err)

	assert.False(t, hit)
	assert.NotNil(t, points)
	assert.Equal(t, models.TrendWeek, store.lastTrend)
	assert.Equal(t, refNow, store.lastTo)
	assert.Equal(t, refNow.AddDate(0, 0, -90), store.lastFrom)

	_, _, err = svc.Trends(context.Background(), treasurer, "team-1", "year", time.Time{}, time.Time{})
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestTransactionHistoryScopesToTeam(t *testing.T) {
	svc, _, audit := newComplianceHarness(t, nil)
	audit.entries = []models.AuditLogEntry{
		{ID: "a-1", TeamID: "team-1", EntityID: "tx-1", Action: models.AuditTransactionExceptionRaised},
		{ID: "a-2", TeamID: "team-9", EntityID: "tx-1", Action: models.AuditTransactionValidated},
		{ID: "a-3", TeamID: "team-1", EntityID: "tx-1", Action: models.AuditResolveException},
	}

	history, err := svc.TransactionHistory(context.Background(), treasurer, "team-1", "tx-1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "a-1", history[0].ID)
	assert.Equal(t, "a-3", history[1].ID)
}

func TestAuditLogsPassesFilter(t *testing.T) {
	svc, _, audit := newComplianceHarness(t, nil)
	filter := models.AuditFilter{TeamID: "team-1", Action: models.AuditOverrideException, Limit: 20}

	_, _, err := svc.AuditLogs(context.Background(), treasurer, filter)
	require.NoError(t, err)
	assert.Equal(t, filter, audit.filter)

	_, _, err = svc.AuditLogs(context.Background(), treasurer, models.AuditFilter{})
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}
