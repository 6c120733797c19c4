package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/puckledger/treasury-api/internal/models"
	"github.com/puckledger/treasury-api/internal/repository"
	"github.com/puckledger/treasury-api/pkg/config"
)

var refNow = time.Date(2025, 11, 15, 12, 0, 0, 0, time.UTC)

func strPtr(s string) *string { return &s }

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var (
	treasurer = &models.Principal{UserID: "u-treasurer", Role: models.RoleTreasurer, TeamIDs: []string{"team-1"}}
	assistant = &models.Principal{UserID: "u-assistant", Role: models.RoleAssistantTreasurer, TeamIDs: []string{"team-1"}}
	president = &models.Principal{UserID: "u-president", Role: models.RolePresident, TeamIDs: []string{"team-1"}}
	board     = &models.Principal{UserID: "u-board", Role: models.RoleBoardMember, TeamIDs: []string{"team-1"}}
	outsider  = &models.Principal{UserID: "u-other", Role: models.RoleAssistantTreasurer, TeamIDs: []string{"team-2"}}
	assocView = &models.Principal{UserID: "u-assoc", Role: models.RoleTreasurer, TeamIDs: []string{"team-1"}, AssociationID: strPtr("assoc-1")}
	auditor   = &models.Principal{UserID: "u-auditor", Role: models.RoleAuditor, AssociationID: strPtr("assoc-1")}
	foreign   = &models.Principal{UserID: "u-foreign", Role: models.RoleAuditor, AssociationID: strPtr("assoc-2")}
)

// stateChange is one status write observed by the memory store.
type stateChange struct {
	from    models.TransactionStatus
	to      models.TransactionStatus
	entries []models.AuditLogEntry
}

type memoryTxnStore struct {
	mu        sync.Mutex
	txns      map[string]models.Transaction
	approvals map[string][]models.Approval
	audit     []models.AuditLogEntry
	changes   []stateChange

	// readBarrier, when set, holds every GetByID until the barrier is released.
	readBarrier *sync.WaitGroup
}

func newMemoryTxnStore() *memoryTxnStore {
	return &memoryTxnStore{txns: map[string]models.Transaction{}, approvals: map[string][]models.Approval{}}
}

func (m *memoryTxnStore) seed(txn models.Transaction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txns[txn.ID] = txn
}

func (m *memoryTxnStore) get(id string) models.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.txns[id]
}

func (m *memoryTxnStore) auditActions() []models.AuditAction {
	m.mu.Lock()
	defer m.mu.Unlock()
	actions := make([]models.AuditAction, len(m.audit))
	for i, e := range m.audit {
		actions[i] = e.Action
	}
	return actions
}

func (m *memoryTxnStore) Create(_ context.Context, txn *models.Transaction, entries ...models.AuditLogEntry) error {
	if err := txn.EncodeJSONFields(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txns[txn.ID] = *txn
	m.audit = append(m.audit, entries...)
	m.changes = append(m.changes, stateChange{from: models.StatusImported, to: txn.Status, entries: entries})
	return nil
}

func (m *memoryTxnStore) GetByID(_ context.Context, id string) (*models.Transaction, error) {
	m.mu.Lock()
	txn, ok := m.txns[id]
	m.mu.Unlock()
	if m.readBarrier != nil {
		m.readBarrier.Done()
		m.readBarrier.Wait()
	}
	if !ok || txn.DeletedAt != nil {
		return nil, sql.ErrNoRows
	}
	return &txn, nil
}

func (m *memoryTxnStore) List(_ context.Context, filter models.TransactionFilter) ([]models.Transaction, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Transaction
	for _, txn := range m.txns {
		if txn.TeamID != filter.TeamID || txn.DeletedAt != nil {
			continue
		}
		if len(filter.Status) > 0 && !containsStatus(filter.Status, txn.Status) {
			continue
		}
		if filter.Severity != "" && (txn.ExceptionSeverity == nil || *txn.ExceptionSeverity != filter.Severity) {
			continue
		}
		out = append(out, txn)
	}
	return out, len(out), nil
}

func (m *memoryTxnStore) ListLockable(_ context.Context, teamID, season string) ([]models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Transaction
	for _, txn := range m.txns {
		if txn.TeamID == teamID && txn.Season == season && txn.DeletedAt == nil &&
			(txn.Status == models.StatusValidated || txn.Status == models.StatusResolved) {
			out = append(out, txn)
		}
	}
	return out, nil
}

func (m *memoryTxnStore) DuplicateCandidates(_ context.Context, q models.DuplicateQuery) ([]models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Transaction
	for _, txn := range m.txns {
		if txn.TeamID == q.TeamID && txn.ID != q.ExcludeID && txn.DeletedAt == nil &&
			!txn.TransactionDate.Before(q.From) && !txn.TransactionDate.After(q.To) {
			out = append(out, txn)
		}
	}
	return out, nil
}

func (m *memoryTxnStore) ApplyTransitions(_ context.Context, transitions ...repository.Transition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range transitions {
		stored, ok := m.txns[t.Transaction.ID]
		if !ok || stored.Status != t.ExpectedStatus || stored.DeletedAt != nil {
			return sql.ErrNoRows
		}
	}
	for _, t := range transitions {
		if err := t.Transaction.EncodeJSONFields(); err != nil {
			return err
		}
		m.txns[t.Transaction.ID] = *t.Transaction
		m.audit = append(m.audit, t.Audit...)
		m.changes = append(m.changes, stateChange{from: t.ExpectedStatus, to: t.Transaction.Status, entries: t.Audit})
	}
	return nil
}

func (m *memoryTxnStore) ListApprovals(_ context.Context, transactionID string) ([]models.Approval, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Approval(nil), m.approvals[transactionID]...), nil
}

func (m *memoryTxnStore) AddApproval(_ context.Context, approval *models.Approval, entry models.AuditLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.approvals[approval.TransactionID] {
		if existing.UserID == approval.UserID {
			return repository.ErrDuplicateApproval
		}
	}
	m.approvals[approval.TransactionID] = append(m.approvals[approval.TransactionID], *approval)
	m.audit = append(m.audit, entry)
	return nil
}

func containsStatus(list []models.TransactionStatus, s models.TransactionStatus) bool {
	for _, candidate := range list {
		if candidate == s {
			return true
		}
	}
	return false
}

type fakeTeamStore struct {
	teams      map[string]*models.Team
	categories map[string]string
	exempt     map[string]bool
	allocation *models.BudgetAllocation
	envelopes  []models.BudgetEnvelope
}

func newFakeTeamStore() *fakeTeamStore {
	return &fakeTeamStore{
		teams: map[string]*models.Team{
			"team-1": {ID: "team-1", Name: "U13 Blue", AssociationID: strPtr("assoc-1"), Season: "2025-26"},
		},
		categories: map[string]string{"cat-ice": "team-1", "cat-gear": "team-1"},
		allocation: &models.BudgetAllocation{ID: "alloc-1", TeamID: "team-1", CategoryID: "cat-ice", Season: "2025-26", Allocated: dec("10000")},
	}
}

func (f *fakeTeamStore) GetTeam(_ context.Context, id string) (*models.Team, error) {
	team, ok := f.teams[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return team, nil
}

func (f *fakeTeamStore) GetCategory(_ context.Context, teamID, categoryID string) (*models.Category, error) {
	if owner, ok := f.categories[categoryID]; !ok || owner != teamID {
		return nil, sql.ErrNoRows
	}
	return &models.Category{ID: categoryID, TeamID: teamID, ReceiptExempt: f.exempt[categoryID]}, nil
}

func (f *fakeTeamStore) HasBudget(context.Context, string, string) (bool, error) {
	return f.allocation != nil, nil
}

func (f *fakeTeamStore) GetAllocation(_ context.Context, _, categoryID, _, _ string) (*models.BudgetAllocation, error) {
	if f.allocation == nil || f.allocation.CategoryID != categoryID {
		return nil, nil
	}
	alloc := *f.allocation
	return &alloc, nil
}

func (f *fakeTeamStore) ListEnvelopes(context.Context, string, string, string, string) ([]models.BudgetEnvelope, error) {
	return f.envelopes, nil
}

type testHarness struct {
	txns        *memoryTxnStore
	teams       *fakeTeamStore
	metrics     *MetricsService
	transaction *TransactionService
	resolution  *ResolutionService
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	txns := newMemoryTxnStore()
	teams := newFakeTeamStore()
	metrics := NewMetricsService()

	tsvc := NewTransactionService(txns, teams, nil, config.DefaultValidation(), nil, metrics, nil, zap.NewNop())
	tsvc.now = func() time.Time { return refNow }
	tsvc.audit.now = tsvc.now
	rsvc := NewResolutionService(txns, teams, nil, config.DefaultValidation(), nil, metrics, nil, zap.NewNop())
	rsvc.now = func() time.Time { return refNow }
	rsvc.audit.now = rsvc.now

	return &testHarness{txns: txns, teams: teams, metrics: metrics, transaction: tsvc, resolution: rsvc}
}

// seedException stores an EXCEPTION expense missing its receipt.
func (h *testHarness) seedException(id, amount string, severity models.ExceptionSeverity, violations ...models.Violation) models.Transaction {
	if len(violations) == 0 {
		violations = []models.Violation{{Code: models.CodeMissingReceipt, Severity: models.ViolationError, Message: "Receipt required for expenses $100.00 or more"}}
	}
	txn := models.Transaction{
		ID:                id,
		TeamID:            "team-1",
		Type:              models.TransactionTypeExpense,
		Amount:            dec(amount),
		Vendor:            "Ice Arena",
		TransactionDate:   refNow.AddDate(0, 0, -5),
		CategoryID:        "cat-ice",
		Status:            models.StatusException,
		ExceptionSeverity: &severity,
		Source:            models.SourceManual,
		Season:            "2025-26",
		CreatedBy:         "u-treasurer",
		CreatedAt:         refNow.Add(-48 * time.Hour),
		Validation:        &models.ValidationResult{Violations: violations, Score: 80},
	}
	h.txns.seed(txn)
	return txn
}

// requireAuditMatchesChanges checks that every stored status write carries exactly one entry whose
// before and after statuses match the write.
func requireAuditMatchesChanges(t *testing.T, store *memoryTxnStore) {
	t.Helper()
	store.mu.Lock()
	defer store.mu.Unlock()
	for _, change := range store.changes {
		require.Len(t, change.entries, 1)
		entry := change.entries[0]

		var oldSnap, newSnap models.TransactionSnapshot
		require.NoError(t, json.Unmarshal(entry.OldValues, &oldSnap))
		require.Equal(t, change.from, oldSnap.Status, "old status of %s", entry.Action)
		if len(entry.NewValues) > 0 {
			require.NoError(t, json.Unmarshal(entry.NewValues, &newSnap))
			require.Equal(t, change.to, newSnap.Status, "new status of %s", entry.Action)
		}
	}
}
