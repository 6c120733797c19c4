package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/puckledger/treasury-api/internal/models"
)

var transactionRowColumns = []string{
	"id", "team_id", "type", "amount", "vendor", "description", "transaction_date", "category_id",
	"receipt_url", "status", "validation_json", "exception_severity", "exception_reason", "resolution_json",
	"source", "season", "created_by", "resolved_by", "created_at", "updated_at", "resolved_at", "deleted_at",
}

func newRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

type observerStub struct {
	labels []string
}

func (o *observerStub) ObserveDBQuery(label string, _ time.Duration) {
	o.labels = append(o.labels, label)
}

func exceptionTransaction() *models.Transaction {
	sev := models.SeverityHigh
	return &models.Transaction{
		ID:                "tx-1",
		TeamID:            "team-1",
		Type:              models.TransactionTypeExpense,
		Amount:            decimal.NewFromInt(600),
		Vendor:            "Ice Arena",
		TransactionDate:   time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC),
		CategoryID:        "cat-ice",
		Status:            models.StatusException,
		ExceptionSeverity: &sev,
		Source:            models.SourceManual,
		Season:            "2025-26",
		CreatedBy:         "u-treasurer",
		Validation: &models.ValidationResult{
			Violations: []models.Violation{{Code: models.CodeMissingReceipt, Severity: models.ViolationError}},
			Score:      80,
		},
	}
}

func auditEntry(action models.AuditAction) models.AuditLogEntry {
	return models.AuditLogEntry{
		TeamID:     "team-1",
		ActorID:    "u-1",
		Action:     action,
		EntityType: models.EntityTransaction,
		EntityID:   "tx-1",
		OldValues:  models.JSONB(`{"status":"EXCEPTION"}`),
		NewValues:  models.JSONB(`{"status":"RESOLVED"}`),
		Metadata:   models.JSONB(`{}`),
	}
}

func TestTransactionRepositoryCreateWritesAuditInSameTx(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	observer := &observerStub{}
	repo := NewTransactionRepository(db, observer)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO transactions")).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO transaction_audit_logs")).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	txn := exceptionTransaction()
	txn.ID = ""
	require.NoError(t, repo.Create(context.Background(), txn, auditEntry(models.AuditTransactionExceptionRaised)))

	assert.NotEmpty(t, txn.ID)
	assert.NotEmpty(t, txn.ValidationJSON)
	assert.Equal(t, []string{"transactions.create"}, observer.labels)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionRepositoryCreateRollsBackWhenAuditFails(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewTransactionRepository(db, nil)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO transactions")).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO transaction_audit_logs")).WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := repo.Create(context.Background(), exceptionTransaction(), auditEntry(models.AuditTransactionExceptionRaised))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert audit entry")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionRepositoryGetByIDDecodesJSON(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewTransactionRepository(db, nil)
	now := time.Now()
	rows := sqlmock.NewRows(transactionRowColumns).AddRow(
		"tx-1", "team-1", "EXPENSE", "600.00", "Ice Arena", nil, now, "cat-ice",
		nil, "EXCEPTION", []byte(`{"compliant":false,"violations":[{"code":"MISSING_RECEIPT","severity":"ERROR","message":"m"}],"score":80}`), "HIGH", nil, nil,
		"MANUAL", "2025-26", "u-treasurer", nil, now, now, nil, nil,
	)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, team_id, type, amount")).WithArgs("tx-1").WillReturnRows(rows)

	txn, err := repo.GetByID(context.Background(), "tx-1")
	require.NoError(t, err)
	require.NotNil(t, txn.Validation)
	assert.Equal(t, models.CodeMissingReceipt, txn.Validation.Violations[0].Code)
	assert.Nil(t, txn.Resolution)
	assert.True(t, txn.Amount.Equal(decimal.NewFromInt(600)))
	require.NotNil(t, txn.ExceptionSeverity)
	assert.Equal(t, models.SeverityHigh, *txn.ExceptionSeverity)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionRepositoryGetByIDNotFound(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewTransactionRepository(db, nil)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, team_id")).WithArgs("missing").WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByID(context.Background(), "missing")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestTransactionRepositoryApplyTransitionsCommits(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewTransactionRepository(db, nil)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE transactions SET")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO transaction_audit_logs")).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	txn := exceptionTransaction()
	txn.Status = models.StatusResolved
	err := repo.ApplyTransitions(context.Background(), Transition{
		Transaction:    txn,
		ExpectedStatus: models.StatusException,
		Audit:          []models.AuditLogEntry{auditEntry(models.AuditOverrideException)},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionRepositoryApplyTransitionsLosesRace(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewTransactionRepository(db, nil)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE transactions SET")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	txn := exceptionTransaction()
	txn.Status = models.StatusResolved
	err := repo.ApplyTransitions(context.Background(), Transition{
		Transaction:    txn,
		ExpectedStatus: models.StatusException,
		Audit:          []models.AuditLogEntry{auditEntry(models.AuditOverrideException)},
	})
	assert.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet(), "no audit entry may be written for a lost race")
}

func TestTransactionRepositoryListFilters(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewTransactionRepository(db, nil)
	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM transactions")).
		WithArgs("team-1", pq.Array([]string{"EXCEPTION"}), "HIGH").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, team_id, type")).
		WithArgs("team-1", pq.Array([]string{"EXCEPTION"}), "HIGH").
		WillReturnRows(sqlmock.NewRows(transactionRowColumns).AddRow(
			"tx-1", "team-1", "EXPENSE", "600", "Ice Arena", nil, now, "cat-ice",
			nil, "EXCEPTION", nil, "HIGH", nil, nil,
			"MANUAL", "2025-26", "u-treasurer", nil, now, now, nil, nil,
		))

	list, total, err := repo.List(context.Background(), models.TransactionFilter{
		TeamID:   "team-1",
		Status:   []models.TransactionStatus{models.StatusException},
		Severity: models.SeverityHigh,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, list, 1)
	assert.Nil(t, list[0].Validation)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionRepositoryAddApprovalDuplicate(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewTransactionRepository(db, nil)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO transaction_approvals")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.AddApproval(context.Background(),
		&models.Approval{TransactionID: "tx-1", UserID: "u-1", Role: models.RolePresident},
		auditEntry(models.AuditTransactionApproved))
	assert.ErrorIs(t, err, ErrDuplicateApproval)
	require.NoError(t, mock.ExpectationsWereMet())
}
