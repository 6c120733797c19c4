package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/puckledger/treasury-api/internal/dto"
	"github.com/puckledger/treasury-api/internal/models"
	"github.com/puckledger/treasury-api/pkg/response"
)

type transactionService interface {
	Submit(ctx context.Context, actor *models.Principal, req dto.SubmitTransactionRequest) (*models.Transaction, error)
	Import(ctx context.Context, actor *models.Principal, req dto.ImportTransactionsRequest) (*dto.ImportSummary, error)
	Get(ctx context.Context, actor *models.Principal, id string) (*models.Transaction, error)
	List(ctx context.Context, actor *models.Principal, filter models.TransactionFilter) ([]models.Transaction, int, error)
	Edit(ctx context.Context, actor *models.Principal, id string, req dto.UpdateTransactionRequest) (*models.Transaction, error)
	Revalidate(ctx context.Context, actor *models.Principal, id string) (*models.Transaction, error)
	Delete(ctx context.Context, actor *models.Principal, id string) error
	Approve(ctx context.Context, actor *models.Principal, id string) (*models.Transaction, error)
	LockSeason(ctx context.Context, actor *models.Principal, teamID string, req dto.LockSeasonRequest) (*dto.LockSeasonResult, error)
}

// TransactionHandler exposes transaction submission and maintenance endpoints.
type TransactionHandler struct {
	service transactionService
}

// NewTransactionHandler builds a new handler.
func NewTransactionHandler(service transactionService) *TransactionHandler {
	return &TransactionHandler{service: service}
}

// Submit godoc
// @Summary Submit a transaction
// @Description Validates the transaction and stores it as VALIDATED or EXCEPTION.
// @Tags Transactions
// @Accept json
// @Produce json
// @Param payload body dto.SubmitTransactionRequest true "Transaction payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /transactions [post]
func (h *TransactionHandler) Submit(c *gin.Context) {
	actor := requirePrincipal(c)
	if actor == nil {
		return
	}
	var req dto.SubmitTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err, "invalid transaction payload"))
		return
	}
	txn, err := h.service.Submit(c.Request.Context(), actor, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, txn)
}

// Import godoc
// @Summary Import transactions in bulk
// @Tags Transactions
// @Accept json
// @Produce json
// @Param payload body dto.ImportTransactionsRequest true "Import payload"
// @Success 200 {object} response.Envelope
// @Router /transactions/import [post]
func (h *TransactionHandler) Import(c *gin.Context) {
	actor := requirePrincipal(c)
	if actor == nil {
		return
	}
	var req dto.ImportTransactionsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err, "invalid import payload"))
		return
	}
	summary, err := h.service.Import(c.Request.Context(), actor, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, summary, nil)
}

// List godoc
// @Summary List team transactions
// @Tags Transactions
// @Produce json
// @Param teamId query string true "Team ID"
// @Param status query string false "Comma separated statuses"
// @Param severity query string false "Exception severity"
// @Param limit query int false "Page size"
// @Param offset query int false "Offset"
// @Success 200 {object} response.Envelope
// @Router /transactions [get]
func (h *TransactionHandler) List(c *gin.Context) {
	actor := requirePrincipal(c)
	if actor == nil {
		return
	}
	var q dto.ListTransactionsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.Error(c, bindError(err, "invalid query"))
		return
	}
	statuses, err := parseStatuses(q.Status)
	if err != nil {
		response.Error(c, err)
		return
	}
	severity, err := parseSeverity(q.Severity)
	if err != nil {
		response.Error(c, err)
		return
	}
	filter := models.TransactionFilter{TeamID: q.TeamID, Status: statuses, Severity: severity, Limit: q.Limit, Offset: q.Offset}
	h.list(c, actor, filter)
}

func (h *TransactionHandler) list(c *gin.Context, actor *models.Principal, filter models.TransactionFilter) {
	txns, total, err := h.service.List(c.Request.Context(), actor, filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	if txns == nil {
		txns = []models.Transaction{}
	}
	response.JSON(c, http.StatusOK, txns, &response.Pagination{Limit: filter.Limit, Offset: filter.Offset, TotalCount: total})
}

// Get godoc
// @Summary Get a transaction
// @Tags Transactions
// @Produce json
// @Param id path string true "Transaction ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /transactions/{id} [get]
func (h *TransactionHandler) Get(c *gin.Context) {
	actor := requirePrincipal(c)
	if actor == nil {
		return
	}
	txn, err := h.service.Get(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, txn, nil)
}

// Edit godoc
// @Summary Edit a transaction
// @Description Applies the changes and re-validates; a now-compliant exception is auto-cleared.
// @Tags Transactions
// @Accept json
// @Produce json
// @Param id path string true "Transaction ID"
// @Param payload body dto.UpdateTransactionRequest true "Changes"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /transactions/{id} [patch]
func (h *TransactionHandler) Edit(c *gin.Context) {
	actor := requirePrincipal(c)
	if actor == nil {
		return
	}
	var req dto.UpdateTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err, "invalid transaction update"))
		return
	}
	txn, err := h.service.Edit(c.Request.Context(), actor, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, txn, nil)
}

// Delete godoc
// @Summary Soft delete a transaction
// @Tags Transactions
// @Param id path string true "Transaction ID"
// @Success 204
// @Router /transactions/{id} [delete]
func (h *TransactionHandler) Delete(c *gin.Context) {
	actor := requirePrincipal(c)
	if actor == nil {
		return
	}
	if err := h.service.Delete(c.Request.Context(), actor, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Revalidate godoc
// @Summary Re-run validation
// @Tags Transactions
// @Produce json
// @Param id path string true "Transaction ID"
// @Success 200 {object} response.Envelope
// @Router /transactions/{id}/revalidate [post]
func (h *TransactionHandler) Revalidate(c *gin.Context) {
	actor := requirePrincipal(c)
	if actor == nil {
		return
	}
	txn, err := h.service.Revalidate(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, txn, nil)
}

// Approve godoc
// @Summary Approve a transaction
// @Tags Transactions
// @Produce json
// @Param id path string true "Transaction ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /transactions/{id}/approvals [post]
func (h *TransactionHandler) Approve(c *gin.Context) {
	actor := requirePrincipal(c)
	if actor == nil {
		return
	}
	txn, err := h.service.Approve(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, txn, nil)
}

// ListExceptions godoc
// @Summary List open exceptions
// @Tags Exceptions
// @Produce json
// @Param teamId query string true "Team ID"
// @Param severity query string false "Exception severity"
// @Success 200 {object} response.Envelope
// @Router /exceptions [get]
func (h *TransactionHandler) ListExceptions(c *gin.Context) {
	actor := requirePrincipal(c)
	if actor == nil {
		return
	}
	var q dto.ListExceptionsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.Error(c, bindError(err, "invalid query"))
		return
	}
	severity, err := parseSeverity(q.Severity)
	if err != nil {
		response.Error(c, err)
		return
	}
	h.list(c, actor, models.TransactionFilter{
		TeamID:   q.TeamID,
		Status:   []models.TransactionStatus{models.StatusException},
		Severity: severity,
		Limit:    q.Limit,
		Offset:   q.Offset,
	})
}

// LockSeason godoc
// @Summary Close a season
// @Description Locks every VALIDATED and RESOLVED transaction of the season in one write.
// @Tags Teams
// @Accept json
// @Produce json
// @Param teamId path string true "Team ID"
// @Param payload body dto.LockSeasonRequest false "Season, defaults to the current one"
// @Success 200 {object} response.Envelope
// @Router /teams/{teamId}/season/lock [post]
func (h *TransactionHandler) LockSeason(c *gin.Context) {
	actor := requirePrincipal(c)
	if actor == nil {
		return
	}
	var req dto.LockSeasonRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, bindError(err, "invalid season lock payload"))
			return
		}
	}
	result, err := h.service.LockSeason(c.Request.Context(), actor, c.Param("teamId"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}
