package handler

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/puckledger/treasury-api/internal/dto"
	"github.com/puckledger/treasury-api/internal/middleware"
	"github.com/puckledger/treasury-api/internal/models"
	appErrors "github.com/puckledger/treasury-api/pkg/errors"
	"github.com/puckledger/treasury-api/pkg/export"
	"github.com/puckledger/treasury-api/pkg/response"
)

type complianceService interface {
	Summarize(ctx context.Context, actor *models.Principal, q models.ComplianceQuery) (*models.ComplianceReport, bool, error)
	Trends(ctx context.Context, actor *models.Principal, teamID string, period models.TrendPeriod, from, to time.Time) ([]models.ExceptionTrendPoint, bool, error)
	AuditLogs(ctx context.Context, actor *models.Principal, filter models.AuditFilter) ([]models.AuditLogEntry, int, error)
	TransactionHistory(ctx context.Context, actor *models.Principal, teamID, transactionID string) ([]models.AuditLogEntry, error)
}

// ComplianceHandler exposes team compliance analytics and the audit read side.
type ComplianceHandler struct {
	service complianceService
}

// NewComplianceHandler builds a new handler.
func NewComplianceHandler(service complianceService) *ComplianceHandler {
	return &ComplianceHandler{service: service}
}

// Summary godoc
// @Summary Team compliance summary
// @Tags Compliance
// @Produce json
// @Param teamId path string true "Team ID"
// @Param from query string false "Start date (YYYY-MM-DD)"
// @Param to query string false "End date, exclusive (YYYY-MM-DD)"
// @Success 200 {object} response.Envelope
// @Router /teams/{teamId}/compliance [get]
func (h *ComplianceHandler) Summary(c *gin.Context) {
	actor := requirePrincipal(c)
	if actor == nil {
		return
	}
	var q dto.ComplianceQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.Error(c, bindError(err, "invalid query"))
		return
	}
	from, err := parseDate(q.From, "from")
	if err != nil {
		response.Error(c, err)
		return
	}
	to, err := parseDate(q.To, "to")
	if err != nil {
		response.Error(c, err)
		return
	}

	report, hit, err := h.service.Summarize(c.Request.Context(), actor, models.ComplianceQuery{TeamID: c.Param("teamId"), From: from, To: to})
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, hit)
	response.JSON(c, http.StatusOK, report, nil, middleware.ResponseMeta(c))
}

// Trends godoc
// @Summary Exception trends
// @Tags Compliance
// @Produce json
// @Param teamId path string true "Team ID"
// @Param period query string false "day, week or month"
// @Param from query string false "Start date (YYYY-MM-DD)"
// @Param to query string false "End date, exclusive (YYYY-MM-DD)"
// @Success 200 {object} response.Envelope
// @Router /teams/{teamId}/compliance/trends [get]
func (h *ComplianceHandler) Trends(c *gin.Context) {
	actor := requirePrincipal(c)
	if actor == nil {
		return
	}
	var q dto.TrendQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.Error(c, bindError(err, "invalid query"))
		return
	}
	from, err := parseDate(q.From, "from")
	if err != nil {
		response.Error(c, err)
		return
	}
	to, err := parseDate(q.To, "to")
	if err != nil {
		response.Error(c, err)
		return
	}

	points, hit, err := h.service.Trends(c.Request.Context(), actor, c.Param("teamId"), models.TrendPeriod(q.Period), valueOrZero(from), valueOrZero(to))
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, hit)
	response.JSON(c, http.StatusOK, points, nil, middleware.ResponseMeta(c))
}

// AuditLogs godoc
// @Summary Team audit log
// @Tags Audit
// @Produce json
// @Param teamId path string true "Team ID"
// @Param actorId query string false "Actor filter"
// @Param action query string false "Action filter"
// @Param from query string false "Start date (YYYY-MM-DD)"
// @Param to query string false "End date, exclusive (YYYY-MM-DD)"
// @Param limit query int false "Page size"
// @Param offset query int false "Offset"
// @Success 200 {object} response.Envelope
// @Router /teams/{teamId}/audit-logs [get]
func (h *ComplianceHandler) AuditLogs(c *gin.Context) {
	actor := requirePrincipal(c)
	if actor == nil {
		return
	}
	filter, err := auditFilterFromQuery(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	entries, total, err := h.service.AuditLogs(c.Request.Context(), actor, filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	if entries == nil {
		entries = []models.AuditLogEntry{}
	}
	response.JSON(c, http.StatusOK, entries, &response.Pagination{Limit: filter.Limit, Offset: filter.Offset, TotalCount: total})
}

// ExportAuditLogs godoc
// @Summary Export the team audit log as CSV
// @Tags Audit
// @Produce text/csv
// @Param teamId path string true "Team ID"
// @Param actorId query string false "Actor filter"
// @Param action query string false "Action filter"
// @Param from query string false "Start date (YYYY-MM-DD)"
// @Param to query string false "End date, exclusive (YYYY-MM-DD)"
// @Success 200 {string} string "CSV file"
// @Router /teams/{teamId}/audit-logs/export [get]
func (h *ComplianceHandler) ExportAuditLogs(c *gin.Context) {
	actor := requirePrincipal(c)
	if actor == nil {
		return
	}
	filter, err := auditFilterFromQuery(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	table := export.Table{Columns: auditExportColumns}
	filter.Limit, filter.Offset = exportPageSize, 0
	for {
		entries, total, err := h.service.AuditLogs(c.Request.Context(), actor, filter)
		if err != nil {
			response.Error(c, err)
			return
		}
		for _, e := range entries {
			table.Append(map[string]string{
				"id":          e.ID,
				"created_at":  e.CreatedAt.UTC().Format(time.RFC3339),
				"actor_id":    e.ActorID,
				"action":      string(e.Action),
				"entity_type": e.EntityType,
				"entity_id":   e.EntityID,
				"metadata":    string(e.Metadata),
			})
		}
		filter.Offset += len(entries)
		if len(entries) == 0 || filter.Offset >= total {
			break
		}
	}

	var buf bytes.Buffer
	if err := export.WriteCSV(&buf, table); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render audit export"))
		return
	}
	filename := fmt.Sprintf("audit-%s-%s.csv", filter.TeamID, time.Now().UTC().Format("20060102"))
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
}

const exportPageSize = 200

var auditExportColumns = []string{"id", "created_at", "actor_id", "action", "entity_type", "entity_id", "metadata"}

func auditFilterFromQuery(c *gin.Context) (models.AuditFilter, error) {
	var q dto.AuditLogQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		return models.AuditFilter{}, bindError(err, "invalid query")
	}
	from, err := parseDate(q.From, "from")
	if err != nil {
		return models.AuditFilter{}, err
	}
	to, err := parseDate(q.To, "to")
	if err != nil {
		return models.AuditFilter{}, err
	}
	return models.AuditFilter{
		TeamID:  c.Param("teamId"),
		ActorID: q.ActorID,
		Action:  models.AuditAction(q.Action),
		From:    from,
		To:      to,
		Limit:   q.Limit,
		Offset:  q.Offset,
	}, nil
}

// History godoc
// @Summary Audit history of one transaction
// @Tags Audit
// @Produce json
// @Param teamId path string true "Team ID"
// @Param id path string true "Transaction ID"
// @Success 200 {object} response.Envelope
// @Router /teams/{teamId}/transactions/{id}/history [get]
func (h *ComplianceHandler) History(c *gin.Context) {
	actor := requirePrincipal(c)
	if actor == nil {
		return
	}
	entries, err := h.service.TransactionHistory(c.Request.Context(), actor, c.Param("teamId"), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entries, nil)
}

func valueOrZero(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
