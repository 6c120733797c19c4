package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/puckledger/treasury-api/internal/dto"
	"github.com/puckledger/treasury-api/internal/models"
	"github.com/puckledger/treasury-api/pkg/response"
)

type resolutionService interface {
	Resolve(ctx context.Context, actor *models.Principal, req dto.ResolveExceptionRequest) (*models.Transaction, error)
}

// ExceptionHandler exposes exception resolution.
type ExceptionHandler struct {
	service resolutionService
}

// NewExceptionHandler builds a new handler.
func NewExceptionHandler(service resolutionService) *ExceptionHandler {
	return &ExceptionHandler{service: service}
}

// Resolve godoc
// @Summary Resolve an exception
// @Description CORRECT re-validates the corrected data; OVERRIDE accepts the violation with a reason.
// @Tags Exceptions
// @Accept json
// @Produce json
// @Param payload body dto.ResolveExceptionRequest true "Resolution"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /exceptions/resolve [post]
func (h *ExceptionHandler) Resolve(c *gin.Context) {
	actor := requirePrincipal(c)
	if actor == nil {
		return
	}
	var req dto.ResolveExceptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err, "invalid resolution payload"))
		return
	}
	txn, err := h.service.Resolve(c.Request.Context(), actor, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, txn, nil)
}
