package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/puckledger/treasury-api/internal/middleware"
	"github.com/puckledger/treasury-api/internal/models"
	appErrors "github.com/puckledger/treasury-api/pkg/errors"
	"github.com/puckledger/treasury-api/pkg/response"
)

const dateLayout = "2006-01-02"

func principalFromContext(c *gin.Context) *models.Principal {
	principal, ok := middleware.PrincipalFrom(c)
	if !ok {
		return nil
	}
	return principal
}

// requirePrincipal writes a 401 and returns nil when the request carries no principal.
func requirePrincipal(c *gin.Context) *models.Principal {
	principal := principalFromContext(c)
	if principal == nil {
		response.Error(c, appErrors.ErrUnauthorized)
	}
	return principal
}

func parseDate(value, field string) (*time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse(dateLayout, value)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, field+" must be a YYYY-MM-DD date")
	}
	return &t, nil
}

func parseStatuses(value string) ([]models.TransactionStatus, error) {
	if strings.TrimSpace(value) == "" {
		return nil, nil
	}
	var statuses []models.TransactionStatus
	for _, raw := range strings.Split(value, ",") {
		status := models.TransactionStatus(strings.ToUpper(strings.TrimSpace(raw)))
		switch status {
		case models.StatusImported, models.StatusValidated, models.StatusException, models.StatusResolved, models.StatusLocked:
			statuses = append(statuses, status)
		default:
			return nil, appErrors.Clone(appErrors.ErrValidation, "unknown status "+raw)
		}
	}
	return statuses, nil
}

func parseSeverity(value string) (models.ExceptionSeverity, error) {
	if value == "" {
		return "", nil
	}
	severity := models.ExceptionSeverity(strings.ToUpper(value))
	if !severity.Valid() {
		return "", appErrors.Clone(appErrors.ErrValidation, "severity must be LOW, MEDIUM, HIGH or CRITICAL")
	}
	return severity, nil
}

func bindError(err error, message string) error {
	return appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, message)
}
