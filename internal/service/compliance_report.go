package service

import (
	"encoding/json"
	"math"
	"sort"
	"time"

	"github.com/puckledger/treasury-api/internal/models"
)

const defaultTopViolations = 5

// BuildComplianceReport aggregates transaction rows into a report. It never fails: rows with
// unreadable JSON are counted by status only.
func BuildComplianceReport(q models.ComplianceQuery, rows []models.ComplianceRow, topN int, now time.Time) models.ComplianceReport {
	if topN <= 0 {
		topN = defaultTopViolations
	}
	report := models.ComplianceReport{
		TeamID:               q.TeamID,
		From:                 q.From,
		To:                   q.To,
		TotalTransactions:    len(rows),
		ExceptionsBySeverity: make(map[models.ExceptionSeverity]int, len(models.ExceptionSeverities)),
		ResolutionsByType: map[models.ResolutionType]int{
			models.ResolutionCorrect:  0,
			models.ResolutionOverride: 0,
		},
		TopViolations: []models.ViolationFrequency{},
		GeneratedAt:   now,
	}
	for _, sev := range models.ExceptionSeverities {
		report.ExceptionsBySeverity[sev] = 0
	}

	var hours []float64
	frequencies := map[models.ViolationCode]*models.ViolationFrequency{}
	for i := range rows {
		row := &rows[i]
		switch row.Status {
		case models.StatusValidated:
			report.ValidatedCount++
		case models.StatusException:
			report.ExceptionCount++
		case models.StatusResolved:
			report.ResolvedCount++
		case models.StatusLocked:
			report.LockedCount++
		}

		if (row.Status == models.StatusException || row.Status == models.StatusResolved) && row.ExceptionSeverity != nil {
			if _, known := report.ExceptionsBySeverity[*row.ExceptionSeverity]; known {
				report.ExceptionsBySeverity[*row.ExceptionSeverity]++
			}
		}

		if row.ResolvedAt != nil && !row.ResolvedAt.Before(row.CreatedAt) {
			hours = append(hours, row.ResolvedAt.Sub(row.CreatedAt).Hours())
		}

		if !row.ResolutionJSON.IsNull() {
			var record models.ResolutionRecord
			if err := json.Unmarshal(row.ResolutionJSON, &record); err == nil && record.Type.Valid() {
				report.ResolutionsByType[record.Type]++
			}
		}

		if !row.ValidationJSON.IsNull() {
			var result models.ValidationResult
			if err := json.Unmarshal(row.ValidationJSON, &result); err == nil {
				for _, v := range result.Recorded() {
					freq, ok := frequencies[v.Code]
					if !ok {
						freq = &models.ViolationFrequency{Code: v.Code, Message: v.Message, Severity: v.Severity}
						frequencies[v.Code] = freq
					}
					freq.Count++
				}
			}
		}
	}

	report.CompliantCount = report.ValidatedCount + report.ResolvedCount + report.LockedCount
	report.ComplianceRate = 100
	if report.TotalTransactions > 0 {
		report.ComplianceRate = round1(float64(report.CompliantCount) / float64(report.TotalTransactions) * 100)
	}

	if len(hours) > 0 {
		var sum float64
		for _, h := range hours {
			sum += h
		}
		report.AverageResolutionHours = round1(sum / float64(len(hours)))
		report.MedianResolutionHours = round1(median(hours))
	}

	for _, freq := range frequencies {
		report.TopViolations = append(report.TopViolations, *freq)
	}
	sort.Slice(report.TopViolations, func(i, j int) bool {
		a, b := report.TopViolations[i], report.TopViolations[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.Code < b.Code
	})
	if len(report.TopViolations) > topN {
		report.TopViolations = report.TopViolations[:topN]
	}
	return report
}

func median(values []float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
