// Package trend rebuilds a patient's longitudinal Stage 3 series.
package trend

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/hepatica-risk-engine/internal/domain"
	"github.com/hepatica-risk-engine/pkg/numeric"
)

// DefaultLimit is the number of most recent visits kept in a series.
const DefaultLimit = 12

// Store is the persistence a tracker reads from.
type Store interface {
	ListStage3Assessments(ctx context.Context, patientID string, limit int) ([]*domain.Stage3Assessment, error)
	ListAlerts(ctx context.Context, patientID string, status domain.AlertStatus) ([]*domain.RiskAlert, error)
}

// Tracker derives trend points from stored assessments and alerts.
type Tracker struct {
	logger *logrus.Logger
	limit  int
}

// NewTracker creates a tracker keeping the last limit visits. A limit <= 0
// uses DefaultLimit.
func NewTracker(logger *logrus.Logger, limit int) *Tracker {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Tracker{logger: logger, limit: limit}
}

// Build returns the patient's series oldest first. Points are derived fresh
// from the store on every call, so alert state always reflects the current
// alert rows.
func (t *Tracker) Build(ctx context.Context, store Store, patientID string) ([]domain.TrendPoint, error) {
	rows, err := store.ListStage3Assessments(ctx, patientID, t.limit)
	if err != nil {
		return nil, fmt.Errorf("listing stage 3 history: %w", err)
	}
	if len(rows) == 0 {
		return []domain.TrendPoint{}, nil
	}

	open, err := store.ListAlerts(ctx, patientID, domain.AlertOpen)
	if err != nil {
		return nil, fmt.Errorf("listing open alerts: %w", err)
	}
	flagged := make(map[string]bool, len(open))
	for _, a := range open {
		if a.AssessmentID != "" {
			flagged[a.AssessmentID] = true
		}
	}

	points := make([]domain.TrendPoint, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		row := rows[i]
		state := domain.AlertStateNone
		if flagged[row.ID] {
			state = domain.AlertStateOpen
		}
		points = append(points, domain.TrendPoint{
			VisitIndex:   len(points) + 1,
			AssessmentID: row.ID,
			Score:        numeric.Round(row.CompositeRiskScore, 6),
			RiskTier:     row.RiskTier,
			AlertState:   state,
			CreatedAt:    row.CreatedAt,
		})
	}

	t.logger.WithFields(logrus.Fields{
		"patient_id": patientID,
		"points":     len(points),
	}).Debug("Rebuilt stage 3 trend")
	return points, nil
}
