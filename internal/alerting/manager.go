// Package alerting maintains the per-patient risk alert lifecycle: at most
// one open alert per (patient, alert type), refreshed in place by later
// qualifying assessments.
package alerting

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hepatica-risk-engine/internal/domain"
	"github.com/hepatica-risk-engine/pkg/numeric"
)

// CriticalDecompensation is the decompensation risk at which the alert
// becomes critical.
const CriticalDecompensation = 0.8

// Store is the persistence an alert manager needs.
type Store interface {
	domain.AlertStore
	domain.TimelineStore
}

// Candidate is an alert an assessment qualifies for.
type Candidate struct {
	AlertType domain.AlertType
	Severity  domain.AlertSeverity
	Score     float64
}

// Outcome lists the alerts an upsert created and the open alerts it refreshed.
type Outcome struct {
	Created []*domain.RiskAlert `json:"created"`
	Updated []*domain.RiskAlert `json:"updated"`
}

// Manager creates, refreshes and transitions risk alerts.
type Manager struct {
	logger *logrus.Logger
	now    func() time.Time
}

// NewManager creates an alert manager
func NewManager(logger *logrus.Logger) *Manager {
	return &Manager{logger: logger, now: time.Now}
}

// Candidates returns the alerts an assessment qualifies for at threshold.
func Candidates(a *domain.Stage3Assessment, threshold float64) []Candidate {
	var out []Candidate

	if a.CompositeRiskScore >= threshold &&
		(a.RiskTier == domain.RiskTierHigh || a.RiskTier == domain.RiskTierCritical) {
		severity := domain.SeverityHigh
		if a.RiskTier == domain.RiskTierCritical {
			severity = domain.SeverityCritical
		}
		out = append(out, Candidate{AlertType: domain.AlertAdvancedFibrosis, Severity: severity, Score: a.CompositeRiskScore})
	}

	if a.DecompRisk12m >= threshold+domain.DecompensationMargin {
		severity := domain.SeverityHigh
		if a.DecompRisk12m >= CriticalDecompensation {
			severity = domain.SeverityCritical
		}
		out = append(out, Candidate{AlertType: domain.AlertDecompensation, Severity: severity, Score: a.DecompRisk12m})
	}

	return out
}

// Upsert raises the alerts assessment qualifies for under policy. An open
// alert of the same type is updated in place rather than duplicated.
func (m *Manager) Upsert(ctx context.Context, store domain.AlertStore, assessment *domain.Stage3Assessment, policy domain.AlertPolicy, createdBy string) (*Outcome, error) {
	threshold := policy.ScoreThreshold()
	outcome := &Outcome{Created: []*domain.RiskAlert{}, Updated: []*domain.RiskAlert{}}

	for _, c := range Candidates(assessment, threshold) {
		score := numeric.Round(c.Score, 6)

		existing, err := store.FindOpenAlert(ctx, assessment.PatientID, c.AlertType)
		if err != nil {
			return nil, fmt.Errorf("looking up open %s alert: %w", c.AlertType, err)
		}

		if existing != nil {
			existing.Score = score
			existing.Threshold = threshold
			existing.Severity = c.Severity
			existing.AssessmentID = assessment.ID
			if err := store.UpdateAlert(ctx, existing); err != nil {
				return nil, fmt.Errorf("refreshing %s alert: %w", c.AlertType, err)
			}
			outcome.Updated = append(outcome.Updated, existing)
			continue
		}

		alert := &domain.RiskAlert{
			PatientID:    assessment.PatientID,
			AssessmentID: assessment.ID,
			CreatedBy:    createdBy,
			AlertType:    c.AlertType,
			Severity:     c.Severity,
			Score:        score,
			Threshold:    threshold,
			Status:       domain.AlertOpen,
		}
		if err := store.CreateAlert(ctx, alert); err != nil {
			return nil, fmt.Errorf("creating %s alert: %w", c.AlertType, err)
		}
		outcome.Created = append(outcome.Created, alert)

		m.logger.WithFields(logrus.Fields{
			"patient_id": assessment.PatientID,
			"alert_type": c.AlertType,
			"severity":   c.Severity,
			"score":      score,
			"threshold":  threshold,
		}).Info("Risk alert opened")
	}

	return outcome, nil
}

// UpdateStatus moves an alert along open -> ack -> closed. Closing records
// the resolution time; moving backwards fails with ErrInvalidTransition.
func (m *Manager) UpdateStatus(ctx context.Context, store Store, alertID string, next domain.AlertStatus, actor string) (*domain.RiskAlert, error) {
	alert, err := store.GetAlert(ctx, alertID)
	if err != nil {
		return nil, err
	}

	if !alert.Status.CanTransition(next) {
		return nil, fmt.Errorf("%s -> %s: %w", alert.Status, next, domain.ErrInvalidTransition)
	}
	if alert.Status == next {
		return alert, nil
	}

	previous := alert.Status
	alert.Status = next
	if next == domain.AlertClosed {
		resolved := m.now().UTC()
		alert.ResolvedAt = &resolved
	}
	if err := store.UpdateAlert(ctx, alert); err != nil {
		return nil, fmt.Errorf("updating alert status: %w", err)
	}

	event := &domain.TimelineEvent{
		PatientID: alert.PatientID,
		EventType: domain.EventAlertStatusUpdated,
		CreatedBy: actor,
		Payload: map[string]any{
			"alert_id":        alert.ID,
			"alert_type":      string(alert.AlertType),
			"previous_status": string(previous),
			"status":          string(next),
		},
	}
	if err := store.AppendTimelineEvent(ctx, event); err != nil {
		return nil, fmt.Errorf("recording alert status event: %w", err)
	}

	m.logger.WithFields(logrus.Fields{
		"alert_id": alert.ID,
		"from":     previous,
		"to":       next,
	}).Info("Risk alert status updated")

	return alert, nil
}

// ListAlerts returns the patient's alerts newest first, optionally filtered
// by status.
func (m *Manager) ListAlerts(ctx context.Context, store domain.AlertStore, patientID string, status domain.AlertStatus) ([]*domain.RiskAlert, error) {
	if status != "" && !status.IsValid() {
		return nil, fmt.Errorf("unknown alert status %q", status)
	}
	return store.ListAlerts(ctx, patientID, status)
}
