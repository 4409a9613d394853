package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/hepatica-risk-engine/internal/domain"
)

const alertColumns = `id, patient_id, stage3_assessment_id, created_by, alert_type, severity, score,
	threshold, status, resolved_at, created_at, updated_at`

func scanAlert(sc scanner) (*domain.RiskAlert, error) {
	a := &domain.RiskAlert{}
	var assessmentID sql.NullString
	var alertType, severity, status string
	var resolvedAt sql.NullTime
	err := sc.Scan(
		&a.ID, &a.PatientID, &assessmentID, &a.CreatedBy, &alertType, &severity, &a.Score,
		&a.Threshold, &status, &resolvedAt, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.AssessmentID = assessmentID.String
	a.AlertType = domain.AlertType(alertType)
	a.Severity = domain.AlertSeverity(severity)
	a.Status = domain.AlertStatus(status)
	if resolvedAt.Valid {
		t := resolvedAt.Time
		a.ResolvedAt = &t
	}
	return a, nil
}

// FindOpenAlert returns the open alert of alertType for the patient, or nil.
func (s *SQLStore) FindOpenAlert(ctx context.Context, patientID string, alertType domain.AlertType) (*domain.RiskAlert, error) {
	a, err := scanAlert(s.queryRow(ctx, "SELECT "+alertColumns+
		" FROM risk_alerts WHERE patient_id = ? AND alert_type = ? AND status = ? ORDER BY created_at DESC LIMIT 1",
		patientID, string(alertType), string(domain.AlertOpen)))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding open alert: %w", err)
	}
	return a, nil
}

// CreateAlert inserts an alert.
func (s *SQLStore) CreateAlert(ctx context.Context, a *domain.RiskAlert) error {
	s.stamp(&a.ID, &a.CreatedAt)
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = a.CreatedAt
	}
	if a.Status == "" {
		a.Status = domain.AlertOpen
	}
	err := s.exec(ctx, `
		INSERT INTO risk_alerts (`+alertColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.PatientID, nullString(a.AssessmentID), a.CreatedBy, string(a.AlertType), string(a.Severity),
		a.Score, a.Threshold, string(a.Status), nullTime(a.ResolvedAt), a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return s.fail("insert alert", err, logrus.Fields{
			"patient_id": a.PatientID,
			"alert_type": a.AlertType,
		})
	}
	return nil
}

// UpdateAlert rewrites the mutable alert fields and bumps updated_at.
func (s *SQLStore) UpdateAlert(ctx context.Context, a *domain.RiskAlert) error {
	a.UpdatedAt = s.clock.Now()
	res, err := s.q.ExecContext(ctx, s.rebind(`
		UPDATE risk_alerts SET
			stage3_assessment_id = ?,
			severity = ?,
			score = ?,
			threshold = ?,
			status = ?,
			resolved_at = ?,
			updated_at = ?
		WHERE id = ?`),
		nullString(a.AssessmentID), string(a.Severity), a.Score, a.Threshold, string(a.Status),
		nullTime(a.ResolvedAt), a.UpdatedAt, a.ID,
	)
	if err != nil {
		return s.fail("update alert", err, logrus.Fields{"alert_id": a.ID})
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("alert %s: %w", a.ID, domain.ErrNotFound)
	}
	return nil
}

// GetAlert retrieves an alert by id.
func (s *SQLStore) GetAlert(ctx context.Context, id string) (*domain.RiskAlert, error) {
	a, err := scanAlert(s.queryRow(ctx, "SELECT "+alertColumns+" FROM risk_alerts WHERE id = ?", id))
	if err != nil {
		return nil, notFound("alert", id, err)
	}
	return a, nil
}

// ListAlerts returns the patient's alerts newest first. An empty status
// returns every alert.
func (s *SQLStore) ListAlerts(ctx context.Context, patientID string, status domain.AlertStatus) ([]*domain.RiskAlert, error) {
	q := "SELECT " + alertColumns + " FROM risk_alerts WHERE patient_id = ?"
	args := []any{patientID}
	if status != "" {
		q += " AND status = ?"
		args = append(args, string(status))
	}
	q += " ORDER BY created_at DESC"

	rows, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	var result []*domain.RiskAlert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		result = append(result, a)
	}
	return result, rows.Err()
}
