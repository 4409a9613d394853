package repository

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/hepatica-risk-engine/internal/domain"
)

// SavePatient inserts a patient.
func (s *SQLStore) SavePatient(ctx context.Context, p *domain.Patient) error {
	s.stamp(&p.ID, &p.CreatedAt)
	if p.ExternalID == "" {
		p.ExternalID = p.ID
	}

	err := s.exec(ctx,
		"INSERT INTO patients (id, external_id, sex, created_at) VALUES (?, ?, ?, ?)",
		p.ID, p.ExternalID, p.Sex, p.CreatedAt,
	)
	if err != nil {
		return s.fail("insert patient", err, logrus.Fields{"patient_id": p.ID})
	}
	return nil
}

// GetPatient retrieves a patient by id.
func (s *SQLStore) GetPatient(ctx context.Context, id string) (*domain.Patient, error) {
	p := &domain.Patient{}
	err := s.queryRow(ctx,
		"SELECT id, external_id, sex, created_at FROM patients WHERE id = ?", id,
	).Scan(&p.ID, &p.ExternalID, &p.Sex, &p.CreatedAt)
	if err != nil {
		return nil, notFound("patient", id, err)
	}
	return p, nil
}

// ListPatients returns every patient, oldest first.
func (s *SQLStore) ListPatients(ctx context.Context) ([]*domain.Patient, error) {
	rows, err := s.query(ctx, "SELECT id, external_id, sex, created_at FROM patients ORDER BY created_at ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to query patients: %w", err)
	}
	defer rows.Close()

	var result []*domain.Patient
	for rows.Next() {
		p := &domain.Patient{}
		if err := rows.Scan(&p.ID, &p.ExternalID, &p.Sex, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan patient: %w", err)
		}
		result = append(result, p)
	}
	return result, rows.Err()
}
