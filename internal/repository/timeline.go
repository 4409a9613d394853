package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/hepatica-risk-engine/internal/domain"
)

// AppendTimelineEvent inserts a timeline event.
func (s *SQLStore) AppendTimelineEvent(ctx context.Context, e *domain.TimelineEvent) error {
	s.stamp(&e.ID, &e.CreatedAt)
	if e.Payload == nil {
		e.Payload = map[string]any{}
	}
	payload, err := s.jsonArg(e.Payload)
	if err != nil {
		return fmt.Errorf("encoding event payload: %w", err)
	}
	err = s.exec(ctx, `
		INSERT INTO timeline_events (id, patient_id, event_type, event_payload, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.PatientID, e.EventType, payload, e.CreatedBy, e.CreatedAt,
	)
	if err != nil {
		return s.fail("insert timeline event", err, logrus.Fields{
			"patient_id": e.PatientID,
			"event_type": e.EventType,
		})
	}
	return nil
}

// ListTimelineEvents returns the patient's events, oldest first.
func (s *SQLStore) ListTimelineEvents(ctx context.Context, patientID string) ([]*domain.TimelineEvent, error) {
	rows, err := s.query(ctx, `
		SELECT id, patient_id, event_type, event_payload, created_by, created_at
		FROM timeline_events WHERE patient_id = ? ORDER BY created_at ASC`, patientID)
	if err != nil {
		return nil, fmt.Errorf("failed to query timeline events: %w", err)
	}
	defer rows.Close()

	var result []*domain.TimelineEvent
	for rows.Next() {
		e := &domain.TimelineEvent{}
		var payload []byte
		if err := rows.Scan(&e.ID, &e.PatientID, &e.EventType, &payload, &e.CreatedBy, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan timeline event: %w", err)
		}
		if err := json.Unmarshal(payload, &e.Payload); err != nil {
			return nil, fmt.Errorf("decoding event payload: %w", err)
		}
		result = append(result, e)
	}
	return result, rows.Err()
}
