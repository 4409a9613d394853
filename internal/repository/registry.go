package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/hepatica-risk-engine/internal/domain"
)

// SaveModel inserts or updates a registry entry keyed by (name, version).
func (s *SQLStore) SaveModel(ctx context.Context, m *domain.ModelRegistryEntry) error {
	s.stamp(&m.ID, &m.CreatedAt)
	if m.Metrics == nil {
		m.Metrics = map[string]float64{}
	}
	metrics, err := s.jsonArg(m.Metrics)
	if err != nil {
		return fmt.Errorf("encoding model metrics: %w", err)
	}

	err = s.queryRow(ctx, `
		INSERT INTO model_registry (id, name, version, artifact_uri, metrics, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (name, version) DO UPDATE SET
			artifact_uri = excluded.artifact_uri,
			metrics = excluded.metrics,
			active = excluded.active
		RETURNING id, created_at`,
		m.ID, m.Name, m.Version, m.ArtifactURI, metrics, m.Active, m.CreatedAt,
	).Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		return s.fail("save model", err, logrus.Fields{"name": m.Name, "version": m.Version})
	}
	return nil
}

// ActiveModel returns the newest active entry for name, or nil when none.
func (s *SQLStore) ActiveModel(ctx context.Context, name string) (*domain.ModelRegistryEntry, error) {
	m := &domain.ModelRegistryEntry{}
	var metrics []byte
	err := s.queryRow(ctx, `
		SELECT id, name, version, artifact_uri, metrics, active, created_at
		FROM model_registry WHERE name = ? AND active = ?
		ORDER BY created_at DESC LIMIT 1`, name, true,
	).Scan(&m.ID, &m.Name, &m.Version, &m.ArtifactURI, &metrics, &m.Active, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting active model: %w", err)
	}
	if err := json.Unmarshal(metrics, &m.Metrics); err != nil {
		return nil, fmt.Errorf("decoding model metrics: %w", err)
	}
	return m, nil
}
