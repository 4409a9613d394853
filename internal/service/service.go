// Package service orchestrates the three assessment stages over a Store:
// it resolves inputs and registry models, runs the engines, persists every
// result and records patient timeline events.
package service

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/hepatica-risk-engine/internal/alerting"
	"github.com/hepatica-risk-engine/internal/artifacts"
	"github.com/hepatica-risk-engine/internal/clinical"
	"github.com/hepatica-risk-engine/internal/config"
	"github.com/hepatica-risk-engine/internal/domain"
	"github.com/hepatica-risk-engine/internal/fusion"
	"github.com/hepatica-risk-engine/internal/imaging"
	"github.com/hepatica-risk-engine/internal/registry"
	"github.com/hepatica-risk-engine/internal/trend"
)

// RiskService implements patient risk assessment across all stages
type RiskService struct {
	logger   *logrus.Logger
	cfg      *domain.Config
	strict   bool
	store    domain.Store
	provider *artifacts.Provider

	clinical *clinical.Engine
	fusion   *fusion.Engine
	pipeline *imaging.Pipeline
	resolver *registry.Resolver
	alerts   *alerting.Manager
	trend    *trend.Tracker
}

// NewRiskService creates a new risk service. Strict mode is derived from cfg.
func NewRiskService(
	logger *logrus.Logger,
	cfg *domain.Config,
	store domain.Store,
	provider *artifacts.Provider,
) *RiskService {
	strict := config.StrictMode(cfg)
	return &RiskService{
		logger:   logger,
		cfg:      cfg,
		strict:   strict,
		store:    store,
		provider: provider,
		clinical: clinical.NewEngine(logger, provider, cfg.Stage1, strict),
		fusion:   fusion.NewEngine(logger, provider, config.Stage3StrictMode(cfg)),
		pipeline: imaging.NewPipeline(logger, cfg.Stage2.QualityGate),
		resolver: registry.NewResolver(logger),
		alerts:   alerting.NewManager(logger),
		trend:    trend.NewTracker(logger, cfg.Stage3.TrendLimit),
	}
}

// StrictMode reports whether unavailable learned models are fatal.
func (s *RiskService) StrictMode() bool {
	return s.strict
}

// RegisterPatient persists a new patient identity.
func (s *RiskService) RegisterPatient(ctx context.Context, p *domain.Patient) error {
	if err := s.store.SavePatient(ctx, p); err != nil {
		return fmt.Errorf("failed to register patient: %w", err)
	}
	s.logger.WithField("patient_id", p.ID).Info("Patient registered")
	return nil
}

// UpdateAlertStatus moves an alert along its lifecycle.
func (s *RiskService) UpdateAlertStatus(ctx context.Context, alertID string, next domain.AlertStatus, actor string) (*domain.RiskAlert, error) {
	var updated *domain.RiskAlert
	err := s.store.Transact(ctx, domain.TxOptions{}, func(tx domain.Store) error {
		var err error
		updated, err = s.alerts.UpdateStatus(ctx, tx, alertID, next, actor)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// ListAlerts returns the patient's alerts newest first, optionally filtered by status.
func (s *RiskService) ListAlerts(ctx context.Context, patientID string, status domain.AlertStatus) ([]*domain.RiskAlert, error) {
	return s.alerts.ListAlerts(ctx, s.store, patientID, status)
}

// Explanation returns the explanation stored with a Stage 3 assessment.
func (s *RiskService) Explanation(ctx context.Context, assessmentID string) (*domain.Stage3Explanation, error) {
	return s.store.GetStage3Explanation(ctx, assessmentID)
}

// Timeline returns the patient's event history, oldest first.
func (s *RiskService) Timeline(ctx context.Context, patientID string) ([]*domain.TimelineEvent, error) {
	return s.store.ListTimelineEvents(ctx, patientID)
}

// ArtifactHealth inspects every stage's artifacts at the locations inference
// resolves them from.
func (s *RiskService) ArtifactHealth(ctx context.Context) (map[string]domain.ArtifactHealth, error) {
	return ArtifactHealth(ctx, s.resolver, s.cfg, s.store)
}

// ArtifactHealth inspects every stage's artifacts without running inference,
// keyed by stage. Each stage's location is resolved through the model
// registry the same way inference resolves it, and a missing active registry
// row is reported as a problem. Stages that never load a learned model
// (Stage 1 with ML off, Stage 3 disabled) are reported healthy and lenient.
func ArtifactHealth(ctx context.Context, resolver *registry.Resolver, cfg *domain.Config, store domain.RegistryStore) (map[string]domain.ArtifactHealth, error) {
	strict := config.StrictMode(cfg)
	health := map[string]domain.ArtifactHealth{
		"stage1": domain.NewArtifactHealth(false, nil),
		"stage3": domain.NewArtifactHealth(false, nil),
	}

	if cfg.Stage1.MLEnabled {
		res, err := resolver.Resolve(ctx, store, cfg.Stage1.RegistryModelName, "", cfg.Stage1.ArtifactDir)
		if err != nil {
			return nil, err
		}
		health["stage1"] = withRegistry(cfg.Stage1.RegistryModelName, res,
			clinical.InspectArtifacts(res.ArtifactPath, strict))
	}

	res, err := resolver.Resolve(ctx, store, cfg.Stage2.RegistryModelName, "", cfg.Stage2.ModelArtifactPath)
	if err != nil {
		return nil, err
	}
	health["stage2"] = withRegistry(cfg.Stage2.RegistryModelName, res,
		imaging.InspectArtifacts(res.ArtifactPath, cfg.Stage2.TemperatureArtifactPath, strict))

	if cfg.Stage3.Enabled {
		res, err := resolver.Resolve(ctx, store, cfg.Stage3.RegistryModelName, "", cfg.Stage3.ArtifactDir)
		if err != nil {
			return nil, err
		}
		health["stage3"] = withRegistry(cfg.Stage3.RegistryModelName, res,
			fusion.InspectArtifacts(res.ArtifactPath, config.Stage3StrictMode(cfg)))
	}
	return health, nil
}

func withRegistry(name string, res registry.Resolution, inspected domain.ArtifactHealth) domain.ArtifactHealth {
	if res.Entry != nil {
		return inspected
	}
	problems := append([]string{fmt.Sprintf("no active model_registry row for %s", name)}, inspected.Errors...)
	return domain.NewArtifactHealth(inspected.StrictMode, problems)
}

func (s *RiskService) requirePatient(ctx context.Context, store domain.PatientStore, patientID string) error {
	if _, err := store.GetPatient(ctx, patientID); err != nil {
		return fmt.Errorf("failed to load patient: %w", err)
	}
	return nil
}
