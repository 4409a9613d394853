package service

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hepatica-risk-engine/internal/clinical"
	"github.com/hepatica-risk-engine/internal/domain"
	"github.com/hepatica-risk-engine/internal/imaging"
	"github.com/hepatica-risk-engine/pkg/numeric"
)

// Triage runs Stage 1 for the patient and persists the assessment.
func (s *RiskService) Triage(ctx context.Context, patientID, performedBy string, in domain.ClinicalInput) (*domain.ClinicalAssessment, error) {
	startTime := time.Now()

	if err := s.requirePatient(ctx, s.store, patientID); err != nil {
		return nil, err
	}

	// A registry entry overrides both the artifact directory and the reported
	// version; without one the run metadata decides.
	res, err := s.resolver.Resolve(ctx, s.store, s.cfg.Stage1.RegistryModelName, "", s.cfg.Stage1.ArtifactDir)
	if err != nil {
		return nil, err
	}

	result, err := s.clinical.Assess(in, clinical.ModelSource{ArtifactDir: res.ArtifactPath, Version: res.Version})
	if err != nil {
		return nil, fmt.Errorf("stage 1 triage failed: %w", err)
	}

	assessment := &domain.ClinicalAssessment{
		PatientID:     patientID,
		PerformedBy:   performedBy,
		ClinicalInput: in,
		FIB4:          result.FIB4,
		APRI:          result.APRI,
		RiskTier:      result.RiskTier,
		Probability:   result.Probability,
		ModelVersion:  result.ModelVersion,
		InferenceMode: result.InferenceMode,
	}

	err = s.store.Transact(ctx, domain.TxOptions{}, func(tx domain.Store) error {
		if err := tx.SaveClinicalAssessment(ctx, assessment); err != nil {
			return err
		}
		return tx.AppendTimelineEvent(ctx, &domain.TimelineEvent{
			PatientID: patientID,
			EventType: domain.EventClinicalCompleted,
			CreatedBy: performedBy,
			Payload: map[string]any{
				"clinical_assessment_id": assessment.ID,
				"risk_tier":              string(assessment.RiskTier),
				"probability":            assessment.Probability,
				"inference_mode":         string(assessment.InferenceMode),
			},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to persist clinical assessment: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"patient_id":     patientID,
		"risk_tier":      assessment.RiskTier,
		"fib4":           numeric.Round(assessment.FIB4, 4),
		"apri":           numeric.Round(assessment.APRI, 4),
		"inference_mode": assessment.InferenceMode,
		"model_version":  assessment.ModelVersion,
		"duration":       time.Since(startTime),
	}).Info("Stage 1 triage completed")

	return assessment, nil
}

// PredictScan runs Stage 2 on raw scan bytes and persists the prediction.
// The configured quality gate is applied before inference.
func (s *RiskService) PredictScan(ctx context.Context, patientID, performedBy, scanAssetID string, data []byte) (*domain.FibrosisPrediction, error) {
	startTime := time.Now()

	if err := s.requirePatient(ctx, s.store, patientID); err != nil {
		return nil, err
	}

	res, err := s.resolver.Resolve(ctx, s.store, s.cfg.Stage2.RegistryModelName, "", s.cfg.Stage2.ModelArtifactPath)
	if err != nil {
		return nil, err
	}

	runtime, err := imaging.NewRuntime(s.logger, s.provider, imaging.RuntimeOptions{
		ModelPath:       res.ArtifactPath,
		TemperaturePath: s.cfg.Stage2.TemperatureArtifactPath,
		ModelVersion:    res.Version,
		Strict:          s.strict,
	})
	if err != nil {
		return nil, fmt.Errorf("stage 2 runtime unavailable: %w", err)
	}

	analysis, err := s.pipeline.Analyze(runtime, data)
	if err != nil {
		return nil, fmt.Errorf("stage 2 prediction failed: %w", err)
	}

	p := analysis.Prediction
	prediction := &domain.FibrosisPrediction{
		PatientID:      patientID,
		ScanAssetID:    scanAssetID,
		PerformedBy:    performedBy,
		ModelVersion:   p.ModelVersion,
		Softmax:        p.Softmax,
		Top1:           p.Top1,
		Top2:           p.Top2,
		ConfidenceFlag: p.ConfidenceFlag,
		EscalationFlag: p.EscalationFlag,
		InferenceMode:  p.InferenceMode,
		Quality:        analysis.Quality,
	}

	err = s.store.Transact(ctx, domain.TxOptions{}, func(tx domain.Store) error {
		if err := tx.SaveFibrosisPrediction(ctx, prediction); err != nil {
			return err
		}
		return tx.AppendTimelineEvent(ctx, &domain.TimelineEvent{
			PatientID: patientID,
			EventType: domain.EventFibrosisCompleted,
			CreatedBy: performedBy,
			Payload: map[string]any{
				"fibrosis_prediction_id": prediction.ID,
				"top1_stage":             string(prediction.Top1.Stage),
				"top1_probability":       prediction.Top1.Probability,
				"confidence_flag":        string(prediction.ConfidenceFlag),
				"escalation_flag":        string(prediction.EscalationFlag),
				"quality_valid":          prediction.QualityValid(),
			},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to persist fibrosis prediction: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"patient_id":      patientID,
		"top1_stage":      prediction.Top1.Stage,
		"confidence_flag": prediction.ConfidenceFlag,
		"inference_mode":  prediction.InferenceMode,
		"model_version":   prediction.ModelVersion,
		"duration":        time.Since(startTime),
	}).Info("Stage 2 prediction completed")

	return prediction, nil
}

// RecordStiffness persists an elastography or manually entered proxy value.
func (s *RiskService) RecordStiffness(ctx context.Context, m *domain.StiffnessMeasurement) error {
	if !numeric.Finite(m.MeasuredKPa) || m.MeasuredKPa < 0 {
		return domain.NewInvalidInputError("measured_kpa", "must be a finite, non-negative kPa", m.MeasuredKPa)
	}
	if m.CAPdBm != nil && (!numeric.Finite(*m.CAPdBm) || *m.CAPdBm < 0) {
		return domain.NewInvalidInputError("cap_dbm", "must be finite and non-negative", *m.CAPdBm)
	}
	if m.Source == "" {
		m.Source = domain.StiffnessMeasured
	}
	if !m.Source.IsValid() {
		return fmt.Errorf("unknown stiffness source %q", m.Source)
	}

	if err := s.requirePatient(ctx, s.store, m.PatientID); err != nil {
		return err
	}

	return s.store.Transact(ctx, domain.TxOptions{}, func(tx domain.Store) error {
		if err := tx.SaveStiffnessMeasurement(ctx, m); err != nil {
			return err
		}
		return tx.AppendTimelineEvent(ctx, &domain.TimelineEvent{
			PatientID: m.PatientID,
			EventType: domain.EventStiffnessRecorded,
			CreatedBy: m.EnteredBy,
			Payload: map[string]any{
				"stiffness_measurement_id": m.ID,
				"measured_kpa":             m.MeasuredKPa,
				"source":                   string(m.Source),
			},
		})
	})
}
