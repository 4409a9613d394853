package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hepatica-risk-engine/internal/alerting"
	"github.com/hepatica-risk-engine/internal/domain"
	"github.com/hepatica-risk-engine/internal/fusion"
	"github.com/hepatica-risk-engine/internal/stiffness"
)

// Selection pins the inputs of a Stage 3 run. Empty ids select the
// patient's latest row of that kind.
type Selection struct {
	ClinicalAssessmentID   string `json:"clinical_assessment_id,omitempty"`
	FibrosisPredictionID   string `json:"fibrosis_prediction_id,omitempty"`
	StiffnessMeasurementID string `json:"stiffness_measurement_id,omitempty"`
}

// Stage3Outcome is everything one Stage 3 run persisted.
type Stage3Outcome struct {
	Assessment  *domain.Stage3Assessment  `json:"assessment"`
	Explanation *domain.Stage3Explanation `json:"explanation"`
	Alerts      *alerting.Outcome         `json:"alerts"`
}

// RunAssessment fuses the patient's prior results into a Stage 3
// assessment. All writes of the run commit or roll back together.
func (s *RiskService) RunAssessment(ctx context.Context, patientID, performedBy string, sel Selection) (*Stage3Outcome, error) {
	var outcome *Stage3Outcome
	err := s.store.Transact(ctx, domain.TxOptions{}, func(tx domain.Store) error {
		var err error
		outcome, err = s.RunAssessmentTx(ctx, tx, patientID, performedBy, sel)
		return err
	})
	if err != nil {
		return nil, err
	}
	return outcome, nil
}

// RunAssessmentTx is RunAssessment against a caller-owned transaction.
func (s *RiskService) RunAssessmentTx(ctx context.Context, tx domain.Store, patientID, performedBy string, sel Selection) (*Stage3Outcome, error) {
	startTime := time.Now()

	if !s.cfg.Stage3.Enabled {
		return nil, domain.ErrStage3Disabled
	}

	// Step 1: resolve the selected or latest prior results
	clinicalRow, err := selectOrLatest(ctx, patientID, sel.ClinicalAssessmentID, "clinical assessment",
		tx.GetClinicalAssessment, tx.LatestClinicalAssessment,
		func(a *domain.ClinicalAssessment) string { return a.PatientID })
	if err != nil {
		return nil, err
	}
	fibrosisRow, err := selectOrLatest(ctx, patientID, sel.FibrosisPredictionID, "fibrosis prediction",
		tx.GetFibrosisPrediction, tx.LatestFibrosisPrediction,
		func(p *domain.FibrosisPrediction) string { return p.PatientID })
	if err != nil {
		return nil, err
	}
	if clinicalRow == nil && fibrosisRow == nil {
		return nil, domain.NewFusionPreconditionError("at least one prior Stage 1 or Stage 2 assessment is required")
	}

	// Step 2: stiffness, falling back to a persisted proxy estimate
	stiffnessRow, err := selectOrLatest(ctx, patientID, sel.StiffnessMeasurementID, "stiffness measurement",
		tx.GetStiffnessMeasurement, tx.LatestStiffnessMeasurement,
		func(m *domain.StiffnessMeasurement) string { return m.PatientID })
	if err != nil {
		return nil, err
	}
	if stiffnessRow == nil {
		stiffnessRow, err = s.persistProxyStiffness(ctx, tx, patientID, performedBy, clinicalRow, fibrosisRow)
		if err != nil {
			return nil, err
		}
	}

	previous, err := tx.LatestStage3Assessment(ctx, patientID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("failed to load previous assessment: %w", err)
	}

	// Step 3: registry model and fusion
	res, err := s.resolver.Resolve(ctx, tx, s.cfg.Stage3.RegistryModelName, s.defaultStage3Version(), s.cfg.Stage3.ArtifactDir)
	if err != nil {
		return nil, err
	}

	policy := s.cfg.Stage3.AlertPolicy()
	result, err := s.fusion.Compute(fusion.Input{
		Clinical:        clinicalRow,
		Fibrosis:        fibrosisRow,
		StiffnessKPa:    stiffnessRow.MeasuredKPa,
		StiffnessSource: stiffnessRow.Source,
		Previous:        previous,
		ArtifactDir:     res.ArtifactPath,
		ModelVersion:    res.Version,
		Policy:          policy,
	})
	if err != nil {
		return nil, err
	}

	// Step 4: persist the assessment and its explanation
	assessment := &domain.Stage3Assessment{
		PatientID:              patientID,
		StiffnessMeasurementID: stiffnessRow.ID,
		PerformedBy:            performedBy,
		CompositeRiskScore:     result.CompositeRiskScore,
		ProgressionRisk12m:     result.ProgressionRisk12m,
		DecompRisk12m:          result.DecompRisk12m,
		RiskTier:               result.RiskTier,
		ModelVersion:           result.ModelVersion,
		InferenceMode:          result.InferenceMode,
		FeatureSnapshot:        result.Snapshot,
	}
	if clinicalRow != nil {
		assessment.ClinicalAssessmentID = clinicalRow.ID
	}
	if fibrosisRow != nil {
		assessment.FibrosisPredictionID = fibrosisRow.ID
	}
	if err := tx.SaveStage3Assessment(ctx, assessment); err != nil {
		return nil, fmt.Errorf("failed to persist stage 3 assessment: %w", err)
	}

	explanation := &domain.Stage3Explanation{
		AssessmentID:           assessment.ID,
		Local:                  result.Contributions,
		GlobalReferenceVersion: result.ModelVersion,
		TrendPoints:            []domain.TrendPoint{},
	}
	if err := tx.SaveStage3Explanation(ctx, explanation); err != nil {
		return nil, fmt.Errorf("failed to persist stage 3 explanation: %w", err)
	}

	// The trend includes the assessment just written.
	points, err := s.trend.Build(ctx, tx, patientID)
	if err != nil {
		return nil, err
	}
	if err := tx.UpdateTrendPoints(ctx, explanation.ID, points); err != nil {
		return nil, fmt.Errorf("failed to persist trend points: %w", err)
	}
	explanation.TrendPoints = points

	// Step 5: alerts, at the same threshold the snapshot records
	alerts, err := s.alerts.Upsert(ctx, tx, assessment, policy, performedBy)
	if err != nil {
		return nil, err
	}

	err = tx.AppendTimelineEvent(ctx, &domain.TimelineEvent{
		PatientID: patientID,
		EventType: domain.EventStage3Completed,
		CreatedBy: performedBy,
		Payload: map[string]any{
			"stage3_assessment_id": assessment.ID,
			"risk_tier":            string(assessment.RiskTier),
			"composite_risk_score": assessment.CompositeRiskScore,
			"inference_mode":       string(assessment.InferenceMode),
			"alerts_created":       len(alerts.Created),
			"alerts_updated":       len(alerts.Updated),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record stage 3 event: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"patient_id":     patientID,
		"risk_tier":      assessment.RiskTier,
		"score":          assessment.CompositeRiskScore,
		"inference_mode": assessment.InferenceMode,
		"model_version":  assessment.ModelVersion,
		"alerts_created": len(alerts.Created),
		"duration":       time.Since(startTime),
	}).Info("Stage 3 assessment completed")

	return &Stage3Outcome{Assessment: assessment, Explanation: explanation, Alerts: alerts}, nil
}

func (s *RiskService) persistProxyStiffness(
	ctx context.Context,
	tx domain.Store,
	patientID, performedBy string,
	clinicalRow *domain.ClinicalAssessment,
	fibrosisRow *domain.FibrosisPrediction,
) (*domain.StiffnessMeasurement, error) {
	if !s.cfg.Stage3.StiffnessProxyEnabled {
		return nil, domain.NewFusionPreconditionError("no stiffness measurement found and proxy fallback is disabled")
	}

	estimate := stiffness.EstimateProxy(clinicalRow, fibrosisRow)
	m := &domain.StiffnessMeasurement{
		PatientID:   patientID,
		EnteredBy:   performedBy,
		MeasuredKPa: estimate.KPa,
		Source:      estimate.Source,
		MeasuredAt:  time.Now().UTC(),
	}
	if err := tx.SaveStiffnessMeasurement(ctx, m); err != nil {
		return nil, fmt.Errorf("failed to persist proxy stiffness: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"patient_id":    patientID,
		"estimated_kpa": estimate.KPa,
	}).Warn("No stiffness measurement, using proxy estimate")
	return m, nil
}

func (s *RiskService) defaultStage3Version() string {
	if name := s.cfg.Stage3.RegistryModelName; name != "" {
		return name + ":v1"
	}
	return fusion.DefaultVersion
}

// selectOrLatest loads the row with id when set, requiring it to belong to
// the patient, or else the patient's latest row. A patient with no rows of
// that kind yields nil.
func selectOrLatest[T any](
	ctx context.Context,
	patientID, id, kind string,
	get func(context.Context, string) (*T, error),
	latest func(context.Context, string) (*T, error),
	owner func(*T) string,
) (*T, error) {
	if id != "" {
		row, err := get(ctx, id)
		if err != nil {
			return nil, err
		}
		if owner(row) != patientID {
			return nil, fmt.Errorf("%s %s for patient %s: %w", kind, id, patientID, domain.ErrNotFound)
		}
		return row, nil
	}

	row, err := latest(ctx, patientID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load latest %s: %w", kind, err)
	}
	return row, nil
}
