package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/hepatica-risk-engine/internal/domain"
)

const clinicalColumns = `id, patient_id, performed_by, age, ast, alt, platelets, ast_uln, bmi,
	type2dm, sex, fib4, apri, risk_tier, probability, model_version, inference_mode, created_at`

// SaveClinicalAssessment inserts a Stage 1 result.
func (s *SQLStore) SaveClinicalAssessment(ctx context.Context, a *domain.ClinicalAssessment) error {
	s.stamp(&a.ID, &a.CreatedAt)
	err := s.exec(ctx, `
		INSERT INTO clinical_assessments (`+clinicalColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.PatientID, a.PerformedBy, a.Age, a.AST, a.ALT, a.Platelets, a.ASTULN, a.BMI,
		a.Type2DM, a.Sex, a.FIB4, a.APRI, string(a.RiskTier), a.Probability, a.ModelVersion,
		string(a.InferenceMode), a.CreatedAt,
	)
	if err != nil {
		return s.fail("insert clinical assessment", err, logrus.Fields{"patient_id": a.PatientID})
	}
	return nil
}

func scanClinical(sc scanner) (*domain.ClinicalAssessment, error) {
	a := &domain.ClinicalAssessment{}
	var tier, mode string
	err := sc.Scan(
		&a.ID, &a.PatientID, &a.PerformedBy, &a.Age, &a.AST, &a.ALT, &a.Platelets, &a.ASTULN, &a.BMI,
		&a.Type2DM, &a.Sex, &a.FIB4, &a.APRI, &tier, &a.Probability, &a.ModelVersion, &mode, &a.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.RiskTier = domain.RiskTier(tier)
	a.InferenceMode = domain.InferenceMode(mode)
	return a, nil
}

// GetClinicalAssessment retrieves a Stage 1 result by id.
func (s *SQLStore) GetClinicalAssessment(ctx context.Context, id string) (*domain.ClinicalAssessment, error) {
	a, err := scanClinical(s.queryRow(ctx, "SELECT "+clinicalColumns+" FROM clinical_assessments WHERE id = ?", id))
	if err != nil {
		return nil, notFound("clinical assessment", id, err)
	}
	return a, nil
}

// LatestClinicalAssessment returns the patient's newest Stage 1 result.
func (s *SQLStore) LatestClinicalAssessment(ctx context.Context, patientID string) (*domain.ClinicalAssessment, error) {
	a, err := scanClinical(s.queryRow(ctx, "SELECT "+clinicalColumns+
		" FROM clinical_assessments WHERE patient_id = ? ORDER BY created_at DESC LIMIT 1", patientID))
	if err != nil {
		return nil, notFound("clinical assessment for patient", patientID, err)
	}
	return a, nil
}

const fibrosisColumns = `id, patient_id, scan_asset_id, performed_by, model_version, softmax_vector,
	top1_stage, top1_probability, top2, confidence_flag, escalation_flag, inference_mode,
	quality_metrics, created_at`

// SaveFibrosisPrediction inserts a Stage 2 result.
func (s *SQLStore) SaveFibrosisPrediction(ctx context.Context, p *domain.FibrosisPrediction) error {
	s.stamp(&p.ID, &p.CreatedAt)

	softmax, err := s.jsonArg(p.Softmax)
	if err != nil {
		return fmt.Errorf("encoding softmax: %w", err)
	}
	top2, err := s.jsonArg(p.Top2)
	if err != nil {
		return fmt.Errorf("encoding top2: %w", err)
	}
	var quality any
	if p.Quality != nil {
		if quality, err = s.jsonArg(p.Quality); err != nil {
			return fmt.Errorf("encoding quality metrics: %w", err)
		}
	}

	err = s.exec(ctx, `
		INSERT INTO fibrosis_predictions (`+fibrosisColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.PatientID, p.ScanAssetID, p.PerformedBy, p.ModelVersion, softmax,
		string(p.Top1.Stage), p.Top1.Probability, top2, string(p.ConfidenceFlag),
		string(p.EscalationFlag), string(p.InferenceMode), quality, p.CreatedAt,
	)
	if err != nil {
		return s.fail("insert fibrosis prediction", err, logrus.Fields{"patient_id": p.PatientID})
	}
	return nil
}

func scanFibrosis(sc scanner) (*domain.FibrosisPrediction, error) {
	p := &domain.FibrosisPrediction{}
	var softmax, top2, quality []byte
	var stage, confidence, escalation, mode string
	err := sc.Scan(
		&p.ID, &p.PatientID, &p.ScanAssetID, &p.PerformedBy, &p.ModelVersion, &softmax,
		&stage, &p.Top1.Probability, &top2, &confidence, &escalation, &mode,
		&quality, &p.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.Top1.Stage = domain.FibrosisStage(stage)
	p.ConfidenceFlag = domain.ConfidenceFlag(confidence)
	p.EscalationFlag = domain.EscalationFlag(escalation)
	p.InferenceMode = domain.InferenceMode(mode)

	if err := json.Unmarshal(softmax, &p.Softmax); err != nil {
		return nil, fmt.Errorf("decoding softmax: %w", err)
	}
	if err := json.Unmarshal(top2, &p.Top2); err != nil {
		return nil, fmt.Errorf("decoding top2: %w", err)
	}
	if len(quality) > 0 {
		p.Quality = &domain.QualityResult{}
		if err := json.Unmarshal(quality, p.Quality); err != nil {
			return nil, fmt.Errorf("decoding quality metrics: %w", err)
		}
	}
	return p, nil
}

// GetFibrosisPrediction retrieves a Stage 2 result by id.
func (s *SQLStore) GetFibrosisPrediction(ctx context.Context, id string) (*domain.FibrosisPrediction, error) {
	p, err := scanFibrosis(s.queryRow(ctx, "SELECT "+fibrosisColumns+" FROM fibrosis_predictions WHERE id = ?", id))
	if err != nil {
		return nil, notFound("fibrosis prediction", id, err)
	}
	return p, nil
}

// LatestFibrosisPrediction returns the patient's newest Stage 2 result.
func (s *SQLStore) LatestFibrosisPrediction(ctx context.Context, patientID string) (*domain.FibrosisPrediction, error) {
	p, err := scanFibrosis(s.queryRow(ctx, "SELECT "+fibrosisColumns+
		" FROM fibrosis_predictions WHERE patient_id = ? ORDER BY created_at DESC LIMIT 1", patientID))
	if err != nil {
		return nil, notFound("fibrosis prediction for patient", patientID, err)
	}
	return p, nil
}

const stiffnessColumns = `id, patient_id, entered_by, measured_kpa, cap_dbm, source, measured_at, created_at`

// SaveStiffnessMeasurement inserts a stiffness value. MeasuredAt defaults to
// the creation time.
func (s *SQLStore) SaveStiffnessMeasurement(ctx context.Context, m *domain.StiffnessMeasurement) error {
	s.stamp(&m.ID, &m.CreatedAt)
	if m.MeasuredAt.IsZero() {
		m.MeasuredAt = m.CreatedAt
	}
	err := s.exec(ctx, `
		INSERT INTO stiffness_measurements (`+stiffnessColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.PatientID, m.EnteredBy, m.MeasuredKPa, nullFloat(m.CAPdBm), string(m.Source),
		m.MeasuredAt, m.CreatedAt,
	)
	if err != nil {
		return s.fail("insert stiffness measurement", err, logrus.Fields{"patient_id": m.PatientID})
	}
	return nil
}

func scanStiffness(sc scanner) (*domain.StiffnessMeasurement, error) {
	m := &domain.StiffnessMeasurement{}
	var capDBm sql.NullFloat64
	var source string
	if err := sc.Scan(&m.ID, &m.PatientID, &m.EnteredBy, &m.MeasuredKPa, &capDBm, &source, &m.MeasuredAt, &m.CreatedAt); err != nil {
		return nil, err
	}
	if capDBm.Valid {
		v := capDBm.Float64
		m.CAPdBm = &v
	}
	m.Source = domain.StiffnessSource(source)
	return m, nil
}

// GetStiffnessMeasurement retrieves a stiffness value by id.
func (s *SQLStore) GetStiffnessMeasurement(ctx context.Context, id string) (*domain.StiffnessMeasurement, error) {
	m, err := scanStiffness(s.queryRow(ctx, "SELECT "+stiffnessColumns+" FROM stiffness_measurements WHERE id = ?", id))
	if err != nil {
		return nil, notFound("stiffness measurement", id, err)
	}
	return m, nil
}

// LatestStiffnessMeasurement returns the patient's newest stiffness value.
func (s *SQLStore) LatestStiffnessMeasurement(ctx context.Context, patientID string) (*domain.StiffnessMeasurement, error) {
	m, err := scanStiffness(s.queryRow(ctx, "SELECT "+stiffnessColumns+
		" FROM stiffness_measurements WHERE patient_id = ? ORDER BY created_at DESC LIMIT 1", patientID))
	if err != nil {
		return nil, notFound("stiffness measurement for patient", patientID, err)
	}
	return m, nil
}

const stage3Columns = `id, patient_id, clinical_assessment_id, fibrosis_prediction_id, stiffness_measurement_id,
	performed_by, composite_risk_score, progression_risk_12m, decomp_risk_12m, risk_tier,
	model_version, inference_mode, feature_snapshot, created_at`

// SaveStage3Assessment inserts a fused assessment.
func (s *SQLStore) SaveStage3Assessment(ctx context.Context, a *domain.Stage3Assessment) error {
	s.stamp(&a.ID, &a.CreatedAt)
	snapshot, err := s.jsonArg(a.FeatureSnapshot)
	if err != nil {
		return fmt.Errorf("encoding feature snapshot: %w", err)
	}
	err = s.exec(ctx, `
		INSERT INTO stage3_assessments (`+stage3Columns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.PatientID, nullString(a.ClinicalAssessmentID), nullString(a.FibrosisPredictionID),
		nullString(a.StiffnessMeasurementID), a.PerformedBy, a.CompositeRiskScore, a.ProgressionRisk12m,
		a.DecompRisk12m, string(a.RiskTier), a.ModelVersion, string(a.InferenceMode), snapshot, a.CreatedAt,
	)
	if err != nil {
		return s.fail("insert stage 3 assessment", err, logrus.Fields{"patient_id": a.PatientID})
	}
	return nil
}

func scanStage3(sc scanner) (*domain.Stage3Assessment, error) {
	a := &domain.Stage3Assessment{}
	var clinicalID, fibrosisID, stiffnessID sql.NullString
	var tier, mode string
	var snapshot []byte
	err := sc.Scan(
		&a.ID, &a.PatientID, &clinicalID, &fibrosisID, &stiffnessID,
		&a.PerformedBy, &a.CompositeRiskScore, &a.ProgressionRisk12m, &a.DecompRisk12m, &tier,
		&a.ModelVersion, &mode, &snapshot, &a.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.ClinicalAssessmentID = clinicalID.String
	a.FibrosisPredictionID = fibrosisID.String
	a.StiffnessMeasurementID = stiffnessID.String
	a.RiskTier = domain.RiskTier(tier)
	a.InferenceMode = domain.InferenceMode(mode)
	if err := json.Unmarshal(snapshot, &a.FeatureSnapshot); err != nil {
		return nil, fmt.Errorf("decoding feature snapshot: %w", err)
	}
	return a, nil
}

// GetStage3Assessment retrieves a fused assessment by id.
func (s *SQLStore) GetStage3Assessment(ctx context.Context, id string) (*domain.Stage3Assessment, error) {
	a, err := scanStage3(s.queryRow(ctx, "SELECT "+stage3Columns+" FROM stage3_assessments WHERE id = ?", id))
	if err != nil {
		return nil, notFound("stage 3 assessment", id, err)
	}
	return a, nil
}

// LatestStage3Assessment returns the patient's newest fused assessment.
func (s *SQLStore) LatestStage3Assessment(ctx context.Context, patientID string) (*domain.Stage3Assessment, error) {
	a, err := scanStage3(s.queryRow(ctx, "SELECT "+stage3Columns+
		" FROM stage3_assessments WHERE patient_id = ? ORDER BY created_at DESC LIMIT 1", patientID))
	if err != nil {
		return nil, notFound("stage 3 assessment for patient", patientID, err)
	}
	return a, nil
}

// ListStage3Assessments returns up to limit assessments, newest first.
func (s *SQLStore) ListStage3Assessments(ctx context.Context, patientID string, limit int) ([]*domain.Stage3Assessment, error) {
	q := "SELECT " + stage3Columns + " FROM stage3_assessments WHERE patient_id = ? ORDER BY created_at DESC"
	args := []any{patientID}
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query stage 3 assessments: %w", err)
	}
	defer rows.Close()

	var result []*domain.Stage3Assessment
	for rows.Next() {
		a, err := scanStage3(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan stage 3 assessment: %w", err)
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

const explanationColumns = `id, stage3_assessment_id, local_feature_contrib, global_reference_version, trend_points, created_at`

// SaveStage3Explanation inserts the explanation of an assessment.
func (s *SQLStore) SaveStage3Explanation(ctx context.Context, e *domain.Stage3Explanation) error {
	s.stamp(&e.ID, &e.CreatedAt)
	if e.TrendPoints == nil {
		e.TrendPoints = []domain.TrendPoint{}
	}
	local, err := s.jsonArg(e.Local)
	if err != nil {
		return fmt.Errorf("encoding local contributions: %w", err)
	}
	trend, err := s.jsonArg(e.TrendPoints)
	if err != nil {
		return fmt.Errorf("encoding trend points: %w", err)
	}
	err = s.exec(ctx, `
		INSERT INTO stage3_explanations (`+explanationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.AssessmentID, local, e.GlobalReferenceVersion, trend, e.CreatedAt,
	)
	if err != nil {
		return s.fail("insert stage 3 explanation", err, logrus.Fields{"assessment_id": e.AssessmentID})
	}
	return nil
}

// UpdateTrendPoints replaces the trend series of an explanation.
func (s *SQLStore) UpdateTrendPoints(ctx context.Context, explanationID string, points []domain.TrendPoint) error {
	if points == nil {
		points = []domain.TrendPoint{}
	}
	trend, err := s.jsonArg(points)
	if err != nil {
		return fmt.Errorf("encoding trend points: %w", err)
	}
	res, err := s.q.ExecContext(ctx, s.rebind("UPDATE stage3_explanations SET trend_points = ? WHERE id = ?"), trend, explanationID)
	if err != nil {
		return s.fail("update trend points", err, logrus.Fields{"explanation_id": explanationID})
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("stage 3 explanation %s: %w", explanationID, domain.ErrNotFound)
	}
	return nil
}

// GetStage3Explanation retrieves the explanation of an assessment.
func (s *SQLStore) GetStage3Explanation(ctx context.Context, assessmentID string) (*domain.Stage3Explanation, error) {
	e := &domain.Stage3Explanation{}
	var local, trend []byte
	err := s.queryRow(ctx, "SELECT "+explanationColumns+" FROM stage3_explanations WHERE stage3_assessment_id = ?", assessmentID).
		Scan(&e.ID, &e.AssessmentID, &local, &e.GlobalReferenceVersion, &trend, &e.CreatedAt)
	if err != nil {
		return nil, notFound("stage 3 explanation for assessment", assessmentID, err)
	}
	if err := json.Unmarshal(local, &e.Local); err != nil {
		return nil, fmt.Errorf("decoding local contributions: %w", err)
	}
	if err := json.Unmarshal(trend, &e.TrendPoints); err != nil {
		return nil, fmt.Errorf("decoding trend points: %w", err)
	}
	return e, nil
}
