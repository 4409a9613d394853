package service

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hepatica-risk-engine/internal/artifacts"
	"github.com/hepatica-risk-engine/internal/domain"
	"github.com/hepatica-risk-engine/internal/fusion"
	"github.com/hepatica-risk-engine/internal/repository"
)

func testConfig() *domain.Config {
	return &domain.Config{
		Environment: "development",
		Stage1:      domain.Stage1Config{RegistryModelName: "clinical-stage1-gbdt"},
		Stage2: domain.Stage2Config{
			RegistryModelName: "fibrosis-efficientnet-b3",
			QualityGate:       domain.QualityGateWarn,
		},
		Stage3: domain.Stage3Config{
			Enabled:               true,
			RegistryModelName:     "multimodal-stage3-risk",
			StiffnessProxyEnabled: true,
			AlertPPVTarget:        0.90,
			AlertRecallFloor:      0.70,
			TrendLimit:            12,
		},
	}
}

func newTestService(t *testing.T, mutate func(*domain.Config)) (*RiskService, *repository.SQLStore) {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)

	cfg := testConfig()
	if mutate != nil {
		mutate(cfg)
	}

	store, err := repository.NewSQLiteStore(filepath.Join(t.TempDir(), "risk.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	provider, err := artifacts.NewProvider(artifacts.DefaultCacheSize, logger)
	require.NoError(t, err)

	return NewRiskService(logger, cfg, store, provider), store
}

func newPatient(t *testing.T, svc *RiskService) *domain.Patient {
	t.Helper()
	p := &domain.Patient{}
	require.NoError(t, svc.RegisterPatient(context.Background(), p))
	return p
}

func moderateInput() domain.ClinicalInput {
	return domain.ClinicalInput{Age: 55, AST: 80, ALT: 60, Platelets: 150, ASTULN: 40, BMI: 31, Type2DM: true}
}

// highRiskPatient has extreme labs, an F4 scan and a measured 30 kPa
// stiffness, which puts the heuristic composite in the CRITICAL tier.
func highRiskPatient(t *testing.T, svc *RiskService, store *repository.SQLStore) *domain.Patient {
	t.Helper()
	ctx := context.Background()
	p := newPatient(t, svc)

	_, err := svc.Triage(ctx, p.ID, "clinician", domain.ClinicalInput{
		Age: 70, AST: 200, ALT: 50, Platelets: 80, ASTULN: 40, BMI: 32, Type2DM: true,
	})
	require.NoError(t, err)

	require.NoError(t, store.SaveFibrosisPrediction(ctx, &domain.FibrosisPrediction{
		PatientID:    p.ID,
		ScanAssetID:  "scan-1",
		ModelVersion: "fibrosis-efficientnet-b3:v1",
		Softmax: []domain.StageProbability{
			{Stage: domain.StageF0, Probability: 0.01},
			{Stage: domain.StageF1, Probability: 0.02},
			{Stage: domain.StageF2, Probability: 0.03},
			{Stage: domain.StageF3, Probability: 0.04},
			{Stage: domain.StageF4, Probability: 0.90},
		},
		Top1:           domain.StageProbability{Stage: domain.StageF4, Probability: 0.90},
		ConfidenceFlag: domain.ConfidenceNormal,
		EscalationFlag: domain.EscalationSevereReview,
		InferenceMode:  domain.InferenceML,
	}))

	require.NoError(t, svc.RecordStiffness(ctx, &domain.StiffnessMeasurement{PatientID: p.ID, MeasuredKPa: 30}))
	return p
}

func texturedScan(t *testing.T) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 256, 256))
	for y := 0; y < 256; y++ {
		for x := 0; x < 256; x++ {
			v := uint8(60 + (x*7+y*13)%140)
			if (x/16+y/16)%2 == 0 {
				v = uint8(40 + (x*y)%90)
			}
			img.SetGray(x, y, color.Gray{Y: v})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestTriage_PersistsAssessmentAndEvent(t *testing.T) {
	svc, store := newTestService(t, nil)
	ctx := context.Background()
	p := newPatient(t, svc)

	assessment, err := svc.Triage(ctx, p.ID, "clinician", moderateInput())
	require.NoError(t, err)
	assert.InDelta(t, 3.7869, assessment.FIB4, 1e-4)
	assert.InDelta(t, 1.3333, assessment.APRI, 1e-4)
	assert.Equal(t, domain.RiskTierHigh, assessment.RiskTier)
	assert.InDelta(t, 0.87, assessment.Probability, 1e-9)
	assert.Equal(t, domain.InferenceRules, assessment.InferenceMode)

	stored, err := store.LatestClinicalAssessment(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, assessment.ID, stored.ID)

	events, err := svc.Timeline(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventClinicalCompleted, events[0].EventType)
}

func TestTriage_InvalidInputIsNotPersisted(t *testing.T) {
	svc, store := newTestService(t, nil)
	ctx := context.Background()
	p := newPatient(t, svc)

	in := moderateInput()
	in.Platelets = 0
	_, err := svc.Triage(ctx, p.ID, "", in)
	require.Error(t, err)
	assert.True(t, domain.IsInvalidInput(err))

	_, err = store.LatestClinicalAssessment(ctx, p.ID)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestTriage_UnknownPatient(t *testing.T) {
	svc, _ := newTestService(t, nil)
	_, err := svc.Triage(context.Background(), "missing", "", moderateInput())
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestPredictScan_HeuristicFallback(t *testing.T) {
	svc, store := newTestService(t, nil)
	ctx := context.Background()
	p := newPatient(t, svc)

	prediction, err := svc.PredictScan(ctx, p.ID, "radiographer", "scan-42", texturedScan(t))
	require.NoError(t, err)
	assert.Equal(t, domain.InferenceHeuristic, prediction.InferenceMode)
	assert.Equal(t, domain.ConfidenceLow, prediction.ConfidenceFlag)
	assert.Equal(t, "fibrosis-efficientnet-b3:v1::heuristic", prediction.ModelVersion)
	require.NotNil(t, prediction.Quality, "warn gate records quality metrics")

	var total float64
	for _, sp := range prediction.Softmax {
		total += sp.Probability
	}
	assert.InDelta(t, 1.0, total, 1e-6)

	stored, err := store.GetFibrosisPrediction(ctx, prediction.ID)
	require.NoError(t, err)
	assert.Equal(t, "scan-42", stored.ScanAssetID)
	assert.Equal(t, prediction.Top1.Stage, stored.Top1.Stage)
}

func TestPredictScan_StrictGateRejectsDarkScan(t *testing.T) {
	svc, store := newTestService(t, func(c *domain.Config) { c.Stage2.QualityGate = domain.QualityGateStrict })
	ctx := context.Background()
	p := newPatient(t, svc)

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, 256, 256))))

	_, err := svc.PredictScan(ctx, p.ID, "", "scan-dark", buf.Bytes())
	var rejected *domain.QualityRejectedError
	require.True(t, errors.As(err, &rejected))
	assert.Contains(t, rejected.ReasonCodes, "TOO_DARK")

	_, err = store.LatestFibrosisPrediction(ctx, p.ID)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestRecordStiffness_Validation(t *testing.T) {
	svc, _ := newTestService(t, nil)
	p := newPatient(t, svc)

	err := svc.RecordStiffness(context.Background(), &domain.StiffnessMeasurement{PatientID: p.ID, MeasuredKPa: -1})
	assert.True(t, domain.IsInvalidInput(err))

	err = svc.RecordStiffness(context.Background(), &domain.StiffnessMeasurement{PatientID: p.ID, MeasuredKPa: 8, Source: "GUESS"})
	assert.Error(t, err)

	m := &domain.StiffnessMeasurement{PatientID: p.ID, MeasuredKPa: 8}
	require.NoError(t, svc.RecordStiffness(context.Background(), m))
	assert.Equal(t, domain.StiffnessMeasured, m.Source)
}

func TestRunAssessment_Disabled(t *testing.T) {
	svc, _ := newTestService(t, func(c *domain.Config) { c.Stage3.Enabled = false })
	p := newPatient(t, svc)

	_, err := svc.RunAssessment(context.Background(), p.ID, "", Selection{})
	assert.True(t, errors.Is(err, domain.ErrStage3Disabled))
}

func TestRunAssessment_RequiresPriorStage(t *testing.T) {
	svc, _ := newTestService(t, nil)
	p := newPatient(t, svc)

	_, err := svc.RunAssessment(context.Background(), p.ID, "", Selection{})
	require.Error(t, err)
	assert.True(t, domain.IsFusionPrecondition(err))
}

func TestRunAssessment_ProxyStiffness(t *testing.T) {
	svc, store := newTestService(t, nil)
	ctx := context.Background()
	p := newPatient(t, svc)
	_, err := svc.Triage(ctx, p.ID, "clinician", moderateInput())
	require.NoError(t, err)

	outcome, err := svc.RunAssessment(ctx, p.ID, "clinician", Selection{})
	require.NoError(t, err)

	proxy, err := store.LatestStiffnessMeasurement(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StiffnessProxy, proxy.Source)
	assert.Equal(t, proxy.ID, outcome.Assessment.StiffnessMeasurementID)
	assert.Equal(t, domain.StiffnessProxy, outcome.Assessment.FeatureSnapshot.StiffnessSource)
	assert.Equal(t, proxy.MeasuredKPa, outcome.Assessment.FeatureSnapshot.StiffnessKPa)

	a := outcome.Assessment
	assert.Equal(t, "multimodal-stage3-risk:v1::heuristic", a.ModelVersion)
	assert.Equal(t, domain.InferenceHeuristic, a.InferenceMode)
	assert.True(t, a.FeatureSnapshot.ClinicalPresent)
	assert.False(t, a.FeatureSnapshot.ImagingPresent)
	assert.Empty(t, a.FibrosisPredictionID)

	require.Len(t, outcome.Explanation.TrendPoints, 1)
	assert.Equal(t, a.ID, outcome.Explanation.TrendPoints[0].AssessmentID)
	assert.Equal(t, a.ModelVersion, outcome.Explanation.GlobalReferenceVersion)

	stored, err := svc.Explanation(ctx, a.ID)
	require.NoError(t, err)
	assert.Len(t, stored.TrendPoints, 1)
	assert.Len(t, stored.Local.Positive, 5)
	assert.Len(t, stored.Local.Negative, 3)
}

func TestRunAssessment_ProxyDisabled(t *testing.T) {
	svc, store := newTestService(t, func(c *domain.Config) { c.Stage3.StiffnessProxyEnabled = false })
	ctx := context.Background()
	p := newPatient(t, svc)
	_, err := svc.Triage(ctx, p.ID, "", moderateInput())
	require.NoError(t, err)

	_, err = svc.RunAssessment(ctx, p.ID, "", Selection{})
	require.Error(t, err)
	assert.True(t, domain.IsFusionPrecondition(err))

	_, err = store.LatestStage3Assessment(ctx, p.ID)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestRunAssessment_SelectionMustBelongToPatient(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()
	owner := newPatient(t, svc)
	other := newPatient(t, svc)

	foreign, err := svc.Triage(ctx, owner.ID, "", moderateInput())
	require.NoError(t, err)
	_, err = svc.Triage(ctx, other.ID, "", moderateInput())
	require.NoError(t, err)

	_, err = svc.RunAssessment(ctx, other.ID, "", Selection{ClinicalAssessmentID: foreign.ID})
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	_, err = svc.RunAssessment(ctx, other.ID, "", Selection{StiffnessMeasurementID: "missing"})
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestRunAssessment_AlertDeduplication(t *testing.T) {
	svc, store := newTestService(t, nil)
	ctx := context.Background()
	p := highRiskPatient(t, svc, store)

	first, err := svc.RunAssessment(ctx, p.ID, "clinician", Selection{})
	require.NoError(t, err)
	assert.Equal(t, domain.RiskTierCritical, first.Assessment.RiskTier)
	require.Len(t, first.Alerts.Created, 1)
	alert := first.Alerts.Created[0]
	assert.Equal(t, domain.AlertAdvancedFibrosis, alert.AlertType)
	assert.Equal(t, domain.SeverityCritical, alert.Severity)
	assert.Equal(t, first.Assessment.FeatureSnapshot.AlertScoreThreshold, alert.Threshold)
	assert.Equal(t, 0.78, alert.Threshold)

	second, err := svc.RunAssessment(ctx, p.ID, "clinician", Selection{})
	require.NoError(t, err)
	assert.Empty(t, second.Alerts.Created)
	require.Len(t, second.Alerts.Updated, 1)
	assert.Equal(t, alert.ID, second.Alerts.Updated[0].ID)
	assert.Greater(t, second.Assessment.CompositeRiskScore, first.Assessment.CompositeRiskScore, "history raises the score")

	// trend is built before the refresh, so the open alert still points at the first visit
	require.Len(t, second.Explanation.TrendPoints, 2)
	assert.Equal(t, domain.AlertStateOpen, second.Explanation.TrendPoints[0].AlertState)
	assert.Equal(t, domain.AlertStateNone, second.Explanation.TrendPoints[1].AlertState)

	open, err := svc.ListAlerts(ctx, p.ID, domain.AlertOpen)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, second.Assessment.ID, open[0].AssessmentID)

	_, err = svc.UpdateAlertStatus(ctx, alert.ID, domain.AlertClosed, "clinician")
	require.NoError(t, err)

	third, err := svc.RunAssessment(ctx, p.ID, "clinician", Selection{})
	require.NoError(t, err)
	require.Len(t, third.Alerts.Created, 1)
	assert.NotEqual(t, alert.ID, third.Alerts.Created[0].ID)
	for _, point := range third.Explanation.TrendPoints {
		assert.Equal(t, domain.AlertStateNone, point.AlertState)
	}

	all, err := svc.ListAlerts(ctx, p.ID, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestRunAssessment_RegistryVersion(t *testing.T) {
	svc, store := newTestService(t, nil)
	ctx := context.Background()
	require.NoError(t, store.SaveModel(ctx, &domain.ModelRegistryEntry{
		Name:        "multimodal-stage3-risk",
		Version:     "v7",
		ArtifactURI: "s3://models/stage3/v7",
		Active:      true,
	}))
	p := newPatient(t, svc)
	_, err := svc.Triage(ctx, p.ID, "", moderateInput())
	require.NoError(t, err)

	outcome, err := svc.RunAssessment(ctx, p.ID, "", Selection{})
	require.NoError(t, err)
	assert.Equal(t, "multimodal-stage3-risk:v7::heuristic", outcome.Assessment.ModelVersion)
}

func TestRunAssessment_RegistryArtifactDir(t *testing.T) {
	svc, store := newTestService(t, nil)
	ctx := context.Background()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, fusion.RiskModelFile),
		[]byte(`{"kind":"linear","coefficients":{"fib4":0.1},"intercept":0.2}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, fusion.MetadataFile),
		[]byte(`{"model_name":"multimodal-stage3-risk","model_version":"v8"}`), 0o644))
	require.NoError(t, store.SaveModel(ctx, &domain.ModelRegistryEntry{
		Name:        "multimodal-stage3-risk",
		Version:     "v8",
		ArtifactURI: "file://" + dir,
		Active:      true,
	}))

	p := newPatient(t, svc)
	_, err := svc.Triage(ctx, p.ID, "", moderateInput())
	require.NoError(t, err)

	outcome, err := svc.RunAssessment(ctx, p.ID, "", Selection{})
	require.NoError(t, err)
	assert.Equal(t, domain.InferenceML, outcome.Assessment.InferenceMode)
	assert.Equal(t, "multimodal-stage3-risk:v8", outcome.Assessment.ModelVersion)
	assert.InDelta(t, 0.578692, outcome.Assessment.CompositeRiskScore, 1e-5)
	assert.True(t, outcome.Explanation.Local.Approximate)
}

func TestRunAssessment_StrictModeRollsBack(t *testing.T) {
	svc, store := newTestService(t, func(c *domain.Config) {
		c.Environment = "production"
		c.RequireTrainedModel = true
		c.Stage3.RequireModel = true
		c.Stage3.ArtifactDir = t.TempDir()
	})
	require.True(t, svc.StrictMode())
	ctx := context.Background()
	p := newPatient(t, svc)
	_, err := svc.Triage(ctx, p.ID, "", moderateInput())
	require.NoError(t, err)

	_, err = svc.RunAssessment(ctx, p.ID, "", Selection{})
	require.Error(t, err)
	assert.True(t, domain.IsModelUnavailable(err))

	_, err = store.LatestStiffnessMeasurement(ctx, p.ID)
	assert.True(t, errors.Is(err, domain.ErrNotFound), "proxy stiffness must roll back with the run")
}

func TestRunAssessment_Stage3ModelOptionalInStrictMode(t *testing.T) {
	svc, _ := newTestService(t, func(c *domain.Config) {
		c.Environment = "production"
		c.RequireTrainedModel = true
		c.Stage3.ArtifactDir = t.TempDir()
	})
	require.True(t, svc.StrictMode())
	ctx := context.Background()
	p := newPatient(t, svc)
	_, err := svc.Triage(ctx, p.ID, "", moderateInput())
	require.NoError(t, err)

	outcome, err := svc.RunAssessment(ctx, p.ID, "", Selection{})
	require.NoError(t, err)
	assert.Equal(t, domain.InferenceHeuristic, outcome.Assessment.InferenceMode)
}

func writeFusionArtifacts(t *testing.T, dir string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, fusion.RiskModelFile),
		[]byte(`{"kind":"linear","coefficients":{"fib4":0.1},"intercept":0.2}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, fusion.ManifestFile),
		[]byte(`{"feature_columns":["fib4"]}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, fusion.MetadataFile),
		[]byte(`{"model_name":"multimodal-stage3-risk","model_version":"v9"}`), 0o644))
}

func TestArtifactHealth_MissingArtifactsAndRegistryRows(t *testing.T) {
	svc, _ := newTestService(t, nil)
	health, err := svc.ArtifactHealth(context.Background())
	require.NoError(t, err)
	require.Len(t, health, 3)

	assert.True(t, health["stage1"].OK, "stage 1 ML is off")
	assert.Empty(t, health["stage1"].Errors)

	for _, stage := range []string{"stage2", "stage3"} {
		h := health[stage]
		assert.False(t, h.OK, stage)
		assert.False(t, h.StrictMode, stage)
		require.NotEmpty(t, h.Errors, stage)
		assert.Contains(t, h.Errors[0], "no active model_registry row", stage)
	}
}

func TestArtifactHealth_ChecksRegistryArtifacts(t *testing.T) {
	svc, store := newTestService(t, func(c *domain.Config) {
		c.Stage3.ArtifactDir = t.TempDir()
	})
	ctx := context.Background()

	dir := t.TempDir()
	writeFusionArtifacts(t, dir)
	require.NoError(t, store.SaveModel(ctx, &domain.ModelRegistryEntry{
		Name:        "multimodal-stage3-risk",
		Version:     "v9",
		ArtifactURI: "file://" + dir,
		Active:      true,
	}))

	p := newPatient(t, svc)
	_, err := svc.Triage(ctx, p.ID, "", moderateInput())
	require.NoError(t, err)
	outcome, err := svc.RunAssessment(ctx, p.ID, "", Selection{})
	require.NoError(t, err)
	require.Equal(t, domain.InferenceML, outcome.Assessment.InferenceMode)

	health, err := svc.ArtifactHealth(ctx)
	require.NoError(t, err)
	assert.True(t, health["stage3"].OK, "errors: %v", health["stage3"].Errors)
	assert.Empty(t, health["stage3"].Errors)
}

func TestArtifactHealth_DisabledStagesAreLenient(t *testing.T) {
	svc, _ := newTestService(t, func(c *domain.Config) {
		c.Environment = "production"
		c.RequireTrainedModel = true
		c.Stage1.MLEnabled = false
		c.Stage3.Enabled = false
		c.Stage3.RequireModel = true
	})
	health, err := svc.ArtifactHealth(context.Background())
	require.NoError(t, err)

	for _, stage := range []string{"stage1", "stage3"} {
		assert.True(t, health[stage].OK, stage)
		assert.False(t, health[stage].StrictMode, stage)
		assert.Empty(t, health[stage].Errors, stage)
	}
	assert.True(t, health["stage2"].StrictMode)
	assert.False(t, health["stage2"].OK)
}

func TestArtifactHealth_EnabledStagesAreStrict(t *testing.T) {
	svc, _ := newTestService(t, func(c *domain.Config) {
		c.Environment = "production"
		c.RequireTrainedModel = true
		c.Stage1.MLEnabled = true
		c.Stage1.ArtifactDir = t.TempDir()
		c.Stage3.ArtifactDir = t.TempDir()
		c.Stage3.RequireModel = true
	})
	health, err := svc.ArtifactHealth(context.Background())
	require.NoError(t, err)

	for stage, h := range health {
		assert.True(t, h.StrictMode, stage)
		assert.False(t, h.OK, stage)
	}
}
