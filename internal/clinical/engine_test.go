package clinical

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hepatica-risk-engine/internal/artifacts"
	"github.com/hepatica-risk-engine/internal/domain"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	return logger
}

func newTestEngine(t *testing.T, dir string, strict bool) *Engine {
	t.Helper()
	provider, err := artifacts.NewProvider(artifacts.DefaultCacheSize, testLogger())
	require.NoError(t, err)
	return NewEngine(testLogger(), provider, domain.Stage1Config{MLEnabled: true, ArtifactDir: dir}, strict)
}

// writeModel exports a small model keyed on fib4_input and sex.
func writeModel(t *testing.T, classes string) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		PreprocessorFile: `{"feature_columns":["fib4_input","sex"],"categories":{"sex":["F","M"]},"mean":{"fib4_input":0},"scale":{"fib4_input":1}}`,
		ClassifierFile:   `{"classes":` + classes + `,"coefficients":[[-2,0,0],[0,0,0],[2,0,0]],"intercepts":[4,0,-4]}`,
		RegressorFile:    `{"coefficients":[0.2,0,0],"intercept":0}`,
		MetadataFile:     `{"model_name":"clinical-stage1-gbdt","model_version":"v3"}`,
	}
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	return dir
}

var highRiskInput = domain.ClinicalInput{
	Age: 55, AST: 80, ALT: 60, Platelets: 150, ASTULN: 40, BMI: 31, Type2DM: true, Sex: "F",
}

func TestEngine_RulesOnlyWhenDisabled(t *testing.T) {
	provider, err := artifacts.NewProvider(artifacts.DefaultCacheSize, testLogger())
	require.NoError(t, err)
	engine := NewEngine(testLogger(), provider, domain.Stage1Config{MLEnabled: false}, true)

	result, err := engine.Assess(highRiskInput, ModelSource{})
	require.NoError(t, err)
	assert.Equal(t, domain.InferenceRules, result.InferenceMode)
	assert.Equal(t, RuleEngineVersion, result.ModelVersion)
}

func TestEngine_LearnedOverride(t *testing.T) {
	dir := writeModel(t, `["LOW","MODERATE","HIGH"]`)
	engine := newTestEngine(t, dir, true)

	result, err := engine.Assess(highRiskInput, ModelSource{})
	require.NoError(t, err)

	assert.Equal(t, domain.InferenceML, result.InferenceMode)
	assert.Equal(t, domain.RiskTierHigh, result.RiskTier)
	assert.InDelta(t, 0.7574, result.Probability, 1e-4)
	assert.Equal(t, "clinical-stage1-gbdt:v3", result.ModelVersion)
	assert.Equal(t, 3.7869, result.FIB4, "FIB-4 still comes from the rules")

	result, err = engine.Assess(highRiskInput, ModelSource{Version: "registry-model:v9"})
	require.NoError(t, err)
	assert.Equal(t, "registry-model:v9", result.ModelVersion)
}

func TestEngine_MissingArtifacts(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "absent")

	t.Run("strict fails", func(t *testing.T) {
		_, err := newTestEngine(t, missing, true).Assess(highRiskInput, ModelSource{})
		require.Error(t, err)
		assert.True(t, domain.IsModelUnavailable(err))
	})

	t.Run("lenient falls back to rules", func(t *testing.T) {
		result, err := newTestEngine(t, missing, false).Assess(highRiskInput, ModelSource{})
		require.NoError(t, err)
		assert.Equal(t, domain.InferenceRules, result.InferenceMode)
		assert.Equal(t, 0.87, result.Probability)
	})
}

func TestEngine_UnexpectedClassLabel(t *testing.T) {
	dir := writeModel(t, `["LOW","MODERATE","SEVERE"]`)

	_, err := newTestEngine(t, dir, true).Assess(highRiskInput, ModelSource{})
	require.Error(t, err)
	assert.True(t, domain.IsModelUnavailable(err))
	assert.Contains(t, err.Error(), "SEVERE")
}

func TestEngine_InvalidInputIsAlwaysFatal(t *testing.T) {
	bad := highRiskInput
	bad.Platelets = 0

	_, err := newTestEngine(t, t.TempDir(), false).Assess(bad, ModelSource{})
	assert.True(t, domain.IsInvalidInput(err))
}

func TestInspectArtifacts(t *testing.T) {
	health := InspectArtifacts(writeModel(t, `["LOW","MODERATE","HIGH"]`), true)
	assert.True(t, health.OK)
	assert.Empty(t, health.Errors)

	health = InspectArtifacts(t.TempDir(), true)
	assert.False(t, health.OK)
	assert.True(t, health.StrictMode)
	assert.Len(t, health.Errors, 3)
}
