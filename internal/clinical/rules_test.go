package clinical

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hepatica-risk-engine/internal/domain"
	"github.com/hepatica-risk-engine/pkg/numeric"
)

func TestComputeFIB4(t *testing.T) {
	fib4, err := ComputeFIB4(55, 80, 60, 150)
	require.NoError(t, err)
	assert.Equal(t, 3.7869, numeric.Round(fib4, 4))

	_, err = ComputeFIB4(55, 80, 0, 150)
	assert.True(t, domain.IsInvalidInput(err))

	_, err = ComputeFIB4(55, 80, 60, -1)
	assert.True(t, domain.IsInvalidInput(err))
}

func TestComputeAPRI(t *testing.T) {
	apri, err := ComputeAPRI(80, 40, 150)
	require.NoError(t, err)
	assert.Equal(t, 1.3333, numeric.Round(apri, 4))

	_, err = ComputeAPRI(80, 0, 150)
	assert.True(t, domain.IsInvalidInput(err))

	_, err = ComputeAPRI(80, 40, 0)
	assert.True(t, domain.IsInvalidInput(err))
}

func TestMapRiskTier(t *testing.T) {
	tests := []struct {
		name     string
		fib4     float64
		apri     float64
		expected domain.RiskTier
	}{
		{"fib4 above high cutoff", 2.68, 0.2, domain.RiskTierHigh},
		{"fib4 in moderate band", 1.5, 0.4, domain.RiskTierModerate},
		{"both low", 1.2, 0.4, domain.RiskTierLow},
		{"apri in moderate band", 1.0, 0.6, domain.RiskTierModerate},
		{"fib4 exactly 1.3 is moderate", 1.3, 0.1, domain.RiskTierModerate},
		{"fib4 just below 1.3 is low", 1.2999, 0.1, domain.RiskTierLow},
		{"fib4 exactly 2.67 is moderate", 2.67, 0.1, domain.RiskTierModerate},
		{"fib4 just above 2.67 is high", 2.6701, 0.1, domain.RiskTierHigh},
		{"apri exactly 0.5 is moderate", 0.5, 0.5, domain.RiskTierModerate},
		{"apri just below 0.5 is low", 0.5, 0.4999, domain.RiskTierLow},
		{"apri exactly 1.0 is high", 0.5, 1.0, domain.RiskTierHigh},
		{"apri just below 1.0 is moderate", 0.5, 0.9999, domain.RiskTierModerate},
		{"high wins over moderate", 1.5, 1.2, domain.RiskTierHigh},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, MapRiskTier(tt.fib4, tt.apri))
		})
	}
}

func TestMapProbability(t *testing.T) {
	tests := []struct {
		name     string
		tier     domain.RiskTier
		bmi      float64
		type2dm  bool
		expected float64
	}{
		{"high obese diabetic", domain.RiskTierHigh, 31, true, 0.87},
		{"high obese without diabetes", domain.RiskTierHigh, 31, false, 0.82},
		{"moderate diabetic not obese", domain.RiskTierModerate, 29.9, true, 0.55},
		{"low obese diabetic", domain.RiskTierLow, 30, true, 0.25},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, MapProbability(tt.tier, tt.bmi, tt.type2dm), 1e-9)
		})
	}
}

func TestRunRules(t *testing.T) {
	result, err := RunRules(domain.ClinicalInput{
		Age: 55, AST: 80, ALT: 60, Platelets: 150, ASTULN: 40, BMI: 31, Type2DM: true,
	})
	require.NoError(t, err)

	assert.Equal(t, 3.7869, result.FIB4)
	assert.Equal(t, 1.3333, result.APRI)
	assert.Equal(t, domain.RiskTierHigh, result.RiskTier)
	assert.Equal(t, 0.87, result.Probability)
	assert.Equal(t, RuleEngineVersion, result.ModelVersion)
	assert.Equal(t, domain.InferenceRules, result.InferenceMode)
	assert.LessOrEqual(t, result.Probability, MaxProbability)
}

func TestBuildFeaturePayload(t *testing.T) {
	payload, err := BuildFeaturePayload(domain.ClinicalInput{
		Age: 62, AST: 35, ALT: 35, Platelets: 200, ASTULN: 40, BMI: 27, Type2DM: false, Sex: "male",
	})
	require.NoError(t, err)

	for _, col := range FeatureColumns {
		assert.Contains(t, payload, col)
	}
	assert.Len(t, payload, len(FeatureColumns))
	assert.Equal(t, "M", payload["sex"])
	assert.Equal(t, 1, payload["hypertension"], "age >= 60 implies hypertension default")
	assert.Equal(t, 0, payload["dyslipidemia"])
	assert.InDelta(t, 4.3, payload["albumin_g_dl"], 1e-12)
	assert.InDelta(t, 1.0, payload["ast_alt_ratio"], 1e-12)

	_, err = BuildFeaturePayload(domain.ClinicalInput{Age: 40, AST: 30, ALT: 0, Platelets: 200, ASTULN: 40})
	assert.True(t, domain.IsInvalidInput(err))
}

func TestCoerceSex(t *testing.T) {
	assert.Equal(t, "M", CoerceSex("m"))
	assert.Equal(t, "M", CoerceSex(" Male "))
	assert.Equal(t, "F", CoerceSex("female"))
	assert.Equal(t, "F", CoerceSex(""))
}
