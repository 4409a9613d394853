// Package clinical implements Stage 1 triage: the FIB-4 / APRI rule engine
// and an optional learned override with the same output contract.
package clinical

import (
	"math"

	"github.com/hepatica-risk-engine/internal/domain"
	"github.com/hepatica-risk-engine/pkg/numeric"
)

// RuleEngineVersion identifies results produced by the rule engine alone.
const RuleEngineVersion = "clinical-rule-engine:v1"

// MaxProbability caps every Stage 1 probability.
const MaxProbability = 0.95

// Result is the output of a Stage 1 run.
type Result struct {
	FIB4          float64              `json:"fib4"`
	APRI          float64              `json:"apri"`
	RiskTier      domain.RiskTier      `json:"risk_tier"`
	Probability   float64              `json:"probability"`
	ModelVersion  string               `json:"model_version"`
	InferenceMode domain.InferenceMode `json:"inference_mode"`
}

// ComputeFIB4 returns (age × AST) / (platelets × √ALT).
func ComputeFIB4(age int, ast, alt, platelets float64) (float64, error) {
	if alt <= 0 {
		return 0, domain.NewInvalidInputError("alt", "must be greater than 0", alt)
	}
	if platelets <= 0 {
		return 0, domain.NewInvalidInputError("platelets", "must be greater than 0", platelets)
	}
	return (float64(age) * ast) / (platelets * math.Sqrt(alt)), nil
}

// ComputeAPRI returns ((AST / AST_ULN) × 100) / platelets.
func ComputeAPRI(ast, astULN, platelets float64) (float64, error) {
	if astULN <= 0 {
		return 0, domain.NewInvalidInputError("ast_uln", "must be greater than 0", astULN)
	}
	if platelets <= 0 {
		return 0, domain.NewInvalidInputError("platelets", "must be greater than 0", platelets)
	}
	return ((ast / astULN) * 100) / platelets, nil
}

// MapRiskTier buckets FIB-4 and APRI. HIGH is checked before MODERATE and
// the stated boundaries are inclusive.
func MapRiskTier(fib4, apri float64) domain.RiskTier {
	if fib4 > 2.67 || apri >= 1.0 {
		return domain.RiskTierHigh
	}
	if (fib4 >= 1.3 && fib4 <= 2.67) || (apri >= 0.5 && apri < 1.0) {
		return domain.RiskTierModerate
	}
	return domain.RiskTierLow
}

var baseProbability = map[domain.RiskTier]float64{
	domain.RiskTierLow:      0.20,
	domain.RiskTierModerate: 0.55,
	domain.RiskTierHigh:     0.82,
}

// MapProbability converts a tier into a risk probability, adding a metabolic
// bump for obese diabetic patients.
func MapProbability(tier domain.RiskTier, bmi float64, type2dm bool) float64 {
	p := baseProbability[tier]
	if bmi >= 30 && type2dm {
		p += 0.05
	}
	return math.Min(p, MaxProbability)
}

// RunRules computes the rule-based Stage 1 result. FIB-4 and APRI are
// rounded to 4 places before the tier is mapped.
func RunRules(in domain.ClinicalInput) (*Result, error) {
	fib4, err := ComputeFIB4(in.Age, in.AST, in.ALT, in.Platelets)
	if err != nil {
		return nil, err
	}
	apri, err := ComputeAPRI(in.AST, in.ASTULN, in.Platelets)
	if err != nil {
		return nil, err
	}

	fib4 = numeric.Round(fib4, 4)
	apri = numeric.Round(apri, 4)
	tier := MapRiskTier(fib4, apri)

	return &Result{
		FIB4:          fib4,
		APRI:          apri,
		RiskTier:      tier,
		Probability:   numeric.Round(MapProbability(tier, in.BMI, in.Type2DM), 4),
		ModelVersion:  RuleEngineVersion,
		InferenceMode: domain.InferenceRules,
	}, nil
}
