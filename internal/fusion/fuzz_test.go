package fusion

import (
	"math"
	"testing"

	"github.com/hepatica-risk-engine/internal/domain"
)

func FuzzCompute(f *testing.F) {
	f.Add(55, 80.0, 60.0, 150.0, 31.0, true, 3.7, 1.3, 3, 0.7, true, 14.0, 0.5)
	f.Add(0, 0.0, 0.0, 0.0, 0.0, false, 0.0, 0.0, 0, 0.0, false, 0.0, 0.0)
	f.Add(120, 5000.0, 1.0, 1.0, 90.0, true, 1e6, 1e6, 4, 1.0, false, 75.0, 1.0)

	engine := newEngine(f, false)

	f.Fuzz(func(t *testing.T, age int, ast, alt, platelets, bmi float64, dm bool,
		fib4, apri float64, stage int, prob float64, quality bool, kpa, previous float64) {
		if !finiteAll(ast, alt, platelets, bmi, fib4, apri, prob, kpa, previous) || kpa < 0 {
			t.Skip()
		}
		if age < 0 || age > 150 {
			t.Skip()
		}

		in := Input{
			Clinical: &domain.ClinicalAssessment{
				ClinicalInput: domain.ClinicalInput{Age: age, AST: ast, ALT: alt, Platelets: platelets, BMI: bmi, Type2DM: dm},
				FIB4:          fib4,
				APRI:          apri,
			},
			Fibrosis: &domain.FibrosisPrediction{
				Top1:    domain.StageProbability{Stage: domain.Stages[abs(stage)%len(domain.Stages)], Probability: prob},
				Quality: &domain.QualityResult{IsValid: quality},
			},
			StiffnessKPa: kpa,
			Previous:     &domain.Stage3Assessment{CompositeRiskScore: previous},
		}

		result, err := engine.Compute(in)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		for name, v := range map[string]float64{
			"composite":   result.CompositeRiskScore,
			"progression": result.ProgressionRisk12m,
			"decomp":      result.DecompRisk12m,
		} {
			if math.IsNaN(v) || v < 0 || v > MaxScore {
				t.Fatalf("%s out of bounds: %v", name, v)
			}
		}
		if len(result.Contributions.Positive) != 5 || len(result.Contributions.Negative) != 3 {
			t.Fatalf("unexpected driver counts: %+v", result.Contributions)
		}
	})
}

func finiteAll(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func abs(v int) int {
	if v < 0 {
		if v == math.MinInt {
			return 0
		}
		return -v
	}
	return v
}
