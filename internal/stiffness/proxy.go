// Package stiffness estimates liver stiffness when no elastography
// measurement exists.
package stiffness

import (
	"math"

	"github.com/hepatica-risk-engine/internal/domain"
	"github.com/hepatica-risk-engine/pkg/numeric"
)

// Bounds of a proxy estimate, in kPa.
const (
	MinKPa = 2.0
	MaxKPa = 75.0
)

var stageWeights = map[domain.FibrosisStage]float64{
	domain.StageF0: 0.0,
	domain.StageF1: 1.6,
	domain.StageF2: 3.8,
	domain.StageF3: 6.2,
	domain.StageF4: 8.4,
}

const unknownStageWeight = 2.0

// Estimate is a proxy stiffness value with the inputs that produced it.
type Estimate struct {
	KPa      float64                `json:"estimated_kpa"`
	Source   domain.StiffnessSource `json:"source"`
	Features map[string]float64     `json:"features"`
}

// EstimateProxy combines the clinical and imaging inputs linearly. Either may
// be nil, in which case neutral defaults are used for its fields.
func EstimateProxy(clinical *domain.ClinicalAssessment, fibrosis *domain.FibrosisPrediction) Estimate {
	fib4, apri, bmi, type2dm := 1.4, 0.6, 27.5, 0.0
	if clinical != nil {
		fib4, apri, bmi = clinical.FIB4, clinical.APRI, clinical.BMI
		if clinical.Type2DM {
			type2dm = 1
		}
	}

	stageWeight, stageProb := unknownStageWeight, 0.55
	if fibrosis != nil {
		if w, ok := stageWeights[fibrosis.Top1.Stage]; ok {
			stageWeight = w
		}
		stageProb = fibrosis.Top1.Probability
	}

	raw := 4.8 +
		1.9*math.Max(fib4-1.0, 0) +
		2.3*math.Max(apri-0.4, 0) +
		stageWeight +
		1.8*stageProb +
		0.06*math.Max(bmi-25.0, 0) +
		0.9*type2dm

	return Estimate{
		KPa:    numeric.Round(numeric.Clamp(raw, MinKPa, MaxKPa), 3),
		Source: domain.StiffnessProxy,
		Features: map[string]float64{
			"fib4":              numeric.Round(fib4, 4),
			"apri":              numeric.Round(apri, 4),
			"stage_weight":      numeric.Round(stageWeight, 4),
			"stage_probability": numeric.Round(stageProb, 4),
			"bmi":               numeric.Round(bmi, 3),
			"type2dm":           type2dm,
		},
	}
}
