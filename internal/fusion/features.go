// Package fusion implements Stage 3: it fuses the clinical triage result,
// the imaging prediction and a stiffness value into a composite risk score,
// 12-month risk projections, a risk tier and a local explanation.
package fusion

import (
	"math"

	"github.com/hepatica-risk-engine/internal/artifacts"
	"github.com/hepatica-risk-engine/internal/clinical"
	"github.com/hepatica-risk-engine/internal/domain"
	"github.com/hepatica-risk-engine/pkg/numeric"
)

// Neutral values used when a stage's input is absent.
const (
	defaultAge          = 50
	defaultBMI          = 28.0
	defaultFIB4         = 1.4
	defaultAPRI         = 0.6
	defaultAST          = 45.0
	defaultALT          = 40.0
	defaultPlatelets    = 190.0
	defaultStageNumeric = 1.5
	defaultStageProb    = 0.56
)

// QualityPenalty is subtracted from the composite when the imaging quality
// gate marked the scan invalid.
const QualityPenalty = 0.08

// Heuristic composite weights.
const (
	weightFIB4      = 0.22
	weightAPRI      = 0.14
	weightStage     = 0.22
	weightStiffness = 0.23
	weightNFS       = 0.10
	weightBARD      = 0.05
	weightHistory   = 0.04
)

// MaxScore bounds every Stage 3 score.
const MaxScore = 0.99

// features are the resolved numeric inputs of one fusion run.
type features struct {
	age          int
	bmi          float64
	fib4         float64
	apri         float64
	ast          float64
	alt          float64
	platelets    float64
	type2dm      bool
	albumin      float64
	stageNumeric float64
	stageProb    float64
	qualityValid bool
	stiffnessKPa float64
	nfsScore     float64
	bardScore    int
	previous     float64
}

func resolveFeatures(in Input) features {
	f := features{
		age:          defaultAge,
		bmi:          defaultBMI,
		fib4:         defaultFIB4,
		apri:         defaultAPRI,
		ast:          defaultAST,
		alt:          defaultALT,
		platelets:    defaultPlatelets,
		stageNumeric: defaultStageNumeric,
		stageProb:    defaultStageProb,
		qualityValid: true,
		stiffnessKPa: in.StiffnessKPa,
	}
	if c := in.Clinical; c != nil {
		f.age, f.bmi, f.fib4, f.apri = c.Age, c.BMI, c.FIB4, c.APRI
		f.ast, f.alt, f.platelets, f.type2dm = c.AST, c.ALT, c.Platelets, c.Type2DM
	}
	if p := in.Fibrosis; p != nil {
		f.stageNumeric = StageNumeric(p.Top1.Stage)
		f.stageProb = p.Top1.Probability
		f.qualityValid = p.QualityValid()
	}
	if in.Previous != nil {
		f.previous = in.Previous.CompositeRiskScore
	}

	f.albumin = clinical.DefaultAlbumin(f.ast)
	f.nfsScore = NFSProxy(f.age, f.bmi, f.type2dm, f.ast, f.alt, f.platelets, f.albumin)
	f.bardScore = BARDScore(f.bmi, f.ast, f.alt, f.type2dm)
	return f
}

// StageNumeric maps F0..F4 to 0..4 and anything else to 1.5.
func StageNumeric(stage domain.FibrosisStage) float64 {
	if i := stage.Index(); i >= 0 {
		return float64(i)
	}
	return defaultStageNumeric
}

func astALT(ast, alt float64) float64 {
	return ast / math.Max(alt, 1e-4)
}

// NFSProxy is a NAFLD-fibrosis-score style linear combination with albumin
// supplied by a proxy.
func NFSProxy(age int, bmi float64, type2dm bool, ast, alt, platelets, albumin float64) float64 {
	diabetes := 0.0
	if type2dm {
		diabetes = 1
	}
	return -1.675 +
		0.037*float64(age) +
		0.094*bmi +
		1.13*diabetes +
		0.99*astALT(ast, alt) -
		0.013*platelets -
		0.66*albumin
}

// BARDScore returns the 0-4 BARD-style score.
func BARDScore(bmi, ast, alt float64, type2dm bool) int {
	score := 0
	if bmi >= 28 {
		score++
	}
	if astALT(ast, alt) >= 0.8 {
		score += 2
	}
	if type2dm {
		score++
	}
	return score
}

// components derives the unweighted fusion components.
func (f features) components() domain.Components {
	c := domain.Components{
		FIB4:      numeric.Ramp(f.fib4, 1.1, 4.6),
		APRI:      numeric.Ramp(f.apri, 0.35, 1.95),
		Stage:     numeric.Clamp(f.stageNumeric/4*0.7+f.stageProb*0.3, 0, 1),
		Stiffness: numeric.Ramp(f.stiffnessKPa, 3, 25),
		NFS:       numeric.Clamp(artifacts.Sigmoid(f.nfsScore/2.5), 0, 1),
		BARD:      numeric.Clamp(float64(f.bardScore)/4, 0, 1),
		History:   numeric.Clamp(f.previous, 0, 1),
	}
	if !f.qualityValid {
		c.QualityPenalty = QualityPenalty
	}
	return c
}

// weighted returns the signed weighted terms of the heuristic composite in
// a fixed order.
func weighted(c domain.Components) []domain.Contribution {
	return []domain.Contribution{
		{Feature: "fib4_component", Contribution: weightFIB4 * c.FIB4},
		{Feature: "apri_component", Contribution: weightAPRI * c.APRI},
		{Feature: "stage_component", Contribution: weightStage * c.Stage},
		{Feature: "stiffness_component", Contribution: weightStiffness * c.Stiffness},
		{Feature: "nfs_component", Contribution: weightNFS * c.NFS},
		{Feature: "bard_component", Contribution: weightBARD * c.BARD},
		{Feature: "history_component", Contribution: weightHistory * c.History},
		{Feature: "quality_penalty", Contribution: -c.QualityPenalty},
	}
}

// HeuristicScore is the clamped weighted sum of the components.
func HeuristicScore(c domain.Components) float64 {
	var s float64
	for _, term := range weighted(c) {
		s += term.Contribution
	}
	return numeric.Clamp(s, 0, MaxScore)
}

// TierFromScore buckets a composite score.
func TierFromScore(score float64) domain.RiskTier {
	switch {
	case score >= 0.82:
		return domain.RiskTierCritical
	case score >= 0.62:
		return domain.RiskTierHigh
	case score >= 0.35:
		return domain.RiskTierModerate
	default:
		return domain.RiskTierLow
	}
}

// modelPayload is the learned-model input keyed by manifest column.
func (f features) modelPayload() map[string]float64 {
	quality := 0.0
	if f.qualityValid {
		quality = 1
	}
	return map[string]float64{
		"age":               float64(f.age),
		"bmi":               f.bmi,
		"fib4":              f.fib4,
		"apri":              f.apri,
		"stage_numeric":     f.stageNumeric,
		"stage_probability": f.stageProb,
		"stiffness_kpa":     f.stiffnessKPa,
		"nfs_score":         f.nfsScore,
		"bard_score":        float64(f.bardScore),
		"previous_score":    f.previous,
		"quality_valid":     quality,
	}
}

// ModelFeatureColumns is the column order used when no manifest is shipped.
var ModelFeatureColumns = []string{
	"age", "bmi", "fib4", "apri", "stage_numeric", "stage_probability",
	"stiffness_kpa", "nfs_score", "bard_score", "previous_score", "quality_valid",
}
