package fusion

import (
	"github.com/sirupsen/logrus"

	"github.com/hepatica-risk-engine/internal/artifacts"
	"github.com/hepatica-risk-engine/internal/domain"
	"github.com/hepatica-risk-engine/pkg/numeric"
)

// Input is everything one fusion run consumes. Clinical and Fibrosis are
// optional but at least one must be present.
type Input struct {
	Clinical        *domain.ClinicalAssessment
	Fibrosis        *domain.FibrosisPrediction
	StiffnessKPa    float64
	StiffnessSource domain.StiffnessSource
	Previous        *domain.Stage3Assessment
	ArtifactDir     string
	// ModelVersion is the registry-resolved version used for heuristic
	// results; DefaultVersion when empty.
	ModelVersion string
	Policy       domain.AlertPolicy
}

// Result is the output of a fusion run.
type Result struct {
	CompositeRiskScore float64                   `json:"composite_risk_score"`
	ProgressionRisk12m float64                   `json:"progression_risk_12m"`
	DecompRisk12m      float64                   `json:"decomp_risk_12m"`
	RiskTier           domain.RiskTier           `json:"risk_tier"`
	ModelVersion       string                    `json:"model_version"`
	InferenceMode      domain.InferenceMode      `json:"inference_mode"`
	Snapshot           domain.FeatureSnapshot    `json:"feature_snapshot"`
	Contributions      domain.LocalContributions `json:"local_feature_contrib"`
}

// Engine computes Stage 3 assessments.
type Engine struct {
	logger   *logrus.Logger
	provider *artifacts.Provider
	strict   bool
}

// NewEngine creates a fusion engine. strict makes an unavailable learned
// model fatal instead of falling back to the heuristic composite.
func NewEngine(logger *logrus.Logger, provider *artifacts.Provider, strict bool) *Engine {
	return &Engine{logger: logger, provider: provider, strict: strict}
}

// Compute fuses the inputs into a composite assessment.
func (e *Engine) Compute(in Input) (*Result, error) {
	if in.Clinical == nil && in.Fibrosis == nil {
		return nil, domain.NewFusionPreconditionError("at least one prior Stage 1 or Stage 2 assessment is required")
	}
	if !numeric.Finite(in.StiffnessKPa) || in.StiffnessKPa < 0 {
		return nil, domain.NewFusionPreconditionError("stiffness value must be a finite, non-negative kPa")
	}

	f := resolveFeatures(in)
	components := f.components()
	heuristic := numeric.Round(HeuristicScore(components), 6)

	result := &Result{InferenceMode: domain.InferenceHeuristic}

	learned, err := e.loadModel(in.ArtifactDir)
	switch {
	case err == nil:
		p := numeric.Clamp(learned.Predict(f.modelPayload()), 0, MaxScore)
		result.CompositeRiskScore = numeric.Round(p, 6)
		result.ProgressionRisk12m = numeric.Round(numeric.Clamp(0.92*p+0.03, 0, MaxScore), 6)
		result.DecompRisk12m = numeric.Round(numeric.Clamp(0.72*p+0.05, 0, MaxScore), 6)
		result.ModelVersion = learned.Version
		result.InferenceMode = domain.InferenceML
	case e.strict:
		return nil, err
	default:
		e.logger.WithFields(logrus.Fields{
			"artifact_dir": in.ArtifactDir,
			"error":        err.Error(),
		}).Debug("Stage 3 learned model unavailable, using heuristic composite")

		c := heuristic
		stageBump := 0.0
		if f.stageNumeric >= 3 {
			stageBump = 0.06
		}
		result.CompositeRiskScore = c
		result.ProgressionRisk12m = numeric.Round(numeric.Clamp(0.90*c+0.05, 0, MaxScore), 6)
		result.DecompRisk12m = numeric.Round(numeric.Clamp(0.74*c+stageBump, 0, MaxScore), 6)
		result.ModelVersion = versionOrDefault(in.ModelVersion) + domain.HeuristicVersionSuffix
	}

	result.RiskTier = TierFromScore(result.CompositeRiskScore)
	result.Contributions = Explain(components, result.InferenceMode == domain.InferenceML)
	result.Snapshot = snapshot(in, f, components, heuristic)
	return result, nil
}

func (e *Engine) loadModel(dir string) (*LearnedModel, error) {
	if dir == "" {
		return nil, domain.NewModelUnavailableError(componentName, "no artifact directory configured", nil)
	}
	return artifacts.Get(e.provider, componentName, dir, LoadLearnedModel)
}

func versionOrDefault(v string) string {
	if v == "" {
		return DefaultVersion
	}
	return v
}

func snapshot(in Input, f features, c domain.Components, heuristic float64) domain.FeatureSnapshot {
	r := func(v float64) float64 { return numeric.Round(v, 6) }
	return domain.FeatureSnapshot{
		FIB4:                   r(f.fib4),
		APRI:                   r(f.apri),
		NFSScore:               r(f.nfsScore),
		BARDScore:              f.bardScore,
		StageNumeric:           r(f.stageNumeric),
		StageProbability:       r(f.stageProb),
		StiffnessKPa:           r(f.stiffnessKPa),
		StiffnessSource:        in.StiffnessSource,
		QualityValid:           f.qualityValid,
		PreviousCompositeScore: r(f.previous),
		ClinicalPresent:        in.Clinical != nil,
		ImagingPresent:         in.Fibrosis != nil,
		HeuristicScore:         heuristic,
		Components: domain.Components{
			FIB4:           r(c.FIB4),
			APRI:           r(c.APRI),
			Stage:          r(c.Stage),
			Stiffness:      r(c.Stiffness),
			NFS:            r(c.NFS),
			BARD:           r(c.BARD),
			History:        r(c.History),
			QualityPenalty: r(c.QualityPenalty),
		},
		AlertScoreThreshold: in.Policy.ScoreThreshold(),
		AlertPPVTarget:      in.Policy.PPVTarget,
		AlertRecallFloor:    in.Policy.RecallFloor,
		Extra: map[string]float64{
			"albumin_proxy": r(f.albumin),
		},
	}
}
