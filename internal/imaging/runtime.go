package imaging

import (
	"image"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/hepatica-risk-engine/internal/artifacts"
	"github.com/hepatica-risk-engine/internal/domain"
)

// Flag thresholds.
const (
	LowConfidenceBelow = 0.60
	SevereReviewFrom   = 0.65
)

// RuntimeOptions selects the artifacts of one runtime.
type RuntimeOptions struct {
	ModelPath       string
	TemperaturePath string
	// ModelVersion overrides the version stored in the artifact, typically
	// from the model registry.
	ModelVersion string
	// Strict forbids the heuristic fallback and the default temperature.
	Strict bool
}

// Prediction is the Stage 2 classifier output.
type Prediction struct {
	Softmax        []domain.StageProbability `json:"softmax_vector"`
	Top1           domain.StageProbability   `json:"top1"`
	Top2           []domain.StageProbability `json:"top2"`
	ConfidenceFlag domain.ConfidenceFlag     `json:"confidence_flag"`
	EscalationFlag domain.EscalationFlag     `json:"escalation_flag"`
	ModelVersion   string                    `json:"model_version"`
	InferenceMode  domain.InferenceMode      `json:"inference_mode"`
}

// Runtime classifies scans into fibrosis stages.
type Runtime struct {
	logger      *logrus.Logger
	provider    *artifacts.Provider
	opts        RuntimeOptions
	temperature float64
}

// NewRuntime creates a runtime and resolves the calibration temperature. In
// strict mode an invalid temperature artifact is returned as an
// ArtifactContractError; otherwise the temperature defaults to 1.0.
func NewRuntime(logger *logrus.Logger, provider *artifacts.Provider, opts RuntimeOptions) (*Runtime, error) {
	r := &Runtime{logger: logger, provider: provider, opts: opts, temperature: 1.0}

	temperature, err := artifacts.Get(provider, "stage2-temperature", opts.TemperaturePath, LoadTemperature)
	if err != nil {
		if opts.Strict {
			return nil, err
		}
		logger.WithFields(logrus.Fields{
			"path":  opts.TemperaturePath,
			"error": err.Error(),
		}).Warn("Temperature artifact unusable, defaulting to 1.0")
		return r, nil
	}
	r.temperature = temperature
	return r, nil
}

// Temperature returns the calibration scalar in use.
func (r *Runtime) Temperature() float64 {
	return r.temperature
}

// Predict classifies a decoded scan. When the learned model cannot be loaded
// the radiomic heuristic is used unless the runtime is strict, in which case
// the ModelUnavailableError is returned.
func (r *Runtime) Predict(img image.Image) (*Prediction, error) {
	tensor := Preprocess(img)

	var logits []float64
	var mode domain.InferenceMode
	var version string

	head, err := artifacts.Get(r.provider, componentName, r.opts.ModelPath, LoadLinearHead)
	switch {
	case err == nil:
		logits = head.Logits(tensor)
		mode = domain.InferenceML
		version = head.Version()
	case r.opts.Strict:
		return nil, err
	default:
		r.logger.WithFields(logrus.Fields{
			"path":  r.opts.ModelPath,
			"error": err.Error(),
		}).Warn("Stage 2 model unavailable, using radiomic heuristic")
		logits = HeuristicLogits(ExtractRadiomics(tensor))
		mode = domain.InferenceHeuristic
		version = DefaultModelVersion
	}
	if r.opts.ModelVersion != "" {
		version = r.opts.ModelVersion
	}
	if mode == domain.InferenceHeuristic {
		version += domain.HeuristicVersionSuffix
	}

	scaled := make([]float64, len(logits))
	for i, l := range logits {
		scaled[i] = l / r.temperature
	}
	return buildPrediction(artifacts.Softmax(scaled), mode, version), nil
}

func buildPrediction(probs []float64, mode domain.InferenceMode, version string) *Prediction {
	softmax := make([]domain.StageProbability, len(domain.Stages))
	for i, stage := range domain.Stages {
		softmax[i] = domain.StageProbability{Stage: stage, Probability: probs[i]}
	}

	ordered := append([]domain.StageProbability(nil), softmax...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Probability > ordered[j].Probability
	})
	top1 := ordered[0]

	confidence := domain.ConfidenceNormal
	if top1.Probability < LowConfidenceBelow || mode == domain.InferenceHeuristic {
		confidence = domain.ConfidenceLow
	}
	escalation := domain.EscalationNone
	if top1.Stage.IsAdvanced() && top1.Probability >= SevereReviewFrom {
		escalation = domain.EscalationSevereReview
	}

	return &Prediction{
		Softmax:        softmax,
		Top1:           top1,
		Top2:           ordered[:2],
		ConfidenceFlag: confidence,
		EscalationFlag: escalation,
		ModelVersion:   version,
		InferenceMode:  mode,
	}
}
