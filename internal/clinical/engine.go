package clinical

import (
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/hepatica-risk-engine/internal/artifacts"
	"github.com/hepatica-risk-engine/internal/domain"
)

// ModelSource selects the learned artifacts for a run. Empty fields fall
// back to the configured directory and the version in the run metadata.
type ModelSource struct {
	ArtifactDir string
	Version     string
}

// Engine runs Stage 1 triage.
type Engine struct {
	logger   *logrus.Logger
	provider *artifacts.Provider
	cfg      domain.Stage1Config
	strict   bool
}

// NewEngine creates a Stage 1 engine. strict makes an unavailable learned
// model fatal instead of falling back to the rules.
func NewEngine(logger *logrus.Logger, provider *artifacts.Provider, cfg domain.Stage1Config, strict bool) *Engine {
	return &Engine{logger: logger, provider: provider, cfg: cfg, strict: strict}
}

// Assess computes the rule result and, when the learned override is enabled,
// replaces its tier and probability with the model's. FIB-4 and APRI always
// come from the rules.
func (e *Engine) Assess(in domain.ClinicalInput, src ModelSource) (*Result, error) {
	result, err := RunRules(in)
	if err != nil {
		return nil, err
	}
	if !e.cfg.MLEnabled {
		return result, nil
	}

	dir := src.ArtifactDir
	if dir == "" {
		dir = e.cfg.ArtifactDir
	}

	model, err := artifacts.Get(e.provider, componentName, dir, LoadModel)
	if err == nil {
		var tier domain.RiskTier
		var probability float64
		tier, probability, err = model.Predict(in)
		if err == nil {
			result.RiskTier = tier
			result.Probability = probability
			result.ModelVersion = model.Version
			if src.Version != "" {
				result.ModelVersion = src.Version
			}
			result.InferenceMode = domain.InferenceML
			return result, nil
		}
	}

	if domain.IsInvalidInput(err) {
		return nil, err
	}
	if e.strict {
		return nil, err
	}
	e.logger.WithFields(logrus.Fields{
		"artifact_dir": dir,
		"error":        err.Error(),
	}).Warn("Stage 1 learned model unavailable, using rule engine")
	return result, nil
}

// InspectArtifacts checks the Stage 1 artifact bundle in dir without running
// inference.
func InspectArtifacts(dir string, strict bool) domain.ArtifactHealth {
	var problems []string
	problems = append(problems, artifacts.CheckJSONFile(PreprocessorFile, filepath.Join(dir, PreprocessorFile), &artifacts.Preprocessor{})...)
	problems = append(problems, artifacts.CheckJSONFile(ClassifierFile, filepath.Join(dir, ClassifierFile), &artifacts.MultinomialLogistic{})...)
	problems = append(problems, artifacts.CheckJSONFile(RegressorFile, filepath.Join(dir, RegressorFile), &artifacts.LinearRegressor{})...)
	if len(problems) == 0 {
		if _, err := LoadModel(dir); err != nil {
			problems = append(problems, err.Error())
		}
	}
	return domain.NewArtifactHealth(strict, problems)
}
