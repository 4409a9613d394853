package fusion

import (
	"fmt"
	"path/filepath"

	"github.com/hepatica-risk-engine/internal/artifacts"
	"github.com/hepatica-risk-engine/internal/domain"
	"github.com/hepatica-risk-engine/pkg/numeric"
)

// Artifact file names inside the Stage 3 artifact directory.
const (
	RiskModelFile = "stage3_risk_model.json"
	ManifestFile  = "stage3_feature_manifest.json"
	MetadataFile  = "stage3_run_metadata.json"

	// DefaultVersion is reported when the run metadata is absent.
	DefaultVersion = "multimodal-stage3-risk:v1"

	componentName = "stage3"
)

// LearnedModel is the optional trained fusion override.
type LearnedModel struct {
	Model   *artifacts.KeyedModel
	Columns []string
	Version string
}

// LoadLearnedModel reads the fusion model, its feature manifest and run
// metadata from dir. Only the model file is required.
func LoadLearnedModel(dir string) (*LearnedModel, error) {
	modelPath := filepath.Join(dir, RiskModelFile)
	if problem := artifacts.CheckFile("fusion model", modelPath); problem != "" {
		return nil, domain.NewModelUnavailableError(componentName, problem, nil)
	}

	m := &LearnedModel{Model: &artifacts.KeyedModel{}, Version: DefaultVersion}
	if err := artifacts.ReadJSON(modelPath, m.Model); err != nil {
		return nil, domain.NewModelUnavailableError(componentName, "failed to load fusion model", err)
	}
	if err := m.Model.Validate(); err != nil {
		return nil, domain.NewModelUnavailableError(componentName, "fusion model is malformed", err)
	}

	var manifest artifacts.FeatureManifest
	if err := artifacts.ReadJSON(filepath.Join(dir, ManifestFile), &manifest); err == nil && len(manifest.Validate()) == 0 {
		m.Columns = manifest.FeatureColumns
	} else {
		m.Columns = ModelFeatureColumns
	}

	var meta artifacts.RunMetadata
	if err := artifacts.ReadJSON(filepath.Join(dir, MetadataFile), &meta); err == nil {
		m.Version = meta.Version(DefaultVersion)
	}
	return m, nil
}

// Predict returns the composite probability. Regression output is clamped
// to [0,1]; manifest columns missing from the payload read as 0.
func (m *LearnedModel) Predict(payload map[string]float64) float64 {
	p := m.Model.Predict(m.Columns, payload)
	if !m.Model.IsClassifier() {
		p = numeric.Clamp(p, 0, 1)
	}
	return p
}

// InspectArtifacts checks the Stage 3 bundle in dir without running it.
func InspectArtifacts(dir string, strict bool) domain.ArtifactHealth {
	var problems []string

	var model artifacts.KeyedModel
	modelProblems := artifacts.CheckJSONFile("fusion model", filepath.Join(dir, RiskModelFile), &model)
	problems = append(problems, modelProblems...)
	if len(modelProblems) == 0 {
		if err := model.Validate(); err != nil {
			problems = append(problems, fmt.Sprintf("fusion model: %v", err))
		}
	}

	var manifest artifacts.FeatureManifest
	manifestProblems := artifacts.CheckJSONFile("feature manifest", filepath.Join(dir, ManifestFile), &manifest)
	problems = append(problems, manifestProblems...)
	if len(manifestProblems) == 0 {
		problems = append(problems, manifest.Validate()...)
	}

	metaPath := filepath.Join(dir, MetadataFile)
	if artifacts.CheckFile("run metadata", metaPath) == "" {
		var meta artifacts.RunMetadata
		problems = append(problems, artifacts.CheckJSONFile("run metadata", metaPath, &meta)...)
	}

	return domain.NewArtifactHealth(strict, problems)
}
