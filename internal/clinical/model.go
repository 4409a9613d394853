package clinical

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/hepatica-risk-engine/internal/artifacts"
	"github.com/hepatica-risk-engine/internal/domain"
	"github.com/hepatica-risk-engine/pkg/numeric"
)

// Artifact file names inside the Stage 1 artifact directory.
const (
	PreprocessorFile = "stage1_preprocessor.json"
	ClassifierFile   = "stage1_classifier.json"
	RegressorFile    = "stage1_reg_probability.json"
	MetadataFile     = "stage1_run_metadata.json"

	// DefaultModelVersion is reported when the run metadata is absent or unreadable.
	DefaultModelVersion = "clinical-stage1-gbdt:v1"
)

const componentName = "stage1"

// Model is the learned Stage 1 override: a tier classifier and a probability
// regressor sharing one preprocessor.
type Model struct {
	Preprocessor *artifacts.Preprocessor
	Classifier   *artifacts.MultinomialLogistic
	Regressor    *artifacts.LinearRegressor
	Version      string
}

// LoadModel reads and validates the Stage 1 artifacts in dir.
func LoadModel(dir string) (*Model, error) {
	var missing []string
	for _, name := range []string{PreprocessorFile, ClassifierFile, RegressorFile} {
		if problem := artifacts.CheckFile(name, filepath.Join(dir, name)); problem != "" {
			missing = append(missing, problem)
		}
	}
	if len(missing) > 0 {
		return nil, domain.NewModelUnavailableError(componentName, fmt.Sprintf("artifacts missing: %v", missing), nil)
	}

	m := &Model{
		Preprocessor: &artifacts.Preprocessor{},
		Classifier:   &artifacts.MultinomialLogistic{},
		Regressor:    &artifacts.LinearRegressor{},
	}
	if err := artifacts.ReadJSON(filepath.Join(dir, PreprocessorFile), m.Preprocessor); err != nil {
		return nil, domain.NewModelUnavailableError(componentName, "failed to load preprocessor", err)
	}
	if err := artifacts.ReadJSON(filepath.Join(dir, ClassifierFile), m.Classifier); err != nil {
		return nil, domain.NewModelUnavailableError(componentName, "failed to load classifier", err)
	}
	if err := artifacts.ReadJSON(filepath.Join(dir, RegressorFile), m.Regressor); err != nil {
		return nil, domain.NewModelUnavailableError(componentName, "failed to load probability regressor", err)
	}

	if err := m.validate(); err != nil {
		return nil, domain.NewModelUnavailableError(componentName, "artifacts are inconsistent", err)
	}

	m.Version = DefaultModelVersion
	var meta artifacts.RunMetadata
	if err := artifacts.ReadJSON(filepath.Join(dir, MetadataFile), &meta); err == nil {
		m.Version = meta.Version(DefaultModelVersion)
	}
	return m, nil
}

func (m *Model) validate() error {
	if err := m.Preprocessor.Validate(); err != nil {
		return err
	}
	width := m.Preprocessor.Width()
	return errors.Join(m.Classifier.Validate(width), m.Regressor.Validate(width))
}

// Predict returns the learned tier and probability for in. A class label
// outside the clinical tiers means the artifact is unusable.
func (m *Model) Predict(in domain.ClinicalInput) (domain.RiskTier, float64, error) {
	payload, err := BuildFeaturePayload(in)
	if err != nil {
		return "", 0, err
	}
	x, err := m.Preprocessor.Transform(payload)
	if err != nil {
		return "", 0, domain.NewModelUnavailableError(componentName, "feature transform failed", err)
	}

	label := m.Classifier.Predict(x)
	tier, ok := domain.ParseClinicalTier(label)
	if !ok {
		return "", 0, domain.NewModelUnavailableError(componentName,
			fmt.Sprintf("unexpected classifier output label: %s", label), nil)
	}

	probability := numeric.Round(numeric.Clamp(m.Regressor.Predict(x), 0, MaxProbability), 4)
	return tier, probability, nil
}
