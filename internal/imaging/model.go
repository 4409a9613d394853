package imaging

import (
	"errors"
	"fmt"

	"github.com/hepatica-risk-engine/internal/artifacts"
	"github.com/hepatica-risk-engine/internal/domain"
)

// DefaultModelVersion is reported for learned predictions when neither the
// registry nor the artifact names a version.
const DefaultModelVersion = "fibrosis-efficientnet-b3:v1"

const componentName = "stage2"

// LinearHead is the exported classifier: a linear layer over grid-pooled
// channel means of the normalized input tensor.
type LinearHead struct {
	ModelName    string      `json:"model_name"`
	ModelVersion string      `json:"model_version"`
	Grid         int         `json:"grid"`
	Weights      [][]float64 `json:"weights"`
	Bias         []float64   `json:"bias"`
}

// Validate checks the head's shape against the five stages.
func (m *LinearHead) Validate() error {
	if m.Grid <= 0 || m.Grid > InputSize {
		return fmt.Errorf("invalid pooling grid %d", m.Grid)
	}
	if len(m.Weights) != len(domain.Stages) || len(m.Bias) != len(domain.Stages) {
		return fmt.Errorf("classifier must have %d output rows, got %d weights and %d biases",
			len(domain.Stages), len(m.Weights), len(m.Bias))
	}
	width := 3 * m.Grid * m.Grid
	for i, row := range m.Weights {
		if len(row) != width {
			return fmt.Errorf("weight row %d has width %d, want %d", i, len(row), width)
		}
	}
	return nil
}

// Logits runs the head on a preprocessed tensor.
func (m *LinearHead) Logits(t *Tensor) []float64 {
	features := t.pool(m.Grid)
	logits := make([]float64, len(m.Weights))
	for k, row := range m.Weights {
		z := m.Bias[k]
		for j, w := range row {
			z += w * features[j]
		}
		logits[k] = z
	}
	return logits
}

// Version returns name:version from the artifact, or the default.
func (m *LinearHead) Version() string {
	return artifacts.RunMetadata{ModelName: m.ModelName, ModelVersion: m.ModelVersion}.Version(DefaultModelVersion)
}

// LoadLinearHead reads and validates a classifier artifact.
func LoadLinearHead(path string) (*LinearHead, error) {
	if problem := artifacts.CheckFile("model artifact", path); problem != "" {
		return nil, domain.NewModelUnavailableError(componentName, problem, nil)
	}
	head := &LinearHead{}
	if err := artifacts.ReadJSON(path, head); err != nil {
		return nil, domain.NewModelUnavailableError(componentName, "failed to load classifier", err)
	}
	if err := head.Validate(); err != nil {
		return nil, domain.NewModelUnavailableError(componentName, "classifier artifact is malformed", err)
	}
	return head, nil
}

// LoadTemperature reads and validates the calibration artifact.
func LoadTemperature(path string) (float64, error) {
	if problem := artifacts.CheckFile("temperature artifact", path); problem != "" {
		return 0, domain.NewArtifactContractError(path, problem)
	}
	var t artifacts.Temperature
	if err := artifacts.ReadJSON(path, &t); err != nil {
		if errors.Is(err, artifacts.ErrMissing) {
			return 0, domain.NewArtifactContractError(path, "temperature artifact missing")
		}
		return 0, domain.NewArtifactContractError(path, "temperature artifact is not valid JSON")
	}
	v, err := t.Value()
	if err != nil {
		return 0, domain.NewArtifactContractError(path, err.Error())
	}
	return v, nil
}
