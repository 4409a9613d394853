package artifacts

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// Preprocessor standardizes numeric columns and one-hot encodes categorical
// columns, emitting values in FeatureColumns order.
type Preprocessor struct {
	FeatureColumns []string            `json:"feature_columns"`
	Categories     map[string][]string `json:"categories"`
	Mean           map[string]float64  `json:"mean"`
	Scale          map[string]float64  `json:"scale"`
}

// Width is the length of the transformed vector.
func (p *Preprocessor) Width() int {
	n := 0
	for _, col := range p.FeatureColumns {
		if cats, ok := p.Categories[col]; ok {
			n += len(cats)
		} else {
			n++
		}
	}
	return n
}

// Validate reports structural problems.
func (p *Preprocessor) Validate() error {
	if len(p.FeatureColumns) == 0 {
		return errors.New("preprocessor has no feature columns")
	}
	return nil
}

// Transform turns a named payload into the model input vector. Missing
// columns are an error.
func (p *Preprocessor) Transform(payload map[string]any) ([]float64, error) {
	out := make([]float64, 0, p.Width())
	for _, col := range p.FeatureColumns {
		raw, ok := payload[col]
		if !ok {
			return nil, fmt.Errorf("feature %q missing from payload", col)
		}

		if cats, ok := p.Categories[col]; ok {
			label := categoryLabel(raw)
			for _, c := range cats {
				if c == label {
					out = append(out, 1)
				} else {
					out = append(out, 0)
				}
			}
			continue
		}

		v, err := numeric(raw)
		if err != nil {
			return nil, fmt.Errorf("feature %q: %w", col, err)
		}
		scale := p.Scale[col]
		if scale == 0 {
			scale = 1
		}
		out = append(out, (v-p.Mean[col])/scale)
	}
	return out, nil
}

func categoryLabel(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		if t {
			return "1"
		}
		return "0"
	default:
		return fmt.Sprint(t)
	}
}

func numeric(v any) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case float32:
		return float64(t), nil
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case bool:
		if t {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, fmt.Errorf("unsupported value type %T", v)
	}
}

// MultinomialLogistic is a softmax classifier over Classes.
type MultinomialLogistic struct {
	Classes      []string    `json:"classes"`
	Coefficients [][]float64 `json:"coefficients"`
	Intercepts   []float64   `json:"intercepts"`
}

// Validate checks that the matrix agrees with the class list and input width.
func (m *MultinomialLogistic) Validate(width int) error {
	if len(m.Classes) == 0 {
		return errors.New("classifier has no classes")
	}
	if len(m.Coefficients) != len(m.Classes) || len(m.Intercepts) != len(m.Classes) {
		return fmt.Errorf("classifier has %d classes but %d coefficient rows and %d intercepts",
			len(m.Classes), len(m.Coefficients), len(m.Intercepts))
	}
	for i, row := range m.Coefficients {
		if len(row) != width {
			return fmt.Errorf("classifier row %d has width %d, want %d", i, len(row), width)
		}
	}
	return nil
}

// PredictProba returns class probabilities in Classes order.
func (m *MultinomialLogistic) PredictProba(x []float64) []float64 {
	logits := make([]float64, len(m.Classes))
	for i, row := range m.Coefficients {
		logits[i] = dot(row, x) + m.Intercepts[i]
	}
	return Softmax(logits)
}

// Predict returns the most probable class label.
func (m *MultinomialLogistic) Predict(x []float64) string {
	return m.Classes[Argmax(m.PredictProba(x))]
}

// LinearRegressor is a dense linear model.
type LinearRegressor struct {
	Coefficients []float64 `json:"coefficients"`
	Intercept    float64   `json:"intercept"`
}

// Validate checks the coefficient width.
func (r *LinearRegressor) Validate(width int) error {
	if len(r.Coefficients) != width {
		return fmt.Errorf("regressor has width %d, want %d", len(r.Coefficients), width)
	}
	return nil
}

// Predict evaluates the model.
func (r *LinearRegressor) Predict(x []float64) float64 {
	return dot(r.Coefficients, x) + r.Intercept
}

// Model kinds for KeyedModel.
const (
	KindLogistic = "logistic"
	KindLinear   = "linear"
)

// KeyedModel is a linear or logistic model whose coefficients are keyed by
// feature column name.
type KeyedModel struct {
	Kind         string             `json:"kind"`
	Coefficients map[string]float64 `json:"coefficients"`
	Intercept    float64            `json:"intercept"`
}

// Validate checks the model kind.
func (m *KeyedModel) Validate() error {
	switch strings.ToLower(m.Kind) {
	case KindLogistic, KindLinear:
		return nil
	default:
		return fmt.Errorf("unknown model kind %q", m.Kind)
	}
}

// IsClassifier reports whether Predict returns a positive-class probability.
func (m *KeyedModel) IsClassifier() bool {
	return strings.ToLower(m.Kind) == KindLogistic
}

// Predict evaluates the model over columns. Columns absent from features
// contribute 0.
func (m *KeyedModel) Predict(columns []string, features map[string]float64) float64 {
	z := m.Intercept
	for _, col := range columns {
		z += m.Coefficients[col] * features[col]
	}
	if m.IsClassifier() {
		return Sigmoid(z)
	}
	return z
}

// FeatureManifest lists the ordered model input columns.
type FeatureManifest struct {
	FeatureColumns []string `json:"feature_columns"`
}

// Validate checks that the manifest is non-empty and has no blank names.
func (m *FeatureManifest) Validate() []string {
	var problems []string
	if len(m.FeatureColumns) == 0 {
		problems = append(problems, "feature manifest lists no columns")
	}
	for i, col := range m.FeatureColumns {
		if strings.TrimSpace(col) == "" {
			problems = append(problems, fmt.Sprintf("feature manifest column %d is blank", i))
		}
	}
	return problems
}

func dot(a, b []float64) float64 {
	var s float64
	for i := range a {
		if i < len(b) {
			s += a[i] * b[i]
		}
	}
	return s
}

// Softmax returns the numerically stable softmax of logits.
func Softmax(logits []float64) []float64 {
	if len(logits) == 0 {
		return nil
	}
	maxLogit := logits[0]
	for _, l := range logits[1:] {
		if l > maxLogit {
			maxLogit = l
		}
	}
	out := make([]float64, len(logits))
	var sum float64
	for i, l := range logits {
		out[i] = math.Exp(l - maxLogit)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// Sigmoid is the logistic function.
func Sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}

// Argmax returns the index of the largest value, the first on ties.
func Argmax(v []float64) int {
	best := 0
	for i := range v {
		if v[i] > v[best] {
			best = i
		}
	}
	return best
}
