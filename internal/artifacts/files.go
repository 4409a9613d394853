package artifacts

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
)

// ErrMissing is wrapped by ReadJSON when the artifact file does not exist.
var ErrMissing = errors.New("artifact missing")

// ReadJSON decodes the JSON file at path into v.
func ReadJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrMissing, path)
		}
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("invalid JSON in %s: %w", path, err)
	}
	return nil
}

// CheckFile returns a human-readable problem for a path that is missing or
// not a regular file, or "" when the file is usable.
func CheckFile(label, path string) string {
	if path == "" {
		return fmt.Sprintf("%s path is not configured", label)
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Sprintf("%s missing: %s", label, path)
		}
		return fmt.Sprintf("%s unreadable: %s: %v", label, path, err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Sprintf("%s is not a file: %s", label, path)
	}
	return ""
}

// CheckJSONFile extends CheckFile with a parse check into v.
func CheckJSONFile(label, path string, v any) []string {
	if problem := CheckFile(label, path); problem != "" {
		return []string{problem}
	}
	if err := ReadJSON(path, v); err != nil {
		return []string{fmt.Sprintf("%s invalid JSON: %s", label, path)}
	}
	return nil
}

// Temperature is the Stage 2 calibration artifact.
type Temperature struct {
	Temperature *float64 `json:"temperature"`
}

// Value validates and returns the temperature scalar.
func (t Temperature) Value() (float64, error) {
	if t.Temperature == nil {
		return 0, errors.New("temperature field is missing")
	}
	v := *t.Temperature
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("temperature is not finite: %v", v)
	}
	if v <= 0 {
		return 0, fmt.Errorf("temperature must be positive: %v", v)
	}
	return v, nil
}

// RunMetadata identifies the training run that produced an artifact bundle.
type RunMetadata struct {
	ModelName    string `json:"model_name"`
	ModelVersion string `json:"model_version"`
}

// Version formats the metadata as name:version, or returns fallback when
// either part is empty.
func (m RunMetadata) Version(fallback string) string {
	if m.ModelName == "" || m.ModelVersion == "" {
		return fallback
	}
	return m.ModelName + ":" + m.ModelVersion
}
