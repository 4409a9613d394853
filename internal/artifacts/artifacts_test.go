package artifacts

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	return logger
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestProvider_LoadsOnceConcurrently(t *testing.T) {
	p, err := NewProvider(DefaultCacheSize, testLogger())
	require.NoError(t, err)

	var loads int32
	load := func(path string) (string, error) {
		atomic.AddInt32(&loads, 1)
		return "model@" + filepath.Base(path), nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := Get(p, "test", "/tmp/model.json", load)
			assert.NoError(t, err)
			assert.Equal(t, "model@model.json", v)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&loads))
	assert.Equal(t, 1, p.Len())
}

func TestProvider_DoesNotCacheFailures(t *testing.T) {
	p, err := NewProvider(0, testLogger())
	require.NoError(t, err)

	calls := 0
	load := func(string) (int, error) {
		calls++
		if calls == 1 {
			return 0, errors.New("not yet")
		}
		return 42, nil
	}

	_, err = Get(p, "test", "/tmp/x.json", load)
	require.Error(t, err)

	v, err := Get(p, "test", "/tmp/x.json", load)
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, 2, calls)
}

func TestProvider_KindsDoNotCollide(t *testing.T) {
	p, err := NewProvider(DefaultCacheSize, testLogger())
	require.NoError(t, err)

	a, err := Get(p, "a", "/tmp/same.json", func(string) (string, error) { return "a", nil })
	require.NoError(t, err)
	b, err := Get(p, "b", "/tmp/same.json", func(string) (string, error) { return "b", nil })
	require.NoError(t, err)

	assert.Equal(t, "a", a)
	assert.Equal(t, "b", b)

	p.Purge()
	assert.Equal(t, 0, p.Len())
}

func TestReadJSON(t *testing.T) {
	dir := t.TempDir()

	var meta RunMetadata
	err := ReadJSON(filepath.Join(dir, "absent.json"), &meta)
	assert.ErrorIs(t, err, ErrMissing)

	bad := writeFile(t, dir, "bad.json", "{not json")
	assert.Error(t, ReadJSON(bad, &meta))

	good := writeFile(t, dir, "meta.json", `{"model_name":"stage1","model_version":"v7"}`)
	require.NoError(t, ReadJSON(good, &meta))
	assert.Equal(t, "stage1:v7", meta.Version("fallback"))
	assert.Equal(t, "fallback", RunMetadata{}.Version("fallback"))
}

func TestCheckFile(t *testing.T) {
	dir := t.TempDir()

	assert.Contains(t, CheckFile("model", filepath.Join(dir, "nope")), "missing")
	assert.Contains(t, CheckFile("model", dir), "not a file")
	assert.Contains(t, CheckFile("model", ""), "not configured")

	path := writeFile(t, dir, "ok.json", "{}")
	assert.Empty(t, CheckFile("model", path))

	var target map[string]any
	bad := writeFile(t, dir, "bad.json", "[")
	problems := CheckJSONFile("manifest", bad, &target)
	require.Len(t, problems, 1)
	assert.Contains(t, problems[0], "invalid JSON")
}

func TestTemperature_Value(t *testing.T) {
	f := func(v float64) *float64 { return &v }
	tests := []struct {
		name    string
		temp    Temperature
		want    float64
		wantErr bool
	}{
		{"valid", Temperature{Temperature: f(1.7)}, 1.7, false},
		{"missing", Temperature{}, 0, true},
		{"zero", Temperature{Temperature: f(0)}, 0, true},
		{"negative", Temperature{Temperature: f(-2)}, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.temp.Value()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPreprocessorAndClassifier(t *testing.T) {
	pre := &Preprocessor{
		FeatureColumns: []string{"age_years", "sex", "type2dm"},
		Categories:     map[string][]string{"sex": {"F", "M"}},
		Mean:           map[string]float64{"age_years": 50},
		Scale:          map[string]float64{"age_years": 10},
	}
	require.NoError(t, pre.Validate())
	assert.Equal(t, 4, pre.Width())

	x, err := pre.Transform(map[string]any{"age_years": 60.0, "sex": "M", "type2dm": true})
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 0, 1, 1}, x)

	_, err = pre.Transform(map[string]any{"age_years": 60.0})
	assert.Error(t, err)

	clf := &MultinomialLogistic{
		Classes:      []string{"LOW", "HIGH"},
		Coefficients: [][]float64{{-1, 0, 0, 0}, {1, 0, 0, 0}},
		Intercepts:   []float64{0, 0},
	}
	require.NoError(t, clf.Validate(pre.Width()))
	assert.Equal(t, "HIGH", clf.Predict(x))

	proba := clf.PredictProba(x)
	assert.InDelta(t, 1.0, proba[0]+proba[1], 1e-12)

	assert.Error(t, clf.Validate(3))
}

func TestKeyedModel(t *testing.T) {
	m := &KeyedModel{Kind: "logistic", Coefficients: map[string]float64{"fib4": 2}, Intercept: -2}
	require.NoError(t, m.Validate())
	assert.InDelta(t, 0.5, m.Predict([]string{"fib4"}, map[string]float64{"fib4": 1}), 1e-12)
	// an unknown column contributes nothing
	assert.InDelta(t, Sigmoid(-2), m.Predict([]string{"missing"}, map[string]float64{}), 1e-12)

	lin := &KeyedModel{Kind: "linear", Coefficients: map[string]float64{"a": 0.5}, Intercept: 0.1}
	assert.False(t, lin.IsClassifier())
	assert.InDelta(t, 0.6, lin.Predict([]string{"a"}, map[string]float64{"a": 1}), 1e-12)

	assert.Error(t, (&KeyedModel{Kind: "forest"}).Validate())
}

func TestSoftmax(t *testing.T) {
	out := Softmax([]float64{1000, 1000, 1000})
	for _, v := range out {
		assert.InDelta(t, 1.0/3.0, v, 1e-12)
	}
	assert.Equal(t, 1, Argmax([]float64{0.1, 0.7, 0.2}))
	assert.Nil(t, Softmax(nil))
}
