package registry

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/hepatica-risk-engine/internal/domain"
)

type mockRegistryStore struct {
	mock.Mock
}

func (m *mockRegistryStore) SaveModel(ctx context.Context, entry *domain.ModelRegistryEntry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func (m *mockRegistryStore) ActiveModel(ctx context.Context, name string) (*domain.ModelRegistryEntry, error) {
	args := m.Called(ctx, name)
	entry, _ := args.Get(0).(*domain.ModelRegistryEntry)
	return entry, args.Error(1)
}

func newResolver() *Resolver {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	return NewResolver(logger)
}

func TestFormatVersion(t *testing.T) {
	assert.Equal(t, "multimodal-stage3-risk:v1", FormatVersion(nil, "multimodal-stage3-risk:v1"))
	assert.Equal(t, "stage3:v7", FormatVersion(&domain.ModelRegistryEntry{Name: "stage3", Version: "v7"}, "x"))
}

func TestResolveArtifactPath(t *testing.T) {
	tests := []struct {
		name     string
		uri      string
		expected string
	}{
		{"file scheme", "file:///opt/models/stage3", "/opt/models/stage3"},
		{"absolute", "/srv/models", "/srv/models"},
		{"padded", "  /srv/models  ", "/srv/models"},
		{"empty file scheme", "file://", "/default"},
		{"object storage", "s3://bucket/models", "/default"},
		{"relative", "models/stage3", "/default"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry := &domain.ModelRegistryEntry{ArtifactURI: tt.uri}
			assert.Equal(t, tt.expected, ResolveArtifactPath(entry, "/default"))
		})
	}
	assert.Equal(t, "/default", ResolveArtifactPath(nil, "/default"))
}

func TestResolve(t *testing.T) {
	ctx := context.Background()
	store := new(mockRegistryStore)
	store.On("ActiveModel", ctx, "stage3").
		Return(&domain.ModelRegistryEntry{Name: "stage3", Version: "v2", ArtifactURI: "file:///models/v2"}, nil)
	store.On("ActiveModel", ctx, "unused").Return(nil, nil)

	res, err := newResolver().Resolve(ctx, store, "stage3", "stage3:v1", "/defaults")
	require.NoError(t, err)
	assert.Equal(t, "stage3:v2", res.Version)
	assert.Equal(t, "/models/v2", res.ArtifactPath)

	res, err = newResolver().Resolve(ctx, store, "unused", "stage3:v1", "/defaults")
	require.NoError(t, err)
	assert.Nil(t, res.Entry)
	assert.Equal(t, "stage3:v1", res.Version)
	assert.Equal(t, "/defaults", res.ArtifactPath)

	// a blank name never touches the store
	res, err = newResolver().Resolve(ctx, store, " ", "stage3:v1", "/defaults")
	require.NoError(t, err)
	assert.Equal(t, "stage3:v1", res.Version)

	store.AssertNumberOfCalls(t, "ActiveModel", 2)
}

func TestLoadSeedAndApply(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
models:
  - name: multimodal-stage3-risk
    version: v2
    artifact_uri: file:///models/stage3
    active: true
    metrics:
      auroc: 0.88
  - name: clinical-stage1-gbdt
    version: v1
`), 0o644))

	entries, err := LoadSeed(path)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.True(t, entries[0].Active)
	assert.Equal(t, 0.88, entries[0].Metrics["auroc"])
	assert.False(t, entries[1].Active)

	ctx := context.Background()
	store := new(mockRegistryStore)
	store.On("SaveModel", ctx, mock.AnythingOfType("*domain.ModelRegistryEntry")).Return(nil).Twice()
	require.NoError(t, newResolver().ApplySeed(ctx, store, entries))
	store.AssertExpectations(t)
}

func TestLoadSeedRejectsIncompleteEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("models:\n  - name: only-a-name\n"), 0o644))

	_, err := LoadSeed(path)
	assert.Error(t, err)

	_, err = LoadSeed(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
