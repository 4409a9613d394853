// Package registry resolves which model version and artifact location each
// stage uses from the model registry, falling back to configured defaults.
package registry

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/hepatica-risk-engine/internal/domain"
)

// Resolution is the resolved version and artifact location of one stage.
type Resolution struct {
	Entry        *domain.ModelRegistryEntry
	Version      string
	ArtifactPath string
}

// Resolver looks up active registry entries.
type Resolver struct {
	logger *logrus.Logger
}

// NewResolver creates a registry resolver
func NewResolver(logger *logrus.Logger) *Resolver {
	return &Resolver{logger: logger}
}

// Active returns the newest active entry for name, or nil when name is
// empty or nothing is registered.
func (r *Resolver) Active(ctx context.Context, store domain.RegistryStore, name string) (*domain.ModelRegistryEntry, error) {
	if strings.TrimSpace(name) == "" {
		return nil, nil
	}
	entry, err := store.ActiveModel(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("resolving active model %q: %w", name, err)
	}
	return entry, nil
}

// Resolve combines Active, FormatVersion and ResolveArtifactPath.
func (r *Resolver) Resolve(ctx context.Context, store domain.RegistryStore, name, defaultVersion, defaultPath string) (Resolution, error) {
	entry, err := r.Active(ctx, store, name)
	if err != nil {
		return Resolution{}, err
	}
	res := Resolution{
		Entry:        entry,
		Version:      FormatVersion(entry, defaultVersion),
		ArtifactPath: ResolveArtifactPath(entry, defaultPath),
	}
	if entry != nil {
		r.logger.WithFields(logrus.Fields{
			"model":         entry.Name,
			"version":       res.Version,
			"artifact_path": res.ArtifactPath,
		}).Debug("Resolved model from registry")
	}
	return res, nil
}

// FormatVersion renders name:version, or fallback when entry is nil.
func FormatVersion(entry *domain.ModelRegistryEntry, fallback string) string {
	if entry == nil {
		return fallback
	}
	return entry.Name + ":" + entry.Version
}

// ResolveArtifactPath honours file:// and absolute artifact URIs; any other
// scheme (object storage, http) resolves to defaultPath.
func ResolveArtifactPath(entry *domain.ModelRegistryEntry, defaultPath string) string {
	if entry == nil {
		return defaultPath
	}
	uri := strings.TrimSpace(entry.ArtifactURI)
	if rest, ok := strings.CutPrefix(uri, "file://"); ok && rest != "" {
		return rest
	}
	if strings.HasPrefix(uri, "/") {
		return uri
	}
	return defaultPath
}

// Seed is the YAML registry seed document.
type Seed struct {
	Models []domain.ModelRegistryEntry `yaml:"models"`
}

// LoadSeed reads a YAML registry seed file.
func LoadSeed(path string) ([]domain.ModelRegistryEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", path, err)
	}
	for i, m := range seed.Models {
		if strings.TrimSpace(m.Name) == "" || strings.TrimSpace(m.Version) == "" {
			return nil, fmt.Errorf("%s: model %d needs a name and version", path, i)
		}
	}
	return seed.Models, nil
}

// ApplySeed saves every seeded entry.
func (r *Resolver) ApplySeed(ctx context.Context, store domain.RegistryStore, entries []domain.ModelRegistryEntry) error {
	for i := range entries {
		entry := entries[i]
		if err := store.SaveModel(ctx, &entry); err != nil {
			return fmt.Errorf("seeding %s:%s: %w", entry.Name, entry.Version, err)
		}
	}
	r.logger.WithField("models", len(entries)).Info("Model registry seeded")
	return nil
}
