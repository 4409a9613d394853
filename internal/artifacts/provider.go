// Package artifacts loads the exported inference artifacts of the three
// assessment stages and caches them for reuse across requests.
package artifacts

import (
	"fmt"
	"path/filepath"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// DefaultCacheSize is enough for one artifact bundle per stage plus one spare.
const DefaultCacheSize = 4

// Provider caches loaded artifacts keyed by kind and resolved path. Concurrent
// first loads of the same key share a single load. Failed loads are not
// cached so a fixed artifact is picked up on the next call.
type Provider struct {
	cache  *lru.Cache[string, any]
	group  singleflight.Group
	logger *logrus.Logger
}

// NewProvider creates a provider holding at most size artifacts.
func NewProvider(size int, logger *logrus.Logger) (*Provider, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[string, any](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create artifact cache: %w", err)
	}
	return &Provider{cache: cache, logger: logger}, nil
}

// Get returns the cached artifact of the given kind at path, loading it with
// load on a miss.
func Get[T any](p *Provider, kind, path string, load func(path string) (T, error)) (T, error) {
	var zero T

	resolved, err := filepath.Abs(path)
	if err != nil {
		resolved = path
	}
	key := kind + ":" + resolved

	if cached, ok := p.cache.Get(key); ok {
		if value, ok := cached.(T); ok {
			return value, nil
		}
	}

	v, err, shared := p.group.Do(key, func() (any, error) {
		if cached, ok := p.cache.Get(key); ok {
			return cached, nil
		}
		value, err := load(resolved)
		if err != nil {
			return nil, err
		}
		p.cache.Add(key, value)
		p.logger.WithFields(logrus.Fields{
			"kind": kind,
			"path": resolved,
		}).Debug("Loaded artifact")
		return value, nil
	})
	if err != nil {
		return zero, err
	}

	value, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("artifact %s has unexpected type %T", key, v)
	}
	if shared {
		p.logger.WithField("kind", kind).Debug("Artifact load shared with concurrent caller")
	}
	return value, nil
}

// Purge drops every cached artifact.
func (p *Provider) Purge() {
	p.cache.Purge()
}

// Len returns the number of cached artifacts.
func (p *Provider) Len() int {
	return p.cache.Len()
}
