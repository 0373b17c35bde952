package source

import (
	"context"
	"fmt"
	"os"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/wkalt/spatialcache/feature"
	"github.com/wkalt/spatialcache/region"
)

/*
Package source defines the upstream data sources a cache fetches from on a
miss, and provides a few concrete ones: an in-memory set of features (loaded
from GeoJSON files or supplied directly), an HTTP client for another server
exposing the features endpoint, and a function adapter.

A source's Fetch must return every feature whose envelope intersects the
requested region. Returning more is allowed; the cache filters on read.
*/

////////////////////////////////////////////////////////////////////////////////

// Source is an upstream feature provider.
type Source interface {
	Fetch(ctx context.Context, r region.Region) ([]feature.Feature, error)
}

// Func adapts a function to the Source interface.
type Func func(ctx context.Context, r region.Region) ([]feature.Feature, error)

// Fetch calls f.
func (f Func) Fetch(ctx context.Context, r region.Region) ([]feature.Feature, error) {
	return f(ctx, r)
}

// Memory is a source over a fixed set of features. It answers fetches by
// brute force and counts them.
type Memory struct {
	mtx      *sync.RWMutex
	features []feature.Feature
	fetches  atomic.Int64
}

// NewMemory returns a source serving the supplied features.
func NewMemory(features ...feature.Feature) *Memory {
	return &Memory{
		mtx:      &sync.RWMutex{},
		features: slices.Clone(features),
	}
}

// Add adds features to the source.
func (m *Memory) Add(features ...feature.Feature) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	m.features = append(m.features, features...)
}

// Fetch returns the features intersecting r.
func (m *Memory) Fetch(ctx context.Context, r region.Region) ([]feature.Feature, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.fetches.Add(1)
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	out := []feature.Feature{}
	for _, f := range m.features {
		if r.Intersects(f.Bounds) {
			out = append(out, f)
		}
	}
	return out, nil
}

// Len returns the number of features in the source.
func (m *Memory) Len() int {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	return len(m.features)
}

// Fetches returns the number of fetches served.
func (m *Memory) Fetches() int {
	return int(m.fetches.Load())
}

// LoadGeoJSON returns a memory source holding the features of every GeoJSON
// file matching the supplied glob patterns. Patterns may use ** to match
// directories recursively.
func LoadGeoJSON(patterns ...string) (*Memory, error) {
	m := NewMemory()
	for _, pattern := range patterns {
		paths, err := doublestar.FilepathGlob(pattern)
		if err != nil {
			return nil, fmt.Errorf("bad pattern %q: %w", pattern, err)
		}
		if len(paths) == 0 {
			return nil, fmt.Errorf("no files match %q", pattern)
		}
		for _, path := range paths {
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("failed to read %s: %w", path, err)
			}
			features, err := feature.Decode(data)
			if err != nil {
				return nil, fmt.Errorf("failed to decode %s: %w", path, err)
			}
			m.Add(features...)
		}
	}
	return m, nil
}
