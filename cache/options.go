package cache

import (
	"github.com/wkalt/spatialcache/rootmap"
	"github.com/wkalt/spatialcache/source"
)

// DefaultCapacity is the number of entries a cache holds if no capacity is
// configured.
const DefaultCapacity = 1 << 20

type config struct {
	capacity     int
	source       source.Source
	rootmap      rootmap.Rootmap
	name         string
	fetchWorkers int
}

// Option is an option for the feature cache.
type Option func(*config)

// WithCapacity sets the maximum number of entries the cache holds. A single
// put of more features than this fails with OversizeError.
func WithCapacity(n int) Option {
	return func(c *config) {
		c.capacity = n
	}
}

// WithSource sets the source GetFeatures fetches uncovered regions from.
func WithSource(src source.Source) Option {
	return func(c *config) {
		c.source = src
	}
}

// WithRootmap sets the rootmap Flush records the cache in, under name.
func WithRootmap(rm rootmap.Rootmap, name string) Option {
	return func(c *config) {
		c.rootmap = rm
		c.name = name
	}
}

// WithFetchWorkers limits the number of concurrent source fetches made by
// one GetFeatures call. Zero or less means no limit.
func WithFetchWorkers(n int) Option {
	return func(c *config) {
		c.fetchWorkers = n
	}
}

func newConfig(opts []Option) config {
	cfg := config{
		capacity:     DefaultCapacity,
		fetchWorkers: 8,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}
