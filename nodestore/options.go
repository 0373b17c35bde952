package nodestore

import "github.com/wkalt/spatialcache/storage"

const (
	defaultCacheBytes     = 64 * 1024 * 1024
	defaultBufferCapacity = 1024
)

type config struct {
	prefix         string
	cacheBytes     uint64
	bufferCapacity int
	provider       storage.Provider
	providerConfig ProviderConfig
}

// Option is an option for disk-backed storage.
type Option func(*config)

// WithPrefix sets the object prefix under which nodes are stored. If unset, a
// new storage gets a random prefix.
func WithPrefix(prefix string) Option {
	return func(c *config) {
		c.prefix = prefix
	}
}

// WithCacheBytes sets the size of the decoded node read cache.
func WithCacheBytes(n uint64) Option {
	return func(c *config) {
		c.cacheBytes = n
	}
}

// WithBufferCapacity sets the number of dirty nodes a buffered storage holds
// before writing the oldest one out.
func WithBufferCapacity(n int) Option {
	return func(c *config) {
		c.bufferCapacity = n
	}
}

// WithProvider supplies the object storage provider directly, rather than
// constructing it from the property set.
func WithProvider(provider storage.Provider) Option {
	return func(c *config) {
		c.provider = provider
	}
}

// WithProviderConfig records the description of the provider in the
// storage's property set, so that it can be reopened without WithProvider.
func WithProviderConfig(pc ProviderConfig) Option {
	return func(c *config) {
		c.providerConfig = pc
	}
}
