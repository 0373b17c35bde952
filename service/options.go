package service

import (
	"log/slog"

	"github.com/wkalt/spatialcache/nodestore"
)

// Option is a functional option for the spatialcache service.
type Option func(*Options)

// Options contains options for the spatialcache service.
type Options struct {
	Port           int
	LogLevel       slog.Level
	Name           string
	Capacity       int
	Dims           int
	FetchWorkers   int
	DatabasePath   string
	Storage        nodestore.PropertySet
	SourcePatterns []string
	SourceURL      string
	AllowedOrigins []string
	PprofAddr      string
}

// WithPort sets the port to listen on.
func WithPort(port int) Option {
	return func(opts *Options) {
		opts.Port = port
	}
}

// WithLogLevel sets the log level.
func WithLogLevel(level slog.Level) Option {
	return func(opts *Options) {
		opts.LogLevel = level
	}
}

// WithName sets the name the cache is recorded under in the rootmap.
func WithName(name string) Option {
	return func(opts *Options) {
		opts.Name = name
	}
}

// WithCapacity sets the maximum number of cached features.
func WithCapacity(n int) Option {
	return func(opts *Options) {
		opts.Capacity = n
	}
}

// WithDims sets the dimensionality of a newly created cache. Reopened caches
// keep the dimensionality they were created with.
func WithDims(dims int) Option {
	return func(opts *Options) {
		opts.Dims = dims
	}
}

// WithFetchWorkers sets the number of concurrent source fetches per request.
func WithFetchWorkers(n int) Option {
	return func(opts *Options) {
		opts.FetchWorkers = n
	}
}

// WithDatabasePath sets the path of the sqlite database holding the
// rootmap. Without a database the cache is not persistent.
func WithDatabasePath(path string) Option {
	return func(opts *Options) {
		opts.DatabasePath = path
	}
}

// WithStorage sets the node storage used for a newly created cache.
func WithStorage(props nodestore.PropertySet) Option {
	return func(opts *Options) {
		opts.Storage = props
	}
}

// WithSourcePatterns loads the source from the GeoJSON files matching the
// supplied glob patterns.
func WithSourcePatterns(patterns ...string) Option {
	return func(opts *Options) {
		opts.SourcePatterns = patterns
	}
}

// WithSourceURL fetches misses from a remote GeoJSON endpoint.
func WithSourceURL(url string) Option {
	return func(opts *Options) {
		opts.SourceURL = url
	}
}

// WithAllowedOrigins sets the origins allowed by CORS.
func WithAllowedOrigins(origins []string) Option {
	return func(opts *Options) {
		opts.AllowedOrigins = origins
	}
}

// WithPprofAddr serves pprof on addr. An empty address disables it.
func WithPprofAddr(addr string) Option {
	return func(opts *Options) {
		opts.PprofAddr = addr
	}
}
