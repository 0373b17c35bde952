package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	_ "github.com/mattn/go-sqlite3" // sqlite driver for the rootmap
	"github.com/wkalt/spatialcache/cache"
	"github.com/wkalt/spatialcache/nodestore"
	"github.com/wkalt/spatialcache/rootmap"
	"github.com/wkalt/spatialcache/routes"
	"github.com/wkalt/spatialcache/source"
	"github.com/wkalt/spatialcache/tree"
	"github.com/wkalt/spatialcache/util/log"
)

/*
This file is the main entrypoint for spatialcache server startup.

A cache is either ephemeral or persistent. A persistent cache has a sqlite
database holding its rootmap entry; on startup the entry is looked up by name
and the cache reopened from the storage it describes, or created from the
configured storage if no entry exists yet. On shutdown the cache is flushed
and the entry updated.
*/

////////////////////////////////////////////////////////////////////////////////

const (
	shutdownTimeout = 10 * time.Second
	sourceTimeout   = 30 * time.Second
)

// SpatialCache is the spatialcache HTTP service.
type SpatialCache struct{}

// NewService creates a new spatialcache service.
func NewService() *SpatialCache {
	return &SpatialCache{}
}

// Start opens the cache and serves it until the context is canceled or the
// process receives SIGINT or SIGTERM.
func (s *SpatialCache) Start(ctx context.Context, options ...Option) error { //nolint:funlen
	opts, err := readOpts(options...)
	if err != nil {
		return fmt.Errorf("failed to read options: %w", err)
	}
	slog.SetLogLoggerLevel(opts.LogLevel)
	log.Debugf(ctx, "Debug logging enabled")

	c, closeCache, err := openCache(ctx, opts)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeCache(context.WithoutCancel(ctx)); err != nil {
			log.Errorf(ctx, "failed to close cache: %s", err)
		}
	}()

	log.Infof(ctx, "Building routes with allowed origins %+v", opts.AllowedOrigins)
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", opts.Port),
		Handler:           routes.MakeRoutes(c, opts.AllowedOrigins),
		ReadHeaderTimeout: 5 * time.Second,
	}

	sigint := make(chan os.Signal, 1)
	sigterm := make(chan os.Signal, 1)
	signal.Notify(sigint, syscall.SIGINT)
	signal.Notify(sigterm, syscall.SIGTERM)
	defer signal.Stop(sigint)
	defer signal.Stop(sigterm)

	startErr := make(chan error, 1)
	go func() {
		log.Infow(ctx, "Starting server",
			"port", opts.Port, "name", opts.Name, "capacity", c.Capacity(), "storage", c.Tree().Storage())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			startErr <- err
		}
	}()

	if opts.PprofAddr != "" {
		go servePprof(ctx, opts.PprofAddr)
	}

	select {
	case <-sigint:
		log.Infof(ctx, "Received SIGINT")
	case <-sigterm:
		log.Infof(ctx, "Received SIGTERM")
	case <-ctx.Done():
		log.Infof(ctx, "Context canceled")
	case err := <-startErr:
		return fmt.Errorf("failed to start server: %w", err)
	}

	log.Infof(ctx, "Allowing %s for existing connections to close", shutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	errs := make(chan error, 1)
	success := make(chan bool, 1)
	go func() {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			errs <- err
		} else {
			log.Infof(ctx, "Server stopped")
			success <- true
		}
	}()

	select {
	case <-sigint:
		return errors.New("forceful shutdown on second interrupt")
	case err := <-errs:
		return fmt.Errorf("server shutdown failed: %w", err)
	case <-success:
		return nil
	}
}

// OpenCache opens the cache described by the options without serving it.
// The returned function flushes and closes it.
func OpenCache(ctx context.Context, options ...Option) (*cache.Cache, func(context.Context) error, error) {
	opts, err := readOpts(options...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read options: %w", err)
	}
	return openCache(ctx, opts)
}

func openCache(ctx context.Context, opts *Options) (*cache.Cache, func(context.Context) error, error) {
	src, err := openSource(opts)
	if err != nil {
		return nil, nil, err
	}
	copts := []cache.Option{
		cache.WithCapacity(opts.Capacity),
		cache.WithFetchWorkers(opts.FetchWorkers),
	}
	if src != nil {
		copts = append(copts, cache.WithSource(src))
	}
	if opts.DatabasePath == "" {
		c, err := createCache(ctx, opts, copts)
		if err != nil {
			return nil, nil, err
		}
		return c, c.Close, nil
	}

	dbpath := opts.DatabasePath + "?_journal=WAL&mode=rwc"
	log.Infof(ctx, "Opening database at %s", dbpath)
	db, err := sql.Open("sqlite3", dbpath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("failed to ping database at %s: %w", dbpath, err)
	}
	c, err := openPersistent(ctx, db, opts, copts)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	closer := func(ctx context.Context) error {
		return errors.Join(c.Close(ctx), db.Close())
	}
	return c, closer, nil
}

func openPersistent(ctx context.Context, db *sql.DB, opts *Options, copts []cache.Option) (*cache.Cache, error) {
	rm, err := rootmap.NewSQLRootmap(db)
	if err != nil {
		return nil, fmt.Errorf("failed to open rootmap: %w", err)
	}
	entry, err := rm.Get(ctx, opts.Name)
	switch {
	case errors.Is(err, rootmap.EntryNotFoundError{}):
		if opts.Storage.Kind == nodestore.KindMemory {
			return nil, errors.New("persistent caches require disk storage")
		}
		log.Infow(ctx, "creating cache", "name", opts.Name, "dims", opts.Dims)
		c, err := createCache(ctx, opts, append(copts, cache.WithRootmap(rm, opts.Name)))
		if err != nil {
			return nil, err
		}
		if err := c.Flush(ctx); err != nil {
			return nil, errors.Join(err, c.Close(ctx))
		}
		return c, nil
	case err != nil:
		return nil, fmt.Errorf("failed to look up cache %s: %w", opts.Name, err)
	}
	store, err := nodestore.OpenStorage(ctx, entry.Properties)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage for cache %s: %w", opts.Name, err)
	}
	c, err := cache.Open(ctx, store, rm, opts.Name, copts...)
	if err != nil {
		return nil, errors.Join(err, store.Close(ctx))
	}
	return c, nil
}

func createCache(ctx context.Context, opts *Options, copts []cache.Option) (*cache.Cache, error) {
	store, err := nodestore.OpenStorage(ctx, opts.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}
	t, err := tree.New(ctx, store, opts.Dims)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("failed to create tree: %w", err), store.Close(ctx))
	}
	c, err := cache.New(ctx, t, copts...)
	if err != nil {
		return nil, errors.Join(err, store.Close(ctx))
	}
	return c, nil
}

func openSource(opts *Options) (source.Source, error) {
	switch {
	case opts.SourceURL != "" && len(opts.SourcePatterns) > 0:
		return nil, errors.New("a source URL and source files are mutually exclusive")
	case opts.SourceURL != "":
		return source.NewHTTP(opts.SourceURL, &http.Client{Timeout: sourceTimeout}), nil
	case len(opts.SourcePatterns) > 0:
		src, err := source.LoadGeoJSON(opts.SourcePatterns...)
		if err != nil {
			return nil, fmt.Errorf("failed to load source: %w", err)
		}
		return src, nil
	}
	return nil, nil
}

func servePprof(ctx context.Context, addr string) {
	r := mux.NewRouter()
	r.PathPrefix("/debug/pprof/").HandlerFunc(pprof.Index)
	log.Infof(ctx, "Starting pprof server on %s", addr)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil {
		log.Errorf(ctx, "failed to start pprof server: %s", err)
	}
}

func readOpts(opts ...Option) (*Options, error) {
	options := Options{
		Port:         8089,
		LogLevel:     slog.LevelInfo,
		Name:         "default",
		Capacity:     cache.DefaultCapacity,
		Dims:         2,
		FetchWorkers: 8,
		Storage:      nodestore.PropertySet{Kind: nodestore.KindMemory},
		AllowedOrigins: []string{
			"http://localhost:5173",
			"http://localhost:8080",
		},
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.Name == "" {
		return nil, errors.New("cache name is required")
	}
	if options.Capacity <= 0 {
		return nil, fmt.Errorf("invalid capacity %d", options.Capacity)
	}
	return &options, nil
}
