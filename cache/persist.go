package cache

import (
	"context"
	"errors"
	"fmt"

	"github.com/wkalt/spatialcache/nodestore"
	"github.com/wkalt/spatialcache/rootmap"
	"github.com/wkalt/spatialcache/tree"
	"github.com/wkalt/spatialcache/util/log"
)

// Flush writes buffered nodes to storage, then records the tree header,
// storage properties and coverage in the rootmap. The rootmap entry is only
// written once the nodes it refers to are durable.
func (c *Cache) Flush(ctx context.Context) error {
	if c.cfg.rootmap == nil {
		return ErrNoRootmap
	}
	c.putMtx.Lock()
	defer c.putMtx.Unlock()
	store := c.tree.Storage()
	if err := store.Flush(ctx); err != nil {
		return fmt.Errorf("failed to flush storage: %w", err)
	}
	entry := rootmap.Entry{
		Name:       c.cfg.name,
		Header:     c.tree.Header(),
		Properties: store.Properties(),
		Coverage:   c.coverage.Regions(),
	}
	if err := c.cfg.rootmap.Put(ctx, entry); err != nil {
		return fmt.Errorf("failed to record cache %s: %w", c.cfg.name, err)
	}
	log.Infow(ctx, "flushed cache",
		"name", c.cfg.name, "root", entry.Header.Root, "entries", c.tree.Count())
	return nil
}

// Open reopens the cache recorded in rm under name, reading nodes from store.
// The store is usually opened with nodestore.OpenStorage from the entry's
// properties.
func Open(
	ctx context.Context,
	store nodestore.Storage,
	rm rootmap.Rootmap,
	name string,
	opts ...Option,
) (*Cache, error) {
	entry, err := rm.Get(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to look up cache %s: %w", name, err)
	}
	t, err := tree.Open(ctx, store, entry.Header)
	if err != nil {
		return nil, fmt.Errorf("failed to open tree for cache %s: %w", name, err)
	}
	c, err := newCache(t, append(opts, WithRootmap(rm, name)))
	if err != nil {
		return nil, err
	}
	for _, r := range entry.Coverage {
		c.coverage.Register(r)
	}
	c.putMtx.Lock()
	defer c.putMtx.Unlock()
	if n := t.Count(); n > c.cfg.capacity {
		log.Warnf(ctx, "cache %s holds %d entries, more than its capacity of %d; evicting", name, n, c.cfg.capacity)
	}
	if err := c.shrink(ctx); err != nil {
		return nil, err
	}
	log.Infow(ctx, "opened cache", "name", name, "entries", t.Count(), "regions", c.coverage.Len())
	return c, nil
}

// Close flushes the cache if it has a rootmap, then closes the tree and its
// storage.
func (c *Cache) Close(ctx context.Context) error {
	var errs []error
	if c.cfg.rootmap != nil {
		if err := c.Flush(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := c.tree.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close tree: %w", err))
	}
	if err := c.tree.Storage().Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to close storage: %w", err))
	}
	return errors.Join(errs...)
}
