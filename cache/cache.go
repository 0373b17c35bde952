package cache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/wkalt/spatialcache/coverage"
	"github.com/wkalt/spatialcache/eviction"
	"github.com/wkalt/spatialcache/feature"
	"github.com/wkalt/spatialcache/filter"
	"github.com/wkalt/spatialcache/nodestore"
	"github.com/wkalt/spatialcache/region"
	"github.com/wkalt/spatialcache/tree"
	"github.com/wkalt/spatialcache/util/log"
	"golang.org/x/sync/errgroup"
)

/*
Package cache implements the feature cache. Features are stored in an R-tree
keyed by their envelopes, and a coverage registry records the regions for
which the tree holds every feature the source would return.

A read for a region first asks the registry which pieces of the region are
not covered. Those pieces are fetched from the source, put into the tree and
registered; the tree then answers the whole read. When the tree grows past its
capacity, the least recently used leaves are evicted and their bounds are
removed from the registry.

Capacity is counted in tree entries. A put larger than the capacity is
rejected before anything is inserted.
*/

////////////////////////////////////////////////////////////////////////////////

// Cache is a spatially indexed feature cache.
type Cache struct {
	tree     *tree.Tree
	policy   *eviction.LRU
	coverage *coverage.Registry
	cfg      config

	// putMtx serializes puts, evictions, registration of fetched regions and
	// clears.
	putMtx *sync.Mutex

	// evicted holds the bounds of leaves evicted by the current put. Guarded
	// by putMtx.
	evicted []region.Region

	hits           atomic.Int64
	misses         atomic.Int64
	fetched        atomic.Int64
	evictions      atomic.Int64
	evictedEntries atomic.Int64
}

// New returns a cache over t. The cache takes over the tree's observer and
// evicts down to capacity if the tree is already larger.
func New(ctx context.Context, t *tree.Tree, opts ...Option) (*Cache, error) {
	c, err := newCache(t, opts)
	if err != nil {
		return nil, err
	}
	c.putMtx.Lock()
	defer c.putMtx.Unlock()
	if err := c.shrink(ctx); err != nil {
		return nil, err
	}
	log.Debugw(ctx, "created cache", "capacity", c.cfg.capacity, "entries", t.Count())
	return c, nil
}

func newCache(t *tree.Tree, opts []Option) (*Cache, error) {
	cfg := newConfig(opts)
	if cfg.capacity <= 0 {
		return nil, fmt.Errorf("invalid capacity %d", cfg.capacity)
	}
	c := &Cache{
		tree:     t,
		policy:   eviction.NewLRU(),
		coverage: coverage.NewRegistry(),
		cfg:      cfg,
		putMtx:   &sync.Mutex{},
	}
	t.SetObserver(c.policy)
	return c, nil
}

// Tree returns the cache's tree.
func (c *Cache) Tree() *tree.Tree {
	return c.tree
}

// Capacity returns the maximum number of entries the cache holds.
func (c *Cache) Capacity() int {
	return c.cfg.capacity
}

// Count returns the number of entries in the cache.
func (c *Cache) Count() int {
	return c.tree.Count()
}

// Get returns the cached features intersecting r, each feature once. It does
// not fetch from the source.
func (c *Cache) Get(ctx context.Context, r region.Region) ([]feature.Feature, error) {
	return c.read(ctx, r, false)
}

// Peek is like Get, but does not mark the leaves it reads as recently used.
func (c *Cache) Peek(ctx context.Context, r region.Region) ([]feature.Feature, error) {
	return c.read(ctx, r, false, tree.NoAccess())
}

// Each calls fn for every cached entry intersecting r, or contained by r if
// contained is set. Entries are streamed from the tree in batches rather than
// collected, and duplicates are passed through as stored.
func (c *Cache) Each(
	ctx context.Context,
	r region.Region,
	contained bool,
	fn func(feature.Feature) error,
) error {
	it := c.tree.Search(r, contained)
	defer it.Close()
	for {
		more, err := it.More(ctx)
		if err != nil {
			return fmt.Errorf("failed to scan cache: %w", err)
		}
		if !more {
			return nil
		}
		data, err := it.Next(ctx)
		if err != nil {
			return fmt.Errorf("failed to scan cache: %w", err)
		}
		f, err := feature.FromPayload(data.Bounds, data.Payload)
		if err != nil {
			return fmt.Errorf("failed to decode entry %d: %w", data.ID, err)
		}
		if err := fn(f); err != nil {
			return err
		}
	}
}

func (c *Cache) read(
	ctx context.Context,
	r region.Region,
	contained bool,
	opts ...tree.QueryOption,
) ([]feature.Feature, error) {
	out := []feature.Feature{}
	seen := make(map[string]struct{})
	visitor := tree.VisitorFuncs{
		Data: func(data nodestore.Data) error {
			f, err := feature.FromPayload(data.Bounds, data.Payload)
			if err != nil {
				return fmt.Errorf("failed to decode entry %d: %w", data.ID, err)
			}
			if _, ok := seen[f.ID]; ok {
				return nil
			}
			seen[f.ID] = struct{}{}
			out = append(out, f)
			return nil
		},
	}
	query := c.tree.IntersectionQuery
	if contained {
		query = c.tree.ContainmentQuery
	}
	if err := query(ctx, r, visitor, opts...); err != nil {
		return nil, fmt.Errorf("failed to query cache: %w", err)
	}
	return out, nil
}

// Match returns the pieces of r that are not covered. An empty result means
// r is fully cached.
func (c *Cache) Match(r region.Region) []region.Region {
	return c.coverage.Match(r)
}

// Register records r as covered. The caller must already have put every
// feature intersecting r.
func (c *Cache) Register(r region.Region) {
	c.coverage.Register(r)
}

// Coverage returns the covered regions.
func (c *Cache) Coverage() []region.Region {
	return c.coverage.Regions()
}

// Put inserts features into the cache, then evicts least recently used
// leaves until the cache is back within capacity. If there are more features
// than the capacity, or any feature has an invalid envelope, nothing is
// inserted.
func (c *Cache) Put(ctx context.Context, features []feature.Feature) error {
	c.putMtx.Lock()
	defer c.putMtx.Unlock()
	_, err := c.put(ctx, features)
	return err
}

// PutAndRegister puts features and registers r as covered. The caller
// asserts that features hold every feature intersecting r. Coverage lost to
// evictions made by the put is withdrawn again after r is registered, so r is
// only claimed where the tree still holds the data.
func (c *Cache) PutAndRegister(ctx context.Context, features []feature.Feature, r region.Region) error {
	if err := r.Validate(c.tree.Dims()); err != nil {
		return fmt.Errorf("invalid region to register: %w", err)
	}
	c.putMtx.Lock()
	defer c.putMtx.Unlock()
	evicted, err := c.put(ctx, features)
	if err != nil {
		return err
	}
	c.register([]region.Region{r}, evicted)
	return nil
}

// register records pieces as covered, then withdraws the bounds of leaves
// evicted while their data was put. The caller holds putMtx.
func (c *Cache) register(pieces []region.Region, evicted []region.Region) {
	for _, piece := range pieces {
		c.coverage.Register(piece)
	}
	for _, bounds := range evicted {
		c.coverage.Invalidate(bounds)
	}
}

// put inserts features and returns the bounds of the leaves evicted to make
// room. The caller holds putMtx.
func (c *Cache) put(ctx context.Context, features []feature.Feature) ([]region.Region, error) {
	if len(features) > c.cfg.capacity {
		return nil, OversizeError{Size: len(features), Capacity: c.cfg.capacity}
	}
	dims := c.tree.Dims()
	for _, f := range features {
		if err := f.Validate(dims); err != nil {
			return nil, err
		}
	}
	c.evicted = nil
	defer func() { c.evicted = nil }()
	for _, f := range features {
		if _, err := c.tree.Insert(ctx, f.Bounds, f.Payload()); err != nil {
			return c.evicted, fmt.Errorf("failed to insert feature %s: %w", f.ID, err)
		}
	}
	if err := c.shrink(ctx); err != nil {
		return c.evicted, err
	}
	return c.evicted, nil
}

// shrink evicts leaves until the cache is within capacity or nothing more
// can be evicted. The caller holds putMtx.
func (c *Cache) shrink(ctx context.Context) error {
	for c.tree.Count() > c.cfg.capacity {
		ok, err := c.policy.Evict(ctx, evictor{c})
		if err != nil {
			return fmt.Errorf("failed to evict: %w", err)
		}
		if !ok {
			log.Warnw(ctx, "cache over capacity with no evictable leaves",
				"entries", c.tree.Count(), "capacity", c.cfg.capacity)
			return nil
		}
	}
	return nil
}

// evictor evicts leaves from the cache's tree on behalf of the policy and
// withdraws coverage for their bounds.
type evictor struct {
	c *Cache
}

func (e evictor) EvictNode(ctx context.Context, ident *nodestore.Identifier) (bool, error) {
	ev, ok, err := e.c.tree.Evict(ctx, ident)
	if ok {
		e.c.coverage.Invalidate(ev.Bounds)
		e.c.evicted = append(e.c.evicted, ev.Bounds)
		e.c.evictions.Add(1)
		e.c.evictedEntries.Add(int64(ev.Entries))
	}
	return ok, err
}

// GetFeatures returns the features matching a filter. Uncovered parts of the
// filter's extent are fetched from the source concurrently, put and
// registered before the read. An empty or INCLUDE filter returns everything
// cached without fetching.
func (c *Cache) GetFeatures(ctx context.Context, text string) ([]feature.Feature, error) {
	q, err := filter.Parse(text)
	if err != nil {
		return nil, err
	}
	switch {
	case q.Everything:
		bounds, err := c.tree.Bounds(ctx)
		if err != nil {
			return nil, err
		}
		if bounds.IsEmpty() {
			return []feature.Feature{}, nil
		}
		return c.query(ctx, q, []region.Region{bounds}, false)
	case q.Nothing():
		return []feature.Feature{}, nil
	}
	for _, r := range q.Regions {
		if err := r.Validate(c.tree.Dims()); err != nil {
			return nil, fmt.Errorf("filter does not fit cache: %w", err)
		}
	}
	missing := c.missing(q.Regions)
	if len(missing) == 0 {
		c.hits.Add(1)
		return c.query(ctx, q, q.Regions, q.Contained)
	}
	c.misses.Add(1)
	log.Debugw(ctx, "fetching uncovered regions", "query", q, "pieces", len(missing))
	results, err := c.fetch(ctx, missing)
	if err != nil {
		return nil, err
	}
	fetched, err := c.fill(ctx, missing, results)
	if err != nil {
		return nil, err
	}
	out, err := c.query(ctx, q, q.Regions, q.Contained)
	if err != nil {
		return nil, err
	}

	// Fetched features evicted before the read are returned anyway.
	seen := make(map[string]struct{}, len(out))
	for _, f := range out {
		seen[f.ID] = struct{}{}
	}
	for _, f := range fetched {
		if _, ok := seen[f.ID]; ok || !q.Matches(f.Bounds) {
			continue
		}
		seen[f.ID] = struct{}{}
		out = append(out, f)
	}
	return out, nil
}

// missing returns the uncovered pieces of regions. Pieces of a region that
// overlap an earlier region are left to the earlier region's pieces, so no
// space is fetched twice.
func (c *Cache) missing(regions []region.Region) []region.Region {
	out := []region.Region{}
	for i, r := range regions {
		pieces := c.Match(r)
		for _, earlier := range regions[:i] {
			next := make([]region.Region, 0, len(pieces))
			for _, piece := range pieces {
				next = append(next, piece.Subtract(earlier)...)
			}
			pieces = next
		}
		out = append(out, pieces...)
	}
	return out
}

// query reads the cached features in regions that match q, each feature
// once.
func (c *Cache) query(
	ctx context.Context,
	q filter.Query,
	regions []region.Region,
	contained bool,
) ([]feature.Feature, error) {
	out := []feature.Feature{}
	seen := make(map[string]struct{})
	for _, r := range regions {
		features, err := c.read(ctx, r, contained)
		if err != nil {
			return nil, err
		}
		for _, f := range features {
			if _, ok := seen[f.ID]; ok || !q.Matches(f.Bounds) {
				continue
			}
			seen[f.ID] = struct{}{}
			out = append(out, f)
		}
	}
	return out, nil
}

// fetch fetches each piece from the source concurrently.
func (c *Cache) fetch(ctx context.Context, pieces []region.Region) ([][]feature.Feature, error) {
	if c.cfg.source == nil {
		return nil, ErrNoSource
	}
	results := make([][]feature.Feature, len(pieces))
	g, gctx := errgroup.WithContext(ctx)
	if c.cfg.fetchWorkers > 0 {
		g.SetLimit(c.cfg.fetchWorkers)
	}
	for i, piece := range pieces {
		g.Go(func() error {
			features, err := c.cfg.source.Fetch(gctx, piece)
			if err != nil {
				return fmt.Errorf("failed to fetch %s: %w", piece, err)
			}
			results[i] = features
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// fill puts the features fetched for pieces and registers the pieces.
// Features already cached, or fetched for more than one piece, are put once.
// Coverage lost to evictions during the put is withdrawn again after the
// pieces are registered. It returns the features that were put.
func (c *Cache) fill(
	ctx context.Context,
	pieces []region.Region,
	results [][]feature.Feature,
) ([]feature.Feature, error) {
	c.putMtx.Lock()
	defer c.putMtx.Unlock()
	seen := make(map[string]struct{})
	for _, piece := range pieces {
		cached, err := c.read(ctx, piece, false, tree.NoAccess())
		if err != nil {
			return nil, err
		}
		for _, f := range cached {
			seen[f.ID] = struct{}{}
		}
	}
	batch := []feature.Feature{}
	for _, features := range results {
		for _, f := range features {
			if _, ok := seen[f.ID]; ok {
				continue
			}
			seen[f.ID] = struct{}{}
			batch = append(batch, f)
		}
	}
	evicted, err := c.put(ctx, batch)
	if err != nil {
		return nil, err
	}
	c.fetched.Add(int64(len(batch)))
	c.register(pieces, evicted)
	return batch, nil
}

// Bounds returns the bounding region of everything covered or cached.
func (c *Cache) Bounds(ctx context.Context) (region.Region, error) {
	bounds, err := c.tree.Bounds(ctx)
	if err != nil {
		return region.Region{}, fmt.Errorf("failed to get tree bounds: %w", err)
	}
	return c.coverage.Bounds().Combine(bounds), nil
}

// Clear empties the cache. Coverage is withdrawn before any entry is
// removed.
func (c *Cache) Clear(ctx context.Context) error {
	c.putMtx.Lock()
	defer c.putMtx.Unlock()
	c.coverage.Clear()
	if err := c.tree.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear cache: %w", err)
	}
	return nil
}
