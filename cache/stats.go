package cache

import (
	"context"
	"fmt"

	"github.com/wkalt/spatialcache/tree"
)

// Stats describes the state and history of a cache.
type Stats struct {
	Tree            tree.Statistics `json:"tree"`
	Entries         int             `json:"entries"`
	Capacity        int             `json:"capacity"`
	CoveredRegions  int             `json:"coveredRegions"`
	TrackedLeaves   int             `json:"trackedLeaves"`
	Hits            int64           `json:"hits"`
	Misses          int64           `json:"misses"`
	FetchedFeatures int64           `json:"fetchedFeatures"`
	Evictions       int64           `json:"evictions"`
	EvictedEntries  int64           `json:"evictedEntries"`
}

func (s Stats) String() string {
	return fmt.Sprintf(
		"%d/%d entries, %d regions, %d hits, %d misses, %d evictions (%s)",
		s.Entries, s.Capacity, s.CoveredRegions, s.Hits, s.Misses, s.Evictions, s.Tree,
	)
}

// Stats returns the cache's statistics, walking the tree for its shape.
func (c *Cache) Stats(ctx context.Context) (Stats, error) {
	ts, err := c.tree.Statistics(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to get tree statistics: %w", err)
	}
	stats := c.Counters()
	stats.Tree = ts
	return stats, nil
}

// Counters returns the cache's statistics without the tree shape. Hits and
// misses count GetFeatures calls that did and did not need the source.
func (c *Cache) Counters() Stats {
	return Stats{
		Entries:         c.tree.Count(),
		Capacity:        c.cfg.capacity,
		CoveredRegions:  c.coverage.Len(),
		TrackedLeaves:   c.policy.Len(),
		Hits:            c.hits.Load(),
		Misses:          c.misses.Load(),
		FetchedFeatures: c.fetched.Load(),
		Evictions:       c.evictions.Load(),
		EvictedEntries:  c.evictedEntries.Load(),
	}
}
