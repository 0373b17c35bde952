package coverage

import (
	"fmt"
	"sync"

	"github.com/goccy/go-json"
	"github.com/wkalt/spatialcache/region"
)

/*
Package coverage tracks which parts of space a cache holds complete data for.

A region is registered once every feature intersecting it has been put into
the cache. Match answers the inverse question: given a query, which pieces of
it are not covered and must be fetched from the source. When the cache evicts a
leaf, the leaf's bounds, widened by one step, are subtracted from every
registered region, since the data under them is no longer complete.

Registered regions may overlap. Match and Invalidate work piece by piece with
region subtraction, so the pieces they produce have disjoint interiors.
*/

////////////////////////////////////////////////////////////////////////////////

// Registry is a set of covered regions. It is safe for concurrent use.
type Registry struct {
	mtx     *sync.RWMutex
	regions []region.Region
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		mtx:     &sync.RWMutex{},
		regions: []region.Region{},
	}
}

// Register records r as covered. The caller asserts that all data
// intersecting r is in the cache. Regions already covered by a registered
// region are not recorded again, and registered regions covered by r are
// replaced.
func (c *Registry) Register(r region.Region) {
	if r.IsEmpty() {
		return
	}
	c.mtx.Lock()
	defer c.mtx.Unlock()
	for _, existing := range c.regions {
		if existing.Contains(r) {
			return
		}
	}
	kept := make([]region.Region, 0, len(c.regions)+1)
	for _, existing := range c.regions {
		if !r.Contains(existing) {
			kept = append(kept, existing)
		}
	}
	c.regions = append(kept, r.Clone())
}

// Match returns the pieces of q that are not covered. A fully covered query
// returns an empty slice.
func (c *Registry) Match(q region.Region) []region.Region {
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	pieces := []region.Region{q.Clone()}
	for _, covered := range c.regions {
		next := make([]region.Region, 0, len(pieces))
		for _, piece := range pieces {
			next = append(next, piece.Subtract(covered)...)
		}
		pieces = next
		if len(pieces) == 0 {
			break
		}
	}
	return pieces
}

// Covers reports whether q is entirely covered.
func (c *Registry) Covers(q region.Region) bool {
	return len(c.Match(q)) == 0
}

// Invalidate removes bounds from every registered region. Regions it
// touches are replaced by the pieces that remain outside bounds. The bounds
// are widened first so that data lying on them, including data in bounds
// that are flat along an axis, is no longer covered.
func (c *Registry) Invalidate(bounds region.Region) {
	if bounds.IsEmpty() {
		return
	}
	withdrawn := bounds.Widen()
	c.mtx.Lock()
	defer c.mtx.Unlock()
	out := make([]region.Region, 0, len(c.regions))
	for _, r := range c.regions {
		out = append(out, r.Subtract(withdrawn)...)
	}
	c.regions = out
}

// Clear removes every registered region.
func (c *Registry) Clear() {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	c.regions = []region.Region{}
}

// Regions returns a copy of the registered regions.
func (c *Registry) Regions() []region.Region {
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	out := make([]region.Region, len(c.regions))
	for i, r := range c.regions {
		out[i] = r.Clone()
	}
	return out
}

// Len returns the number of registered regions.
func (c *Registry) Len() int {
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	return len(c.regions)
}

// Bounds returns the bounding region of all registered regions.
func (c *Registry) Bounds() region.Region {
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	return region.Bounds(c.regions...)
}

// MarshalJSON serializes the registered regions.
func (c *Registry) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.Regions())
}

// UnmarshalJSON replaces the registered regions with serialized ones.
func (c *Registry) UnmarshalJSON(data []byte) error {
	regions := []region.Region{}
	if err := json.Unmarshal(data, &regions); err != nil {
		return fmt.Errorf("failed to decode coverage: %w", err)
	}
	for i, r := range regions {
		if err := r.Validate(r.Dim()); err != nil {
			return fmt.Errorf("invalid region %d: %w", i, err)
		}
	}
	if c.mtx == nil {
		c.mtx = &sync.RWMutex{}
	}
	c.mtx.Lock()
	defer c.mtx.Unlock()
	c.regions = regions
	return nil
}
