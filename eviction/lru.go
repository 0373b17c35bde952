package eviction

import (
	"context"
	"fmt"
	"strings"

	"github.com/wkalt/spatialcache/nodestore"
	"github.com/wkalt/spatialcache/util"
)

/*
Package eviction implements the policy that chooses which leaves a cache gives
up under capacity pressure. The policy observes a tree: the tree reports every
leaf access and removal, and the policy keeps the leaves in recency order.

Evict never waits on a leaf. It write-locks the least recently used leaf that
nobody else holds, releases its own list before asking the evictor to remove
the leaf, and reports false when every candidate is busy.
*/

////////////////////////////////////////////////////////////////////////////////

// Evictor removes a leaf on behalf of the policy. It reports false if the
// identifier no longer names a live leaf.
type Evictor interface {
	EvictNode(ctx context.Context, ident *nodestore.Identifier) (bool, error)
}

// LRU evicts the least recently used leaf.
type LRU struct {
	list *util.LRU[nodestore.NodeID, *nodestore.Identifier]
}

// NewLRU returns an empty LRU policy.
func NewLRU() *LRU {
	return &LRU{
		list: util.NewLRU[nodestore.NodeID, *nodestore.Identifier](util.Unbounded),
	}
}

// Access marks the leaf as most recently used. Invalid identifiers are
// ignored.
func (p *LRU) Access(ident *nodestore.Identifier) {
	if ident == nil || !ident.IsValid() {
		return
	}
	p.list.Put(ident.ID(), ident, 1)
}

// Forget drops the leaf from the policy.
func (p *LRU) Forget(ident *nodestore.Identifier) {
	if ident == nil {
		return
	}
	p.list.Delete(ident.ID())
}

// Reset drops every leaf from the policy.
func (p *LRU) Reset() {
	p.list.Reset()
}

// Len returns the number of leaves tracked by the policy.
func (p *LRU) Len() int {
	return p.list.Len()
}

// Evict evicts the least recently used leaf that is not locked. Invalid
// identifiers encountered along the way are purged. It returns false if there
// was nothing to evict; errors from the evictor are returned as is.
func (p *LRU) Evict(ctx context.Context, e Evictor) (bool, error) {
	for {
		candidate := p.lockCandidate()
		if candidate == nil {
			return false, nil
		}
		ok, err := e.EvictNode(ctx, candidate)
		candidate.WriteUnlock()
		if err != nil {
			return false, fmt.Errorf("failed to evict %s: %w", candidate.ID(), err)
		}
		p.list.Delete(candidate.ID())
		if ok {
			return true, nil
		}
	}
}

// lockCandidate write-locks and returns the least recently used unlocked
// leaf, or nil if there is none.
func (p *LRU) lockCandidate() *nodestore.Identifier {
	var candidate *nodestore.Identifier
	stale := []nodestore.NodeID{}
	p.list.Backward(func(id nodestore.NodeID, ident *nodestore.Identifier) bool {
		if !ident.IsValid() {
			stale = append(stale, id)
			return true
		}
		if ident.TryWriteLock() {
			candidate = ident
			return false
		}
		return true
	})
	for _, id := range stale {
		p.list.Delete(id)
	}
	return candidate
}

// String returns the tracked leaves from most to least recently used.
func (p *LRU) String() string {
	ids := []string{}
	p.list.Backward(func(id nodestore.NodeID, _ *nodestore.Identifier) bool {
		ids = append(ids, id.String())
		return true
	})
	for i, j := 0, len(ids)-1; i < j; i, j = i+1, j-1 {
		ids[i], ids[j] = ids[j], ids[i]
	}
	return "[" + strings.Join(ids, " ") + "]"
}
