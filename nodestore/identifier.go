package nodestore

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/wkalt/spatialcache/region"
)

/*
An Identifier is the tree's handle on a node. The tree holds identifiers, never
node values, and resolves them through the backing Storage on demand, so a
node can be written out, evicted, or reloaded without invalidating anything
that refers to it by key.

Each identifier carries a single-writer lock. Eviction and structural
modification of a node hold the lock; readers never take it. An identifier
becomes invalid when its node is evicted or the tree is cleared, after which
it is never reused.
*/

////////////////////////////////////////////////////////////////////////////////

// Identifier is a lockable reference to a node in a Storage.
type Identifier struct {
	id    NodeID
	store Storage

	bounds  atomic.Pointer[region.Region]
	entries atomic.Pointer[[]uint64]
	valid   atomic.Bool
	locked  atomic.Bool
	mtx     sync.Mutex
}

// NewIdentifier returns a valid, unlocked identifier for the node id.
func NewIdentifier(id NodeID, store Storage, bounds region.Region) *Identifier {
	ident := &Identifier{id: id, store: store}
	ident.bounds.Store(&bounds)
	ident.entries.Store(&[]uint64{})
	ident.valid.Store(true)
	return ident
}

// ID returns the key of the identifier.
func (i *Identifier) ID() NodeID {
	return i.id
}

// Bounds returns the last known bounds of the node.
func (i *Identifier) Bounds() region.Region {
	return *i.bounds.Load()
}

// SetBounds records new bounds for the node.
func (i *Identifier) SetBounds(bounds region.Region) {
	i.bounds.Store(&bounds)
}

// Entries returns the IDs of the data entries owned by a leaf node.
func (i *Identifier) Entries() []uint64 {
	return *i.entries.Load()
}

// SetEntries records the IDs of the data entries owned by a leaf node.
func (i *Identifier) SetEntries(ids []uint64) {
	i.entries.Store(&ids)
}

// IsValid reports whether the identifier denotes a live node.
func (i *Identifier) IsValid() bool {
	return i.valid.Load()
}

// SetValid marks the identifier valid or invalid.
func (i *Identifier) SetValid(valid bool) {
	i.valid.Store(valid)
}

// IsLocked reports whether the identifier is write-locked.
func (i *Identifier) IsLocked() bool {
	return i.locked.Load()
}

// WriteLock acquires the identifier's write lock, blocking until it is
// available.
func (i *Identifier) WriteLock() {
	i.mtx.Lock()
	i.locked.Store(true)
}

// TryWriteLock acquires the write lock if it is free and reports whether it
// did.
func (i *Identifier) TryWriteLock() bool {
	if !i.mtx.TryLock() {
		return false
	}
	i.locked.Store(true)
	return true
}

// WriteUnlock releases the write lock.
func (i *Identifier) WriteUnlock() {
	i.locked.Store(false)
	i.mtx.Unlock()
}

// Equal reports whether i and o refer to the same node.
func (i *Identifier) Equal(o *Identifier) bool {
	if i == nil || o == nil {
		return i == o
	}
	return i.id == o.id
}

// Node resolves the identifier through its storage. The second return value
// is false if the node no longer exists.
func (i *Identifier) Node(ctx context.Context) (Node, bool, error) {
	return i.store.Get(ctx, i.id)
}

func (i *Identifier) String() string {
	return fmt.Sprintf("%s%s", i.id, i.Bounds())
}
