package tree

import (
	"context"
	"errors"
	"fmt"

	"github.com/wkalt/spatialcache/nodestore"
	"github.com/wkalt/spatialcache/region"
	"github.com/wkalt/spatialcache/util/log"
)

// Eviction describes a leaf removed by Evict.
type Eviction struct {
	Bounds  region.Region
	Entries int
}

// Evict removes a leaf and its entries from the tree. The caller is expected
// to hold the leaf's write lock. Ancestors left without children are removed
// and the bounds of the rest are shrunk; a root with a single child is
// replaced by that child.
//
// The boolean result is false if the identifier no longer names a live leaf,
// or names the empty root. If the leaf cannot be removed from storage an
// error is returned and the identifier stays valid. Once the leaf is removed
// the eviction is reported even if rewriting its ancestors fails.
func (t *Tree) Evict(ctx context.Context, ident *nodestore.Identifier) (Eviction, bool, error) {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	if t.closed.Load() {
		return Eviction{}, false, ErrTreeClosed
	}
	if ident == nil || !ident.IsValid() || !ident.ID().IsLeaf() {
		return Eviction{}, false, nil
	}
	id := ident.ID()
	if current, ok := t.Identifier(id); !ok || current != ident {
		return Eviction{}, false, nil
	}
	leaf, err := t.getLeaf(ctx, id)
	if err != nil {
		return Eviction{}, false, err
	}
	rootID := t.root.Load().ID()
	if id == rootID && len(leaf.Entries) == 0 {
		return Eviction{}, false, nil
	}
	if err := t.store.Remove(ctx, id); err != nil {
		return Eviction{}, false, fmt.Errorf("failed to evict leaf %s: %w", id, err)
	}
	eviction := Eviction{Bounds: leaf.Bounds.Clone(), Entries: len(leaf.Entries)}
	parentID, hasParent := t.parents[id]
	t.unregister(id)
	t.count.Add(-int64(len(leaf.Entries)))

	if !hasParent {
		root, err := t.newEmptyRoot(ctx)
		if err != nil {
			return eviction, true, err
		}
		t.root.Store(root)
		return eviction, true, nil
	}
	if err := t.condense(ctx, parentID, id); err != nil {
		return eviction, true, fmt.Errorf("failed to condense tree: %w", err)
	}
	log.Debugw(ctx, "evicted leaf", "leaf", id, "entries", eviction.Entries)
	return eviction, true, nil
}

// EvictNode evicts a leaf, discarding the description of what was evicted.
func (t *Tree) EvictNode(ctx context.Context, ident *nodestore.Identifier) (bool, error) {
	_, ok, err := t.Evict(ctx, ident)
	return ok, err
}

// condense removes the child from parentID and rewrites the ancestors above
// it. Nodes that lose their last child are removed once nothing refers to
// them.
func (t *Tree) condense(ctx context.Context, parentID, childID nodestore.NodeID) error {
	rootID := t.root.Load().ID()
	removed := []nodestore.NodeID{}
	unlink := true
	var childBounds region.Region
	for {
		parent, err := t.getInner(ctx, parentID)
		if err != nil {
			return err
		}
		clone := parent.Clone()
		idx := clone.Index(childID)
		if idx < 0 {
			return fmt.Errorf("node %s is not a child of %s", childID, parentID)
		}
		if unlink {
			clone.Children = append(clone.Children[:idx], clone.Children[idx+1:]...)
		} else {
			clone.Children[idx].Bounds = childBounds
		}
		clone.Recompute()

		if len(clone.Children) == 0 && parentID != rootID {
			removed = append(removed, parentID)
			childID, parentID = parentID, t.parents[parentID]
			continue
		}
		if len(clone.Children) == 0 {
			root, err := t.newEmptyRoot(ctx)
			if err != nil {
				return err
			}
			t.root.Store(root)
			t.removeNodes(ctx, append(removed, parentID))
			return nil
		}
		if err := t.store.Put(ctx, parentID, clone); err != nil {
			return fmt.Errorf("failed to write inner node: %w", err)
		}
		if ident, ok := t.Identifier(parentID); ok {
			ident.SetBounds(clone.Bounds)
		}
		if parentID == rootID {
			break
		}
		unlink = false
		childID, childBounds = parentID, clone.Bounds
		parentID = t.parents[parentID]
	}
	t.removeNodes(ctx, removed)
	return t.collapseRoot(ctx)
}

// collapseRoot replaces an inner root that has a single child with the child,
// repeatedly.
func (t *Tree) collapseRoot(ctx context.Context) error {
	for {
		rootID := t.root.Load().ID()
		if rootID.IsLeaf() {
			return nil
		}
		root, err := t.getInner(ctx, rootID)
		if err != nil {
			return err
		}
		if len(root.Children) != 1 {
			return nil
		}
		childID := root.Children[0].ID
		child, ok := t.Identifier(childID)
		if !ok {
			return MissingNodeError{childID}
		}
		delete(t.parents, childID)
		t.root.Store(child)
		t.removeNodes(ctx, []nodestore.NodeID{rootID})
	}
}

// Clear removes every node from the tree, leaving it empty. Identifiers of
// removed nodes are invalidated and the observer is reset.
func (t *Tree) Clear(ctx context.Context) error {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	if t.closed.Load() {
		return ErrTreeClosed
	}
	t.identMtx.Lock()
	idents := t.idents
	t.idents = make(map[nodestore.NodeID]*nodestore.Identifier)
	observer := t.observer
	t.identMtx.Unlock()
	t.parents = make(map[nodestore.NodeID]nodestore.NodeID)

	errs := []error{}
	for id, ident := range idents {
		ident.SetValid(false)
		if err := t.store.Remove(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	if observer != nil {
		observer.Reset()
	}
	t.count.Store(0)
	root, err := t.newEmptyRoot(ctx)
	if err != nil {
		return err
	}
	t.root.Store(root)
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("failed to remove nodes: %w", err)
	}
	return nil
}
