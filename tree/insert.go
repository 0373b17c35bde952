package tree

import (
	"context"
	"fmt"

	"github.com/wkalt/spatialcache/nodestore"
	"github.com/wkalt/spatialcache/region"
	"github.com/wkalt/spatialcache/util/log"
)

// Insert adds an entry to the tree and returns its data ID. Identical entries
// may be inserted more than once; each insert creates a new entry.
func (t *Tree) Insert(ctx context.Context, r region.Region, payload []byte) (uint64, error) {
	if t.closed.Load() {
		return 0, ErrTreeClosed
	}
	if err := t.checkDims(r); err != nil {
		return 0, err
	}
	if err := r.Validate(t.dims); err != nil {
		return 0, fmt.Errorf("failed to insert: %w", err)
	}
	t.mtx.Lock()
	defer t.mtx.Unlock()
	entry := nodestore.Data{
		ID:      t.nextData.Add(1),
		Bounds:  r.Clone(),
		Payload: payload,
	}
	path, err := t.chooseLeaf(ctx, r)
	if err != nil {
		return 0, err
	}
	leafID := path[len(path)-1]
	leafIdent, ok := t.Identifier(leafID)
	if !ok {
		return 0, MissingNodeError{leafID}
	}

	var replaced []nodestore.Child
	var removed []nodestore.NodeID
	if leafIdent.TryWriteLock() {
		defer leafIdent.WriteUnlock()
		leaf, err := t.getLeaf(ctx, leafID)
		if err != nil {
			return 0, err
		}
		clone := leaf.Clone()
		clone.Entries = append(clone.Entries, entry)
		clone.Recompute()
		var split bool
		replaced, split, err = t.writeLeaf(ctx, leafID, clone)
		if err != nil {
			return 0, err
		}
		if split {
			removed = append(removed, leafID)
		}
	} else {
		// The leaf is being evicted. Put the entry in a new sibling instead
		// of waiting for it.
		leaf, err := t.getLeaf(ctx, leafID)
		if err != nil {
			return 0, err
		}
		sibling := nodestore.NewLeafNode([]nodestore.Data{entry})
		siblingID := t.newID(true)
		if err := t.store.Put(ctx, siblingID, sibling); err != nil {
			return 0, fmt.Errorf("failed to write leaf: %w", err)
		}
		ident := t.register(siblingID, sibling.Bounds)
		ident.SetEntries(sibling.IDs())
		t.access(ident)
		replaced = []nodestore.Child{
			{ID: leafID, Bounds: leaf.Bounds},
			{ID: siblingID, Bounds: sibling.Bounds},
		}
		log.Debugw(ctx, "target leaf locked, inserted into new sibling", "leaf", leafID, "sibling", siblingID)
	}
	if err := t.propagate(ctx, path, replaced, removed); err != nil {
		return 0, err
	}
	t.count.Add(1)
	return entry.ID, nil
}

// chooseLeaf descends from the root to the leaf whose bounds need the least
// enlargement to include r, breaking ties by smaller area. It returns the IDs
// on the path from the root to the leaf.
func (t *Tree) chooseLeaf(ctx context.Context, r region.Region) ([]nodestore.NodeID, error) {
	id := t.root.Load().ID()
	path := []nodestore.NodeID{id}
	for !id.IsLeaf() {
		inner, err := t.getInner(ctx, id)
		if err != nil {
			return nil, err
		}
		if len(inner.Children) == 0 {
			return nil, fmt.Errorf("inner node %s has no children", id)
		}
		best := 0
		bestEnlargement := saturate(inner.Children[0].Bounds.Enlargement(r))
		bestArea := inner.Children[0].Bounds.Area()
		for i, child := range inner.Children[1:] {
			enlargement := saturate(child.Bounds.Enlargement(r))
			area := child.Bounds.Area()
			if enlargement < bestEnlargement || (enlargement == bestEnlargement && area < bestArea) {
				best, bestEnlargement, bestArea = i+1, enlargement, area
			}
		}
		id = inner.Children[best].ID
		path = append(path, id)
	}
	return path, nil
}

// propagate rewrites the ancestors on path after the node at the end of the
// path was replaced by the supplied children, splitting ancestors that
// overflow and growing a new root if the old one split. Nodes in removed are
// deleted from storage once nothing refers to them.
func (t *Tree) propagate(
	ctx context.Context,
	path []nodestore.NodeID,
	replaced []nodestore.Child,
	removed []nodestore.NodeID,
) error {
	for level := len(path) - 2; level >= 0; level-- {
		parentID, childID := path[level], path[level+1]
		parent, err := t.getInner(ctx, parentID)
		if err != nil {
			return err
		}
		clone := parent.Clone()
		idx := clone.Index(childID)
		if idx < 0 {
			return fmt.Errorf("node %s is not a child of %s", childID, parentID)
		}
		children := make([]nodestore.Child, 0, len(clone.Children)+len(replaced)-1)
		children = append(children, clone.Children[:idx]...)
		children = append(children, replaced...)
		children = append(children, clone.Children[idx+1:]...)
		clone.Children = children
		clone.Recompute()
		for _, child := range replaced {
			t.parents[child.ID] = parentID
		}
		var split bool
		replaced, split, err = t.writeInner(ctx, parentID, clone)
		if err != nil {
			return err
		}
		if split {
			removed = append(removed, parentID)
		}
	}
	if len(replaced) > 1 {
		root := nodestore.NewInnerNode(uint8(len(path)), replaced)
		rootID := t.newID(false)
		if err := t.store.Put(ctx, rootID, root); err != nil {
			return fmt.Errorf("failed to write root node: %w", err)
		}
		ident := t.register(rootID, root.Bounds)
		for _, child := range replaced {
			t.parents[child.ID] = rootID
		}
		t.root.Store(ident)
	}
	t.removeNodes(ctx, removed)
	return nil
}

// removeNodes deletes unreferenced nodes from storage and invalidates their
// identifiers. A node that cannot be deleted is unreachable anyway, so the
// failure is logged rather than returned.
func (t *Tree) removeNodes(ctx context.Context, ids []nodestore.NodeID) {
	for _, id := range ids {
		if err := t.store.Remove(ctx, id); err != nil {
			log.Warnw(ctx, "failed to remove unreferenced node", "node", id, "error", err)
		}
		t.unregister(id)
	}
}

// writeLeaf writes a modified leaf, splitting it if it overflows. It returns
// the children that replace the leaf in its parent and whether it split.
func (t *Tree) writeLeaf(
	ctx context.Context,
	id nodestore.NodeID,
	leaf *nodestore.LeafNode,
) ([]nodestore.Child, bool, error) {
	if len(leaf.Entries) <= t.cfg.fanout {
		if err := t.store.Put(ctx, id, leaf); err != nil {
			return nil, false, fmt.Errorf("failed to write leaf: %w", err)
		}
		if ident, ok := t.Identifier(id); ok {
			ident.SetBounds(leaf.Bounds)
			ident.SetEntries(leaf.IDs())
			t.access(ident)
		}
		return []nodestore.Child{{ID: id, Bounds: leaf.Bounds}}, false, nil
	}
	boxes := make([]region.Region, len(leaf.Entries))
	for i, entry := range leaf.Entries {
		boxes[i] = entry.Bounds
	}
	left, right := quadraticSplit(boxes, t.cfg.minFill)
	children := make([]nodestore.Child, 0, 2)
	for _, group := range [][]int{left, right} {
		entries := make([]nodestore.Data, len(group))
		for i, idx := range group {
			entries[i] = leaf.Entries[idx]
		}
		half := nodestore.NewLeafNode(entries)
		halfID := t.newID(true)
		if err := t.store.Put(ctx, halfID, half); err != nil {
			return nil, false, fmt.Errorf("failed to write leaf: %w", err)
		}
		ident := t.register(halfID, half.Bounds)
		ident.SetEntries(half.IDs())
		t.access(ident)
		children = append(children, nodestore.Child{ID: halfID, Bounds: half.Bounds})
	}
	return children, true, nil
}

// writeInner writes a modified inner node, splitting it if it overflows. It
// returns the children that replace the node in its parent and whether it
// split.
func (t *Tree) writeInner(
	ctx context.Context,
	id nodestore.NodeID,
	inner *nodestore.InnerNode,
) ([]nodestore.Child, bool, error) {
	if len(inner.Children) <= t.cfg.fanout {
		if err := t.store.Put(ctx, id, inner); err != nil {
			return nil, false, fmt.Errorf("failed to write inner node: %w", err)
		}
		if ident, ok := t.Identifier(id); ok {
			ident.SetBounds(inner.Bounds)
		}
		return []nodestore.Child{{ID: id, Bounds: inner.Bounds}}, false, nil
	}
	boxes := make([]region.Region, len(inner.Children))
	for i, child := range inner.Children {
		boxes[i] = child.Bounds
	}
	left, right := quadraticSplit(boxes, t.cfg.minFill)
	children := make([]nodestore.Child, 0, 2)
	for _, group := range [][]int{left, right} {
		grandchildren := make([]nodestore.Child, len(group))
		for i, idx := range group {
			grandchildren[i] = inner.Children[idx]
		}
		half := nodestore.NewInnerNode(inner.Height, grandchildren)
		halfID := t.newID(false)
		if err := t.store.Put(ctx, halfID, half); err != nil {
			return nil, false, fmt.Errorf("failed to write inner node: %w", err)
		}
		t.register(halfID, half.Bounds)
		for _, child := range grandchildren {
			t.parents[child.ID] = halfID
		}
		children = append(children, nodestore.Child{ID: halfID, Bounds: half.Bounds})
	}
	return children, true, nil
}

// access reports a leaf access to the observer. Writers only.
func (t *Tree) access(ident *nodestore.Identifier) {
	t.identMtx.RLock()
	observer := t.observer
	t.identMtx.RUnlock()
	if observer != nil {
		observer.Access(ident)
	}
}
