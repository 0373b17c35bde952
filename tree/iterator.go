package tree

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/wkalt/spatialcache/nodestore"
	"github.com/wkalt/spatialcache/region"
)

/*
LazyIterator is a pull-based alternative to the visitor queries. It walks the
tree on demand, buffering the matching entries of whole leaves until at least
a batch's worth is pending. Each node is read at most once per pass, and a
leaf's entries are released as soon as they have been consumed.
*/

////////////////////////////////////////////////////////////////////////////////

// LazyIterator iterates over the entries matching a query.
type LazyIterator struct {
	tree      *Tree
	q         region.Region
	contained bool
	batchSize int
	err       error

	mtx     *sync.Mutex
	stack   []nodestore.NodeID
	visited map[nodestore.NodeID]struct{}
	pending []nodestore.Data
	closed  bool
}

// Search returns an iterator over the entries intersecting q, or contained
// by q if contained is set. The iterator must be closed when no longer
// needed.
func (t *Tree) Search(q region.Region, contained bool) *LazyIterator {
	it := &LazyIterator{
		tree:      t,
		q:         q.Clone(),
		contained: contained,
		batchSize: t.cfg.batchSize,
		mtx:       &sync.Mutex{},
	}
	if t.closed.Load() {
		it.closed = true
		return it
	}
	it.err = t.checkDims(q)
	it.start()
	t.iterMtx.Lock()
	t.iterators[it] = struct{}{}
	t.iterMtx.Unlock()
	return it
}

// More reports whether the iterator has more entries.
func (it *LazyIterator) More(ctx context.Context) (bool, error) {
	it.mtx.Lock()
	defer it.mtx.Unlock()
	if err := it.ready(ctx); err != nil {
		return false, err
	}
	return len(it.pending) > 0, nil
}

// Next returns the next entry. It returns io.EOF when the iterator is
// exhausted.
func (it *LazyIterator) Next(ctx context.Context) (nodestore.Data, error) {
	it.mtx.Lock()
	defer it.mtx.Unlock()
	if err := it.ready(ctx); err != nil {
		return nodestore.Data{}, err
	}
	if len(it.pending) == 0 {
		return nodestore.Data{}, io.EOF
	}
	data := it.pending[0]
	it.pending = it.pending[1:]
	if len(it.pending) == 0 {
		it.pending = nil
	}
	return data, nil
}

// Reset restarts the iterator from the current root.
func (it *LazyIterator) Reset() error {
	it.mtx.Lock()
	defer it.mtx.Unlock()
	if it.closed {
		return ErrIteratorClosed
	}
	it.start()
	return nil
}

// Close releases the iterator. Closing a closed iterator is a no-op.
func (it *LazyIterator) Close() error {
	it.mtx.Lock()
	if it.closed {
		it.mtx.Unlock()
		return nil
	}
	it.closed = true
	it.stack = nil
	it.visited = nil
	it.pending = nil
	it.mtx.Unlock()

	it.tree.iterMtx.Lock()
	delete(it.tree.iterators, it)
	it.tree.iterMtx.Unlock()
	return nil
}

func (it *LazyIterator) start() {
	it.stack = []nodestore.NodeID{it.tree.root.Load().ID()}
	it.visited = make(map[nodestore.NodeID]struct{})
	it.pending = nil
}

// ready checks the iterator state and refills the pending entries if they
// have run out.
func (it *LazyIterator) ready(ctx context.Context) error {
	if it.closed {
		return ErrIteratorClosed
	}
	if it.err != nil {
		return it.err
	}
	if len(it.pending) > 0 {
		return nil
	}
	return it.fill(ctx)
}

// fill walks the tree until at least a batch of entries is pending or the
// walk is complete.
func (it *LazyIterator) fill(ctx context.Context) error {
	for len(it.pending) < it.batchSize && len(it.stack) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		id := it.stack[len(it.stack)-1]
		it.stack = it.stack[:len(it.stack)-1]
		if _, ok := it.visited[id]; ok {
			continue
		}
		it.visited[id] = struct{}{}
		node, ok, err := it.tree.store.Get(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to get node %s: %w", id, err)
		}
		if !ok || !node.Region().Intersects(it.q) {
			continue
		}
		switch node := node.(type) {
		case *nodestore.InnerNode:
			for i := len(node.Children) - 1; i >= 0; i-- {
				if node.Children[i].Bounds.Intersects(it.q) {
					it.stack = append(it.stack, node.Children[i].ID)
				}
			}
		case *nodestore.LeafNode:
			it.tree.touch(id)
			for _, entry := range node.Entries {
				if matches(entry.Bounds, it.q, it.contained) {
					it.pending = append(it.pending, entry)
				}
			}
		}
	}
	return nil
}
