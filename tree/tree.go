package tree

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/wkalt/spatialcache/nodestore"
	"github.com/wkalt/spatialcache/region"
	"github.com/wkalt/spatialcache/util/log"
)

/*
The tree package implements an R-tree over a nodestore.Storage. The tree holds
nodestore.Identifiers for its nodes and resolves them through storage on
demand, so the node bodies can live on disk.

Nodes are copy-on-write. A writer reads a node, clones it, modifies the clone,
and puts it back under the same ID; a split writes the halves under new IDs and
removes the original only after its parent points at the halves. A reader that
already holds a node therefore sees a consistent snapshot, and readers take no
locks. A node that disappears between a reader learning of it and reading it
is skipped.

Writers (Insert, Evict, Clear) are serialized on the tree mutex. Leaves carry
a write lock used by eviction. An inserter that finds its target leaf locked
does not wait for it: the entry goes into a new sibling leaf instead. The
eviction policy locks a leaf before it asks the tree to evict it, so the lock
order is leaf lock, then tree mutex, and inserts never block in the other
direction.

All leaves are at the same depth. Leaves have height zero and an inner node's
height is one more than its children's.
*/

////////////////////////////////////////////////////////////////////////////////

// Observer is notified when leaves are accessed and removed. The eviction
// policy observes the tree to maintain its recency ordering.
type Observer interface {
	Access(ident *nodestore.Identifier)
	Forget(ident *nodestore.Identifier)
	Reset()
}

// Header is the persistent state of a tree, other than its nodes.
type Header struct {
	Root     nodestore.NodeID `json:"root"`
	NextNode uint64           `json:"nextNode"`
	NextData uint64           `json:"nextData"`
	Dims     int              `json:"dims"`
	Fanout   int              `json:"fanout"`
}

// Tree is an R-tree of data entries keyed by region.
type Tree struct {
	store nodestore.Storage
	dims  int
	cfg   config

	// mtx serializes writers.
	mtx *sync.Mutex

	// identMtx guards idents and observer, which readers consult to record
	// accesses.
	identMtx *sync.RWMutex
	idents   map[nodestore.NodeID]*nodestore.Identifier
	observer Observer

	// parents maps each non-root node to its parent. Writers only.
	parents map[nodestore.NodeID]nodestore.NodeID

	root     atomic.Pointer[nodestore.Identifier]
	nextNode atomic.Uint64
	nextData atomic.Uint64
	count    atomic.Int64

	iterMtx   *sync.Mutex
	iterators map[*LazyIterator]struct{}
	closed    atomic.Bool
}

func newTree(store nodestore.Storage, dims int, opts []Option) *Tree {
	cfg := newConfig(opts)
	return &Tree{
		store:     store,
		dims:      dims,
		cfg:       cfg,
		mtx:       &sync.Mutex{},
		identMtx:  &sync.RWMutex{},
		idents:    make(map[nodestore.NodeID]*nodestore.Identifier),
		observer:  cfg.observer,
		parents:   make(map[nodestore.NodeID]nodestore.NodeID),
		iterMtx:   &sync.Mutex{},
		iterators: make(map[*LazyIterator]struct{}),
	}
}

// New creates an empty tree of the given dimensionality in store.
func New(ctx context.Context, store nodestore.Storage, dims int, opts ...Option) (*Tree, error) {
	if dims <= 0 {
		return nil, fmt.Errorf("invalid dimensionality %d", dims)
	}
	t := newTree(store, dims, opts)
	root, err := t.newEmptyRoot(ctx)
	if err != nil {
		return nil, err
	}
	t.root.Store(root)
	return t, nil
}

// Open reopens a tree from its header. The tree is walked once to rebuild
// the in-memory bookkeeping; every reachable leaf is reported to the
// observer.
func Open(ctx context.Context, store nodestore.Storage, header Header, opts ...Option) (*Tree, error) {
	if header.Dims <= 0 {
		return nil, fmt.Errorf("invalid dimensionality %d", header.Dims)
	}
	if header.Fanout > 0 {
		opts = append([]Option{WithFanout(header.Fanout)}, opts...)
	}
	t := newTree(store, header.Dims, opts)
	t.nextNode.Store(header.NextNode)
	t.nextData.Store(header.NextData)

	node, ok, err := store.Get(ctx, header.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to get root node: %w", err)
	}
	if !ok {
		return nil, MissingNodeError{header.Root}
	}
	root := nodestore.NewIdentifier(header.Root, store, node.Region())
	t.idents[header.Root] = root
	t.root.Store(root)
	stack := []*nodestore.Identifier{root}
	for len(stack) > 0 {
		ident := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		node, ok, err := store.Get(ctx, ident.ID())
		if err != nil {
			return nil, fmt.Errorf("failed to get node %s: %w", ident.ID(), err)
		}
		if !ok {
			return nil, MissingNodeError{ident.ID()}
		}
		switch node := node.(type) {
		case *nodestore.InnerNode:
			for _, child := range node.Children {
				childIdent := nodestore.NewIdentifier(child.ID, store, child.Bounds)
				t.idents[child.ID] = childIdent
				t.parents[child.ID] = ident.ID()
				stack = append(stack, childIdent)
			}
		case *nodestore.LeafNode:
			ident.SetEntries(node.IDs())
			t.count.Add(int64(len(node.Entries)))
			if t.observer != nil {
				t.observer.Access(ident)
			}
		}
	}
	log.Debugf(ctx, "opened tree at %s with %d entries", header.Root, t.count.Load())
	return t, nil
}

// Header returns the tree's persistent state. Writers are excluded while it
// is read, so the header is consistent with the nodes in storage.
func (t *Tree) Header() Header {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	return Header{
		Root:     t.root.Load().ID(),
		NextNode: t.nextNode.Load(),
		NextData: t.nextData.Load(),
		Dims:     t.dims,
		Fanout:   t.cfg.fanout,
	}
}

// Storage returns the storage backing the tree.
func (t *Tree) Storage() nodestore.Storage {
	return t.store
}

// Dims returns the dimensionality of the tree.
func (t *Tree) Dims() int {
	return t.dims
}

// Count returns the number of data entries in the tree.
func (t *Tree) Count() int {
	return int(t.count.Load())
}

// Root returns the identifier of the root node.
func (t *Tree) Root() *nodestore.Identifier {
	return t.root.Load()
}

// Bounds returns the bounding region of all entries in the tree. An empty
// tree has an empty region.
func (t *Tree) Bounds(ctx context.Context) (region.Region, error) {
	if t.closed.Load() {
		return region.Region{}, ErrTreeClosed
	}
	node, ok, err := t.root.Load().Node(ctx)
	if err != nil {
		return region.Region{}, fmt.Errorf("failed to get root node: %w", err)
	}
	if !ok {
		return region.Region{}, nil
	}
	return node.Region(), nil
}

// Identifier returns the identifier of a live node.
func (t *Tree) Identifier(id nodestore.NodeID) (*nodestore.Identifier, bool) {
	t.identMtx.RLock()
	defer t.identMtx.RUnlock()
	ident, ok := t.idents[id]
	return ident, ok
}

// Leaves returns the identifiers of all live leaves.
func (t *Tree) Leaves() []*nodestore.Identifier {
	t.identMtx.RLock()
	defer t.identMtx.RUnlock()
	leaves := []*nodestore.Identifier{}
	for id, ident := range t.idents {
		if id.IsLeaf() {
			leaves = append(leaves, ident)
		}
	}
	return leaves
}

// SetObserver replaces the tree's observer. Every live leaf is reported to
// the new observer.
func (t *Tree) SetObserver(o Observer) {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	t.identMtx.Lock()
	t.observer = o
	t.identMtx.Unlock()
	if o == nil {
		return
	}
	for _, leaf := range t.Leaves() {
		o.Access(leaf)
	}
}

// Close closes the tree and any outstanding iterators. The storage is not
// closed.
func (t *Tree) Close() error {
	if t.closed.Swap(true) {
		return nil
	}
	t.iterMtx.Lock()
	iterators := make([]*LazyIterator, 0, len(t.iterators))
	for it := range t.iterators {
		iterators = append(iterators, it)
	}
	t.iterMtx.Unlock()
	for _, it := range iterators {
		it.Close()
	}
	return nil
}

// touch records an access to a leaf.
func (t *Tree) touch(id nodestore.NodeID) {
	if !id.IsLeaf() {
		return
	}
	t.identMtx.RLock()
	ident, ok := t.idents[id]
	observer := t.observer
	t.identMtx.RUnlock()
	if ok && observer != nil {
		observer.Access(ident)
	}
}

func (t *Tree) checkDims(r region.Region) error {
	if r.Dim() != t.dims {
		return DimensionMismatchError{Expected: t.dims, Found: r.Dim()}
	}
	return nil
}

func (t *Tree) newID(leaf bool) nodestore.NodeID {
	return nodestore.NewNodeID(t.nextNode.Add(1), leaf)
}

// register records a newly written node. Writers only.
func (t *Tree) register(id nodestore.NodeID, bounds region.Region) *nodestore.Identifier {
	ident := nodestore.NewIdentifier(id, t.store, bounds)
	t.identMtx.Lock()
	t.idents[id] = ident
	t.identMtx.Unlock()
	return ident
}

// unregister forgets a node that has been removed from storage. Writers only.
func (t *Tree) unregister(id nodestore.NodeID) {
	t.identMtx.Lock()
	ident, ok := t.idents[id]
	delete(t.idents, id)
	observer := t.observer
	t.identMtx.Unlock()
	delete(t.parents, id)
	if !ok {
		return
	}
	ident.SetValid(false)
	if observer != nil && id.IsLeaf() {
		observer.Forget(ident)
	}
}

// newEmptyRoot writes an empty leaf to serve as the root of an empty tree.
func (t *Tree) newEmptyRoot(ctx context.Context) (*nodestore.Identifier, error) {
	id := t.newID(true)
	if err := t.store.Put(ctx, id, nodestore.NewLeafNode(nil)); err != nil {
		return nil, fmt.Errorf("failed to write root node: %w", err)
	}
	return t.register(id, region.Region{}), nil
}

func (t *Tree) getInner(ctx context.Context, id nodestore.NodeID) (*nodestore.InnerNode, error) {
	node, ok, err := t.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get node %s: %w", id, err)
	}
	if !ok {
		return nil, MissingNodeError{id}
	}
	inner, ok := node.(*nodestore.InnerNode)
	if !ok {
		return nil, newUnexpectedNodeError(nodestore.Inner, node)
	}
	return inner, nil
}

func (t *Tree) getLeaf(ctx context.Context, id nodestore.NodeID) (*nodestore.LeafNode, error) {
	node, ok, err := t.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get node %s: %w", id, err)
	}
	if !ok {
		return nil, MissingNodeError{id}
	}
	leaf, ok := node.(*nodestore.LeafNode)
	if !ok {
		return nil, newUnexpectedNodeError(nodestore.Leaf, node)
	}
	return leaf, nil
}
