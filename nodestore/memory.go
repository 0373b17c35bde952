package nodestore

import (
	"context"
	"sync"
)

// MemoryStorage keeps nodes in a map. Nodes are stored and returned by
// reference, so the ownership rules on Node are what keep readers safe.
type MemoryStorage struct {
	nodes map[NodeID]Node
	mtx   *sync.RWMutex
}

// NewMemoryStorage returns a new memory storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		nodes: make(map[NodeID]Node),
		mtx:   &sync.RWMutex{},
	}
}

// Put stores a node.
func (m *MemoryStorage) Put(_ context.Context, id NodeID, node Node) error {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	m.nodes[id] = node
	return nil
}

// Get retrieves a node.
func (m *MemoryStorage) Get(_ context.Context, id NodeID) (Node, bool, error) {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	node, ok := m.nodes[id]
	return node, ok, nil
}

// Remove deletes a node.
func (m *MemoryStorage) Remove(_ context.Context, id NodeID) error {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	delete(m.nodes, id)
	return nil
}

// Len returns the number of stored nodes.
func (m *MemoryStorage) Len() int {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	return len(m.nodes)
}

// Flush is a no-op.
func (m *MemoryStorage) Flush(context.Context) error {
	return nil
}

// Properties describes the storage. Memory storage cannot be reopened; the
// property set only records its kind.
func (m *MemoryStorage) Properties() PropertySet {
	return PropertySet{Kind: KindMemory}
}

// Close drops all nodes.
func (m *MemoryStorage) Close(context.Context) error {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	m.nodes = make(map[NodeID]Node)
	return nil
}

func (m *MemoryStorage) String() string {
	return "memory"
}
