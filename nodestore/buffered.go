package nodestore

import (
	"context"
	"fmt"
	"sync"

	"github.com/wkalt/spatialcache/util"
)

/*
BufferedDiskStorage holds written nodes in memory and writes them to the
underlying DiskStorage lazily. When the buffer exceeds its capacity the oldest
dirty node is written out; Flush writes all of them. Reads consult the buffer
first. Anything still buffered at a crash is lost, so the durability window is
wider than DiskStorage's in exchange for fewer provider writes when the same
node is rewritten repeatedly.
*/

////////////////////////////////////////////////////////////////////////////////

// BufferedDiskStorage is a write-back buffer over a DiskStorage.
type BufferedDiskStorage struct {
	disk     *DiskStorage
	dirty    *util.LRU[NodeID, Node]
	capacity int

	// mtx serializes writes, so that a node is never dropped from the buffer
	// after a newer version of it was buffered.
	mtx *sync.Mutex
}

// NewBufferedDiskStorage returns a buffered storage writing back to disk.
// Only WithBufferCapacity applies.
func NewBufferedDiskStorage(disk *DiskStorage, opts ...Option) *BufferedDiskStorage {
	cfg := config{}
	for _, opt := range opts {
		opt(&cfg)
	}
	return newBufferedDisk(disk, cfg.bufferCapacity)
}

func newBufferedDiskStorage(cfg config) *BufferedDiskStorage {
	return newBufferedDisk(newDiskStorage(cfg), cfg.bufferCapacity)
}

func newBufferedDisk(disk *DiskStorage, capacity int) *BufferedDiskStorage {
	if capacity <= 0 {
		capacity = defaultBufferCapacity
	}
	return &BufferedDiskStorage{
		disk:     disk,
		dirty:    util.NewLRU[NodeID, Node](util.Unbounded),
		capacity: capacity,
		mtx:      &sync.Mutex{},
	}
}

// Put buffers a node, writing out the oldest buffered nodes if the buffer is
// over capacity.
func (b *BufferedDiskStorage) Put(ctx context.Context, id NodeID, node Node) error {
	if b.disk.closed.Load() {
		return b.disk.storageError("put", id, ErrStorageClosed)
	}
	b.mtx.Lock()
	defer b.mtx.Unlock()
	b.dirty.Put(id, node, 1)
	for b.dirty.Len() > b.capacity {
		if err := b.writeOldest(ctx); err != nil {
			return err
		}
	}
	return nil
}

// writeOldest writes the oldest dirty node. The node stays buffered if the
// write fails.
func (b *BufferedDiskStorage) writeOldest(ctx context.Context) error {
	id, node, ok := b.dirty.Oldest()
	if !ok {
		return nil
	}
	if err := b.disk.Put(ctx, id, node); err != nil {
		return err
	}
	b.dirty.Delete(id)
	return nil
}

// Get retrieves a node from the buffer or the underlying storage.
func (b *BufferedDiskStorage) Get(ctx context.Context, id NodeID) (Node, bool, error) {
	if node, ok := b.dirty.Peek(id); ok {
		return node, true, nil
	}
	return b.disk.Get(ctx, id)
}

// Remove drops any buffered copy of the node and deletes it from the
// underlying storage.
func (b *BufferedDiskStorage) Remove(ctx context.Context, id NodeID) error {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	if err := b.disk.Remove(ctx, id); err != nil {
		return err
	}
	b.dirty.Delete(id)
	return nil
}

// Flush writes all buffered nodes, oldest first.
func (b *BufferedDiskStorage) Flush(ctx context.Context) error {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	for b.dirty.Len() > 0 {
		if err := b.writeOldest(ctx); err != nil {
			return fmt.Errorf("failed to flush: %w", err)
		}
	}
	return b.disk.Flush(ctx)
}

// Buffered returns the number of dirty nodes.
func (b *BufferedDiskStorage) Buffered() int {
	return b.dirty.Len()
}

// Properties describes the storage.
func (b *BufferedDiskStorage) Properties() PropertySet {
	props := b.disk.Properties()
	props.Kind = KindBufferedDisk
	props.BufferCapacity = b.capacity
	return props
}

// Close flushes buffered nodes and closes the underlying storage.
func (b *BufferedDiskStorage) Close(ctx context.Context) error {
	if b.disk.closed.Load() {
		return nil
	}
	if err := b.Flush(ctx); err != nil {
		return err
	}
	return b.disk.Close(ctx)
}

func (b *BufferedDiskStorage) String() string {
	return fmt.Sprintf("buffered(%s)", b.disk)
}
