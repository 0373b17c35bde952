package nodestore

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/spaolacci/murmur3"
	"github.com/wkalt/spatialcache/storage"
	"github.com/wkalt/spatialcache/util"
)

/*
DiskStorage stores each node as one object, named <prefix>/<node id>, in a
storage.Provider. The object is the node's serialized form followed by a
murmur3 checksum of it, which is validated on read.

Decoded nodes are cached on read and write in a byte capacity-limited LRU
cache. Nodes are never modified once stored, so cached values can be handed to
concurrent readers. Writes go straight to the provider, so Flush has nothing to
do; BufferedDiskStorage layers a write-back buffer on top.
*/

////////////////////////////////////////////////////////////////////////////////

// DiskStorage is a Storage over an object storage provider.
type DiskStorage struct {
	provider       storage.Provider
	providerConfig ProviderConfig
	prefix         string
	cacheBytes     uint64
	cache          *util.LRU[NodeID, Node]
	closed         atomic.Bool
}

// NewDiskStorage returns a new disk storage writing to provider.
func NewDiskStorage(provider storage.Provider, opts ...Option) *DiskStorage {
	cfg := config{}
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg.provider = provider
	return newDiskStorage(cfg)
}

func newDiskStorage(cfg config) *DiskStorage {
	if cfg.prefix == "" {
		cfg.prefix = uuid.NewString()
	}
	if cfg.cacheBytes == 0 {
		cfg.cacheBytes = defaultCacheBytes
	}
	return &DiskStorage{
		provider:       cfg.provider,
		providerConfig: cfg.providerConfig,
		prefix:         cfg.prefix,
		cacheBytes:     cfg.cacheBytes,
		cache:          util.NewLRU[NodeID, Node](cfg.cacheBytes),
	}
}

func (d *DiskStorage) objectName(id NodeID) string {
	return d.prefix + "/" + id.Object()
}

func (d *DiskStorage) storageError(op string, id NodeID, err error) error {
	return StorageError{Backend: d.provider.String(), Op: op, NodeID: id, Err: err}
}

// Put writes a node to the provider.
func (d *DiskStorage) Put(ctx context.Context, id NodeID, node Node) error {
	if d.closed.Load() {
		return d.storageError("put", id, ErrStorageClosed)
	}
	if err := d.provider.Put(ctx, d.objectName(id), encodeObject(node)); err != nil {
		d.cache.Delete(id)
		return d.storageError("put", id, err)
	}
	d.cache.Put(id, node, node.Size())
	return nil
}

// Get retrieves a node. It will check the cache prior to storage.
func (d *DiskStorage) Get(ctx context.Context, id NodeID) (Node, bool, error) {
	if d.closed.Load() {
		return nil, false, d.storageError("get", id, ErrStorageClosed)
	}
	if node, ok := d.cache.Get(id); ok {
		return node, true, nil
	}
	data, err := d.provider.Get(ctx, d.objectName(id))
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, false, nil
		}
		return nil, false, d.storageError("get", id, err)
	}
	node, err := decodeObject(id, data)
	if err != nil {
		return nil, false, d.storageError("get", id, err)
	}
	d.cache.Put(id, node, node.Size())
	return node, true, nil
}

// Remove deletes a node from the provider.
func (d *DiskStorage) Remove(ctx context.Context, id NodeID) error {
	if d.closed.Load() {
		return d.storageError("remove", id, ErrStorageClosed)
	}
	if err := d.provider.Delete(ctx, d.objectName(id)); err != nil {
		return d.storageError("remove", id, err)
	}
	d.cache.Delete(id)
	return nil
}

// Flush is a no-op; writes are synchronous.
func (d *DiskStorage) Flush(context.Context) error {
	if d.closed.Load() {
		return fmt.Errorf("failed to flush %s: %w", d.provider, ErrStorageClosed)
	}
	return nil
}

// Properties describes the storage.
func (d *DiskStorage) Properties() PropertySet {
	return PropertySet{
		Kind:       KindDisk,
		Provider:   d.providerConfig,
		Prefix:     d.prefix,
		CacheBytes: d.cacheBytes,
	}
}

// Close releases the read cache. Subsequent operations fail.
func (d *DiskStorage) Close(context.Context) error {
	if d.closed.Swap(true) {
		return nil
	}
	d.cache.Reset()
	return nil
}

func (d *DiskStorage) String() string {
	return fmt.Sprintf("disk(%s/%s)", d.provider, d.prefix)
}

func encodeObject(node Node) []byte {
	body := node.ToBytes()
	buf := make([]byte, len(body)+4)
	offset := copy(buf, body)
	util.U32(buf[offset:], murmur3.Sum32(body))
	return buf
}

func decodeObject(id NodeID, data []byte) (Node, error) {
	if len(data) < 5 {
		return nil, CorruptNodeError{NodeID: id, Reason: fmt.Sprintf("object too short (%d bytes)", len(data))}
	}
	body := data[:len(data)-4]
	var checksum uint32
	util.ReadU32(data[len(data)-4:], &checksum)
	if computed := murmur3.Sum32(body); computed != checksum {
		return nil, CorruptNodeError{
			NodeID: id,
			Reason: fmt.Sprintf("checksum mismatch: stored %08x, computed %08x", checksum, computed),
		}
	}
	node, err := BytesToNode(body)
	if err != nil {
		return nil, CorruptNodeError{NodeID: id, Reason: err.Error()}
	}
	if (node.Type() == Leaf) != id.IsLeaf() {
		return nil, CorruptNodeError{NodeID: id, Reason: fmt.Sprintf("found %s node", node.Type())}
	}
	return node, nil
}
