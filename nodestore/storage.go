package nodestore

import (
	"context"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/wkalt/spatialcache/storage"
)

/*
Storage is the persistence layer for tree nodes. The tree is written against
the interface and does not know whether its nodes live in a map, in a local
directory, or in an S3 bucket.

Disk-backed storages describe themselves with a PropertySet. A PropertySet
obtained from a flushed storage is sufficient to reopen the same nodes with
OpenStorage, after the process restarts or in another process.
*/

////////////////////////////////////////////////////////////////////////////////

// Storage is a key to node store.
type Storage interface {
	// Put stores node under id, replacing any existing node. The storage takes
	// ownership of the node.
	Put(ctx context.Context, id NodeID, node Node) error

	// Get returns the node stored under id. If no node is stored, the second
	// return value is false and the error is nil.
	Get(ctx context.Context, id NodeID) (Node, bool, error)

	// Remove deletes the node stored under id. Removing an absent node is not
	// an error.
	Remove(ctx context.Context, id NodeID) error

	// Flush forces buffered writes to durable media.
	Flush(ctx context.Context) error

	// Properties returns the description needed to reopen the storage.
	Properties() PropertySet

	// Close releases resources held by the storage. Buffered writes are
	// flushed first.
	Close(ctx context.Context) error
}

// Kind is the kind of a storage.
type Kind string

const (
	KindMemory       Kind = "memory"
	KindDisk         Kind = "disk"
	KindBufferedDisk Kind = "buffered"
)

// Provider types understood by OpenProvider.
const (
	ProviderMemory    = "memory"
	ProviderDirectory = "directory"
	ProviderS3        = "s3"
)

// ProviderConfig describes the object storage provider behind a disk
// storage.
type ProviderConfig struct {
	Type            string `json:"type"`
	Directory       string `json:"directory,omitempty"`
	Endpoint        string `json:"endpoint,omitempty"`
	Bucket          string `json:"bucket,omitempty"`
	AccessKeyID     string `json:"accessKeyId,omitempty"`
	SecretAccessKey string `json:"secretAccessKey,omitempty"`
	Secure          bool   `json:"secure,omitempty"`
}

// PropertySet is a serializable description of a storage.
type PropertySet struct {
	Kind           Kind           `json:"kind"`
	Provider       ProviderConfig `json:"provider"`
	Prefix         string         `json:"prefix,omitempty"`
	CacheBytes     uint64         `json:"cacheBytes,omitempty"`
	BufferCapacity int            `json:"bufferCapacity,omitempty"`
}

// Marshal serializes the property set to JSON.
func (p PropertySet) Marshal() ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal property set: %w", err)
	}
	return data, nil
}

// ParsePropertySet parses a property set serialized with Marshal.
func ParsePropertySet(data []byte) (PropertySet, error) {
	var p PropertySet
	if err := json.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("failed to parse property set: %w", err)
	}
	switch p.Kind {
	case KindMemory, KindDisk, KindBufferedDisk:
	default:
		return p, fmt.Errorf("unrecognized storage kind %q", p.Kind)
	}
	return p, nil
}

// OpenProvider constructs the object storage provider described by config.
func OpenProvider(ctx context.Context, config ProviderConfig) (storage.Provider, error) {
	switch config.Type {
	case ProviderMemory:
		return storage.NewMemStore(), nil
	case ProviderDirectory:
		if config.Directory == "" {
			return nil, errors.New("directory provider requires a directory")
		}
		return storage.NewDirectoryStore(config.Directory), nil
	case ProviderS3:
		mc, err := minio.New(config.Endpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(config.AccessKeyID, config.SecretAccessKey, ""),
			Secure: config.Secure,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create minio client: %w", err)
		}
		exists, err := mc.BucketExists(ctx, config.Bucket)
		if err != nil {
			return nil, fmt.Errorf("failed to check bucket %s: %w", config.Bucket, err)
		}
		if !exists {
			if err := mc.MakeBucket(ctx, config.Bucket, minio.MakeBucketOptions{}); err != nil {
				return nil, fmt.Errorf("failed to create bucket %s: %w", config.Bucket, err)
			}
		}
		return storage.NewS3Store(mc, config.Bucket), nil
	default:
		return nil, fmt.Errorf("unrecognized provider type %q", config.Type)
	}
}

// OpenStorage opens the storage described by props. For disk-backed kinds the
// provider is constructed from props.Provider unless one is supplied with
// WithProvider. An empty prefix starts a new storage.
func OpenStorage(ctx context.Context, props PropertySet, opts ...Option) (Storage, error) {
	cfg := config{
		prefix:         props.Prefix,
		cacheBytes:     props.CacheBytes,
		bufferCapacity: props.BufferCapacity,
		providerConfig: props.Provider,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if props.Kind == KindMemory {
		return NewMemoryStorage(), nil
	}
	if cfg.provider == nil {
		provider, err := OpenProvider(ctx, props.Provider)
		if err != nil {
			return nil, err
		}
		cfg.provider = provider
	}
	switch props.Kind {
	case KindDisk:
		return newDiskStorage(cfg), nil
	case KindBufferedDisk:
		return newBufferedDiskStorage(cfg), nil
	default:
		return nil, fmt.Errorf("unrecognized storage kind %q", props.Kind)
	}
}
