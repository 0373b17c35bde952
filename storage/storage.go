package storage

import (
	"context"
	"errors"
)

/*
Storage providers hold opaque objects addressed by string keys. Disk-backed
node storage writes one object per tree node through a provider, so the index
can live in a local directory, an S3-compatible bucket, or memory without the
tree knowing which.
*/

////////////////////////////////////////////////////////////////////////////////

// ErrObjectNotFound is returned when a requested object does not exist.
var ErrObjectNotFound = errors.New("object not found")

// Provider is the interface implemented by object storage backends.
type Provider interface {
	// Put stores data under id, replacing any existing object.
	Put(ctx context.Context, id string, data []byte) error

	// Get returns the full contents of the object. If the object does not
	// exist, ErrObjectNotFound is returned.
	Get(ctx context.Context, id string) ([]byte, error)

	// Delete removes the object. Deleting an object that does not exist is
	// not an error.
	Delete(ctx context.Context, id string) error

	String() string
}
