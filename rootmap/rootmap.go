package rootmap

import (
	"context"
	"fmt"

	"github.com/wkalt/spatialcache/nodestore"
	"github.com/wkalt/spatialcache/region"
	"github.com/wkalt/spatialcache/tree"
)

/*
The rootmap records, for each named cache, everything needed to reopen it
besides the nodes themselves: the tree header (root node, ID counters,
dimensionality, fanout), the storage properties and the covered regions.

If the rootmap is lost the node objects in storage are opaque. The tree can
not be found without its root, and without the coverage a reopened cache would
have to refetch everything.
*/

////////////////////////////////////////////////////////////////////////////////

// Entry is the persisted state of one cache.
type Entry struct {
	Name       string                `json:"name"`
	Header     tree.Header           `json:"header"`
	Properties nodestore.PropertySet `json:"properties"`
	Coverage   []region.Region       `json:"coverage"`
	UpdatedAt  string                `json:"updatedAt,omitempty"`
}

// Rootmap stores entries by cache name.
type Rootmap interface {
	// Put creates or replaces the entry for entry.Name.
	Put(ctx context.Context, entry Entry) error
	// Get returns the entry for name, or EntryNotFoundError.
	Get(ctx context.Context, name string) (Entry, error)
	// Delete removes the entry for name. Deleting a missing entry is not an
	// error.
	Delete(ctx context.Context, name string) error
	// List returns the names of all entries in sorted order.
	List(ctx context.Context) ([]string, error)
}

// EntryNotFoundError is returned when no entry exists for a name.
type EntryNotFoundError struct {
	Name string
}

func (e EntryNotFoundError) Error() string {
	return fmt.Sprintf("rootmap entry %s not found", e.Name)
}

// Is returns true if the target error is an EntryNotFoundError.
func (e EntryNotFoundError) Is(target error) bool {
	_, ok := target.(EntryNotFoundError)
	return ok
}
