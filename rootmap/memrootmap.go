package rootmap

import (
	"context"
	"slices"
	"sync"
	"time"

	"golang.org/x/exp/maps"
)

/*
memrootmap is an in-memory implementation of the rootmap interface. It is
suitable for tests and for caches that are not reopened.
*/

////////////////////////////////////////////////////////////////////////////////

type memrootmap struct {
	mtx     *sync.RWMutex
	entries map[string]Entry
}

// NewMemRootmap returns an empty in-memory rootmap.
func NewMemRootmap() Rootmap {
	return &memrootmap{
		mtx:     &sync.RWMutex{},
		entries: make(map[string]Entry),
	}
}

func (rm *memrootmap) Put(_ context.Context, entry Entry) error {
	rm.mtx.Lock()
	defer rm.mtx.Unlock()
	entry.Coverage = slices.Clone(entry.Coverage)
	entry.UpdatedAt = time.Now().UTC().Format(time.DateTime)
	rm.entries[entry.Name] = entry
	return nil
}

func (rm *memrootmap) Get(_ context.Context, name string) (Entry, error) {
	rm.mtx.RLock()
	defer rm.mtx.RUnlock()
	entry, ok := rm.entries[name]
	if !ok {
		return Entry{}, EntryNotFoundError{name}
	}
	entry.Coverage = slices.Clone(entry.Coverage)
	return entry, nil
}

func (rm *memrootmap) Delete(_ context.Context, name string) error {
	rm.mtx.Lock()
	defer rm.mtx.Unlock()
	delete(rm.entries, name)
	return nil
}

func (rm *memrootmap) List(context.Context) ([]string, error) {
	rm.mtx.RLock()
	defer rm.mtx.RUnlock()
	names := maps.Keys(rm.entries)
	slices.Sort(names)
	return names, nil
}
