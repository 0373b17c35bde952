package nodestore_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wkalt/spatialcache/nodestore"
	"github.com/wkalt/spatialcache/region"
)

func TestIdentifier(t *testing.T) {
	ctx := context.Background()
	store := nodestore.NewMemoryStorage()
	id := nodestore.NewNodeID(1, true)
	ident := nodestore.NewIdentifier(id, store, region.Rect(0, 0, 1, 1))

	t.Run("new identifiers are valid and unlocked", func(t *testing.T) {
		assert.True(t, ident.IsValid())
		assert.False(t, ident.IsLocked())
		assert.Empty(t, ident.Entries())
	})
	t.Run("equality is by key", func(t *testing.T) {
		other := nodestore.NewIdentifier(id, store, region.Rect(5, 5, 6, 6))
		assert.True(t, ident.Equal(other))
		assert.False(t, ident.Equal(nodestore.NewIdentifier(nodestore.NewNodeID(2, true), store, region.Rect(0, 0, 1, 1))))
	})
	t.Run("validity", func(t *testing.T) {
		ident.SetValid(false)
		assert.False(t, ident.IsValid())
		ident.SetValid(true)
		assert.True(t, ident.IsValid())
	})
	t.Run("try lock fails while locked", func(t *testing.T) {
		require.True(t, ident.TryWriteLock())
		assert.True(t, ident.IsLocked())
		assert.False(t, ident.TryWriteLock())
		ident.WriteUnlock()
		assert.False(t, ident.IsLocked())
	})
	t.Run("write lock blocks until released", func(t *testing.T) {
		ident.WriteLock()
		acquired := make(chan struct{})
		wg := &sync.WaitGroup{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			ident.WriteLock()
			close(acquired)
			ident.WriteUnlock()
		}()
		select {
		case <-acquired:
			t.Fatal("lock acquired while held")
		case <-time.After(20 * time.Millisecond):
		}
		ident.WriteUnlock()
		wg.Wait()
		assert.False(t, ident.IsLocked())
	})
	t.Run("node resolves through storage", func(t *testing.T) {
		_, ok, err := ident.Node(ctx)
		require.NoError(t, err)
		assert.False(t, ok)

		leaf := nodestore.NewLeafNode([]nodestore.Data{{ID: 1, Bounds: region.Point(0, 0)}})
		require.NoError(t, store.Put(ctx, id, leaf))
		node, ok, err := ident.Node(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, leaf, node)
	})
	t.Run("entries and bounds", func(t *testing.T) {
		ident.SetEntries([]uint64{4, 5})
		ident.SetBounds(region.Rect(0, 0, 2, 2))
		assert.Equal(t, []uint64{4, 5}, ident.Entries())
		assert.Equal(t, "L1[0:2 0:2]", ident.String())
	})
}
