package nodestore_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wkalt/spatialcache/nodestore"
	"github.com/wkalt/spatialcache/region"
	"github.com/wkalt/spatialcache/storage"
	"github.com/wkalt/spatialcache/storage/minioutil"
)

func leafWith(ids ...uint64) *nodestore.LeafNode {
	entries := make([]nodestore.Data, len(ids))
	for i, id := range ids {
		x := float64(id)
		entries[i] = nodestore.Data{ID: id, Bounds: region.Rect(x, x, x+1, x+1), Payload: []byte{byte(id)}}
	}
	return nodestore.NewLeafNode(entries)
}

func payloads(t *testing.T, node nodestore.Node) [][]byte {
	t.Helper()
	leaf, ok := node.(*nodestore.LeafNode)
	require.True(t, ok)
	out := [][]byte{}
	for _, entry := range leaf.Entries {
		out = append(out, entry.Payload)
	}
	return out
}

func TestStorageContract(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		assertion string
		store     nodestore.Storage
	}{
		{"memory", nodestore.NewMemoryStorage()},
		{"disk over memory", nodestore.NewDiskStorage(storage.NewMemStore())},
		{"disk over directory", nodestore.NewDiskStorage(storage.NewDirectoryStore(t.TempDir()))},
		{
			"buffered disk",
			nodestore.NewBufferedDiskStorage(
				nodestore.NewDiskStorage(storage.NewMemStore()),
				nodestore.WithBufferCapacity(2),
			),
		},
	}
	for _, c := range cases {
		t.Run(c.assertion, func(t *testing.T) {
			leafID := nodestore.NewNodeID(1, true)
			innerID := nodestore.NewNodeID(2, false)
			t.Run("get absent node", func(t *testing.T) {
				node, ok, err := c.store.Get(ctx, nodestore.NewNodeID(100, true))
				require.NoError(t, err)
				assert.False(t, ok)
				assert.Nil(t, node)
			})
			t.Run("put and get", func(t *testing.T) {
				require.NoError(t, c.store.Put(ctx, leafID, leafWith(1, 2)))
				node, ok, err := c.store.Get(ctx, leafID)
				require.NoError(t, err)
				require.True(t, ok)
				assert.Equal(t, [][]byte{{1}, {2}}, payloads(t, node))
			})
			t.Run("put is an idempotent overwrite", func(t *testing.T) {
				require.NoError(t, c.store.Put(ctx, leafID, leafWith(3)))
				require.NoError(t, c.store.Put(ctx, leafID, leafWith(3)))
				node, ok, err := c.store.Get(ctx, leafID)
				require.NoError(t, err)
				require.True(t, ok)
				assert.Equal(t, [][]byte{{3}}, payloads(t, node))
			})
			t.Run("inner nodes", func(t *testing.T) {
				inner := nodestore.NewInnerNode(1, []nodestore.Child{{ID: leafID, Bounds: region.Rect(3, 3, 4, 4)}})
				require.NoError(t, c.store.Put(ctx, innerID, inner))
				node, ok, err := c.store.Get(ctx, innerID)
				require.NoError(t, err)
				require.True(t, ok)
				assert.Equal(t, nodestore.Inner, node.Type())
				assert.True(t, region.Rect(3, 3, 4, 4).Equal(node.Region()))
			})
			t.Run("remove", func(t *testing.T) {
				require.NoError(t, c.store.Remove(ctx, leafID))
				_, ok, err := c.store.Get(ctx, leafID)
				require.NoError(t, err)
				assert.False(t, ok)
				require.NoError(t, c.store.Remove(ctx, leafID))
			})
			t.Run("flush and close", func(t *testing.T) {
				require.NoError(t, c.store.Flush(ctx))
				require.NoError(t, c.store.Close(ctx))
				require.NoError(t, c.store.Close(ctx))
			})
		})
	}
}

func TestDiskPersistenceRoundTrip(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		assertion string
		open      func(provider storage.Provider) nodestore.Storage
		kind      nodestore.Kind
	}{
		{
			"disk",
			func(provider storage.Provider) nodestore.Storage {
				return nodestore.NewDiskStorage(provider)
			},
			nodestore.KindDisk,
		},
		{
			"buffered disk",
			func(provider storage.Provider) nodestore.Storage {
				return nodestore.NewBufferedDiskStorage(nodestore.NewDiskStorage(provider), nodestore.WithBufferCapacity(100))
			},
			nodestore.KindBufferedDisk,
		},
	}
	for _, c := range cases {
		t.Run(c.assertion, func(t *testing.T) {
			dir := t.TempDir()
			provider := storage.NewDirectoryStore(dir)
			store := c.open(provider)
			ids := []nodestore.NodeID{}
			for i := uint64(0); i < 10; i++ {
				id := nodestore.NewNodeID(i, true)
				ids = append(ids, id)
				require.NoError(t, store.Put(ctx, id, leafWith(i, i+100)))
			}
			require.NoError(t, store.Flush(ctx))
			props := store.Properties()
			assert.Equal(t, c.kind, props.Kind)
			require.NoError(t, store.Close(ctx))

			data, err := props.Marshal()
			require.NoError(t, err)
			parsed, err := nodestore.ParsePropertySet(data)
			require.NoError(t, err)

			reopened, err := nodestore.OpenStorage(ctx, parsed, nodestore.WithProvider(storage.NewDirectoryStore(dir)))
			require.NoError(t, err)
			for i, id := range ids {
				node, ok, err := reopened.Get(ctx, id)
				require.NoError(t, err)
				require.True(t, ok)
				assert.Equal(t, [][]byte{{byte(i)}, {byte(i + 100)}}, payloads(t, node))
			}

			require.NoError(t, reopened.Remove(ctx, ids[3]))
			require.NoError(t, reopened.Close(ctx))

			again, err := nodestore.OpenStorage(ctx, parsed, nodestore.WithProvider(storage.NewDirectoryStore(dir)))
			require.NoError(t, err)
			_, ok, err := again.Get(ctx, ids[3])
			require.NoError(t, err)
			assert.False(t, ok)
			_, ok, err = again.Get(ctx, ids[4])
			require.NoError(t, err)
			assert.True(t, ok)
		})
	}
}

func TestOpenStorageFromProviderConfig(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	pc := nodestore.ProviderConfig{Type: nodestore.ProviderDirectory, Directory: dir}
	provider, err := nodestore.OpenProvider(ctx, pc)
	require.NoError(t, err)
	store := nodestore.NewDiskStorage(provider, nodestore.WithProviderConfig(pc), nodestore.WithPrefix("roads"))
	id := nodestore.NewNodeID(7, true)
	require.NoError(t, store.Put(ctx, id, leafWith(7)))
	require.NoError(t, store.Close(ctx))

	props := store.Properties()
	assert.Equal(t, "roads", props.Prefix)
	reopened, err := nodestore.OpenStorage(ctx, props)
	require.NoError(t, err)
	node, ok, err := reopened.Get(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, [][]byte{{7}}, payloads(t, node))
}

func TestOpenStorageFromS3Config(t *testing.T) {
	ctx := context.Background()
	srv := minioutil.Start(t, "existing")
	pc := nodestore.ProviderConfig{
		Type:            nodestore.ProviderS3,
		Endpoint:        srv.Endpoint,
		Bucket:          "created",
		AccessKeyID:     srv.AccessKeyID,
		SecretAccessKey: srv.SecretAccessKey,
	}
	props := nodestore.PropertySet{Kind: nodestore.KindBufferedDisk, Provider: pc, Prefix: "parcels"}
	store, err := nodestore.OpenStorage(ctx, props)
	require.NoError(t, err)
	id := nodestore.NewNodeID(3, true)
	require.NoError(t, store.Put(ctx, id, leafWith(3)))
	require.NoError(t, store.Close(ctx))

	exists, err := srv.Client.BucketExists(ctx, "created")
	require.NoError(t, err)
	assert.True(t, exists)

	reopened, err := nodestore.OpenStorage(ctx, store.Properties())
	require.NoError(t, err)
	node, ok, err := reopened.Get(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, [][]byte{{3}}, payloads(t, node))
}

func TestParsePropertySet(t *testing.T) {
	cases := []struct {
		assertion string
		input     string
		ok        bool
	}{
		{"memory", `{"kind":"memory"}`, true},
		{"disk", `{"kind":"disk","provider":{"type":"directory","directory":"/tmp"},"prefix":"a"}`, true},
		{"unknown kind", `{"kind":"tape"}`, false},
		{"invalid json", `{"kind":`, false},
	}
	for _, c := range cases {
		t.Run(c.assertion, func(t *testing.T) {
			_, err := nodestore.ParsePropertySet([]byte(c.input))
			if c.ok {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
			}
		})
	}
}

func TestCorruptNodes(t *testing.T) {
	ctx := context.Background()
	provider := storage.NewMemStore()
	store := nodestore.NewDiskStorage(provider, nodestore.WithPrefix("p"), nodestore.WithCacheBytes(1))
	id := nodestore.NewNodeID(1, true)
	require.NoError(t, store.Put(ctx, id, leafWith(1)))

	data, err := provider.Get(ctx, "p/"+id.Object())
	require.NoError(t, err)
	data[3] ^= 0xff
	require.NoError(t, provider.Put(ctx, "p/"+id.Object(), data))

	_, _, err = store.Get(ctx, id)
	require.ErrorIs(t, err, nodestore.CorruptNodeError{})
	require.ErrorIs(t, err, nodestore.StorageError{})

	t.Run("node type must match id", func(t *testing.T) {
		innerID := nodestore.NewNodeID(1, false)
		require.NoError(t, store.Put(ctx, innerID, leafWith(1)))
		_, _, err := store.Get(ctx, innerID)
		require.ErrorIs(t, err, nodestore.CorruptNodeError{})
	})
}

type failingProvider struct {
	storage.Provider
	fail bool
}

var errMediumFailure = errors.New("medium failure")

func (f *failingProvider) Put(ctx context.Context, id string, data []byte) error {
	if f.fail {
		return errMediumFailure
	}
	return f.Provider.Put(ctx, id, data)
}

func (f *failingProvider) Get(ctx context.Context, id string) ([]byte, error) {
	if f.fail {
		return nil, errMediumFailure
	}
	return f.Provider.Get(ctx, id)
}

func (f *failingProvider) Delete(ctx context.Context, id string) error {
	if f.fail {
		return errMediumFailure
	}
	return f.Provider.Delete(ctx, id)
}

func TestStorageErrors(t *testing.T) {
	ctx := context.Background()
	provider := &failingProvider{Provider: storage.NewMemStore()}
	store := nodestore.NewDiskStorage(provider, nodestore.WithCacheBytes(1))
	id := nodestore.NewNodeID(1, true)
	require.NoError(t, store.Put(ctx, id, leafWith(1)))

	provider.fail = true
	t.Run("get", func(t *testing.T) {
		_, _, err := store.Get(ctx, id)
		var serr nodestore.StorageError
		require.ErrorAs(t, err, &serr)
		assert.Equal(t, "get", serr.Op)
		assert.Equal(t, id, serr.NodeID)
		assert.Equal(t, "memory", serr.Backend)
		require.ErrorIs(t, err, errMediumFailure)
		assert.Contains(t, err.Error(), "memory: failed to get node L1")
	})
	t.Run("put", func(t *testing.T) {
		require.ErrorIs(t, store.Put(ctx, id, leafWith(2)), errMediumFailure)
	})
	t.Run("remove", func(t *testing.T) {
		require.ErrorIs(t, store.Remove(ctx, id), nodestore.StorageError{})
	})
	t.Run("data survives a failed remove", func(t *testing.T) {
		provider.fail = false
		node, ok, err := store.Get(ctx, id)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, [][]byte{{1}}, payloads(t, node))
	})
	t.Run("closed storage", func(t *testing.T) {
		require.NoError(t, store.Close(ctx))
		_, _, err := store.Get(ctx, id)
		require.ErrorIs(t, err, nodestore.ErrStorageClosed)
	})
}

func TestBufferedDiskStorage(t *testing.T) {
	ctx := context.Background()
	provider := storage.NewMemStore()
	store := nodestore.NewBufferedDiskStorage(
		nodestore.NewDiskStorage(provider, nodestore.WithPrefix("b")),
		nodestore.WithBufferCapacity(3),
	)
	for i := uint64(0); i < 5; i++ {
		require.NoError(t, store.Put(ctx, nodestore.NewNodeID(i, true), leafWith(i)))
	}
	t.Run("oldest nodes are written when the buffer is full", func(t *testing.T) {
		assert.Equal(t, 3, store.Buffered())
		assert.Equal(t, 2, provider.Len())
		_, err := provider.Get(ctx, "b/"+nodestore.NewNodeID(0, true).Object())
		require.NoError(t, err)
		_, err = provider.Get(ctx, "b/"+nodestore.NewNodeID(4, true).Object())
		require.ErrorIs(t, err, storage.ErrObjectNotFound)
	})
	t.Run("buffered nodes are readable", func(t *testing.T) {
		node, ok, err := store.Get(ctx, nodestore.NewNodeID(4, true))
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, [][]byte{{4}}, payloads(t, node))
	})
	t.Run("removal drops buffered copies", func(t *testing.T) {
		require.NoError(t, store.Remove(ctx, nodestore.NewNodeID(4, true)))
		_, ok, err := store.Get(ctx, nodestore.NewNodeID(4, true))
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Equal(t, 2, store.Buffered())
	})
	t.Run("flush writes everything", func(t *testing.T) {
		require.NoError(t, store.Flush(ctx))
		assert.Equal(t, 0, store.Buffered())
		assert.Equal(t, 4, provider.Len())
	})
	t.Run("failed write-back keeps the node buffered", func(t *testing.T) {
		failing := &failingProvider{Provider: storage.NewMemStore()}
		buffered := nodestore.NewBufferedDiskStorage(nodestore.NewDiskStorage(failing), nodestore.WithBufferCapacity(1))
		require.NoError(t, buffered.Put(ctx, nodestore.NewNodeID(1, true), leafWith(1)))
		failing.fail = true
		require.ErrorIs(t, buffered.Put(ctx, nodestore.NewNodeID(2, true), leafWith(2)), errMediumFailure)
		assert.Equal(t, 2, buffered.Buffered())
		require.ErrorIs(t, buffered.Flush(ctx), errMediumFailure)
		failing.fail = false
		require.NoError(t, buffered.Flush(ctx))
		assert.Equal(t, 0, buffered.Buffered())
	})
}
