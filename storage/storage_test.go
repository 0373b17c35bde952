package storage_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/wkalt/spatialcache/storage"
	"github.com/wkalt/spatialcache/storage/minioutil"
)

func TestStorageProviders(t *testing.T) {
	ctx := context.Background()

	srv := minioutil.Start(t, "nodes")

	cases := []struct {
		assertion string
		store     storage.Provider
	}{
		{
			"s3 store",
			storage.NewS3Store(srv.Client, srv.Bucket),
		},
		{
			"memory store",
			storage.NewMemStore(),
		},
		{
			"directory store",
			storage.NewDirectoryStore(t.TempDir()),
		},
	}

	for _, c := range cases {
		t.Run(c.assertion, func(t *testing.T) {
			t.Run("put", func(t *testing.T) {
				require.NoError(t, c.store.Put(ctx, "test", []byte("hello")))
			})
			t.Run("get", func(t *testing.T) {
				require.NoError(t, c.store.Put(ctx, "test2", []byte("hello")))
				data, err := c.store.Get(ctx, "test2")
				require.NoError(t, err)
				require.Equal(t, []byte("hello"), data)
			})
			t.Run("overwrite", func(t *testing.T) {
				require.NoError(t, c.store.Put(ctx, "test5", []byte("hello")))
				require.NoError(t, c.store.Put(ctx, "test5", []byte("bye")))
				data, err := c.store.Get(ctx, "test5")
				require.NoError(t, err)
				require.Equal(t, []byte("bye"), data)
			})
			t.Run("nested keys", func(t *testing.T) {
				require.NoError(t, c.store.Put(ctx, "prefix/7", []byte("node")))
				data, err := c.store.Get(ctx, "prefix/7")
				require.NoError(t, err)
				require.Equal(t, []byte("node"), data)
			})
			t.Run("delete", func(t *testing.T) {
				require.NoError(t, c.store.Put(ctx, "test3", []byte("hello")))
				require.NoError(t, c.store.Delete(ctx, "test3"))
				_, err := c.store.Get(ctx, "test3")
				require.ErrorIs(t, err, storage.ErrObjectNotFound)
			})
			t.Run("get object that does not exist returns error", func(t *testing.T) {
				_, err := c.store.Get(ctx, "test4")
				require.ErrorIs(t, err, storage.ErrObjectNotFound)
			})
			t.Run("deleting object that does not exist returns no error", func(t *testing.T) {
				err := c.store.Delete(ctx, "test100")
				require.NoError(t, err)
			})
		})
	}
}
