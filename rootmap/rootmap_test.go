package rootmap_test

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wkalt/spatialcache/nodestore"
	"github.com/wkalt/spatialcache/region"
	"github.com/wkalt/spatialcache/rootmap"
	"github.com/wkalt/spatialcache/tree"
)

func testEntry(name string, root uint64) rootmap.Entry {
	return rootmap.Entry{
		Name: name,
		Header: tree.Header{
			Root:     nodestore.NewNodeID(root, false),
			NextNode: root + 10,
			NextData: 1 << 40,
			Dims:     2,
			Fanout:   16,
		},
		Properties: nodestore.PropertySet{
			Kind:     nodestore.KindDisk,
			Provider: nodestore.ProviderConfig{Type: nodestore.ProviderDirectory, Directory: "/tmp/nodes"},
			Prefix:   "abc",
		},
		Coverage: []region.Region{region.Rect(0, 0, 10, 10), region.Rect(-5, 3, 1, 4)},
	}
}

func TestRootmaps(t *testing.T) {
	ctx := context.Background()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	defer db.Close()
	db.SetMaxOpenConns(1)

	cases := []struct {
		assertion string
		f         func(*testing.T) rootmap.Rootmap
	}{
		{
			"mem",
			func(t *testing.T) rootmap.Rootmap {
				t.Helper()
				return rootmap.NewMemRootmap()
			},
		},
		{
			"sql",
			func(t *testing.T) rootmap.Rootmap {
				t.Helper()
				rm, err := rootmap.NewSQLRootmap(db)
				require.NoError(t, err)
				return rm
			},
		},
	}
	for _, c := range cases {
		t.Run(c.assertion, func(t *testing.T) {
			rm := c.f(t)
			t.Run("put and get", func(t *testing.T) {
				expected := testEntry("parcels", 7)
				require.NoError(t, rm.Put(ctx, expected))
				actual, err := rm.Get(ctx, "parcels")
				require.NoError(t, err)
				assert.NotEmpty(t, actual.UpdatedAt)
				actual.UpdatedAt = ""
				assert.Equal(t, expected, actual)
			})
			t.Run("put replaces", func(t *testing.T) {
				updated := testEntry("parcels", 99)
				updated.Coverage = updated.Coverage[:1]
				require.NoError(t, rm.Put(ctx, updated))
				actual, err := rm.Get(ctx, "parcels")
				require.NoError(t, err)
				assert.Equal(t, updated.Header, actual.Header)
				assert.Equal(t, updated.Coverage, actual.Coverage)
			})
			t.Run("leaf root and high bit IDs survive", func(t *testing.T) {
				entry := testEntry("leafroot", 3)
				entry.Header.Root = nodestore.NewNodeID(3, true)
				require.NoError(t, rm.Put(ctx, entry))
				actual, err := rm.Get(ctx, "leafroot")
				require.NoError(t, err)
				assert.Equal(t, entry.Header.Root, actual.Header.Root)
				assert.True(t, actual.Header.Root.IsLeaf())
			})
			t.Run("empty coverage", func(t *testing.T) {
				entry := testEntry("empty", 1)
				entry.Coverage = nil
				require.NoError(t, rm.Put(ctx, entry))
				actual, err := rm.Get(ctx, "empty")
				require.NoError(t, err)
				assert.Empty(t, actual.Coverage)
			})
			t.Run("list", func(t *testing.T) {
				names, err := rm.List(ctx)
				require.NoError(t, err)
				assert.Equal(t, []string{"empty", "leafroot", "parcels"}, names)
			})
			t.Run("delete", func(t *testing.T) {
				require.NoError(t, rm.Delete(ctx, "empty"))
				require.NoError(t, rm.Delete(ctx, "empty"))
				_, err := rm.Get(ctx, "empty")
				require.ErrorIs(t, err, rootmap.EntryNotFoundError{})
			})
			t.Run("get entry that does not exist", func(t *testing.T) {
				_, err := rm.Get(ctx, "nonexistent")
				require.ErrorIs(t, err, rootmap.EntryNotFoundError{})
				assert.Contains(t, err.Error(), "nonexistent")
			})
		})
	}
}

func TestSQLRootmapReinitialize(t *testing.T) {
	ctx := context.Background()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	defer db.Close()
	db.SetMaxOpenConns(1)

	rm, err := rootmap.NewSQLRootmap(db)
	require.NoError(t, err)
	require.NoError(t, rm.Put(ctx, testEntry("parcels", 1)))

	reopened, err := rootmap.NewSQLRootmap(db)
	require.NoError(t, err)
	names, err := reopened.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"parcels"}, names)
}
