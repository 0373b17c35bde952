package eviction_test

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wkalt/spatialcache/eviction"
	"github.com/wkalt/spatialcache/nodestore"
	"github.com/wkalt/spatialcache/region"
	"github.com/wkalt/spatialcache/tree"
)

// fakeEvictor invalidates the identifiers it is asked to evict.
type fakeEvictor struct {
	evicted []nodestore.NodeID
	err     error
}

func (f *fakeEvictor) EvictNode(_ context.Context, ident *nodestore.Identifier) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	if !ident.IsValid() {
		return false, nil
	}
	f.evicted = append(f.evicted, ident.ID())
	ident.SetValid(false)
	return true, nil
}

func idents(store nodestore.Storage, n int) []*nodestore.Identifier {
	out := make([]*nodestore.Identifier, n)
	for i := range out {
		out[i] = nodestore.NewIdentifier(nodestore.NewNodeID(uint64(i+1), true), store, region.Region{})
	}
	return out
}

func TestLRUOrdering(t *testing.T) {
	ctx := context.Background()
	store := nodestore.NewMemoryStorage()
	cases := []struct {
		assertion string
		accesses  []int
		expected  []nodestore.NodeID
	}{
		{
			"insertion order",
			[]int{0, 1, 2},
			[]nodestore.NodeID{
				nodestore.NewNodeID(1, true),
				nodestore.NewNodeID(2, true),
				nodestore.NewNodeID(3, true),
			},
		},
		{
			"reaccess moves to the hot end",
			[]int{0, 1, 2, 0},
			[]nodestore.NodeID{
				nodestore.NewNodeID(2, true),
				nodestore.NewNodeID(3, true),
				nodestore.NewNodeID(1, true),
			},
		},
	}
	for _, c := range cases {
		t.Run(c.assertion, func(t *testing.T) {
			leaves := idents(store, 3)
			policy := eviction.NewLRU()
			for _, i := range c.accesses {
				policy.Access(leaves[i])
			}
			evictor := &fakeEvictor{}
			for {
				ok, err := policy.Evict(ctx, evictor)
				require.NoError(t, err)
				if !ok {
					break
				}
			}
			assert.Equal(t, c.expected, evictor.evicted)
			assert.Equal(t, 0, policy.Len())
		})
	}
}

func TestLRUSkipsLockedAndInvalid(t *testing.T) {
	ctx := context.Background()
	leaves := idents(nodestore.NewMemoryStorage(), 4)
	policy := eviction.NewLRU()
	for _, leaf := range leaves {
		policy.Access(leaf)
	}
	leaves[0].SetValid(false)
	leaves[1].WriteLock()
	defer leaves[1].WriteUnlock()

	evictor := &fakeEvictor{}
	ok, err := policy.Evict(ctx, evictor)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []nodestore.NodeID{leaves[2].ID()}, evictor.evicted)
	assert.False(t, leaves[2].IsLocked())
	assert.Equal(t, 2, policy.Len())

	ok, err = policy.Evict(ctx, evictor)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = policy.Evict(ctx, evictor)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.True(t, leaves[1].IsValid())
	assert.Equal(t, "["+leaves[1].ID().String()+"]", policy.String())
}

func TestLRUInvalidAccessIgnored(t *testing.T) {
	leaves := idents(nodestore.NewMemoryStorage(), 1)
	leaves[0].SetValid(false)
	policy := eviction.NewLRU()
	policy.Access(leaves[0])
	policy.Access(nil)
	assert.Equal(t, 0, policy.Len())
}

func TestLRUEvictorErrorsPropagate(t *testing.T) {
	ctx := context.Background()
	leaves := idents(nodestore.NewMemoryStorage(), 2)
	policy := eviction.NewLRU()
	for _, leaf := range leaves {
		policy.Access(leaf)
	}
	_, err := policy.Evict(ctx, &fakeEvictor{err: assert.AnError})
	require.ErrorIs(t, err, assert.AnError)
	assert.False(t, leaves[0].IsLocked())
	assert.True(t, leaves[0].IsValid())
	assert.Equal(t, 2, policy.Len())
}

func TestLRUWithTree(t *testing.T) {
	ctx := context.Background()
	policy := eviction.NewLRU()
	tr, err := tree.New(ctx, nodestore.NewMemoryStorage(), 2, tree.WithFanout(4), tree.WithObserver(policy))
	require.NoError(t, err)
	r := rand.New(rand.NewSource(1))
	for i := 0; i < 200; i++ {
		x, y := r.Float64()*100, r.Float64()*100
		_, err := tr.Insert(ctx, region.Rect(x, y, x+1, y+1), nil)
		require.NoError(t, err)
	}
	leaves := tr.Leaves()
	require.Equal(t, len(leaves), policy.Len())

	locked := leaves[:3]
	for _, leaf := range locked {
		leaf.WriteLock()
	}
	evictions := 0
	for {
		ok, err := policy.Evict(ctx, tr)
		require.NoError(t, err)
		if !ok {
			break
		}
		evictions++
	}
	assert.Equal(t, len(leaves)-len(locked), evictions)
	for _, leaf := range locked {
		assert.True(t, leaf.IsValid())
		leaf.WriteUnlock()
	}
	remaining := 0
	for _, leaf := range locked {
		remaining += len(leaf.Entries())
	}
	assert.Equal(t, remaining, tr.Count())
	assert.Equal(t, len(locked), policy.Len())

	require.NoError(t, tr.Clear(ctx))
	assert.Equal(t, 0, policy.Len())
}
