package client_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wkalt/spatialcache/cache"
	"github.com/wkalt/spatialcache/client"
	"github.com/wkalt/spatialcache/feature"
	"github.com/wkalt/spatialcache/nodestore"
	"github.com/wkalt/spatialcache/region"
	"github.com/wkalt/spatialcache/routes"
	"github.com/wkalt/spatialcache/source"
	"github.com/wkalt/spatialcache/tree"
)

func point(id string, x, y float64) string {
	return fmt.Sprintf(
		`{"type":"Feature","id":"%s","geometry":{"type":"Point","coordinates":[%g,%g]},"properties":{}}`,
		id, x, y,
	)
}

func collection(features ...string) string {
	return `{"type":"FeatureCollection","features":[` + strings.Join(features, ",") + `]}`
}

func newClient(t *testing.T, opts ...cache.Option) (*client.Client, *cache.Cache) {
	t.Helper()
	ctx := context.Background()
	features, err := feature.Decode([]byte(collection(
		point("a", 0.5, 0.5), point("b", 1.5, 1.5), point("c", 5.5, 5.5),
	)))
	require.NoError(t, err)
	tr, err := tree.New(ctx, nodestore.NewMemoryStorage(), 2)
	require.NoError(t, err)
	opts = append([]cache.Option{cache.WithSource(source.NewMemory(features...))}, opts...)
	c, err := cache.New(ctx, tr, opts...)
	require.NoError(t, err)
	url, finish := routes.MakeTestRoutes(t, c)
	t.Cleanup(finish)
	return client.New(url, nil), c
}

func ids(features []feature.Feature) []string {
	out := []string{}
	for _, f := range features {
		out = append(out, f.ID)
	}
	slices.Sort(out)
	return out
}

func TestGetFeatures(t *testing.T) {
	ctx := context.Background()
	cl, _ := newClient(t)
	cases := []struct {
		assertion string
		filter    string
		expected  []string
	}{
		{"bbox", "BBOX(0,0,2,2)", []string{"a", "b"}},
		{"everything cached", "", []string{"a", "b"}},
		{"disjunction", "BBOX(0,0,1,1) OR BBOX(5,5,6,6)", []string{"a", "c"}},
	}
	for _, c := range cases {
		t.Run(c.assertion, func(t *testing.T) {
			features, err := cl.GetFeatures(ctx, c.filter)
			require.NoError(t, err)
			assert.Equal(t, c.expected, ids(features))
		})
	}
	t.Run("parse error", func(t *testing.T) {
		_, err := cl.GetFeatures(ctx, "BBOX(")
		require.ErrorIs(t, err, client.APIError{})
		apiErr := client.APIError{}
		require.True(t, errors.As(err, &apiErr))
		assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode())
	})
}

func TestOversizeDetail(t *testing.T) {
	cl, _ := newClient(t, cache.WithCapacity(2))
	_, err := cl.GetFeatures(context.Background(), "BBOX(0,0,10,10)")
	apiErr := client.APIError{}
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusRequestEntityTooLarge, apiErr.StatusCode())
	assert.Contains(t, apiErr.Error(), "exceed cache capacity of 2")
	assert.Contains(t, apiErr.Detail(), "Raise the cache capacity")
}

func TestPutAndCoverage(t *testing.T) {
	ctx := context.Background()
	cl, c := newClient(t)
	body := collection(point("x", 20.5, 20.5), point("y", 21.5, 21.5))
	register := region.Rect(20, 20, 22, 22)
	resp, err := cl.Put(ctx, strings.NewReader(body), &register)
	require.NoError(t, err)
	assert.Equal(t, routes.PutResponse{Inserted: 2, Registered: true}, resp)
	assert.Equal(t, 2, c.Count())

	missing, err := cl.Match(ctx, region.Rect(20, 20, 24, 22))
	require.NoError(t, err)
	assert.Equal(t, []region.Region{region.Rect(22, 20, 24, 22)}, missing)

	require.NoError(t, cl.Register(ctx, region.Rect(22, 20, 24, 22)))
	missing, err = cl.Match(ctx, region.Rect(20, 20, 24, 22))
	require.NoError(t, err)
	assert.Empty(t, missing)

	bounds, err := cl.Bounds(ctx)
	require.NoError(t, err)
	assert.Equal(t, region.Rect(20, 20, 24, 22), bounds)

	stats, err := cl.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Entries)
	assert.Equal(t, 2, stats.CoveredRegions)

	require.NoError(t, cl.Clear(ctx))
	assert.Equal(t, 0, c.Count())

	t.Run("three-dimensional regions are rejected", func(t *testing.T) {
		_, err := cl.Match(ctx, region.Region{Low: []float64{0, 0, 0}, High: []float64{1, 1, 1}})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "two-dimensional")
	})
}

func TestFlush(t *testing.T) {
	ctx := context.Background()
	t.Run("not persistent", func(t *testing.T) {
		cl, _ := newClient(t)
		err := cl.Flush(ctx)
		apiErr := client.APIError{}
		require.True(t, errors.As(err, &apiErr))
		assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode())
		assert.Contains(t, err.Error(), "not persistent")
	})
}

func TestNonJSONErrorResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gateway down", http.StatusBadGateway)
	}))
	defer srv.Close()
	_, err := client.New(srv.URL, nil).Stats(context.Background())
	apiErr := client.APIError{}
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode())
}
