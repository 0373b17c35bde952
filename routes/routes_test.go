package routes_test

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wkalt/spatialcache/cache"
	"github.com/wkalt/spatialcache/feature"
	"github.com/wkalt/spatialcache/nodestore"
	"github.com/wkalt/spatialcache/region"
	"github.com/wkalt/spatialcache/rootmap"
	"github.com/wkalt/spatialcache/routes"
	"github.com/wkalt/spatialcache/source"
	"github.com/wkalt/spatialcache/tree"
)

// pointCollection returns a GeoJSON collection with one point per unit cell
// of [0, n) x [0, n).
func pointCollection(n int) string {
	parts := []string{}
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			parts = append(parts, fmt.Sprintf(
				`{"type":"Feature","id":"%d-%d","geometry":{"type":"Point","coordinates":[%g,%g]},"properties":{}}`,
				i, j, float64(i)+0.5, float64(j)+0.5,
			))
		}
	}
	return `{"type":"FeatureCollection","features":[` + strings.Join(parts, ",") + `]}`
}

func newServer(t *testing.T, opts ...cache.Option) (string, *cache.Cache) {
	t.Helper()
	ctx := context.Background()
	features, err := feature.Decode([]byte(pointCollection(10)))
	require.NoError(t, err)
	tr, err := tree.New(ctx, nodestore.NewMemoryStorage(), 2)
	require.NoError(t, err)
	opts = append([]cache.Option{cache.WithSource(source.NewMemory(features...))}, opts...)
	c, err := cache.New(ctx, tr, opts...)
	require.NoError(t, err)
	url, finish := routes.MakeTestRoutes(t, c)
	t.Cleanup(finish)
	return url, c
}

func do(t *testing.T, method, url string, body []byte) (int, []byte) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), method, url, bytes.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, data
}

func featureIDs(t *testing.T, body []byte) []string {
	t.Helper()
	collection := struct {
		Type     string `json:"type"`
		Features []struct {
			ID string `json:"id"`
		} `json:"features"`
	}{}
	require.NoError(t, json.Unmarshal(body, &collection))
	require.Equal(t, "FeatureCollection", collection.Type)
	ids := []string{}
	for _, f := range collection.Features {
		ids = append(ids, f.ID)
	}
	slices.Sort(ids)
	return ids
}

func TestGetFeaturesHandler(t *testing.T) {
	url, _ := newServer(t)
	cases := []struct {
		assertion string
		query     string

		expectedResponseCode int
		expectedCount        int
		expectedMessage      string
	}{
		{"bbox", "bbox=0,0,2,2", http.StatusOK, 4, ""},
		{"filter", "filter=BBOX(0,0,1,3)", http.StatusOK, 3, ""},
		{"bbox and filter", "bbox=0,0,5,5&filter=WITHIN(ENVELOPE(4,10,10,4))", http.StatusOK, 1, ""},
		{"everything cached", "", http.StatusOK, 6, ""},
		{"malformed bbox", "bbox=0,0,1", http.StatusBadRequest, 0, "four comma-separated values"},
		{"inverted bbox", "bbox=1,1,0,0", http.StatusBadRequest, 0, "invalid bbox"},
		{"malformed filter", "filter=BBOX(", http.StatusBadRequest, 0, "failed to parse filter"},
	}
	for _, c := range cases {
		t.Run(c.assertion, func(t *testing.T) {
			code, body := do(t, http.MethodGet, url+"/features?"+c.query, nil)
			require.Equal(t, c.expectedResponseCode, code, string(body))
			if code != http.StatusOK {
				require.Contains(t, string(body), c.expectedMessage)
				return
			}
			assert.Len(t, featureIDs(t, body), c.expectedCount)
		})
	}
}

func TestGetFeaturesOversize(t *testing.T) {
	url, c := newServer(t, cache.WithCapacity(10))
	code, body := do(t, http.MethodGet, url+"/features?bbox=0,0,10,10", nil)
	require.Equal(t, http.StatusRequestEntityTooLarge, code)
	assert.Contains(t, string(body), "exceed cache capacity of 10")
	assert.Contains(t, string(body), "Raise the cache capacity")
	assert.Equal(t, 0, c.Count())
}

func TestPutFeaturesHandler(t *testing.T) {
	url, c := newServer(t, cache.WithCapacity(50))
	cases := []struct {
		assertion string
		query     string
		body      string

		expectedResponseCode int
		expectedMessage      string
	}{
		{"valid", "", pointCollection(2), http.StatusOK, `"inserted":4`},
		{"valid with register", "?register=0,0,2,2", pointCollection(2), http.StatusOK, `"registered":true`},
		{"invalid geojson", "", `{"type":"Point"}`, http.StatusBadRequest, "unsupported GeoJSON type"},
		{"invalid register", "?register=a,b,c,d", pointCollection(1), http.StatusBadRequest, "invalid register"},
		{"oversize", "", pointCollection(8), http.StatusRequestEntityTooLarge, "64 features exceed"},
	}
	for _, tc := range cases {
		t.Run(tc.assertion, func(t *testing.T) {
			code, body := do(t, http.MethodPost, url+"/features"+tc.query, []byte(tc.body))
			require.Equal(t, tc.expectedResponseCode, code, string(body))
			require.Contains(t, string(body), tc.expectedMessage)
		})
	}
	assert.Equal(t, 8, c.Count())
	assert.Empty(t, c.Match(region.Rect(0, 0, 2, 2)))
}

func TestPutWithRegisterThatEvicts(t *testing.T) {
	url, c := newServer(t, cache.WithCapacity(6))
	code, body := do(t, http.MethodPost, url+"/features", []byte(pointCollection(2)))
	require.Equal(t, http.StatusOK, code, string(body))

	code, body = do(t, http.MethodPost, url+"/features?register=0,0,2,2", []byte(pointCollection(2)))
	require.Equal(t, http.StatusOK, code, string(body))
	assert.LessOrEqual(t, c.Count(), 6)
	assert.NotEmpty(t, c.Match(region.Rect(0, 0, 2, 2)))

	t.Run("register must fit the cache", func(t *testing.T) {
		ctx := context.Background()
		tr, err := tree.New(ctx, nodestore.NewMemoryStorage(), 3)
		require.NoError(t, err)
		c3, err := cache.New(ctx, tr)
		require.NoError(t, err)
		url3, finish := routes.MakeTestRoutes(t, c3)
		defer finish()
		code, body := do(t, http.MethodPost, url3+"/features?register=0,0,1,1", []byte(`{"type":"FeatureCollection","features":[]}`))
		require.Equal(t, http.StatusBadRequest, code, string(body))
		assert.Contains(t, string(body), "invalid region")
	})
}

func TestMatchAndRegisterHandlers(t *testing.T) {
	url, c := newServer(t)
	missing := func(t *testing.T, bbox string) []region.Region {
		t.Helper()
		code, body := do(t, http.MethodGet, url+"/match?bbox="+bbox, nil)
		require.Equal(t, http.StatusOK, code, string(body))
		resp := routes.MatchResponse{}
		require.NoError(t, json.Unmarshal(body, &resp))
		return resp.Missing
	}
	assert.Equal(t, []region.Region{region.Rect(0, 0, 1, 1)}, missing(t, "0,0,1,1"))

	code, body := do(t, http.MethodPost, url+"/register", []byte(`{"low":[0,0],"high":[1,1]}`))
	require.Equal(t, http.StatusOK, code, string(body))
	assert.Empty(t, missing(t, "0,0,1,1"))
	assert.Len(t, c.Coverage(), 1)

	t.Run("errors", func(t *testing.T) {
		code, _ := do(t, http.MethodGet, url+"/match", nil)
		assert.Equal(t, http.StatusBadRequest, code)
		code, _ = do(t, http.MethodPost, url+"/register", []byte(`{"low":[0,0,0],"high":[1,1,1]}`))
		assert.Equal(t, http.StatusBadRequest, code)
		code, _ = do(t, http.MethodPost, url+"/register", []byte(`not json`))
		assert.Equal(t, http.StatusBadRequest, code)
	})
}

func TestStatusHandlers(t *testing.T) {
	url, c := newServer(t)
	code, body := do(t, http.MethodGet, url+"/features?bbox=0,0,4,4", nil)
	require.Equal(t, http.StatusOK, code, string(body))

	t.Run("bounds", func(t *testing.T) {
		code, body := do(t, http.MethodGet, url+"/bounds", nil)
		require.Equal(t, http.StatusOK, code)
		bounds := region.Region{}
		require.NoError(t, json.Unmarshal(body, &bounds))
		assert.Equal(t, region.Rect(0, 0, 4, 4), bounds)
	})
	t.Run("stats", func(t *testing.T) {
		code, body := do(t, http.MethodGet, url+"/stats", nil)
		require.Equal(t, http.StatusOK, code)
		stats := cache.Stats{}
		require.NoError(t, json.Unmarshal(body, &stats))
		assert.Equal(t, 16, stats.Entries)
		assert.Equal(t, 16, stats.Tree.Data)
		assert.Equal(t, int64(1), stats.Misses)
	})
	t.Run("metrics", func(t *testing.T) {
		code, body := do(t, http.MethodGet, url+"/metrics", nil)
		require.Equal(t, http.StatusOK, code)
		assert.Contains(t, string(body), "spatialcache_misses_total 1")
		assert.Contains(t, string(body), "spatialcache_entries 16")
		assert.Contains(t, string(body), `spatialcache_request_duration_ms_count{method="GET",route="/features"}`)
	})
	t.Run("flush without rootmap", func(t *testing.T) {
		code, body := do(t, http.MethodPost, url+"/flush", nil)
		require.Equal(t, http.StatusBadRequest, code)
		assert.Contains(t, string(body), "not persistent")
	})
	t.Run("clear", func(t *testing.T) {
		code, _ := do(t, http.MethodPost, url+"/clear", nil)
		require.Equal(t, http.StatusOK, code)
		assert.Equal(t, 0, c.Count())
		assert.Empty(t, c.Coverage())
	})
}

func TestFlushHandler(t *testing.T) {
	ctx := context.Background()
	rm := rootmap.NewMemRootmap()
	url, _ := newServer(t, cache.WithRootmap(rm, "points"))
	code, body := do(t, http.MethodGet, url+"/features?bbox=0,0,2,2", nil)
	require.Equal(t, http.StatusOK, code, string(body))
	code, body = do(t, http.MethodPost, url+"/flush", nil)
	require.Equal(t, http.StatusOK, code, string(body))
	entry, err := rm.Get(ctx, "points")
	require.NoError(t, err)
	assert.Equal(t, []region.Region{region.Rect(0, 0, 2, 2)}, entry.Coverage)
}

func TestRequestIDAndCORS(t *testing.T) {
	url, _ := newServer(t)
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, url+"/bounds", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://example.com")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
	assert.Equal(t, "http://example.com", resp.Header.Get("Access-Control-Allow-Origin"))
}
