package source_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wkalt/spatialcache/feature"
	"github.com/wkalt/spatialcache/region"
	"github.com/wkalt/spatialcache/source"
	"github.com/wkalt/spatialcache/util/testutils"
)

const collection = `{"type":"FeatureCollection","features":[
	{"type":"Feature","id":"a","geometry":{"type":"Point","coordinates":[1,1]}},
	{"type":"Feature","id":"b","geometry":{"type":"Point","coordinates":[5,5]}}
]}`

func ids(features []feature.Feature) []string {
	out := []string{}
	for _, f := range features {
		out = append(out, f.ID)
	}
	return out
}

func TestMemory(t *testing.T) {
	ctx := context.Background()
	src := source.NewMemory(
		feature.New("a", region.Rect(0, 0, 1, 1), nil),
		feature.New("b", region.Rect(5, 5, 6, 6), nil),
	)
	cases := []struct {
		assertion string
		query     region.Region
		expected  []string
	}{
		{"everything", region.Rect(-10, -10, 10, 10), []string{"a", "b"}},
		{"one", region.Rect(0.5, 0.5, 2, 2), []string{"a"}},
		{"touching boundary", region.Rect(1, 1, 2, 2), []string{"a"}},
		{"none", region.Rect(2, 2, 3, 3), []string{}},
	}
	for _, c := range cases {
		t.Run(c.assertion, func(t *testing.T) {
			features, err := src.Fetch(ctx, c.query)
			require.NoError(t, err)
			assert.Equal(t, c.expected, ids(features))
		})
	}
	assert.Equal(t, len(cases), src.Fetches())
	assert.Equal(t, 2, src.Len())

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	_, err := src.Fetch(canceled, region.Rect(0, 0, 1, 1))
	require.ErrorIs(t, err, context.Canceled)
}

func TestLoadGeoJSON(t *testing.T) {
	ctx := context.Background()
	path := testutils.WriteFile(t, "nested/features.geojson", []byte(collection))
	dir := filepath.Dir(filepath.Dir(path))

	src, err := source.LoadGeoJSON(filepath.Join(dir, "**", "*.geojson"))
	require.NoError(t, err)
	assert.Equal(t, 2, src.Len())
	features, err := src.Fetch(ctx, region.Rect(4, 4, 6, 6))
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, ids(features))

	t.Run("no matches", func(t *testing.T) {
		_, err := source.LoadGeoJSON(filepath.Join(dir, "*.missing"))
		require.Error(t, err)
	})
	t.Run("invalid file", func(t *testing.T) {
		bad := testutils.WriteFile(t, "bad.geojson", []byte(`{"type":"Feature"}`))
		_, err := source.LoadGeoJSON(bad)
		require.ErrorIs(t, err, feature.ErrInvalidFeature)
	})
}

func TestHTTP(t *testing.T) {
	ctx := context.Background()
	var bbox string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		bbox = r.URL.Query().Get("bbox")
		if bbox == "0,0,0,0" {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(collection))
	}))
	defer srv.Close()

	src := source.NewHTTP(srv.URL+"/features?layer=roads", nil)
	features, err := src.Fetch(ctx, region.Rect(0, 0, 10, 10.5))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids(features))
	assert.Equal(t, "0,0,10,10.5", bbox)

	_, err = src.Fetch(ctx, region.Rect(0, 0, 0, 0))
	require.ErrorContains(t, err, "boom")

	_, err = src.Fetch(ctx, region.Point(1, 2, 3))
	require.Error(t, err)
}

func TestFunc(t *testing.T) {
	called := false
	src := source.Func(func(context.Context, region.Region) ([]feature.Feature, error) {
		called = true
		return nil, nil
	})
	_, err := src.Fetch(context.Background(), region.Rect(0, 0, 1, 1))
	require.NoError(t, err)
	assert.True(t, called)
}
