package coverage_test

import (
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wkalt/spatialcache/coverage"
	"github.com/wkalt/spatialcache/region"
)

func area(regions []region.Region) float64 {
	total := 0.0
	for _, r := range regions {
		total += r.Area()
	}
	return total
}

func TestMatch(t *testing.T) {
	cases := []struct {
		assertion  string
		registered []region.Region
		query      region.Region
		expected   []region.Region
	}{
		{
			"nothing registered",
			nil,
			region.Rect(0, 0, 10, 10),
			[]region.Region{region.Rect(0, 0, 10, 10)},
		},
		{
			"fully covered",
			[]region.Region{region.Rect(0, 0, 10, 10)},
			region.Rect(2, 2, 8, 8),
			[]region.Region{},
		},
		{
			"exactly covered",
			[]region.Region{region.Rect(0, 0, 10, 10)},
			region.Rect(0, 0, 10, 10),
			[]region.Region{},
		},
		{
			"disjoint",
			[]region.Region{region.Rect(20, 20, 30, 30)},
			region.Rect(0, 0, 10, 10),
			[]region.Region{region.Rect(0, 0, 10, 10)},
		},
		{
			"left half covered",
			[]region.Region{region.Rect(0, 0, 5, 10)},
			region.Rect(0, 0, 10, 10),
			[]region.Region{region.Rect(5, 0, 10, 10)},
		},
		{
			"covered by the union of two regions",
			[]region.Region{region.Rect(0, 0, 5, 10), region.Rect(5, 0, 10, 10)},
			region.Rect(0, 0, 10, 10),
			[]region.Region{},
		},
	}
	for _, c := range cases {
		t.Run(c.assertion, func(t *testing.T) {
			registry := coverage.NewRegistry()
			for _, r := range c.registered {
				registry.Register(r)
			}
			assert.Equal(t, c.expected, registry.Match(c.query))
			assert.Equal(t, len(c.expected) == 0, registry.Covers(c.query))
		})
	}
}

func TestMatchHole(t *testing.T) {
	registry := coverage.NewRegistry()
	registry.Register(region.Rect(0, 0, 10, 10))
	registry.Invalidate(region.Rect(4, 4, 6, 6))

	missing := registry.Match(region.Rect(0, 0, 10, 10))
	require.NotEmpty(t, missing)
	assert.InDelta(t, 4.0, area(missing), 1e-9)
	for _, piece := range missing {
		assert.True(t, region.Rect(4, 4, 6, 6).Contains(piece))
	}
	assert.Empty(t, registry.Match(region.Rect(0, 0, 3, 3)))
}

func TestRegisterRoundTrip(t *testing.T) {
	registry := coverage.NewRegistry()
	q := region.Rect(-3, 7, 12, 40)
	require.Len(t, registry.Match(q), 1)
	registry.Register(q)
	assert.Empty(t, registry.Match(q))
}

func TestRegisterCollapsesContainedRegions(t *testing.T) {
	registry := coverage.NewRegistry()
	registry.Register(region.Rect(1, 1, 2, 2))
	registry.Register(region.Rect(3, 3, 4, 4))
	assert.Equal(t, 2, registry.Len())

	registry.Register(region.Rect(0, 0, 10, 10))
	assert.Equal(t, []region.Region{region.Rect(0, 0, 10, 10)}, registry.Regions())

	registry.Register(region.Rect(5, 5, 6, 6))
	assert.Equal(t, 1, registry.Len())

	registry.Register(region.Region{})
	assert.Equal(t, 1, registry.Len())
}

func TestInvalidate(t *testing.T) {
	cases := []struct {
		assertion    string
		registered   []region.Region
		invalidated  region.Region
		expectedArea float64
	}{
		{"disjoint bounds change nothing", []region.Region{region.Rect(0, 0, 10, 10)}, region.Rect(20, 20, 30, 30), 100},
		{"covering bounds remove the region", []region.Region{region.Rect(2, 2, 4, 4)}, region.Rect(0, 0, 10, 10), 0},
		{"partial overlap", []region.Region{region.Rect(0, 0, 10, 10)}, region.Rect(5, -5, 15, 15), 50},
		{"empty bounds", []region.Region{region.Rect(0, 0, 10, 10)}, region.Region{}, 100},
	}
	for _, c := range cases {
		t.Run(c.assertion, func(t *testing.T) {
			registry := coverage.NewRegistry()
			for _, r := range c.registered {
				registry.Register(r)
			}
			registry.Invalidate(c.invalidated)
			assert.InDelta(t, c.expectedArea, area(registry.Regions()), 1e-9)
			if !c.invalidated.IsEmpty() {
				for _, r := range registry.Regions() {
					if overlap, ok := r.Intersection(c.invalidated); ok {
						assert.Zero(t, overlap.Area())
					}
				}
			}
		})
	}
}

func TestInvalidateFlatBounds(t *testing.T) {
	cases := []struct {
		assertion string
		bounds    region.Region
		point     region.Region
	}{
		{"points on a line", region.Rect(0.05, 0.5, 0.95, 0.5), region.Point(0.5, 0.5)},
		{"single point", region.Point(0.25, 0.75), region.Point(0.25, 0.75)},
		{"on the registered boundary", region.Rect(1, 0.2, 1, 0.4), region.Point(1, 0.3)},
	}
	for _, c := range cases {
		t.Run(c.assertion, func(t *testing.T) {
			registry := coverage.NewRegistry()
			registry.Register(region.Rect(0, 0, 1, 1))
			registry.Invalidate(c.bounds)
			assert.NotEmpty(t, registry.Match(region.Rect(0, 0, 1, 1)))
			assert.NotEmpty(t, registry.Match(c.point))
			for _, r := range registry.Regions() {
				assert.False(t, r.Intersects(c.point), "%s still covers %s", r, c.point)
			}
		})
	}
}

func TestClearAndBounds(t *testing.T) {
	registry := coverage.NewRegistry()
	assert.True(t, registry.Bounds().IsEmpty())
	registry.Register(region.Rect(0, 0, 1, 1))
	registry.Register(region.Rect(5, 5, 6, 7))
	assert.Equal(t, region.Rect(0, 0, 6, 7), registry.Bounds())

	registry.Clear()
	assert.Equal(t, 0, registry.Len())
	assert.Len(t, registry.Match(region.Rect(0, 0, 1, 1)), 1)
}

func TestJSON(t *testing.T) {
	registry := coverage.NewRegistry()
	registry.Register(region.Rect(0, 0, 1, 1))
	registry.Register(region.Rect(5, 5, 6, 7))
	data, err := json.Marshal(registry)
	require.NoError(t, err)

	decoded := coverage.NewRegistry()
	require.NoError(t, json.Unmarshal(data, decoded))
	assert.Equal(t, registry.Regions(), decoded.Regions())

	t.Run("invalid region", func(t *testing.T) {
		err := coverage.NewRegistry().UnmarshalJSON([]byte(`[{"low":[1,1],"high":[0,0]}]`))
		require.ErrorIs(t, err, region.ErrInvalidRegion)
	})
}
