package region

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

/*
Region is the spatial key of the cache: an axis-aligned box in N dimensions.
Regions are values. Operations never modify their receivers or arguments, so a
region held by the tree or the coverage registry can be shared freely between
goroutines.

Comparisons are plain floating point comparisons with no tolerance. Boxes are
closed, so two boxes that touch along an edge intersect.
*/

////////////////////////////////////////////////////////////////////////////////

// ErrInvalidRegion is returned when a region is constructed with mismatched
// bounds.
var ErrInvalidRegion = errors.New("invalid region")

// Region is an axis-aligned bounding box. The zero value is the empty region.
type Region struct {
	Low  []float64 `json:"low"`
	High []float64 `json:"high"`
}

// New constructs a region from low and high corners.
func New(low, high []float64) (Region, error) {
	if len(low) != len(high) {
		return Region{}, fmt.Errorf("%w: %d low coordinates but %d high", ErrInvalidRegion, len(low), len(high))
	}
	if len(low) == 0 {
		return Region{}, fmt.Errorf("%w: zero dimensions", ErrInvalidRegion)
	}
	for i := range low {
		if math.IsNaN(low[i]) || math.IsNaN(high[i]) {
			return Region{}, fmt.Errorf("%w: NaN coordinate in dimension %d", ErrInvalidRegion, i)
		}
		if low[i] > high[i] {
			return Region{}, fmt.Errorf("%w: low %v > high %v in dimension %d", ErrInvalidRegion, low[i], high[i], i)
		}
	}
	return Region{
		Low:  append([]float64(nil), low...),
		High: append([]float64(nil), high...),
	}, nil
}

// MustNew is like New but panics on invalid input. It is intended for tests
// and constants.
func MustNew(low, high []float64) Region {
	r, err := New(low, high)
	if err != nil {
		panic(err)
	}
	return r
}

// Rect returns a two-dimensional region. The corners may be supplied in any
// order.
func Rect(x0, y0, x1, y1 float64) Region {
	return Region{
		Low:  []float64{math.Min(x0, x1), math.Min(y0, y1)},
		High: []float64{math.Max(x0, x1), math.Max(y0, y1)},
	}
}

// Point returns a degenerate region at the supplied coordinates.
func Point(coords ...float64) Region {
	return Region{
		Low:  append([]float64(nil), coords...),
		High: append([]float64(nil), coords...),
	}
}

// Dim returns the number of dimensions of the region.
func (r Region) Dim() int {
	return len(r.Low)
}

// IsEmpty reports whether r is the empty region.
func (r Region) IsEmpty() bool {
	return len(r.Low) == 0
}

// Validate returns an error if r is not a well-formed region of dims
// dimensions.
func (r Region) Validate(dims int) error {
	if r.Dim() != dims || len(r.High) != dims {
		return fmt.Errorf("%w: expected %d dimensions, got %d", ErrInvalidRegion, dims, r.Dim())
	}
	_, err := New(r.Low, r.High)
	return err
}

// Intersects reports whether r and o share at least one point.
func (r Region) Intersects(o Region) bool {
	if r.Dim() != o.Dim() || r.IsEmpty() {
		return false
	}
	for i := range r.Low {
		if r.Low[i] > o.High[i] || r.High[i] < o.Low[i] {
			return false
		}
	}
	return true
}

// Contains reports whether o lies entirely within r.
func (r Region) Contains(o Region) bool {
	if r.Dim() != o.Dim() || r.IsEmpty() {
		return false
	}
	for i := range r.Low {
		if o.Low[i] < r.Low[i] || o.High[i] > r.High[i] {
			return false
		}
	}
	return true
}

// Combine returns the minimum bounding region of r and o. Combining with the
// empty region returns the other operand.
func (r Region) Combine(o Region) Region {
	if r.IsEmpty() {
		return o.Clone()
	}
	if o.IsEmpty() {
		return r.Clone()
	}
	out := Region{
		Low:  make([]float64, r.Dim()),
		High: make([]float64, r.Dim()),
	}
	for i := range r.Low {
		out.Low[i] = math.Min(r.Low[i], o.Low[i])
		out.High[i] = math.Max(r.High[i], o.High[i])
	}
	return out
}

// Intersection returns the overlap of r and o. The second return value is
// false if they do not intersect.
func (r Region) Intersection(o Region) (Region, bool) {
	if !r.Intersects(o) {
		return Region{}, false
	}
	out := Region{
		Low:  make([]float64, r.Dim()),
		High: make([]float64, r.Dim()),
	}
	for i := range r.Low {
		out.Low[i] = math.Max(r.Low[i], o.Low[i])
		out.High[i] = math.Min(r.High[i], o.High[i])
	}
	return out, true
}

// Area returns the N-dimensional volume of the region.
func (r Region) Area() float64 {
	if r.IsEmpty() {
		return 0
	}
	area := 1.0
	for i := range r.Low {
		area *= r.High[i] - r.Low[i]
	}
	return area
}

// Margin returns the sum of the edge lengths of the region.
func (r Region) Margin() float64 {
	var margin float64
	for i := range r.Low {
		margin += r.High[i] - r.Low[i]
	}
	return margin
}

// Enlargement returns how much the area of r would grow to accommodate o.
func (r Region) Enlargement(o Region) float64 {
	return r.Combine(o).Area() - r.Area()
}

// Equal reports whether r and o have identical bounds.
func (r Region) Equal(o Region) bool {
	if r.Dim() != o.Dim() {
		return false
	}
	for i := range r.Low {
		if r.Low[i] != o.Low[i] || r.High[i] != o.High[i] {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of r.
func (r Region) Clone() Region {
	if r.IsEmpty() {
		return Region{}
	}
	return Region{
		Low:  append([]float64(nil), r.Low...),
		High: append([]float64(nil), r.High...),
	}
}

// Widen returns r grown outward by the smallest representable step on every
// side, so that the closed bounds of r lie in the interior of the result.
func (r Region) Widen() Region {
	if r.IsEmpty() {
		return Region{}
	}
	out := r.Clone()
	for i := range out.Low {
		out.Low[i] = math.Nextafter(out.Low[i], math.Inf(-1))
		out.High[i] = math.Nextafter(out.High[i], math.Inf(1))
	}
	return out
}

// Subtract returns a set of regions covering the part of r not covered by o.
// The returned regions have disjoint interiors and share boundaries with o.
// Pieces that collapse to zero width along an axis on which r has positive
// width are dropped, since they carry no area that o leaves uncovered.
func (r Region) Subtract(o Region) []Region {
	if !r.Intersects(o) {
		return []Region{r.Clone()}
	}
	if o.Contains(r) {
		return nil
	}
	pieces := []Region{}
	rest := r.Clone()
	for i := range rest.Low {
		if rest.Low[i] < o.Low[i] {
			piece := rest.Clone()
			piece.High[i] = o.Low[i]
			pieces = append(pieces, piece)
			rest.Low[i] = o.Low[i]
		}
		if rest.High[i] > o.High[i] {
			piece := rest.Clone()
			piece.Low[i] = o.High[i]
			pieces = append(pieces, piece)
			rest.High[i] = o.High[i]
		}
	}
	out := pieces[:0]
	for _, piece := range pieces {
		if !sliver(r, piece) {
			out = append(out, piece)
		}
	}
	return out
}

// sliver reports whether piece has zero width along an axis where parent has
// positive width.
func sliver(parent, piece Region) bool {
	for i := range piece.Low {
		if piece.Low[i] == piece.High[i] && parent.Low[i] < parent.High[i] {
			return true
		}
	}
	return false
}

// String returns a string representation of the region.
func (r Region) String() string {
	if r.IsEmpty() {
		return "[]"
	}
	sb := &strings.Builder{}
	sb.WriteString("[")
	for i := range r.Low {
		if i > 0 {
			sb.WriteString(" ")
		}
		sb.WriteString(fmt.Sprintf("%g:%g", r.Low[i], r.High[i]))
	}
	sb.WriteString("]")
	return sb.String()
}

// Bounds returns the minimum bounding region of all supplied regions.
func Bounds(regions ...Region) Region {
	var out Region
	for _, r := range regions {
		out = out.Combine(r)
	}
	return out
}
