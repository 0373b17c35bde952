package filter

import (
	"fmt"
	"strings"

	"github.com/wkalt/spatialcache/region"
)

// Query is a parsed filter together with its spatial extent.
type Query struct {
	// Regions are the extent of the filter: every feature the filter matches
	// intersects at least one of them. It is empty when the filter matches
	// nothing or everything.
	Regions []region.Region
	// Contained is set when every matching feature lies within one of
	// Regions rather than only intersecting it.
	Contained bool
	// Everything is set for filters that do not restrict space.
	Everything bool

	expr *Expression
}

// Nothing reports whether the filter cannot match any feature.
func (q Query) Nothing() bool {
	return !q.Everything && len(q.Regions) == 0
}

// Bounds returns the bounding region of the filter's extent.
func (q Query) Bounds() region.Region {
	return region.Bounds(q.Regions...)
}

// Matches reports whether a feature with the supplied bounds satisfies the
// filter.
func (q Query) Matches(bounds region.Region) bool {
	if q.Nothing() {
		return false
	}
	if q.expr == nil {
		return q.Everything
	}
	return q.expr.matches(bounds)
}

func (q Query) String() string {
	switch {
	case q.Everything:
		return "everything"
	case q.Nothing():
		return "nothing"
	}
	parts := make([]string, len(q.Regions))
	for i, r := range q.Regions {
		parts[i] = r.String()
	}
	if q.Contained {
		return "within " + strings.Join(parts, " ")
	}
	return "intersecting " + strings.Join(parts, " ")
}

// ParseError is returned for filters that cannot be parsed.
type ParseError struct {
	Filter string
	Err    error
}

func (e ParseError) Error() string {
	return fmt.Sprintf("failed to parse filter %q: %s", e.Filter, e.Err)
}

func (e ParseError) Unwrap() error {
	return e.Err
}

// Is returns true if the target error is a ParseError.
func (e ParseError) Is(target error) bool {
	_, ok := target.(ParseError)
	return ok
}

var parser = NewParser() // nolint:gochecknoglobals

// Parse parses a filter and computes its extent. Features are matched
// against the filter itself, so the extent only needs to bound the matches:
// an OR keeps the extent of each of its terms, and an AND narrows to the
// intersection of its WITHIN terms with its smallest other term.
func Parse(text string) (Query, error) {
	if strings.TrimSpace(text) == "" {
		return Query{Everything: true}, nil
	}
	ast, err := parser.ParseString("", text)
	if err != nil {
		return Query{}, ParseError{Filter: text, Err: err}
	}
	ext, err := ast.Expression.extent()
	if err != nil {
		return Query{}, ParseError{Filter: text, Err: err}
	}
	if ext.everything {
		return Query{Everything: true, expr: ast.Expression}, nil
	}
	if len(ext.regions) == 0 {
		return Query{}, nil
	}
	return Query{Regions: ext.regions, Contained: ext.within, expr: ast.Expression}, nil
}

// extent is the space a subexpression's matches lie in. Every match
// intersects one of regions, and lies within one of them if within is set.
type extent struct {
	regions    []region.Region
	within     bool
	everything bool
}

func (e extent) nothing() bool {
	return !e.everything && len(e.regions) == 0
}

func (e *Expression) extent() (extent, error) {
	out := extent{within: true}
	for _, c := range e.Or {
		ext, err := c.extent()
		if err != nil {
			return extent{}, err
		}
		switch {
		case ext.everything:
			out.everything = true
		case ext.nothing():
		default:
			out.regions = append(out.regions, ext.regions...)
			out.within = out.within && ext.within
		}
	}
	if out.everything {
		return extent{everything: true}, nil
	}
	if len(out.regions) == 0 {
		return extent{}, nil
	}
	out.regions = dropContained(out.regions)
	return out, nil
}

func (c *Conjunction) extent() (extent, error) {
	var within []extent
	var smallest *extent
	smallestArea := 0.0
	for _, term := range c.And {
		ext, err := term.extent()
		if err != nil {
			return extent{}, err
		}
		switch {
		case ext.everything:
		case ext.nothing():
			return extent{}, nil
		case ext.within:
			within = append(within, ext)
		default:
			if a := area(ext.regions); smallest == nil || a < smallestArea {
				smallest, smallestArea = &ext, a
			}
		}
	}
	switch {
	case len(within) == 0 && smallest == nil:
		return extent{everything: true}, nil
	case len(within) == 0:
		return *smallest, nil
	}

	// A match lies within one region of every WITHIN term, so within their
	// pairwise intersections. If it must also intersect another term, it
	// intersects that term's overlap with them.
	regions := within[0].regions
	for _, ext := range within[1:] {
		regions = intersections(regions, ext.regions)
	}
	if smallest == nil {
		if len(regions) == 0 {
			return extent{}, nil
		}
		return extent{regions: dropContained(regions), within: true}, nil
	}
	regions = intersections(regions, smallest.regions)
	if len(regions) == 0 {
		return extent{}, nil
	}
	return extent{regions: dropContained(regions)}, nil
}

// intersections returns the non-empty overlaps of every region of a with
// every region of b.
func intersections(a, b []region.Region) []region.Region {
	out := []region.Region{}
	for _, x := range a {
		for _, y := range b {
			if overlap, ok := x.Intersection(y); ok {
				out = append(out, overlap)
			}
		}
	}
	return out
}

func (t *Term) extent() (extent, error) {
	switch {
	case t.Subexpression != nil:
		return t.Subexpression.extent()
	case t.Include:
		return extent{everything: true}, nil
	}
	r, within, err := t.region()
	if err != nil {
		return extent{}, err
	}
	return extent{regions: []region.Region{r}, within: within}, nil
}

// region returns the region of a BBOX, INTERSECTS or WITHIN term and whether
// matches must lie within it.
func (t *Term) region() (region.Region, bool, error) {
	switch {
	case t.BBox != nil:
		b := t.BBox
		r, err := region.New([]float64{b.MinX, b.MinY}, []float64{b.MaxX, b.MaxY})
		return r, false, err
	case t.Spatial != nil:
		e := t.Spatial.Envelope
		r, err := region.New([]float64{e.West, e.South}, []float64{e.East, e.North})
		return r, strings.EqualFold(t.Spatial.Op, "WITHIN"), err
	default:
		return region.Region{}, false, fmt.Errorf("empty term")
	}
}

func (e *Expression) matches(bounds region.Region) bool {
	for _, c := range e.Or {
		if c.matches(bounds) {
			return true
		}
	}
	return false
}

func (c *Conjunction) matches(bounds region.Region) bool {
	for _, t := range c.And {
		if !t.matches(bounds) {
			return false
		}
	}
	return true
}

func (t *Term) matches(bounds region.Region) bool {
	switch {
	case t.Subexpression != nil:
		return t.Subexpression.matches(bounds)
	case t.Include:
		return true
	}
	r, within, err := t.region()
	if err != nil {
		return false
	}
	if within {
		return r.Contains(bounds)
	}
	return r.Intersects(bounds)
}

func area(regions []region.Region) float64 {
	total := 0.0
	for _, r := range regions {
		total += r.Area()
	}
	return total
}

// dropContained removes regions contained by another region of the list.
// Of identical regions the first is kept.
func dropContained(regions []region.Region) []region.Region {
	out := make([]region.Region, 0, len(regions))
	for i, r := range regions {
		contained := false
		for j, o := range regions {
			if i != j && o.Contains(r) && (!r.Contains(o) || j < i) {
				contained = true
				break
			}
		}
		if !contained {
			out = append(out, r)
		}
	}
	return out
}
