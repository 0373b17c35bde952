package filter

import (
	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

/*
This file contains a participle grammar for the spatial subset of ECQL that
the cache understands:

	BBOX([attribute,] minx, miny, maxx, maxy)
	INTERSECTS([attribute,] ENVELOPE(minx, maxx, maxy, miny))
	WITHIN([attribute,] ENVELOPE(minx, maxx, maxy, miny))
	INCLUDE

combined with AND, OR and parentheses. Keywords are case insensitive.
ENVELOPE takes its arguments in ECQL order: west, east, north, south.
*/

////////////////////////////////////////////////////////////////////////////////

var (
	Options = []participle.Option{ // nolint:gochecknoglobals
		participle.Lexer(
			lexer.MustSimple([]lexer.SimpleRule{
				{Name: "Word", Pattern: `[a-zA-Z_][a-zA-Z0-9_\.]*`},
				{Name: "Number", Pattern: `[-+]?(\d+\.?\d*|\.\d+)([eE][-+]?\d+)?`},
				{Name: "Punct", Pattern: `[(),]`},
				{Name: "whitespace", Pattern: `\s+`},
			}),
		),
		participle.CaseInsensitive("Word"),
		participle.UseLookahead(3),
	}
)

// Filter is the root of a parsed filter.
type Filter struct {
	Expression *Expression `@@`
}

// Expression is a disjunction of conjunctions.
type Expression struct {
	Or []*Conjunction `@@ ( "OR" @@ )*`
}

// Conjunction is a list of terms joined by AND.
type Conjunction struct {
	And []*Term `@@ ( "AND" @@ )*`
}

// Term is a single predicate or a parenthesized expression.
type Term struct {
	Subexpression *Expression `  "(" @@ ")"`
	Include       bool        `| @"INCLUDE"`
	BBox          *BBox       `| @@`
	Spatial       *Spatial    `| @@`
}

// BBox is the BBOX predicate.
type BBox struct {
	Attribute string  `"BBOX" "(" ( @Word "," )?`
	MinX      float64 `@Number ","`
	MinY      float64 `@Number ","`
	MaxX      float64 `@Number ","`
	MaxY      float64 `@Number ")"`
}

// Spatial is an INTERSECTS or WITHIN predicate against an envelope.
type Spatial struct {
	Op        string   `@( "INTERSECTS" | "WITHIN" ) "("`
	Attribute string   `( @Word "," )?`
	Envelope  Envelope `@@ ")"`
}

// Envelope is an ECQL envelope literal.
type Envelope struct {
	West  float64 `"ENVELOPE" "(" @Number ","`
	East  float64 `@Number ","`
	North float64 `@Number ","`
	South float64 `@Number ")"`
}

// NewParser returns a new filter parser.
func NewParser() *participle.Parser[Filter] {
	return participle.MustBuild[Filter](Options...)
}
