package feature

import (
	"bytes"
	"fmt"
	"math"

	"github.com/goccy/go-json"
	"github.com/wkalt/spatialcache/region"
)

type geoJSONObject struct {
	Type        string            `json:"type"`
	ID          json.RawMessage   `json:"id,omitempty"`
	BBox        []float64         `json:"bbox,omitempty"`
	Geometry    json.RawMessage   `json:"geometry,omitempty"`
	Features    []json.RawMessage `json:"features,omitempty"`
	Coordinates json.RawMessage   `json:"coordinates,omitempty"`
	Geometries  []json.RawMessage `json:"geometries,omitempty"`
}

// FeatureCollection is the GeoJSON document returned for a set of features.
type FeatureCollection struct {
	Type     string    `json:"type"`
	Features []Feature `json:"features"`
}

// NewFeatureCollection wraps features in a GeoJSON FeatureCollection.
func NewFeatureCollection(features []Feature) FeatureCollection {
	if features == nil {
		features = []Feature{}
	}
	return FeatureCollection{Type: "FeatureCollection", Features: features}
}

// Decode decodes a GeoJSON FeatureCollection, a single Feature or a JSON
// array of Features. Each feature's data is its original JSON text.
func Decode(data []byte) ([]Feature, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		raw := []json.RawMessage{}
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidFeature, err)
		}
		return decodeFeatures(raw)
	}
	obj := geoJSONObject{}
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidFeature, err)
	}
	switch obj.Type {
	case "FeatureCollection":
		return decodeFeatures(obj.Features)
	case "Feature":
		f, err := DecodeFeature(trimmed)
		if err != nil {
			return nil, err
		}
		return []Feature{f}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported GeoJSON type %q", ErrInvalidFeature, obj.Type)
	}
}

func decodeFeatures(raw []json.RawMessage) ([]Feature, error) {
	features := make([]Feature, 0, len(raw))
	for i, r := range raw {
		f, err := DecodeFeature(r)
		if err != nil {
			return nil, fmt.Errorf("feature %d: %w", i, err)
		}
		features = append(features, f)
	}
	return features, nil
}

// DecodeFeature decodes a single GeoJSON Feature. The envelope is taken from
// the feature's bbox member if present, otherwise computed from its geometry.
func DecodeFeature(data []byte) (Feature, error) {
	obj := geoJSONObject{}
	if err := json.Unmarshal(data, &obj); err != nil {
		return Feature{}, fmt.Errorf("%w: %w", ErrInvalidFeature, err)
	}
	if obj.Type != "Feature" {
		return Feature{}, fmt.Errorf("%w: expected a Feature, got %q", ErrInvalidFeature, obj.Type)
	}
	var bounds region.Region
	var err error
	if len(obj.BBox) > 0 {
		bounds, err = bboxRegion(obj.BBox)
	} else {
		bounds, err = Envelope(obj.Geometry)
	}
	if err != nil {
		return Feature{}, err
	}
	id, err := decodeID(obj.ID)
	if err != nil {
		return Feature{}, err
	}
	return New(id, bounds, append([]byte(nil), data...)), nil
}

// decodeID accepts the string or number forms GeoJSON allows for an ID.
func decodeID(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", fmt.Errorf("%w: bad id: %w", ErrInvalidFeature, err)
		}
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", fmt.Errorf("%w: id must be a string or number", ErrInvalidFeature)
	}
	return n.String(), nil
}

func bboxRegion(bbox []float64) (region.Region, error) {
	if len(bbox) == 0 || len(bbox)%2 != 0 {
		return region.Region{}, fmt.Errorf("%w: bbox has %d values", ErrInvalidFeature, len(bbox))
	}
	dims := len(bbox) / 2
	r, err := region.New(bbox[:dims], bbox[dims:])
	if err != nil {
		return region.Region{}, fmt.Errorf("%w: %w", ErrInvalidFeature, err)
	}
	return r, nil
}

// Envelope computes the two-dimensional bounding region of a GeoJSON
// geometry. Any coordinates beyond the second of a position are ignored.
func Envelope(geometry json.RawMessage) (region.Region, error) {
	if len(geometry) == 0 || string(geometry) == "null" {
		return region.Region{}, fmt.Errorf("%w: missing geometry", ErrInvalidFeature)
	}
	obj := geoJSONObject{}
	if err := json.Unmarshal(geometry, &obj); err != nil {
		return region.Region{}, fmt.Errorf("%w: %w", ErrInvalidFeature, err)
	}
	if obj.Type == "GeometryCollection" {
		var bounds region.Region
		for _, g := range obj.Geometries {
			r, err := Envelope(g)
			if err != nil {
				return region.Region{}, err
			}
			bounds = bounds.Combine(r)
		}
		if bounds.IsEmpty() {
			return region.Region{}, fmt.Errorf("%w: empty geometry collection", ErrInvalidFeature)
		}
		return bounds, nil
	}
	depth, ok := coordinateDepth[obj.Type]
	if !ok {
		return region.Region{}, fmt.Errorf("%w: unsupported geometry type %q", ErrInvalidFeature, obj.Type)
	}
	var coordinates any
	if err := json.Unmarshal(obj.Coordinates, &coordinates); err != nil {
		return region.Region{}, fmt.Errorf("%w: bad coordinates: %w", ErrInvalidFeature, err)
	}
	env := &envelope{
		minX: math.Inf(1), minY: math.Inf(1),
		maxX: math.Inf(-1), maxY: math.Inf(-1),
	}
	if err := env.add(coordinates, depth); err != nil {
		return region.Region{}, err
	}
	if env.empty() {
		return region.Region{}, fmt.Errorf("%w: %s has no positions", ErrInvalidFeature, obj.Type)
	}
	return region.Rect(env.minX, env.minY, env.maxX, env.maxY), nil
}

// coordinateDepth is the array nesting of a position in each geometry type's
// coordinates member.
var coordinateDepth = map[string]int{
	"Point":           0,
	"MultiPoint":      1,
	"LineString":      1,
	"MultiLineString": 2,
	"Polygon":         2,
	"MultiPolygon":    3,
}

type envelope struct {
	minX, minY, maxX, maxY float64
}

func (e *envelope) empty() bool {
	return e.minX > e.maxX
}

func (e *envelope) add(v any, depth int) error {
	arr, ok := v.([]any)
	if !ok {
		return fmt.Errorf("%w: coordinates must be arrays", ErrInvalidFeature)
	}
	if depth > 0 {
		for _, elem := range arr {
			if err := e.add(elem, depth-1); err != nil {
				return err
			}
		}
		return nil
	}
	if len(arr) < 2 {
		return fmt.Errorf("%w: position has %d values", ErrInvalidFeature, len(arr))
	}
	x, okx := arr[0].(float64)
	y, oky := arr[1].(float64)
	if !okx || !oky || math.IsNaN(x) || math.IsNaN(y) {
		return fmt.Errorf("%w: position values must be numbers", ErrInvalidFeature)
	}
	e.minX, e.maxX = math.Min(e.minX, x), math.Max(e.maxX, x)
	e.minY, e.maxY = math.Min(e.minY, y), math.Max(e.maxY, y)
	return nil
}
