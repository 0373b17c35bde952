package feature

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/goccy/go-json"
	"github.com/spaolacci/murmur3"
	"github.com/wkalt/spatialcache/region"
	"github.com/wkalt/spatialcache/util"
)

/*
Package feature defines the unit of data the cache holds: an identified,
opaque record with a bounding envelope. Features usually arrive as GeoJSON;
the cache does not interpret the record beyond extracting its envelope, and
hands the original bytes back unchanged.

Features without an ID are given one derived from their content, so that the
same anonymous feature fetched twice is recognized as a duplicate.
*/

////////////////////////////////////////////////////////////////////////////////

// ErrInvalidFeature is returned for features that cannot be decoded or have
// no usable envelope.
var ErrInvalidFeature = errors.New("invalid feature")

// Feature is a cached record.
type Feature struct {
	ID     string
	Bounds region.Region
	Data   []byte
}

// New constructs a feature. An empty ID is replaced by a hash of the data.
func New(id string, bounds region.Region, data []byte) Feature {
	if id == "" {
		id = AnonymousID(data)
	}
	return Feature{ID: id, Bounds: bounds, Data: data}
}

// AnonymousID returns a content-derived ID for data.
func AnonymousID(data []byte) string {
	return "anon-" + strconv.FormatUint(murmur3.Sum64(data), 16)
}

// Validate checks that the feature has an envelope of the expected
// dimensionality.
func (f Feature) Validate(dims int) error {
	if err := f.Bounds.Validate(dims); err != nil {
		return fmt.Errorf("%w %q: %w", ErrInvalidFeature, f.ID, err)
	}
	return nil
}

// Payload serializes the feature's ID and data for storage in a tree entry.
// The bounds are stored by the tree alongside the payload.
func (f Feature) Payload() []byte {
	buf := make([]byte, util.PrefixedLength(len(f.ID))+util.PrefixedLength(len(f.Data)))
	offset := util.WritePrefixedString(buf, f.ID)
	util.WritePrefixedBytes(buf[offset:], f.Data)
	return buf
}

// FromPayload reconstructs a feature from a tree entry's bounds and payload.
func FromPayload(bounds region.Region, payload []byte) (Feature, error) {
	f := Feature{Bounds: bounds}
	offset := 0
	for _, field := range []string{"id", "data"} {
		if !util.Remaining(payload, offset, 4) {
			return Feature{}, fmt.Errorf("%w: payload truncated before %s", ErrInvalidFeature, field)
		}
		var length uint32
		util.ReadU32(payload[offset:], &length)
		if !util.Remaining(payload, offset+4, int(length)) {
			return Feature{}, fmt.Errorf("%w: payload truncated in %s", ErrInvalidFeature, field)
		}
		if field == "id" {
			offset += util.ReadPrefixedString(payload[offset:], &f.ID)
		} else {
			offset += util.ReadPrefixedBytes(payload[offset:], &f.Data)
		}
	}
	if offset != len(payload) {
		return Feature{}, fmt.Errorf("%w: %d trailing payload bytes", ErrInvalidFeature, len(payload)-offset)
	}
	return f, nil
}

// MarshalJSON returns the feature's original data, so a feature serializes as
// the GeoJSON it was decoded from.
func (f Feature) MarshalJSON() ([]byte, error) {
	if len(f.Data) == 0 {
		return []byte("null"), nil
	}
	if !json.Valid(f.Data) {
		return nil, fmt.Errorf("%w %q: data is not JSON", ErrInvalidFeature, f.ID)
	}
	return f.Data, nil
}
