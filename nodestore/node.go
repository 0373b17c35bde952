package nodestore

import (
	"errors"
	"fmt"

	"github.com/wkalt/spatialcache/region"
	"github.com/wkalt/spatialcache/util"
)

/*
Nodes are the units of storage. Inner nodes hold the bounds of their children
and leaf nodes hold data entries. A node handed to a Storage is owned by it and
must not be modified afterward; a node returned from a Storage is shared and
must be cloned before modification. The tree relies on this to let readers
traverse without locks while a writer replaces nodes.

The first byte of a serialized node is a version. Versions below 128 are inner
nodes; versions of 128 and above are leaves.
*/

////////////////////////////////////////////////////////////////////////////////

type NodeType int

const (
	Inner NodeType = iota + 1
	Leaf
)

func (n NodeType) String() string {
	switch n {
	case Inner:
		return "inner"
	case Leaf:
		return "leaf"
	default:
		return "unknown"
	}
}

// Node is an interface to which leaf and inner nodes adhere.
type Node interface {
	// ToBytes serializes the node to a byte slice.
	ToBytes() []byte

	// FromBytes deserializes the node from a byte slice.
	FromBytes(data []byte) error

	// Type returns the type of the node.
	Type() NodeType

	// Size returns the approximate in-memory footprint of the node in bytes.
	Size() uint64

	// Region returns the minimum bounding region of the node's contents.
	Region() region.Region
}

var errShortNode = errors.New("short node")

// BytesToNode deserializes a node of either type.
func BytesToNode(data []byte) (Node, error) {
	if len(data) == 0 {
		return nil, errShortNode
	}
	if data[0] < leafVersionBase {
		node := &InnerNode{}
		if err := node.FromBytes(data); err != nil {
			return nil, err
		}
		return node, nil
	}
	node := &LeafNode{}
	if err := node.FromBytes(data); err != nil {
		return nil, err
	}
	return node, nil
}

func regionLength(r region.Region) int {
	return 4 + 16*r.Dim()
}

func writeRegion(buf []byte, r region.Region) int {
	offset := util.U32(buf, uint32(r.Dim()))
	for i := range r.Low {
		offset += util.F64(buf[offset:], r.Low[i])
		offset += util.F64(buf[offset:], r.High[i])
	}
	return offset
}

func readRegion(data []byte, r *region.Region) (int, error) {
	if !util.Remaining(data, 0, 4) {
		return 0, errShortNode
	}
	var dims uint32
	offset := util.ReadU32(data, &dims)
	if !util.Remaining(data, offset, 16*int(dims)) {
		return 0, errShortNode
	}
	if dims == 0 {
		*r = region.Region{}
		return offset, nil
	}
	low := make([]float64, dims)
	high := make([]float64, dims)
	for i := range low {
		offset += util.ReadF64(data[offset:], &low[i])
		offset += util.ReadF64(data[offset:], &high[i])
	}
	parsed, err := region.New(low, high)
	if err != nil {
		return 0, fmt.Errorf("failed to parse region: %w", err)
	}
	*r = parsed
	return offset, nil
}
