package nodestore

import (
	"fmt"

	"github.com/wkalt/spatialcache/region"
	"github.com/wkalt/spatialcache/util"
)

const innerNodeVersion = uint8(1)

// InnerNode is an interior node of the tree. Each child is stored with its
// bounds so that traversal can prune without reading the child.
type InnerNode struct {
	Height   uint8
	Bounds   region.Region
	Children []Child
}

// Child is a reference to a child node.
type Child struct {
	ID     NodeID
	Bounds region.Region
}

// NewInnerNode constructs an inner node with the supplied children. The
// bounds are computed from the children.
func NewInnerNode(height uint8, children []Child) *InnerNode {
	node := &InnerNode{Height: height, Children: children}
	node.Recompute()
	return node
}

// Recompute recalculates the node's bounds from its children.
func (n *InnerNode) Recompute() {
	var bounds region.Region
	for _, child := range n.Children {
		bounds = bounds.Combine(child.Bounds)
	}
	n.Bounds = bounds
}

// Index returns the position of the child with the given ID, or -1.
func (n *InnerNode) Index(id NodeID) int {
	for i, child := range n.Children {
		if child.ID == id {
			return i
		}
	}
	return -1
}

// Clone returns a copy of the node that can be modified without affecting
// the original.
func (n *InnerNode) Clone() *InnerNode {
	children := make([]Child, len(n.Children))
	copy(children, n.Children)
	return &InnerNode{
		Height:   n.Height,
		Bounds:   n.Bounds,
		Children: children,
	}
}

// ToBytes serializes the node to a byte array.
func (n *InnerNode) ToBytes() []byte {
	size := 2 + regionLength(n.Bounds) + 4
	for _, child := range n.Children {
		size += 8 + regionLength(child.Bounds)
	}
	buf := make([]byte, size)
	offset := util.U8(buf, innerNodeVersion)
	offset += util.U8(buf[offset:], n.Height)
	offset += writeRegion(buf[offset:], n.Bounds)
	offset += util.U32(buf[offset:], uint32(len(n.Children)))
	for _, child := range n.Children {
		offset += util.U64(buf[offset:], uint64(child.ID))
		offset += writeRegion(buf[offset:], child.Bounds)
	}
	return buf
}

// FromBytes deserializes the node from a byte array.
func (n *InnerNode) FromBytes(data []byte) error {
	if !util.Remaining(data, 0, 2) {
		return errShortNode
	}
	var version uint8
	offset := util.ReadU8(data, &version)
	if version >= leafVersionBase {
		return fmt.Errorf("not an inner node (version %d)", version)
	}
	offset += util.ReadU8(data[offset:], &n.Height)
	k, err := readRegion(data[offset:], &n.Bounds)
	if err != nil {
		return fmt.Errorf("failed to read inner node bounds: %w", err)
	}
	offset += k
	if !util.Remaining(data, offset, 4) {
		return errShortNode
	}
	var count uint32
	offset += util.ReadU32(data[offset:], &count)
	if !util.Remaining(data, offset, int(count)*12) {
		return errShortNode
	}
	n.Children = make([]Child, count)
	for i := range n.Children {
		if !util.Remaining(data, offset, 8) {
			return errShortNode
		}
		var id uint64
		offset += util.ReadU64(data[offset:], &id)
		n.Children[i].ID = NodeID(id)
		k, err := readRegion(data[offset:], &n.Children[i].Bounds)
		if err != nil {
			return fmt.Errorf("failed to read child bounds: %w", err)
		}
		offset += k
	}
	if offset != len(data) {
		return fmt.Errorf("%d trailing bytes after inner node", len(data)-offset)
	}
	return nil
}

// Type returns the type of the node.
func (n *InnerNode) Type() NodeType {
	return Inner
}

// Size returns the approximate in-memory footprint of the node.
func (n *InnerNode) Size() uint64 {
	size := uint64(64 + 16*n.Bounds.Dim())
	for _, child := range n.Children {
		size += uint64(56 + 16*child.Bounds.Dim())
	}
	return size
}

// Region returns the bounds of the node.
func (n *InnerNode) Region() region.Region {
	return n.Bounds
}

func (n *InnerNode) String() string {
	return fmt.Sprintf("inner(h=%d %s, %d children)", n.Height, n.Bounds, len(n.Children))
}
