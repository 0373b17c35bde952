package nodestore

import (
	"fmt"

	"github.com/wkalt/spatialcache/region"
	"github.com/wkalt/spatialcache/util"
)

const (
	leafVersionBase = uint8(128)
	leafNodeVersion = leafVersionBase + 1
)

// Data is a cached entry: an opaque payload and its envelope. IDs are
// assigned by the tree on insert and are unique within it.
type Data struct {
	ID      uint64
	Bounds  region.Region
	Payload []byte
}

// LeafNode holds data entries.
type LeafNode struct {
	Bounds  region.Region
	Entries []Data
}

// NewLeafNode constructs a leaf node holding the supplied entries. The
// bounds are computed from the entries.
func NewLeafNode(entries []Data) *LeafNode {
	node := &LeafNode{Entries: entries}
	node.Recompute()
	return node
}

// Recompute recalculates the node's bounds from its entries.
func (n *LeafNode) Recompute() {
	var bounds region.Region
	for _, entry := range n.Entries {
		bounds = bounds.Combine(entry.Bounds)
	}
	n.Bounds = bounds
}

// IDs returns the IDs of the node's entries.
func (n *LeafNode) IDs() []uint64 {
	ids := make([]uint64, len(n.Entries))
	for i, entry := range n.Entries {
		ids[i] = entry.ID
	}
	return ids
}

// Clone returns a copy of the node that can be modified without affecting
// the original. Payloads are shared, since they are never modified.
func (n *LeafNode) Clone() *LeafNode {
	entries := make([]Data, len(n.Entries))
	copy(entries, n.Entries)
	return &LeafNode{
		Bounds:  n.Bounds,
		Entries: entries,
	}
}

// ToBytes serializes the node to a byte array.
func (n *LeafNode) ToBytes() []byte {
	size := 1 + regionLength(n.Bounds) + 4
	for _, entry := range n.Entries {
		size += 8 + regionLength(entry.Bounds) + util.PrefixedLength(len(entry.Payload))
	}
	buf := make([]byte, size)
	offset := util.U8(buf, leafNodeVersion)
	offset += writeRegion(buf[offset:], n.Bounds)
	offset += util.U32(buf[offset:], uint32(len(n.Entries)))
	for _, entry := range n.Entries {
		offset += util.U64(buf[offset:], entry.ID)
		offset += writeRegion(buf[offset:], entry.Bounds)
		offset += util.WritePrefixedBytes(buf[offset:], entry.Payload)
	}
	return buf
}

// FromBytes deserializes the node from a byte array.
func (n *LeafNode) FromBytes(data []byte) error {
	if !util.Remaining(data, 0, 1) {
		return errShortNode
	}
	var version uint8
	offset := util.ReadU8(data, &version)
	if version < leafVersionBase {
		return fmt.Errorf("not a leaf node (version %d)", version)
	}
	k, err := readRegion(data[offset:], &n.Bounds)
	if err != nil {
		return fmt.Errorf("failed to read leaf bounds: %w", err)
	}
	offset += k
	if !util.Remaining(data, offset, 4) {
		return errShortNode
	}
	var count uint32
	offset += util.ReadU32(data[offset:], &count)
	if !util.Remaining(data, offset, int(count)*16) {
		return errShortNode
	}
	n.Entries = make([]Data, count)
	for i := range n.Entries {
		if !util.Remaining(data, offset, 8) {
			return errShortNode
		}
		offset += util.ReadU64(data[offset:], &n.Entries[i].ID)
		k, err := readRegion(data[offset:], &n.Entries[i].Bounds)
		if err != nil {
			return fmt.Errorf("failed to read entry bounds: %w", err)
		}
		offset += k
		if !util.Remaining(data, offset, 4) {
			return errShortNode
		}
		var length uint32
		util.ReadU32(data[offset:], &length)
		if !util.Remaining(data, offset+4, int(length)) {
			return errShortNode
		}
		offset += util.ReadPrefixedBytes(data[offset:], &n.Entries[i].Payload)
	}
	if offset != len(data) {
		return fmt.Errorf("%d trailing bytes after leaf node", len(data)-offset)
	}
	return nil
}

// Type returns the type of the node.
func (n *LeafNode) Type() NodeType {
	return Leaf
}

// Size returns the approximate in-memory footprint of the node.
func (n *LeafNode) Size() uint64 {
	size := uint64(64 + 16*n.Bounds.Dim())
	for _, entry := range n.Entries {
		size += uint64(88 + 16*entry.Bounds.Dim() + len(entry.Payload))
	}
	return size
}

// Region returns the bounds of the node.
func (n *LeafNode) Region() region.Region {
	return n.Bounds
}

func (n *LeafNode) String() string {
	return fmt.Sprintf("leaf(%s, %d entries)", n.Bounds, len(n.Entries))
}
