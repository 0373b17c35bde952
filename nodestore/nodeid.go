package nodestore

import (
	"database/sql/driver"
	"fmt"
	"strconv"
)

/*
Node IDs are 64-bit integers allocated sequentially by the tree that owns the
node. The high bit distinguishes leaves from inner nodes, so a node's type is
known without reading it from storage. The same ID addresses the node in every
storage backend: a map key in memory storage and an object name in disk
storage.
*/

////////////////////////////////////////////////////////////////////////////////

const leafBit = uint64(1) << 63

// NodeID is an identifier for a node in a Storage.
type NodeID uint64

// NewNodeID returns a node ID for the given sequence number.
func NewNodeID(seq uint64, leaf bool) NodeID {
	if leaf {
		return NodeID(seq | leafBit)
	}
	return NodeID(seq &^ leafBit)
}

// IsLeaf reports whether the ID denotes a leaf node.
func (n NodeID) IsLeaf() bool {
	return uint64(n)&leafBit != 0
}

// Seq returns the sequence number of the ID.
func (n NodeID) Seq() uint64 {
	return uint64(n) &^ leafBit
}

// Object returns the name of the object holding the node in disk storage.
func (n NodeID) Object() string {
	return strconv.FormatUint(uint64(n), 10)
}

// String returns a string representation of the node ID.
func (n NodeID) String() string {
	if n.IsLeaf() {
		return fmt.Sprintf("L%d", n.Seq())
	}
	return fmt.Sprintf("I%d", n.Seq())
}

// Scan implements the sql.Scanner interface. In SQL storage we store node IDs
// as the two's complement int64 of the ID.
func (n *NodeID) Scan(value interface{}) error {
	v, ok := value.(int64)
	if !ok {
		return fmt.Errorf("expected int64, got %T", value)
	}
	*n = NodeID(uint64(v))
	return nil
}

// Value implements the driver.Valuer interface for the NodeID type.
func (n NodeID) Value() (driver.Value, error) {
	return driver.Value(int64(n)), nil
}
