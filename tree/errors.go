package tree

import (
	"errors"
	"fmt"

	"github.com/wkalt/spatialcache/nodestore"
)

/*
Errors that can be returned by the tree package.
*/

////////////////////////////////////////////////////////////////////////////////

// ErrTreeClosed is returned by operations on a closed tree.
var ErrTreeClosed = errors.New("tree is closed")

// ErrIteratorClosed is returned by operations on a closed iterator.
var ErrIteratorClosed = errors.New("iterator is closed")

// ErrStop may be returned by a visitor to end a traversal early. The query
// then returns nil.
var ErrStop = errors.New("stop traversal")

// UnexpectedNodeError is returned when a node of the wrong type is found in
// storage.
type UnexpectedNodeError struct {
	expected nodestore.NodeType
	found    nodestore.Node
}

// Error returns a string representation of the error.
func (e UnexpectedNodeError) Error() string {
	return fmt.Sprintf("expected %s but found %T - storage is corrupt", e.expected, e.found)
}

// Is returns true if the target error is an UnexpectedNodeError.
func (e UnexpectedNodeError) Is(target error) bool {
	_, ok := target.(UnexpectedNodeError)
	return ok
}

func newUnexpectedNodeError(expected nodestore.NodeType, found nodestore.Node) error {
	return UnexpectedNodeError{
		expected: expected,
		found:    found,
	}
}

// MissingNodeError is returned when a writer cannot find a node that the tree
// structure refers to.
type MissingNodeError struct {
	NodeID nodestore.NodeID
}

func (e MissingNodeError) Error() string {
	return fmt.Sprintf("node %s is missing from storage", e.NodeID)
}

// Is returns true if the target error is a MissingNodeError.
func (e MissingNodeError) Is(target error) bool {
	_, ok := target.(MissingNodeError)
	return ok
}

// DimensionMismatchError is returned when a region's dimensionality does not
// match the tree's.
type DimensionMismatchError struct {
	Expected int
	Found    int
}

func (e DimensionMismatchError) Error() string {
	return fmt.Sprintf("expected a %d-dimensional region but got %d dimensions", e.Expected, e.Found)
}

// Is returns true if the target error is a DimensionMismatchError.
func (e DimensionMismatchError) Is(target error) bool {
	_, ok := target.(DimensionMismatchError)
	return ok
}
