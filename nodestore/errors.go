package nodestore

import (
	"errors"
	"fmt"
)

// ErrStorageClosed is returned by operations on a closed storage.
var ErrStorageClosed = errors.New("storage is closed")

// StorageError is returned when a storage backend fails to complete an
// operation on a node. It names the backend and node so that an operator can
// tell whether the medium is at fault.
type StorageError struct {
	Backend string
	Op      string
	NodeID  NodeID
	Err     error
}

func (e StorageError) Error() string {
	return fmt.Sprintf("%s: failed to %s node %s: %s", e.Backend, e.Op, e.NodeID, e.Err)
}

func (e StorageError) Unwrap() error {
	return e.Err
}

// Is returns true if the target error is a StorageError.
func (e StorageError) Is(target error) bool {
	_, ok := target.(StorageError)
	return ok
}

// CorruptNodeError is returned when a stored node fails checksum validation
// or cannot be decoded.
type CorruptNodeError struct {
	NodeID NodeID
	Reason string
}

func (e CorruptNodeError) Error() string {
	return fmt.Sprintf("node %s is corrupt: %s", e.NodeID, e.Reason)
}

// Is returns true if the target error is a CorruptNodeError.
func (e CorruptNodeError) Is(target error) bool {
	_, ok := target.(CorruptNodeError)
	return ok
}
