package cache

import (
	"errors"
	"fmt"
)

// ErrNoSource is returned by GetFeatures when uncovered regions must be
// fetched and the cache has no source.
var ErrNoSource = errors.New("no source configured")

// ErrNoRootmap is returned by Flush when the cache has no rootmap.
var ErrNoRootmap = errors.New("no rootmap configured")

// OversizeError is returned when a put carries more features than the cache
// can hold. Nothing is inserted.
type OversizeError struct {
	Size     int
	Capacity int
}

func (e OversizeError) Error() string {
	return fmt.Sprintf("%d features exceed cache capacity of %d", e.Size, e.Capacity)
}

// Detail explains how to resolve the error.
func (e OversizeError) Detail() string {
	return fmt.Sprintf(
		"Raise the cache capacity to at least %d entries, or narrow the request.",
		e.Size,
	)
}

// Is returns true if the target error is an OversizeError.
func (e OversizeError) Is(target error) bool {
	_, ok := target.(OversizeError)
	return ok
}
