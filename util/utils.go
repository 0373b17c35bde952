package util

import (
	"cmp"
	"slices"
	"strconv"
)

/*
Small generic helpers shared by the command line and the storage layers.
*/

////////////////////////////////////////////////////////////////////////////////

// Okeys returns the keys of a map in sorted order.
func Okeys[T cmp.Ordered, K any](m map[T]K) []T {
	keys := make([]T, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// HumanBytes returns a human-readable representation of a number of bytes,
// with one decimal place above a kilobyte.
func HumanBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return strconv.FormatUint(n, 10) + " B"
	}
	prefixes := "KMGTPE"
	div, exp := uint64(unit), 0
	for m := n / unit; m >= unit && exp < len(prefixes)-1; m /= unit {
		div *= unit
		exp++
	}
	return strconv.FormatFloat(float64(n)/float64(div), 'f', 1, 64) + " " + prefixes[exp:exp+1] + "B"
}

// When returns a if cond is true, otherwise b.
func When[T any](cond bool, a, b T) T {
	if cond {
		return a
	}
	return b
}
