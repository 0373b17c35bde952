package util

/*
Encoding utilities. Note that these utilities do not check lengths - it is
necessary to ensure buffers passed (to write functions) are large enough and
that parsed data is valid (i.e via checksum validation and a Remaining check
first), or a panic may result.
*/

import (
	"encoding/binary"
	"math"
)

// ReadU8 reads a uint8 from src and stores it in x, returning the read length.
func ReadU8(src []byte, x *uint8) int {
	*x = src[0]
	return 1
}

// ReadU32 reads a uint32 from src and stores it in x, returning the read length.
func ReadU32(src []byte, x *uint32) int {
	*x = binary.LittleEndian.Uint32(src)
	return 4
}

// ReadU64 reads a uint64 from src and stores it in x, returning the read length.
func ReadU64(src []byte, x *uint64) int {
	*x = binary.LittleEndian.Uint64(src)
	return 8
}

// ReadF64 reads a float64 from src and stores it in x, returning the read
// length.
func ReadF64(src []byte, x *float64) int {
	*x = math.Float64frombits(binary.LittleEndian.Uint64(src))
	return 8
}

// ReadPrefixedBytes reads a length-prefixed byte slice from src and stores a
// copy of it in b, returning the read length.
func ReadPrefixedBytes(src []byte, b *[]byte) int {
	if len(src) < 4 {
		panic("short buffer")
	}
	length := int(binary.LittleEndian.Uint32(src))
	if len(src[4:]) < length {
		panic("short buffer")
	}
	*b = append([]byte(nil), src[4:4+length]...)
	return 4 + length
}

// ReadPrefixedString reads a string from data and stores it in s, returning the
// read length.
func ReadPrefixedString(data []byte, s *string) int {
	var b []byte
	n := ReadPrefixedBytes(data, &b)
	*s = string(b)
	return n
}

// U8 writes a uint8 to dst and returns the written length.
func U8(dst []byte, src uint8) int {
	dst[0] = src
	return 1
}

// U32 writes a uint32 to dst and returns the written length.
func U32(dst []byte, src uint32) int {
	binary.LittleEndian.PutUint32(dst, src)
	return 4
}

// U64 writes a uint64 to dst and returns the written length.
func U64(dst []byte, src uint64) int {
	binary.LittleEndian.PutUint64(dst, src)
	return 8
}

// F64 writes a float64 to dst and returns the written length.
func F64(dst []byte, src float64) int {
	binary.LittleEndian.PutUint64(dst, math.Float64bits(src))
	return 8
}

// WritePrefixedBytes writes a length-prefixed byte slice to dst and returns
// the written length.
func WritePrefixedBytes(dst []byte, b []byte) int {
	if len(dst) < 4+len(b) {
		panic("buffer too small")
	}
	binary.LittleEndian.PutUint32(dst, uint32(len(b)))
	return 4 + copy(dst[4:], b)
}

// WritePrefixedString writes a string to buf and returns the written length.
func WritePrefixedString(buf []byte, s string) int {
	if len(buf) < 4+len(s) {
		panic("buffer too small")
	}
	binary.LittleEndian.PutUint32(buf, uint32(len(s)))
	return 4 + copy(buf[4:], s)
}

// PrefixedLength returns the encoded length of a prefixed value of n bytes.
func PrefixedLength(n int) int {
	return 4 + n
}

// Remaining reports whether src holds at least n bytes past offset.
func Remaining(src []byte, offset, n int) bool {
	return offset >= 0 && n >= 0 && len(src)-offset >= n
}
