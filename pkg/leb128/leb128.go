// Package leb128 decodes the little-endian base 128 integers used throughout
// dyld's link-edit metadata, and provides the bounds-checked Cursor every other
// decoder in this module reads through.
package leb128

import (
	"errors"
	"fmt"
)

var (
	// ErrTruncated is returned when a read would run past the end of the buffer
	ErrTruncated = errors.New("truncated data")
	// ErrOverflow is returned when a ULEB128/SLEB128 carries more than 64 bits of payload
	ErrOverflow = errors.New("leb128 value overflows 64 bits")
)

// ReadUleb128 decodes an unsigned LEB128 value from the start of b and
// returns the value and the number of bytes consumed.
func ReadUleb128(b []byte) (uint64, int, error) {
	var (
		result uint64
		shift  uint
	)
	for i, c := range b {
		slice := uint64(c & 0x7f)
		if shift >= 64 || (shift == 63 && slice > 1) {
			return 0, 0, ErrOverflow
		}
		result |= slice << shift
		shift += 7
		// If high order bit is 0.
		if (c & 0x80) == 0 {
			return result, i + 1, nil
		}
	}
	return 0, 0, fmt.Errorf("could not parse ULEB128 value: %w", ErrTruncated)
}

// ReadSleb128 decodes a signed LEB128 value from the start of b and
// returns the value and the number of bytes consumed.
func ReadSleb128(b []byte) (int64, int, error) {
	var (
		result int64
		shift  uint
	)
	for i, c := range b {
		if shift >= 64 {
			return 0, 0, ErrOverflow
		}
		result |= int64(c&0x7f) << shift
		shift += 7
		if (c & 0x80) == 0 {
			// sign extend negative numbers
			if (c&0x40) != 0 && shift < 64 {
				result |= -1 << shift
			}
			return result, i + 1, nil
		}
	}
	return 0, 0, fmt.Errorf("could not parse SLEB128 value: %w", ErrTruncated)
}

// UlebSize returns the number of bytes v occupies when ULEB128 encoded
func UlebSize(v uint64) int {
	n := 1
	for v >= 0x80 {
		v >>= 7
		n++
	}
	return n
}
