package types

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Source is a bounded random access byte source.
//
// Both memory buffers and *io.SectionReader (file backed) satisfy it. Decoders
// only ever read from a Source, so one Source may be shared by goroutines as long
// as its ReadAt is safe for concurrent use.
type Source interface {
	io.ReaderAt
	Size() int64
}

// MemorySource is a Source over an in-memory buffer
type MemorySource []byte

func (m MemorySource) Size() int64 { return int64(len(m)) }

func (m MemorySource) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off > int64(len(m)) {
		return 0, fmt.Errorf("offset %#x out of range [0, %#x)", off, len(m))
	}
	n := copy(p, m[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Slice returns a borrowed view of n bytes at off
func (m MemorySource) Slice(off, n int64) ([]byte, error) {
	if off < 0 || n < 0 || off+n > int64(len(m)) || off+n < off {
		return nil, fmt.Errorf("range [%#x, %#x) out of bounds (size %#x): %w", off, off+n, len(m), io.ErrUnexpectedEOF)
	}
	return m[off : off+n], nil
}

// ReadRange returns n bytes at off, borrowing from memory sources and copying otherwise
func ReadRange(src Source, off, n int64) ([]byte, error) {
	if m, ok := src.(MemorySource); ok {
		return m.Slice(off, n)
	}
	if off < 0 || n < 0 || off+n > src.Size() || off+n < off {
		return nil, fmt.Errorf("range [%#x, %#x) out of bounds (size %#x): %w", off, off+n, src.Size(), io.ErrUnexpectedEOF)
	}
	dat := make([]byte, n)
	if _, err := src.ReadAt(dat, off); err != nil {
		return nil, fmt.Errorf("failed to read %d bytes at %#x: %w", n, off, err)
	}
	return dat, nil
}

// ReadUint32 reads a 32-bit word at off
func ReadUint32(src Source, off int64, bo binary.ByteOrder) (uint32, error) {
	dat, err := ReadRange(src, off, 4)
	if err != nil {
		return 0, err
	}
	return bo.Uint32(dat), nil
}

// ReadUint64 reads a 64-bit word at off
func ReadUint64(src Source, off int64, bo binary.ByteOrder) (uint64, error) {
	dat, err := ReadRange(src, off, 8)
	if err != nil {
		return 0, err
	}
	return bo.Uint64(dat), nil
}

// ReadPointer reads a pointer sized word at off
func ReadPointer(src Source, off int64, is64 bool, bo binary.ByteOrder) (uint64, error) {
	if is64 {
		return ReadUint64(src, off, bo)
	}
	v, err := ReadUint32(src, off, bo)
	return uint64(v), err
}
