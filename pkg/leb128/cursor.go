package leb128

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Cursor is a read position inside a bounded byte range.
// Every read validates against the range and fails with ErrTruncated instead of
// reading out of bounds.
type Cursor struct {
	buf []byte
	off int
}

// NewCursor returns a Cursor positioned at the start of buf
func NewCursor(buf []byte) *Cursor {
	return &Cursor{buf: buf}
}

func (c *Cursor) Offset() int    { return c.off }
func (c *Cursor) Len() int       { return len(c.buf) }
func (c *Cursor) Remaining() int { return len(c.buf) - c.off }
func (c *Cursor) Done() bool     { return c.off >= len(c.buf) }

// Bytes returns the whole underlying range
func (c *Cursor) Bytes() []byte { return c.buf }

// Seek moves the cursor to the absolute offset off
func (c *Cursor) Seek(off int) error {
	if off < 0 || off > len(c.buf) {
		return fmt.Errorf("seek to %#x past end %#x: %w", off, len(c.buf), ErrTruncated)
	}
	c.off = off
	return nil
}

// Skip advances the cursor n bytes
func (c *Cursor) Skip(n int) error {
	return c.Seek(c.off + n)
}

func (c *Cursor) truncated(what string, n int) error {
	return fmt.Errorf("failed to read %s (%d bytes) at %#x of %#x: %w", what, n, c.off, len(c.buf), ErrTruncated)
}

func (c *Cursor) Uint8() (uint8, error) {
	if c.Remaining() < 1 {
		return 0, c.truncated("uint8", 1)
	}
	v := c.buf[c.off]
	c.off++
	return v, nil
}

func (c *Cursor) Uint16(bo binary.ByteOrder) (uint16, error) {
	if c.Remaining() < 2 {
		return 0, c.truncated("uint16", 2)
	}
	v := bo.Uint16(c.buf[c.off:])
	c.off += 2
	return v, nil
}

func (c *Cursor) Uint32(bo binary.ByteOrder) (uint32, error) {
	if c.Remaining() < 4 {
		return 0, c.truncated("uint32", 4)
	}
	v := bo.Uint32(c.buf[c.off:])
	c.off += 4
	return v, nil
}

func (c *Cursor) Uint64(bo binary.ByteOrder) (uint64, error) {
	if c.Remaining() < 8 {
		return 0, c.truncated("uint64", 8)
	}
	v := bo.Uint64(c.buf[c.off:])
	c.off += 8
	return v, nil
}

// Uleb128 decodes one ULEB128 value and advances past it
func (c *Cursor) Uleb128() (uint64, error) {
	if c.off > len(c.buf) {
		return 0, c.truncated("ULEB128", 1)
	}
	v, n, err := ReadUleb128(c.buf[c.off:])
	if err != nil {
		return 0, fmt.Errorf("at offset %#x: %w", c.off, err)
	}
	c.off += n
	return v, nil
}

// Sleb128 decodes one SLEB128 value and advances past it
func (c *Cursor) Sleb128() (int64, error) {
	if c.off > len(c.buf) {
		return 0, c.truncated("SLEB128", 1)
	}
	v, n, err := ReadSleb128(c.buf[c.off:])
	if err != nil {
		return 0, fmt.Errorf("at offset %#x: %w", c.off, err)
	}
	c.off += n
	return v, nil
}

// CString reads a NUL terminated string and advances past the terminator
func (c *Cursor) CString() (string, error) {
	if c.off >= len(c.buf) {
		return "", c.truncated("cstring", 1)
	}
	end := bytes.IndexByte(c.buf[c.off:], 0)
	if end < 0 {
		return "", fmt.Errorf("unterminated string at %#x: %w", c.off, ErrTruncated)
	}
	s := string(c.buf[c.off : c.off+end])
	c.off += end + 1
	return s, nil
}
