// Package fixupchains decodes LC_DYLD_CHAINED_FIXUPS: the starts tables, the
// imports table and the in-place pointer chains they describe.
package fixupchains

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/appsworld/go-linkedit/pkg/leb128"
	"github.com/appsworld/go-linkedit/types"
	"github.com/klauspost/compress/zlib"
)

var (
	// ErrUnknownFormat is returned for an imports, symbols or pointer format outside the known set
	ErrUnknownFormat = errors.New("unknown chained fixups format")
	// ErrMalformedStarts is returned when a starts table cannot be followed
	ErrMalformedStarts = errors.New("malformed chained starts")
	// ErrChainTooLong is returned when a chain does not terminate inside its page
	ErrChainTooLong = errors.New("fixup chain does not terminate within its page")
	// ErrNoFixupAtOffset is returned when no chain visits the requested offset
	ErrNoFixupAtOffset = errors.New("no chained fixup at offset")
	// ErrNotRebase is returned when a rebase was requested for a bind slot
	ErrNotRebase = errors.New("chained fixup is not a rebase")
	// ErrNotBind is returned when a bind was requested for a rebase slot
	ErrNotBind = errors.New("chained fixup is not a bind")
	// ErrBadOrdinal is returned when a bind ordinal is past the imports table
	ErrBadOrdinal = errors.New("bind ordinal out of range")
)

// sizeOfStartsInSegment is the packed size of dyld_chained_starts_in_segment up to page_start
const sizeOfStartsInSegment = 22

// DyldChainedStarts is the starts table of one segment
type DyldChainedStarts struct {
	SegIndex int
	types.DyldChainedStartsInSegment
	// PageStarts holds PageCount page markers followed by any overflow chain starts
	PageStarts []types.DCPtrStart
}

// Pages returns the per page markers without the overflow entries
func (s DyldChainedStarts) Pages() []types.DCPtrStart {
	if int(s.PageCount) > len(s.PageStarts) {
		return s.PageStarts
	}
	return s.PageStarts[:s.PageCount]
}

// Contains reports whether the image offset off falls in this segment's pages
func (s DyldChainedStarts) Contains(off uint64) bool {
	size := uint64(s.PageSize) * uint64(s.PageCount)
	return s.SegmentOffset <= off && off < s.SegmentOffset+size
}

// Import is one entry of the imports table, whatever its on-disk format
type Import struct {
	LibOrdinal int
	WeakImport bool
	NameOffset uint64
	Addend     int64
	Name       string
}

func (i Import) String() string {
	s := fmt.Sprintf("%s (lib ordinal %d)", i.Name, i.LibOrdinal)
	if i.Addend != 0 {
		s += fmt.Sprintf(" addend %#x", i.Addend)
	}
	if i.WeakImport {
		s += " [weak]"
	}
	return s
}

// DyldChainedFixups is a decoded LC_DYLD_CHAINED_FIXUPS payload
type DyldChainedFixups struct {
	types.DyldChainedFixupsHeader
	Starts  []DyldChainedStarts // only segments with chains
	Imports []Import

	bo binary.ByteOrder
}

// Parse decodes the LC_DYLD_CHAINED_FIXUPS payload data
func Parse(data []byte, bo binary.ByteOrder) (*DyldChainedFixups, error) {
	dcf := &DyldChainedFixups{bo: bo}

	if err := binary.Read(bytes.NewReader(data), bo, &dcf.DyldChainedFixupsHeader); err != nil {
		return nil, fmt.Errorf("failed to read chained fixups header (%v): %w", err, leb128.ErrTruncated)
	}

	switch dcf.ImportsFormat {
	case types.DC_IMPORT, types.DC_IMPORT_ADDEND, types.DC_IMPORT_ADDEND64:
	default:
		return nil, fmt.Errorf("imports format %d: %w", uint32(dcf.ImportsFormat), ErrUnknownFormat)
	}
	switch dcf.SymbolsFormat {
	case types.DC_SFORMAT_UNCOMPRESSED, types.DC_SFORMAT_ZLIB_COMPRESSED:
	default:
		return nil, fmt.Errorf("symbols format %d: %w", uint32(dcf.SymbolsFormat), ErrUnknownFormat)
	}

	if err := dcf.parseStarts(data); err != nil {
		return nil, err
	}
	if err := dcf.parseImports(data); err != nil {
		return nil, err
	}

	return dcf, nil
}

func (dcf *DyldChainedFixups) parseStarts(data []byte) error {
	c := leb128.NewCursor(data)
	if err := c.Seek(int(dcf.StartsOffset)); err != nil {
		return fmt.Errorf("starts offset: %w", err)
	}
	segCount, err := c.Uint32(dcf.bo)
	if err != nil {
		return fmt.Errorf("failed to read segment count: %w", err)
	}
	if uint64(segCount)*4 > uint64(c.Remaining()) {
		return fmt.Errorf("%d segment offsets at %#x: %w", segCount, c.Offset(), leb128.ErrTruncated)
	}
	segInfoOffsets := make([]uint32, segCount)
	for i := range segInfoOffsets {
		if segInfoOffsets[i], err = c.Uint32(dcf.bo); err != nil {
			return err
		}
	}

	for segIdx, segInfoOffset := range segInfoOffsets {
		if segInfoOffset == 0 {
			continue
		}

		off := uint64(dcf.StartsOffset) + uint64(segInfoOffset)
		if off+sizeOfStartsInSegment > uint64(len(data)) {
			return fmt.Errorf("starts of segment %d at %#x: %w", segIdx, off, leb128.ErrTruncated)
		}

		starts := DyldChainedStarts{SegIndex: segIdx}
		if err := binary.Read(bytes.NewReader(data[off:]), dcf.bo, &starts.DyldChainedStartsInSegment); err != nil {
			return fmt.Errorf("failed to read starts of segment %d: %w", segIdx, err)
		}
		if !starts.PointerFormat.Known() {
			return fmt.Errorf("segment %d pointer format %d: %w", segIdx, uint16(starts.PointerFormat), ErrUnknownFormat)
		}
		if starts.PageSize == 0 {
			return fmt.Errorf("segment %d has a zero page size: %w", segIdx, ErrMalformedStarts)
		}

		// overflow starts for MULTI pages follow the page markers, covered by Size
		count := uint64(starts.PageCount)
		if starts.Size > sizeOfStartsInSegment {
			if n := uint64(starts.Size-sizeOfStartsInSegment) / 2; n > count {
				count = n
			}
		}
		pc := leb128.NewCursor(data)
		if err := pc.Seek(int(off + sizeOfStartsInSegment)); err != nil {
			return err
		}
		if count*2 > uint64(pc.Remaining()) {
			return fmt.Errorf("%d page starts of segment %d: %w", count, segIdx, leb128.ErrTruncated)
		}
		starts.PageStarts = make([]types.DCPtrStart, count)
		for i := range starts.PageStarts {
			v, err := pc.Uint16(dcf.bo)
			if err != nil {
				return err
			}
			starts.PageStarts[i] = types.DCPtrStart(v)
		}

		dcf.Starts = append(dcf.Starts, starts)
	}

	return nil
}

func (dcf *DyldChainedFixups) symbolPool(data []byte) ([]byte, error) {
	if uint64(dcf.SymbolsOffset) > uint64(len(data)) {
		return nil, fmt.Errorf("symbols offset %#x: %w", dcf.SymbolsOffset, leb128.ErrTruncated)
	}
	pool := data[dcf.SymbolsOffset:]
	if dcf.SymbolsFormat != types.DC_SFORMAT_ZLIB_COMPRESSED {
		return pool, nil
	}
	zr, err := zlib.NewReader(bytes.NewReader(pool))
	if err != nil {
		return nil, fmt.Errorf("failed to open zlib symbol pool: %w", err)
	}
	defer zr.Close()
	inflated, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("failed to inflate symbol pool: %w", err)
	}
	return inflated, nil
}

func (dcf *DyldChainedFixups) parseImports(data []byte) error {
	if dcf.ImportsCount == 0 {
		return nil
	}

	c := leb128.NewCursor(data)
	if err := c.Seek(int(dcf.ImportsOffset)); err != nil {
		return fmt.Errorf("imports offset: %w", err)
	}

	width := uint64(4)
	switch dcf.ImportsFormat {
	case types.DC_IMPORT_ADDEND:
		width = 8
	case types.DC_IMPORT_ADDEND64:
		width = 16
	}
	if uint64(dcf.ImportsCount)*width > uint64(c.Remaining()) {
		return fmt.Errorf("%d imports at %#x: %w", dcf.ImportsCount, dcf.ImportsOffset, leb128.ErrTruncated)
	}

	pool, err := dcf.symbolPool(data)
	if err != nil {
		return err
	}
	names := leb128.NewCursor(pool)

	dcf.Imports = make([]Import, 0, dcf.ImportsCount)
	for i := uint32(0); i < dcf.ImportsCount; i++ {
		var imp Import
		switch dcf.ImportsFormat {
		case types.DC_IMPORT, types.DC_IMPORT_ADDEND:
			v, err := c.Uint32(dcf.bo)
			if err != nil {
				return err
			}
			di := types.DyldChainedImport(v)
			imp = Import{LibOrdinal: di.LibOrdinal(), WeakImport: di.WeakImport(), NameOffset: di.NameOffset()}
			if dcf.ImportsFormat == types.DC_IMPORT_ADDEND {
				addend, err := c.Uint32(dcf.bo)
				if err != nil {
					return err
				}
				imp.Addend = int64(int32(addend))
			}
		case types.DC_IMPORT_ADDEND64:
			v, err := c.Uint64(dcf.bo)
			if err != nil {
				return err
			}
			di := types.DyldChainedImport64(v)
			imp = Import{LibOrdinal: di.LibOrdinal(), WeakImport: di.WeakImport(), NameOffset: di.NameOffset()}
			addend, err := c.Uint64(dcf.bo)
			if err != nil {
				return err
			}
			imp.Addend = int64(addend)
		}

		if imp.NameOffset >= uint64(len(pool)) {
			return fmt.Errorf("import %d name offset %#x past symbol pool (%#x): %w", i, imp.NameOffset, len(pool), leb128.ErrTruncated)
		}
		if err := names.Seek(int(imp.NameOffset)); err != nil {
			return err
		}
		if imp.Name, err = names.CString(); err != nil {
			return fmt.Errorf("failed to read name of import %d: %w", i, err)
		}

		dcf.Imports = append(dcf.Imports, imp)
	}

	return nil
}

// StartsFor returns the starts table of the segment containing the image offset off
func (dcf *DyldChainedFixups) StartsFor(off uint64) (*DyldChainedStarts, bool) {
	for i := range dcf.Starts {
		if dcf.Starts[i].Contains(off) {
			return &dcf.Starts[i], true
		}
	}
	return nil, false
}

// Import returns the import a bind ordinal refers to
func (dcf *DyldChainedFixups) Import(ordinal uint64) (Import, error) {
	if ordinal >= uint64(len(dcf.Imports)) {
		return Import{}, fmt.Errorf("bind ordinal %d out of range (%d imports): %w", ordinal, len(dcf.Imports), ErrBadOrdinal)
	}
	return dcf.Imports[ordinal], nil
}
