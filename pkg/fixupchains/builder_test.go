package fixupchains

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/appsworld/go-linkedit/types"
)

var le = binary.LittleEndian

// segment describes one dyld_chained_starts_in_segment; a nil *segment leaves
// its seg_info_offset at zero
type segment struct {
	format     types.DCPtrKind
	pageSize   uint16
	segOffset  uint64
	pageCount  uint16
	pageStarts []types.DCPtrStart
}

type payload struct {
	importsFormat types.DCImportsFormat
	symbolsFormat types.DCSymbolsFormat
	segments      []*segment
	importsCount  uint32
	imports       []byte
	symbols       []byte
}

func (p payload) build(t testing.TB) []byte {
	t.Helper()

	must := func(err error) {
		if err != nil {
			t.Fatal(err)
		}
	}

	var pool bytes.Buffer
	segInfo := make([]uint32, len(p.segments))
	base := 4 + 4*len(p.segments)
	for i, s := range p.segments {
		if s == nil {
			continue
		}
		segInfo[i] = uint32(base + pool.Len())
		must(binary.Write(&pool, le, types.DyldChainedStartsInSegment{
			Size:          uint32(sizeOfStartsInSegment + 2*len(s.pageStarts)),
			PageSize:      s.pageSize,
			PointerFormat: s.format,
			SegmentOffset: s.segOffset,
			PageCount:     s.pageCount,
		}))
		must(binary.Write(&pool, le, s.pageStarts))
	}

	var starts bytes.Buffer
	must(binary.Write(&starts, le, uint32(len(p.segments))))
	must(binary.Write(&starts, le, segInfo))
	starts.Write(pool.Bytes())

	importsFormat := p.importsFormat
	if importsFormat == 0 {
		importsFormat = types.DC_IMPORT
	}
	hdr := types.DyldChainedFixupsHeader{
		StartsOffset:  uint32(binary.Size(types.DyldChainedFixupsHeader{})),
		ImportsCount:  p.importsCount,
		ImportsFormat: importsFormat,
		SymbolsFormat: p.symbolsFormat,
	}
	hdr.ImportsOffset = hdr.StartsOffset + uint32(starts.Len())
	hdr.SymbolsOffset = hdr.ImportsOffset + uint32(len(p.imports))

	var out bytes.Buffer
	must(binary.Write(&out, le, hdr))
	out.Write(starts.Bytes())
	out.Write(p.imports)
	out.Write(p.symbols)
	return out.Bytes()
}

func parse(t testing.TB, p payload) *DyldChainedFixups {
	t.Helper()
	dcf, err := Parse(p.build(t), le)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	return dcf
}

func uint32s(vals ...uint32) []byte {
	b := make([]byte, 4*len(vals))
	for i, v := range vals {
		le.PutUint32(b[4*i:], v)
	}
	return b
}

func put64(img []byte, off int, v uint64) { le.PutUint64(img[off:], v) }
func put32(img []byte, off int, v uint32) { le.PutUint32(img[off:], v) }
