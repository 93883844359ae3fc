// Package slide decodes dyld shared cache slide info and resolves rebased pointers
// across slide info versions.
package slide

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math/bits"

	"github.com/appsworld/go-linkedit/types"
)

var (
	// ErrUnknownVersion is returned for a slide info version outside none and v1 to v5
	ErrUnknownVersion = errors.New("unknown slide info version")
	// ErrNoMapping is returned when a file offset is not covered by any mapping
	ErrNoMapping = errors.New("offset is not inside any mapping")
	// ErrMissingInfo is returned when a mapping's version needs slide info fields it was not given
	ErrMissingInfo = errors.New("mapping has no slide info")
)

// Version is the slide info format of a mapping
type Version uint32

const (
	VersionNone Version = iota
	V1
	V2
	V3
	V4
	V5
)

func (v Version) Known() bool { return v <= V5 }

func (v Version) String() string {
	switch {
	case v == VersionNone:
		return "none"
	case v.Known():
		return fmt.Sprintf("v%d", uint32(v))
	}
	return fmt.Sprintf("unknown(%d)", uint32(v))
}

const (
	DYLD_CACHE_SLIDE_PAGE_ATTRS          = 0xC000 // high bits of uint16_t are flags
	DYLD_CACHE_SLIDE_PAGE_ATTR_EXTRA     = 0x8000 // index is into extras array (not starts array)
	DYLD_CACHE_SLIDE_PAGE_ATTR_NO_REBASE = 0x4000 // page has no rebasing
	DYLD_CACHE_SLIDE_PAGE_ATTR_END       = 0x8000 // last chain entry for page

	DYLD_CACHE_SLIDE_V3_PAGE_ATTR_NO_REBASE = 0xFFFF
	DYLD_CACHE_SLIDE_V5_PAGE_ATTR_NO_REBASE = 0xFFFF

	DYLD_CACHE_SLIDE4_PAGE_NO_REBASE = 0xFFFF // page has no rebasing
	DYLD_CACHE_SLIDE4_PAGE_INDEX     = 0x7FFF // mask of page_starts[] values
	DYLD_CACHE_SLIDE4_PAGE_USE_EXTRA = 0x8000 // index is into extras array (not a chain start offset)
	DYLD_CACHE_SLIDE4_PAGE_EXTRA_END = 0x8000 // last chain entry for page
)

// SlideInfo is the fixed header of one slide info version
type SlideInfo interface {
	GetVersion() uint32
	GetPageSize() uint32
	SlidePointer(ptr uint64) uint64
}

// SlideInfoV1 is dyld_cache_slide_info
type SlideInfoV1 struct {
	Version       uint32 // currently 1
	TocOffset     uint32
	TocCount      uint32
	EntriesOffset uint32
	EntriesCount  uint32
	EntriesSize   uint32 // currently 128
}

func (i SlideInfoV1) GetVersion() uint32  { return i.Version }
func (i SlideInfoV1) GetPageSize() uint32 { return 0x1000 }

// SlidePointer returns ptr unchanged; v1 pointers are stored as unslid addresses
func (i SlideInfoV1) SlidePointer(ptr uint64) uint64 { return ptr }

// SlideInfoV2 is dyld_cache_slide_info2
type SlideInfoV2 struct {
	Version          uint32 // currently 2
	PageSize         uint32 // currently 4096 (may also be 16384)
	PageStartsOffset uint32
	PageStartsCount  uint32
	PageExtrasOffset uint32
	PageExtrasCount  uint32
	DeltaMask        uint64 // which (contiguous) set of bits contains the delta to the next rebase location
	ValueAdd         uint64
}

func (i SlideInfoV2) GetVersion() uint32  { return i.Version }
func (i SlideInfoV2) GetPageSize() uint32 { return i.PageSize }

func (i SlideInfoV2) SlidePointer(ptr uint64) uint64 {
	shift := uint64(bits.Len64(i.ValueAdd))
	mask := uint64(1<<64-1) >> shift << shift
	if ptr > i.ValueAdd && (ptr&mask) == 0 {
		return ptr
	}
	if (ptr & ^i.DeltaMask) != 0 {
		return (ptr & ^i.DeltaMask) + i.ValueAdd
	}
	return 0
}

// SlideInfoV3 is dyld_cache_slide_info3
type SlideInfoV3 struct {
	Version         uint32 // currently 3
	PageSize        uint32
	PageStartsCount uint32
	_               uint32 // padding for 64bit alignment
	AuthValueAdd    uint64
}

func (i SlideInfoV3) GetVersion() uint32  { return i.Version }
func (i SlideInfoV3) GetPageSize() uint32 { return i.PageSize }

func (i SlideInfoV3) SlidePointer(ptr uint64) uint64 {
	if ptr == 0 {
		return 0
	} else if (ptr & 0xFFF8_0000_0000_0000) == 0 {
		return ptr
	}
	pointer := SlidePointerV3(ptr)
	if pointer.Authenticated() {
		return i.AuthValueAdd + pointer.OffsetFromSharedCacheBase()
	}
	return pointer.SignExtend51()
}

// SlideInfoV4 is dyld_cache_slide_info4
type SlideInfoV4 struct {
	Version          uint32 // currently 4
	PageSize         uint32
	PageStartsOffset uint32
	PageStartsCount  uint32
	PageExtrasOffset uint32
	PageExtrasCount  uint32
	DeltaMask        uint64 // 0xC0000000
	ValueAdd         uint64 // base address of cache
}

func (i SlideInfoV4) GetVersion() uint32  { return i.Version }
func (i SlideInfoV4) GetPageSize() uint32 { return i.PageSize }

func (i SlideInfoV4) SlidePointer(ptr uint64) uint64 {
	value := ptr & ^i.DeltaMask
	switch {
	case value&0xFFFF8000 == 0:
		// small positive non-pointer, use as-is
	case value&0x3FFF8000 == 0x3FFF8000:
		// small negative non-pointer
		value |= 0xC0000000
	default:
		value += i.ValueAdd
	}
	return value
}

// SlideInfoV5 is dyld_cache_slide_info5
type SlideInfoV5 struct {
	Version         uint32 // currently 5
	PageSize        uint32
	PageStartsCount uint32
	_               uint32 // padding for 64bit alignment
	ValueAdd        uint64
}

func (i SlideInfoV5) GetVersion() uint32  { return i.Version }
func (i SlideInfoV5) GetPageSize() uint32 { return i.PageSize }

func (i SlideInfoV5) SlidePointer(ptr uint64) uint64 {
	if ptr == 0 {
		return 0
	}
	pointer := SlidePointerV5(ptr)
	if pointer.Authenticated() {
		return i.ValueAdd + pointer.Value()
	}
	return i.ValueAdd + pointer.SignExtend51()
}

// SlidePointerV3 is dyld_cache_slide_pointer3
type SlidePointerV3 uint64

// SignExtend51 keeps the top byte and sign extends the low 43 bits of a plain pointer
func (p SlidePointerV3) SignExtend51() uint64 {
	top8Bits := uint64(p & 0x007F80000000000)
	bottom43Bits := uint64(p & 0x000007FFFFFFFFFF)
	return (top8Bits << 13) | ((bottom43Bits << 21 >> 21) & 0x00FFFFFFFFFFFFFF)
}

func (p SlidePointerV3) Value() uint64               { return types.ExtractBits(uint64(p), 0, 51) }
func (p SlidePointerV3) OffsetToNextPointer() uint64 { return types.ExtractBits(uint64(p), 51, 11) }
func (p SlidePointerV3) OffsetFromSharedCacheBase() uint64 {
	return types.ExtractBits(uint64(p), 0, 32)
}
func (p SlidePointerV3) DiversityData() uint64     { return types.ExtractBits(uint64(p), 32, 16) }
func (p SlidePointerV3) HasAddressDiversity() bool { return types.ExtractBits(uint64(p), 48, 1) != 0 }
func (p SlidePointerV3) Key() uint64               { return types.ExtractBits(uint64(p), 49, 2) }
func (p SlidePointerV3) Authenticated() bool       { return types.ExtractBits(uint64(p), 63, 1) != 0 }

func (p SlidePointerV3) String() string {
	if p.Authenticated() {
		return fmt.Sprintf("value: %#x, next: %02x, diversity: %04x, addr_div: %t, key: %s, auth: true",
			p.Value(), p.OffsetToNextPointer(), p.DiversityData(), p.HasAddressDiversity(), types.KeyName(p.Key()))
	}
	return fmt.Sprintf("value: %#x, next: %02x", p.Value(), p.OffsetToNextPointer())
}

// SlidePointerV5 is dyld_cache_slide_pointer5
type SlidePointerV5 uint64

// SignExtend51 keeps the top byte and sign extends the low 43 bits of a plain pointer
func (p SlidePointerV5) SignExtend51() uint64 {
	top8Bits := uint64(p & 0x007F80000000000)
	bottom43Bits := uint64(p & 0x000007FFFFFFFFFF)
	return (top8Bits << 13) | ((bottom43Bits << 21 >> 21) & 0x00FFFFFFFFFFFFFF)
}

// Value is the runtime offset from the start of the shared cache
func (p SlidePointerV5) Value() uint64               { return types.ExtractBits(uint64(p), 0, 34) }
func (p SlidePointerV5) High8() uint64               { return types.ExtractBits(uint64(p), 34, 8) }
func (p SlidePointerV5) OffsetToNextPointer() uint64 { return types.ExtractBits(uint64(p), 52, 11) }
func (p SlidePointerV5) DiversityData() uint64       { return types.ExtractBits(uint64(p), 34, 16) }
func (p SlidePointerV5) HasAddressDiversity() bool   { return types.ExtractBits(uint64(p), 50, 1) != 0 }
func (p SlidePointerV5) KeyIsData() bool             { return types.ExtractBits(uint64(p), 51, 1) != 0 }
func (p SlidePointerV5) Authenticated() bool         { return types.ExtractBits(uint64(p), 63, 1) != 0 }

func (p SlidePointerV5) String() string {
	if p.Authenticated() {
		key := "IA"
		if p.KeyIsData() {
			key = "DA"
		}
		return fmt.Sprintf("value: %#x, next: %02x, diversity: %04x, addr_div: %t, key: %s, auth: true",
			p.Value(), p.OffsetToNextPointer(), p.DiversityData(), p.HasAddressDiversity(), key)
	}
	return fmt.Sprintf("value: %#x, high8: %#x, next: %02x", p.Value(), p.High8(), p.OffsetToNextPointer())
}

// Parse decodes the slide info header at off, dispatching on its leading version word
func Parse(src types.Source, off int64, bo binary.ByteOrder) (SlideInfo, error) {
	version, err := types.ReadUint32(src, off, bo)
	if err != nil {
		return nil, fmt.Errorf("failed to read slide info version at %#x: %w", off, err)
	}

	var info SlideInfo
	switch Version(version) {
	case V1:
		info = &SlideInfoV1{}
	case V2:
		info = &SlideInfoV2{}
	case V3:
		info = &SlideInfoV3{}
	case V4:
		info = &SlideInfoV4{}
	case V5:
		info = &SlideInfoV5{}
	default:
		return nil, fmt.Errorf("slide info at %#x has version %d: %w", off, version, ErrUnknownVersion)
	}

	sr := io.NewSectionReader(src, off, src.Size()-off)
	if err := binary.Read(sr, bo, info); err != nil {
		return nil, fmt.Errorf("failed to read %T at %#x: %w", info, off, err)
	}

	// hand back values so callers can type switch on the plain struct types
	switch i := info.(type) {
	case *SlideInfoV1:
		return *i, nil
	case *SlideInfoV2:
		return *i, nil
	case *SlideInfoV3:
		return *i, nil
	case *SlideInfoV4:
		return *i, nil
	case *SlideInfoV5:
		return *i, nil
	}
	return info, nil
}

// PageStarts reads the page_starts array of the slide info at off. v1 has none.
func PageStarts(src types.Source, off int64, info SlideInfo, bo binary.ByteOrder) ([]uint16, error) {
	var start int64
	var count uint32
	switch i := info.(type) {
	case SlideInfoV1:
		return nil, nil
	case SlideInfoV2:
		start, count = off+int64(i.PageStartsOffset), i.PageStartsCount
	case SlideInfoV3:
		start, count = off+int64(binary.Size(i)), i.PageStartsCount
	case SlideInfoV4:
		start, count = off+int64(i.PageStartsOffset), i.PageStartsCount
	case SlideInfoV5:
		start, count = off+int64(binary.Size(i)), i.PageStartsCount
	default:
		return nil, fmt.Errorf("%T: %w", info, ErrUnknownVersion)
	}

	dat, err := types.ReadRange(src, start, int64(count)*2)
	if err != nil {
		return nil, fmt.Errorf("failed to read %d page starts: %w", count, err)
	}
	starts := make([]uint16, count)
	for i := range starts {
		starts[i] = bo.Uint16(dat[2*i:])
	}
	return starts, nil
}
