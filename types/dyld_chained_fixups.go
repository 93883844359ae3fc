package types

import "fmt"

// DyldChainedFixupsHeader object is the header of the LC_DYLD_CHAINED_FIXUPS payload
type DyldChainedFixupsHeader struct {
	FixupsVersion uint32          // 0
	StartsOffset  uint32          // offset of DyldChainedStartsInImage in chain_data
	ImportsOffset uint32          // offset of imports table in chain_data
	SymbolsOffset uint32          // offset of symbol strings in chain_data
	ImportsCount  uint32          // number of imported symbol names
	ImportsFormat DCImportsFormat // DYLD_CHAINED_IMPORT*
	SymbolsFormat DCSymbolsFormat // 0 => uncompressed, 1 => zlib compressed
}

// DCSymbolsFormat are values for dyld_chained_fixups_header.symbols_format
type DCSymbolsFormat uint32

const (
	DC_SFORMAT_UNCOMPRESSED    DCSymbolsFormat = 0
	DC_SFORMAT_ZLIB_COMPRESSED DCSymbolsFormat = 1
)

func (f DCSymbolsFormat) String() string {
	switch f {
	case DC_SFORMAT_UNCOMPRESSED:
		return "uncompressed"
	case DC_SFORMAT_ZLIB_COMPRESSED:
		return "zlib"
	}
	return fmt.Sprintf("unknown(%d)", uint32(f))
}

// DCImportsFormat are values for dyld_chained_fixups_header.imports_format
type DCImportsFormat uint32

const (
	DC_IMPORT          DCImportsFormat = 1
	DC_IMPORT_ADDEND   DCImportsFormat = 2
	DC_IMPORT_ADDEND64 DCImportsFormat = 3
)

func (f DCImportsFormat) String() string {
	switch f {
	case DC_IMPORT:
		return "DYLD_CHAINED_IMPORT"
	case DC_IMPORT_ADDEND:
		return "DYLD_CHAINED_IMPORT_ADDEND"
	case DC_IMPORT_ADDEND64:
		return "DYLD_CHAINED_IMPORT_ADDEND64"
	}
	return fmt.Sprintf("unknown(%d)", uint32(f))
}

// DyldChainedStartsInImage this struct is embedded in LC_DYLD_CHAINED_FIXUPS payload
type DyldChainedStartsInImage struct {
	SegCount uint32
	// uint32_t seg_info_offset[seg_count] each entry is offset into this struct for that segment
	// followed by pool of dyld_chain_starts_in_segment data
}

// DCPtrKind are values for dyld_chained_starts_in_segment.pointer_format
type DCPtrKind uint16

const (
	DYLD_CHAINED_PTR_ARM64E              DCPtrKind = 1  // stride 8, unauth target is vmaddr
	DYLD_CHAINED_PTR_64                  DCPtrKind = 2  // target is vmaddr
	DYLD_CHAINED_PTR_32                  DCPtrKind = 3
	DYLD_CHAINED_PTR_32_CACHE            DCPtrKind = 4
	DYLD_CHAINED_PTR_32_FIRMWARE         DCPtrKind = 5
	DYLD_CHAINED_PTR_64_OFFSET           DCPtrKind = 6  // target is vm offset
	DYLD_CHAINED_PTR_ARM64E_KERNEL       DCPtrKind = 7  // stride 4, unauth target is vm offset
	DYLD_CHAINED_PTR_64_KERNEL_CACHE     DCPtrKind = 8
	DYLD_CHAINED_PTR_ARM64E_USERLAND     DCPtrKind = 9  // stride 8, unauth target is vm offset
	DYLD_CHAINED_PTR_ARM64E_FIRMWARE     DCPtrKind = 10 // stride 4, unauth target is vmaddr
	DYLD_CHAINED_PTR_X86_64_KERNEL_CACHE DCPtrKind = 11 // stride 1, x86_64 kernel caches
	DYLD_CHAINED_PTR_ARM64E_USERLAND24   DCPtrKind = 12 // stride 8, unauth target is vm offset, 24-bit bind
	DYLD_CHAINED_PTR_ARM64E_SHARED_CACHE DCPtrKind = 13 // stride 8, regular/auth targets both vm offsets. Only A keys supported
	DYLD_CHAINED_PTR_ARM64E_SEGMENTED    DCPtrKind = 14 // stride 4, rebase offsets use segIndex and segOffset
)

var ptrKindStrings = []IntName{
	{uint32(DYLD_CHAINED_PTR_ARM64E), "DYLD_CHAINED_PTR_ARM64E"},
	{uint32(DYLD_CHAINED_PTR_64), "DYLD_CHAINED_PTR_64"},
	{uint32(DYLD_CHAINED_PTR_32), "DYLD_CHAINED_PTR_32"},
	{uint32(DYLD_CHAINED_PTR_32_CACHE), "DYLD_CHAINED_PTR_32_CACHE"},
	{uint32(DYLD_CHAINED_PTR_32_FIRMWARE), "DYLD_CHAINED_PTR_32_FIRMWARE"},
	{uint32(DYLD_CHAINED_PTR_64_OFFSET), "DYLD_CHAINED_PTR_64_OFFSET"},
	{uint32(DYLD_CHAINED_PTR_ARM64E_KERNEL), "DYLD_CHAINED_PTR_ARM64E_KERNEL"},
	{uint32(DYLD_CHAINED_PTR_64_KERNEL_CACHE), "DYLD_CHAINED_PTR_64_KERNEL_CACHE"},
	{uint32(DYLD_CHAINED_PTR_ARM64E_USERLAND), "DYLD_CHAINED_PTR_ARM64E_USERLAND"},
	{uint32(DYLD_CHAINED_PTR_ARM64E_FIRMWARE), "DYLD_CHAINED_PTR_ARM64E_FIRMWARE"},
	{uint32(DYLD_CHAINED_PTR_X86_64_KERNEL_CACHE), "DYLD_CHAINED_PTR_X86_64_KERNEL_CACHE"},
	{uint32(DYLD_CHAINED_PTR_ARM64E_USERLAND24), "DYLD_CHAINED_PTR_ARM64E_USERLAND24"},
	{uint32(DYLD_CHAINED_PTR_ARM64E_SHARED_CACHE), "DYLD_CHAINED_PTR_ARM64E_SHARED_CACHE"},
	{uint32(DYLD_CHAINED_PTR_ARM64E_SEGMENTED), "DYLD_CHAINED_PTR_ARM64E_SEGMENTED"},
}

func (k DCPtrKind) String() string { return StringName(uint32(k), ptrKindStrings, false) }

// Known reports whether k is one of the enumerated pointer formats
func (k DCPtrKind) Known() bool {
	return k >= DYLD_CHAINED_PTR_ARM64E && k <= DYLD_CHAINED_PTR_ARM64E_SEGMENTED
}

// Stride is the unit of a chain's next field in bytes
func (k DCPtrKind) Stride() uint64 {
	switch k {
	case DYLD_CHAINED_PTR_ARM64E,
		DYLD_CHAINED_PTR_ARM64E_USERLAND,
		DYLD_CHAINED_PTR_ARM64E_USERLAND24,
		DYLD_CHAINED_PTR_ARM64E_SHARED_CACHE:
		return 8
	case DYLD_CHAINED_PTR_X86_64_KERNEL_CACHE:
		return 1
	case DYLD_CHAINED_PTR_64,
		DYLD_CHAINED_PTR_64_OFFSET,
		DYLD_CHAINED_PTR_32,
		DYLD_CHAINED_PTR_32_CACHE,
		DYLD_CHAINED_PTR_32_FIRMWARE,
		DYLD_CHAINED_PTR_ARM64E_KERNEL,
		DYLD_CHAINED_PTR_64_KERNEL_CACHE,
		DYLD_CHAINED_PTR_ARM64E_FIRMWARE,
		DYLD_CHAINED_PTR_ARM64E_SEGMENTED:
		return 4
	}
	return 0
}

// Is64 reports whether chain slots of this format are 8 bytes wide
func (k DCPtrKind) Is64() bool {
	switch k {
	case DYLD_CHAINED_PTR_32, DYLD_CHAINED_PTR_32_CACHE, DYLD_CHAINED_PTR_32_FIRMWARE:
		return false
	}
	return k.Known()
}

// IsArm64e reports whether the format uses the arm64e auth/bind bit pair
func (k DCPtrKind) IsArm64e() bool {
	switch k {
	case DYLD_CHAINED_PTR_ARM64E,
		DYLD_CHAINED_PTR_ARM64E_KERNEL,
		DYLD_CHAINED_PTR_ARM64E_USERLAND,
		DYLD_CHAINED_PTR_ARM64E_FIRMWARE,
		DYLD_CHAINED_PTR_ARM64E_USERLAND24:
		return true
	}
	return false
}

// DyldChainedStartsInSegment object is embedded in dyld_chain_starts_in_image
// and passed down to the kernel for page-in linking
type DyldChainedStartsInSegment struct {
	Size            uint32    // size of this (amount kernel needs to copy)
	PageSize        uint16    // 0x1000 or 0x4000
	PointerFormat   DCPtrKind // DYLD_CHAINED_PTR_*
	SegmentOffset   uint64    // offset in memory to start of segment
	MaxValidPointer uint32    // for 32-bit OS, any value beyond this is not a pointer
	PageCount       uint16    // how many pages are in array
	// uint16_t    page_start[1]      // each entry is offset in each page of first element in chain
	//                                 // or DYLD_CHAINED_PTR_START_NONE if no fixups on page
	// uint16_t    chain_starts[1];    // some 32-bit formats may require multiple starts per page.
	// for those, if high bit is set in page_starts[], then it
	// is index into chain_starts[] which is a list of starts
	// the last of which has the high bit set
}

type DCPtrStart uint16

const (
	DYLD_CHAINED_PTR_START_NONE  DCPtrStart = 0xFFFF // used in page_start[] to denote a page with no fixups
	DYLD_CHAINED_PTR_START_MULTI DCPtrStart = 0x8000 // used in page_start[] to denote a page which has multiple starts
	DYLD_CHAINED_PTR_START_LAST  DCPtrStart = 0x8000 // used in chain_starts[] to denote last start in list for page
)

// KeyName returns the pointer authentication key name
func KeyName(key uint64) string {
	name := []string{"IA", "IB", "DA", "DB"}
	if key >= 4 {
		return "ERROR"
	}
	return name[key]
}

func signExtend19(addend19 uint64) int64 {
	if (addend19 & 0x40000) != 0 {
		return int64(addend19 | 0xFFFFFFFFFFFC0000)
	}
	return int64(addend19)
}

func DcpArm64eIsBind(ptr uint64) bool {
	return ExtractBits(ptr, 62, 1) != 0
}

func DcpArm64eIsAuth(ptr uint64) bool {
	return ExtractBits(ptr, 63, 1) != 0
}

// DYLD_CHAINED_PTR_ARM64E
type DyldChainedPtrArm64eRebase uint64

func (d DyldChainedPtrArm64eRebase) Raw() uint64 { return uint64(d) }
func (d DyldChainedPtrArm64eRebase) Target() uint64 {
	return ExtractBits(uint64(d), 0, 43) // runtimeOffset
}
func (d DyldChainedPtrArm64eRebase) High8() uint64 {
	return ExtractBits(uint64(d), 43, 8)
}
func (d DyldChainedPtrArm64eRebase) UnpackedTarget() uint64 {
	return d.High8()<<56 | d.Target()
}
func (d DyldChainedPtrArm64eRebase) Next() uint64 {
	return ExtractBits(uint64(d), 51, 11) // 4 or 8-byte stide
}
func (d DyldChainedPtrArm64eRebase) IsBind() bool { return false }
func (d DyldChainedPtrArm64eRebase) IsAuth() bool { return false }
func (d DyldChainedPtrArm64eRebase) String() string {
	return fmt.Sprintf("target: %#x, high8: %#x, next: %d, type: rebase", d.Target(), d.High8(), d.Next())
}

// DYLD_CHAINED_PTR_ARM64E
type DyldChainedPtrArm64eBind uint64

func (d DyldChainedPtrArm64eBind) Raw() uint64 { return uint64(d) }
func (d DyldChainedPtrArm64eBind) Ordinal() uint64 {
	return ExtractBits(uint64(d), 0, 16)
}
func (d DyldChainedPtrArm64eBind) Zero() uint64 {
	return ExtractBits(uint64(d), 16, 16)
}
func (d DyldChainedPtrArm64eBind) Addend() int64 {
	return signExtend19(ExtractBits(uint64(d), 32, 19)) // +/-256K
}
func (d DyldChainedPtrArm64eBind) Next() uint64 {
	return ExtractBits(uint64(d), 51, 11) // 4 or 8-byte stide
}
func (d DyldChainedPtrArm64eBind) IsBind() bool { return true }
func (d DyldChainedPtrArm64eBind) IsAuth() bool { return false }
func (d DyldChainedPtrArm64eBind) String() string {
	return fmt.Sprintf("ordinal: %d, addend: %d, next: %d, type: bind", d.Ordinal(), d.Addend(), d.Next())
}

// DYLD_CHAINED_PTR_ARM64E
type DyldChainedPtrArm64eAuthRebase uint64

func (d DyldChainedPtrArm64eAuthRebase) Raw() uint64 { return uint64(d) }
func (d DyldChainedPtrArm64eAuthRebase) Target() uint64 {
	return ExtractBits(uint64(d), 0, 32) // runtimeOffset
}
func (d DyldChainedPtrArm64eAuthRebase) Diversity() uint64 {
	return ExtractBits(uint64(d), 32, 16)
}
func (d DyldChainedPtrArm64eAuthRebase) AddrDiv() bool {
	return ExtractBits(uint64(d), 48, 1) != 0
}
func (d DyldChainedPtrArm64eAuthRebase) Key() uint64 {
	return ExtractBits(uint64(d), 49, 2)
}
func (d DyldChainedPtrArm64eAuthRebase) Next() uint64 {
	return ExtractBits(uint64(d), 51, 11) // 4 or 8-byte stide
}
func (d DyldChainedPtrArm64eAuthRebase) IsBind() bool { return false }
func (d DyldChainedPtrArm64eAuthRebase) IsAuth() bool { return true }
func (d DyldChainedPtrArm64eAuthRebase) String() string {
	return fmt.Sprintf("target: %#x, diversity: %#04x, addr_div: %t, key: %s, next: %d, type: auth-rebase",
		d.Target(), d.Diversity(), d.AddrDiv(), KeyName(d.Key()), d.Next())
}

// DYLD_CHAINED_PTR_ARM64E
type DyldChainedPtrArm64eAuthBind uint64

func (d DyldChainedPtrArm64eAuthBind) Raw() uint64 { return uint64(d) }
func (d DyldChainedPtrArm64eAuthBind) Ordinal() uint64 {
	return ExtractBits(uint64(d), 0, 16)
}
func (d DyldChainedPtrArm64eAuthBind) Zero() uint64 {
	return ExtractBits(uint64(d), 16, 16)
}
func (d DyldChainedPtrArm64eAuthBind) Addend() int64 { return 0 }
func (d DyldChainedPtrArm64eAuthBind) Diversity() uint64 {
	return ExtractBits(uint64(d), 32, 16)
}
func (d DyldChainedPtrArm64eAuthBind) AddrDiv() bool {
	return ExtractBits(uint64(d), 48, 1) != 0
}
func (d DyldChainedPtrArm64eAuthBind) Key() uint64 {
	return ExtractBits(uint64(d), 49, 2)
}
func (d DyldChainedPtrArm64eAuthBind) Next() uint64 {
	return ExtractBits(uint64(d), 51, 11) // 4 or 8-byte stide
}
func (d DyldChainedPtrArm64eAuthBind) IsBind() bool { return true }
func (d DyldChainedPtrArm64eAuthBind) IsAuth() bool { return true }
func (d DyldChainedPtrArm64eAuthBind) String() string {
	return fmt.Sprintf("ordinal: %d, diversity: %#04x, addr_div: %t, key: %s, next: %d, type: auth-bind",
		d.Ordinal(), d.Diversity(), d.AddrDiv(), KeyName(d.Key()), d.Next())
}

// DYLD_CHAINED_PTR_ARM64E_USERLAND24
type DyldChainedPtrArm64eBind24 uint64

func (d DyldChainedPtrArm64eBind24) Raw() uint64 { return uint64(d) }
func (d DyldChainedPtrArm64eBind24) Ordinal() uint64 {
	return ExtractBits(uint64(d), 0, 24)
}
func (d DyldChainedPtrArm64eBind24) Zero() uint64 {
	return ExtractBits(uint64(d), 24, 8)
}
func (d DyldChainedPtrArm64eBind24) Addend() int64 {
	return signExtend19(ExtractBits(uint64(d), 32, 19)) // +/-256K
}
func (d DyldChainedPtrArm64eBind24) Next() uint64 {
	return ExtractBits(uint64(d), 51, 11) // 8-byte stide
}
func (d DyldChainedPtrArm64eBind24) IsBind() bool { return true }
func (d DyldChainedPtrArm64eBind24) IsAuth() bool { return false }
func (d DyldChainedPtrArm64eBind24) String() string {
	return fmt.Sprintf("ordinal: %d, addend: %d, next: %d, type: bind24", d.Ordinal(), d.Addend(), d.Next())
}

// DYLD_CHAINED_PTR_ARM64E_USERLAND24
type DyldChainedPtrArm64eAuthBind24 uint64

func (d DyldChainedPtrArm64eAuthBind24) Raw() uint64 { return uint64(d) }
func (d DyldChainedPtrArm64eAuthBind24) Ordinal() uint64 {
	return ExtractBits(uint64(d), 0, 24)
}
func (d DyldChainedPtrArm64eAuthBind24) Zero() uint64 {
	return ExtractBits(uint64(d), 24, 8)
}
func (d DyldChainedPtrArm64eAuthBind24) Addend() int64 { return 0 }
func (d DyldChainedPtrArm64eAuthBind24) Diversity() uint64 {
	return ExtractBits(uint64(d), 32, 16)
}
func (d DyldChainedPtrArm64eAuthBind24) AddrDiv() bool {
	return ExtractBits(uint64(d), 48, 1) != 0
}
func (d DyldChainedPtrArm64eAuthBind24) Key() uint64 {
	return ExtractBits(uint64(d), 49, 2)
}
func (d DyldChainedPtrArm64eAuthBind24) Next() uint64 {
	return ExtractBits(uint64(d), 51, 11) // 8-byte stide
}
func (d DyldChainedPtrArm64eAuthBind24) IsBind() bool { return true }
func (d DyldChainedPtrArm64eAuthBind24) IsAuth() bool { return true }
func (d DyldChainedPtrArm64eAuthBind24) String() string {
	return fmt.Sprintf("ordinal: %d, diversity: %#04x, addr_div: %t, key: %s, next: %d, type: auth-bind24",
		d.Ordinal(), d.Diversity(), d.AddrDiv(), KeyName(d.Key()), d.Next())
}

// DYLD_CHAINED_PTR_64/DYLD_CHAINED_PTR_64_OFFSET
type DyldChainedPtr64Rebase uint64

func (d DyldChainedPtr64Rebase) Raw() uint64 { return uint64(d) }
func (d DyldChainedPtr64Rebase) Target() uint64 {
	return ExtractBits(uint64(d), 0, 36) // 64GB max image size (DYLD_CHAINED_PTR_64 => vmAddr, DYLD_CHAINED_PTR_64_OFFSET => runtimeOffset)
}
func (d DyldChainedPtr64Rebase) High8() uint64 {
	return ExtractBits(uint64(d), 36, 8) // top 8 bits set to this (DYLD_CHAINED_PTR_64 => after slide added, DYLD_CHAINED_PTR_64_OFFSET => before slide added)
}
func (d DyldChainedPtr64Rebase) UnpackedTarget() uint64 {
	return d.High8()<<56 | d.Target()
}
func (d DyldChainedPtr64Rebase) Reserved() uint64 {
	return ExtractBits(uint64(d), 44, 7) // all zeros
}
func (d DyldChainedPtr64Rebase) Next() uint64 {
	return ExtractBits(uint64(d), 51, 12) // 4-byte stride
}
func (d DyldChainedPtr64Rebase) IsBind() bool { return false }
func (d DyldChainedPtr64Rebase) IsAuth() bool { return false }
func (d DyldChainedPtr64Rebase) String() string {
	return fmt.Sprintf("target: %#x, high8: %#x, next: %d, type: rebase", d.Target(), d.High8(), d.Next())
}

func Generic64IsBind(ptr uint64) bool {
	return ExtractBits(ptr, 63, 1) != 0
}

// DYLD_CHAINED_PTR_64
type DyldChainedPtr64Bind uint64

func (d DyldChainedPtr64Bind) Raw() uint64 { return uint64(d) }
func (d DyldChainedPtr64Bind) Ordinal() uint64 {
	return ExtractBits(uint64(d), 0, 24)
}
func (d DyldChainedPtr64Bind) Addend() int64 {
	return int64(ExtractBits(uint64(d), 24, 8)) // 0 thru 255
}
func (d DyldChainedPtr64Bind) Reserved() uint64 {
	return ExtractBits(uint64(d), 32, 19) // all zeros
}
func (d DyldChainedPtr64Bind) Next() uint64 {
	return ExtractBits(uint64(d), 51, 12) // 4-byte stride
}
func (d DyldChainedPtr64Bind) IsBind() bool { return true }
func (d DyldChainedPtr64Bind) IsAuth() bool { return false }
func (d DyldChainedPtr64Bind) String() string {
	return fmt.Sprintf("ordinal: %d, addend: %d, next: %d, type: bind", d.Ordinal(), d.Addend(), d.Next())
}

// DYLD_CHAINED_PTR_64_KERNEL_CACHE, DYLD_CHAINED_PTR_X86_64_KERNEL_CACHE
type DyldChainedPtr64KernelCacheRebase uint64

func (d DyldChainedPtr64KernelCacheRebase) Raw() uint64 { return uint64(d) }
func (d DyldChainedPtr64KernelCacheRebase) Target() uint64 {
	return ExtractBits(uint64(d), 0, 30) // basePointers[cacheLevel] + target
}
func (d DyldChainedPtr64KernelCacheRebase) CacheLevel() uint64 {
	return ExtractBits(uint64(d), 30, 2) // what level of cache to bind to (indexes a mach_header array)
}
func (d DyldChainedPtr64KernelCacheRebase) Diversity() uint64 {
	return ExtractBits(uint64(d), 32, 16)
}
func (d DyldChainedPtr64KernelCacheRebase) AddrDiv() bool {
	return ExtractBits(uint64(d), 48, 1) != 0
}
func (d DyldChainedPtr64KernelCacheRebase) Key() uint64 {
	return ExtractBits(uint64(d), 49, 2)
}
func (d DyldChainedPtr64KernelCacheRebase) Next() uint64 {
	return ExtractBits(uint64(d), 51, 12) // 1 or 4-byte stide
}
func (d DyldChainedPtr64KernelCacheRebase) IsBind() bool { return false }
func (d DyldChainedPtr64KernelCacheRebase) IsAuth() bool {
	return ExtractBits(uint64(d), 63, 1) != 0
}
func (d DyldChainedPtr64KernelCacheRebase) String() string {
	if d.IsAuth() {
		return fmt.Sprintf("target: %#x, cache_level: %d, diversity: %#04x, addr_div: %t, key: %s, next: %d, type: auth-rebase",
			d.Target(), d.CacheLevel(), d.Diversity(), d.AddrDiv(), KeyName(d.Key()), d.Next())
	}
	return fmt.Sprintf("target: %#x, cache_level: %d, next: %d, type: rebase", d.Target(), d.CacheLevel(), d.Next())
}

func Generic32IsBind(ptr uint32) bool {
	return ExtractBits(uint64(ptr), 31, 1) != 0
}

// DYLD_CHAINED_PTR_32
type DyldChainedPtr32Rebase uint32

func (d DyldChainedPtr32Rebase) Raw() uint64 { return uint64(d) }
func (d DyldChainedPtr32Rebase) Target() uint64 {
	return ExtractBits(uint64(d), 0, 26) // vmaddr, 64MB max image size
}
func (d DyldChainedPtr32Rebase) Next() uint64 {
	return ExtractBits(uint64(d), 26, 5) // 4-byte stride
}
func (d DyldChainedPtr32Rebase) IsBind() bool { return false }
func (d DyldChainedPtr32Rebase) IsAuth() bool { return false }
func (d DyldChainedPtr32Rebase) String() string {
	return fmt.Sprintf("target: %#08x, next: %d, type: rebase", d.Target(), d.Next())
}

// DYLD_CHAINED_PTR_32
type DyldChainedPtr32Bind uint32

func (d DyldChainedPtr32Bind) Raw() uint64 { return uint64(d) }
func (d DyldChainedPtr32Bind) Ordinal() uint64 {
	return ExtractBits(uint64(d), 0, 20)
}
func (d DyldChainedPtr32Bind) Addend() int64 {
	return int64(ExtractBits(uint64(d), 20, 6)) // 0 thru 63
}
func (d DyldChainedPtr32Bind) Next() uint64 {
	return ExtractBits(uint64(d), 26, 5) // 4-byte stride
}
func (d DyldChainedPtr32Bind) IsBind() bool { return true }
func (d DyldChainedPtr32Bind) IsAuth() bool { return false }
func (d DyldChainedPtr32Bind) String() string {
	return fmt.Sprintf("ordinal: %d, addend: %d, next: %d, type: bind", d.Ordinal(), d.Addend(), d.Next())
}

// DYLD_CHAINED_PTR_32_CACHE
type DyldChainedPtr32CacheRebase uint32

func (d DyldChainedPtr32CacheRebase) Raw() uint64 { return uint64(d) }
func (d DyldChainedPtr32CacheRebase) Target() uint64 {
	return ExtractBits(uint64(d), 0, 30) // 1GB max dyld cache TEXT and DATA
}
func (d DyldChainedPtr32CacheRebase) Next() uint64 {
	return ExtractBits(uint64(d), 30, 2) // 4-byte stride
}
func (d DyldChainedPtr32CacheRebase) IsBind() bool { return false }
func (d DyldChainedPtr32CacheRebase) IsAuth() bool { return false }
func (d DyldChainedPtr32CacheRebase) String() string {
	return fmt.Sprintf("target: %#08x, next: %d, type: rebase", d.Target(), d.Next())
}

// DYLD_CHAINED_PTR_32_FIRMWARE
type DyldChainedPtr32FirmwareRebase uint32

func (d DyldChainedPtr32FirmwareRebase) Raw() uint64 { return uint64(d) }
func (d DyldChainedPtr32FirmwareRebase) Target() uint64 {
	return ExtractBits(uint64(d), 0, 26) // 64MB max firmware TEXT and DATA
}
func (d DyldChainedPtr32FirmwareRebase) Next() uint64 {
	return ExtractBits(uint64(d), 26, 6) // 4-byte stride
}
func (d DyldChainedPtr32FirmwareRebase) IsBind() bool { return false }
func (d DyldChainedPtr32FirmwareRebase) IsAuth() bool { return false }
func (d DyldChainedPtr32FirmwareRebase) String() string {
	return fmt.Sprintf("target: %#08x, next: %d, type: rebase", d.Target(), d.Next())
}

// DYLD_CHAINED_PTR_ARM64E_SHARED_CACHE
type DyldChainedPtrArm64eSharedCacheRebase uint64

func (d DyldChainedPtrArm64eSharedCacheRebase) Raw() uint64 { return uint64(d) }
func (d DyldChainedPtrArm64eSharedCacheRebase) RuntimeOffset() uint64 {
	return ExtractBits(uint64(d), 0, 34) // offset from the start of the shared cache
}
func (d DyldChainedPtrArm64eSharedCacheRebase) High8() uint64 {
	return ExtractBits(uint64(d), 34, 8)
}
func (d DyldChainedPtrArm64eSharedCacheRebase) Target() uint64 {
	return d.RuntimeOffset()
}
func (d DyldChainedPtrArm64eSharedCacheRebase) Next() uint64 {
	return ExtractBits(uint64(d), 52, 11) // 8-byte stide
}
func (d DyldChainedPtrArm64eSharedCacheRebase) IsBind() bool { return false }
func (d DyldChainedPtrArm64eSharedCacheRebase) IsAuth() bool { return false }
func (d DyldChainedPtrArm64eSharedCacheRebase) String() string {
	return fmt.Sprintf("runtime_offset: %#x, high8: %#x, next: %d, type: rebase", d.RuntimeOffset(), d.High8(), d.Next())
}

// DYLD_CHAINED_PTR_ARM64E_SHARED_CACHE
type DyldChainedPtrArm64eSharedCacheAuthRebase uint64

func (d DyldChainedPtrArm64eSharedCacheAuthRebase) Raw() uint64 { return uint64(d) }
func (d DyldChainedPtrArm64eSharedCacheAuthRebase) RuntimeOffset() uint64 {
	return ExtractBits(uint64(d), 0, 34) // offset from the start of the shared cache
}
func (d DyldChainedPtrArm64eSharedCacheAuthRebase) Target() uint64 {
	return d.RuntimeOffset()
}
func (d DyldChainedPtrArm64eSharedCacheAuthRebase) Diversity() uint64 {
	return ExtractBits(uint64(d), 34, 16)
}
func (d DyldChainedPtrArm64eSharedCacheAuthRebase) AddrDiv() bool {
	return ExtractBits(uint64(d), 50, 1) != 0
}
func (d DyldChainedPtrArm64eSharedCacheAuthRebase) KeyIsData() bool {
	return ExtractBits(uint64(d), 51, 1) != 0 // implicitly always the 'A' key.  0 -> IA.  1 -> DA
}
func (d DyldChainedPtrArm64eSharedCacheAuthRebase) KeyName() string {
	if d.KeyIsData() {
		return "DA"
	}
	return "IA"
}
func (d DyldChainedPtrArm64eSharedCacheAuthRebase) Next() uint64 {
	return ExtractBits(uint64(d), 52, 11) // 8-byte stide
}
func (d DyldChainedPtrArm64eSharedCacheAuthRebase) IsBind() bool { return false }
func (d DyldChainedPtrArm64eSharedCacheAuthRebase) IsAuth() bool { return true }
func (d DyldChainedPtrArm64eSharedCacheAuthRebase) String() string {
	return fmt.Sprintf("runtime_offset: %#x, diversity: %#04x, addr_div: %t, key: %s, next: %d, type: auth-rebase",
		d.RuntimeOffset(), d.Diversity(), d.AddrDiv(), d.KeyName(), d.Next())
}

// DYLD_CHAINED_PTR_ARM64E_SEGMENTED
type DyldChainedPtrArm64eSegmentedRebase uint64

func (d DyldChainedPtrArm64eSegmentedRebase) Raw() uint64 { return uint64(d) }
func (d DyldChainedPtrArm64eSegmentedRebase) TargetSegOffset() uint64 {
	return ExtractBits(uint64(d), 0, 28) // offset in segment
}
func (d DyldChainedPtrArm64eSegmentedRebase) TargetSegIndex() uint64 {
	return ExtractBits(uint64(d), 28, 4) // index into segment address table
}
func (d DyldChainedPtrArm64eSegmentedRebase) Next() uint64 {
	return ExtractBits(uint64(d), 51, 12) // 4-byte stide
}
func (d DyldChainedPtrArm64eSegmentedRebase) IsBind() bool { return false }
func (d DyldChainedPtrArm64eSegmentedRebase) IsAuth() bool { return false }
func (d DyldChainedPtrArm64eSegmentedRebase) String() string {
	return fmt.Sprintf("seg_index: %d, seg_offset: %#x, next: %d, type: rebase", d.TargetSegIndex(), d.TargetSegOffset(), d.Next())
}

// DYLD_CHAINED_PTR_ARM64E_SEGMENTED
type DyldChainedPtrArm64eSegmentedAuthRebase uint64

func (d DyldChainedPtrArm64eSegmentedAuthRebase) Raw() uint64 { return uint64(d) }
func (d DyldChainedPtrArm64eSegmentedAuthRebase) TargetSegOffset() uint64 {
	return ExtractBits(uint64(d), 0, 28) // offset in segment
}
func (d DyldChainedPtrArm64eSegmentedAuthRebase) TargetSegIndex() uint64 {
	return ExtractBits(uint64(d), 28, 4) // index into segment address table
}
func (d DyldChainedPtrArm64eSegmentedAuthRebase) Diversity() uint64 {
	return ExtractBits(uint64(d), 32, 16)
}
func (d DyldChainedPtrArm64eSegmentedAuthRebase) AddrDiv() bool {
	return ExtractBits(uint64(d), 48, 1) != 0
}
func (d DyldChainedPtrArm64eSegmentedAuthRebase) Key() uint64 {
	return ExtractBits(uint64(d), 49, 2)
}
func (d DyldChainedPtrArm64eSegmentedAuthRebase) Next() uint64 {
	return ExtractBits(uint64(d), 51, 12) // 4-byte stide
}
func (d DyldChainedPtrArm64eSegmentedAuthRebase) IsBind() bool { return false }
func (d DyldChainedPtrArm64eSegmentedAuthRebase) IsAuth() bool { return true }
func (d DyldChainedPtrArm64eSegmentedAuthRebase) String() string {
	return fmt.Sprintf("seg_index: %d, seg_offset: %#x, diversity: %#04x, addr_div: %t, key: %s, next: %d, type: auth-rebase",
		d.TargetSegIndex(), d.TargetSegOffset(), d.Diversity(), d.AddrDiv(), KeyName(d.Key()), d.Next())
}

// DYLD_CHAINED_IMPORT
type DyldChainedImport uint32

func (d DyldChainedImport) LibOrdinal() int {
	return int(int8(ExtractBits(uint64(d), 0, 8)))
}
func (d DyldChainedImport) WeakImport() bool {
	return ExtractBits(uint64(d), 8, 1) == 1
}
func (d DyldChainedImport) NameOffset() uint64 {
	return ExtractBits(uint64(d), 9, 23)
}
func (d DyldChainedImport) String() string {
	return fmt.Sprintf("lib ordinal: %d, is_weak: %t", d.LibOrdinal(), d.WeakImport())
}

// DYLD_CHAINED_IMPORT_ADDEND
type DyldChainedImportAddend struct {
	Import DyldChainedImport
	Addend int32
}

func (i DyldChainedImportAddend) String() string {
	return fmt.Sprintf("lib ordinal: %d, is_weak: %t, addend: %#08x", i.Import.LibOrdinal(), i.Import.WeakImport(), i.Addend)
}

// DYLD_CHAINED_IMPORT_ADDEND64
type DyldChainedImport64 uint64

func (d DyldChainedImport64) LibOrdinal() int {
	return int(int16(ExtractBits(uint64(d), 0, 16)))
}
func (d DyldChainedImport64) WeakImport() bool {
	return ExtractBits(uint64(d), 16, 1) == 1
}
func (d DyldChainedImport64) Reserved() uint64 {
	return ExtractBits(uint64(d), 17, 15)
}
func (d DyldChainedImport64) NameOffset() uint64 {
	return ExtractBits(uint64(d), 32, 32)
}
func (d DyldChainedImport64) String() string {
	return fmt.Sprintf("lib ordinal: %d, is_weak: %t", d.LibOrdinal(), d.WeakImport())
}

// DYLD_CHAINED_IMPORT_ADDEND64
type DyldChainedImportAddend64 struct {
	Import DyldChainedImport64
	Addend uint64
}

func (i DyldChainedImportAddend64) String() string {
	return fmt.Sprintf("lib ordinal: %d, is_weak: %t, addend: %#016x", i.Import.LibOrdinal(), i.Import.WeakImport(), i.Addend)
}
