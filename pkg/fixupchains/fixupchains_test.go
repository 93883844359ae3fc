package fixupchains

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/appsworld/go-linkedit/pkg/leb128"
	"github.com/appsworld/go-linkedit/types"
	"github.com/google/go-cmp/cmp"
	"github.com/klauspost/compress/zlib"
)

const (
	preferred  = 0x100000000
	rebase64   = uint64(0x100003f00) | 2<<51 // target 0x100003f00, next 2
	bind64     = uint64(1)<<63 | 5<<24 | 1   // ordinal 1, addend 5
	imageBytes = 0x6000
)

// chained64 is an image with __TEXT (no chains), __DATA at 0x4000 (two pages, one chain) and __LINKEDIT
func chained64(t testing.TB) (*DyldChainedFixups, types.MemorySource) {
	t.Helper()
	dcf := parse(t, payload{
		segments: []*segment{
			nil,
			{
				format:     types.DYLD_CHAINED_PTR_64,
				pageSize:   0x1000,
				segOffset:  0x4000,
				pageCount:  2,
				pageStarts: []types.DCPtrStart{0x10, types.DYLD_CHAINED_PTR_START_NONE},
			},
			nil,
		},
		importsCount: 2,
		imports:      uint32s(1, 2|1<<8|8<<9),
		symbols:      []byte("_malloc\x00_free\x00"),
	})
	img := make([]byte, imageBytes)
	put64(img, 0x4010, rebase64)
	put64(img, 0x4018, bind64)
	return dcf, types.MemorySource(img)
}

func TestParse(t *testing.T) {
	dcf, _ := chained64(t)

	wantImports := []Import{
		{LibOrdinal: 1, NameOffset: 0, Name: "_malloc"},
		{LibOrdinal: 2, WeakImport: true, NameOffset: 8, Name: "_free"},
	}
	if diff := cmp.Diff(wantImports, dcf.Imports); diff != "" {
		t.Errorf("Imports mismatch (-want +got):\n%s", diff)
	}

	if len(dcf.Starts) != 1 {
		t.Fatalf("got %d segment starts, want 1 (offset 0 entries are skipped)", len(dcf.Starts))
	}
	s := dcf.Starts[0]
	if s.SegIndex != 1 || s.PointerFormat != types.DYLD_CHAINED_PTR_64 || s.SegmentOffset != 0x4000 {
		t.Errorf("unexpected starts %+v", s)
	}
	if diff := cmp.Diff([]types.DCPtrStart{0x10, types.DYLD_CHAINED_PTR_START_NONE}, s.Pages()); diff != "" {
		t.Errorf("Pages() mismatch (-want +got):\n%s", diff)
	}
}

func TestParseImportFormats(t *testing.T) {
	t.Run("addend", func(t *testing.T) {
		dcf := parse(t, payload{
			importsFormat: types.DC_IMPORT_ADDEND,
			importsCount:  1,
			imports:       uint32s(0xff, 0xfffffffc), // flat lookup, addend -4
			symbols:       []byte("_x\x00"),
		})
		want := []Import{{LibOrdinal: -1, Addend: -4, Name: "_x"}}
		if diff := cmp.Diff(want, dcf.Imports); diff != "" {
			t.Errorf("Imports mismatch (-want +got):\n%s", diff)
		}
	})
	t.Run("addend64", func(t *testing.T) {
		imports := make([]byte, 16)
		le.PutUint64(imports, 0xfffe|1<<16|uint64(3)<<32) // ordinal -2, weak, name at 3
		le.PutUint64(imports[8:], 0x10)
		dcf := parse(t, payload{
			importsFormat: types.DC_IMPORT_ADDEND64,
			importsCount:  1,
			imports:       imports,
			symbols:       []byte("\x00\x00\x00_y\x00"),
		})
		want := []Import{{LibOrdinal: -2, WeakImport: true, NameOffset: 3, Addend: 0x10, Name: "_y"}}
		if diff := cmp.Diff(want, dcf.Imports); diff != "" {
			t.Errorf("Imports mismatch (-want +got):\n%s", diff)
		}
	})
	t.Run("zlib symbols", func(t *testing.T) {
		var pool bytes.Buffer
		zw := zlib.NewWriter(&pool)
		if _, err := zw.Write([]byte("_a\x00_bb\x00")); err != nil {
			t.Fatal(err)
		}
		if err := zw.Close(); err != nil {
			t.Fatal(err)
		}
		dcf := parse(t, payload{
			symbolsFormat: types.DC_SFORMAT_ZLIB_COMPRESSED,
			importsCount:  2,
			imports:       uint32s(1, 1|3<<9),
			symbols:       pool.Bytes(),
		})
		var names []string
		for _, imp := range dcf.Imports {
			names = append(names, imp.Name)
		}
		if diff := cmp.Diff([]string{"_a", "_bb"}, names); diff != "" {
			t.Errorf("names mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name    string
		data    func(t *testing.T) []byte
		wantErr error
	}{
		{
			name:    "truncated header",
			data:    func(*testing.T) []byte { return make([]byte, 10) },
			wantErr: leb128.ErrTruncated,
		},
		{
			name:    "imports format",
			data:    func(t *testing.T) []byte { return payload{importsFormat: 4}.build(t) },
			wantErr: ErrUnknownFormat,
		},
		{
			name:    "symbols format",
			data:    func(t *testing.T) []byte { return payload{symbolsFormat: 2}.build(t) },
			wantErr: ErrUnknownFormat,
		},
		{
			name: "pointer format",
			data: func(t *testing.T) []byte {
				return payload{segments: []*segment{{format: 15, pageSize: 0x1000}}}.build(t)
			},
			wantErr: ErrUnknownFormat,
		},
		{
			name: "zero page size",
			data: func(t *testing.T) []byte {
				return payload{segments: []*segment{{format: types.DYLD_CHAINED_PTR_64}}}.build(t)
			},
			wantErr: ErrMalformedStarts,
		},
		{
			name: "import name past pool",
			data: func(t *testing.T) []byte {
				return payload{importsCount: 1, imports: uint32s(1 | 40<<9), symbols: []byte("_a\x00")}.build(t)
			},
			wantErr: leb128.ErrTruncated,
		},
		{
			name: "imports past payload",
			data: func(t *testing.T) []byte {
				return payload{importsCount: 100, imports: uint32s(1)}.build(t)
			},
			wantErr: leb128.ErrTruncated,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.data(t), le)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Parse() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestWalk(t *testing.T) {
	dcf, src := chained64(t)

	got, err := dcf.Pointers(src)
	if err != nil {
		t.Fatal(err)
	}
	want := []Pointer{
		{Offset: 0x4010, Format: types.DYLD_CHAINED_PTR_64, SegIndex: 1, Raw: rebase64, Content: types.DyldChainedPtr64Rebase(rebase64)},
		{Offset: 0x4018, Format: types.DYLD_CHAINED_PTR_64, SegIndex: 1, Raw: bind64, Content: types.DyldChainedPtr64Bind(bind64)},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Pointers() mismatch (-want +got):\n%s", diff)
	}

	again, err := dcf.Pointers(src)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(got, again); diff != "" {
		t.Errorf("second walk differs (-first +second):\n%s", diff)
	}
}

func TestWalkStopsOnCallbackError(t *testing.T) {
	dcf, src := chained64(t)
	stop := errors.New("stop")
	visits := 0
	err := dcf.Walk(src, func(Pointer) error {
		visits++
		return stop
	})
	if !errors.Is(err, stop) || visits != 1 {
		t.Errorf("Walk() = %v after %d visits, want stop after 1", err, visits)
	}
}

func TestWalkMultiStarts(t *testing.T) {
	dcf := parse(t, payload{
		segments: []*segment{{
			format:    types.DYLD_CHAINED_PTR_32,
			pageSize:  0x100,
			segOffset: 0x1000,
			pageCount: 1,
			pageStarts: []types.DCPtrStart{
				types.DYLD_CHAINED_PTR_START_MULTI | 1,
				0x10,
				0x40 | types.DYLD_CHAINED_PTR_START_LAST,
			},
		}},
	})
	img := make([]byte, 0x1100)
	put32(img, 0x1010, 0x2000)          // rebase, end of chain
	put32(img, 0x1040, 0x3000|1<<26)    // rebase, next 1
	put32(img, 0x1044, 1<<31|3<<20|0x0) // bind ordinal 0, addend 3

	got, err := dcf.Pointers(types.MemorySource(img))
	if err != nil {
		t.Fatal(err)
	}
	var offsets []uint64
	var kinds []string
	for _, p := range got {
		offsets = append(offsets, p.Offset)
		kinds = append(kinds, p.Kind())
	}
	if diff := cmp.Diff([]uint64{0x1010, 0x1040, 0x1044}, offsets); diff != "" {
		t.Errorf("offsets mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"rebase", "rebase", "bind"}, kinds); diff != "" {
		t.Errorf("kinds mismatch (-want +got):\n%s", diff)
	}
}

func TestWalkMultiWithoutLast(t *testing.T) {
	dcf := parse(t, payload{
		segments: []*segment{{
			format:     types.DYLD_CHAINED_PTR_32,
			pageSize:   0x100,
			pageCount:  1,
			pageStarts: []types.DCPtrStart{types.DYLD_CHAINED_PTR_START_MULTI | 1, 0x10},
		}},
	})
	_, err := dcf.Pointers(types.MemorySource(make([]byte, 0x100)))
	if !errors.Is(err, ErrMalformedStarts) {
		t.Errorf("Pointers() error = %v, want ErrMalformedStarts", err)
	}
}

func TestChainBound(t *testing.T) {
	const pageSize = 0x20
	dcf := parse(t, payload{
		segments: []*segment{{
			format:     types.DYLD_CHAINED_PTR_ARM64E,
			pageSize:   pageSize,
			pageCount:  1,
			pageStarts: []types.DCPtrStart{0},
		}},
	})
	img := make([]byte, 0x40)
	for off := 0; off < len(img); off += 8 {
		put64(img, off, 1<<51|0x1000) // every slot links to the next one
	}

	visits := 0
	err := dcf.Walk(types.MemorySource(img), func(Pointer) error {
		visits++
		return nil
	})
	if !errors.Is(err, ErrChainTooLong) {
		t.Fatalf("Walk() error = %v, want ErrChainTooLong", err)
	}
	if limit := pageSize / int(types.DYLD_CHAINED_PTR_ARM64E.Stride()); visits > limit {
		t.Errorf("visited %d links, page allows at most %d", visits, limit)
	}
}

func TestDecode(t *testing.T) {
	tests := []struct {
		format types.DCPtrKind
		raw    uint64
		want   Content
		bind   bool
		auth   bool
	}{
		{types.DYLD_CHAINED_PTR_ARM64E, 1 << 62, types.DyldChainedPtrArm64eBind(1 << 62), true, false},
		{types.DYLD_CHAINED_PTR_64, 1 << 63, types.DyldChainedPtr64Bind(1 << 63), true, false},
		{types.DYLD_CHAINED_PTR_32, 0x80000000, types.DyldChainedPtr32Bind(0x80000000), true, false},
		{types.DYLD_CHAINED_PTR_32_CACHE, 0x1234, types.DyldChainedPtr32CacheRebase(0x1234), false, false},
		{types.DYLD_CHAINED_PTR_32_FIRMWARE, 0x1234, types.DyldChainedPtr32FirmwareRebase(0x1234), false, false},
		{types.DYLD_CHAINED_PTR_64_OFFSET, 0x1234, types.DyldChainedPtr64Rebase(0x1234), false, false},
		{types.DYLD_CHAINED_PTR_ARM64E_KERNEL, 1 << 63, types.DyldChainedPtrArm64eAuthRebase(1 << 63), false, true},
		{types.DYLD_CHAINED_PTR_64_KERNEL_CACHE, 1 << 63, types.DyldChainedPtr64KernelCacheRebase(1 << 63), false, true},
		{types.DYLD_CHAINED_PTR_ARM64E_USERLAND, 3 << 62, types.DyldChainedPtrArm64eAuthBind(3 << 62), true, true},
		{types.DYLD_CHAINED_PTR_ARM64E_FIRMWARE, 0x1234, types.DyldChainedPtrArm64eRebase(0x1234), false, false},
		{types.DYLD_CHAINED_PTR_X86_64_KERNEL_CACHE, 0x1234, types.DyldChainedPtr64KernelCacheRebase(0x1234), false, false},
		{types.DYLD_CHAINED_PTR_ARM64E_USERLAND24, 1 << 62, types.DyldChainedPtrArm64eBind24(1 << 62), true, false},
		{types.DYLD_CHAINED_PTR_ARM64E_SHARED_CACHE, 1 << 63, types.DyldChainedPtrArm64eSharedCacheAuthRebase(1 << 63), false, true},
		{types.DYLD_CHAINED_PTR_ARM64E_SEGMENTED, 0x10000010, types.DyldChainedPtrArm64eSegmentedRebase(0x10000010), false, false},
	}
	for _, tt := range tests {
		t.Run(tt.format.String(), func(t *testing.T) {
			got, err := Decode(tt.format, tt.raw)
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Decode() = %T(%#x), want %T(%#x)", got, got.Raw(), tt.want, tt.want.Raw())
			}
			if got.IsBind() != tt.bind || got.IsAuth() != tt.auth {
				t.Errorf("bind/auth = %t/%t, want %t/%t", got.IsBind(), got.IsAuth(), tt.bind, tt.auth)
			}
		})
	}
}

func TestDecodeUnknown(t *testing.T) {
	tests := []struct {
		format types.DCPtrKind
		raw    uint64
	}{
		{0, 0},
		{15, 0},
		{types.DYLD_CHAINED_PTR_ARM64E_SEGMENTED, 1 << 40},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d-%#x", tt.format, tt.raw), func(t *testing.T) {
			if _, err := Decode(tt.format, tt.raw); !errors.Is(err, ErrUnknownFormat) {
				t.Errorf("Decode() error = %v, want ErrUnknownFormat", err)
			}
		})
	}
}

type segTable []uint64

func (s segTable) SegmentVMOffset(index int) (uint64, error) {
	if index < 0 || index >= len(s) {
		return 0, fmt.Errorf("no segment %d", index)
	}
	return s[index], nil
}

func TestRebaseTargetRuntimeOffset(t *testing.T) {
	ptr := func(format types.DCPtrKind, raw uint64) Pointer {
		c, err := Decode(format, raw)
		if err != nil {
			t.Fatal(err)
		}
		return Pointer{Format: format, Raw: raw, Content: c}
	}
	tests := []struct {
		name    string
		ptr     Pointer
		segs    SegmentResolver
		want    uint64
		wantErr error
	}{
		{"arm64e vmaddr", ptr(types.DYLD_CHAINED_PTR_ARM64E, 0x100004000), nil, 0x4000, nil},
		{"arm64e firmware vmaddr", ptr(types.DYLD_CHAINED_PTR_ARM64E_FIRMWARE, 0x100004000), nil, 0x4000, nil},
		{"arm64e userland offset", ptr(types.DYLD_CHAINED_PTR_ARM64E_USERLAND, 0x4000), nil, 0x4000, nil},
		{"arm64e high8", ptr(types.DYLD_CHAINED_PTR_ARM64E_USERLAND, 0x4000|0x80<<43), nil, 0x8000000000004000, nil},
		{"arm64e auth", ptr(types.DYLD_CHAINED_PTR_ARM64E, 1<<63|0x5000), nil, 0x5000, nil},
		{"64 vmaddr", ptr(types.DYLD_CHAINED_PTR_64, 0x100002000), nil, 0x2000, nil},
		{"64 offset", ptr(types.DYLD_CHAINED_PTR_64_OFFSET, 0x2000), nil, 0x2000, nil},
		{"kernel cache", ptr(types.DYLD_CHAINED_PTR_64_KERNEL_CACHE, 0x1234), nil, 0x1234, nil},
		{"32", ptr(types.DYLD_CHAINED_PTR_32, 0x4010), nil, 0x10, nil},
		{"shared cache", ptr(types.DYLD_CHAINED_PTR_ARM64E_SHARED_CACHE, 0x123456), nil, 0x123456, nil},
		{"segmented", ptr(types.DYLD_CHAINED_PTR_ARM64E_SEGMENTED, 2<<28|0x40), segTable{0, 0x4000, 0x8000}, 0x8040, nil},
		{"bind", ptr(types.DYLD_CHAINED_PTR_64, bind64), nil, 0, ErrNotRebase},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pref := uint64(preferred)
			if !tt.ptr.Format.Is64() {
				pref = 0x4000
			}
			got, err := RebaseTargetRuntimeOffset(tt.ptr, pref, tt.segs)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("RebaseTargetRuntimeOffset() error = %v, want %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("RebaseTargetRuntimeOffset() = %#x, want %#x", got, tt.want)
			}
		})
	}

	if _, err := RebaseTargetRuntimeOffset(ptr(types.DYLD_CHAINED_PTR_ARM64E_SEGMENTED, 2<<28), 0, nil); err == nil {
		t.Error("segmented rebase without a segment table should fail")
	}
}

func TestPointerFor(t *testing.T) {
	dcf, src := chained64(t)

	p, err := dcf.PointerFor(src, 0x4018)
	if err != nil {
		t.Fatal(err)
	}
	if p.Offset != 0x4018 || p.Kind() != "bind" {
		t.Errorf("PointerFor() = %v", p)
	}

	for _, off := range []uint64{0x4020, 0x5010, 0x100, 0x7000} {
		if _, err := dcf.PointerFor(src, off); !errors.Is(err, ErrNoFixupAtOffset) {
			t.Errorf("PointerFor(%#x) error = %v, want ErrNoFixupAtOffset", off, err)
		}
	}
}

func TestResolve(t *testing.T) {
	dcf, src := chained64(t)

	target, err := dcf.ResolveRebase(src, 0x4010, preferred, nil)
	if err != nil || target != 0x3f00 {
		t.Errorf("ResolveRebase() = %#x, %v, want 0x3f00", target, err)
	}
	if _, err := dcf.ResolveRebase(src, 0x4018, preferred, nil); !errors.Is(err, ErrNotRebase) {
		t.Errorf("ResolveRebase(bind) error = %v, want ErrNotRebase", err)
	}

	target, ok, err := dcf.ResolveOptionalRebase(src, 0x4010, preferred, nil)
	if err != nil || !ok || target != 0x3f00 {
		t.Errorf("ResolveOptionalRebase() = %#x, %t, %v", target, ok, err)
	}
	if _, ok, err := dcf.ResolveOptionalRebase(src, 0x4020, preferred, nil); ok || err != nil {
		t.Errorf("ResolveOptionalRebase(zero slot) = %t, %v, want none", ok, err)
	}

	imp, addend, err := dcf.ResolveBind(src, 0x4018)
	if err != nil {
		t.Fatal(err)
	}
	if imp.Name != "_free" || addend != 5 {
		t.Errorf("ResolveBind() = %v, %d, want _free, 5", imp, addend)
	}
	if _, _, err := dcf.ResolveBind(src, 0x4010); !errors.Is(err, ErrNotBind) {
		t.Errorf("ResolveBind(rebase) error = %v, want ErrNotBind", err)
	}
}

func TestResolveBindOrdinalOutOfRange(t *testing.T) {
	dcf, src := chained64(t)
	dcf.Imports = dcf.Imports[:1]
	if _, _, err := dcf.ResolveBind(src, 0x4018); !errors.Is(err, ErrBadOrdinal) {
		t.Errorf("ResolveBind() error = %v, want ErrBadOrdinal", err)
	}
}
