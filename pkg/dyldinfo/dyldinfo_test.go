package dyldinfo

import (
	"errors"
	"testing"

	"github.com/appsworld/go-linkedit/pkg/leb128"
	"github.com/google/go-cmp/cmp"
)

var bindStream = []byte{
	0x11,                               // SET_DYLIB_ORDINAL_IMM(1)
	0x40, '_', 'p', 'u', 't', 's', 0x00, // SET_SYMBOL_TRAILING_FLAGS_IMM(0, _puts)
	0x51,       // SET_TYPE_IMM(1)
	0x72, 0x10, // SET_SEGMENT_AND_OFFSET_ULEB(2, 0x10)
	0x90,                 // DO_BIND
	0x3f,                 // SET_DYLIB_SPECIAL_IMM(-1)
	0x41, '_', 'w', 0x00, // SET_SYMBOL_TRAILING_FLAGS_IMM(1, _w)
	0x60, 0x7f, // SET_ADDEND_SLEB(-1)
	0xa0, 0x08, // DO_BIND_ADD_ADDR_ULEB(8)
	0xb1,             // DO_BIND_ADD_ADDR_IMM_SCALED(1)
	0xc0, 0x02, 0x10, // DO_BIND_ULEB_TIMES_SKIPPING_ULEB(2, 0x10)
	0x00,       // DONE
	0x80, 0x04, // ADD_ADDR_ULEB(4)
	0x90, // DO_BIND
}

func TestBindOperations(t *testing.T) {
	ops, err := BindOperations(bindStream).All()
	if err != nil {
		t.Fatal(err)
	}
	want := []BindOp{
		{Pos: 0, Opcode: BindSetDylibOrdinalImm, Ordinal: 1},
		{Pos: 1, Opcode: BindSetSymbolTrailingFlagsImm, Symbol: "_puts"},
		{Pos: 8, Opcode: BindSetTypeImm, Type: 1},
		{Pos: 9, Opcode: BindSetSegmentAndOffsetUleb, Segment: 2, Offset: 0x10},
		{Pos: 11, Opcode: BindDoBind},
		{Pos: 12, Opcode: BindSetDylibSpecialImm, Ordinal: -1},
		{Pos: 13, Opcode: BindSetSymbolTrailingFlagsImm, Flags: 1, Symbol: "_w"},
		{Pos: 17, Opcode: BindSetAddendSleb, Addend: -1},
		{Pos: 19, Opcode: BindDoBindAddAddrUleb, Offset: 8},
		{Pos: 21, Opcode: BindDoBindAddAddrImmScaled, Scale: 1},
		{Pos: 22, Opcode: BindDoBindUlebTimesSkippingUleb, Count: 2, Skip: 0x10},
		{Pos: 25, Opcode: BindDone},
		{Pos: 26, Opcode: BindAddAddrUleb, Offset: 4},
		{Pos: 28, Opcode: BindDoBind},
	}
	if diff := cmp.Diff(want, ops); diff != "" {
		t.Errorf("BindOperations() mismatch (-want +got):\n%s", diff)
	}
}

func TestBindOperationsIdempotent(t *testing.T) {
	first, err := BindOperations(bindStream).All()
	if err != nil {
		t.Fatal(err)
	}
	second, err := BindOperations(bindStream).All()
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("second decode differs (-first +second):\n%s", diff)
	}
}

func TestSpecialOrdinals(t *testing.T) {
	tests := []struct {
		b    byte
		want int64
		name string
	}{
		{0x30, 0, "self"},
		{0x3f, -1, "main-executable"},
		{0x3e, -2, "flat-lookup"},
		{0x3d, -3, "weak-lookup"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op, ok := BindOperations([]byte{tt.b}).Next()
			if !ok {
				t.Fatal("Next() = false")
			}
			if op.Ordinal != tt.want {
				t.Errorf("ordinal = %d, want %d", op.Ordinal, tt.want)
			}
			if got := SpecialOrdinalName(op.Ordinal); got != tt.name {
				t.Errorf("SpecialOrdinalName() = %q, want %q", got, tt.name)
			}
		})
	}
}

func TestBindStreamTermination(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		wantOps int
		wantErr error
	}{
		{"unknown opcode stops silently", []byte{0x11, 0xe0, 0x11}, 1, nil},
		{"unknown threaded sub-opcode stops", []byte{0xd0, 0x05, 0xd1, 0xd2, 0x11}, 2, nil},
		{"truncated operand", []byte{0x11, 0x72}, 1, leb128.ErrTruncated},
		{"unterminated symbol", []byte{0x40, '_', 'x'}, 0, leb128.ErrTruncated},
		{"empty", nil, 0, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ops, err := BindOperations(tt.data).All()
			if tt.wantErr == nil && err != nil {
				t.Fatalf("All() unexpected error = %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("All() error = %v, want %v", err, tt.wantErr)
			}
			if len(ops) != tt.wantOps {
				t.Errorf("All() returned %d ops, want %d", len(ops), tt.wantOps)
			}
		})
	}
}

func TestResolveBindings(t *testing.T) {
	ops, err := BindOperations(bindStream).All()
	if err != nil {
		t.Fatal(err)
	}
	got, err := ResolveBindings(ops, 8)
	if err != nil {
		t.Fatal(err)
	}
	puts := BindingSymbol{Name: "_puts", Ordinal: 1, Type: 1, SegIndex: 2, SegOffset: 0x10}
	weak := BindingSymbol{Name: "_w", Ordinal: -1, Flags: 1, Type: 1, Addend: -1, SegIndex: 2}
	at := func(b BindingSymbol, off uint64) BindingSymbol {
		b.SegOffset = off
		return b
	}
	want := []BindingSymbol{
		puts,
		at(weak, 0x18),
		at(weak, 0x28),
		at(weak, 0x38),
		at(weak, 0x50),
		at(weak, 0x6c),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ResolveBindings() mismatch (-want +got):\n%s", diff)
	}
	if !got[1].WeakImport() || got[0].WeakImport() {
		t.Errorf("WeakImport() wrong")
	}
}

func TestResolveBindingsRepeatBound(t *testing.T) {
	ops := []BindOp{{Opcode: BindDoBindUlebTimesSkippingUleb, Count: 1 << 40}}
	if _, err := ResolveBindings(ops, 8); !errors.Is(err, ErrTooManyRecords) {
		t.Errorf("ResolveBindings() error = %v, want ErrTooManyRecords", err)
	}
}

func TestRebaseDoneLatches(t *testing.T) {
	ops, err := RebaseOperations([]byte{0x00, 0xff, 0xff}).All()
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]RebaseOp{{Opcode: RebaseDone}}, ops); diff != "" {
		t.Errorf("RebaseOperations() mismatch (-want +got):\n%s", diff)
	}
}

var rebaseStream = []byte{
	0x11,       // SET_TYPE_IMM(1)
	0x21, 0x00, // SET_SEGMENT_AND_OFFSET_ULEB(1, 0)
	0x52,       // DO_REBASE_IMM_TIMES(2)
	0x41,       // ADD_ADDR_IMM_SCALED(1)
	0x60, 0x02, // DO_REBASE_ULEB_TIMES(2)
	0x70, 0x08, // DO_REBASE_ADD_ADDR_ULEB(8)
	0x80, 0x02, 0x08, // DO_REBASE_ULEB_TIMES_SKIPPING_ULEB(2, 8)
	0x30, 0x10, // ADD_ADDR_ULEB(0x10)
	0x00, // DONE
	0x52, // never decoded
}

func TestResolveRebases(t *testing.T) {
	ops, err := RebaseOperations(rebaseStream).All()
	if err != nil {
		t.Fatal(err)
	}
	if len(ops) != 9 {
		t.Fatalf("RebaseOperations() returned %d ops, want 9", len(ops))
	}
	got, err := ResolveRebases(ops, 8)
	if err != nil {
		t.Fatal(err)
	}
	var offsets []uint64
	for _, r := range got {
		if r.Type != 1 || r.SegIndex != 1 {
			t.Errorf("unexpected rebase %v", r)
		}
		offsets = append(offsets, r.SegOffset)
	}
	want := []uint64{0x00, 0x08, 0x18, 0x20, 0x28, 0x38, 0x48}
	if diff := cmp.Diff(want, offsets); diff != "" {
		t.Errorf("ResolveRebases() offsets mismatch (-want +got):\n%s", diff)
	}
}

func TestParseBindKind(t *testing.T) {
	for _, k := range []BindKind{BindNormal, BindWeak, BindLazy} {
		got, err := ParseBindKind(k.String())
		if err != nil || got != k {
			t.Errorf("ParseBindKind(%q) = %v, %v", k.String(), got, err)
		}
	}
	if _, err := ParseBindKind("eager"); err == nil {
		t.Errorf("ParseBindKind(eager) expected error")
	}
}
