package trie

import (
	"errors"
	"testing"

	"github.com/appsworld/go-linkedit/pkg/leb128"
	"github.com/google/go-cmp/cmp"
)

// _foo -> 0x10, _bar -> 0x20
var fooBarTrie = []byte{
	// root @0
	0x00, 0x01, '_', 0x00, 0x05,
	// "_" @5
	0x00, 0x02, 'f', 'o', 'o', 0x00, 0x11, 'b', 'a', 'r', 0x00, 0x15,
	// "_foo" @17
	0x02, 0x00, 0x10, 0x00,
	// "_bar" @21
	0x02, 0x00, 0x20, 0x00,
}

// a: re-export of _real from dylib 2, b: stub and resolver, c: absolute, d: static resolver _impl
var payloadTrie = []byte{
	// root @0
	0x00, 0x04, 'a', 0x00, 0x0e, 'b', 0x00, 0x18, 'c', 0x00, 0x1d, 'd', 0x00, 0x21,
	// a @14
	0x08, 0x08, 0x02, '_', 'r', 'e', 'a', 'l', 0x00, 0x00,
	// b @24
	0x03, 0x10, 0x10, 0x20, 0x00,
	// c @29
	0x02, 0x02, 0x7f, 0x00,
	// d @33
	0x08, 0x20, 0x30, '_', 'i', 'm', 'p', 'l', 0x00, 0x00,
}

// root child offset written as a minimal ULEB followed by padding up to 5 bytes
var paddedRootTrie = []byte{
	// root @0
	0x00, 0x01, '_', 0x00, 0x09, 0x00, 0x00, 0x00, 0x00,
	// "_" @9
	0x00, 0x01, 'x', 0x00, 0x0e,
	// "_x" @14
	0x02, 0x00, 0x30, 0x00,
}

func TestSearch(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		want    uint64
		wantErr error
	}{
		{"foo", "_foo", 0x10, nil},
		{"bar", "_bar", 0x20, nil},
		{"missing", "_baz", 0, ErrNotFound},
		{"non terminal", "_", 0, ErrNotFound},
		{"longer than any path", "_foobar", 0, ErrNotFound},
		{"empty key", "", 0, ErrNotFound},
	}
	tr := NewExportTrie(fooBarTrie)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tr.Search(tt.key)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Search(%q) error = %v, want %v", tt.key, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Search(%q) unexpected error = %v", tt.key, err)
			}
			if got.Content.SymbolOffset != tt.want {
				t.Errorf("Search(%q) = %#x, want %#x", tt.key, got.Content.SymbolOffset, tt.want)
			}
		})
	}
}

func TestSearchIsRepeatable(t *testing.T) {
	tr := NewExportTrie(fooBarTrie)
	first, err := tr.Search("_bar")
	if err != nil {
		t.Fatal(err)
	}
	second, err := tr.Search("_bar")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("Search() not repeatable (-first +second):\n%s", diff)
	}
}

func TestSymbols(t *testing.T) {
	syms, err := NewExportTrie(fooBarTrie).Symbols()
	if err != nil {
		t.Fatal(err)
	}
	want := []Symbol[ExportContent]{
		{Name: "_foo", Offset: 17, Content: ExportContent{SymbolOffset: 0x10}},
		{Name: "_bar", Offset: 21, Content: ExportContent{SymbolOffset: 0x20}},
	}
	if diff := cmp.Diff(want, syms); diff != "" {
		t.Errorf("Symbols() mismatch (-want +got):\n%s", diff)
	}
}

func TestPrefixSearch(t *testing.T) {
	tests := []struct {
		prefix string
		want   []string
	}{
		{"", []string{"_foo", "_bar"}},
		{"_", []string{"_foo", "_bar"}},
		{"_f", []string{"_foo"}},
		{"_bar", []string{"_bar"}},
		{"_q", nil},
		{"_barn", nil},
	}
	tr := NewExportTrie(fooBarTrie)
	for _, tt := range tests {
		t.Run(tt.prefix, func(t *testing.T) {
			syms, err := tr.PrefixSearch(tt.prefix)
			if err != nil {
				t.Fatalf("PrefixSearch(%q) error = %v", tt.prefix, err)
			}
			var got []string
			for _, s := range syms {
				got = append(got, s.Name)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("PrefixSearch(%q) mismatch (-want +got):\n%s", tt.prefix, diff)
			}
		})
	}
}

func TestEntries(t *testing.T) {
	entries, err := NewExportTrie(fooBarTrie).Entries()
	if err != nil {
		t.Fatal(err)
	}
	var offsets []int
	for _, e := range entries {
		offsets = append(offsets, e.Offset)
	}
	if diff := cmp.Diff([]int{0, 5, 17, 21}, offsets); diff != "" {
		t.Errorf("Entries() offsets mismatch (-want +got):\n%s", diff)
	}
	if entries[0].IsTerminal() || !entries[2].IsTerminal() {
		t.Errorf("IsTerminal() wrong for root or leaf")
	}
}

func nodeOffsets(t *testing.T, tr *ExportTrie) []int {
	t.Helper()
	var offsets []int
	it := tr.Nodes()
	for it.Next() {
		offsets = append(offsets, it.Node().Offset)
	}
	if err := it.Err(); err != nil {
		t.Fatalf("Nodes() error = %v", err)
	}
	return offsets
}

func TestNodes(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		opts []Option
		want []int
	}{
		{"contiguous", fooBarTrie, nil, []int{0, 5, 17, 21}},
		{"padded root with correction", paddedRootTrie, []Option{WithRootPadding(true)}, []int{0, 9, 14}},
		{"padded root without correction", paddedRootTrie, nil, []int{0, 5, 7, 9, 14}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := nodeOffsets(t, NewExportTrie(tt.data, tt.opts...))
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Nodes() offsets mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestPaddedRootSearch(t *testing.T) {
	for _, padded := range []bool{true, false} {
		sym, err := NewExportTrie(paddedRootTrie, WithRootPadding(padded)).Search("_x")
		if err != nil {
			t.Fatalf("Search() padded=%v error = %v", padded, err)
		}
		if sym.Content.SymbolOffset != 0x30 {
			t.Errorf("Search() padded=%v = %#x, want 0x30", padded, sym.Content.SymbolOffset)
		}
	}
}

func TestParseTrie(t *testing.T) {
	got, err := ParseTrie(payloadTrie, 0x1000)
	if err != nil {
		t.Fatal(err)
	}
	want := []TrieEntry{
		{Name: "a", ReExport: "_real", Ordinal: 2, Flags: 0x08},
		{Name: "b", Flags: 0x10, Address: 0x1010, Other: 0x1020},
		{Name: "c", Flags: 0x02, Address: 0x7f},
		{Name: "d", Flags: 0x20, Address: 0x1030, Imported: "_impl"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ParseTrie() mismatch (-want +got):\n%s", diff)
	}
}

func TestWalkTrie(t *testing.T) {
	off, err := WalkTrie(fooBarTrie, "_bar")
	if err != nil || off != 0x20 {
		t.Errorf("WalkTrie(_bar) = %#x, %v", off, err)
	}
	off, err = WalkTrie(payloadTrie, "b")
	if err != nil || off != 0x10 {
		t.Errorf("WalkTrie(b) = %#x, %v", off, err)
	}
	off, err = WalkTrie(payloadTrie, "d")
	if err != nil || off != 0x30 {
		t.Errorf("WalkTrie(d) = %#x, %v", off, err)
	}
	if _, err := WalkTrie(payloadTrie, "a"); err == nil {
		t.Errorf("WalkTrie(a) expected re-export error")
	}
}

func TestDylibTrie(t *testing.T) {
	data := []byte{
		0x00, 0x01, '/', 'u', 0x00, 0x06,
		0x01, 0x07, 0x00,
	}
	sym, err := NewDylibTrie(data).Search("/u")
	if err != nil {
		t.Fatal(err)
	}
	if sym.Content.Index != 7 {
		t.Errorf("Search(/u) index = %d, want 7", sym.Content.Index)
	}
}

func TestMalformed(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		wantErr error
	}{
		{"edge points backwards", []byte{0x00, 0x01, 'a', 0x00, 0x00}, ErrMalformed},
		{"edge points past end", []byte{0x00, 0x01, 'a', 0x00, 0x40}, ErrMalformed},
		{"terminal past end", []byte{0x05, 0x00}, leb128.ErrTruncated},
		{"unterminated label", []byte{0x00, 0x01, 'a'}, leb128.ErrTruncated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewExportTrie(tt.data)
			if _, err := tr.Entries(); !errors.Is(err, tt.wantErr) {
				t.Errorf("Entries() error = %v, want %v", err, tt.wantErr)
			}
			if _, err := tr.Symbols(); !errors.Is(err, tt.wantErr) {
				t.Errorf("Symbols() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestExportContentStaticResolver(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		want    ExportContent
		wantErr error
	}{
		{
			name: "static resolver name",
			data: []byte{0x20, 0x10, 'f', 'o', 'o', 0x00},
			want: ExportContent{Flags: 0x20, SymbolOffset: 0x10, ImportedName: "foo"},
		},
		{
			name: "regular has no name",
			data: []byte{0x00, 0x10},
			want: ExportContent{SymbolOffset: 0x10},
		},
		{
			name:    "unterminated static resolver name",
			data:    []byte{0x20, 0x10, 'f', 'o'},
			wantErr: leb128.ErrTruncated,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := leb128.NewCursor(tt.data)
			var got ExportContent
			err := got.Read(c)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Read() error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr != nil {
				return
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Read() mismatch (-want +got):\n%s", diff)
			}
			if !c.Done() {
				t.Errorf("Read() left %d bytes unread", c.Remaining())
			}
		})
	}
}
