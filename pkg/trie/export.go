package trie

import (
	"fmt"

	"github.com/appsworld/go-linkedit/types"
)

// TrieEntry is an exported symbol with its address resolved against a load address
type TrieEntry struct {
	Name     string
	ReExport string
	Ordinal  uint64
	Flags    types.ExportFlag
	Other    uint64 // resolver address for stub-and-resolver exports
	Address  uint64
	Imported string // static resolver name
}

func (e TrieEntry) String() string {
	if e.Flags.ReExport() {
		name := e.ReExport
		if len(name) == 0 {
			name = e.Name
		}
		return fmt.Sprintf("%s (%s re-exported from dylib %d)", e.Name, name, e.Ordinal)
	} else if e.Flags.StubAndResolver() {
		return fmt.Sprintf("%#016x: %s\t(resolver %#x)", e.Address, e.Name, e.Other)
	} else if e.Flags.StaticResolver() {
		return fmt.Sprintf("%#016x: %s\t(static resolver %s)", e.Address, e.Name, e.Imported)
	}
	return fmt.Sprintf("%#016x: %s", e.Address, e.Name)
}

// NewTrieEntry resolves an export payload against loadAddress.
// Absolute symbols keep their raw value.
func NewTrieEntry(sym Symbol[ExportContent], loadAddress uint64) TrieEntry {
	e := TrieEntry{
		Name:  sym.Name,
		Flags: sym.Content.Flags,
	}
	switch {
	case e.Flags.ReExport():
		e.Ordinal = sym.Content.Ordinal
		e.ReExport = sym.Content.ImportedName
	case e.Flags.StubAndResolver():
		e.Address = sym.Content.Stub + loadAddress
		e.Other = sym.Content.Resolver + loadAddress
	case e.Flags.Absolute():
		e.Address = sym.Content.SymbolOffset
	default:
		e.Address = sym.Content.SymbolOffset + loadAddress
		e.Imported = sym.Content.ImportedName
	}
	return e
}

// ParseTrie decodes every export in an export trie
func ParseTrie(data []byte, loadAddress uint64) ([]TrieEntry, error) {
	syms, err := NewExportTrie(data).Symbols()
	if err != nil {
		return nil, err
	}
	entries := make([]TrieEntry, 0, len(syms))
	for _, sym := range syms {
		entries = append(entries, NewTrieEntry(sym, loadAddress))
	}
	return entries, nil
}

// WalkTrie returns the offset of symbol from the image base
func WalkTrie(data []byte, symbol string) (uint64, error) {
	sym, err := NewExportTrie(data).Search(symbol)
	if err != nil {
		return 0, err
	}
	if sym.Content.Flags.ReExport() {
		return 0, fmt.Errorf("%s is re-exported from dylib %d", symbol, sym.Content.Ordinal)
	}
	if sym.Content.Flags.StubAndResolver() {
		return sym.Content.Stub, nil
	}
	return sym.Content.SymbolOffset, nil
}
