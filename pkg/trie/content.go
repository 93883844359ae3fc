package trie

import (
	"fmt"

	"github.com/appsworld/go-linkedit/pkg/leb128"
	"github.com/appsworld/go-linkedit/types"
)

// ExportContent is the terminal payload of an export trie node
type ExportContent struct {
	Flags types.ExportFlag
	// set for re-exports
	Ordinal      uint64
	ImportedName string // empty means same name as the export; also set for static resolvers
	// set for stub-and-resolver exports
	Stub     uint64
	Resolver uint64
	// set for everything else
	SymbolOffset uint64
}

func (e *ExportContent) Read(c *leb128.Cursor) error {
	flags, err := c.Uleb128()
	if err != nil {
		return fmt.Errorf("failed to read export flags: %w", err)
	}
	e.Flags = types.ExportFlag(flags)

	switch {
	case e.Flags.ReExport():
		if e.Ordinal, err = c.Uleb128(); err != nil {
			return fmt.Errorf("failed to read re-export ordinal: %w", err)
		}
		if e.ImportedName, err = c.CString(); err != nil {
			return fmt.Errorf("failed to read re-export name: %w", err)
		}
	case e.Flags.StubAndResolver():
		if e.Stub, err = c.Uleb128(); err != nil {
			return fmt.Errorf("failed to read stub offset: %w", err)
		}
		if e.Resolver, err = c.Uleb128(); err != nil {
			return fmt.Errorf("failed to read resolver offset: %w", err)
		}
	default:
		if e.SymbolOffset, err = c.Uleb128(); err != nil {
			return fmt.Errorf("failed to read symbol offset: %w", err)
		}
		if e.Flags.StaticResolver() {
			if e.ImportedName, err = c.CString(); err != nil {
				return fmt.Errorf("failed to read static resolver name: %w", err)
			}
		}
	}

	return nil
}

// DylibIndex is the payload of the dylib path tries found in dyld closures and shared caches
type DylibIndex struct {
	Index uint64
}

func (d *DylibIndex) Read(c *leb128.Cursor) (err error) {
	d.Index, err = c.Uleb128()
	return err
}

// ProgramOffset is the payload of the launch closure program tries
type ProgramOffset struct {
	Offset uint64
}

func (p *ProgramOffset) Read(c *leb128.Cursor) (err error) {
	p.Offset, err = c.Uleb128()
	return err
}

type (
	ExportTrie  = Tree[ExportContent, *ExportContent]
	DylibTrie   = Tree[DylibIndex, *DylibIndex]
	ProgramTrie = Tree[ProgramOffset, *ProgramOffset]
)

// NewExportTrie returns a Tree decoding export payloads
func NewExportTrie(data []byte, opts ...Option) *ExportTrie {
	return New[ExportContent](data, opts...)
}

func NewDylibTrie(data []byte) *DylibTrie {
	return New[DylibIndex](data)
}

func NewProgramTrie(data []byte) *ProgramTrie {
	return New[ProgramOffset](data)
}
