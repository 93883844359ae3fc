package macho

// High level access to the link-edit metadata of a Mach-O image.

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/apex/log"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"

	"github.com/appsworld/go-linkedit/pkg/fixupchains"
	"github.com/appsworld/go-linkedit/types"
)

// DefaultCacheSize is the number of rebase resolutions kept per File
const DefaultCacheSize = 1024

// A File represents an open Mach-O file.
type File struct {
	FileTOC

	cfg    FileConfig
	sr     *io.SectionReader
	closer io.Closer

	rebases *lru.Cache[uint64, uint64]

	dcfOnce sync.Once
	dcf     *fixupchains.DyldChainedFixups
	dcfErr  error
}

type FileTOC struct {
	types.FileHeader
	ByteOrder binary.ByteOrder
	Loads     []Load
	Sections  []*Section
}

func (t *FileTOC) String() string {
	var sb strings.Builder
	sb.WriteString(t.FileHeader.String())
	for i, l := range t.Loads {
		fmt.Fprintf(&sb, "%03d: %s\n", i, l)
	}
	return sb.String()
}

// FormatError is returned by some operations if the data does
// not have the correct format for an object file.
type FormatError struct {
	off int64
	msg string
	val any
}

func (e *FormatError) Error() string {
	msg := e.msg
	if e.val != nil {
		msg += fmt.Sprintf(" '%v'", e.val)
	}
	msg += fmt.Sprintf(" in record at byte %#x", e.off)
	return msg
}

// FileConfig is a MachO file config object
type FileConfig struct {
	// Offset of the Mach-O header inside the reader, e.g. a slice of a universal binary
	Offset int64
	// RootPaddedExportTrie applies the root node correction for export tries whose
	// root reserves 5 bytes per child offset (see trie.WithRootPadding)
	RootPaddedExportTrie bool
	// CacheSize bounds the rebase resolution cache, DefaultCacheSize when zero
	CacheSize int
}

// Open opens the named file using os.Open and prepares it for use as a Mach-O binary.
func Open(name string, config ...FileConfig) (*File, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	ff, err := NewFile(f, config...)
	if err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "failed to parse %s", name)
	}
	ff.closer = f
	return ff, nil
}

// Close closes the File.
// If the File was created using NewFile directly instead of Open,
// Close has no effect.
func (f *File) Close() error {
	var err error
	if f.closer != nil {
		err = f.closer.Close()
		f.closer = nil
	}
	return err
}

type sizer interface {
	Size() int64
}

type statter interface {
	Stat() (os.FileInfo, error)
}

// readerSize returns how many bytes of r follow off, or an unbounded size when r cannot tell
func readerSize(r io.ReaderAt, off int64) int64 {
	switch s := r.(type) {
	case sizer:
		return s.Size() - off
	case statter:
		if fi, err := s.Stat(); err == nil {
			return fi.Size() - off
		}
	}
	return 1<<63 - 1 - off
}

// NewFile creates a new File for accessing a Mach-O binary in an underlying reader.
// The Mach-O binary is expected to start at config Offset (zero by default) in the ReaderAt.
func NewFile(r io.ReaderAt, config ...FileConfig) (*File, error) {
	f := new(File)
	if len(config) > 0 {
		f.cfg = config[0]
	}
	if f.cfg.CacheSize <= 0 {
		f.cfg.CacheSize = DefaultCacheSize
	}

	size := readerSize(r, f.cfg.Offset)
	if size < 4 {
		return nil, &FormatError{0, "file too small", size}
	}
	f.sr = io.NewSectionReader(r, f.cfg.Offset, size)

	cache, err := lru.New[uint64, uint64](f.cfg.CacheSize)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create rebase cache")
	}
	f.rebases = cache

	// Read and decode Mach magic to determine byte order, size.
	// Magic32 and Magic64 differ only in the bottom bit.
	var ident [4]byte
	if _, err := f.sr.ReadAt(ident[0:], 0); err != nil {
		return nil, errors.Wrap(err, "failed to read magic")
	}
	be := binary.BigEndian.Uint32(ident[0:])
	le := binary.LittleEndian.Uint32(ident[0:])
	switch types.Magic32.Int() &^ 1 {
	case be &^ 1:
		f.ByteOrder = binary.BigEndian
		f.Magic = types.Magic(be)
	case le &^ 1:
		f.ByteOrder = binary.LittleEndian
		f.Magic = types.Magic(le)
	default:
		if be == types.MagicFat.Int() {
			return nil, &FormatError{0, "universal binaries must be opened at a slice offset", types.MagicFat}
		}
		return nil, &FormatError{0, "invalid magic number", be}
	}

	// Read the file header, the 32-bit form lacks the reserved word.
	offset := int64(types.FileHeaderSize32)
	if f.Magic == types.Magic64 {
		offset = types.FileHeaderSize64
	}
	hdr := make([]byte, types.FileHeaderSize64)
	if _, err := f.sr.ReadAt(hdr[:offset], 0); err != nil {
		return nil, &FormatError{0, "truncated header", err}
	}
	if err := binary.Read(bytes.NewReader(hdr), f.ByteOrder, &f.FileHeader); err != nil {
		return nil, errors.Wrap(err, "failed to decode header")
	}

	// Then load commands.
	if int64(f.SizeCommands) > size-offset {
		return nil, &FormatError{offset, "load commands extend past end of file", f.SizeCommands}
	}
	dat := make([]byte, f.SizeCommands)
	if _, err := f.sr.ReadAt(dat, offset); err != nil {
		return nil, errors.Wrap(err, "failed to read load commands")
	}

	f.Loads = make([]Load, 0, f.NCommands)
	bo := f.ByteOrder
	for i := uint32(0); i < f.NCommands; i++ {
		// Each load command begins with uint32 command and length.
		if len(dat) < 8 {
			return nil, &FormatError{offset, "command block too small", nil}
		}
		cmd, siz := types.LoadCmd(bo.Uint32(dat[0:4])), bo.Uint32(dat[4:8])
		if siz < 8 || siz > uint32(len(dat)) {
			return nil, &FormatError{offset, "invalid command block size", siz}
		}

		var cmddat []byte
		cmddat, dat = dat[0:siz], dat[siz:]

		l, err := f.parseLoad(cmd, cmddat)
		if err != nil {
			return nil, &FormatError{offset, err.Error(), cmd}
		}
		f.Loads = append(f.Loads, l)
		offset += int64(siz)
	}

	return f, nil
}

func (f *File) parseLoad(cmd types.LoadCmd, cmddat []byte) (Load, error) {
	bo := f.ByteOrder
	b := bytes.NewReader(cmddat)

	switch cmd {
	case types.LC_SEGMENT:
		var seg32 types.Segment32
		if err := binary.Read(b, bo, &seg32); err != nil {
			return nil, fmt.Errorf("failed to read LC_SEGMENT: %v", err)
		}
		s := f.newSegment(cmddat, SegmentHeader{
			LoadCmd: cmd,
			Len:     seg32.Len,
			Name:    cstring(seg32.Name[0:]),
			Addr:    uint64(seg32.Addr),
			Memsz:   uint64(seg32.Memsz),
			Offset:  uint64(seg32.Offset),
			Filesz:  uint64(seg32.Filesz),
			Maxprot: seg32.Maxprot,
			Prot:    seg32.Prot,
			Nsect:   seg32.Nsect,
			Flag:    seg32.Flag,
		})
		for i := 0; i < int(s.Nsect); i++ {
			var sh32 types.Section32
			if err := binary.Read(b, bo, &sh32); err != nil {
				return nil, fmt.Errorf("failed to read Section32: %v", err)
			}
			f.Sections = append(f.Sections, &Section{SectionHeader{
				Name:      cstring(sh32.Name[0:]),
				Seg:       cstring(sh32.Seg[0:]),
				Addr:      uint64(sh32.Addr),
				Size:      uint64(sh32.Size),
				Offset:    sh32.Offset,
				Align:     sh32.Align,
				Reloff:    sh32.Reloff,
				Nreloc:    sh32.Nreloc,
				Flags:     sh32.Flags,
				Reserved1: sh32.Reserve1,
				Reserved2: sh32.Reserve2,
			}})
		}
		return s, nil

	case types.LC_SEGMENT_64:
		var seg64 types.Segment64
		if err := binary.Read(b, bo, &seg64); err != nil {
			return nil, fmt.Errorf("failed to read LC_SEGMENT_64: %v", err)
		}
		s := f.newSegment(cmddat, SegmentHeader{
			LoadCmd: cmd,
			Len:     seg64.Len,
			Name:    cstring(seg64.Name[0:]),
			Addr:    seg64.Addr,
			Memsz:   seg64.Memsz,
			Offset:  seg64.Offset,
			Filesz:  seg64.Filesz,
			Maxprot: seg64.Maxprot,
			Prot:    seg64.Prot,
			Nsect:   seg64.Nsect,
			Flag:    seg64.Flag,
		})
		for i := 0; i < int(s.Nsect); i++ {
			var sh64 types.Section64
			if err := binary.Read(b, bo, &sh64); err != nil {
				return nil, fmt.Errorf("failed to read Section64: %v", err)
			}
			f.Sections = append(f.Sections, &Section{SectionHeader{
				Name:      cstring(sh64.Name[0:]),
				Seg:       cstring(sh64.Seg[0:]),
				Addr:      sh64.Addr,
				Size:      sh64.Size,
				Offset:    sh64.Offset,
				Align:     sh64.Align,
				Reloff:    sh64.Reloff,
				Nreloc:    sh64.Nreloc,
				Flags:     sh64.Flags,
				Reserved1: sh64.Reserve1,
				Reserved2: sh64.Reserve2,
				Reserved3: sh64.Reserve3,
			}})
		}
		return s, nil

	case types.LC_ID_DYLIB, types.LC_LOAD_DYLIB, types.LC_LOAD_WEAK_DYLIB,
		types.LC_REEXPORT_DYLIB, types.LC_LAZY_LOAD_DYLIB, types.LC_LOAD_UPWARD_DYLIB:
		var hdr types.DylibCmd
		if err := binary.Read(b, bo, &hdr); err != nil {
			return nil, fmt.Errorf("failed to read %s: %v", cmd, err)
		}
		if hdr.Name >= uint32(len(cmddat)) {
			return nil, fmt.Errorf("%s name offset %#x past command end", cmd, hdr.Name)
		}
		d := Dylib{
			LoadBytes:      LoadBytes(cmddat),
			DylibCmd:       hdr,
			Name:           cstring(cmddat[hdr.Name:]),
			Time:           hdr.Time,
			CurrentVersion: hdr.CurrentVersion.String(),
			CompatVersion:  hdr.CompatVersion.String(),
		}
		switch cmd {
		case types.LC_ID_DYLIB:
			l := DylibID(d)
			return &l, nil
		case types.LC_LOAD_WEAK_DYLIB:
			l := WeakDylib(d)
			return &l, nil
		case types.LC_REEXPORT_DYLIB:
			l := ReExportDylib(d)
			return &l, nil
		case types.LC_LAZY_LOAD_DYLIB:
			l := LazyLoadDylib(d)
			return &l, nil
		case types.LC_LOAD_UPWARD_DYLIB:
			l := UpwardDylib(d)
			return &l, nil
		}
		return &d, nil

	case types.LC_DYLD_INFO, types.LC_DYLD_INFO_ONLY:
		var hdr types.DyldInfoCmd
		if err := binary.Read(b, bo, &hdr); err != nil {
			return nil, fmt.Errorf("failed to read %s: %v", cmd, err)
		}
		return &DyldInfo{LoadBytes: cmddat, DyldInfoCmd: hdr}, nil

	case types.LC_DYLD_EXPORTS_TRIE, types.LC_DYLD_CHAINED_FIXUPS:
		var hdr types.LinkEditDataCmd
		if err := binary.Read(b, bo, &hdr); err != nil {
			return nil, fmt.Errorf("failed to read %s: %v", cmd, err)
		}
		led := LinkEditData{LoadBytes: cmddat, LinkEditDataCmd: hdr}
		if cmd == types.LC_DYLD_EXPORTS_TRIE {
			return &DyldExportsTrie{led}, nil
		}
		return &DyldChainedFixups{led}, nil
	}

	log.WithFields(log.Fields{
		"cmd":  cmd,
		"size": len(cmddat),
	}).Debug("keeping undecoded load command")
	return LoadCmdBytes{cmd, LoadBytes(cmddat)}, nil
}

func (f *File) newSegment(cmddat []byte, hdr SegmentHeader) *Segment {
	hdr.Firstsect = uint32(len(f.Sections))
	return &Segment{
		SegmentHeader: hdr,
		LoadBytes:     cmddat,
		Index:         len(f.Segments()),
	}
}

func cstring(b []byte) string {
	i := bytes.IndexByte(b, 0)
	if i == -1 {
		i = len(b)
	}
	return string(b[0:i])
}

func (f *File) is64bit() bool {
	return f.FileHeader.Magic == types.Magic64
}

func (f *File) pointerSize() uint64 {
	if f.is64bit() {
		return 8
	}
	return 4
}

// ReadAt reads data at offset within MachO
func (f *File) ReadAt(p []byte, off int64) (n int, err error) {
	return f.sr.ReadAt(p, off)
}

// Size returns the number of bytes available after the Mach-O header's offset
func (f *File) Size() int64 { return f.sr.Size() }

// GetBaseAddress returns the MachO's preferred load address
func (f *File) GetBaseAddress() uint64 {
	if seg := f.Segment("__TEXT"); seg != nil {
		return seg.Addr
	}
	return 0
}

// GetOffset returns the file offset for a given virtual address
func (f *File) GetOffset(address uint64) (uint64, error) {
	for _, seg := range f.Segments() {
		if seg.ContainsAddr(address) {
			return (address - seg.Addr) + seg.Offset, nil
		}
	}
	return 0, fmt.Errorf("address %#x not within any segments address range", address)
}

// GetVMAddress returns the virtual address for a given file offset
func (f *File) GetVMAddress(offset uint64) (uint64, error) {
	for _, seg := range f.Segments() {
		if seg.ContainsOffset(offset) {
			return (offset - seg.Offset) + seg.Addr, nil
		}
	}
	return 0, fmt.Errorf("offset %#x not within any segments file offset range", offset)
}

// Segment returns the first Segment with the given name, or nil if no such segment exists.
func (f *File) Segment(name string) *Segment {
	for _, l := range f.Loads {
		if s, ok := l.(*Segment); ok && s.Name == name {
			return s
		}
	}
	return nil
}

// Segments returns all Segments.
func (f *File) Segments() []*Segment {
	var segs []*Segment
	for _, l := range f.Loads {
		if s, ok := l.(*Segment); ok {
			segs = append(segs, s)
		}
	}
	return segs
}

// GetSectionsForSegment returns all the segment's sections or nil if it doesn't have any
func (f *File) GetSectionsForSegment(name string) []*Section {
	seg := f.Segment(name)
	if seg == nil {
		return nil
	}
	var secs []*Section
	for i := uint32(0); i < seg.Nsect; i++ {
		if int(i+seg.Firstsect) < len(f.Sections) {
			secs = append(secs, f.Sections[i+seg.Firstsect])
		}
	}
	return secs
}

// Section returns the first section with the given segment and section name, or nil.
func (f *File) Section(segment, section string) *Section {
	for _, s := range f.Sections {
		if s.Seg == segment && s.Name == section {
			return s
		}
	}
	return nil
}

// SegmentVMOffset returns how far the segment at index starts from the preferred load address
func (f *File) SegmentVMOffset(index int) (uint64, error) {
	segs := f.Segments()
	if index < 0 || index >= len(segs) {
		return 0, fmt.Errorf("segment index %d out of range (%d segments)", index, len(segs))
	}
	return segs[index].Addr - f.GetBaseAddress(), nil
}

// DylibID returns the dylib ID load command, or nil if no dylib ID exists.
func (f *File) DylibID() *DylibID {
	for _, l := range f.Loads {
		if s, ok := l.(*DylibID); ok {
			return s
		}
	}
	return nil
}

// DyldInfo returns the dyld info load command, or nil if no dyld info exists.
func (f *File) DyldInfo() *DyldInfo {
	for _, l := range f.Loads {
		if s, ok := l.(*DyldInfo); ok {
			return s
		}
	}
	return nil
}

// DyldExportsTrie returns the dyld export trie load command, or nil if no dyld info exists.
func (f *File) DyldExportsTrie() *DyldExportsTrie {
	for _, l := range f.Loads {
		if s, ok := l.(*DyldExportsTrie); ok {
			return s
		}
	}
	return nil
}

// DyldChainedFixups returns the dyld chained fixups load command, or nil.
func (f *File) DyldChainedFixups() *DyldChainedFixups {
	for _, l := range f.Loads {
		if s, ok := l.(*DyldChainedFixups); ok {
			return s
		}
	}
	return nil
}

// HasFixups does macho contain a LC_DYLD_CHAINED_FIXUPS load command
func (f *File) HasFixups() bool {
	return f.DyldChainedFixups() != nil
}

// ImportedLibraries returns the paths of all libraries
// referred to by the binary f that are expected to be
// linked with the binary at dynamic link time.
// The order matches library ordinals, starting at 1.
func (f *File) ImportedLibraries() []string {
	var all []string
	for _, l := range f.Loads {
		switch lib := l.(type) {
		case *Dylib:
			all = append(all, lib.Name)
		case *WeakDylib:
			all = append(all, lib.Name)
		case *ReExportDylib:
			all = append(all, lib.Name)
		case *LazyLoadDylib:
			all = append(all, lib.Name)
		case *UpwardDylib:
			all = append(all, lib.Name)
		}
	}
	return all
}

// LibraryOrdinalName returns the dependency library ordinal's name
func (f *File) LibraryOrdinalName(libraryOrdinal int) string {
	if libraryOrdinal > 0 {
		dylibs := f.ImportedLibraries()
		if libraryOrdinal > len(dylibs) {
			return "ordinal-too-large"
		}
		path := dylibs[libraryOrdinal-1]
		return path[strings.LastIndexByte(path, '/')+1:]
	}

	switch libraryOrdinal {
	case types.BIND_SPECIAL_DYLIB_SELF:
		return "this-image"
	case types.BIND_SPECIAL_DYLIB_MAIN_EXECUTABLE:
		return "main-executable"
	case types.BIND_SPECIAL_DYLIB_FLAT_LOOKUP:
		return "flat-namespace"
	case types.BIND_SPECIAL_DYLIB_WEAK_LOOKUP:
		return "weak-coalesce"
	default:
		return "unknown-ordinal"
	}
}
