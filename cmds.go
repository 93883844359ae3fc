package macho

import (
	"fmt"
	"strings"

	"github.com/appsworld/go-linkedit/types"
)

// A Load represents any Mach-O load command.
type Load interface {
	Raw() []byte
	String() string
	Command() types.LoadCmd
}

// LoadCmdBytes is a command-tagged sequence of bytes.
// Load commands this package does not decode are kept this way.
type LoadCmdBytes struct {
	types.LoadCmd
	LoadBytes
}

func (s LoadCmdBytes) String() string {
	return s.LoadCmd.String() + ": " + s.LoadBytes.String()
}

// A LoadBytes is the uninterpreted bytes of a Mach-O load command.
type LoadBytes []byte

func (b LoadBytes) String() string {
	var sb strings.Builder
	sb.WriteByte('[')
	for i, a := range b {
		if i > 0 {
			sb.WriteByte(' ')
			if len(b) > 48 && i >= 16 {
				fmt.Fprintf(&sb, "... (%d bytes)", len(b))
				break
			}
		}
		fmt.Fprintf(&sb, "%x", a)
	}
	sb.WriteByte(']')
	return sb.String()
}
func (b LoadBytes) Raw() []byte { return b }

/*******************************************************************************
 * SEGMENT
 *******************************************************************************/

// A SegmentHeader is the header for a Mach-O 32-bit or 64-bit load segment command.
type SegmentHeader struct {
	types.LoadCmd
	Len       uint32
	Name      string
	Addr      uint64
	Memsz     uint64
	Offset    uint64
	Filesz    uint64
	Maxprot   types.VmProtection
	Prot      types.VmProtection
	Nsect     uint32
	Flag      types.SegFlag
	Firstsect uint32
}

// A Segment represents a Mach-O 32-bit or 64-bit load segment command.
type Segment struct {
	SegmentHeader
	LoadBytes
	Index int // position among the image's segments
}

func (s *Segment) String() string {
	return fmt.Sprintf("%s: sz=%#08x off=%#08x-%#08x addr=%#09x-%#09x %s/%s   %s",
		s.LoadCmd, s.Filesz, s.Offset, s.Offset+s.Filesz, s.Addr, s.Addr+s.Memsz, s.Prot, s.Maxprot, s.Name)
}

// ContainsOffset reports whether the file offset off is backed by s
func (s *Segment) ContainsOffset(off uint64) bool {
	return s.Offset <= off && off-s.Offset < s.Filesz
}

// ContainsAddr reports whether the virtual address addr is inside s
func (s *Segment) ContainsAddr(addr uint64) bool {
	return s.Addr <= addr && addr-s.Addr < s.Memsz
}

type SectionHeader struct {
	Name      string
	Seg       string
	Addr      uint64
	Size      uint64
	Offset    uint32
	Align     uint32
	Reloff    uint32
	Nreloc    uint32
	Flags     uint32
	Reserved1 uint32
	Reserved2 uint32
	Reserved3 uint32 // only present if original was 64-bit
}

type Section struct {
	SectionHeader
}

func (s *Section) String() string {
	return fmt.Sprintf("%s.%s addr=%#09x-%#09x off=%#08x", s.Seg, s.Name, s.Addr, s.Addr+s.Size, s.Offset)
}

/*******************************************************************************
 * LC_ID_DYLIB, LC_LOAD_{,WEAK_}DYLIB, LC_REEXPORT_DYLIB,
 * LC_LAZY_LOAD_DYLIB, LC_LOAD_UPWARD_DYLIB
 *******************************************************************************/

// A Dylib represents a Mach-O load dynamic library command.
type Dylib struct {
	LoadBytes
	types.DylibCmd
	Name           string
	Time           uint32
	CurrentVersion string
	CompatVersion  string
}

func (d *Dylib) String() string {
	return fmt.Sprintf("%s (%s)", d.Name, d.CurrentVersion)
}

// A DylibID represents a Mach-O LC_ID_DYLIB command.
type DylibID Dylib

func (d *DylibID) String() string { return fmt.Sprintf("%s (%s)", d.Name, d.CurrentVersion) }

// A WeakDylib represents a Mach-O LC_LOAD_WEAK_DYLIB command.
type WeakDylib Dylib

func (d *WeakDylib) String() string { return fmt.Sprintf("%s (%s)", d.Name, d.CurrentVersion) }

// A ReExportDylib represents a Mach-O LC_REEXPORT_DYLIB command.
type ReExportDylib Dylib

func (d *ReExportDylib) String() string { return fmt.Sprintf("%s (%s)", d.Name, d.CurrentVersion) }

// A LazyLoadDylib represents a Mach-O LC_LAZY_LOAD_DYLIB command.
type LazyLoadDylib Dylib

func (d *LazyLoadDylib) String() string { return fmt.Sprintf("%s (%s)", d.Name, d.CurrentVersion) }

// An UpwardDylib represents a Mach-O LC_LOAD_UPWARD_DYLIB command.
type UpwardDylib Dylib

func (d *UpwardDylib) String() string { return fmt.Sprintf("%s (%s)", d.Name, d.CurrentVersion) }

/*******************************************************************************
 * LC_DYLD_INFO, LC_DYLD_INFO_ONLY
 *******************************************************************************/

// A DyldInfo represents a Mach-O LC_DYLD_INFO or LC_DYLD_INFO_ONLY command.
type DyldInfo struct {
	LoadBytes
	types.DyldInfoCmd
}

func (d *DyldInfo) String() string {
	return fmt.Sprintf(
		"\n"+
			"\t\tRebase info: %5d bytes at offset:  0x%08X -> 0x%08X\n"+
			"\t\tBind info:   %5d bytes at offset:  0x%08X -> 0x%08X\n"+
			"\t\tWeak info:   %5d bytes at offset:  0x%08X -> 0x%08X\n"+
			"\t\tLazy info:   %5d bytes at offset:  0x%08X -> 0x%08X\n"+
			"\t\tExport info: %5d bytes at offset:  0x%08X -> 0x%08X",
		d.RebaseSize, d.RebaseOff, d.RebaseOff+d.RebaseSize,
		d.BindSize, d.BindOff, d.BindOff+d.BindSize,
		d.WeakBindSize, d.WeakBindOff, d.WeakBindOff+d.WeakBindSize,
		d.LazyBindSize, d.LazyBindOff, d.LazyBindOff+d.LazyBindSize,
		d.ExportSize, d.ExportOff, d.ExportOff+d.ExportSize,
	)
}

/*******************************************************************************
 * LC_DYLD_EXPORTS_TRIE, LC_DYLD_CHAINED_FIXUPS
 *******************************************************************************/

// A LinkEditData represents a Mach-O linkedit data command.
type LinkEditData struct {
	LoadBytes
	types.LinkEditDataCmd
}

func (l *LinkEditData) String() string {
	return fmt.Sprintf("offset=0x%09x  size=%#x", l.Offset, l.Size)
}

// A DyldExportsTrie used with linkedit_data_command, payload is trie
type DyldExportsTrie struct{ LinkEditData }

// A DyldChainedFixups used with linkedit_data_command
type DyldChainedFixups struct{ LinkEditData }
