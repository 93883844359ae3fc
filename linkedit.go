package macho

import (
	"github.com/apex/log"
	"github.com/pkg/errors"

	"github.com/appsworld/go-linkedit/pkg/dyldinfo"
	"github.com/appsworld/go-linkedit/pkg/fixupchains"
	"github.com/appsworld/go-linkedit/pkg/trie"
	"github.com/appsworld/go-linkedit/types"
)

var (
	// ErrNoExportTrie is returned when the image has neither LC_DYLD_EXPORTS_TRIE nor export info in LC_DYLD_INFO
	ErrNoExportTrie = errors.New("macho does not contain an export trie")
	// ErrNoDyldInfo is returned when the image has no LC_DYLD_INFO(_ONLY)
	ErrNoDyldInfo = errors.New("macho does not contain LC_DYLD_INFO")
	// ErrNoChainedFixups is returned when the image has no LC_DYLD_CHAINED_FIXUPS
	ErrNoChainedFixups = errors.New("macho does not contain LC_DYLD_CHAINED_FIXUPS")
)

var _ fixupchains.SegmentResolver = (*File)(nil)

func (f *File) linkedit(off, size uint32, what string) ([]byte, error) {
	dat, err := types.ReadRange(f, int64(off), int64(size))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s data at offset=%#x", what, off)
	}
	return dat, nil
}

// ExportTrie returns the image's export trie.
// LC_DYLD_EXPORTS_TRIE wins over the export range of LC_DYLD_INFO.
func (f *File) ExportTrie() (*trie.ExportTrie, error) {
	var (
		dat []byte
		err error
	)
	if dxt := f.DyldExportsTrie(); dxt != nil {
		dat, err = f.linkedit(dxt.Offset, dxt.Size, "LC_DYLD_EXPORTS_TRIE")
	} else if info := f.DyldInfo(); info != nil && info.ExportSize > 0 {
		dat, err = f.linkedit(info.ExportOff, info.ExportSize, "export info")
	} else {
		return nil, ErrNoExportTrie
	}
	if err != nil {
		return nil, err
	}
	return trie.NewExportTrie(dat, trie.WithRootPadding(f.cfg.RootPaddedExportTrie)), nil
}

// Exports returns every exported symbol with addresses resolved against the preferred load address
func (f *File) Exports() ([]trie.TrieEntry, error) {
	t, err := f.ExportTrie()
	if err != nil {
		return nil, err
	}
	syms, err := t.Symbols()
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse export trie")
	}
	return f.trieEntries(syms), nil
}

// ExportsWithPrefix returns the exported symbols whose name starts with prefix
func (f *File) ExportsWithPrefix(prefix string) ([]trie.TrieEntry, error) {
	t, err := f.ExportTrie()
	if err != nil {
		return nil, err
	}
	syms, err := t.PrefixSearch(prefix)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to search export trie for prefix %q", prefix)
	}
	return f.trieEntries(syms), nil
}

func (f *File) trieEntries(syms []trie.Symbol[trie.ExportContent]) []trie.TrieEntry {
	base := f.GetBaseAddress()
	entries := make([]trie.TrieEntry, 0, len(syms))
	for _, sym := range syms {
		entries = append(entries, trie.NewTrieEntry(sym, base))
	}
	return entries
}

// FindExport looks up one exported symbol by its exact name
func (f *File) FindExport(name string) (trie.TrieEntry, error) {
	t, err := f.ExportTrie()
	if err != nil {
		return trie.TrieEntry{}, err
	}
	sym, err := t.Search(name)
	if err != nil {
		return trie.TrieEntry{}, errors.Wrapf(err, "failed to find export %s", name)
	}
	return trie.NewTrieEntry(*sym, f.GetBaseAddress()), nil
}

func (f *File) dyldInfo() (*DyldInfo, error) {
	info := f.DyldInfo()
	if info == nil {
		return nil, ErrNoDyldInfo
	}
	return info, nil
}

// BindOperations decodes one of the bind opcode streams of LC_DYLD_INFO
func (f *File) BindOperations(kind dyldinfo.BindKind) ([]dyldinfo.BindOp, error) {
	info, err := f.dyldInfo()
	if err != nil {
		return nil, err
	}
	off, size := kind.Range(&info.DyldInfoCmd)
	if size == 0 {
		return nil, nil
	}
	dat, err := f.linkedit(off, size, kind.String()+" bind info")
	if err != nil {
		return nil, err
	}
	ops, err := dyldinfo.BindOperations(dat).All()
	if err != nil {
		return ops, errors.Wrapf(err, "failed to decode %s bind opcodes", kind)
	}
	return ops, nil
}

// Bindings replays one bind stream into the pointer slots it binds
func (f *File) Bindings(kind dyldinfo.BindKind) ([]dyldinfo.BindingSymbol, error) {
	ops, err := f.BindOperations(kind)
	if err != nil {
		return nil, err
	}
	syms, err := dyldinfo.ResolveBindings(ops, f.pointerSize())
	if err != nil {
		return nil, errors.Wrapf(err, "failed to resolve %s bindings", kind)
	}
	return syms, nil
}

// RebaseOperations decodes the rebase opcode stream of LC_DYLD_INFO
func (f *File) RebaseOperations() ([]dyldinfo.RebaseOp, error) {
	info, err := f.dyldInfo()
	if err != nil {
		return nil, err
	}
	if info.RebaseSize == 0 {
		return nil, nil
	}
	dat, err := f.linkedit(info.RebaseOff, info.RebaseSize, "rebase info")
	if err != nil {
		return nil, err
	}
	ops, err := dyldinfo.RebaseOperations(dat).All()
	if err != nil {
		return ops, errors.Wrap(err, "failed to decode rebase opcodes")
	}
	return ops, nil
}

// Rebases replays the rebase stream into the pointer slots it slides
func (f *File) Rebases() ([]dyldinfo.Rebase, error) {
	ops, err := f.RebaseOperations()
	if err != nil {
		return nil, err
	}
	rebases, err := dyldinfo.ResolveRebases(ops, f.pointerSize())
	if err != nil {
		return nil, errors.Wrap(err, "failed to resolve rebases")
	}
	return rebases, nil
}

// ChainedFixups parses LC_DYLD_CHAINED_FIXUPS once per File.
// Segment offsets of the chain starts are replaced with the segments' file offsets,
// so every offset taken or returned by the chain walk is a file offset.
func (f *File) ChainedFixups() (*fixupchains.DyldChainedFixups, error) {
	f.dcfOnce.Do(func() {
		lc := f.DyldChainedFixups()
		if lc == nil {
			f.dcfErr = ErrNoChainedFixups
			return
		}
		dat, err := f.linkedit(lc.Offset, lc.Size, "LC_DYLD_CHAINED_FIXUPS")
		if err != nil {
			f.dcfErr = err
			return
		}
		dcf, err := fixupchains.Parse(dat, f.ByteOrder)
		if err != nil {
			f.dcfErr = errors.Wrap(err, "failed to parse dyld chained fixups")
			return
		}
		segs := f.Segments()
		for i := range dcf.Starts {
			starts := &dcf.Starts[i]
			if starts.SegIndex >= len(segs) {
				f.dcfErr = errors.Errorf("chained starts for segment %d but image has %d segments", starts.SegIndex, len(segs))
				return
			}
			starts.SegmentOffset = segs[starts.SegIndex].Offset
		}
		log.WithFields(log.Fields{
			"segments": len(dcf.Starts),
			"imports":  len(dcf.Imports),
		}).Debug("parsed chained fixups")
		f.dcf = dcf
	})
	return f.dcf, f.dcfErr
}

// ResolveRebase returns the target, as an offset from the preferred load address,
// of the chained rebase stored at the file offset off
func (f *File) ResolveRebase(off uint64) (uint64, error) {
	if target, ok := f.rebases.Get(off); ok {
		return target, nil
	}
	dcf, err := f.ChainedFixups()
	if err != nil {
		return 0, err
	}
	target, err := dcf.ResolveRebase(f, off, f.GetBaseAddress(), f)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to resolve rebase at %#x", off)
	}
	f.rebases.Add(off, target)
	return target, nil
}

// ResolveOptionalRebase is ResolveRebase for slots that may hold a null pointer.
// ok is false when the slot is zero.
func (f *File) ResolveOptionalRebase(off uint64) (uint64, bool, error) {
	if target, ok := f.rebases.Get(off); ok {
		return target, true, nil
	}
	dcf, err := f.ChainedFixups()
	if err != nil {
		return 0, false, err
	}
	target, ok, err := dcf.ResolveOptionalRebase(f, off, f.GetBaseAddress(), f)
	if err != nil {
		return 0, false, errors.Wrapf(err, "failed to resolve rebase at %#x", off)
	}
	if ok {
		f.rebases.Add(off, target)
	}
	return target, ok, nil
}

// ResolveBind returns the import bound at the file offset off and the combined addend
func (f *File) ResolveBind(off uint64) (fixupchains.Import, int64, error) {
	dcf, err := f.ChainedFixups()
	if err != nil {
		return fixupchains.Import{}, 0, err
	}
	imp, addend, err := dcf.ResolveBind(f, off)
	if err != nil {
		return fixupchains.Import{}, 0, errors.Wrapf(err, "failed to resolve bind at %#x", off)
	}
	return imp, addend, nil
}

// ChainedPointers walks every fixup chain of the image
func (f *File) ChainedPointers() ([]fixupchains.Pointer, error) {
	dcf, err := f.ChainedFixups()
	if err != nil {
		return nil, err
	}
	ptrs, err := dcf.Pointers(f)
	if err != nil {
		return nil, errors.Wrap(err, "failed to walk fixup chains")
	}
	return ptrs, nil
}
