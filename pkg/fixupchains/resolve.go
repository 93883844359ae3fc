package fixupchains

import (
	"fmt"

	"github.com/appsworld/go-linkedit/types"
)

// ResolveRebase returns the runtime offset a rebase at off points to
func (dcf *DyldChainedFixups) ResolveRebase(src types.Source, off, preferredLoadAddress uint64, segs SegmentResolver) (uint64, error) {
	p, err := dcf.PointerFor(src, off)
	if err != nil {
		return 0, err
	}
	return RebaseTargetRuntimeOffset(p, preferredLoadAddress, segs)
}

// ResolveOptionalRebase is ResolveRebase for slots that may hold a null pointer.
// ok is false when the slot is zero.
func (dcf *DyldChainedFixups) ResolveOptionalRebase(src types.Source, off, preferredLoadAddress uint64, segs SegmentResolver) (target uint64, ok bool, err error) {
	starts, found := dcf.StartsFor(off)
	if !found {
		return 0, false, fmt.Errorf("offset %#x is outside every chained segment: %w", off, ErrNoFixupAtOffset)
	}
	raw, err := types.ReadPointer(src, int64(off), starts.PointerFormat.Is64(), dcf.bo)
	if err != nil {
		return 0, false, fmt.Errorf("failed to read slot at %#x: %w", off, err)
	}
	if raw == 0 {
		return 0, false, nil
	}
	target, err = dcf.ResolveRebase(src, off, preferredLoadAddress, segs)
	if err != nil {
		return 0, false, err
	}
	return target, true, nil
}

// ResolveBind returns the import a bind at off refers to together with the
// combined pointer and import addend
func (dcf *DyldChainedFixups) ResolveBind(src types.Source, off uint64) (Import, int64, error) {
	p, err := dcf.PointerFor(src, off)
	if err != nil {
		return Import{}, 0, err
	}
	b, ok := p.Content.(Bind)
	if !ok || !b.IsBind() {
		return Import{}, 0, fmt.Errorf("fixup at %#x is a %s: %w", off, p.Kind(), ErrNotBind)
	}
	imp, err := dcf.Import(b.Ordinal())
	if err != nil {
		return Import{}, 0, err
	}
	return imp, b.Addend() + imp.Addend, nil
}
