package fixupchains

import (
	"errors"
	"fmt"

	"github.com/appsworld/go-linkedit/types"
)

var errStopWalk = errors.New("stop walk")

// Walk visits every fixup of every chain in image order.
// src is the image starting at its Mach-O header. Returning an error from fn stops the walk
// and that error is returned.
func (dcf *DyldChainedFixups) Walk(src types.Source, fn func(Pointer) error) error {
	for i := range dcf.Starts {
		starts := &dcf.Starts[i]
		for pageIndex := range starts.Pages() {
			if err := dcf.walkPage(src, starts, pageIndex, fn); err != nil {
				return err
			}
		}
	}
	return nil
}

// Pointers collects every fixup of the image
func (dcf *DyldChainedFixups) Pointers(src types.Source) ([]Pointer, error) {
	var ptrs []Pointer
	if err := dcf.Walk(src, func(p Pointer) error {
		ptrs = append(ptrs, p)
		return nil
	}); err != nil {
		return nil, err
	}
	return ptrs, nil
}

// PointerFor returns the fixup at the image offset off.
// Only the page holding off is walked.
func (dcf *DyldChainedFixups) PointerFor(src types.Source, off uint64) (Pointer, error) {
	starts, ok := dcf.StartsFor(off)
	if !ok {
		return Pointer{}, fmt.Errorf("offset %#x is outside every chained segment: %w", off, ErrNoFixupAtOffset)
	}

	var found Pointer
	pageIndex := int((off - starts.SegmentOffset) / uint64(starts.PageSize))
	err := dcf.walkPage(src, starts, pageIndex, func(p Pointer) error {
		if p.Offset == off {
			found = p
			return errStopWalk
		}
		return nil
	})
	switch {
	case errors.Is(err, errStopWalk):
		return found, nil
	case err != nil:
		return Pointer{}, err
	}
	return Pointer{}, fmt.Errorf("offset %#x: %w", off, ErrNoFixupAtOffset)
}

func (dcf *DyldChainedFixups) walkPage(src types.Source, starts *DyldChainedStarts, pageIndex int, fn func(Pointer) error) error {
	pageStart := starts.PageStarts[pageIndex]
	if pageStart == types.DYLD_CHAINED_PTR_START_NONE {
		return nil
	}

	if pageStart&types.DYLD_CHAINED_PTR_START_MULTI == 0 {
		return dcf.walkChain(src, starts, pageIndex, uint64(pageStart), fn)
	}

	// the overflow list is bounded by the starts array, LAST ends it
	for index := int(pageStart &^ types.DYLD_CHAINED_PTR_START_MULTI); ; index++ {
		if index >= len(starts.PageStarts) {
			return fmt.Errorf("page %d of segment %d: overflow starts never reach LAST: %w", pageIndex, starts.SegIndex, ErrMalformedStarts)
		}
		start := starts.PageStarts[index]
		if err := dcf.walkChain(src, starts, pageIndex, uint64(start&^types.DYLD_CHAINED_PTR_START_LAST), fn); err != nil {
			return err
		}
		if start&types.DYLD_CHAINED_PTR_START_LAST != 0 {
			return nil
		}
	}
}

func (dcf *DyldChainedFixups) walkChain(src types.Source, starts *DyldChainedStarts, pageIndex int, offsetInPage uint64, fn func(Pointer) error) error {
	var (
		format    = starts.PointerFormat
		stride    = format.Stride()
		pageSize  = uint64(starts.PageSize)
		pageBase  = starts.SegmentOffset + uint64(pageIndex)*pageSize
		maxLinks  = pageSize / stride
		is64      = format.Is64()
		slotWidth = uint64(4)
	)
	if is64 {
		slotWidth = 8
	}

	for link := uint64(0); ; link++ {
		if link >= maxLinks || offsetInPage+slotWidth > pageSize {
			return fmt.Errorf("segment %d page %d at %#x: %w", starts.SegIndex, pageIndex, offsetInPage, ErrChainTooLong)
		}

		off := pageBase + offsetInPage
		raw, err := types.ReadPointer(src, int64(off), is64, dcf.bo)
		if err != nil {
			return fmt.Errorf("failed to read chained pointer at %#x: %w", off, err)
		}
		content, err := Decode(format, raw)
		if err != nil {
			return fmt.Errorf("chained pointer at %#x: %w", off, err)
		}

		if err := fn(Pointer{
			Offset:   off,
			Format:   format,
			SegIndex: starts.SegIndex,
			Raw:      raw,
			Content:  content,
		}); err != nil {
			return err
		}

		next := content.Next()
		if next == 0 {
			return nil
		}
		offsetInPage += next * stride
	}
}
