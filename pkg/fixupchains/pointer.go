package fixupchains

import (
	"fmt"

	"github.com/appsworld/go-linkedit/types"
)

// Content is one decoded chained pointer record
type Content interface {
	Raw() uint64
	Next() uint64
	IsBind() bool
	IsAuth() bool
	String() string
}

// Bind is a Content that binds to an entry of the imports table
type Bind interface {
	Content
	Ordinal() uint64
	Addend() int64
}

// Kind names the class of c
func Kind(c Content) string {
	switch {
	case c.IsBind() && c.IsAuth():
		return "auth-bind"
	case c.IsBind():
		return "bind"
	case c.IsAuth():
		return "auth-rebase"
	}
	return "rebase"
}

// Decode classifies the raw slot value of a chain using the segment's pointer format
func Decode(format types.DCPtrKind, raw uint64) (Content, error) {
	switch format {
	case types.DYLD_CHAINED_PTR_ARM64E,
		types.DYLD_CHAINED_PTR_ARM64E_KERNEL,
		types.DYLD_CHAINED_PTR_ARM64E_USERLAND,
		types.DYLD_CHAINED_PTR_ARM64E_FIRMWARE:
		switch {
		case types.DcpArm64eIsAuth(raw) && types.DcpArm64eIsBind(raw):
			return types.DyldChainedPtrArm64eAuthBind(raw), nil
		case types.DcpArm64eIsAuth(raw):
			return types.DyldChainedPtrArm64eAuthRebase(raw), nil
		case types.DcpArm64eIsBind(raw):
			return types.DyldChainedPtrArm64eBind(raw), nil
		}
		return types.DyldChainedPtrArm64eRebase(raw), nil
	case types.DYLD_CHAINED_PTR_ARM64E_USERLAND24:
		switch {
		case types.DcpArm64eIsAuth(raw) && types.DcpArm64eIsBind(raw):
			return types.DyldChainedPtrArm64eAuthBind24(raw), nil
		case types.DcpArm64eIsAuth(raw):
			return types.DyldChainedPtrArm64eAuthRebase(raw), nil
		case types.DcpArm64eIsBind(raw):
			return types.DyldChainedPtrArm64eBind24(raw), nil
		}
		return types.DyldChainedPtrArm64eRebase(raw), nil
	case types.DYLD_CHAINED_PTR_64, types.DYLD_CHAINED_PTR_64_OFFSET:
		if types.Generic64IsBind(raw) {
			return types.DyldChainedPtr64Bind(raw), nil
		}
		return types.DyldChainedPtr64Rebase(raw), nil
	case types.DYLD_CHAINED_PTR_64_KERNEL_CACHE, types.DYLD_CHAINED_PTR_X86_64_KERNEL_CACHE:
		return types.DyldChainedPtr64KernelCacheRebase(raw), nil
	case types.DYLD_CHAINED_PTR_32:
		if types.Generic32IsBind(uint32(raw)) {
			return types.DyldChainedPtr32Bind(uint32(raw)), nil
		}
		return types.DyldChainedPtr32Rebase(uint32(raw)), nil
	case types.DYLD_CHAINED_PTR_32_CACHE:
		return types.DyldChainedPtr32CacheRebase(uint32(raw)), nil
	case types.DYLD_CHAINED_PTR_32_FIRMWARE:
		return types.DyldChainedPtr32FirmwareRebase(uint32(raw)), nil
	case types.DYLD_CHAINED_PTR_ARM64E_SHARED_CACHE:
		if types.ExtractBits(raw, 63, 1) != 0 {
			return types.DyldChainedPtrArm64eSharedCacheAuthRebase(raw), nil
		}
		return types.DyldChainedPtrArm64eSharedCacheRebase(raw), nil
	case types.DYLD_CHAINED_PTR_ARM64E_SEGMENTED:
		if types.ExtractBits(raw, 63, 1) != 0 {
			return types.DyldChainedPtrArm64eSegmentedAuthRebase(raw), nil
		}
		// bits 32..50 are padding in the only plain sub-kind defined so far
		if types.ExtractBits(raw, 32, 19) != 0 {
			return nil, fmt.Errorf("segmented pointer %#x: %w", raw, ErrUnknownFormat)
		}
		return types.DyldChainedPtrArm64eSegmentedRebase(raw), nil
	}
	return nil, fmt.Errorf("pointer format %d: %w", uint16(format), ErrUnknownFormat)
}

// Pointer is one fixup visited by a chain walk
type Pointer struct {
	Offset   uint64 // from the start of the image
	Format   types.DCPtrKind
	SegIndex int
	Raw      uint64
	Content  Content
}

func (p Pointer) Kind() string { return Kind(p.Content) }

func (p Pointer) String() string {
	return fmt.Sprintf("%#010x: seg[%d] %s %s", p.Offset, p.SegIndex, p.Kind(), p.Content)
}

// SegmentResolver maps a segment index to the segment's offset from the image's preferred load address
type SegmentResolver interface {
	SegmentVMOffset(index int) (uint64, error)
}

// RebaseTargetRuntimeOffset returns the target of a rebase as an offset from the image base
func RebaseTargetRuntimeOffset(p Pointer, preferredLoadAddress uint64, segs SegmentResolver) (uint64, error) {
	if p.Content == nil || p.Content.IsBind() {
		return 0, fmt.Errorf("fixup at %#x: %w", p.Offset, ErrNotRebase)
	}

	switch c := p.Content.(type) {
	case types.DyldChainedPtrArm64eAuthRebase:
		return c.Target(), nil
	case types.DyldChainedPtrArm64eRebase:
		target := c.UnpackedTarget()
		switch p.Format {
		case types.DYLD_CHAINED_PTR_ARM64E, types.DYLD_CHAINED_PTR_ARM64E_FIRMWARE:
			target -= preferredLoadAddress
		}
		return target, nil
	case types.DyldChainedPtr64Rebase:
		target := c.UnpackedTarget()
		if p.Format == types.DYLD_CHAINED_PTR_64 {
			target -= preferredLoadAddress
		}
		return target, nil
	case types.DyldChainedPtr64KernelCacheRebase:
		return c.Target(), nil
	case types.DyldChainedPtr32Rebase:
		return c.Target() - preferredLoadAddress, nil
	case types.DyldChainedPtr32CacheRebase:
		return c.Target() - preferredLoadAddress, nil
	case types.DyldChainedPtr32FirmwareRebase:
		return c.Target() - preferredLoadAddress, nil
	case types.DyldChainedPtrArm64eSharedCacheRebase:
		return c.RuntimeOffset(), nil
	case types.DyldChainedPtrArm64eSharedCacheAuthRebase:
		return c.RuntimeOffset(), nil
	case types.DyldChainedPtrArm64eSegmentedRebase:
		return segmentTarget(segs, c.TargetSegIndex(), c.TargetSegOffset())
	case types.DyldChainedPtrArm64eSegmentedAuthRebase:
		return segmentTarget(segs, c.TargetSegIndex(), c.TargetSegOffset())
	}

	return 0, fmt.Errorf("%T at %#x: %w", p.Content, p.Offset, ErrUnknownFormat)
}

func segmentTarget(segs SegmentResolver, index, offset uint64) (uint64, error) {
	if segs == nil {
		return 0, fmt.Errorf("segmented rebase into segment %d needs a segment table", index)
	}
	base, err := segs.SegmentVMOffset(int(index))
	if err != nil {
		return 0, fmt.Errorf("failed to resolve segment %d: %w", index, err)
	}
	return base + offset, nil
}
