package slide

import (
	"encoding/binary"
	"fmt"

	"github.com/appsworld/go-linkedit/pkg/fixupchains"
	"github.com/appsworld/go-linkedit/types"
)

const (
	v2DeltaMask = 0x00FFFF0000000000
	v4DeltaMask = 0x00000000C0000000
)

// Mapping is one shared cache mapping and the slide info that covers it
type Mapping struct {
	Address    uint64
	Size       uint64
	FileOffset uint64
	Version    Version
	Info       SlideInfo // required for v2 and v4, which carry value_add
}

// Contains reports whether the file offset off is inside m
func (m Mapping) Contains(off uint64) bool {
	return m.FileOffset <= off && off-m.FileOffset < m.Size
}

// Resolver computes the rebased value stored at a shared cache file offset
type Resolver struct {
	Source            types.Source
	SharedRegionStart uint64 // unslid load address of the cache
	Is64              bool
	ByteOrder         binary.ByteOrder // little endian when nil
	Mappings          []Mapping
}

func (r *Resolver) bo() binary.ByteOrder {
	if r.ByteOrder == nil {
		return binary.LittleEndian
	}
	return r.ByteOrder
}

// MappingFor returns the mapping containing the file offset off
func (r *Resolver) MappingFor(off uint64) (*Mapping, error) {
	for i := range r.Mappings {
		if r.Mappings[i].Contains(off) {
			return &r.Mappings[i], nil
		}
	}
	return nil, fmt.Errorf("file offset %#x: %w", off, ErrNoMapping)
}

func valueAdd(m *Mapping) (uint64, error) {
	switch i := m.Info.(type) {
	case SlideInfoV2:
		return i.ValueAdd, nil
	case *SlideInfoV2:
		return i.ValueAdd, nil
	case SlideInfoV4:
		return i.ValueAdd, nil
	case *SlideInfoV4:
		return i.ValueAdd, nil
	}
	return 0, fmt.Errorf("%s mapping at %#x: %w", m.Version, m.Address, ErrMissingInfo)
}

// is64Slot reports whether a mapping version stores 8 byte values
func (r *Resolver) is64Slot(v Version) bool {
	switch v {
	case VersionNone:
		return r.Is64
	case V1, V4:
		return false
	}
	return true
}

// ResolveRebase returns the unslid pointer value stored at the file offset off
func (r *Resolver) ResolveRebase(off uint64) (uint64, error) {
	m, err := r.MappingFor(off)
	if err != nil {
		return 0, err
	}
	if !m.Version.Known() {
		return 0, fmt.Errorf("mapping at %#x: %w", m.Address, ErrUnknownVersion)
	}

	raw, err := types.ReadPointer(r.Source, int64(off), r.is64Slot(m.Version), r.bo())
	if err != nil {
		return 0, fmt.Errorf("failed to read slot at %#x: %w", off, err)
	}
	return r.resolve(m, off, raw)
}

// ResolveOptionalRebase is ResolveRebase for slots that may hold a null pointer.
// ok is false when the stored value is zero.
func (r *Resolver) ResolveOptionalRebase(off uint64) (value uint64, ok bool, err error) {
	m, err := r.MappingFor(off)
	if err != nil {
		return 0, false, err
	}
	if !m.Version.Known() {
		return 0, false, fmt.Errorf("mapping at %#x: %w", m.Address, ErrUnknownVersion)
	}

	raw, err := types.ReadPointer(r.Source, int64(off), r.is64Slot(m.Version), r.bo())
	if err != nil {
		return 0, false, fmt.Errorf("failed to read slot at %#x: %w", off, err)
	}
	if raw == 0 {
		return 0, false, nil
	}
	value, err = r.resolve(m, off, raw)
	if err != nil {
		return 0, false, err
	}
	return value, true, nil
}

func (r *Resolver) resolve(m *Mapping, off, raw uint64) (uint64, error) {
	start := r.SharedRegionStart

	switch m.Version {
	case VersionNone:
		return raw, nil
	case V1:
		// slots hold unslid addresses
		runtime := raw - start
		return runtime + start, nil
	case V2:
		add, err := valueAdd(m)
		if err != nil {
			return 0, err
		}
		return raw&^v2DeltaMask + add, nil
	case V3:
		runtime, err := chainedRuntimeOffset(types.DYLD_CHAINED_PTR_ARM64E, off, raw, start)
		if err != nil {
			return 0, err
		}
		return runtime + start, nil
	case V4:
		add, err := valueAdd(m)
		if err != nil {
			return 0, err
		}
		return raw&^v4DeltaMask + add, nil
	case V5:
		runtime, err := chainedRuntimeOffset(types.DYLD_CHAINED_PTR_ARM64E_SHARED_CACHE, off, raw, start)
		if err != nil {
			return 0, err
		}
		return runtime + start, nil
	}

	return 0, fmt.Errorf("mapping at %#x has version %d: %w", m.Address, uint32(m.Version), ErrUnknownVersion)
}

func chainedRuntimeOffset(format types.DCPtrKind, off, raw, preferred uint64) (uint64, error) {
	content, err := fixupchains.Decode(format, raw)
	if err != nil {
		return 0, err
	}
	return fixupchains.RebaseTargetRuntimeOffset(fixupchains.Pointer{
		Offset:  off,
		Format:  format,
		Raw:     raw,
		Content: content,
	}, preferred, nil)
}
