package dyldinfo

import (
	"errors"
	"fmt"

	"github.com/appsworld/go-linkedit/types"
)

// MaxRecords bounds how many records one stream may expand into
const MaxRecords = 1 << 24

// ErrTooManyRecords is returned when repeat counts expand past MaxRecords
var ErrTooManyRecords = errors.New("opcode stream expands to too many records")

// BindingSymbol is one pointer slot bound to an imported symbol
type BindingSymbol struct {
	Name      string
	Ordinal   int64 // library ordinal, or a negative BIND_SPECIAL_DYLIB_* value
	Flags     uint8
	Type      uint8
	Addend    int64
	SegIndex  uint8
	SegOffset uint64
}

func (b BindingSymbol) WeakImport() bool {
	return b.Flags&types.BIND_SYMBOL_FLAGS_WEAK_IMPORT != 0
}

func (b BindingSymbol) NonWeakDefinition() bool {
	return b.Flags&types.BIND_SYMBOL_FLAGS_NON_WEAK_DEFINITION != 0
}

func (b BindingSymbol) String() string {
	lib := fmt.Sprintf("%d", b.Ordinal)
	if b.Ordinal <= 0 {
		lib = SpecialOrdinalName(b.Ordinal)
	}
	s := fmt.Sprintf("seg[%d]+%#x\t%s (dylib %s)", b.SegIndex, b.SegOffset, b.Name, lib)
	if b.Addend != 0 {
		s += fmt.Sprintf(" addend %d", b.Addend)
	}
	if b.WeakImport() {
		s += " [weak]"
	}
	return s
}

// ResolveBindings replays bind operations into the slots they bind.
// BIND_OPCODE_DONE separates lazy binding entries so it does not stop the replay.
func ResolveBindings(ops []BindOp, ptrSize uint64) ([]BindingSymbol, error) {
	var (
		syms  []BindingSymbol
		state = BindingSymbol{Type: types.BIND_TYPE_POINTER}
	)

	emit := func() error {
		if len(syms) >= MaxRecords {
			return fmt.Errorf("%d bindings: %w", len(syms), ErrTooManyRecords)
		}
		syms = append(syms, state)
		return nil
	}

	for _, op := range ops {
		switch op.Opcode {
		case BindSetDylibOrdinalImm, BindSetDylibOrdinalUleb, BindSetDylibSpecialImm:
			state.Ordinal = op.Ordinal
		case BindSetSymbolTrailingFlagsImm:
			state.Name = op.Symbol
			state.Flags = op.Flags
		case BindSetTypeImm:
			state.Type = op.Type
		case BindSetAddendSleb:
			state.Addend = op.Addend
		case BindSetSegmentAndOffsetUleb:
			state.SegIndex = op.Segment
			state.SegOffset = op.Offset
		case BindAddAddrUleb:
			state.SegOffset += op.Offset
		case BindDoBind:
			if err := emit(); err != nil {
				return nil, err
			}
			state.SegOffset += ptrSize
		case BindDoBindAddAddrUleb:
			if err := emit(); err != nil {
				return nil, err
			}
			state.SegOffset += ptrSize + op.Offset
		case BindDoBindAddAddrImmScaled:
			if err := emit(); err != nil {
				return nil, err
			}
			state.SegOffset += (uint64(op.Scale) + 1) * ptrSize
		case BindDoBindUlebTimesSkippingUleb:
			if op.Count > MaxRecords {
				return nil, fmt.Errorf("repeat count %d at %#x: %w", op.Count, op.Pos, ErrTooManyRecords)
			}
			for i := uint64(0); i < op.Count; i++ {
				if err := emit(); err != nil {
					return nil, err
				}
				state.SegOffset += op.Skip + ptrSize
			}
		}
	}

	return syms, nil
}

// Rebase is one pointer slot that slides with the image
type Rebase struct {
	Type      uint8
	SegIndex  uint8
	SegOffset uint64
}

func (r Rebase) String() string {
	return fmt.Sprintf("seg[%d]+%#x\ttype %d", r.SegIndex, r.SegOffset, r.Type)
}

// ResolveRebases replays rebase operations into the slots they rebase
func ResolveRebases(ops []RebaseOp, ptrSize uint64) ([]Rebase, error) {
	var (
		rebases []Rebase
		state   = Rebase{Type: types.REBASE_TYPE_POINTER}
	)

	repeat := func(op RebaseOp, count, step uint64) error {
		if count > MaxRecords || uint64(len(rebases))+count > MaxRecords {
			return fmt.Errorf("repeat count %d at %#x: %w", count, op.Pos, ErrTooManyRecords)
		}
		for i := uint64(0); i < count; i++ {
			rebases = append(rebases, state)
			state.SegOffset += step
		}
		return nil
	}

	for _, op := range ops {
		var err error
		switch op.Opcode {
		case RebaseDone:
			return rebases, nil
		case RebaseSetTypeImm:
			state.Type = op.Type
		case RebaseSetSegmentAndOffsetUleb:
			state.SegIndex = op.Segment
			state.SegOffset = op.Offset
		case RebaseAddAddrUleb:
			state.SegOffset += op.Offset
		case RebaseAddAddrImmScaled:
			state.SegOffset += uint64(op.Scale) * ptrSize
		case RebaseDoRebaseImmTimes, RebaseDoRebaseUlebTimes:
			err = repeat(op, op.Count, ptrSize)
		case RebaseDoRebaseAddAddrUleb:
			err = repeat(op, 1, op.Offset+ptrSize)
		case RebaseDoRebaseUlebTimesSkipping:
			err = repeat(op, op.Count, op.Skip+ptrSize)
		}
		if err != nil {
			return nil, err
		}
	}

	return rebases, nil
}
