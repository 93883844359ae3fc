// Package dyldinfo interprets the rebase and bind opcode streams of LC_DYLD_INFO.
package dyldinfo

import (
	"fmt"

	"github.com/appsworld/go-linkedit/pkg/leb128"
	"github.com/appsworld/go-linkedit/types"
)

type BindOpcode uint8

const (
	BindDone                        BindOpcode = types.BIND_OPCODE_DONE
	BindSetDylibOrdinalImm          BindOpcode = types.BIND_OPCODE_SET_DYLIB_ORDINAL_IMM
	BindSetDylibOrdinalUleb         BindOpcode = types.BIND_OPCODE_SET_DYLIB_ORDINAL_ULEB
	BindSetDylibSpecialImm          BindOpcode = types.BIND_OPCODE_SET_DYLIB_SPECIAL_IMM
	BindSetSymbolTrailingFlagsImm   BindOpcode = types.BIND_OPCODE_SET_SYMBOL_TRAILING_FLAGS_IMM
	BindSetTypeImm                  BindOpcode = types.BIND_OPCODE_SET_TYPE_IMM
	BindSetAddendSleb               BindOpcode = types.BIND_OPCODE_SET_ADDEND_SLEB
	BindSetSegmentAndOffsetUleb     BindOpcode = types.BIND_OPCODE_SET_SEGMENT_AND_OFFSET_ULEB
	BindAddAddrUleb                 BindOpcode = types.BIND_OPCODE_ADD_ADDR_ULEB
	BindDoBind                      BindOpcode = types.BIND_OPCODE_DO_BIND
	BindDoBindAddAddrUleb           BindOpcode = types.BIND_OPCODE_DO_BIND_ADD_ADDR_ULEB
	BindDoBindAddAddrImmScaled      BindOpcode = types.BIND_OPCODE_DO_BIND_ADD_ADDR_IMM_SCALED
	BindDoBindUlebTimesSkippingUleb BindOpcode = types.BIND_OPCODE_DO_BIND_ULEB_TIMES_SKIPPING_ULEB
	BindThreaded                    BindOpcode = types.BIND_OPCODE_THREADED
)

var bindOpcodeStrings = []types.IntName{
	{I: uint32(BindDone), S: "BIND_OPCODE_DONE"},
	{I: uint32(BindSetDylibOrdinalImm), S: "BIND_OPCODE_SET_DYLIB_ORDINAL_IMM"},
	{I: uint32(BindSetDylibOrdinalUleb), S: "BIND_OPCODE_SET_DYLIB_ORDINAL_ULEB"},
	{I: uint32(BindSetDylibSpecialImm), S: "BIND_OPCODE_SET_DYLIB_SPECIAL_IMM"},
	{I: uint32(BindSetSymbolTrailingFlagsImm), S: "BIND_OPCODE_SET_SYMBOL_TRAILING_FLAGS_IMM"},
	{I: uint32(BindSetTypeImm), S: "BIND_OPCODE_SET_TYPE_IMM"},
	{I: uint32(BindSetAddendSleb), S: "BIND_OPCODE_SET_ADDEND_SLEB"},
	{I: uint32(BindSetSegmentAndOffsetUleb), S: "BIND_OPCODE_SET_SEGMENT_AND_OFFSET_ULEB"},
	{I: uint32(BindAddAddrUleb), S: "BIND_OPCODE_ADD_ADDR_ULEB"},
	{I: uint32(BindDoBind), S: "BIND_OPCODE_DO_BIND"},
	{I: uint32(BindDoBindAddAddrUleb), S: "BIND_OPCODE_DO_BIND_ADD_ADDR_ULEB"},
	{I: uint32(BindDoBindAddAddrImmScaled), S: "BIND_OPCODE_DO_BIND_ADD_ADDR_IMM_SCALED"},
	{I: uint32(BindDoBindUlebTimesSkippingUleb), S: "BIND_OPCODE_DO_BIND_ULEB_TIMES_SKIPPING_ULEB"},
	{I: uint32(BindThreaded), S: "BIND_OPCODE_THREADED"},
}

func (o BindOpcode) String() string   { return types.StringName(uint32(o), bindOpcodeStrings, false) }
func (o BindOpcode) GoString() string { return types.StringName(uint32(o), bindOpcodeStrings, true) }

type BindSubOpcode uint8

const (
	BindThreadedSetBindOrdinalTableSizeUleb BindSubOpcode = types.BIND_SUBOPCODE_THREADED_SET_BIND_ORDINAL_TABLE_SIZE_ULEB
	BindThreadedApply                       BindSubOpcode = types.BIND_SUBOPCODE_THREADED_APPLY
)

func (s BindSubOpcode) String() string {
	switch s {
	case BindThreadedSetBindOrdinalTableSizeUleb:
		return "BIND_SUBOPCODE_THREADED_SET_BIND_ORDINAL_TABLE_SIZE_ULEB"
	case BindThreadedApply:
		return "BIND_SUBOPCODE_THREADED_APPLY"
	}
	return fmt.Sprintf("BindSubOpcode(%d)", uint8(s))
}

// BindKind selects one of the three bind streams of LC_DYLD_INFO
type BindKind uint8

const (
	BindNormal BindKind = iota
	BindWeak
	BindLazy
)

func (k BindKind) String() string {
	switch k {
	case BindNormal:
		return "normal"
	case BindWeak:
		return "weak"
	case BindLazy:
		return "lazy"
	}
	return fmt.Sprintf("BindKind(%d)", uint8(k))
}

// ParseBindKind maps a name as printed by String back to a BindKind
func ParseBindKind(s string) (BindKind, error) {
	for _, k := range []BindKind{BindNormal, BindWeak, BindLazy} {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown bind kind %q (expected normal, weak or lazy)", s)
}

// Range returns the file offset and size of this kind's stream
func (k BindKind) Range(info *types.DyldInfoCmd) (uint32, uint32) {
	switch k {
	case BindWeak:
		return info.WeakBindOff, info.WeakBindSize
	case BindLazy:
		return info.LazyBindOff, info.LazyBindSize
	default:
		return info.BindOff, info.BindSize
	}
}

// BindOp is one decoded bind instruction.
// Only the operands of Opcode are set.
type BindOp struct {
	Pos       int // offset of the opcode byte in the stream
	Opcode    BindOpcode
	SubOpcode BindSubOpcode // BIND_OPCODE_THREADED

	Ordinal int64  // SET_DYLIB_*; special ordinals are negative
	Flags   uint8  // SET_SYMBOL_TRAILING_FLAGS_IMM
	Symbol  string // SET_SYMBOL_TRAILING_FLAGS_IMM
	Type    uint8  // SET_TYPE_IMM
	Addend  int64  // SET_ADDEND_SLEB
	Segment uint8  // SET_SEGMENT_AND_OFFSET_ULEB
	Offset  uint64 // SET_SEGMENT_AND_OFFSET_ULEB, ADD_ADDR_ULEB, DO_BIND_ADD_ADDR_ULEB
	Scale   uint8  // DO_BIND_ADD_ADDR_IMM_SCALED
	Count   uint64 // DO_BIND_ULEB_TIMES_SKIPPING_ULEB
	Skip    uint64 // DO_BIND_ULEB_TIMES_SKIPPING_ULEB
	Size    uint64 // THREADED_SET_BIND_ORDINAL_TABLE_SIZE_ULEB
}

func (op BindOp) String() string {
	switch op.Opcode {
	case BindSetDylibOrdinalImm, BindSetDylibOrdinalUleb:
		return fmt.Sprintf("%s(%d)", op.Opcode, op.Ordinal)
	case BindSetDylibSpecialImm:
		return fmt.Sprintf("%s(%d) %s", op.Opcode, op.Ordinal, SpecialOrdinalName(op.Ordinal))
	case BindSetSymbolTrailingFlagsImm:
		return fmt.Sprintf("%s(%#x, %s)", op.Opcode, op.Flags, op.Symbol)
	case BindSetTypeImm:
		return fmt.Sprintf("%s(%d)", op.Opcode, op.Type)
	case BindSetAddendSleb:
		return fmt.Sprintf("%s(%d)", op.Opcode, op.Addend)
	case BindSetSegmentAndOffsetUleb:
		return fmt.Sprintf("%s(%d, %#x)", op.Opcode, op.Segment, op.Offset)
	case BindAddAddrUleb, BindDoBindAddAddrUleb:
		return fmt.Sprintf("%s(%#x)", op.Opcode, op.Offset)
	case BindDoBindAddAddrImmScaled:
		return fmt.Sprintf("%s(%d)", op.Opcode, op.Scale)
	case BindDoBindUlebTimesSkippingUleb:
		return fmt.Sprintf("%s(%d, %#x)", op.Opcode, op.Count, op.Skip)
	case BindThreaded:
		if op.SubOpcode == BindThreadedSetBindOrdinalTableSizeUleb {
			return fmt.Sprintf("%s %s(%d)", op.Opcode, op.SubOpcode, op.Size)
		}
		return fmt.Sprintf("%s %s", op.Opcode, op.SubOpcode)
	}
	return op.Opcode.String()
}

// SpecialOrdinalName names the BIND_SPECIAL_DYLIB_* ordinals
func SpecialOrdinalName(ordinal int64) string {
	switch ordinal {
	case types.BIND_SPECIAL_DYLIB_SELF:
		return "self"
	case types.BIND_SPECIAL_DYLIB_MAIN_EXECUTABLE:
		return "main-executable"
	case types.BIND_SPECIAL_DYLIB_FLAT_LOOKUP:
		return "flat-lookup"
	case types.BIND_SPECIAL_DYLIB_WEAK_LOOKUP:
		return "weak-lookup"
	}
	return fmt.Sprintf("special(%d)", ordinal)
}

// bindDecoders maps an opcode nibble to the decoder of its operands.
// A nil entry is an unknown opcode.
var bindDecoders = [16]func(c *leb128.Cursor, imm uint8, op *BindOp) (bool, error){
	BindDone >> 4: func(*leb128.Cursor, uint8, *BindOp) (bool, error) {
		return true, nil
	},
	BindSetDylibOrdinalImm >> 4: func(_ *leb128.Cursor, imm uint8, op *BindOp) (bool, error) {
		op.Ordinal = int64(imm)
		return true, nil
	},
	BindSetDylibOrdinalUleb >> 4: func(c *leb128.Cursor, _ uint8, op *BindOp) (bool, error) {
		v, err := c.Uleb128()
		op.Ordinal = int64(v)
		return true, err
	},
	BindSetDylibSpecialImm >> 4: func(_ *leb128.Cursor, imm uint8, op *BindOp) (bool, error) {
		// the immediate is a sign extended 4 bit value
		if imm != 0 {
			op.Ordinal = int64(int8(types.BIND_OPCODE_MASK | imm))
		}
		return true, nil
	},
	BindSetSymbolTrailingFlagsImm >> 4: func(c *leb128.Cursor, imm uint8, op *BindOp) (bool, error) {
		op.Flags = imm
		s, err := c.CString()
		op.Symbol = s
		return true, err
	},
	BindSetTypeImm >> 4: func(_ *leb128.Cursor, imm uint8, op *BindOp) (bool, error) {
		op.Type = imm
		return true, nil
	},
	BindSetAddendSleb >> 4: func(c *leb128.Cursor, _ uint8, op *BindOp) (bool, error) {
		v, err := c.Sleb128()
		op.Addend = v
		return true, err
	},
	BindSetSegmentAndOffsetUleb >> 4: func(c *leb128.Cursor, imm uint8, op *BindOp) (bool, error) {
		op.Segment = imm
		v, err := c.Uleb128()
		op.Offset = v
		return true, err
	},
	BindAddAddrUleb >> 4: func(c *leb128.Cursor, _ uint8, op *BindOp) (bool, error) {
		v, err := c.Uleb128()
		op.Offset = v
		return true, err
	},
	BindDoBind >> 4: func(*leb128.Cursor, uint8, *BindOp) (bool, error) {
		return true, nil
	},
	BindDoBindAddAddrUleb >> 4: func(c *leb128.Cursor, _ uint8, op *BindOp) (bool, error) {
		v, err := c.Uleb128()
		op.Offset = v
		return true, err
	},
	BindDoBindAddAddrImmScaled >> 4: func(_ *leb128.Cursor, imm uint8, op *BindOp) (bool, error) {
		op.Scale = imm
		return true, nil
	},
	BindDoBindUlebTimesSkippingUleb >> 4: func(c *leb128.Cursor, _ uint8, op *BindOp) (bool, error) {
		var err error
		if op.Count, err = c.Uleb128(); err != nil {
			return true, err
		}
		op.Skip, err = c.Uleb128()
		return true, err
	},
	BindThreaded >> 4: func(c *leb128.Cursor, imm uint8, op *BindOp) (bool, error) {
		op.SubOpcode = BindSubOpcode(imm)
		switch op.SubOpcode {
		case BindThreadedSetBindOrdinalTableSizeUleb:
			v, err := c.Uleb128()
			op.Size = v
			return true, err
		case BindThreadedApply:
			return true, nil
		}
		return false, nil
	},
}

// BindIterator lazily decodes a bind opcode stream.
// An unknown opcode ends the stream without an error; a truncated operand ends
// it and is reported by Err.
type BindIterator struct {
	c   *leb128.Cursor
	end bool
	err error
}

// BindOperations returns an iterator over the bind stream b
func BindOperations(b []byte) *BindIterator {
	return &BindIterator{c: leb128.NewCursor(b)}
}

// Next decodes the next operation
func (it *BindIterator) Next() (BindOp, bool) {
	if it.end || it.c.Done() {
		return BindOp{}, false
	}

	pos := it.c.Offset()
	val, err := it.c.Uint8()
	if err != nil {
		it.end, it.err = true, err
		return BindOp{}, false
	}

	op := BindOp{
		Pos:    pos,
		Opcode: BindOpcode(val & types.BIND_OPCODE_MASK),
	}
	decode := bindDecoders[op.Opcode>>4]
	if decode == nil {
		it.end = true
		return BindOp{}, false
	}
	known, err := decode(it.c, val&types.BIND_IMMEDIATE_MASK, &op)
	if err != nil {
		it.end, it.err = true, fmt.Errorf("failed to decode %s at %#x: %w", op.Opcode, pos, err)
		return BindOp{}, false
	}
	if !known {
		it.end = true
		return BindOp{}, false
	}

	return op, true
}

// Err returns the truncation that ended the stream, if any
func (it *BindIterator) Err() error { return it.err }

// All drains the iterator
func (it *BindIterator) All() ([]BindOp, error) {
	var ops []BindOp
	for {
		op, ok := it.Next()
		if !ok {
			return ops, it.err
		}
		ops = append(ops, op)
	}
}
