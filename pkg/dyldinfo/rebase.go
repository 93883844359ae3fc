package dyldinfo

import (
	"fmt"

	"github.com/appsworld/go-linkedit/pkg/leb128"
	"github.com/appsworld/go-linkedit/types"
)

type RebaseOpcode uint8

const (
	RebaseDone                      RebaseOpcode = types.REBASE_OPCODE_DONE
	RebaseSetTypeImm                RebaseOpcode = types.REBASE_OPCODE_SET_TYPE_IMM
	RebaseSetSegmentAndOffsetUleb   RebaseOpcode = types.REBASE_OPCODE_SET_SEGMENT_AND_OFFSET_ULEB
	RebaseAddAddrUleb               RebaseOpcode = types.REBASE_OPCODE_ADD_ADDR_ULEB
	RebaseAddAddrImmScaled          RebaseOpcode = types.REBASE_OPCODE_ADD_ADDR_IMM_SCALED
	RebaseDoRebaseImmTimes          RebaseOpcode = types.REBASE_OPCODE_DO_REBASE_IMM_TIMES
	RebaseDoRebaseUlebTimes         RebaseOpcode = types.REBASE_OPCODE_DO_REBASE_ULEB_TIMES
	RebaseDoRebaseAddAddrUleb       RebaseOpcode = types.REBASE_OPCODE_DO_REBASE_ADD_ADDR_ULEB
	RebaseDoRebaseUlebTimesSkipping RebaseOpcode = types.REBASE_OPCODE_DO_REBASE_ULEB_TIMES_SKIPPING_ULEB
)

var rebaseOpcodeStrings = []types.IntName{
	{I: uint32(RebaseDone), S: "REBASE_OPCODE_DONE"},
	{I: uint32(RebaseSetTypeImm), S: "REBASE_OPCODE_SET_TYPE_IMM"},
	{I: uint32(RebaseSetSegmentAndOffsetUleb), S: "REBASE_OPCODE_SET_SEGMENT_AND_OFFSET_ULEB"},
	{I: uint32(RebaseAddAddrUleb), S: "REBASE_OPCODE_ADD_ADDR_ULEB"},
	{I: uint32(RebaseAddAddrImmScaled), S: "REBASE_OPCODE_ADD_ADDR_IMM_SCALED"},
	{I: uint32(RebaseDoRebaseImmTimes), S: "REBASE_OPCODE_DO_REBASE_IMM_TIMES"},
	{I: uint32(RebaseDoRebaseUlebTimes), S: "REBASE_OPCODE_DO_REBASE_ULEB_TIMES"},
	{I: uint32(RebaseDoRebaseAddAddrUleb), S: "REBASE_OPCODE_DO_REBASE_ADD_ADDR_ULEB"},
	{I: uint32(RebaseDoRebaseUlebTimesSkipping), S: "REBASE_OPCODE_DO_REBASE_ULEB_TIMES_SKIPPING_ULEB"},
}

func (o RebaseOpcode) String() string   { return types.StringName(uint32(o), rebaseOpcodeStrings, false) }
func (o RebaseOpcode) GoString() string { return types.StringName(uint32(o), rebaseOpcodeStrings, true) }

// RebaseOp is one decoded rebase instruction.
// Only the operands of Opcode are set.
type RebaseOp struct {
	Pos     int // offset of the opcode byte in the stream
	Opcode  RebaseOpcode
	Type    uint8  // SET_TYPE_IMM
	Segment uint8  // SET_SEGMENT_AND_OFFSET_ULEB
	Offset  uint64 // SET_SEGMENT_AND_OFFSET_ULEB, ADD_ADDR_ULEB, DO_REBASE_ADD_ADDR_ULEB
	Scale   uint8  // ADD_ADDR_IMM_SCALED
	Count   uint64 // DO_REBASE_*_TIMES*
	Skip    uint64 // DO_REBASE_ULEB_TIMES_SKIPPING_ULEB
}

func (op RebaseOp) String() string {
	switch op.Opcode {
	case RebaseSetTypeImm:
		return fmt.Sprintf("%s(%d)", op.Opcode, op.Type)
	case RebaseSetSegmentAndOffsetUleb:
		return fmt.Sprintf("%s(%d, %#x)", op.Opcode, op.Segment, op.Offset)
	case RebaseAddAddrUleb, RebaseDoRebaseAddAddrUleb:
		return fmt.Sprintf("%s(%#x)", op.Opcode, op.Offset)
	case RebaseAddAddrImmScaled:
		return fmt.Sprintf("%s(%d)", op.Opcode, op.Scale)
	case RebaseDoRebaseImmTimes, RebaseDoRebaseUlebTimes:
		return fmt.Sprintf("%s(%d)", op.Opcode, op.Count)
	case RebaseDoRebaseUlebTimesSkipping:
		return fmt.Sprintf("%s(%d, %#x)", op.Opcode, op.Count, op.Skip)
	}
	return op.Opcode.String()
}

func readUleb(c *leb128.Cursor, dst *uint64) error {
	v, err := c.Uleb128()
	*dst = v
	return err
}

var rebaseDecoders = [16]func(c *leb128.Cursor, imm uint8, op *RebaseOp) error{
	RebaseDone >> 4: func(*leb128.Cursor, uint8, *RebaseOp) error {
		return nil
	},
	RebaseSetTypeImm >> 4: func(_ *leb128.Cursor, imm uint8, op *RebaseOp) error {
		op.Type = imm
		return nil
	},
	RebaseSetSegmentAndOffsetUleb >> 4: func(c *leb128.Cursor, imm uint8, op *RebaseOp) error {
		op.Segment = imm
		return readUleb(c, &op.Offset)
	},
	RebaseAddAddrUleb >> 4: func(c *leb128.Cursor, _ uint8, op *RebaseOp) error {
		return readUleb(c, &op.Offset)
	},
	RebaseAddAddrImmScaled >> 4: func(_ *leb128.Cursor, imm uint8, op *RebaseOp) error {
		op.Scale = imm
		return nil
	},
	RebaseDoRebaseImmTimes >> 4: func(_ *leb128.Cursor, imm uint8, op *RebaseOp) error {
		op.Count = uint64(imm)
		return nil
	},
	RebaseDoRebaseUlebTimes >> 4: func(c *leb128.Cursor, _ uint8, op *RebaseOp) error {
		return readUleb(c, &op.Count)
	},
	RebaseDoRebaseAddAddrUleb >> 4: func(c *leb128.Cursor, _ uint8, op *RebaseOp) error {
		return readUleb(c, &op.Offset)
	},
	RebaseDoRebaseUlebTimesSkipping >> 4: func(c *leb128.Cursor, _ uint8, op *RebaseOp) error {
		if err := readUleb(c, &op.Count); err != nil {
			return err
		}
		return readUleb(c, &op.Skip)
	},
}

// RebaseIterator lazily decodes a rebase opcode stream.
// REBASE_OPCODE_DONE ends the stream so trailing padding is never decoded.
type RebaseIterator struct {
	c   *leb128.Cursor
	end bool
	err error
}

// RebaseOperations returns an iterator over the rebase stream b
func RebaseOperations(b []byte) *RebaseIterator {
	return &RebaseIterator{c: leb128.NewCursor(b)}
}

// Next decodes the next operation
func (it *RebaseIterator) Next() (RebaseOp, bool) {
	if it.end || it.c.Done() {
		return RebaseOp{}, false
	}

	pos := it.c.Offset()
	val, err := it.c.Uint8()
	if err != nil {
		it.end, it.err = true, err
		return RebaseOp{}, false
	}

	op := RebaseOp{
		Pos:    pos,
		Opcode: RebaseOpcode(val & types.REBASE_OPCODE_MASK),
	}
	decode := rebaseDecoders[op.Opcode>>4]
	if decode == nil {
		it.end = true
		return RebaseOp{}, false
	}
	if err := decode(it.c, val&types.REBASE_IMMEDIATE_MASK, &op); err != nil {
		it.end, it.err = true, fmt.Errorf("failed to decode %s at %#x: %w", op.Opcode, pos, err)
		return RebaseOp{}, false
	}
	if op.Opcode == RebaseDone {
		it.end = true
	}

	return op, true
}

// Err returns the truncation that ended the stream, if any
func (it *RebaseIterator) Err() error { return it.err }

// All drains the iterator
func (it *RebaseIterator) All() ([]RebaseOp, error) {
	var ops []RebaseOp
	for {
		op, ok := it.Next()
		if !ok {
			return ops, it.err
		}
		ops = append(ops, op)
	}
}
