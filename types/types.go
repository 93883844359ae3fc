package types

import (
	"encoding/binary"
	"fmt"
	"strconv"
)

type VmProtection int32

func (v VmProtection) Read() bool {
	return (v & 0x01) != 0
}

func (v VmProtection) Write() bool {
	return (v & 0x02) != 0
}

func (v VmProtection) Execute() bool {
	return (v & 0x04) != 0
}

func (v VmProtection) String() string {
	var protStr string
	if v.Read() {
		protStr += "r"
	} else {
		protStr += "-"
	}
	if v.Write() {
		protStr += "w"
	} else {
		protStr += "-"
	}
	if v.Execute() {
		protStr += "x"
	} else {
		protStr += "-"
	}
	return protStr
}

// Version is a packed X.Y.Z dylib version
type Version uint32

func (v Version) String() string {
	s := make([]byte, 4)
	binary.BigEndian.PutUint32(s, uint32(v))
	return fmt.Sprintf("%d.%d.%d", binary.BigEndian.Uint16(s[:2]), s[2], s[3])
}

// ExtractBits returns width bits of x starting at bit start (LSB first)
func ExtractBits(x uint64, start, width int32) uint64 {
	if width >= 64 {
		return x >> uint(start)
	}
	return (x >> uint(start)) & ((1 << uint(width)) - 1)
}

// SignExtend sign extends the low width bits of x
func SignExtend(x uint64, width int32) int64 {
	shift := uint(64 - width)
	return int64(x<<shift) >> shift
}

type IntName struct {
	I uint32
	S string
}

func StringName(i uint32, names []IntName, goSyntax bool) string {
	for _, n := range names {
		if n.I == i {
			if goSyntax {
				return "types." + n.S
			}
			return n.S
		}
	}
	return "0x" + strconv.FormatUint(uint64(i), 16)
}
