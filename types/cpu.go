package types

import "fmt"

// A CPU is a Mach-O cpu type.
type CPU uint32

const (
	cpuArchMask = 0xff000000 //  mask for architecture bits
	cpuArch64   = 0x01000000 // 64 bit ABI
	cpuArch6432 = 0x02000000 // ABI for 64-bit hardware with 32-bit types; LP32
)

const (
	CPU386     CPU = 7
	CPUAmd64   CPU = CPU386 | cpuArch64
	CPUArm     CPU = 12
	CPUArm64   CPU = CPUArm | cpuArch64
	CPUArm6432 CPU = CPUArm | cpuArch6432
	CPUPpc     CPU = 18
	CPUPpc64   CPU = CPUPpc | cpuArch64
)

var cpuStrings = []IntName{
	{uint32(CPU386), "i386"},
	{uint32(CPUAmd64), "Amd64"},
	{uint32(CPUArm), "ARM"},
	{uint32(CPUArm64), "AARCH64"},
	{uint32(CPUArm6432), "ARM64_32"},
	{uint32(CPUPpc), "PowerPC"},
	{uint32(CPUPpc64), "PowerPC 64"},
}

func (i CPU) String() string   { return StringName(uint32(i), cpuStrings, false) }
func (i CPU) GoString() string { return StringName(uint32(i), cpuStrings, true) }

// Is64Bit reports whether pointers are 8 bytes wide for this cpu
func (i CPU) Is64Bit() bool {
	return i&cpuArchMask == cpuArch64
}

type CPUSubtype uint32

// ARM64 subtypes
const (
	CPUSubtypeArm64All CPUSubtype = 0
	CPUSubtypeArm64V8  CPUSubtype = 1
	CPUSubtypeArm64E   CPUSubtype = 2
)

const (
	CpuSubtypeFeatureMask      CPUSubtype = 0xff000000                         /* mask for feature flags */
	CpuSubtypeMask                        = CPUSubtype(^CpuSubtypeFeatureMask) /* mask for cpu subtype */
	CpuSubtypePtrauthAbiUser              = 0x40000000                         /* pointer authentication with userspace versioned ABI */
	CpuSubtypeArm64PtrAuthMask            = 0x0f000000
)

var cpuSubtypeArm64Strings = []IntName{
	{uint32(CPUSubtypeArm64All), "ARM64"},
	{uint32(CPUSubtypeArm64V8), "ARM64 (ARMv8)"},
	{uint32(CPUSubtypeArm64E), "ARM64e (ARMv8.3)"},
}

func (st CPUSubtype) String(cpu CPU) string {
	switch cpu {
	case CPUArm64:
		var feature string
		caps := st & CpuSubtypeFeatureMask
		if caps != 0 {
			if caps&CpuSubtypePtrauthAbiUser == 0 {
				feature = fmt.Sprintf(" caps: PAC%02d", (caps&CpuSubtypeArm64PtrAuthMask)>>24)
			} else {
				feature = fmt.Sprintf(" caps: PAK%02d", (caps&CpuSubtypeArm64PtrAuthMask)>>24)
			}
		}
		return StringName(uint32(st&CpuSubtypeMask), cpuSubtypeArm64Strings, false) + feature
	}
	return fmt.Sprintf("subtype %#x", uint32(st&CpuSubtypeMask))
}

// IsArm64e reports whether the subtype describes a pointer authentication capable arm64e slice
func (st CPUSubtype) IsArm64e(cpu CPU) bool {
	return cpu == CPUArm64 && st&CpuSubtypeMask == CPUSubtypeArm64E
}
