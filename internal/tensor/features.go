package tensor

import (
	"github.com/klauspost/cpuid/v2"
)

// Features describes the CPU capabilities relevant to half-precision work.
// The kernels here are portable Go either way; this exists so a run logs
// whether the host could convert fp16 in hardware.
type Features struct {
	Brand   string
	Cores   int
	F16C    bool
	AVX2    bool
	AVX512F bool
}

func Detect() Features {
	return Features{
		Brand:   cpuid.CPU.BrandName,
		Cores:   cpuid.CPU.LogicalCores,
		F16C:    cpuid.CPU.Supports(cpuid.F16C),
		AVX2:    cpuid.CPU.Supports(cpuid.AVX2),
		AVX512F: cpuid.CPU.Supports(cpuid.AVX512F),
	}
}
