package tensor

import (
	"math"

	"github.com/x448/float16"
)

// Scalar dtype conversions. These run in kernel inner loops for every
// non-F32 weight element loaded, so they must stay allocation-free.

// F16ToF32 decodes IEEE 754 half-precision bits, including subnormals,
// infinities and NaNs.
func F16ToF32(bits uint16) float32 {
	return float16.Frombits(bits).Float32()
}

// F32ToF16 encodes with round-to-nearest-even, overflowing to infinity
// and underflowing to subnormal or zero. Used at the KV cache boundary.
func F32ToF16(f float32) uint16 {
	return float16.Fromfloat32(f).Bits()
}

// BF16ToF32 shifts the 16 stored bits into the high half of the F32
// pattern; bfloat16 is a truncated F32 so no rebias is needed.
func BF16ToF32(bits uint16) float32 {
	return math.Float32frombits(uint32(bits) << 16)
}

// F32ToBF16 truncates toward zero. Only used when building fixtures.
func F32ToBF16(f float32) uint16 {
	return uint16(math.Float32bits(f) >> 16)
}
