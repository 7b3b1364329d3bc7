package tiffvol

import "math"

// float16bits converts a float64 to IEEE 754 half precision, rounding toward
// zero. Values beyond the half-precision range saturate to infinity.
func float16bits(f float64) uint16 {
	b := math.Float32bits(float32(f))
	sign := uint16(b>>16) & 0x8000
	exp := int32(b>>23&0xff) - 127 + 15
	man := b & 0x7fffff

	switch {
	case exp >= 0x1f:
		// Infinity, NaN, or overflow
		if b&0x7fffffff > 0x7f800000 {
			return sign | 0x7e00
		}
		return sign | 0x7c00
	case exp <= 0:
		// Subnormal or underflow to zero
		if exp < -10 {
			return sign
		}
		man |= 0x800000
		return sign | uint16(man>>uint32(14-exp))
	default:
		return sign | uint16(exp)<<10 | uint16(man>>13)
	}
}

// float16frombits converts IEEE 754 half precision bits to float64.
func float16frombits(h uint16) float64 {
	sign := 1.0
	if h&0x8000 != 0 {
		sign = -1
	}
	exp := int(h >> 10 & 0x1f)
	man := float64(h & 0x3ff)

	switch exp {
	case 0:
		return sign * man * 0x1p-24
	case 0x1f:
		if man != 0 {
			return math.NaN()
		}
		return sign * math.Inf(1)
	}
	return sign * (1 + man/1024) * math.Pow(2, float64(exp-15))
}
