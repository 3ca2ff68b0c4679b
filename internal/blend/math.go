// Package blend provides fast math utilities for 16-bit alpha blending.
//
// The div65535 family of functions avoid integer division by using
// bit shifts and addition, in the manner of the classic div255 trick
// scaled to 16-bit channels.
//
// References:
//   - Alpha blending without division: https://arxiv.org/abs/2202.02864
//   - Alvy Ray Smith's technical memos: http://alvyray.com/Memos/
package blend

// div65535 divides x by 65535 with rounding, without using division.
//
// Formula: t = x + 32768; (t + (t >> 16)) >> 16
//
// Exact for every product of two 16-bit values.
func div65535(x uint32) uint32 {
	t := x + 32768
	return (t + t>>16) >> 16
}

// mul multiplies two 16-bit values and divides by 65535 with rounding.
func mul(a, b uint32) uint32 {
	return div65535(a * b)
}

// inv returns 65535 - x (inverse alpha).
func inv(x uint32) uint32 {
	return 65535 - x
}

// clamp16 clamps x to the 16-bit range.
func clamp16(x uint32) uint32 {
	if x > 65535 {
		return 65535
	}
	return x
}

// Unit converts a value in [0, 1] to 16-bit fixed point. Out-of-range
// input is clamped.
func Unit(f float64) uint32 {
	switch {
	case f <= 0 || f != f:
		return 0
	case f >= 1:
		return 65535
	}
	return uint32(f*65535 + 0.5)
}
