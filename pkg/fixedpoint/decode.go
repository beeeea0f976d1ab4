// Package fixedpoint converts raw fixed-point sensor samples into
// floating-point values.
//
// Field devices send each sample as a signed integer together with a shift:
// the number of fractional bits the device used when scaling the physical
// value. The decode convention is
//
//	normalized = raw / 2^shift
//
// which mirrors the device-side encoding int(value * (1 << shift)).
package fixedpoint

import "math"

// Decode converts a raw sample with the given number of fractional bits into
// its floating-point value.
//
// The scaling step is a pure power-of-two exponent adjustment, so it is
// exact: the only rounding that can occur is the initial int64 to float64
// conversion for magnitudes above 2^53. Decode is deterministic and never
// fails for any int64 input; a shift large enough to underflow simply yields
// a gradual loss toward zero, as IEEE 754 dictates.
func Decode(raw int64, shift uint) float64 {
	return math.Ldexp(float64(raw), -int(shift))
}

// Scale returns the divisor 2^shift used by Decode. Exposed for callers that
// need to display or invert the encoding (e.g. the device simulator).
func Scale(shift uint) float64 {
	return math.Ldexp(1, int(shift))
}
