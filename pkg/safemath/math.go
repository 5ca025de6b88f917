// Package safemath provides overflow-checked unsigned arithmetic for amounts
// expressed in base units. No operation wraps silently; callers translate the
// failure into a domain error.
package safemath

import "math/bits"

// Add returns a+b and reports whether the sum fits in a uint64.
func Add(a, b uint64) (uint64, bool) {
	sum, carry := bits.Add64(a, b, 0)
	return sum, carry == 0
}

// Sub returns a-b and reports whether the difference is non-negative.
func Sub(a, b uint64) (uint64, bool) {
	diff, borrow := bits.Sub64(a, b, 0)
	return diff, borrow == 0
}

// Mul returns a*b and reports whether the product fits in a uint64.
func Mul(a, b uint64) (uint64, bool) {
	hi, lo := bits.Mul64(a, b)
	return lo, hi == 0
}

// MulDiv returns a*b/den with full 128-bit intermediate precision, rounded
// down. It reports false when den is zero or the quotient does not fit in a
// uint64. Used for fee math: notional*bps/10000.
func MulDiv(a, b, den uint64) (uint64, bool) {
	if den == 0 {
		return 0, false
	}
	hi, lo := bits.Mul64(a, b)
	if hi >= den {
		return 0, false
	}
	quo, _ := bits.Div64(hi, lo, den)
	return quo, true
}
