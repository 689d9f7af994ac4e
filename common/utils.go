package common

import "math/bits"

// Coalesce returns the first non-zero value from the provided values, or the zero value if all are zero.
//
// Parameters:
//   - values: a variadic list of values to check for non-zero status
//
// Returns:
//   - T: the first non-zero value from the input, or the zero value if all are zero
func Coalesce[T comparable](values ...T) T {
	var zero T
	for _, v := range values {
		if v != zero {
			return v
		}
	}
	return zero
}

// CeilLog2 returns the smallest n such that 1<<n >= v. CeilLog2(0) and CeilLog2(1) are 0.
func CeilLog2(v uint64) int {
	if v <= 1 {
		return 0
	}
	return bits.Len64(v - 1)
}

// GrowCapacity returns a capacity of at least need, doubling from current.
// Used for the backing arrays that mirror onto GPU buffers so that resizes are rare.
func GrowCapacity(current, need int) int {
	c := max(current, 64)
	for c < need {
		c *= 2
	}
	return c
}
