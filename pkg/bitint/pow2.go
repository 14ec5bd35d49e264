// SPDX-License-Identifier: MIT

// Package bitint provides power-of-two helpers for FFT window and ring
// buffer sizing. All operations are O(1), allocation-free, and safe to
// call from real-time code.
package bitint

import "math/bits"

// NextPowerOfTwo returns the smallest power of 2 >= size.
// Exact powers of 2 are returned unchanged; non-positive input yields 1.
//
// The size-1 adjustment keeps exact powers from being doubled:
// bits.Len64(8-1) = 3, 1<<3 = 8.
func NextPowerOfTwo(size int) int {
	if size <= 0 {
		return 1
	}
	return 1 << bits.Len64(uint64(size-1))
}

// IsPowerOfTwo reports whether n is a positive power of 2.
// A power of 2 has exactly one bit set, so n & (n-1) clears it.
func IsPowerOfTwo(n int) bool {
	return n > 0 && (n&(n-1)) == 0
}
