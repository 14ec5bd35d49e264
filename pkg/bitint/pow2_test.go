// SPDX-License-Identifier: MIT
package bitint

import "testing"

func TestNextPowerOfTwo(t *testing.T) {
	tests := []struct {
		input    int
		expected int
	}{
		{-8, 1},
		{0, 1},
		{1, 1},
		{2, 2},
		{3, 4},
		{4, 4},
		{5, 8},
		{255, 256},
		{256, 256},
		{257, 512},
		{1000, 1024},
		{2048, 2048},
	}

	for _, tt := range tests {
		if got := NextPowerOfTwo(tt.input); got != tt.expected {
			t.Errorf("NextPowerOfTwo(%d) = %d, want %d", tt.input, got, tt.expected)
		}
	}
}

func TestIsPowerOfTwo(t *testing.T) {
	tests := []struct {
		input    int
		expected bool
	}{
		{-4, false},
		{0, false},
		{1, true},
		{2, true},
		{3, false},
		{64, true},
		{96, false},
		{256, true},
		{1024, true},
		{2048, true},
		{2049, false},
	}

	for _, tt := range tests {
		if got := IsPowerOfTwo(tt.input); got != tt.expected {
			t.Errorf("IsPowerOfTwo(%d) = %v, want %v", tt.input, got, tt.expected)
		}
	}
}

func BenchmarkNextPowerOfTwo(b *testing.B) {
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_ = NextPowerOfTwo(1000)
	}
}
