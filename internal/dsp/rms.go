// SPDX-License-Identifier: MIT
package dsp

import "math"

// RMS returns the root-mean-square level of the buffer, 0 for an
// empty buffer.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sumSquare float64
	for _, s := range samples {
		fs := float64(s)
		sumSquare += fs * fs
	}
	return math.Sqrt(sumSquare / float64(len(samples)))
}

// Peak returns the maximum absolute sample value in the buffer.
func Peak(samples []float32) float32 {
	var peak float32
	for _, s := range samples {
		if s < 0 {
			s = -s
		}
		if s > peak {
			peak = s
		}
	}
	return peak
}
