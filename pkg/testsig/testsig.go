// SPDX-License-Identifier: MIT

// Package testsig generates deterministic mono float32 test signals for
// DSP and pipeline tests.
package testsig

import "math"

// Silence returns n zero samples.
func Silence(n int) []float32 {
	return make([]float32, n)
}

// Sine returns n samples of a sine wave at the given frequency and
// sample rate, scaled to 90% full scale.
func Sine(n int, sampleRate, frequency float64) []float32 {
	buffer := make([]float32, n)
	for i := range buffer {
		t := float64(i) / sampleRate
		buffer[i] = float32(math.Sin(2*math.Pi*frequency*t) * 0.9)
	}
	return buffer
}

// Impulses returns a silent signal of the given length with a short
// 10-sample full-scale burst starting at each of the given positions.
// Positions past the end are ignored.
func Impulses(n int, positions ...int) []float32 {
	signal := make([]float32, n)
	for _, pos := range positions {
		for off := 0; off < 10; off++ {
			if pos+off >= 0 && pos+off < n {
				signal[pos+off] = 1.0
			}
		}
	}
	return signal
}

// Noise returns n samples of deterministic pseudo-noise in [-1, 1],
// produced by an xorshift generator with a fixed seed. Useful for
// hi-hat-like broadband test content without pulling in math/rand.
func Noise(n int) []float32 {
	buffer := make([]float32, n)
	state := uint64(0x9E3779B97F4A7C15)
	for i := range buffer {
		state ^= state << 13
		state ^= state >> 7
		state ^= state << 17
		buffer[i] = float32(int64(state)>>11) / float32(1<<52)
	}
	return buffer
}

// DecayingBurst returns a burst whose envelope decays exponentially
// from full scale with the given time constant in samples. Used to
// exercise decay-time measurement.
func DecayingBurst(n int, tauSamples float64) []float32 {
	buffer := make([]float32, n)
	noise := Noise(n)
	for i := range buffer {
		env := math.Exp(-float64(i) / tauSamples)
		buffer[i] = noise[i] * float32(env)
	}
	return buffer
}

// Scale multiplies every sample by gain, in place, and returns the slice.
func Scale(signal []float32, gain float32) []float32 {
	for i := range signal {
		signal[i] *= gain
	}
	return signal
}
