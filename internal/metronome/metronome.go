// SPDX-License-Identifier: MIT

// Package metronome provides sample-accurate click timing as pure
// functions over (frame index, bpm, sample rate). The audio callback
// calls IsOnBeat once per output frame; everything here is
// allocation-free and O(1) apart from the one-time click generation.
package metronome

import "math/rand"

// DefaultClickDurationMs is the length of the generated click burst.
const DefaultClickDurationMs = 20

// clickSeed fixes the noise generator so the click waveform is
// reproducible across runs and platforms.
const clickSeed = 42

// SamplesPerBeat returns the number of samples between consecutive
// beats at the given tempo. Integer division: fractional BPMs carry up
// to one sample of quantization error, which is inaudible and keeps
// the beat predicate exact.
func SamplesPerBeat(bpm uint32, sampleRate uint32) uint64 {
	if bpm == 0 {
		return 0
	}
	return uint64(sampleRate) * 60 / uint64(bpm)
}

// IsOnBeat reports whether frame lies exactly on a beat boundary.
func IsOnBeat(frame uint64, bpm uint32, sampleRate uint32) bool {
	spb := SamplesPerBeat(bpm, sampleRate)
	if spb == 0 {
		return false
	}
	return frame%spb == 0
}

// GenerateClick returns a deterministic white-noise burst of the given
// duration. The same sample rate and duration always produce the same
// waveform.
func GenerateClick(sampleRate uint32, durationMs int) []float32 {
	if durationMs <= 0 {
		durationMs = DefaultClickDurationMs
	}
	n := int(uint64(sampleRate) * uint64(durationMs) / 1000)

	rng := rand.New(rand.NewSource(clickSeed))
	click := make([]float32, n)
	for i := range click {
		click[i] = rng.Float32()*2 - 1
	}
	return click
}
