// SPDX-License-Identifier: MIT
package dsp

import "beatbox/internal/metronome"

// DefaultToleranceMs is the half-width of the on-time window around
// each beat.
const DefaultToleranceMs = 50.0

// TimingClass places an onset relative to the metronome grid.
type TimingClass string

const (
	TimingOnTime TimingClass = "OnTime"
	TimingEarly  TimingClass = "Early"
	TimingLate   TimingClass = "Late"
)

// TimingVerdict is the quantizer's judgement of one onset.
type TimingVerdict struct {
	Class   TimingClass `json:"class"`
	ErrorMs float32     `json:"error_ms"`
}

// Quantize scores an onset at absolute sample index onset against the
// beat grid defined by bpm and sampleRate. ErrorMs is signed: positive
// for late (after the nearest earlier beat, within tolerance, or just
// past it), negative for early relative to the upcoming beat.
func Quantize(onset uint64, bpm uint32, sampleRate uint32, toleranceMs float32) TimingVerdict {
	spb := metronome.SamplesPerBeat(bpm, sampleRate)
	if spb == 0 {
		return TimingVerdict{Class: TimingOnTime}
	}

	errSamples := onset % spb
	errMs := float32(errSamples) * 1000 / float32(sampleRate)
	periodMs := float32(spb) * 1000 / float32(sampleRate)

	switch {
	case errMs < toleranceMs:
		return TimingVerdict{Class: TimingOnTime, ErrorMs: errMs}
	case errMs > periodMs-toleranceMs:
		// Close to the upcoming beat: report a negative error against it.
		return TimingVerdict{Class: TimingEarly, ErrorMs: errMs - periodMs}
	default:
		return TimingVerdict{Class: TimingLate, ErrorMs: errMs}
	}
}
