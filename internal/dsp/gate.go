// SPDX-License-Identifier: MIT
package dsp

// DefaultDebounceMs is the minimum spacing between gate events.
const DefaultDebounceMs = 100

// hysteresisRatio scales the threshold down to the level the signal
// must fall below before the calibration gate re-arms.
const hysteresisRatio = 0.6

// GateEvent is the outcome of one gate evaluation.
type GateEvent uint8

const (
	// GateCrossing marks a rising edge through the threshold.
	GateCrossing GateEvent = iota
	// GateForcedCapture marks a hysteresis-gated capture during
	// calibration: one per excursion above the threshold.
	GateForcedCapture
)

// LevelGate admits RMS windows for analysis. Classification mode
// fires on rising edges with debounce; calibration mode adds
// hysteresis so a sustained loud signal yields exactly one capture
// until it falls back below 60% of the threshold. Not safe for
// concurrent use.
type LevelGate struct {
	prevRMS         float64
	lastCapture     uint64
	debounceSamples uint64
	capturedInGate  bool
}

// NewLevelGate builds a gate whose debounce window is debounceMs at
// the given sample rate.
func NewLevelGate(sampleRate uint32, debounceMs uint64) *LevelGate {
	return &LevelGate{
		debounceSamples: uint64(sampleRate) * debounceMs / 1000,
	}
}

// Classification evaluates one RMS window ending at absolute sample
// index now and reports whether a capture should begin.
func (g *LevelGate) Classification(rms, threshold float64, now uint64) (GateEvent, bool) {
	if now-g.lastCapture < g.debounceSamples {
		g.prevRMS = rms
		return 0, false
	}
	crossed := g.prevRMS < threshold && rms >= threshold
	g.prevRMS = rms
	if !crossed {
		return 0, false
	}
	g.lastCapture = now
	return GateCrossing, true
}

// Calibration evaluates one RMS window in hysteresis mode.
func (g *LevelGate) Calibration(rms, threshold float64, now uint64) (GateEvent, bool) {
	if rms <= threshold*hysteresisRatio {
		g.capturedInGate = false
	}
	defer func() { g.prevRMS = rms }()

	if now-g.lastCapture < g.debounceSamples {
		return 0, false
	}
	if g.capturedInGate || rms < threshold {
		return 0, false
	}
	g.capturedInGate = true
	g.lastCapture = now
	return GateForcedCapture, true
}

// Reset clears edge and hysteresis state, keeping the debounce
// configuration.
func (g *LevelGate) Reset() {
	g.prevRMS = 0
	g.lastCapture = 0
	g.capturedInGate = false
}
