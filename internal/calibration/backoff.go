// SPDX-License-Identifier: MIT
package calibration

import "beatbox/internal/dsp"

// minRMSThreshold is the absolute floor for any RMS gate, used before
// a noise floor has been measured.
const minRMSThreshold = 0.01

const (
	rmsGateStartMultiplier = 1.6
	rmsGateFloorMultiplier = 1.2
	rmsBackoffMultiplier   = 0.85
)

// Per-sound centroid gates (min, max Hz) before any backoff.
var baseCentroidGates = [3][2]float32{
	{60, 2000},    // kick
	{500, 7000},   // snare
	{3500, 14000}, // hi-hat
}

// Per-sound ZCR gates (min, max) before any backoff.
var baseZCRGates = [3][2]float32{
	{0, 0.3},
	{0.02, 0.6},
	{0.18, 1.0},
}

type gateState struct {
	rejects     int
	step        int
	rmsGate     float64
	centroidMin float32
	centroidMax float32
	zcrMin      float32
	zcrMax      float32
}

// adaptiveBackoff widens the per-sound acceptance gates after runs of
// consecutive rejects, so calibration converges even when a user's
// sounds sit outside the stock feature ranges.
type adaptiveBackoff struct {
	gates      [3]gateState
	noiseFloor float64 // 0 until measured

	trigger  int
	maxSteps int
	pct      float32
}

func newAdaptiveBackoff(trigger, maxSteps int, pct float32) *adaptiveBackoff {
	b := &adaptiveBackoff{trigger: trigger, maxSteps: maxSteps, pct: pct}
	b.resetAll()
	return b
}

func gateIndex(sound Sound) (int, bool) {
	switch sound {
	case Kick:
		return 0, true
	case Snare:
		return 1, true
	case HiHat:
		return 2, true
	default:
		return 0, false
	}
}

func (b *adaptiveBackoff) floorValue() float64 {
	nf := b.noiseFloor
	if nf <= 0 {
		nf = minRMSThreshold
	}
	return nf * rmsGateFloorMultiplier
}

func (b *adaptiveBackoff) startingGate() float64 {
	nf := b.noiseFloor
	if nf <= 0 {
		nf = minRMSThreshold
	}
	return nf * rmsGateStartMultiplier
}

func (b *adaptiveBackoff) resetAll() {
	for i := range b.gates {
		b.resetIndex(i)
	}
}

func (b *adaptiveBackoff) resetIndex(i int) {
	b.gates[i] = gateState{
		rmsGate:     b.startingGate(),
		centroidMin: baseCentroidGates[i][0],
		centroidMax: baseCentroidGates[i][1],
		zcrMin:      baseZCRGates[i][0],
		zcrMax:      baseZCRGates[i][1],
	}
}

// setNoiseFloor installs the measured floor and restarts every gate
// from its scaled baseline.
func (b *adaptiveBackoff) setNoiseFloor(threshold float64) {
	b.noiseFloor = threshold
	b.resetAll()
}

func (b *adaptiveBackoff) resetForSound(sound Sound) {
	if i, ok := gateIndex(sound); ok {
		b.resetIndex(i)
	}
}

func (b *adaptiveBackoff) rmsGate(sound Sound) float64 {
	if i, ok := gateIndex(sound); ok {
		return b.gates[i].rmsGate
	}
	return b.startingGate()
}

func (b *adaptiveBackoff) passesFeatureGates(sound Sound, f dsp.Features) bool {
	i, ok := gateIndex(sound)
	if !ok {
		return true
	}
	g := b.gates[i]
	return f.CentroidHz >= g.centroidMin && f.CentroidHz <= g.centroidMax &&
		f.ZCR >= g.zcrMin && f.ZCR <= g.zcrMax
}

func (b *adaptiveBackoff) recordSuccess(sound Sound) {
	b.resetForSound(sound)
}

// recordReject counts a rejected candidate and, every trigger'th
// reject up to maxSteps, relaxes the sound's gates: RMS down 15%
// (clamped to the floor), centroid and ZCR bounds out 12% (clamped to
// the absolute feature ranges).
func (b *adaptiveBackoff) recordReject(sound Sound) {
	i, ok := gateIndex(sound)
	if !ok {
		return
	}
	g := &b.gates[i]
	g.rejects++
	if g.rejects%b.trigger != 0 || g.step >= b.maxSteps {
		return
	}
	g.step++
	g.rmsGate = max(g.rmsGate*rmsBackoffMultiplier, b.floorValue())
	g.centroidMin = max(g.centroidMin*(1-b.pct), MinCentroidHz)
	g.centroidMax = min(g.centroidMax*(1+b.pct), MaxCentroidHz)
	g.zcrMin = max(g.zcrMin*(1-b.pct), 0)
	g.zcrMax = min(g.zcrMax*(1+b.pct), 1)
}
