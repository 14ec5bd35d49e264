// SPDX-License-Identifier: MIT
package calibration

import (
	"time"

	"beatbox/internal/dsp"
	"beatbox/internal/log"
)

// Params configures a calibration run.
type Params struct {
	SamplesPerSound   int
	NoiseFloorSamples int
	MinSampleInterval time.Duration
	BackoffTrigger    int
	BackoffSteps      int
	FeatureBackoffPct float32
}

// DefaultParams returns the stock procedure configuration.
func DefaultParams() Params {
	return Params{
		SamplesPerSound:   10,
		NoiseFloorSamples: 30,
		MinSampleInterval: 250 * time.Millisecond,
		BackoffTrigger:    3,
		BackoffSteps:      3,
		FeatureBackoffPct: 0.12,
	}
}

// guidanceMissThreshold is how many consecutive rejects trigger a
// guidance hint on progress snapshots.
const guidanceMissThreshold = 3

// clippedLevel is the RMS at which input is considered overdriven.
const clippedLevel = 0.9

// Procedure is the calibration state machine. Phases run in order
// NoiseFloor, Kick, Snare, HiHat; completing a phase sets the
// waiting-for-confirmation flag and nothing advances until the user
// confirms or retries. Not safe for concurrent use; the engine
// serializes access behind its procedure mutex.
type Procedure struct {
	params Params

	phase    Sound
	waiting  bool
	complete bool

	kick, snare, hihat []dsp.Features

	noiseSamples   []float64
	noiseThreshold float64 // 0 until measured

	backoff      *adaptiveBackoff
	candidates   [3]*dsp.Features
	lastSampleAt time.Time

	misses    int
	lastLevel float64
}

// NewProcedure starts a fresh run in the NoiseFloor phase.
func NewProcedure(p Params) *Procedure {
	return &Procedure{
		params:       p,
		phase:        NoiseFloor,
		noiseSamples: make([]float64, 0, p.NoiseFloorSamples),
		backoff:      newAdaptiveBackoff(p.BackoffTrigger, p.BackoffSteps, p.FeatureBackoffPct),
	}
}

// Phase returns the current phase.
func (p *Procedure) Phase() Sound { return p.phase }

// Waiting reports whether the current phase is complete and pending
// user confirmation.
func (p *Procedure) Waiting() bool { return p.waiting }

// Complete reports whether every phase has been confirmed.
func (p *Procedure) Complete() bool { return p.complete }

// NoiseFloorThreshold returns the measured gate threshold, or false
// while the NoiseFloor phase is still collecting.
func (p *Procedure) NoiseFloorThreshold() (float64, bool) {
	return p.noiseThreshold, p.noiseThreshold > 0
}

// GateThreshold is the RMS level the capture gate should use for the
// current sound phase, including any adaptive backoff.
func (p *Procedure) GateThreshold() float64 {
	return p.backoff.rmsGate(p.phase)
}

// AddNoiseFloorSample feeds one ambient RMS measurement. When enough
// samples are collected the gate threshold is derived and the phase
// waits for confirmation.
func (p *Procedure) AddNoiseFloorSample(rms float64) (Progress, error) {
	if p.phase != NoiseFloor {
		return p.Snapshot(), errInvalidFeatures("noise floor phase already complete")
	}
	if p.waiting {
		return p.Snapshot(), errInvalidFeatures("noise floor measured; confirm or retry")
	}

	p.noiseSamples = append(p.noiseSamples, rms)
	if len(p.noiseSamples) >= p.params.NoiseFloorSamples {
		p.noiseThreshold = noiseFloorFrom(p.noiseSamples)
		p.backoff.setNoiseFloor(p.noiseThreshold)
		p.waiting = true
		log.Infof("calibration: noise floor measured, gate threshold %.4f", p.noiseThreshold)
	}
	return p.Snapshot(), nil
}

// noiseFloorFrom turns ambient RMS samples into a gate threshold that
// clears both the average and the loudest excursion.
func noiseFloorFrom(samples []float64) float64 {
	var sum, peak float64
	for _, s := range samples {
		sum += s
		if s > peak {
			peak = s
		}
	}
	mean := sum / float64(len(samples))
	return max(mean*2, peak*1.5, minRMSThreshold)
}

// AddSample offers one candidate (features plus the owning window's
// RMS) to the current sound phase. Rejections return a typed error
// and leave the phase unchanged; rejected-but-valid candidates stay
// available for ManualAccept.
func (p *Procedure) AddSample(f dsp.Features, rms float64) (Progress, error) {
	if p.waiting {
		return p.Snapshot(), errInvalidFeatures("phase complete; confirm or retry before adding samples")
	}
	if p.phase == NoiseFloor {
		return p.Snapshot(), errInvalidFeatures("still measuring noise floor")
	}
	if err := ValidateFeatures(f); err != nil {
		return p.Snapshot(), err
	}

	p.lastLevel = rms
	if rms < p.backoff.rmsGate(p.phase) {
		return p.Snapshot(), p.reject(f, "below RMS gate")
	}
	if !p.backoff.passesFeatureGates(p.phase, f) {
		return p.Snapshot(), p.reject(f, "outside feature gates")
	}
	if p.params.MinSampleInterval > 0 && !p.lastSampleAt.IsZero() {
		if since := time.Since(p.lastSampleAt); since < p.params.MinSampleInterval {
			return p.Snapshot(), errInvalidFeatures("sample too soon after previous (%.0f ms)",
				float64(since.Milliseconds()))
		}
	}

	p.accept(f)
	return p.Snapshot(), nil
}

func (p *Procedure) reject(f dsp.Features, reason string) *Error {
	if i, ok := gateIndex(p.phase); ok {
		stored := f
		p.candidates[i] = &stored
	}
	p.backoff.recordReject(p.phase)
	p.misses++
	return errInvalidFeatures("%s rejected: %s", p.phase, reason)
}

func (p *Procedure) accept(f dsp.Features) {
	*p.collection(p.phase) = append(*p.collection(p.phase), f)
	if i, ok := gateIndex(p.phase); ok {
		p.candidates[i] = nil
	}
	p.backoff.recordSuccess(p.phase)
	p.misses = 0
	p.lastSampleAt = time.Now()

	if len(*p.collection(p.phase)) >= p.params.SamplesPerSound {
		p.waiting = true
		log.Infof("calibration: %s collection complete", p.phase)
	}
}

// ManualAccept promotes the last rejected-but-valid candidate for the
// current sound phase, bypassing the gates.
func (p *Procedure) ManualAccept() (Progress, error) {
	if !p.phase.IsSoundPhase() {
		return p.Snapshot(), errInvalidFeatures("manual accept only applies to sound phases")
	}
	if p.waiting {
		return p.Snapshot(), errInvalidFeatures("phase already complete; confirm or retry")
	}
	i, _ := gateIndex(p.phase)
	candidate := p.candidates[i]
	if candidate == nil {
		return p.Snapshot(), errInvalidFeatures("no candidate stored for %s", p.phase)
	}

	p.accept(*candidate)
	p.candidates[i] = nil
	log.Infof("calibration: manual accept used for %s", p.phase)
	return p.Snapshot(), nil
}

// Confirm advances past a completed phase. Confirming HiHat marks the
// whole procedure complete.
func (p *Procedure) Confirm() (Progress, error) {
	if !p.waiting {
		return p.Snapshot(), ErrNotComplete
	}
	p.waiting = false
	next, ok := p.phase.Next()
	if !ok {
		p.complete = true
		return p.Snapshot(), nil
	}
	p.phase = next
	p.backoff.resetForSound(next)
	p.misses = 0
	p.lastSampleAt = time.Time{}
	return p.Snapshot(), nil
}

// Retry discards the current phase's collected samples and re-arms
// collection. Retrying NoiseFloor also clears the measured threshold.
func (p *Procedure) Retry() (Progress, error) {
	p.waiting = false
	p.misses = 0
	if p.phase == NoiseFloor {
		p.noiseSamples = p.noiseSamples[:0]
		p.noiseThreshold = 0
		p.backoff.setNoiseFloor(0)
	} else {
		*p.collection(p.phase) = (*p.collection(p.phase))[:0]
		p.backoff.resetForSound(p.phase)
		if i, ok := gateIndex(p.phase); ok {
			p.candidates[i] = nil
		}
	}
	return p.Snapshot(), nil
}

// Finalize derives thresholds from the collected samples. It fails
// with InsufficientSamples unless every sound accumulator is full.
func (p *Procedure) Finalize() (Thresholds, error) {
	needed := p.params.SamplesPerSound
	collected := len(p.kick) + len(p.snare) + len(p.hihat)
	if len(p.kick) < needed || len(p.snare) < needed || len(p.hihat) < needed {
		return Thresholds{}, errInsufficientSamples(3*needed, collected)
	}

	t, err := FromSamples(p.kick, p.snare, p.hihat)
	if err != nil {
		return Thresholds{}, err
	}
	if p.noiseThreshold > 0 {
		t.NoiseFloorRMS = p.noiseThreshold
	}
	return t, nil
}

// Snapshot returns the current progress, with a guidance hint when
// collection has stalled.
func (p *Procedure) Snapshot() Progress {
	collected, needed := len(p.noiseSamples), p.params.NoiseFloorSamples
	manualAccept := false
	if i, ok := gateIndex(p.phase); ok {
		collected = len(*p.collection(p.phase))
		needed = p.params.SamplesPerSound
		manualAccept = p.candidates[i] != nil
	}

	progress := Progress{
		Phase:                  p.phase,
		Collected:              collected,
		Needed:                 needed,
		WaitingForConfirmation: p.waiting,
		ManualAcceptAvailable:  manualAccept,
		Complete:               p.complete,
	}
	if p.misses >= guidanceMissThreshold && !p.waiting {
		progress.Guidance = p.guidance()
	}
	return progress
}

func (p *Procedure) guidance() *Guidance {
	reason := GuidanceStagnation
	switch {
	case p.lastLevel >= clippedLevel:
		reason = GuidanceClipped
	case p.lastLevel < p.backoff.rmsGate(p.phase):
		reason = GuidanceTooQuiet
	}
	return &Guidance{
		Sound:  p.phase,
		Reason: reason,
		Level:  p.lastLevel,
		Misses: p.misses,
	}
}

func (p *Procedure) collection(sound Sound) *[]dsp.Features {
	switch sound {
	case Kick:
		return &p.kick
	case Snare:
		return &p.snare
	default:
		return &p.hihat
	}
}
