// SPDX-License-Identifier: MIT
package calibration

import (
	"errors"
	"math"
	"testing"

	"beatbox/internal/dsp"
)

func testParams(samples int) Params {
	p := DefaultParams()
	p.SamplesPerSound = samples
	p.NoiseFloorSamples = 5
	p.MinSampleInterval = 0
	return p
}

// measuredProcedure returns a procedure past the NoiseFloor phase,
// ready to collect kick samples.
func measuredProcedure(t *testing.T, samples int) *Procedure {
	t.Helper()
	p := NewProcedure(testParams(samples))
	for i := 0; i < 5; i++ {
		if _, err := p.AddNoiseFloorSample(0.004); err != nil {
			t.Fatalf("noise floor sample %d: %v", i, err)
		}
	}
	if !p.Waiting() {
		t.Fatal("noise floor collection should be waiting for confirmation")
	}
	if _, err := p.Confirm(); err != nil {
		t.Fatalf("confirm noise floor: %v", err)
	}
	return p
}

func features(centroid, zcr float32) dsp.Features {
	return dsp.Features{CentroidHz: centroid, ZCR: zcr, Flatness: 0.5, RolloffHz: 5000, DecayMs: 50}
}

const loudRMS = 0.2

func TestProcedureStartsWithNoiseFloor(t *testing.T) {
	p := NewProcedure(testParams(10))
	if p.Phase() != NoiseFloor {
		t.Errorf("initial phase = %s, want NoiseFloor", p.Phase())
	}
	if _, err := p.AddSample(features(1000, 0.05), loudRMS); err == nil {
		t.Error("feature samples must be rejected during noise floor measurement")
	}
}

func TestProcedureNoiseFloorThreshold(t *testing.T) {
	p := NewProcedure(testParams(10))
	levels := []float64{0.004, 0.004, 0.004, 0.004, 0.02}
	for _, l := range levels {
		p.AddNoiseFloorSample(l)
	}

	threshold, ok := p.NoiseFloorThreshold()
	if !ok {
		t.Fatal("threshold should be measured after enough samples")
	}
	// max(mean*2, peak*1.5, 0.01): peak 0.02 * 1.5 = 0.03 dominates.
	if math.Abs(threshold-0.03) > 1e-9 {
		t.Errorf("threshold = %f, want 0.03", threshold)
	}

	// Further ambient samples are rejected until confirm or retry.
	if _, err := p.AddNoiseFloorSample(0.004); err == nil {
		t.Error("noise floor samples should be rejected while waiting")
	}
}

func TestProcedureNoiseFloorMinimum(t *testing.T) {
	p := NewProcedure(testParams(10))
	for i := 0; i < 5; i++ {
		p.AddNoiseFloorSample(0.0001)
	}
	threshold, _ := p.NoiseFloorThreshold()
	if threshold != minRMSThreshold {
		t.Errorf("near-silent room threshold = %f, want floor %f", threshold, minRMSThreshold)
	}
}

func TestProcedureNeverAutoAdvances(t *testing.T) {
	p := measuredProcedure(t, 2)

	p.AddSample(features(1000, 0.05), loudRMS)
	p.AddSample(features(1000, 0.05), loudRMS)

	if p.Phase() != Kick {
		t.Errorf("phase advanced to %s without confirmation", p.Phase())
	}
	if !p.Waiting() {
		t.Error("full accumulator should set waiting_for_confirmation")
	}
	if _, err := p.AddSample(features(1000, 0.05), loudRMS); err == nil {
		t.Error("samples must be rejected while waiting for confirmation")
	}

	if _, err := p.Confirm(); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if p.Phase() != Snare {
		t.Errorf("phase after confirm = %s, want Snare", p.Phase())
	}
}

func TestProcedureFullWorkflow(t *testing.T) {
	p := measuredProcedure(t, 2)

	phases := []struct {
		sound    Sound
		features dsp.Features
	}{
		{Kick, features(1000, 0.05)},
		{Snare, features(3000, 0.15)},
		{HiHat, features(8000, 0.5)},
	}

	for _, ph := range phases {
		if p.Phase() != ph.sound {
			t.Fatalf("phase = %s, want %s", p.Phase(), ph.sound)
		}
		for i := 0; i < 2; i++ {
			if _, err := p.AddSample(ph.features, loudRMS); err != nil {
				t.Fatalf("%s sample %d: %v", ph.sound, i, err)
			}
		}
		if _, err := p.Confirm(); err != nil {
			t.Fatalf("confirm %s: %v", ph.sound, err)
		}
	}

	if !p.Complete() {
		t.Fatal("procedure should be complete after confirming HiHat")
	}

	thresholds, err := p.Finalize()
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if !thresholds.IsCalibrated {
		t.Error("finalized thresholds should be marked calibrated")
	}
	// mean * 1.2 of identical samples.
	if math.Abs(float64(thresholds.KickCentroid)-1200) > 0.5 {
		t.Errorf("kick centroid threshold = %f, want 1200", thresholds.KickCentroid)
	}
	if math.Abs(float64(thresholds.SnareCentroid)-3600) > 0.5 {
		t.Errorf("snare centroid threshold = %f, want 3600", thresholds.SnareCentroid)
	}
	if math.Abs(float64(thresholds.HihatZCR)-0.6) > 1e-3 {
		t.Errorf("hihat zcr threshold = %f, want 0.6", thresholds.HihatZCR)
	}
	// Noise floor carries through from the measurement phase.
	if thresholds.NoiseFloorRMS != minRMSThreshold {
		t.Errorf("noise floor = %f, want %f", thresholds.NoiseFloorRMS, minRMSThreshold)
	}
}

func TestProcedureFinalizeIncomplete(t *testing.T) {
	p := measuredProcedure(t, 2)
	p.AddSample(features(1000, 0.05), loudRMS)

	_, err := p.Finalize()
	var calErr *Error
	if !errors.As(err, &calErr) || calErr.Code != CodeInsufficientSamples {
		t.Errorf("finalize error = %v, want InsufficientSamples", err)
	}
}

func TestProcedureRejectsInvalidFeatures(t *testing.T) {
	p := measuredProcedure(t, 2)

	bad := []dsp.Features{
		features(30, 0.05),    // centroid too low
		features(25000, 0.05), // centroid too high
		features(1000, -0.1),  // zcr below range
		features(1000, 1.5),   // zcr above range
	}
	for _, f := range bad {
		if _, err := p.AddSample(f, loudRMS); err == nil {
			t.Errorf("features %+v should be rejected", f)
		}
	}
	if p.Snapshot().Collected != 0 {
		t.Error("invalid samples must not be collected")
	}
}

func TestProcedureRMSGateAndBackoff(t *testing.T) {
	p := measuredProcedure(t, 10)
	startGate := p.GateThreshold()

	quiet := startGate * 0.5
	for i := 0; i < 3; i++ {
		if _, err := p.AddSample(features(1000, 0.05), quiet); err == nil {
			t.Fatal("quiet sample should be rejected by the RMS gate")
		}
	}

	// Three consecutive rejects relax the gate by one step.
	backedOff := p.GateThreshold()
	if backedOff >= startGate {
		t.Errorf("gate did not back off: %f -> %f", startGate, backedOff)
	}

	// An accepted sample resets the gate to its baseline.
	if _, err := p.AddSample(features(1000, 0.05), loudRMS); err != nil {
		t.Fatalf("loud sample rejected: %v", err)
	}
	if p.GateThreshold() != startGate {
		t.Errorf("gate not reset after success: %f, want %f", p.GateThreshold(), startGate)
	}
}

func TestProcedureFeatureGateStoresCandidate(t *testing.T) {
	p := measuredProcedure(t, 2)

	// Valid features, but outside the kick centroid gate (60-2000 Hz).
	if _, err := p.AddSample(features(2500, 0.05), loudRMS); err == nil {
		t.Fatal("out-of-gate sample should be rejected")
	}

	progress := p.Snapshot()
	if !progress.ManualAcceptAvailable {
		t.Fatal("rejected-but-valid sample should be stored as manual accept candidate")
	}

	if _, err := p.ManualAccept(); err != nil {
		t.Fatalf("manual accept: %v", err)
	}
	progress = p.Snapshot()
	if progress.Collected != 1 {
		t.Errorf("collected = %d after manual accept, want 1", progress.Collected)
	}
	if progress.ManualAcceptAvailable {
		t.Error("candidate slot should be cleared after manual accept")
	}
}

func TestProcedureManualAcceptWithoutCandidate(t *testing.T) {
	p := measuredProcedure(t, 2)
	if _, err := p.ManualAccept(); err == nil {
		t.Error("manual accept with no stored candidate should fail")
	}
}

func TestProcedureRetryClearsPhase(t *testing.T) {
	p := measuredProcedure(t, 2)

	p.AddSample(features(1000, 0.05), loudRMS)
	p.AddSample(features(1000, 0.05), loudRMS)
	if !p.Waiting() {
		t.Fatal("kick collection should be waiting")
	}

	if _, err := p.Retry(); err != nil {
		t.Fatalf("retry: %v", err)
	}
	progress := p.Snapshot()
	if progress.Collected != 0 || progress.WaitingForConfirmation {
		t.Errorf("retry did not re-arm collection: %+v", progress)
	}
	if p.Phase() != Kick {
		t.Errorf("retry changed phase to %s", p.Phase())
	}
}

func TestProcedureRetryNoiseFloor(t *testing.T) {
	p := NewProcedure(testParams(10))
	for i := 0; i < 5; i++ {
		p.AddNoiseFloorSample(0.004)
	}
	if _, ok := p.NoiseFloorThreshold(); !ok {
		t.Fatal("threshold should be measured")
	}

	p.Retry()
	if _, ok := p.NoiseFloorThreshold(); ok {
		t.Error("retrying NoiseFloor should clear the measured threshold")
	}
	if p.Snapshot().Collected != 0 {
		t.Error("retrying NoiseFloor should clear collected samples")
	}
}

func TestProcedureGuidanceAfterStall(t *testing.T) {
	p := measuredProcedure(t, 10)

	quiet := p.GateThreshold() * 0.1
	for i := 0; i < guidanceMissThreshold; i++ {
		p.AddSample(features(1000, 0.05), quiet)
	}

	g := p.Snapshot().Guidance
	if g == nil {
		t.Fatal("stalled collection should attach guidance")
	}
	if g.Reason != GuidanceTooQuiet {
		t.Errorf("guidance reason = %s, want too_quiet", g.Reason)
	}
	if g.Sound != Kick {
		t.Errorf("guidance sound = %s, want Kick", g.Sound)
	}
}

func TestProcedureConfirmWithoutCompletion(t *testing.T) {
	p := measuredProcedure(t, 2)
	if _, err := p.Confirm(); !errors.Is(err, ErrNotComplete) {
		t.Errorf("confirm on incomplete phase = %v, want ErrNotComplete", err)
	}
}
