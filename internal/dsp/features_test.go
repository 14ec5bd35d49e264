// SPDX-License-Identifier: MIT
package dsp

import (
	"math"
	"testing"

	"beatbox/pkg/testsig"
)

const testSampleRate = 48000

func TestFeaturesSilenceIsZero(t *testing.T) {
	e := NewFeatureExtractor(testSampleRate, DefaultFeatureWindowSize)
	f := e.Extract(testsig.Silence(DefaultFeatureWindowSize))

	if f != (Features{}) {
		t.Errorf("silence features = %+v, want all zero", f)
	}
}

func TestFeaturesRanges(t *testing.T) {
	e := NewFeatureExtractor(testSampleRate, DefaultFeatureWindowSize)

	signals := map[string][]float32{
		"sine":  testsig.Sine(DefaultFeatureWindowSize, testSampleRate, 1000),
		"noise": testsig.Noise(DefaultFeatureWindowSize),
		"burst": testsig.DecayingBurst(DefaultFeatureWindowSize, 100),
	}

	for name, signal := range signals {
		f := e.Extract(signal)

		if f.CentroidHz < 0 || f.CentroidHz > testSampleRate/2 {
			t.Errorf("%s: centroid %f outside [0, Nyquist]", name, f.CentroidHz)
		}
		if f.ZCR < 0 || f.ZCR > 1 {
			t.Errorf("%s: zcr %f outside [0, 1]", name, f.ZCR)
		}
		if f.Flatness < 0 || f.Flatness > 1 {
			t.Errorf("%s: flatness %f outside [0, 1]", name, f.Flatness)
		}
		if f.RolloffHz < 0 || f.RolloffHz > testSampleRate/2 {
			t.Errorf("%s: rolloff %f outside [0, Nyquist]", name, f.RolloffHz)
		}
		if f.DecayMs < 0 || math.IsNaN(float64(f.DecayMs)) {
			t.Errorf("%s: decay %f invalid", name, f.DecayMs)
		}
	}
}

func TestFeaturesSineCentroid(t *testing.T) {
	e := NewFeatureExtractor(testSampleRate, DefaultFeatureWindowSize)
	f := e.Extract(testsig.Sine(DefaultFeatureWindowSize, testSampleRate, 1000))

	if f.CentroidHz < 900 || f.CentroidHz > 1100 {
		t.Errorf("1 kHz sine centroid = %f, want near 1000", f.CentroidHz)
	}
	if f.RolloffHz < 800 || f.RolloffHz > 1300 {
		t.Errorf("1 kHz sine rolloff = %f, want near 1000", f.RolloffHz)
	}

	// 1 kHz at 48 kHz crosses zero about 2000 times per second.
	wantZCR := float32(2 * 1000.0 / testSampleRate)
	if f.ZCR < wantZCR*0.8 || f.ZCR > wantZCR*1.2 {
		t.Errorf("1 kHz sine zcr = %f, want near %f", f.ZCR, wantZCR)
	}
}

func TestFeaturesFlatnessSeparatesToneFromNoise(t *testing.T) {
	e := NewFeatureExtractor(testSampleRate, DefaultFeatureWindowSize)

	tone := e.Extract(testsig.Sine(DefaultFeatureWindowSize, testSampleRate, 1000))
	noise := e.Extract(testsig.Noise(DefaultFeatureWindowSize))

	if tone.Flatness > 0.2 {
		t.Errorf("sine flatness = %f, want tonal (low)", tone.Flatness)
	}
	if noise.Flatness < 0.3 {
		t.Errorf("noise flatness = %f, want noise-like (high)", noise.Flatness)
	}
	if noise.Flatness <= tone.Flatness {
		t.Errorf("noise flatness (%f) should exceed sine flatness (%f)",
			noise.Flatness, tone.Flatness)
	}
}

func TestFeaturesDecayTime(t *testing.T) {
	e := NewFeatureExtractor(testSampleRate, DefaultFeatureWindowSize)

	// A pure exponential envelope reaches 10% of peak after
	// tau*ln(10) samples, so the measurement is deterministic.
	envelope := func(tau float64) []float32 {
		buffer := make([]float32, DefaultFeatureWindowSize)
		for i := range buffer {
			buffer[i] = float32(math.Exp(-float64(i) / tau))
		}
		return buffer
	}

	fast := e.Extract(envelope(100))
	if fast.DecayMs < 4.5 || fast.DecayMs > 5.2 {
		t.Errorf("tau=100 decay = %f ms, want about 4.8", fast.DecayMs)
	}

	slow := e.Extract(envelope(400))
	if slow.DecayMs < 18 || slow.DecayMs > 21 {
		t.Errorf("tau=400 decay = %f ms, want about 19.2", slow.DecayMs)
	}

	if slow.DecayMs <= fast.DecayMs {
		t.Errorf("slower envelope must decay longer: %f vs %f", slow.DecayMs, fast.DecayMs)
	}
}

func TestFeaturesShortWindowZeroPadded(t *testing.T) {
	e := NewFeatureExtractor(testSampleRate, DefaultFeatureWindowSize)

	// Fewer samples than the window size must not panic or produce
	// NaNs.
	f := e.Extract(testsig.Sine(300, testSampleRate, 1000))
	for _, v := range []float32{f.CentroidHz, f.ZCR, f.Flatness, f.RolloffHz, f.DecayMs} {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			t.Fatalf("short window produced non-finite feature: %+v", f)
		}
	}
}

func TestRMS(t *testing.T) {
	if got := RMS(nil); got != 0 {
		t.Errorf("RMS(nil) = %f, want 0", got)
	}
	if got := RMS(testsig.Silence(512)); got != 0 {
		t.Errorf("RMS(silence) = %f, want 0", got)
	}

	// Full-scale square wave has RMS 1.
	square := make([]float32, 512)
	for i := range square {
		if i%2 == 0 {
			square[i] = 1
		} else {
			square[i] = -1
		}
	}
	if got := RMS(square); math.Abs(got-1) > 1e-9 {
		t.Errorf("RMS(square) = %f, want 1", got)
	}

	// Sine RMS is amplitude / sqrt(2); testsig scales to 0.9.
	sine := testsig.Sine(48000, testSampleRate, 100)
	want := 0.9 / math.Sqrt2
	if got := RMS(sine); math.Abs(got-want) > 0.01 {
		t.Errorf("RMS(sine) = %f, want %f", got, want)
	}
}

func BenchmarkFeatureExtract(b *testing.B) {
	e := NewFeatureExtractor(testSampleRate, DefaultFeatureWindowSize)
	window := testsig.Noise(DefaultFeatureWindowSize)
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		e.Extract(window)
	}
}
