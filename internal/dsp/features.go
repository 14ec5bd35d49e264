// SPDX-License-Identifier: MIT
package dsp

import "math"

// DefaultFeatureWindowSize is the number of samples extracted around
// each onset for feature computation.
const DefaultFeatureWindowSize = 1024

// magFloor is the magnitude below which spectral bins are treated as
// silence in the centroid and flatness computations.
const magFloor = 1e-10

// Features summarises one onset window. All fields are finite; a
// silent window yields the zero value.
type Features struct {
	CentroidHz float32 `json:"centroid_hz"`
	ZCR        float32 `json:"zcr"`
	Flatness   float32 `json:"flatness"`
	RolloffHz  float32 `json:"rolloff_hz"`
	DecayMs    float32 `json:"decay_ms"`
}

// FeatureExtractor computes spectral and temporal features over a
// fixed-size window. Not safe for concurrent use.
type FeatureExtractor struct {
	ws         *fftWorkspace
	sampleRate uint32
}

// NewFeatureExtractor builds an extractor for the given window size,
// which must be a power of 2.
func NewFeatureExtractor(sampleRate uint32, windowSize int) *FeatureExtractor {
	return &FeatureExtractor{
		ws:         newFFTWorkspace(windowSize),
		sampleRate: sampleRate,
	}
}

// WindowSize returns the number of samples Extract expects. Shorter
// input is zero-padded.
func (e *FeatureExtractor) WindowSize() int { return e.ws.size }

// Extract computes the feature vector for one onset window.
func (e *FeatureExtractor) Extract(window []float32) Features {
	mags := e.ws.magnitudes(window)
	binHz := e.ws.binWidth(e.sampleRate)

	return Features{
		CentroidHz: float32(spectralCentroid(mags, binHz)),
		ZCR:        float32(zeroCrossingRate(window)),
		Flatness:   float32(spectralFlatness(mags)),
		RolloffHz:  float32(spectralRolloff(mags, binHz)),
		DecayMs:    float32(decayTime(window, e.sampleRate)),
	}
}

// spectralCentroid is the magnitude-weighted mean frequency.
func spectralCentroid(mags []float64, binHz float64) float64 {
	var weighted, total float64
	for i, m := range mags {
		weighted += float64(i) * binHz * m
		total += m
	}
	if total < magFloor {
		return 0
	}
	return weighted / total
}

// spectralFlatness is the geometric over arithmetic mean of the
// non-silent magnitude bins, in [0, 1]. Near 1 is noise-like, near 0
// is tonal.
func spectralFlatness(mags []float64) float64 {
	var logSum, sum float64
	n := 0
	for _, m := range mags {
		if m > magFloor {
			logSum += math.Log(m)
			sum += m
			n++
		}
	}
	if n == 0 {
		return 0
	}
	geoMean := math.Exp(logSum / float64(n))
	ariMean := sum / float64(n)
	return math.Min(math.Max(geoMean/ariMean, 0), 1)
}

// spectralRolloff is the frequency below which 85% of the spectral
// energy lies.
func spectralRolloff(mags []float64, binHz float64) float64 {
	var total float64
	for _, m := range mags {
		total += m * m
	}
	if total < magFloor {
		return 0
	}
	target := 0.85 * total
	var cum float64
	for i, m := range mags {
		cum += m * m
		if cum >= target {
			return float64(i) * binHz
		}
	}
	return float64(len(mags)-1) * binHz
}

// zeroCrossingRate is the fraction of adjacent sample pairs whose
// signs differ.
func zeroCrossingRate(window []float32) float64 {
	if len(window) < 2 {
		return 0
	}
	crossings := 0
	for i := 1; i < len(window); i++ {
		if (window[i] >= 0) != (window[i-1] >= 0) {
			crossings++
		}
	}
	return float64(crossings) / float64(len(window)-1)
}

// decayTime measures how long the amplitude envelope takes to fall
// from its peak to 10% of the peak (-20 dB), in milliseconds. If the
// envelope never falls that far within the window, the time from the
// peak to the end of the window is returned.
func decayTime(window []float32, sampleRate uint32) float64 {
	peakIdx := 0
	var peak float32
	for i, s := range window {
		if s < 0 {
			s = -s
		}
		if s > peak {
			peak = s
			peakIdx = i
		}
	}
	if peak < 1e-6 {
		return 0
	}

	threshold := peak * 0.1
	end := len(window) - 1
	for i := peakIdx; i < len(window); i++ {
		s := window[i]
		if s < 0 {
			s = -s
		}
		if s < threshold {
			end = i
			break
		}
	}
	return float64(end-peakIdx) * 1000 / float64(sampleRate)
}
