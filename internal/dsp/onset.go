// SPDX-License-Identifier: MIT
package dsp

import (
	"sort"
)

// Default onset detection parameters at 48 kHz.
const (
	DefaultOnsetWindowSize      = 256
	DefaultOnsetHopSize         = 64
	DefaultMedianHalfWindow     = 50
	DefaultOnsetThresholdOffset = 0.15
	DefaultMinBufferSize        = 512
)

// OnsetParams configures the spectral flux detector.
type OnsetParams struct {
	WindowSize      int     // analysis window, power of 2
	HopSize         int     // samples between consecutive flux frames
	MedianHalfWindow int    // flux frames on each side of the median window
	ThresholdOffset float64 // added to the running median
}

// DefaultOnsetParams returns the stock detector tuning.
func DefaultOnsetParams() OnsetParams {
	return OnsetParams{
		WindowSize:       DefaultOnsetWindowSize,
		HopSize:          DefaultOnsetHopSize,
		MedianHalfWindow: DefaultMedianHalfWindow,
		ThresholdOffset:  DefaultOnsetThresholdOffset,
	}
}

// OnsetDetector finds transient attacks via positive spectral flux
// with a median-adaptive threshold. It is streaming: Process may be
// called with arbitrarily sized chunks and carries window overlap and
// flux history across calls. Not safe for concurrent use.
type OnsetDetector struct {
	params OnsetParams
	ws     *fftWorkspace

	prevSpectrum []float64
	hasPrev      bool

	// pending holds unconsumed input. pendingStart is the absolute
	// sample index of pending[0]; a gap between pendingStart+len and
	// an incoming chunk's start means frames were dropped upstream.
	pending      []float32
	pendingStart uint64

	// flux and fluxStart are parallel: fluxStart[i] is the absolute
	// sample index of the window that produced flux[i]. Timestamps are
	// carried explicitly so dropped audio cannot skew onset positions.
	flux      []float64
	fluxStart []uint64

	// peaked is how many leading flux frames have already been
	// evaluated as peak candidates.
	peaked int

	medianScratch []float64
	onsets        []uint64
}

// NewOnsetDetector builds a detector with pre-allocated FFT and median
// workspaces. Panics if WindowSize is not a power of 2 or HopSize does
// not divide it.
func NewOnsetDetector(p OnsetParams) *OnsetDetector {
	if p.HopSize <= 0 || p.WindowSize%p.HopSize != 0 {
		panic("onset hop size must divide the window size")
	}
	historyCap := 2*p.MedianHalfWindow + 64
	return &OnsetDetector{
		params:        p,
		ws:            newFFTWorkspace(p.WindowSize),
		prevSpectrum:  make([]float64, p.WindowSize/2+1),
		pending:       make([]float32, 0, 4*p.WindowSize),
		flux:          make([]float64, 0, historyCap),
		fluxStart:     make([]uint64, 0, historyCap),
		medianScratch: make([]float64, 0, 2*p.MedianHalfWindow+1),
		onsets:        make([]uint64, 0, 8),
	}
}

// Process feeds a chunk that begins at absolute sample index start and
// returns the absolute sample indices of any onsets confirmed by this
// chunk, in increasing order. The returned slice is reused across
// calls.
func (d *OnsetDetector) Process(samples []float32, start uint64) []uint64 {
	d.onsets = d.onsets[:0]

	if expected := d.pendingStart + uint64(len(d.pending)); len(d.pending) > 0 && start != expected {
		// Dropped or reordered input: restart the stream at the new
		// position rather than computing flux across the gap.
		d.resync(start)
	}
	if len(d.pending) == 0 {
		d.pendingStart = start
	}
	d.pending = append(d.pending, samples...)

	w, h := d.params.WindowSize, d.params.HopSize
	pos := 0
	for pos+w <= len(d.pending) {
		mags := d.ws.magnitudes(d.pending[pos : pos+w])
		if d.hasPrev {
			var f float64
			for i, m := range mags {
				if diff := m - d.prevSpectrum[i]; diff > 0 {
					f += diff
				}
			}
			d.flux = append(d.flux, f)
			d.fluxStart = append(d.fluxStart, d.pendingStart+uint64(pos))
		}
		copy(d.prevSpectrum, mags)
		d.hasPrev = true
		pos += h
	}

	// Keep the window overlap for the next chunk.
	if pos > 0 {
		d.pending = d.pending[:copy(d.pending, d.pending[pos:])]
		d.pendingStart += uint64(pos)
	}

	d.pickPeaks()
	d.trimHistory()
	return d.onsets
}

// LastFlux returns the most recent spectral flux value, or 0 before
// any flux frame has been produced.
func (d *OnsetDetector) LastFlux() float64 {
	if len(d.flux) == 0 {
		return 0
	}
	return d.flux[len(d.flux)-1]
}

// Reset clears all streaming state. The next Process call starts a
// fresh stream at whatever index it is given.
func (d *OnsetDetector) Reset() {
	d.resync(0)
	d.flux = d.flux[:0]
	d.fluxStart = d.fluxStart[:0]
	d.peaked = 0
}

func (d *OnsetDetector) resync(start uint64) {
	d.pending = d.pending[:0]
	d.pendingStart = start
	d.hasPrev = false
}

// pickPeaks evaluates flux frames that have both neighbours available
// and have not been evaluated before. A peak must be a strict local
// maximum and exceed the median of the surrounding flux by the
// configured offset.
func (d *OnsetDetector) pickPeaks() {
	for i := max(d.peaked, 1); i+1 < len(d.flux); i++ {
		f := d.flux[i]
		if f <= d.flux[i-1] || f <= d.flux[i+1] {
			continue
		}
		if f > d.adaptiveThreshold(i) {
			d.onsets = append(d.onsets, d.fluxStart[i])
		}
	}
	if n := len(d.flux) - 1; n > d.peaked {
		d.peaked = n
	}
}

func (d *OnsetDetector) adaptiveThreshold(i int) float64 {
	m := d.params.MedianHalfWindow
	lo := max(i-m, 0)
	hi := min(i+m+1, len(d.flux))

	d.medianScratch = append(d.medianScratch[:0], d.flux[lo:hi]...)
	sort.Float64s(d.medianScratch)
	return d.medianScratch[len(d.medianScratch)/2] + d.params.ThresholdOffset
}

// trimHistory discards flux frames that can no longer participate in
// any future median window or peak evaluation.
func (d *OnsetDetector) trimHistory() {
	keep := 2*d.params.MedianHalfWindow + 2
	if len(d.flux) <= keep {
		return
	}
	drop := len(d.flux) - keep
	d.flux = d.flux[:copy(d.flux, d.flux[drop:])]
	d.fluxStart = d.fluxStart[:copy(d.fluxStart, d.fluxStart[drop:])]
	d.peaked -= drop
	if d.peaked < 0 {
		d.peaked = 0
	}
}
