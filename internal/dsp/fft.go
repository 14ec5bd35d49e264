// SPDX-License-Identifier: MIT

/*
Package dsp implements the analysis chain that runs on the worker
thread: spectral-flux onset detection, per-onset feature extraction,
the RMS level-crossing gate, and metronome-grid quantization.

Everything here is driven by the analysis worker, never the audio
callback, so modest allocation is allowed. The FFT paths still reuse
pre-allocated workspaces so steady-state processing stays
allocation-free.
*/
package dsp

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"

	"beatbox/pkg/bitint"
)

// fftWorkspace holds pre-allocated buffers for one FFT size.
type fftWorkspace struct {
	size      int
	fftObj    *fourier.FFT
	window    []float64    // Hann coefficients
	input     []float64    // windowed, converted input
	coeffs    []complex128 // FFT output, size/2+1
	magnitude []float64    // magnitude spectrum, size/2+1
}

func newFFTWorkspace(size int) *fftWorkspace {
	if !bitint.IsPowerOfTwo(size) {
		panic("FFT size must be a power of 2")
	}

	window := make([]float64, size)
	for i := 0; i < size; i++ {
		window[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(size-1)))
	}

	bins := size/2 + 1
	return &fftWorkspace{
		size:      size,
		fftObj:    fourier.NewFFT(size),
		window:    window,
		input:     make([]float64, size),
		coeffs:    make([]complex128, bins),
		magnitude: make([]float64, bins),
	}
}

// magnitudes applies the Hann window, zero-pads short input, and
// returns the magnitude spectrum. The returned slice is owned by the
// workspace and valid until the next call.
func (w *fftWorkspace) magnitudes(samples []float32) []float64 {
	for i := 0; i < w.size; i++ {
		if i < len(samples) {
			w.input[i] = float64(samples[i]) * w.window[i]
		} else {
			w.input[i] = 0
		}
	}

	w.fftObj.Coefficients(w.coeffs, w.input)
	for i := range w.coeffs {
		w.magnitude[i] = cmplx.Abs(w.coeffs[i])
	}
	return w.magnitude
}

// binWidth returns the frequency spacing of the magnitude bins in Hz.
func (w *fftWorkspace) binWidth(sampleRate uint32) float64 {
	return float64(sampleRate) / float64(w.size)
}
