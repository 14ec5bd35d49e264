// SPDX-License-Identifier: MIT
package engine

import (
	"time"

	"beatbox/internal/buffer"
	"beatbox/internal/dsp"
	"beatbox/internal/log"
)

// pollInterval bounds the worker's wait on an empty data ring so
// shutdown stays prompt.
const pollInterval = time.Millisecond

// historyWindows sizes the rolling sample history in feature windows.
// Large enough to cover every deferred onset plus pre-roll.
const historyWindows = 8

// pendingOnset is a confirmed onset waiting for its full feature
// window to arrive in the history.
type pendingOnset struct {
	ts          uint64
	energy      float64
	calibrating bool
}

// worker is the analysis side of the pipeline: it pops filled frames,
// runs RMS, gate, onset detection, feature extraction, quantization,
// and either classification or calibration sample submission. Single
// goroutine; it may allocate, but all per-buffer state is amortized.
type worker struct {
	e *Engine

	detector  *dsp.OnsetDetector
	extractor *dsp.FeatureExtractor
	gate      *dsp.LevelGate

	featureWindow int
	minBuffer     int
	sampleRate    uint32

	// history is a contiguous run of recent samples; historyStart is
	// the absolute sample index of history[0]. fedUpTo marks how far
	// the onset detector has consumed it.
	history      []float32
	historyStart uint64
	fedUpTo      uint64

	// feedBudget keeps the detector running for a short tail after a
	// gate event so peaks near a buffer boundary still get their right
	// neighbour.
	feedBudget int

	pending      []pendingOnset
	lastFeatures dsp.Features
	lastFlux     float64
}

func newWorker(e *Engine) *worker {
	oc := e.cfg.Onset
	ac := e.cfg.Audio
	return &worker{
		e: e,
		detector: dsp.NewOnsetDetector(dsp.OnsetParams{
			WindowSize:       oc.WindowSize,
			HopSize:          oc.HopSize,
			MedianHalfWindow: oc.MedianWindowHalfsize,
			ThresholdOffset:  oc.ThresholdOffset,
		}),
		extractor:     dsp.NewFeatureExtractor(ac.SampleRate, oc.FeatureWindowSize),
		gate:          dsp.NewLevelGate(ac.SampleRate, ac.DebounceMs),
		featureWindow: oc.FeatureWindowSize,
		minBuffer:     oc.MinBufferSize,
		sampleRate:    ac.SampleRate,
		history:       make([]float32, 0, (historyWindows+2)*oc.FeatureWindowSize),
		pending:       make([]pendingOnset, 0, 8),
	}
}

func (w *worker) run(stop, done chan struct{}) {
	defer close(done)

	for {
		f, ok := w.e.pool.PopData()
		if !ok {
			select {
			case <-stop:
				w.drain()
				return
			case <-time.After(pollInterval):
			}
			continue
		}
		w.process(f)
		w.e.pool.Release(f)
	}
}

// drain empties the data ring after shutdown so every frame returns
// to the free ring and the pool invariant holds.
func (w *worker) drain() {
	for {
		f, ok := w.e.pool.PopData()
		if !ok {
			return
		}
		w.e.pool.Release(f)
	}
}

func (w *worker) process(f *buffer.Frame) {
	samples := f.Samples()
	if len(samples) == 0 {
		return
	}

	rms := dsp.RMS(samples)
	w.appendHistory(f.Start, samples)
	end := f.Start + uint64(len(samples))
	w.e.processed.Add(1)

	m := w.captureMode()
	switch {
	case m.noiseFloor:
		w.addNoiseFloor(rms)
	case m.waiting:
		// Confirmation pending; capture is paused until the user
		// confirms or retries.
	case m.calibrating:
		if _, open := w.gate.Calibration(rms, m.threshold, end); open {
			w.detect(rms, true)
		} else {
			w.feedTail(rms, true)
		}
	default:
		if _, open := w.gate.Classification(rms, m.threshold, end); open {
			w.detect(rms, false)
		} else {
			w.feedTail(rms, false)
		}
	}

	w.flushOnsets()
	w.trimHistory()

	w.e.metrics.Publish(AudioMetrics{
		RMS:         rms,
		Centroid:    w.lastFeatures.CentroidHz,
		Flux:        w.lastFlux,
		FrameNumber: w.e.processed.Load(),
		TimestampMs: float64(end) * 1000 / float64(w.sampleRate),
	})
}

// captureMode snapshots the calibration state into a per-buffer
// routing decision.
type captureMode struct {
	calibrating bool
	noiseFloor  bool
	waiting     bool
	threshold   float64
}

func (w *worker) captureMode() captureMode {
	w.e.procMu.Lock()
	defer w.e.procMu.Unlock()

	proc := w.e.proc
	if proc != nil && !proc.Complete() {
		m := captureMode{calibrating: true}
		switch {
		case proc.Waiting():
			m.waiting = true
		case !proc.Phase().IsSoundPhase():
			m.noiseFloor = true
		default:
			m.threshold = proc.GateThreshold()
		}
		return m
	}

	t := w.e.store.Snapshot()
	m := captureMode{threshold: w.e.cfg.Audio.DefaultGateRMS}
	if t.IsCalibrated && t.NoiseFloorRMS > 0 {
		m.threshold = t.NoiseFloorRMS
	}
	return m
}

func (w *worker) addNoiseFloor(rms float64) {
	w.e.procMu.Lock()
	defer w.e.procMu.Unlock()
	if w.e.proc == nil {
		return
	}
	progress, err := w.e.proc.AddNoiseFloorSample(rms)
	if err != nil {
		return
	}
	w.e.progress.Publish(progress)
}

func (w *worker) appendHistory(start uint64, samples []float32) {
	if expected := w.historyStart + uint64(len(w.history)); len(w.history) > 0 && start != expected {
		// Dropped frames upstream: the history is no longer
		// contiguous, so restart it and the detector at the new
		// position. Pending onsets are flushed with whatever window
		// they have.
		w.forceFlush()
		w.history = w.history[:0]
		w.historyStart = start
		w.fedUpTo = start
		w.feedBudget = 0
		w.detector.Reset()
	}
	if len(w.history) == 0 {
		w.historyStart = start
		if w.fedUpTo < start {
			w.fedUpTo = start
		}
	}
	w.history = append(w.history, samples...)
}

// detect feeds everything accumulated since the last detector run and
// arms a feed tail so the following buffers keep the detector supplied
// while the sound rings out.
func (w *worker) detect(rms float64, calibrating bool) {
	w.feedDetector(rms, calibrating)
	w.feedBudget = 2 * w.featureWindow
}

// feedTail keeps feeding the detector after a gate event until the
// budget runs out, so a peak confirmed by the next buffer is not lost.
func (w *worker) feedTail(rms float64, calibrating bool) {
	if w.feedBudget <= 0 {
		return
	}
	w.feedDetector(rms, calibrating)
}

func (w *worker) feedDetector(rms float64, calibrating bool) {
	lo := 0
	if w.fedUpTo > w.historyStart {
		lo = int(w.fedUpTo - w.historyStart)
	}
	if lo >= len(w.history) {
		return
	}
	segment := w.history[lo:]
	if len(segment) < w.minBuffer {
		return
	}

	onsets := w.detector.Process(segment, w.historyStart+uint64(lo))
	w.fedUpTo = w.historyStart + uint64(len(w.history))
	w.lastFlux = w.detector.LastFlux()
	if w.feedBudget > 0 {
		w.feedBudget -= len(segment)
	}

	for _, ts := range onsets {
		w.pending = append(w.pending, pendingOnset{
			ts:          ts,
			energy:      rms,
			calibrating: calibrating,
		})
	}
}

// flushOnsets emits every pending onset whose full feature window has
// arrived. Pendings are queued in timestamp order, so emission order
// is nondecreasing.
func (w *worker) flushOnsets() {
	end := w.historyStart + uint64(len(w.history))
	kept := w.pending[:0]
	for _, p := range w.pending {
		if p.ts+uint64(w.featureWindow) > end {
			kept = append(kept, p)
			continue
		}
		w.emitOnset(p)
	}
	w.pending = kept
}

// forceFlush emits every pending onset with whatever window material
// is available. Used when the history is about to become discontiguous.
func (w *worker) forceFlush() {
	for _, p := range w.pending {
		w.emitOnset(p)
	}
	w.pending = w.pending[:0]
}

func (w *worker) emitOnset(p pendingOnset) {
	lo := 0
	if p.ts > w.historyStart {
		lo = int(p.ts - w.historyStart)
	}
	if lo >= len(w.history) {
		return
	}
	hi := min(lo+w.featureWindow, len(w.history))

	feats := w.extractor.Extract(w.history[lo:hi])
	w.lastFeatures = feats
	tsMs := float64(p.ts) * 1000 / float64(w.sampleRate)

	w.e.onsets.Publish(OnsetEvent{
		Timestamp:   p.ts,
		TimestampMs: tsMs,
		Energy:      p.energy,
		Features:    feats,
	})

	if p.calibrating {
		w.submitCalibration(feats, p.energy)
		return
	}

	label, confidence := w.e.classifier.Classify(feats)
	verdict := dsp.Quantize(p.ts, w.e.bpm.Load(), w.sampleRate, dsp.DefaultToleranceMs)
	w.e.results.Publish(ClassificationResult{
		Label:       label,
		Timing:      verdict.Class,
		ErrorMs:     verdict.ErrorMs,
		TimestampMs: tsMs,
		Confidence:  confidence,
	})
}

func (w *worker) submitCalibration(feats dsp.Features, rms float64) {
	w.e.procMu.Lock()
	defer w.e.procMu.Unlock()
	if w.e.proc == nil {
		return
	}
	if _, err := w.e.proc.AddSample(feats, rms); err != nil {
		log.Debugf("worker: calibration sample rejected: %v", err)
	}
	// Publish the snapshot even on rejection: miss counts and guidance
	// live there.
	w.e.progress.Publish(w.e.proc.Snapshot())
}

// trimHistory drops samples that no feature window can still need.
func (w *worker) trimHistory() {
	keep := historyWindows * w.featureWindow
	if len(w.history) <= keep {
		return
	}
	drop := len(w.history) - keep
	w.history = w.history[:copy(w.history, w.history[drop:])]
	w.historyStart += uint64(drop)
	if w.fedUpTo < w.historyStart {
		w.fedUpTo = w.historyStart
	}
}
