// SPDX-License-Identifier: MIT

/*
Package engine wires the real-time pipeline together: the audio
callback fills pooled buffers and mixes the metronome click, the
analysis worker consumes them through the onset/feature/classify
chain, and the orchestrator owns lifecycle, calibration, and the
broadcast streams external surfaces subscribe to.

The callback path is wait-free: it touches only the buffer pool's
SPSC rings, atomics, and pre-generated click samples.
*/
package engine

import (
	"sync"
	"sync/atomic"
	"time"

	"beatbox/internal/broadcast"
	"beatbox/internal/buffer"
	"beatbox/internal/calibration"
	"beatbox/internal/classify"
	"beatbox/internal/config"
	"beatbox/internal/log"
	"beatbox/internal/metronome"
)

// patchQueueDepth bounds the parameter-patch command queue.
const patchQueueDepth = 32

// Engine is the orchestrator. Create with New, drive with Start/Stop,
// and release with Close.
type Engine struct {
	cfg     *config.Config
	backend Backend

	store      *calibration.Store
	classifier *classify.Classifier

	// Shared with the audio callback and analysis worker.
	pool         *buffer.Pool
	frameCounter atomic.Uint64
	bpm          atomic.Uint32
	clickPos     atomic.Uint64
	running      atomic.Bool
	dropped      atomic.Uint64
	processed    atomic.Uint64

	click []float32

	procMu sync.Mutex
	proc   *calibration.Procedure

	results   *broadcast.Hub[ClassificationResult]
	onsets    *broadcast.Hub[OnsetEvent]
	progress  *broadcast.Hub[calibration.Progress]
	metrics   *broadcast.Hub[AudioMetrics]
	telemetry *broadcast.Hub[TelemetryEvent]

	patches   chan ParamPatch
	patchDone chan struct{}

	mu         sync.Mutex // lifecycle transitions
	workerStop chan struct{}
	workerDone chan struct{}
	startedAt  time.Time
}

// New builds an engine around the given backend. Persisted
// calibration state is loaded when configured and readable; otherwise
// defaults apply.
func New(cfg *config.Config, backend Backend) *Engine {
	thresholds := calibration.DefaultThresholds()
	if cfg.Calibration.StateFile != "" {
		if loaded, err := calibration.LoadFile(cfg.Calibration.StateFile); err == nil {
			thresholds = loaded
			log.Infof("engine: loaded calibration from %s", cfg.Calibration.StateFile)
		} else {
			log.Warnf("engine: no usable calibration at %s: %v", cfg.Calibration.StateFile, err)
		}
	}

	store := calibration.NewStore(thresholds)
	e := &Engine{
		cfg:        cfg,
		backend:    backend,
		store:      store,
		classifier: classify.New(store),
		click:      metronome.GenerateClick(cfg.Audio.SampleRate, cfg.Audio.ClickDurationMs),
		results:    broadcast.NewHub[ClassificationResult](0),
		onsets:     broadcast.NewHub[OnsetEvent](0),
		progress:   broadcast.NewHub[calibration.Progress](0),
		metrics:    broadcast.NewHub[AudioMetrics](0),
		telemetry:  broadcast.NewHub[TelemetryEvent](0),
		patches:    make(chan ParamPatch, patchQueueDepth),
		patchDone:  make(chan struct{}),
	}
	e.clickPos.Store(uint64(len(e.click)))

	go e.drainPatches()
	return e
}

// Start spins up the pool, the analysis worker, and the audio
// backend at the given tempo.
func (e *Engine) Start(bpm uint32) error {
	if bpm == 0 {
		return errBpmInvalid(bpm)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running.Load() {
		return ErrAlreadyRunning
	}

	e.pool = buffer.NewPool(e.cfg.Audio.BufferPoolSize, e.cfg.Audio.BufferSize)
	e.frameCounter.Store(0)
	e.clickPos.Store(uint64(len(e.click)))
	e.bpm.Store(bpm)
	e.dropped.Store(0)
	e.processed.Store(0)

	e.workerStop = make(chan struct{})
	e.workerDone = make(chan struct{})
	w := newWorker(e)
	go w.run(e.workerStop, e.workerDone)

	e.running.Store(true)
	if err := e.backend.Start(e.callback); err != nil {
		e.running.Store(false)
		close(e.workerStop)
		<-e.workerDone
		e.pool = nil
		return err
	}

	e.startedAt = time.Now()
	e.publishTelemetry(TelemetryEvent{Kind: TelemetryEngineStarted, BPM: bpm})
	log.Infof("engine: started at %d BPM, %d Hz", bpm, e.cfg.Audio.SampleRate)
	return nil
}

// Stop halts the backend, drains the worker, and tears the pool
// down. The pool invariant holds across shutdown: the worker releases
// every queued buffer before exiting.
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running.Load() {
		return ErrNotRunning
	}

	e.running.Store(false)
	err := e.backend.Stop()

	close(e.workerStop)
	<-e.workerDone
	e.pool = nil

	e.publishTelemetry(TelemetryEvent{Kind: TelemetryEngineStopped})
	log.Infof("engine: stopped")
	return err
}

// Close stops the engine if needed and shuts the broadcast hubs.
func (e *Engine) Close() {
	if e.running.Load() {
		if err := e.Stop(); err != nil {
			log.Warnf("engine: stop during close: %v", err)
		}
	}
	close(e.patches)
	<-e.patchDone

	e.results.Close()
	e.onsets.Close()
	e.progress.Close()
	e.metrics.Close()
	e.telemetry.Close()
}

// SetBPM changes the metronome tempo immediately.
func (e *Engine) SetBPM(bpm uint32) error {
	if bpm == 0 {
		return errBpmInvalid(bpm)
	}
	e.bpm.Store(bpm)
	e.publishTelemetry(TelemetryEvent{Kind: TelemetryBpmChanged, BPM: bpm})
	return nil
}

// BPM returns the current tempo.
func (e *Engine) BPM() uint32 { return e.bpm.Load() }

// FrameCounter returns the number of samples captured so far.
func (e *Engine) FrameCounter() uint64 { return e.frameCounter.Load() }

// callback is the real-time duplex handler: capture into a pooled
// frame, advance the sample clock, and mix the metronome click into
// the output. No allocation, no locks, no logging.
func (e *Engine) callback(in, out []float32) {
	if !e.running.Load() {
		for i := range out {
			out[i] = 0
		}
		return
	}

	base := e.frameCounter.Load()

	if f, ok := e.pool.AcquireFree(); ok {
		n := copy(f.Data, in)
		f.N = n
		f.Start = base
		if !e.pool.PublishData(f) {
			e.pool.Requeue(f)
			e.dropped.Add(1)
		}
	} else {
		e.dropped.Add(1)
	}

	e.frameCounter.Store(base + uint64(len(in)))

	bpm := e.bpm.Load()
	sr := e.cfg.Audio.SampleRate
	pos := e.clickPos.Load()
	for i := range out {
		if metronome.IsOnBeat(base+uint64(i), bpm, sr) {
			pos = 0
		}
		if pos < uint64(len(e.click)) {
			out[i] = e.click[pos]
			pos++
		} else {
			out[i] = 0
		}
	}
	e.clickPos.Store(pos)
}

// StartCalibration begins a fresh procedure. Fails if one is already
// underway.
func (e *Engine) StartCalibration() error {
	e.procMu.Lock()
	defer e.procMu.Unlock()
	if e.proc != nil && !e.proc.Complete() {
		return calibration.ErrAlreadyInProgress
	}

	cc := e.cfg.Calibration
	e.proc = calibration.NewProcedure(calibration.Params{
		SamplesPerSound:   cc.SamplesPerSound,
		NoiseFloorSamples: cc.NoiseFloorSamplesNeeded,
		MinSampleInterval: time.Duration(cc.MinSampleIntervalMs) * time.Millisecond,
		BackoffTrigger:    cc.AdaptiveBackoffTrigger,
		BackoffSteps:      cc.AdaptiveBackoffSteps,
		FeatureBackoffPct: cc.FeatureBackoffPct,
	})
	e.progress.Publish(e.proc.Snapshot())
	log.Infof("engine: calibration started")
	return nil
}

// ConfirmStep advances a completed calibration phase.
func (e *Engine) ConfirmStep() error {
	return e.withProcedure(func(p *calibration.Procedure) error {
		_, err := p.Confirm()
		return err
	})
}

// RetryStep re-arms the current calibration phase.
func (e *Engine) RetryStep() error {
	return e.withProcedure(func(p *calibration.Procedure) error {
		_, err := p.Retry()
		return err
	})
}

// ManualAcceptLastCandidate promotes the last rejected-but-valid
// sample into the current phase.
func (e *Engine) ManualAcceptLastCandidate() error {
	return e.withProcedure(func(p *calibration.Procedure) error {
		_, err := p.ManualAccept()
		return err
	})
}

// FinishCalibration finalizes thresholds, swaps them into the live
// store, persists them when configured, and retires the procedure.
func (e *Engine) FinishCalibration() (calibration.Thresholds, error) {
	e.procMu.Lock()
	defer e.procMu.Unlock()
	if e.proc == nil {
		return calibration.Thresholds{}, calibration.ErrNotComplete
	}

	thresholds, err := e.proc.Finalize()
	if err != nil {
		return calibration.Thresholds{}, err
	}
	thresholds.Level = e.store.Snapshot().Level

	e.store.Replace(thresholds)
	if path := e.cfg.Calibration.StateFile; path != "" {
		if err := thresholds.SaveFile(path); err != nil {
			log.Errorf("engine: persisting calibration failed: %v", err)
		}
	}

	progress := e.proc.Snapshot()
	progress.Complete = true
	e.progress.Publish(progress)
	e.proc = nil

	log.Infof("engine: calibration finished, noise floor %.4f", thresholds.NoiseFloorRMS)
	return thresholds, nil
}

// CalibrationComplete reports whether every phase of an in-flight
// procedure has been collected and confirmed.
func (e *Engine) CalibrationComplete() bool {
	e.procMu.Lock()
	defer e.procMu.Unlock()
	return e.proc != nil && e.proc.Complete()
}

// CancelCalibration abandons an in-flight procedure.
func (e *Engine) CancelCalibration() {
	e.procMu.Lock()
	defer e.procMu.Unlock()
	e.proc = nil
}

// LoadCalibration replaces the live thresholds from a persisted file.
func (e *Engine) LoadCalibration(path string) error {
	thresholds, err := calibration.LoadFile(path)
	if err != nil {
		return err
	}
	e.store.Replace(thresholds)
	return nil
}

// Thresholds returns a snapshot of the live calibration state.
func (e *Engine) Thresholds() calibration.Thresholds {
	return e.store.Snapshot()
}

// SetLevel switches the classifier between level 1 and level 2.
func (e *Engine) SetLevel(level int) {
	if level < 1 {
		level = 1
	} else if level > 2 {
		level = 2
	}
	e.store.Update(func(t *calibration.Thresholds) { t.Level = level })
}

func (e *Engine) withProcedure(fn func(*calibration.Procedure) error) error {
	e.procMu.Lock()
	defer e.procMu.Unlock()
	if e.proc == nil {
		return calibration.ErrNotComplete
	}
	err := fn(e.proc)
	e.progress.Publish(e.proc.Snapshot())
	return err
}

// SubscribeResults streams ClassificationResults.
func (e *Engine) SubscribeResults() (<-chan ClassificationResult, func()) {
	return e.results.Subscribe()
}

// SubscribeOnsets streams every detected onset with its features.
func (e *Engine) SubscribeOnsets() (<-chan OnsetEvent, func()) {
	return e.onsets.Subscribe()
}

// SubscribeProgress streams calibration progress snapshots.
func (e *Engine) SubscribeProgress() (<-chan calibration.Progress, func()) {
	return e.progress.Subscribe()
}

// SubscribeMetrics streams per-buffer audio metrics.
func (e *Engine) SubscribeMetrics() (<-chan AudioMetrics, func()) {
	return e.metrics.Subscribe()
}

// SubscribeTelemetry streams lifecycle events.
func (e *Engine) SubscribeTelemetry() (<-chan TelemetryEvent, func()) {
	return e.telemetry.Subscribe()
}

// ApplyPatch enqueues a parameter change. The queue is bounded; when
// it is full the patch is dropped with a warning rather than blocking
// the caller.
func (e *Engine) ApplyPatch(p ParamPatch) {
	select {
	case e.patches <- p:
	default:
		log.Warnf("engine: parameter patch queue full, patch dropped")
	}
}

func (e *Engine) drainPatches() {
	defer close(e.patchDone)
	for p := range e.patches {
		if p.BPM != nil {
			if err := e.SetBPM(*p.BPM); err != nil {
				log.Warnf("engine: patch rejected: %v", err)
			}
		}
		if p.CentroidThreshold != nil || p.ZCRThreshold != nil {
			e.store.Update(func(t *calibration.Thresholds) {
				if p.CentroidThreshold != nil {
					t.KickCentroid = *p.CentroidThreshold
				}
				if p.ZCRThreshold != nil {
					t.KickZCR = *p.ZCRThreshold
				}
			})
		}
	}
}

// Health reports the current engine status.
func (e *Engine) Health() Health {
	h := Health{
		Running:          e.running.Load(),
		Calibrated:       e.store.Snapshot().IsCalibrated,
		DroppedBuffers:   e.dropped.Load(),
		ProcessedBuffers: e.processed.Load(),
	}
	if h.Running {
		h.UptimeMs = time.Since(e.startedAt).Milliseconds()
	}
	return h
}

func (e *Engine) publishTelemetry(ev TelemetryEvent) {
	ev.TimestampMs = time.Now().UnixMilli()
	e.telemetry.Publish(ev)
}
