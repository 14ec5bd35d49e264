// SPDX-License-Identifier: MIT
package engine

import (
	"beatbox/internal/classify"
	"beatbox/internal/dsp"
)

// ClassificationResult is emitted for every onset while the engine is
// in normal (non-calibration) operation.
type ClassificationResult struct {
	Label       classify.Label  `json:"label"`
	Timing      dsp.TimingClass `json:"timing_classification"`
	ErrorMs     float32         `json:"error_ms"`
	TimestampMs float64         `json:"timestamp_ms"`
	Confidence  float32         `json:"confidence"`
}

// OnsetEvent carries every detected onset with its feature vector,
// regardless of mode.
type OnsetEvent struct {
	Timestamp   uint64       `json:"timestamp"` // absolute sample index
	TimestampMs float64      `json:"timestamp_ms"`
	Energy      float64      `json:"energy"` // RMS of the owning buffer
	Features    dsp.Features `json:"features"`
}

// AudioMetrics summarises one consumed buffer.
type AudioMetrics struct {
	RMS         float64 `json:"rms"`
	Centroid    float32 `json:"centroid"` // from the most recent onset, 0 otherwise
	Flux        float64 `json:"flux"`     // most recent spectral flux value
	FrameNumber uint64  `json:"frame_number"`
	TimestampMs float64 `json:"timestamp_ms"`
}

// TelemetryKind labels engine lifecycle events.
type TelemetryKind string

const (
	TelemetryEngineStarted TelemetryKind = "engine_started"
	TelemetryEngineStopped TelemetryKind = "engine_stopped"
	TelemetryBpmChanged    TelemetryKind = "bpm_changed"
	TelemetryWarning       TelemetryKind = "warning"
)

// TelemetryEvent reports lifecycle transitions and warnings.
type TelemetryEvent struct {
	Kind        TelemetryKind `json:"kind"`
	TimestampMs int64         `json:"timestamp_ms"` // wall clock, unix ms
	BPM         uint32        `json:"bpm,omitempty"`
	Message     string        `json:"message,omitempty"`
}

// Health is a point-in-time status snapshot.
type Health struct {
	Running          bool   `json:"running"`
	UptimeMs         int64  `json:"uptime_ms"`
	Calibrated       bool   `json:"calibrated"`
	DroppedBuffers   uint64 `json:"dropped_buffers"`
	ProcessedBuffers uint64 `json:"processed_buffers"`
}

// ParamPatch is a non-blocking parameter change request. Nil fields
// are left untouched.
type ParamPatch struct {
	BPM               *uint32  `json:"bpm,omitempty"`
	CentroidThreshold *float32 `json:"centroid_threshold,omitempty"`
	ZCRThreshold      *float32 `json:"zcr_threshold,omitempty"`
}
