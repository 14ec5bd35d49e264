// SPDX-License-Identifier: MIT

// Package config loads the engine configuration from a YAML document,
// applies environment overrides, and validates the result. A watcher
// can re-read the file on change and feed parameter patches to the
// running engine.
package config

import "time"

// Config is the full application configuration.
type Config struct {
	Debug    bool   `yaml:"debug"     validate:"-"`                                      // Verbose logging and diagnostics.
	LogLevel string `yaml:"log_level" validate:"oneof=debug info warn error fatal"`      // Minimum level emitted by the logger.
	BPM      uint32 `yaml:"bpm"       validate:"required,gt=0,lte=400"`                  // Metronome tempo at startup.

	Audio       AudioConfig       `yaml:"audio"`
	Onset       OnsetConfig       `yaml:"onset_detection"`
	Calibration CalibrationConfig `yaml:"calibration"`
	Transport   TransportConfig   `yaml:"transport"`
}

// AudioConfig holds capture, pool, and metronome output settings.
type AudioConfig struct {
	BufferPoolSize  int     `yaml:"buffer_pool_size" validate:"gte=2,lte=256"`  // Frames pre-allocated in the ring pool.
	BufferSize      int     `yaml:"buffer_size"      validate:"gte=64"`         // Samples per pooled frame.
	SampleRate      uint32  `yaml:"sample_rate"      validate:"gte=8000,lte=192000"`
	ClickDurationMs int     `yaml:"click_duration_ms" validate:"gt=0,lte=500"`  // Metronome click burst length.
	DefaultGateRMS  float64 `yaml:"default_gate_rms" validate:"gt=0,lt=1"`      // Capture gate before any calibration.
	DebounceMs      uint64  `yaml:"debounce_ms"      validate:"gt=0,lte=2000"`  // Gate event spacing.
	InputDevice     int     `yaml:"input_device"`                               // Backend device index, -1 for default.
	OutputDevice    int     `yaml:"output_device"`
	FixtureFile     string  `yaml:"fixture_file,omitempty"` // WAV file replayed instead of live capture.
}

// OnsetConfig tunes the spectral flux detector.
type OnsetConfig struct {
	ThresholdOffset      float64 `yaml:"threshold_offset"       validate:"gte=0,lte=10"`
	WindowSize           int     `yaml:"window_size"            validate:"gte=64,lte=8192"`
	HopSize              int     `yaml:"hop_size"               validate:"gt=0"`
	MedianWindowHalfsize int     `yaml:"median_window_halfsize" validate:"gt=0,lte=1000"`
	MinBufferSize        int     `yaml:"min_buffer_size"        validate:"gte=64"` // Samples accumulated before detection runs.
	FeatureWindowSize    int     `yaml:"feature_window_size"    validate:"gte=128,lte=8192"`
}

// CalibrationConfig tunes the guided calibration procedure.
type CalibrationConfig struct {
	SamplesPerSound         int     `yaml:"samples_per_sound"          validate:"gt=0,lte=100"`
	NoiseFloorSamplesNeeded int     `yaml:"noise_floor_samples_needed" validate:"gt=0,lte=1000"`
	MinSampleIntervalMs     int     `yaml:"min_sample_interval_ms"     validate:"gte=0,lte=5000"`
	AdaptiveBackoffTrigger  int     `yaml:"adaptive_backoff_trigger"   validate:"gt=0,lte=50"`
	AdaptiveBackoffSteps    int     `yaml:"adaptive_backoff_steps"     validate:"gte=0,lte=10"`
	FeatureBackoffPct       float32 `yaml:"feature_backoff_pct"        validate:"gte=0,lt=1"`
	StateFile               string  `yaml:"state_file,omitempty"` // Persisted thresholds; empty disables persistence.
}

// TransportConfig holds the optional streaming surfaces.
type TransportConfig struct {
	WebSocketEnabled bool          `yaml:"websocket_enabled"`
	WebSocketAddress string        `yaml:"websocket_address" validate:"required_if=WebSocketEnabled true"`
	MaxPacketRate    float64       `yaml:"max_packet_rate"   validate:"gte=0"` // Events per second per stream, 0 for unlimited.
	UDPEnabled       bool          `yaml:"udp_enabled"`
	UDPTargetAddress string        `yaml:"udp_target_address" validate:"required_if=UDPEnabled true"`
	UDPSendInterval  time.Duration `yaml:"udp_send_interval"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Debug:    false,
		LogLevel: "info",
		BPM:      120,
		Audio: AudioConfig{
			BufferPoolSize:  16,
			BufferSize:      2048,
			SampleRate:      48000,
			ClickDurationMs: 20,
			DefaultGateRMS:  0.02,
			DebounceMs:      100,
			InputDevice:     -1,
			OutputDevice:    -1,
		},
		Onset: OnsetConfig{
			ThresholdOffset:      0.15,
			WindowSize:           256,
			HopSize:              64,
			MedianWindowHalfsize: 50,
			MinBufferSize:        512,
			FeatureWindowSize:    1024,
		},
		Calibration: CalibrationConfig{
			SamplesPerSound:         10,
			NoiseFloorSamplesNeeded: 30,
			MinSampleIntervalMs:     250,
			AdaptiveBackoffTrigger:  3,
			AdaptiveBackoffSteps:    3,
			FeatureBackoffPct:       0.12,
		},
		Transport: TransportConfig{
			WebSocketEnabled: false,
			WebSocketAddress: "127.0.0.1:8080",
			MaxPacketRate:    60,
			UDPEnabled:       false,
			UDPTargetAddress: "127.0.0.1:9090",
			UDPSendInterval:  33 * time.Millisecond,
		},
	}
}
