// SPDX-License-Identifier: MIT
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"beatbox/pkg/bitint"
)

var validate = validator.New()

// Load reads configuration from the YAML file at path. An empty path
// searches the default locations; if no file exists, built-in
// defaults apply. Environment overrides are applied after the file
// and the result is validated.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		for _, candidate := range []string{"beatbox.yaml", "config.yaml"} {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks field constraints plus the cross-field rules the
// struct tags cannot express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.Onset.WindowSize%c.Onset.HopSize != 0 {
		return fmt.Errorf("onset_detection: hop_size %d must divide window_size %d",
			c.Onset.HopSize, c.Onset.WindowSize)
	}
	if !bitint.IsPowerOfTwo(c.Onset.WindowSize) {
		return fmt.Errorf("onset_detection: window_size %d must be a power of 2", c.Onset.WindowSize)
	}
	if !bitint.IsPowerOfTwo(c.Onset.FeatureWindowSize) {
		return fmt.Errorf("onset_detection: feature_window_size %d must be a power of 2",
			c.Onset.FeatureWindowSize)
	}
	if !bitint.IsPowerOfTwo(c.Audio.BufferSize) {
		return fmt.Errorf("audio: buffer_size %d must be a power of 2", c.Audio.BufferSize)
	}
	return nil
}

// applyEnvOverrides lets deployment environments tweak the config
// without editing the file. Invalid values are ignored.
func (c *Config) applyEnvOverrides() {
	if val, ok := os.LookupEnv("BEATBOX_DEBUG"); ok {
		if b, err := strconv.ParseBool(val); err == nil {
			c.Debug = b
		}
	}
	if val, ok := os.LookupEnv("BEATBOX_LOG_LEVEL"); ok {
		c.LogLevel = val
	}
	if val, ok := os.LookupEnv("BEATBOX_BPM"); ok {
		if bpm, err := strconv.ParseUint(val, 10, 32); err == nil && bpm > 0 {
			c.BPM = uint32(bpm)
		}
	}
	if val, ok := os.LookupEnv("BEATBOX_SAMPLE_RATE"); ok {
		if sr, err := strconv.ParseUint(val, 10, 32); err == nil && sr > 0 {
			c.Audio.SampleRate = uint32(sr)
		}
	}
	if val, ok := os.LookupEnv("BEATBOX_WS_ADDRESS"); ok {
		c.Transport.WebSocketEnabled = true
		c.Transport.WebSocketAddress = val
	}
	if val, ok := os.LookupEnv("BEATBOX_STATE_FILE"); ok {
		c.Calibration.StateFile = val
	}
}
