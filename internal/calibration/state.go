// SPDX-License-Identifier: MIT

/*
Package calibration owns the per-user classification thresholds and
the guided procedure that measures them: a noise-floor phase followed
by kick, snare, and hi-hat sample collection, each gated adaptively
and advanced only on explicit user confirmation.
*/
package calibration

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"beatbox/internal/dsp"
)

// Feature validity bounds for collected samples.
const (
	MinCentroidHz = 50.0
	MaxCentroidHz = 20000.0
)

// thresholdMargin widens the measured feature means so typical hits
// land inside the learned boundary.
const thresholdMargin = 1.2

// Thresholds is the flat persisted record the classifier reads.
type Thresholds struct {
	Level         int     `json:"level"`
	KickCentroid  float32 `json:"t_kick_centroid"`
	KickZCR       float32 `json:"t_kick_zcr"`
	SnareCentroid float32 `json:"t_snare_centroid"`
	HihatZCR      float32 `json:"t_hihat_zcr"`
	NoiseFloorRMS float64 `json:"noise_floor_rms"`
	IsCalibrated  bool    `json:"is_calibrated"`
}

// DefaultThresholds returns the uncalibrated starting point.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Level:         1,
		KickCentroid:  1500,
		KickZCR:       0.1,
		SnareCentroid: 4000,
		HihatZCR:      0.3,
		NoiseFloorRMS: 0.01,
		IsCalibrated:  false,
	}
}

// FromSamples derives thresholds from full per-sound accumulators.
// Each threshold is the feature mean scaled by a 20% margin. Every
// sample must carry a centroid in [50, 20000] Hz and a zcr in [0, 1].
func FromSamples(kick, snare, hihat []dsp.Features) (Thresholds, error) {
	for _, group := range []struct {
		name    string
		samples []dsp.Features
	}{
		{"kick", kick},
		{"snare", snare},
		{"hihat", hihat},
	} {
		if len(group.samples) == 0 {
			return Thresholds{}, errInsufficientSamples(1, 0)
		}
		for _, f := range group.samples {
			if err := ValidateFeatures(f); err != nil {
				return Thresholds{}, errInvalidFeatures("%s sample invalid: %s", group.name, err.Message)
			}
		}
	}

	t := DefaultThresholds()
	t.KickCentroid = meanOf(kick, func(f dsp.Features) float32 { return f.CentroidHz }) * thresholdMargin
	t.KickZCR = meanOf(kick, func(f dsp.Features) float32 { return f.ZCR }) * thresholdMargin
	t.SnareCentroid = meanOf(snare, func(f dsp.Features) float32 { return f.CentroidHz }) * thresholdMargin
	t.HihatZCR = meanOf(hihat, func(f dsp.Features) float32 { return f.ZCR }) * thresholdMargin
	t.IsCalibrated = true
	return t, nil
}

// ValidateFeatures applies the basic range checks every collected
// sample must satisfy.
func ValidateFeatures(f dsp.Features) *Error {
	if f.CentroidHz < MinCentroidHz || f.CentroidHz > MaxCentroidHz {
		return errInvalidFeatures("centroid %.1f Hz outside [%.0f, %.0f]",
			f.CentroidHz, MinCentroidHz, MaxCentroidHz)
	}
	if f.ZCR < 0 || f.ZCR > 1 {
		return errInvalidFeatures("zcr %.3f outside [0, 1]", f.ZCR)
	}
	return nil
}

func meanOf(samples []dsp.Features, field func(dsp.Features) float32) float32 {
	var sum float64
	for _, f := range samples {
		sum += float64(field(f))
	}
	return float32(sum / float64(len(samples)))
}

// Store guards the live thresholds. The analysis worker reads a
// snapshot per classification; the orchestrator replaces the record
// on finalize or bulk load.
type Store struct {
	mu sync.RWMutex
	t  Thresholds
}

func NewStore(t Thresholds) *Store {
	return &Store{t: t}
}

// Snapshot returns a copy of the current thresholds.
func (s *Store) Snapshot() Thresholds {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.t
}

// Replace swaps the whole record.
func (s *Store) Replace(t Thresholds) {
	s.mu.Lock()
	s.t = t
	s.mu.Unlock()
}

// Update applies fn under the write lock, for partial patches.
func (s *Store) Update(fn func(*Thresholds)) {
	s.mu.Lock()
	fn(&s.t)
	s.mu.Unlock()
}

// LoadFile reads a persisted threshold record. Fields absent from
// older files keep their compatibility defaults: level 1 and a noise
// floor of 0.01.
func LoadFile(path string) (Thresholds, error) {
	t := DefaultThresholds()

	data, err := os.ReadFile(path)
	if err != nil {
		return Thresholds{}, err
	}
	if err := json.Unmarshal(data, &t); err != nil {
		return Thresholds{}, err
	}
	if t.Level < 1 {
		t.Level = 1
	}
	if t.NoiseFloorRMS <= 0 {
		t.NoiseFloorRMS = 0.01
	}
	return t, nil
}

// SaveFile writes the record atomically via a temporary file in the
// target directory.
func (t Thresholds) SaveFile(path string) error {
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".calibration-*.json")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
