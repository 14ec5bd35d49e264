// SPDX-License-Identifier: MIT

// Package classify turns onset feature vectors into beatbox labels
// using a rule tree over calibrated thresholds. Level 1 distinguishes
// kick, snare, and hi-hat; level 2 refines the kick and hi-hat leaves
// into sub-categories.
package classify

import (
	"beatbox/internal/calibration"
	"beatbox/internal/dsp"
)

// Label is a classified beatbox sound.
type Label string

const (
	LabelKick        Label = "Kick"
	LabelSnare       Label = "Snare"
	LabelHiHat       Label = "HiHat"
	LabelClosedHiHat Label = "ClosedHiHat"
	LabelOpenHiHat   Label = "OpenHiHat"
	LabelKSnare      Label = "KSnare"
	LabelUnknown     Label = "Unknown"
)

// Level 2 refinement boundaries.
const (
	kSnareFlatness   = 0.3
	closedHatDecayMs = 50
	openHatDecayMs   = 150
)

// Multipliers applied to the winning score at level 2, depending on
// whether a refinement rule matched.
const (
	refinedBoost  = 1.5
	unrefinedDamp = 0.5
)

// Classifier reads thresholds from the calibration store per call, so
// a finished calibration takes effect on the next onset.
type Classifier struct {
	store *calibration.Store
}

func New(store *calibration.Store) *Classifier {
	return &Classifier{store: store}
}

// Classify applies the rule tree at the calibrated level and returns
// the label with a confidence in [0, 1].
func (c *Classifier) Classify(f dsp.Features) (Label, float32) {
	t := c.store.Snapshot()
	if t.Level >= 2 {
		return classifyLevel2(f, t)
	}
	return classifyLevel1(f, t)
}

// classifyLevel1 walks the base decision tree:
// low centroid and low zcr is a kick, mid centroid a snare, high
// centroid with high zcr a hi-hat, anything else unknown.
func classifyLevel1(f dsp.Features, t calibration.Thresholds) (Label, float32) {
	label := baseLabel(f, t)
	if label == LabelUnknown {
		return label, 0
	}
	return label, confidence(f, t, label, 1)
}

// classifyLevel2 refines the kick and hi-hat leaves. The snare leaf
// is unchanged.
func classifyLevel2(f dsp.Features, t calibration.Thresholds) (Label, float32) {
	base := baseLabel(f, t)
	refined := base
	switch base {
	case LabelKick:
		if f.Flatness > kSnareFlatness {
			refined = LabelKSnare
		}
	case LabelHiHat:
		if f.DecayMs < closedHatDecayMs {
			refined = LabelClosedHiHat
		} else if f.DecayMs > openHatDecayMs {
			refined = LabelOpenHiHat
		}
	case LabelUnknown:
		return LabelUnknown, 0
	}

	multiplier := float32(unrefinedDamp)
	if refined != base {
		multiplier = refinedBoost
	}
	return refined, confidence(f, t, base, multiplier)
}

func baseLabel(f dsp.Features, t calibration.Thresholds) Label {
	switch {
	case f.CentroidHz < t.KickCentroid && f.ZCR < t.KickZCR:
		return LabelKick
	case f.CentroidHz < t.SnareCentroid:
		return LabelSnare
	case f.ZCR > t.HihatZCR:
		return LabelHiHat
	default:
		return LabelUnknown
	}
}

// confidence is the winning class's heuristic score over the sum of
// all class scores, scaled by the level-2 multiplier and clamped to
// [0, 1]. Scores never affect the label itself.
func confidence(f dsp.Features, t calibration.Thresholds, base Label, multiplier float32) float32 {
	kick := kickScore(f, t)
	snare := snareScore(f, t)
	hihat := hihatScore(f, t)

	var best float32
	switch base {
	case LabelKick:
		best = kick * multiplier
		kick = best
	case LabelSnare:
		best = snare * multiplier
		snare = best
	case LabelHiHat:
		best = hihat * multiplier
		hihat = best
	}

	total := kick + snare + hihat
	if total <= 0 {
		return 0
	}
	return clamp01(best / total)
}

// kickScore rewards a centroid and zcr well below the kick
// thresholds, each factor capped at 2.
func kickScore(f dsp.Features, t calibration.Thresholds) float32 {
	c := clamp(2-f.CentroidHz/t.KickCentroid, 0, 2)
	z := clamp(2-f.ZCR/t.KickZCR, 0, 2)
	return c * z
}

// snareScore peaks when the centroid sits midway between the kick and
// snare boundaries.
func snareScore(f dsp.Features, t calibration.Thresholds) float32 {
	ideal := (t.KickCentroid + t.SnareCentroid) / 2
	d := f.CentroidHz - ideal
	if d < 0 {
		d = -d
	}
	return max(0, 1-d/t.SnareCentroid)
}

// hihatScore grows with centroid and zcr above the hi-hat
// boundaries, each term capped at 2.
func hihatScore(f dsp.Features, t calibration.Thresholds) float32 {
	c := min(f.CentroidHz/t.SnareCentroid, 2)
	z := min(f.ZCR/t.HihatZCR, 2)
	return (c + z) / 2
}

func clamp(v, lo, hi float32) float32 {
	return min(max(v, lo), hi)
}

func clamp01(v float32) float32 {
	return clamp(v, 0, 1)
}
