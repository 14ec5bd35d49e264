// SPDX-License-Identifier: MIT
package calibration

import "fmt"

// Sound identifies one phase of the calibration sequence.
type Sound uint8

const (
	NoiseFloor Sound = iota
	Kick
	Snare
	HiHat
)

func (s Sound) String() string {
	switch s {
	case NoiseFloor:
		return "NoiseFloor"
	case Kick:
		return "Kick"
	case Snare:
		return "Snare"
	case HiHat:
		return "HiHat"
	default:
		return fmt.Sprintf("Sound(%d)", uint8(s))
	}
}

func (s Sound) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// Next returns the following phase, or false after HiHat.
func (s Sound) Next() (Sound, bool) {
	switch s {
	case NoiseFloor:
		return Kick, true
	case Kick:
		return Snare, true
	case Snare:
		return HiHat, true
	default:
		return s, false
	}
}

// IsSoundPhase reports whether this phase collects feature samples
// rather than ambient RMS.
func (s Sound) IsSoundPhase() bool { return s != NoiseFloor }

// GuidanceReason explains why the procedure is nudging the user.
type GuidanceReason string

const (
	// GuidanceStagnation: sustained audio but nothing passes the gates.
	GuidanceStagnation GuidanceReason = "stagnation"
	// GuidanceTooQuiet: the level never reaches the RMS gate.
	GuidanceTooQuiet GuidanceReason = "too_quiet"
	// GuidanceClipped: the input is at or near full scale.
	GuidanceClipped GuidanceReason = "clipped"
)

// Guidance is a hint attached to progress updates when sample
// collection stalls.
type Guidance struct {
	Sound  Sound          `json:"sound"`
	Reason GuidanceReason `json:"reason"`
	Level  float64        `json:"level"`
	Misses int            `json:"misses"`
}

// Progress is a snapshot of the procedure, broadcast to subscribers
// after every mutation.
type Progress struct {
	Phase                  Sound     `json:"phase"`
	Collected              int       `json:"collected"`
	Needed                 int       `json:"needed"`
	WaitingForConfirmation bool      `json:"waiting_for_confirmation"`
	ManualAcceptAvailable  bool      `json:"manual_accept_available"`
	Complete               bool      `json:"complete"`
	Guidance               *Guidance `json:"guidance,omitempty"`
}
