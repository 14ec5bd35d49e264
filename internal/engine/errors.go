// SPDX-License-Identifier: MIT
package engine

import "fmt"

// Stable audio error codes in the 1001-1010 range, shared with
// external bindings.
const (
	CodeBpmInvalid       = 1001
	CodeAlreadyRunning   = 1002
	CodeNotRunning       = 1003
	CodeHardwareError    = 1004
	CodePermissionDenied = 1005
	CodeStreamOpenFailed = 1006
	CodeLockPoisoned     = 1007
	CodeStreamFailure    = 1010
)

// Error is an audio engine failure with a stable numeric code.
type Error struct {
	Code    int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("audio: %s (code %d)", e.Message, e.Code)
}

// Is matches errors by code so callers can compare against the
// exported sentinels with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var (
	ErrAlreadyRunning   = &Error{CodeAlreadyRunning, "engine already running"}
	ErrNotRunning       = &Error{CodeNotRunning, "engine not running"}
	ErrPermissionDenied = &Error{CodePermissionDenied, "microphone permission denied"}
)

func errBpmInvalid(bpm uint32) *Error {
	return &Error{CodeBpmInvalid, fmt.Sprintf("invalid BPM %d, must be > 0", bpm)}
}

func errHardware(details string) *Error {
	return &Error{CodeHardwareError, fmt.Sprintf("hardware error: %s", details)}
}

func errStreamOpenFailed(reason error) *Error {
	return &Error{CodeStreamOpenFailed, fmt.Sprintf("failed to open audio stream: %v", reason)}
}

func errStreamFailure(reason string) *Error {
	return &Error{CodeStreamFailure, fmt.Sprintf("audio stream failed: %s", reason)}
}
