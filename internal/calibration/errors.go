// SPDX-License-Identifier: MIT
package calibration

import "fmt"

// Stable error codes in the 2001-2006 range, shared with external
// bindings.
const (
	CodeInsufficientSamples = 2001
	CodeInvalidFeatures     = 2002
	CodeNotComplete         = 2003
	CodeAlreadyInProgress   = 2004
	CodeStatePoisoned       = 2005
	CodeTimeout             = 2006
)

// Error is a calibration failure with a stable numeric code.
type Error struct {
	Code    int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("calibration: %s (code %d)", e.Message, e.Code)
}

// Is matches errors by code so callers can compare against the
// exported sentinels with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var (
	ErrNotComplete       = &Error{CodeNotComplete, "calibration not complete"}
	ErrAlreadyInProgress = &Error{CodeAlreadyInProgress, "calibration already in progress"}
	ErrStatePoisoned     = &Error{CodeStatePoisoned, "calibration state unavailable"}
)

func errInsufficientSamples(required, collected int) *Error {
	return &Error{
		Code:    CodeInsufficientSamples,
		Message: fmt.Sprintf("insufficient samples: need %d, got %d", required, collected),
	}
}

func errInvalidFeatures(format string, args ...any) *Error {
	return &Error{
		Code:    CodeInvalidFeatures,
		Message: fmt.Sprintf(format, args...),
	}
}

func errTimeout(reason string) *Error {
	return &Error{
		Code:    CodeTimeout,
		Message: fmt.Sprintf("timed out: %s", reason),
	}
}
