package protocol

import (
	"errors"
	"fmt"
)

// Code classifies protocol errors so callers can react to the category
// without parsing messages.
type Code string

const (
	// CodeStructural covers invalid sequence construction: duplicate tags,
	// self/forward loops, loops landing on an empty body.
	CodeStructural Code = "STRUCTURAL"
	// CodeMissingTag means a loop references a tag that does not exist.
	CodeMissingTag Code = "MISSING_TAG"
	// CodeMissingCapacity means a C-rate step is used without a sample capacity.
	CodeMissingCapacity Code = "MISSING_CAPACITY"
	// CodeIntersectingLoops means two loop intervals partially overlap.
	CodeIntersectingLoops Code = "INTERSECTING_LOOPS"
	// CodeRunawayExpansion means unrolling exceeded the iteration ceiling.
	CodeRunawayExpansion Code = "RUNAWAY_EXPANSION"
	// CodeUnsupportedStep means a consumer has no rendering for a step variant.
	CodeUnsupportedStep Code = "UNSUPPORTED_STEP"
)

// Error is a categorised protocol error. All failures produced by this
// module are input errors: they describe a malformed protocol definition
// and are never worth retrying.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Errorf builds an Error with a formatted message.
func Errorf(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// CodeOf returns the Code carried by err, or "" if err is not a protocol Error.
func CodeOf(err error) Code {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

// IsCode reports whether err carries the given Code.
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}
