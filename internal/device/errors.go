// SPDX-License-Identifier: MIT
package device

import (
	"errors"
	"fmt"
)

// Failure kinds reported by providers and by session teardown.
var (
	ErrPermissionDenied      = errors.New("microphone permission denied")
	ErrDeviceUnavailable     = errors.New("capture device unavailable")
	ErrContextCreationFailed = errors.New("processing context creation failed")
	ErrTeardownInconsistency = errors.New("teardown inconsistency")
)

var kinds = []error{
	ErrPermissionDenied,
	ErrDeviceUnavailable,
	ErrContextCreationFailed,
	ErrTeardownInconsistency,
}

// CaptureError pairs a failure kind with the backend error that caused it.
// errors.Is matches both the kind and anything in the cause chain.
type CaptureError struct {
	Kind  error
	Op    string
	Cause error
}

func (e *CaptureError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Cause)
}

func (e *CaptureError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Cause}
}

// Classify returns err unchanged if it already carries a failure kind,
// otherwise wraps it as kind. A nil err yields nil.
func Classify(kind error, op string, err error) error {
	if err == nil {
		return nil
	}
	if KindOf(err) != nil {
		return err
	}
	return &CaptureError{Kind: kind, Op: op, Cause: err}
}

// KindOf returns the failure kind carried by err, or nil.
func KindOf(err error) error {
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}
