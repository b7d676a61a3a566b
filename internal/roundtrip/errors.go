package roundtrip

import (
	"fmt"
	"time"
)

// ModalTimeoutError is returned when a modal did not become visible in time
type ModalTimeoutError struct {
	Modal     string
	Timeout   time.Duration
	LastState string
	Err       error
}

func (e *ModalTimeoutError) Error() string {
	return fmt.Sprintf("modal %q not visible within %s (last state: %s): %v", e.Modal, e.Timeout, e.LastState, e.Err)
}

func (e *ModalTimeoutError) Unwrap() error { return e.Err }

// SaveTimeoutError is returned when saving did not close the modal in time
type SaveTimeoutError struct {
	Modal     string
	Timeout   time.Duration
	LastState string
	Err       error
}

func (e *SaveTimeoutError) Error() string {
	return fmt.Sprintf("modal %q still open %s after save (last state: %s): %v", e.Modal, e.Timeout, e.LastState, e.Err)
}

func (e *SaveTimeoutError) Unwrap() error { return e.Err }

// AssertionError reports reloaded editor content that lacks the saved text
type AssertionError struct {
	Expected string
	Actual   string
}

func (e *AssertionError) Error() string {
	return fmt.Sprintf("editor content mismatch after reload: expected to contain %q, got %q", e.Expected, e.Actual)
}

// ClearError reports a buffer that still held content after every clearing pass
type ClearError struct {
	Attempts int
	Residual string
}

func (e *ClearError) Error() string {
	return fmt.Sprintf("editor not empty after %d clearing passes: %q", e.Attempts, e.Residual)
}

// StateError reports a step attempted from the wrong modal state
type StateError struct {
	Step string
	Want ModalState
	Got  ModalState
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s requires modal %s, but it is %s", e.Step, e.Want, e.Got)
}
