package orchestrator

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyRunning rejects a cycle requested while another runs.
	ErrAlreadyRunning = errors.New("already running")
	// ErrAlertNotFound is returned by lifecycle operations on unknown IDs.
	ErrAlertNotFound = errors.New("alert not found")
)

// DispatchError wraps a failed notification or persistence call.
type DispatchError struct {
	Sink    string
	AlertID string
	Err     error
}

func (e *DispatchError) Error() string {
	if e.AlertID == "" {
		return fmt.Sprintf("dispatch to %s: %v", e.Sink, e.Err)
	}
	return fmt.Sprintf("dispatch alert %s to %s: %v", e.AlertID, e.Sink, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

// OrchestrationError is an unexpected failure inside the cycle driver.
type OrchestrationError struct {
	Stage string
	Err   error
}

func (e *OrchestrationError) Error() string {
	return fmt.Sprintf("cycle %s: %v", e.Stage, e.Err)
}

func (e *OrchestrationError) Unwrap() error {
	return e.Err
}
