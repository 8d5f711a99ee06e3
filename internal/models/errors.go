package models

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across the engine.
var (
	ErrAlreadyRunning      = errors.New("a task is already running")
	ErrNoActiveTask        = errors.New("no active task")
	ErrHardwareBusy        = errors.New("hardware busy")
	ErrHardwareTimeout     = errors.New("hardware acquisition timed out")
	ErrNotRunning          = errors.New("task is not running")
	ErrTransmitNotAllowed  = errors.New("transmit not allowed in this mode")
	ErrTaskNotFound        = errors.New("task not found")
	ErrUnsupportedProvider = errors.New("operation not supported by provider")
)

// DeviceError reports a hardware I/O failure.
type DeviceError struct {
	Kind LeaseKind
	Err  error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("device error on %s: %v", e.Kind, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }

// ProviderError reports an AI provider call that failed after retry.
type ProviderError struct {
	Kind    string
	Message string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s provider error: %s", e.Kind, e.Message)
}

// TooSoonError rejects a transmit that would violate the transmit interval.
type TooSoonError struct {
	RetryAfterMs int64
}

func (e *TooSoonError) Error() string {
	return fmt.Sprintf("transmit too soon, retry after %dms", e.RetryAfterMs)
}

// StageFailedError aborts the current pipeline run.
type StageFailedError struct {
	Stage  StageKind
	Reason string
	Err    error
}

func (e *StageFailedError) Error() string {
	return fmt.Sprintf("stage %s failed: %s", e.Stage, e.Reason)
}

func (e *StageFailedError) Unwrap() error { return e.Err }

// FatalError forces the owning task to stop.
type FatalError struct {
	Reason string
	Err    error
}

func (e *FatalError) Error() string {
	return "fatal: " + e.Reason
}

func (e *FatalError) Unwrap() error { return e.Err }

// IsFatal reports whether err must stop the task.
func IsFatal(err error) bool {
	var fe *FatalError
	var de *DeviceError
	return errors.As(err, &fe) || errors.As(err, &de)
}
