package store

import (
	"context"
	"errors"
	"fmt"
)

type (
	// RunCancelledError is returned by Wait when the run was cancelled by
	// the caller, either through Cancel or by cancelling the context given
	// to Start.
	RunCancelledError struct {
		RunID string
		// Cause is context.Canceled unless the Start context carried a
		// different cause.
		Cause error
	}

	// RunFailedError is the terminal error of a run that ended with a
	// RUN_ERROR event.
	RunFailedError struct {
		Message string
		Code    string
	}
)

var (
	// ErrAlreadyStarted is returned by Start and Replay on a store that
	// already ran.
	ErrAlreadyStarted = errors.New("store: run already started")

	// ErrNotRunning is returned by operations that need an active run.
	ErrNotRunning = errors.New("store: run not running")

	// ErrStreamEnded is the terminal error of a run whose event stream was
	// ended by the server before a RUN_FINISHED or RUN_ERROR event.
	ErrStreamEnded = errors.New("store: event stream ended before the run finished")
)

// Error implements error.
func (e *RunCancelledError) Error() string {
	if e.RunID == "" {
		return "run cancelled"
	}
	return fmt.Sprintf("run %s cancelled", e.RunID)
}

// Unwrap returns the cancellation cause.
func (e *RunCancelledError) Unwrap() error {
	if e.Cause == nil {
		return context.Canceled
	}
	return e.Cause
}

// Error implements error.
func (e *RunFailedError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("run failed [%s]: %s", e.Code, e.Message)
	}
	return "run failed: " + e.Message
}
