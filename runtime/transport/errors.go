package transport

import (
	"errors"
	"fmt"
	"time"
)

type (
	// Error reports a recoverable connection failure: a refused connection,
	// a non-2xx response, an unexpected content type, a broken stream or an
	// idle timeout. The session reconnects after each Error.
	Error struct {
		// Op is the phase that failed: "connect" or "read".
		Op string
		// StatusCode is the HTTP status for non-2xx responses.
		StatusCode int
		// Timeout reports an idle timeout.
		Timeout bool
		// Err is the underlying cause.
		Err error
	}

	// ExhaustedError is returned by Run when MaxAttempts consecutive
	// connection attempts failed.
	ExhaustedError struct {
		// Attempts is the number of consecutive failed attempts.
		Attempts int
		// TotalDuration is the time spent since the first failure.
		TotalDuration time.Duration
		// LastError is the error of the last attempt.
		LastError error
	}
)

var (
	// ErrStop may be returned by a frame handler to end Run without error.
	ErrStop = errors.New("transport: stop")

	// ErrClosed is returned by Run when the session was closed.
	ErrClosed = errors.New("transport: session closed")

	// ErrRunning is returned by Run when another Run is in progress.
	ErrRunning = errors.New("transport: session already running")

	errIdleTimeout        = errors.New("idle timeout")
	errStreamClosed       = errors.New("stream closed by server")
	errReconnectRequested = errors.New("reconnect requested")
	errNoContent          = errors.New("server ended stream with 204 No Content")
)

// Error implements error.
func (e *Error) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("transport %s: HTTP %d: %v", e.Op, e.StatusCode, e.Err)
	case e.Timeout:
		return fmt.Sprintf("transport %s: %v", e.Op, errIdleTimeout)
	}
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Error implements error.
func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("reconnect exhausted after %d attempts over %v: %v", e.Attempts, e.TotalDuration, e.LastError)
}

// Unwrap returns the underlying error.
func (e *ExhaustedError) Unwrap() error {
	return e.LastError
}

// IsTimeout reports whether err is an idle timeout.
func IsTimeout(err error) bool {
	var te *Error
	return errors.As(err, &te) && te.Timeout
}

// handlerError marks errors returned by the frame handler so Run can tell
// them apart from connection failures.
type handlerError struct{ err error }

func (h handlerError) Error() string { return h.err.Error() }
func (h handlerError) Unwrap() error { return h.err }
