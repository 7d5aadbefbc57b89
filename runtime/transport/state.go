package transport

import "time"

type (
	// ConnState is the connection state of a Session.
	ConnState string

	// StateChange describes a connection state transition.
	StateChange struct {
		State ConnState
		// Attempt is the number of consecutive failed attempts so far.
		Attempt int
		// Delay is the wait before the next attempt when reconnecting.
		Delay time.Duration
		// LastEventID is the resume id in effect.
		LastEventID string
		// Err is the failure that caused a reconnect.
		Err error
	}
)

const (
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
	StateReconnecting ConnState = "reconnecting"
	StateClosed       ConnState = "closed"
)
