package store

// Status is the observable lifecycle status of a run. A run leaves idle
// once, and reaches exactly one of the terminal statuses at most once.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusConnecting Status = "connecting"
	StatusRunning    Status = "running"
	StatusFinished   Status = "finished"
	StatusError      Status = "error"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether s is final.
func (s Status) Terminal() bool {
	return s == StatusFinished || s == StatusError || s == StatusCancelled
}

// Active reports whether events are being processed.
func (s Status) Active() bool {
	return s == StatusConnecting || s == StatusRunning
}
