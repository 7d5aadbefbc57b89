package backoff

import (
	"sync"
	"time"
)

// Legacy is a stateful wrapper that tracks the attempt counter on behalf of
// the caller.
//
// Deprecated: track the attempt count at the call site and use Strategy
// directly. Legacy exists for hosts written against the older Next/Reset API.
type Legacy struct {
	strategy Strategy

	mu      sync.Mutex
	attempt int
}

// NewLegacy wraps s. A nil strategy uses DefaultExponential.
//
// Deprecated: use Strategy directly.
func NewLegacy(s Strategy) *Legacy {
	if s == nil {
		s = DefaultExponential()
	}
	return &Legacy{strategy: s}
}

// Next records a failure and returns the delay to wait before retrying.
func (l *Legacy) Next() time.Duration {
	l.mu.Lock()
	l.attempt++
	attempt := l.attempt
	l.mu.Unlock()
	return l.strategy.NextDelay(attempt)
}

// Reset clears the failure count after a successful connection.
func (l *Legacy) Reset() {
	l.mu.Lock()
	l.attempt = 0
	l.mu.Unlock()
}

// Attempt returns the number of failures recorded since the last Reset.
func (l *Legacy) Attempt() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.attempt
}
