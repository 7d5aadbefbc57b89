// Package backoff provides the delay strategies used between stream
// reconnection attempts.
//
// A Strategy is a stateless function from a 1-based count of consecutive
// failures to the delay to wait before the next attempt. Callers own the
// counter; the transport resets it whenever a frame arrives.
package backoff

import (
	"math"
	"math/rand/v2"
	"time"
)

type (
	// Strategy computes the delay before reconnection attempt number attempt.
	// attempt counts consecutive failures and starts at 1.
	Strategy interface {
		NextDelay(attempt int) time.Duration
	}

	// Exponential grows the delay geometrically from Initial up to Max and
	// applies symmetric jitter.
	Exponential struct {
		// Initial is the delay before the first reconnection attempt.
		Initial time.Duration
		// Max caps the delay before jitter is applied.
		Max time.Duration
		// Multiplier is the factor by which the delay grows per attempt.
		// Values below 1 are treated as 1.
		Multiplier float64
		// Jitter is the fraction of the delay randomly added or removed.
		// A value of 0.1 yields delays within ±10%.
		Jitter float64
		// Rand returns a value in [0, 1). Defaults to math/rand/v2.
		Rand func() float64
	}

	// Constant waits the same delay before every attempt.
	Constant time.Duration

	// StrategyFunc adapts a function to the Strategy interface.
	StrategyFunc func(attempt int) time.Duration
)

// DefaultExponential returns the strategy used for stream reconnection when
// none is configured: 500ms growing by 2x up to 30s with 10% jitter.
func DefaultExponential() *Exponential {
	return &Exponential{
		Initial:    500 * time.Millisecond,
		Max:        30 * time.Second,
		Multiplier: 2.0,
		Jitter:     0.1,
	}
}

// NextDelay implements Strategy.
func (e *Exponential) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	mult := e.Multiplier
	if mult < 1 {
		mult = 1
	}
	delay := float64(e.Initial) * math.Pow(mult, float64(attempt-1))
	if e.Max > 0 && delay > float64(e.Max) {
		delay = float64(e.Max)
	}
	if math.IsInf(delay, 0) || math.IsNaN(delay) {
		delay = float64(e.Max)
	}
	if e.Jitter > 0 {
		rnd := e.Rand
		if rnd == nil {
			rnd = rand.Float64 //nolint:gosec // jitter doesn't need crypto rand
		}
		delay += delay * e.Jitter * (rnd()*2 - 1)
	}
	if delay < 0 {
		return 0
	}
	return time.Duration(delay)
}

// NextDelay implements Strategy.
func (c Constant) NextDelay(int) time.Duration {
	return time.Duration(c)
}

// NextDelay implements Strategy.
func (f StrategyFunc) NextDelay(attempt int) time.Duration {
	return f(attempt)
}
