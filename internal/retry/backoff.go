package retry

import (
	"math"
	"time"
)

// Backoff computes the wait before the attempt following the given (1-based) attempt.
type Backoff interface {
	Delay(attempt int) time.Duration
}

// Exponential doubles the delay per attempt, clamped to [Min, Max].
type Exponential struct {
	Min time.Duration
	Max time.Duration
}

// Delay returns Min*2^(attempt-1) clamped to [Min, Max].
func (e Exponential) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(e.Min) * math.Pow(2, float64(attempt-1))
	if e.Max > 0 && d > float64(e.Max) {
		return e.Max
	}
	if d < float64(e.Min) {
		return e.Min
	}
	return time.Duration(d)
}

// Constant always waits the same duration.
type Constant time.Duration

// Delay returns c.
func (c Constant) Delay(int) time.Duration { return time.Duration(c) }

// Linear waits Step*attempt, the escalating schedule used for identity rotation
// (10s, 20s, ... for a 10s step).
type Linear struct {
	Step time.Duration
}

// Delay returns Step*attempt.
func (l Linear) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return l.Step * time.Duration(attempt)
}
