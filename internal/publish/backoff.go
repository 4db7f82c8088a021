package publish

import (
	"math"
	"math/rand"
	"time"
)

// RetryPolicy computes the wait before the next delivery attempt.
type RetryPolicy struct {
	// Initial is the delay after the first failure.
	Initial time.Duration
	// Max caps the exponential growth.
	Max time.Duration
	// Multiplier scales the delay per attempt. Values below 1 fall back to 2.
	Multiplier float64
	// Jitter is the fraction of the delay randomized in either direction,
	// in [0, 1]. Spreads retries from concurrent failures apart.
	Jitter float64
}

// DefaultRetryPolicy matches the configured publisher defaults.
func DefaultRetryPolicy(initial, max time.Duration) RetryPolicy {
	return RetryPolicy{
		Initial:    initial,
		Max:        max,
		Multiplier: 2,
		Jitter:     0.2,
	}
}

// Delay returns the backoff before attempt n, where n counts completed
// failures starting at 1.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	initial := p.Initial
	if initial <= 0 {
		initial = time.Second
	}
	multiplier := p.Multiplier
	if multiplier < 1 {
		multiplier = 2
	}

	delay := float64(initial) * math.Pow(multiplier, float64(attempt-1))
	if p.Max > 0 && delay > float64(p.Max) {
		delay = float64(p.Max)
	}
	if p.Jitter > 0 {
		spread := delay * p.Jitter
		delay = delay - spread + rand.Float64()*2*spread
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}
