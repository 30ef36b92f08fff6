// Package backoff computes retry delays: capped exponential growth with
// symmetric randomized jitter.
package backoff

import (
	"math"
	"math/rand/v2"
	"time"
)

const (
	DefaultBaseMs = 500
	DefaultMaxMs  = 8000
	DefaultJitter = 0.2
)

// Policy configures delay computation. Rand must return values in [0, 1);
// nil uses math/rand/v2.
//
// The zero Policy behaves like DefaultPolicy. Otherwise a non-positive BaseMs
// or MaxMs takes its default and a zero Jitter disables jitter.
type Policy struct {
	BaseMs int
	MaxMs  int
	Jitter float64
	Rand   func() float64
}

// DefaultPolicy returns the standard 500ms base, 8s cap, 20% jitter policy.
func DefaultPolicy() Policy {
	return Policy{
		BaseMs: DefaultBaseMs,
		MaxMs:  DefaultMaxMs,
		Jitter: DefaultJitter,
	}
}

// DelayMs returns the delay in milliseconds before retry attempt n.
// Attempts below 1 are treated as 1.
func (p Policy) DelayMs(attempt int) int {
	if attempt < 1 {
		attempt = 1
	}

	if p.BaseMs <= 0 && p.MaxMs <= 0 && p.Jitter == 0 {
		p.Jitter = DefaultJitter
	}
	if p.BaseMs <= 0 {
		p.BaseMs = DefaultBaseMs
	}
	if p.MaxMs <= 0 {
		p.MaxMs = DefaultMaxMs
	}

	base := float64(p.BaseMs)
	capMs := float64(p.MaxMs)
	raw := math.Min(capMs, base*math.Pow(2, float64(attempt-1)))

	jitter := p.Jitter
	if jitter <= 0 || math.IsNaN(jitter) {
		return int(math.Round(raw))
	}
	if jitter > 1 {
		jitter = 1
	}

	rnd := p.Rand
	if rnd == nil {
		rnd = rand.Float64
	}
	r := rnd()

	return int(math.Round(raw * (1 + (2*r-1)*jitter)))
}

// Delay is DelayMs as a time.Duration.
func (p Policy) Delay(attempt int) time.Duration {
	return time.Duration(p.DelayMs(attempt)) * time.Millisecond
}
