// Package backoff computes retry delays for failed delivery attempts.
package backoff

import (
	"math/rand"
	"time"
)

// Defaults for Exponential.
const (
	DefaultBase = 500 * time.Millisecond
	DefaultMax  = 30 * time.Second
)

// Strategy returns the delay before the next attempt of a task that has
// already failed attempts times.
type Strategy interface {
	Delay(attempts int) time.Duration
}

// Exponential doubles the delay with every failed attempt.
// Delay = min(Base * 2^attempts, Max).
type Exponential struct {
	Base time.Duration
	Max  time.Duration
}

// NewExponential creates an exponential strategy. Zero values take the defaults.
func NewExponential(base, maxDelay time.Duration) Exponential {
	if base <= 0 {
		base = DefaultBase
	}
	if maxDelay <= 0 {
		maxDelay = DefaultMax
	}
	return Exponential{Base: base, Max: maxDelay}
}

// Delay returns Base * 2^attempts, capped at Max.
func (e Exponential) Delay(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	d := e.Base
	for i := 0; i < attempts; i++ {
		if e.Max > 0 && d >= e.Max {
			return e.Max
		}
		// Doubling past half of MaxInt64 would overflow.
		if d >= time.Duration(1<<62) {
			d = time.Duration(1<<63 - 1)
			break
		}
		d *= 2
	}
	if e.Max > 0 && d > e.Max {
		return e.Max
	}
	return d
}

// Jitter spreads another strategy's delays by ±Fraction.
type Jitter struct {
	Strategy Strategy
	Fraction float64
}

// Delay returns the wrapped delay adjusted by a random factor.
func (j Jitter) Delay(attempts int) time.Duration {
	d := j.Strategy.Delay(attempts)
	if j.Fraction <= 0 {
		return d
	}
	spread := float64(d) * j.Fraction * (rand.Float64()*2 - 1)
	return time.Duration(float64(d) + spread)
}
