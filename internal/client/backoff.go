package client

import "time"

// Reconnect defaults
const (
	DefaultBackoffBase   = 800 * time.Millisecond
	DefaultBackoffMax    = 15 * time.Second
	DefaultBackoffFactor = 1.7
)

// Backoff produces the reconnect delay sequence base, base*factor, ... capped at Max.
// It is not safe for concurrent use; the client guards it with its own lock.
type Backoff struct {
	Base    time.Duration
	Max     time.Duration
	Factor  float64
	current time.Duration
}

// NewBackoff returns a Backoff, substituting defaults for zero values
func NewBackoff(base, max time.Duration, factor float64) *Backoff {
	if base <= 0 {
		base = DefaultBackoffBase
	}
	if max <= 0 {
		max = DefaultBackoffMax
	}
	if max < base {
		max = base
	}
	if factor < 1 {
		factor = DefaultBackoffFactor
	}
	return &Backoff{Base: base, Max: max, Factor: factor, current: base}
}

// Next returns the delay to wait now and grows the delay for the following attempt
func (b *Backoff) Next() time.Duration {
	delay := b.current
	grown := time.Duration(float64(b.current) * b.Factor)
	if grown > b.Max {
		grown = b.Max
	}
	b.current = grown
	return delay
}

// Current returns the delay the next call to Next will return
func (b *Backoff) Current() time.Duration {
	return b.current
}

// Reset returns the delay to Base
func (b *Backoff) Reset() {
	b.current = b.Base
}
