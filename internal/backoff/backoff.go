// Package backoff provides capped exponential retry delays.
package backoff

import (
	"sync"
	"time"
)

const (
	// DefaultInitial is the first retry delay.
	DefaultInitial = 1 * time.Second

	// DefaultMax is the delay ceiling.
	DefaultMax = 60 * time.Second

	// DefaultMultiplier is the factor by which the delay grows.
	DefaultMultiplier = 2.0
)

// Config customizes a Backoff. Zero or out-of-range fields fall back to the
// defaults.
type Config struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
}

// Backoff produces a deterministic, non-decreasing sequence of delays that
// doubles (by default) from an initial value up to a ceiling. Deliberately
// jitter-free: a single gateway talks to a single broker, and retry tests
// depend on exact delays.
type Backoff struct {
	mu sync.Mutex

	current time.Duration

	initial    time.Duration
	max        time.Duration
	multiplier float64

	attempts int
}

// New creates a backoff calculator.
func New(cfg Config) *Backoff {
	if cfg.Initial <= 0 {
		cfg.Initial = DefaultInitial
	}
	if cfg.Max <= 0 {
		cfg.Max = DefaultMax
	}
	if cfg.Multiplier <= 1 {
		cfg.Multiplier = DefaultMultiplier
	}

	return &Backoff{
		current:    cfg.Initial,
		initial:    cfg.Initial,
		max:        cfg.Max,
		multiplier: cfg.Multiplier,
	}
}

// Next returns the current delay and advances the sequence.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	delay := b.current

	b.attempts++
	next := time.Duration(float64(b.current) * b.multiplier)
	if next > b.max {
		next = b.max
	}
	b.current = next

	return delay
}

// Peek returns the current delay without advancing.
func (b *Backoff) Peek() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// Reset returns the sequence to its initial delay. Call after a success.
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.current = b.initial
	b.attempts = 0
}

// Attempts returns the number of delays handed out since the last reset.
func (b *Backoff) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts
}
