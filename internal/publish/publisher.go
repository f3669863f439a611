// Package publish delivers telemetry readings over a transport, retrying
// transient failures with exponential backoff and dropping a reading once
// its attempt budget is spent.
package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"airsense-gateway/internal/backoff"
	"airsense-gateway/internal/mqtt"
	"airsense-gateway/internal/telemetry"
)

// DefaultMaxAttempts bounds how often a single reading is tried before it
// is dropped.
const DefaultMaxAttempts = 5

// Transport sends readings to the broker.
type Transport interface {
	PublishTelemetry(t telemetry.Telemetry) error
}

var _ Transport = (*mqtt.Client)(nil)

// sleepCtx pauses between attempts. Tests swap it out to avoid real
// delays.
var sleepCtx = func(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Config tunes the retry loop.
type Config struct {
	// MaxAttempts is the per-reading attempt budget. Values below 1 fall
	// back to DefaultMaxAttempts.
	MaxAttempts int

	// BackoffInitial and BackoffMax bound the delay between attempts.
	BackoffInitial time.Duration
	BackoffMax     time.Duration
}

// RetryState is a snapshot of the retry loop.
type RetryState struct {
	// Attempts counts failed deliveries of the reading currently in
	// flight. Zero between readings.
	Attempts int

	// NextDelay is the pause the next failure would cause.
	NextDelay time.Duration

	// LastErr is the most recent delivery failure, nil after a success.
	LastErr error
}

// Publisher pushes readings through a Transport.
type Publisher struct {
	transport   Transport
	backoff     *backoff.Backoff
	maxAttempts int
	logger      *slog.Logger

	mu       sync.Mutex
	attempts int
	lastErr  error
}

// New builds a Publisher around the given transport.
func New(transport Transport, cfg Config, logger *slog.Logger) *Publisher {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	return &Publisher{
		transport: transport,
		backoff: backoff.New(backoff.Config{
			Initial: cfg.BackoffInitial,
			Max:     cfg.BackoffMax,
		}),
		maxAttempts: cfg.MaxAttempts,
		logger:      logger,
	}
}

// Publish delivers one reading. Transient failures are retried with
// growing delays until the attempt budget is spent, at which point the
// reading is dropped and Publish returns nil so the caller moves on to
// the next one. The backoff delay survives a drop and only resets once a
// delivery succeeds. Fatal transport failures and context cancellation
// end the loop immediately.
func (p *Publisher) Publish(ctx context.Context, t telemetry.Telemetry) error {
	for {
		err := p.transport.PublishTelemetry(t)
		if err == nil {
			p.mu.Lock()
			retried := p.attempts > 0
			p.attempts = 0
			p.lastErr = nil
			p.mu.Unlock()
			p.backoff.Reset()
			if retried {
				p.logger.Info("telemetry delivered after retry",
					"station_id", t.StationID,
				)
			}
			return nil
		}

		if errors.Is(err, mqtt.ErrFatal) {
			return fmt.Errorf("publish telemetry: %w", err)
		}

		p.mu.Lock()
		p.attempts++
		p.lastErr = err
		attempts := p.attempts
		p.mu.Unlock()

		if attempts >= p.maxAttempts {
			p.logger.Error("dropping telemetry reading",
				"station_id", t.StationID,
				"attempts", attempts,
				"error", err,
			)
			p.mu.Lock()
			p.attempts = 0
			p.mu.Unlock()
			return nil
		}

		delay := p.backoff.Next()
		p.logger.Warn("telemetry publish failed, retrying",
			"station_id", t.StationID,
			"attempt", attempts,
			"max_attempts", p.maxAttempts,
			"retry_in", delay,
			"error", err,
		)
		if err := sleepCtx(ctx, delay); err != nil {
			return err
		}
	}
}

// State reports where the retry loop currently stands.
func (p *Publisher) State() RetryState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return RetryState{
		Attempts:  p.attempts,
		NextDelay: p.backoff.Peek(),
		LastErr:   p.lastErr,
	}
}
