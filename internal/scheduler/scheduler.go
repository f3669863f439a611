// Package scheduler drives the station's measurement loop: once per
// interval it reads both sensors, assembles a telemetry reading and hands
// it to the publisher.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"periph.io/x/conn/v3/physic"

	"airsense-gateway/internal/mhz19"
	"airsense-gateway/internal/telemetry"
)

// Defaults applied by New when the config leaves a field zero.
const (
	DefaultInterval       = 30 * time.Second
	DefaultCO2Timeout     = 2 * time.Second
	DefaultClimateTimeout = time.Second
)

// State is the scheduler's position within a measurement cycle.
type State uint8

const (
	StateIdle State = iota
	StateReadingCO2
	StateReadingClimate
	StatePublishing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateReadingCO2:
		return "reading_co2"
	case StateReadingClimate:
		return "reading_climate"
	case StatePublishing:
		return "publishing"
	default:
		return "unknown"
	}
}

// CO2Sensor reads a CO2 concentration.
type CO2Sensor interface {
	ReadCO2(ctx context.Context) (mhz19.PPM, error)
}

// ClimateSensor reads temperature and humidity.
type ClimateSensor interface {
	Sense(ctx context.Context, env *physic.Env) error
}

// Publisher delivers an assembled reading. It owns its own retry policy,
// so a call may block well past the sensor timeouts.
type Publisher interface {
	Publish(ctx context.Context, t telemetry.Telemetry) error
}

// Indicator is a heartbeat output toggled once per cycle.
type Indicator interface {
	Toggle()
}

// Config tunes the measurement loop.
type Config struct {
	// Interval is the pace of the loop. The first cycle runs immediately,
	// later ones one Interval apart.
	Interval time.Duration

	// CO2Timeout and ClimateTimeout bound the individual sensor reads.
	CO2Timeout     time.Duration
	ClimateTimeout time.Duration

	// StationID stamps every reading.
	StationID string
}

// Scheduler owns the sample loop. Cycles never overlap: a cycle slowed by
// publish retries delays the following ones instead of running alongside
// them.
type Scheduler struct {
	cfg     Config
	co2     CO2Sensor
	climate ClimateSensor
	pub     Publisher
	led     Indicator
	logger  *slog.Logger

	mu       sync.Mutex
	state    State
	sequence int
}

// New builds a Scheduler. led may be nil when the station has no
// heartbeat output.
func New(cfg Config, co2 CO2Sensor, climate ClimateSensor, pub Publisher, led Indicator, logger *slog.Logger) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.CO2Timeout <= 0 {
		cfg.CO2Timeout = DefaultCO2Timeout
	}
	if cfg.ClimateTimeout <= 0 {
		cfg.ClimateTimeout = DefaultClimateTimeout
	}
	return &Scheduler{
		cfg:     cfg,
		co2:     co2,
		climate: climate,
		pub:     pub,
		led:     led,
		logger:  logger,
	}
}

// Run loops until ctx is canceled or the publisher reports a fatal
// failure. The first cycle starts right away rather than one interval in.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	if err := s.cycle(ctx); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		if err := s.cycle(ctx); err != nil {
			return err
		}
		// A cycle stretched by publish retries can leave a tick queued.
		// Drop it so the loop settles back onto the interval instead of
		// running back-to-back cycles.
		select {
		case <-ticker.C:
		default:
		}
	}
}

// State reports where the current cycle stands.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// cycle performs one read-and-publish pass. A sensor failure drops that
// sensor's fields from the reading; only a publisher failure ends the
// loop.
func (s *Scheduler) cycle(ctx context.Context) error {
	defer s.setState(StateIdle)

	if s.led != nil {
		s.led.Toggle()
	}

	t := telemetry.Telemetry{
		StationID: s.cfg.StationID,
		Timestamp: time.Now().UTC(),
	}

	s.setState(StateReadingCO2)
	co2Ctx, cancel := context.WithTimeout(ctx, s.cfg.CO2Timeout)
	ppm, err := s.co2.ReadCO2(co2Ctx)
	cancel()
	if err != nil {
		s.logger.Warn("CO2 reading failed", "error", err)
	} else {
		co2 := int(ppm)
		t.CO2 = &co2
	}

	s.setState(StateReadingClimate)
	var env physic.Env
	climateCtx, cancel := context.WithTimeout(ctx, s.cfg.ClimateTimeout)
	err = s.climate.Sense(climateCtx, &env)
	cancel()
	if err != nil {
		s.logger.Warn("climate reading failed", "error", err)
	} else {
		temperature := env.Temperature.Celsius()

		// env.Humidity is a fixed point integer at a precision of
		// 0.00001%rH.
		humidity := float64(env.Humidity) / 100000.0

		t.Temperature = &temperature
		t.Humidity = &humidity
	}

	if t.Empty() {
		s.logger.Warn("no sensor produced a reading, skipping publish")
		return nil
	}

	s.mu.Lock()
	s.sequence++
	seq := s.sequence
	s.mu.Unlock()
	t.Sequence = &seq

	s.setState(StatePublishing)
	if err := s.pub.Publish(ctx, t); err != nil {
		return fmt.Errorf("publish reading %d: %w", seq, err)
	}

	attrs := []any{"sequence", seq}
	if t.CO2 != nil {
		attrs = append(attrs, "co2_ppm", *t.CO2)
	}
	if t.Temperature != nil {
		attrs = append(attrs, "temperature_c", *t.Temperature)
	}
	if t.Humidity != nil {
		attrs = append(attrs, "humidity_pct", *t.Humidity)
	}
	s.logger.Info("telemetry published", attrs...)
	return nil
}

func (s *Scheduler) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}
