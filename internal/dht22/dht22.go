// Package dht22 reads DHT22/AM2302 temperature and humidity sensors over
// their single-wire protocol.
//
// After a host start signal the sensor answers with 40 bits, each encoded in
// the width of a high pulse (roughly 26us for 0, 70us for 1) between ~50us
// low separators, followed by a checksum byte. The line is decoded by polling
// with a wall-clock deadline checked at every step; there is no interrupt
// support, so a capture can fail under load, and a reading is only accepted
// once its checksum verifies.
package dht22

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"

	"airsense-gateway/internal/sensorerr"
	"airsense-gateway/internal/utils"
)

const (
	// wakeLow is the host start signal. The sensor requires at least 1ms.
	wakeLow = 3 * time.Millisecond

	// handshakeTimeout bounds each edge of the sensor's response preamble,
	// a ~80us low followed by a ~80us high.
	handshakeTimeout = 85 * time.Microsecond

	// bitStartTimeout bounds the ~50us low that precedes every data bit.
	bitStartTimeout = 55 * time.Microsecond

	// bitHighTimeout bounds the data pulse itself. One-bits nominally run
	// 68-75us, so the cap needs headroom above that.
	bitHighTimeout = 90 * time.Microsecond

	// bitOneThreshold discriminates the bit value: a high pulse strictly
	// longer than this decodes as 1.
	bitOneThreshold = 30 * time.Microsecond
)

// Plausible measurement ranges, in tenths. Decoded values outside them are
// rejected, never clamped.
const (
	humidityMax = 1000 // 100.0%
	tempMin     = -400 // -40.0 degC
	tempMax     = 800  // +80.0 degC
)

// Replaced in tests to run captures against a scripted line.
var (
	now   = time.Now
	sleep = time.Sleep
)

// Line is the single bidirectional data line to the sensor, a narrow view of
// periph.io's gpio.PinIO. The driver switches it between output for the start
// signal and pulled-up input for the sensor's reply.
type Line interface {
	In(pull gpio.Pull, edge gpio.Edge) error
	Out(l gpio.Level) error
	Read() gpio.Level
}

var _ Line = gpio.PinIO(nil)

// Dev is a handle to a DHT22 sensor.
type Dev struct {
	line Line
}

// New returns a driver for the sensor attached to line.
func New(line Line) *Dev {
	return &Dev{line: line}
}

func (d *Dev) String() string {
	return "DHT22"
}

// Sense runs one measurement transaction and fills env's temperature and
// humidity. The context is honored between transactions only; the capture
// itself is bounded by per-edge deadlines and takes a few milliseconds.
func (d *Dev) Sense(ctx context.Context, env *physic.Env) error {
	var data [5]byte
	if err := d.capture(ctx, &data); err != nil {
		return fmt.Errorf("dht22: %w", err)
	}

	humidity, temperature, err := decode(data)
	if err != nil {
		return fmt.Errorf("dht22: %w", err)
	}

	env.Humidity = physic.RelativeHumidity(humidity) * physic.MilliRH
	env.Temperature = physic.ZeroCelsius + (physic.Celsius/10)*physic.Temperature(temperature)
	return nil
}

// capture wakes the sensor and records the 40 data bits plus checksum into
// buf.
//
// The handshake and bit reads run on a locked OS thread: bit values live in
// pulse widths of tens of microseconds, so the capture window must not
// migrate or yield. A preemption that stretches an edge past its deadline
// surfaces as ErrTimeout and costs this cycle only.
func (d *Dev) capture(ctx context.Context, buf *[5]byte) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", sensorerr.ErrTimeout, err)
	}

	// Start signal: hold the line low, then release it and let the pull-up
	// raise it for the sensor to take over.
	if err := d.line.Out(gpio.Low); err != nil {
		return fmt.Errorf("drive line low: %w", err)
	}
	sleep(wakeLow)
	if err := d.line.In(gpio.PullUp, gpio.NoEdge); err != nil {
		return fmt.Errorf("release line: %w", err)
	}

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if _, err := d.waitLevel(gpio.High, handshakeTimeout); err != nil {
		return fmt.Errorf("line release: %w", err)
	}
	if _, err := d.waitLevel(gpio.Low, handshakeTimeout); err != nil {
		return fmt.Errorf("no sensor response: %w", err)
	}
	if _, err := d.waitLevel(gpio.High, handshakeTimeout); err != nil {
		return fmt.Errorf("response low pulse: %w", err)
	}
	if _, err := d.waitLevel(gpio.Low, handshakeTimeout); err != nil {
		return fmt.Errorf("response high pulse: %w", err)
	}

	for bit := 0; bit < 40; bit++ {
		if _, err := d.waitLevel(gpio.High, bitStartTimeout); err != nil {
			return fmt.Errorf("bit %d start: %w", bit, err)
		}
		high, err := d.waitLevel(gpio.Low, bitHighTimeout)
		if err != nil {
			return fmt.Errorf("bit %d pulse: %w", bit, err)
		}
		if classifyBit(high) {
			buf[bit/8] |= 1 << (7 - bit%8)
		}
	}
	return nil
}

// waitLevel polls the line until it reads lvl, returning the time spent
// waiting. The deadline is evaluated on every iteration; the loop never
// sleeps, because the pulses being measured are shorter than a scheduler
// quantum.
func (d *Dev) waitLevel(lvl gpio.Level, timeout time.Duration) (time.Duration, error) {
	start := now()
	deadline := start.Add(timeout)
	for {
		if d.line.Read() == lvl {
			return now().Sub(start), nil
		}
		if t := now(); t.After(deadline) {
			return t.Sub(start), fmt.Errorf("%w: line not %s within %v",
				sensorerr.ErrTimeout, lvl, timeout)
		}
	}
}

// classifyBit maps a data pulse width to its bit value. The comparison is the
// protocol's single discrimination point: strictly longer than
// bitOneThreshold reads 1, everything else 0.
func classifyBit(high time.Duration) bool {
	return high > bitOneThreshold
}

// decode validates the checksum and unpacks humidity and temperature in
// tenths of a percent and tenths of a degree. The temperature's most
// significant bit is a sign flag, not a two's complement bit.
func decode(buf [5]byte) (humidity, temperature int, err error) {
	sum := buf[0] + buf[1] + buf[2] + buf[3]
	if sum != buf[4] {
		return 0, 0, fmt.Errorf("%w: data %s, sum 0x%02X, frame has 0x%02X",
			sensorerr.ErrBadChecksum, utils.BytesToHex(buf[:4]), sum, buf[4])
	}

	humidity = int(buf[0])<<8 | int(buf[1])
	temperature = int(buf[2]&0x7F)<<8 | int(buf[3])
	if buf[2]&0x80 != 0 {
		temperature = -temperature
	}

	if humidity > humidityMax {
		return 0, 0, fmt.Errorf("%w: humidity %d tenths (max %d)",
			sensorerr.ErrOutOfRange, humidity, humidityMax)
	}
	if temperature < tempMin || temperature > tempMax {
		return 0, 0, fmt.Errorf("%w: temperature %d tenths (plausible %d..%d)",
			sensorerr.ErrOutOfRange, temperature, tempMin, tempMax)
	}
	return humidity, temperature, nil
}
