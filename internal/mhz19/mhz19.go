// Package mhz19 drives an MH-Z19 CO2 sensor over its serial protocol
// (9600 baud, 8N1). Each measurement is a nine-byte request/response
// exchange protected by a checksum trailer.
package mhz19

import (
	"context"
	"fmt"
	"io"
	"time"

	"airsense-gateway/internal/sensorerr"
)

// readTimeout bounds one full response read when the caller's context does
// not impose a tighter deadline.
const readTimeout = 500 * time.Millisecond

// Port is the serial connection to the sensor. It is satisfied by
// go.bug.st/serial.Port; a read timeout is reported as a zero-length read.
type Port interface {
	io.ReadWriter
	SetReadTimeout(time.Duration) error
}

// Dev is a handle to an MH-Z19 sensor.
type Dev struct {
	port Port
}

// New returns a driver for the sensor behind port. The port must already be
// configured for 9600 baud, 8 data bits, no parity, one stop bit.
func New(port Port) *Dev {
	return &Dev{port: port}
}

func (d *Dev) String() string {
	return "MH-Z19"
}

// ReadCO2 queries the sensor once and returns the decoded concentration.
// The exchange is bounded by the context deadline or, if that is later, a
// 500ms default.
func (d *Dev) ReadCO2(ctx context.Context) (PPM, error) {
	req := EncodeRequest(cmdReadCO2)
	if _, err := d.port.Write(req[:]); err != nil {
		return 0, fmt.Errorf("mhz19: write read command: %w", err)
	}

	var resp Frame
	if err := d.readFrame(ctx, &resp); err != nil {
		return 0, fmt.Errorf("mhz19: %w", err)
	}

	co2, err := DecodeResponse(resp)
	if err != nil {
		return 0, fmt.Errorf("mhz19: %w", err)
	}
	return co2, nil
}

// SetAutoCalibration switches the sensor's automatic baseline correction on
// or off. The sensor does not acknowledge this command.
func (d *Dev) SetAutoCalibration(on bool) error {
	arg := byte(abcDisable)
	if on {
		arg = abcEnable
	}
	req := EncodeRequest(cmdAutoCalibration, arg)
	if _, err := d.port.Write(req[:]); err != nil {
		return fmt.Errorf("mhz19: write calibration command: %w", err)
	}
	return nil
}

// readFrame accumulates one nine-byte response. The deadline is evaluated on
// every pass and the port's read timeout re-armed with the remaining budget,
// so a silent or slow sensor surfaces as ErrTimeout instead of blocking.
func (d *Dev) readFrame(ctx context.Context, f *Frame) error {
	deadline := time.Now().Add(readTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}

	n := 0
	for n < len(f) {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %v", sensorerr.ErrTimeout, err)
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return fmt.Errorf("%w: received %d of %d response bytes",
				sensorerr.ErrTimeout, n, len(f))
		}
		if err := d.port.SetReadTimeout(remaining); err != nil {
			return fmt.Errorf("set read timeout: %w", err)
		}

		k, err := d.port.Read(f[n:])
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}
		if k == 0 {
			return fmt.Errorf("%w: received %d of %d response bytes",
				sensorerr.ErrTimeout, n, len(f))
		}
		n += k
	}
	return nil
}
