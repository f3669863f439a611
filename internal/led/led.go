// Package led drives the station's heartbeat LED.
package led

import (
	"fmt"

	"periph.io/x/conn/v3/gpio"
)

// LED tracks the state of a single output pin.
type LED struct {
	pin gpio.PinIO
	on  bool
}

// New wraps pin and forces it into the off state.
func New(pin gpio.PinIO) (*LED, error) {
	if err := pin.Out(gpio.Low); err != nil {
		return nil, fmt.Errorf("led init: %w", err)
	}
	return &LED{pin: pin}, nil
}

// Toggle flips the LED. Output errors are ignored, the heartbeat is
// best-effort.
func (l *LED) Toggle() {
	l.on = !l.on
	_ = l.pin.Out(gpio.Level(l.on))
}

// Off turns the LED off, used on shutdown.
func (l *LED) Off() {
	l.on = false
	_ = l.pin.Out(gpio.Low)
}
