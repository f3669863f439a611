package dht22

import (
	"context"
	"errors"
	"testing"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"

	"airsense-gateway/internal/sensorerr"
)

// fakeClock supplies virtual time to the capture loop.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

// installClock swaps the package time hooks for a virtual clock; sleeping
// advances it instantly.
func installClock(t *testing.T) *fakeClock {
	t.Helper()
	c := &fakeClock{t: time.Unix(0, 0)}
	oldNow, oldSleep := now, sleep
	now = c.now
	sleep = func(d time.Duration) { c.advance(d) }
	t.Cleanup(func() { now, sleep = oldNow, oldSleep })
	return c
}

type segment struct {
	level gpio.Level
	d     time.Duration
}

// playbackLine replays a recorded waveform. Each Read reports the level at
// the current virtual time, then advances it by one microsecond, the cadence
// of a polling loop.
type playbackLine struct {
	clock *fakeClock
	segs  []segment

	outs []gpio.Level
	ins  int
}

func (l *playbackLine) In(pull gpio.Pull, edge gpio.Edge) error {
	l.ins++
	return nil
}

func (l *playbackLine) Out(lvl gpio.Level) error {
	l.outs = append(l.outs, lvl)
	return nil
}

func (l *playbackLine) Read() gpio.Level {
	lvl := gpio.High // idle level once the waveform is exhausted
	if len(l.segs) > 0 {
		lvl = l.segs[0].level
		l.segs[0].d -= time.Microsecond
		if l.segs[0].d <= 0 {
			l.segs = l.segs[1:]
		}
	}
	l.clock.advance(time.Microsecond)
	return lvl
}

// waveform lays out the sensor's reply for one data frame: release, response
// preamble, 40 width-encoded bits, trailing release low.
func waveform(buf [5]byte) []segment {
	segs := []segment{
		{gpio.High, 10 * time.Microsecond}, // pull-up holds the released line
		{gpio.Low, 80 * time.Microsecond},  // response low
		{gpio.High, 80 * time.Microsecond}, // response high
	}
	for bit := 0; bit < 40; bit++ {
		high := 26 * time.Microsecond
		if buf[bit/8]&(1<<(7-bit%8)) != 0 {
			high = 70 * time.Microsecond
		}
		segs = append(segs,
			segment{gpio.Low, 50 * time.Microsecond},
			segment{gpio.High, high})
	}
	return append(segs, segment{gpio.Low, 60 * time.Microsecond})
}

// frame assembles a data frame with a valid checksum.
func frame(b0, b1, b2, b3 byte) [5]byte {
	return [5]byte{b0, b1, b2, b3, b0 + b1 + b2 + b3}
}

func TestSense(t *testing.T) {
	clock := installClock(t)
	line := &playbackLine{clock: clock, segs: waveform(frame(0x02, 0x8C, 0x00, 0xE7))}
	dev := New(line)

	var env physic.Env
	if err := dev.Sense(context.Background(), &env); err != nil {
		t.Fatalf("Sense: %v", err)
	}

	wantHum := physic.RelativeHumidity(652) * physic.MilliRH // 65.2%
	if env.Humidity != wantHum {
		t.Errorf("Humidity = %s; want %s", env.Humidity, wantHum)
	}
	wantTemp := physic.ZeroCelsius + (physic.Celsius/10)*physic.Temperature(231) // 23.1C
	if env.Temperature != wantTemp {
		t.Errorf("Temperature = %s; want %s", env.Temperature, wantTemp)
	}

	if len(line.outs) != 1 || line.outs[0] != gpio.Low {
		t.Errorf("start signal levels = %v; want one Low", line.outs)
	}
	if line.ins != 1 {
		t.Errorf("line released %d times; want 1", line.ins)
	}
}

func TestSenseNegativeTemperature(t *testing.T) {
	clock := installClock(t)
	line := &playbackLine{clock: clock, segs: waveform(frame(0x02, 0x8C, 0x80, 0x69))}
	dev := New(line)

	var env physic.Env
	if err := dev.Sense(context.Background(), &env); err != nil {
		t.Fatalf("Sense: %v", err)
	}

	wantTemp := physic.ZeroCelsius + (physic.Celsius/10)*physic.Temperature(-105) // -10.5C
	if env.Temperature != wantTemp {
		t.Errorf("Temperature = %s; want %s", env.Temperature, wantTemp)
	}
}

func TestSenseChecksumMismatch(t *testing.T) {
	good := frame(0x02, 0x8C, 0x00, 0xE7)

	// Flipping any single bit without fixing the checksum must fail the
	// capture, whether the flip lands in the data or the checksum itself.
	for _, flip := range []struct {
		name string
		byte int
		mask byte
	}{
		{"data bit", 1, 0x04},
		{"sign bit", 2, 0x80},
		{"checksum bit", 4, 0x01},
	} {
		t.Run(flip.name, func(t *testing.T) {
			clock := installClock(t)
			buf := good
			buf[flip.byte] ^= flip.mask
			line := &playbackLine{clock: clock, segs: waveform(buf)}

			var env physic.Env
			err := New(line).Sense(context.Background(), &env)
			if !errors.Is(err, sensorerr.ErrBadChecksum) {
				t.Errorf("Sense = %v; want ErrBadChecksum", err)
			}
		})
	}
}

func TestSenseNoResponse(t *testing.T) {
	clock := installClock(t)
	// The pull-up raises the line but no sensor ever takes it low.
	line := &playbackLine{clock: clock, segs: []segment{{gpio.High, time.Second}}}

	var env physic.Env
	err := New(line).Sense(context.Background(), &env)
	if !errors.Is(err, sensorerr.ErrTimeout) {
		t.Errorf("Sense = %v; want ErrTimeout", err)
	}
}

func TestSenseStuckLine(t *testing.T) {
	clock := installClock(t)
	line := &playbackLine{clock: clock, segs: []segment{{gpio.Low, time.Second}}}

	var env physic.Env
	err := New(line).Sense(context.Background(), &env)
	if !errors.Is(err, sensorerr.ErrTimeout) {
		t.Errorf("Sense = %v; want ErrTimeout", err)
	}
}

func TestSenseCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var env physic.Env
	err := New(&playbackLine{clock: &fakeClock{}}).Sense(ctx, &env)
	if !errors.Is(err, sensorerr.ErrTimeout) {
		t.Errorf("Sense = %v; want ErrTimeout", err)
	}
}

func TestWaitLevel(t *testing.T) {
	clock := installClock(t)
	line := &playbackLine{clock: clock, segs: []segment{
		{gpio.Low, 40 * time.Microsecond},
		{gpio.High, time.Second},
	}}
	dev := New(line)

	elapsed, err := dev.waitLevel(gpio.High, 55*time.Microsecond)
	if err != nil {
		t.Fatalf("waitLevel: %v", err)
	}
	if elapsed < 40*time.Microsecond || elapsed > 42*time.Microsecond {
		t.Errorf("elapsed = %v; want ~40us", elapsed)
	}
}

func TestWaitLevelTimeout(t *testing.T) {
	clock := installClock(t)
	line := &playbackLine{clock: clock, segs: []segment{{gpio.Low, time.Second}}}
	dev := New(line)

	elapsed, err := dev.waitLevel(gpio.High, 55*time.Microsecond)
	if !errors.Is(err, sensorerr.ErrTimeout) {
		t.Fatalf("waitLevel = %v; want ErrTimeout", err)
	}
	if elapsed <= 55*time.Microsecond {
		t.Errorf("elapsed = %v; want more than the 55us timeout", elapsed)
	}
}

func TestClassifyBit(t *testing.T) {
	tests := []struct {
		high time.Duration
		want bool
	}{
		{26 * time.Microsecond, false},
		{30 * time.Microsecond, false}, // boundary reads 0: the comparison is strict
		{30*time.Microsecond + time.Nanosecond, true},
		{70 * time.Microsecond, true},
	}

	for _, tt := range tests {
		if got := classifyBit(tt.high); got != tt.want {
			t.Errorf("classifyBit(%v) = %v; want %v", tt.high, got, tt.want)
		}
	}
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name     string
		buf      [5]byte
		humidity int
		temp     int
		wantErr  error
	}{
		{"positive", frame(0x02, 0x8C, 0x00, 0xE7), 652, 231, nil},
		{"negative temperature", frame(0x02, 0x8C, 0x80, 0x69), 652, -105, nil},
		{"humidity ceiling", frame(0x03, 0xE8, 0x00, 0x00), 1000, 0, nil},
		{"humidity above ceiling", frame(0x03, 0xE9, 0x00, 0x00), 0, 0, sensorerr.ErrOutOfRange},
		{"temperature ceiling", frame(0x00, 0x00, 0x03, 0x20), 0, 800, nil},
		{"temperature above ceiling", frame(0x00, 0x00, 0x03, 0x21), 0, 0, sensorerr.ErrOutOfRange},
		{"temperature floor", frame(0x00, 0x00, 0x81, 0x90), 0, -400, nil},
		{"temperature below floor", frame(0x00, 0x00, 0x81, 0x91), 0, 0, sensorerr.ErrOutOfRange},
		{"checksum mismatch", [5]byte{0x02, 0x8C, 0x00, 0xE7, 0x00}, 0, 0, sensorerr.ErrBadChecksum},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			humidity, temp, err := decode(tt.buf)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("decode error = %v; want %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if humidity != tt.humidity {
				t.Errorf("humidity = %d; want %d", humidity, tt.humidity)
			}
			if temp != tt.temp {
				t.Errorf("temperature = %d; want %d", temp, tt.temp)
			}
		})
	}
}
