// Package sensorerr defines the decode failures shared by the sensor drivers.
// Drivers wrap these sentinels with detail; callers match with errors.Is and
// treat any of them as "this sensor has no value this cycle".
package sensorerr

import "errors"

var (
	// ErrBadMarker means a frame did not start with the expected marker
	// byte, or echoed back a different command than was requested.
	ErrBadMarker = errors.New("bad frame marker")

	// ErrBadChecksum means the checksum recomputed over the received data
	// does not match the transmitted checksum.
	ErrBadChecksum = errors.New("checksum mismatch")

	// ErrTimeout means an expected byte or signal edge did not arrive
	// within its deadline.
	ErrTimeout = errors.New("timeout waiting for sensor")

	// ErrOutOfRange means a frame decoded cleanly but the value is outside
	// the sensor's plausible measurement range. Such values are rejected,
	// never clamped.
	ErrOutOfRange = errors.New("value out of range")
)
