package mhz19

import (
	"fmt"

	"airsense-gateway/internal/sensorerr"
	"airsense-gateway/internal/utils"
)

// Requests and responses are both nine bytes: a start marker, a device number
// (requests) or command echo (responses), payload, and a trailing checksum.
const (
	frameLen   = 9
	frameStart = 0xFF
	deviceNum  = 0x01 // fixed device number in request frames

	cmdReadCO2         = 0x86
	cmdAutoCalibration = 0x79

	// First payload byte of cmdAutoCalibration.
	abcEnable  = 0xA0
	abcDisable = 0x00

	// Plausible measurement range in ppm. Readings outside it are decode
	// failures, never clamped.
	co2Min = 0
	co2Max = 5000
)

// PPM is a CO2 concentration in parts per million.
type PPM int

// Frame is one nine-byte exchange with the sensor.
type Frame [frameLen]byte

// Checksum computes the checksum trailer over bytes 1 through 7:
// 0xFF - (sum mod 256) + 1.
func Checksum(f Frame) byte {
	var sum byte
	for _, b := range f[1:8] {
		sum += b
	}
	return 0xFF - sum + 1
}

// EncodeRequest builds a request frame for cmd. Up to five argument bytes
// fill the payload; the rest stays zero.
func EncodeRequest(cmd byte, args ...byte) Frame {
	f := Frame{frameStart, deviceNum, cmd}
	copy(f[3:8], args)
	f[8] = Checksum(f)
	return f
}

// DecodeResponse validates a read-CO2 response frame and extracts the
// concentration. The frame must carry the start marker, echo the read
// command, and pass the checksum; the decoded value must lie inside the
// sensor's measurement range.
func DecodeResponse(f Frame) (PPM, error) {
	if f[0] != frameStart {
		return 0, fmt.Errorf("%w: frame %s", sensorerr.ErrBadMarker, utils.BytesToHex(f[:]))
	}
	if f[1] != cmdReadCO2 {
		return 0, fmt.Errorf("%w: command echo 0x%02X, want 0x%02X",
			sensorerr.ErrBadMarker, f[1], byte(cmdReadCO2))
	}
	if sum := Checksum(f); sum != f[8] {
		return 0, fmt.Errorf("%w: computed 0x%02X, frame has 0x%02X",
			sensorerr.ErrBadChecksum, sum, f[8])
	}
	co2 := PPM(int(f[2])<<8 | int(f[3]))
	if co2 < co2Min || co2 > co2Max {
		return 0, fmt.Errorf("%w: co2 %d ppm (plausible %d..%d)",
			sensorerr.ErrOutOfRange, int(co2), co2Min, co2Max)
	}
	return co2, nil
}
