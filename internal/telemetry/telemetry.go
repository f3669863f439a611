package telemetry

import "time"

// Telemetry is one combined sensor reading published to the broker.
//
// The sensor value fields are pointers: a sensor that failed to decode this
// cycle is represented by a nil field, which json omits entirely. A missing
// value is never replaced with zero.
type Telemetry struct {
	StationID   string    `json:"station_id"`
	Timestamp   time.Time `json:"timestamp"`
	CO2         *int      `json:"co2_ppm,omitempty"`
	Temperature *float64  `json:"temperature_c,omitempty"`
	Humidity    *float64  `json:"humidity_pct,omitempty"`
	Sequence    *int      `json:"sequence,omitempty"`
}

// Empty reports whether no sensor produced a value this cycle.
func (t Telemetry) Empty() bool {
	return t.CO2 == nil && t.Temperature == nil && t.Humidity == nil
}

// StationHealth is the retained liveness message for a station.
type StationHealth struct {
	StationID string    `json:"station_id"`
	LastSeen  time.Time `json:"last_seen"`
	Healthy   bool      `json:"healthy"`
}
