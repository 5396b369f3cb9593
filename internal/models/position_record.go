package models

import "time"

// PositionRecord is one archived position fix as heard by one server
type PositionRecord struct {
	ServerID  string    `json:"server_id"`
	ICAO      string    `json:"icao"`
	Callsign  string    `json:"callsign,omitempty"`
	Latitude  float64   `json:"lat"`
	Longitude float64   `json:"lon"`
	Altitude  *int      `json:"alt_ft,omitempty"`
	Track     *float64  `json:"track,omitempty"`
	Velocity  *float64  `json:"speed_kt,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewPositionRecord captures the current position of a snapshot. It returns
// false if the aircraft has no position yet.
func NewPositionRecord(a Aircraft, at time.Time) (PositionRecord, bool) {
	if !a.HasPosition() {
		return PositionRecord{}, false
	}
	return PositionRecord{
		ServerID:  a.SourceServerID,
		ICAO:      a.ICAO,
		Callsign:  a.Callsign,
		Latitude:  *a.Latitude,
		Longitude: *a.Longitude,
		Altitude:  a.Altitude,
		Track:     a.Track,
		Velocity:  a.Velocity,
		Timestamp: at,
	}, true
}
