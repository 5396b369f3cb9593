package models

import "time"

// PositionPoint is one sample of an aircraft's trail
type PositionPoint struct {
	Latitude  float64   `json:"lat"`
	Longitude float64   `json:"lon"`
	Altitude  *int      `json:"alt_ft,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Aircraft is a point-in-time copy of one tracked aircraft.
// Optional fields are nil until the corresponding message type has been seen.
type Aircraft struct {
	ICAO                  string          `json:"icao"`
	Callsign              string          `json:"callsign,omitempty"`
	Latitude              *float64        `json:"lat,omitempty"`
	Longitude             *float64        `json:"lon,omitempty"`
	Altitude              *int            `json:"alt_ft,omitempty"`
	Track                 *float64        `json:"track,omitempty"`
	Velocity              *float64        `json:"speed_kt,omitempty"`
	VerticalRate          *int            `json:"vertical_rate,omitempty"`
	DistanceMiles         *float64        `json:"distance_mi,omitempty"`
	LastSeen              time.Time       `json:"last_seen"`
	Messages              int             `json:"messages"`
	ConsecutiveRejections int             `json:"consecutive_rejections"`
	PositionHistory       []PositionPoint `json:"trail,omitempty"`
	SourceServerID        string          `json:"server_id"`
	SourceServerName      string          `json:"server_name"`
}

// HasPosition reports whether a position has ever been accepted for the aircraft
func (a *Aircraft) HasPosition() bool {
	return a.Latitude != nil && a.Longitude != nil
}
