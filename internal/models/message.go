package models

import "math"

// MessageKind identifies which AircraftMessage variant a value holds
type MessageKind int

const (
	KindIdentification MessageKind = iota
	KindPosition
	KindVelocity
	KindAltitude
)

func (k MessageKind) String() string {
	switch k {
	case KindIdentification:
		return "identification"
	case KindPosition:
		return "position"
	case KindVelocity:
		return "velocity"
	case KindAltitude:
		return "altitude"
	default:
		return "unknown"
	}
}

// AircraftMessage is one decoded report about a single aircraft.
// The concrete type is one of Identification, Position, Velocity or Altitude.
// Every variant is keyed by a non-empty 6 hex digit ICAO address.
type AircraftMessage interface {
	Address() string
	Kind() MessageKind
}

// Identification carries the flight callsign
type Identification struct {
	ICAO     string
	Callsign string
}

// Position carries a latitude/longitude fix and optionally the altitude in feet
type Position struct {
	ICAO      string
	Latitude  float64
	Longitude float64
	Altitude  *int
}

// ValidLatitude reports whether lat is a finite latitude in [-90, 90]
func ValidLatitude(lat float64) bool {
	return !math.IsNaN(lat) && lat >= -90 && lat <= 90
}

// ValidLongitude reports whether lon is a finite longitude in [-180, 180]
func ValidLongitude(lon float64) bool {
	return !math.IsNaN(lon) && lon >= -180 && lon <= 180
}

// Velocity carries ground speed in knots, track in degrees and optionally vertical rate in ft/min
type Velocity struct {
	ICAO         string
	Speed        float64
	Track        float64
	VerticalRate *int
}

// Altitude carries a standalone altitude report in feet
type Altitude struct {
	ICAO     string
	Altitude int
}

func (m Identification) Address() string { return m.ICAO }
func (m Position) Address() string       { return m.ICAO }
func (m Velocity) Address() string       { return m.ICAO }
func (m Altitude) Address() string       { return m.ICAO }

func (Identification) Kind() MessageKind { return KindIdentification }
func (Position) Kind() MessageKind       { return KindPosition }
func (Velocity) Kind() MessageKind       { return KindVelocity }
func (Altitude) Kind() MessageKind       { return KindAltitude }

// IntPtr returns a pointer to v, for populating optional message fields
func IntPtr(v int) *int {
	return &v
}

// Float64Ptr returns a pointer to v
func Float64Ptr(v float64) *float64 {
	return &v
}
