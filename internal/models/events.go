package models

// EventType is the kind of change a tracker reports
type EventType int

const (
	AircraftAdded EventType = iota
	PositionUpdated
	AircraftRemoved
)

func (t EventType) String() string {
	switch t {
	case AircraftAdded:
		return "aircraft_added"
	case PositionUpdated:
		return "position_updated"
	case AircraftRemoved:
		return "aircraft_removed"
	default:
		return "unknown"
	}
}

// MarshalText lets events serialize their type by name
func (t EventType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// TrackerEvent is broadcast to subscribers whenever a tracker's aircraft set changes
type TrackerEvent struct {
	Type     EventType `json:"type"`
	ICAO     string    `json:"icao"`
	ServerID string    `json:"server_id,omitempty"`
}
