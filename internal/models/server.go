package models

import "time"

// FeedFormat is the wire protocol spoken by a feed server
type FeedFormat string

const (
	FormatBaseStation FeedFormat = "basestation" // SBS-1 CSV, usually port 30003
	FormatBeast       FeedFormat = "beast"       // binary Mode-S, usually port 30005
)

// Valid reports whether f names a supported format
func (f FeedFormat) Valid() bool {
	return f == FormatBaseStation || f == FormatBeast
}

// ServerConfig describes one feed server. ID is immutable for the life of a
// server; Name, Address, Format and Enabled may change at runtime.
type ServerConfig struct {
	ID      string     `json:"id" mapstructure:"id"`
	Name    string     `json:"name" mapstructure:"name"`
	Address string     `json:"address" mapstructure:"address"`
	Format  FeedFormat `json:"format" mapstructure:"format"`
	Enabled bool       `json:"enabled" mapstructure:"enabled"`
}

// ConnectionState is the lifecycle state of a feed session
type ConnectionState int

const (
	StateConnecting ConnectionState = iota
	StateConnected
	StateDisconnected
	StateError
	StateCancelled
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateError:
		return "error"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// MarshalText lets statuses serialize their state by name
func (s ConnectionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ServerStatus is the latest known status of one feed server
type ServerStatus struct {
	ServerID         string          `json:"server_id"`
	ServerName       string          `json:"server_name"`
	Address          string          `json:"address"`
	Enabled          bool            `json:"enabled"`
	State            ConnectionState `json:"state"`
	Error            string          `json:"error,omitempty"`
	MessagesReceived uint64          `json:"messages_received"`
	DecodeErrors     uint64          `json:"decode_errors"`
	Frames           uint64          `json:"frames,omitempty"`
	MeanSignalLevel  float64         `json:"mean_signal_level,omitempty"`
	AircraftCount    int             `json:"aircraft_count"`
	ConnectedSince   time.Time       `json:"connected_since,omitzero"`
	LastMessage      time.Time       `json:"last_message,omitzero"`
}

// Text is the short human readable status shown next to a server
func (s ServerStatus) Text() string {
	if s.State == StateError && s.Error != "" {
		return "error: " + s.Error
	}
	return s.State.String()
}
