package protocol

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"adsb_feeds/internal/models"
)

// BaseStation (SBS-1) field positions
const (
	sbsFieldMessageType  = 0
	sbsFieldTransmission = 1
	sbsFieldICAO         = 4
	sbsFieldCallsign     = 10
	sbsFieldAltitude     = 11
	sbsFieldGroundSpeed  = 12
	sbsFieldTrack        = 13
	sbsFieldLatitude     = 14
	sbsFieldLongitude    = 15
	sbsFieldVerticalRate = 16

	sbsMinFields      = 5
	sbsMinTypedFields = 11
)

// ParseBaseStation decodes one SBS-1 line.
// Lines that are well formed but carry nothing of interest return (nil, nil);
// only invalid UTF-8 and an unparseable or out-of-range lat/lon on a type 3
// record are errors.
func ParseBaseStation(line []byte) (models.AircraftMessage, error) {
	if !utf8.Valid(line) {
		return nil, fmt.Errorf("%w: line is not valid UTF-8", ErrInvalidFormat)
	}

	text := strings.TrimRight(string(line), "\r\n")
	fields := strings.Split(text, ",")
	if len(fields) < sbsMinFields || strings.TrimSpace(fields[sbsFieldMessageType]) != "MSG" {
		return nil, nil
	}

	icao := strings.ToUpper(strings.TrimSpace(fields[sbsFieldICAO]))
	if icao == "" {
		return nil, nil
	}

	if len(fields) < sbsMinTypedFields {
		return nil, nil
	}

	switch strings.TrimSpace(fields[sbsFieldTransmission]) {
	case "1":
		callsign := strings.TrimSpace(fields[sbsFieldCallsign])
		if callsign == "" {
			return nil, nil
		}
		return models.Identification{ICAO: icao, Callsign: callsign}, nil

	case "3":
		latText := field(fields, sbsFieldLatitude)
		lonText := field(fields, sbsFieldLongitude)
		if latText == "" || lonText == "" {
			return nil, nil
		}
		lat, err := strconv.ParseFloat(latText, 64)
		if err != nil || !models.ValidLatitude(lat) {
			return nil, &InvalidValueError{Field: "latitude", Value: latText}
		}
		lon, err := strconv.ParseFloat(lonText, 64)
		if err != nil || !models.ValidLongitude(lon) {
			return nil, &InvalidValueError{Field: "longitude", Value: lonText}
		}
		return models.Position{
			ICAO:      icao,
			Latitude:  lat,
			Longitude: lon,
			Altitude:  parseOptionalInt(field(fields, sbsFieldAltitude)),
		}, nil

	case "4":
		speed, err := strconv.ParseFloat(field(fields, sbsFieldGroundSpeed), 64)
		if err != nil || !finite(speed) {
			return nil, nil
		}
		track, err := strconv.ParseFloat(field(fields, sbsFieldTrack), 64)
		if err != nil || !finite(track) {
			return nil, nil
		}
		return models.Velocity{
			ICAO:         icao,
			Speed:        speed,
			Track:        track,
			VerticalRate: parseOptionalInt(field(fields, sbsFieldVerticalRate)),
		}, nil

	case "5", "6", "7", "8":
		altitude := parseOptionalInt(field(fields, sbsFieldAltitude))

		// Type 6 (surveillance ID) may also carry a position
		if strings.TrimSpace(fields[sbsFieldTransmission]) == "6" {
			lat, latErr := strconv.ParseFloat(field(fields, sbsFieldLatitude), 64)
			lon, lonErr := strconv.ParseFloat(field(fields, sbsFieldLongitude), 64)
			if latErr == nil && lonErr == nil && models.ValidLatitude(lat) && models.ValidLongitude(lon) {
				return models.Position{ICAO: icao, Latitude: lat, Longitude: lon, Altitude: altitude}, nil
			}
		}

		if altitude == nil {
			return nil, nil
		}
		return models.Altitude{ICAO: icao, Altitude: *altitude}, nil
	}

	return nil, nil
}

// field returns the trimmed field at idx, or "" when the line is too short
func field(fields []string, idx int) string {
	if idx >= len(fields) {
		return ""
	}
	return strings.TrimSpace(fields[idx])
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// parseOptionalInt accepts integer feet or ft/min values. Some decoders
// print them with a fractional part, which is rounded.
func parseOptionalInt(s string) *int {
	if s == "" {
		return nil
	}
	if v, err := strconv.Atoi(s); err == nil {
		return &v
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || !finite(f) {
		return nil
	}
	v := int(math.Round(f))
	return &v
}
