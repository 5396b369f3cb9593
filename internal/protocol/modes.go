package protocol

import (
	"fmt"
	"math"
	"strings"

	"adsb_feeds/internal/models"
)

// Downlink formats carrying ADS-B extended squitter
const (
	dfExtendedSquitter    = 17
	dfExtendedSquitterNT  = 18
	modeSLongPayloadBytes = 14
)

// Extended squitter type code ranges
const (
	tcIdentMin       = 1
	tcIdentMax       = 4
	tcAirbornePosMin = 9
	tcAirbornePosMax = 18
	tcVelocity       = 19
)

// cprScale is 2^17, the resolution of a CPR encoded coordinate
const cprScale = 131072.0

// callsignCharset maps 6-bit ICAO characters
const callsignCharset = "?ABCDEFGHIJKLMNOPQRSTUVWXYZ????? ???????????????0123456789??????"

// DecodeModeS decodes an ADS-B message body. Anything that is not DF17/18
// or has an unhandled type code returns (nil, nil).
func DecodeModeS(payload []byte) (models.AircraftMessage, error) {
	if len(payload) == 0 {
		return nil, nil
	}

	df := payload[0] >> 3
	if df != dfExtendedSquitter && df != dfExtendedSquitterNT {
		return nil, nil
	}
	if len(payload) < modeSLongPayloadBytes {
		return nil, fmt.Errorf("%w: DF%d payload is %d bytes", ErrMissingField, df, len(payload))
	}

	icao := fmt.Sprintf("%06X", uint32(payload[1])<<16|uint32(payload[2])<<8|uint32(payload[3]))
	me := payload[4:11]
	tc := me[0] >> 3

	switch {
	case tc >= tcIdentMin && tc <= tcIdentMax:
		callsign := decodeCallsign(me[1:7])
		if callsign == "" {
			return nil, nil
		}
		return models.Identification{ICAO: icao, Callsign: callsign}, nil

	case tc >= tcAirbornePosMin && tc <= tcAirbornePosMax:
		lat, lon := decodeCPRNaive(me)
		return models.Position{
			ICAO:      icao,
			Latitude:  lat,
			Longitude: lon,
			Altitude:  decodeAltitude(me),
		}, nil

	case tc == tcVelocity:
		speed, track, vr, ok := decodeVelocity(me)
		if !ok {
			return nil, nil
		}
		return models.Velocity{ICAO: icao, Speed: speed, Track: track, VerticalRate: vr}, nil
	}

	return nil, nil
}

// decodeCallsign unpacks 8 six-bit characters from 6 bytes
func decodeCallsign(data []byte) string {
	var sb strings.Builder
	for half := 0; half < 2; half++ {
		bits := uint32(data[half*3])<<16 | uint32(data[half*3+1])<<8 | uint32(data[half*3+2])
		for shift := 18; shift >= 0; shift -= 6 {
			sb.WriteByte(callsignCharset[bits>>uint(shift)&0x3F])
		}
	}
	return strings.TrimRight(sb.String(), " ")
}

// decodeAltitude reads the 12-bit AC field. Only the Q-bit (25 ft) encoding
// is supported; Gillham coded altitudes are reported as unknown.
func decodeAltitude(me []byte) *int {
	ac12 := uint16(me[1])<<4 | uint16(me[2])>>4
	if ac12&0x10 == 0 {
		return nil
	}
	n := (ac12&0x0FE0)>>1 | ac12&0x000F
	alt := int(n)*25 - 1000
	return &alt
}

// decodeCPRNaive linearly rescales the 17-bit CPR fractions onto the whole
// globe. This is not even/odd CPR resolution and is only roughly right near
// the zone origin; positions produced this way will mostly be rejected by
// the tracker's distance filter.
// TODO: pair even/odd frames per aircraft for a global CPR decode.
func decodeCPRNaive(me []byte) (lat, lon float64) {
	latCPR := uint32(me[2]&0x03)<<15 | uint32(me[3])<<7 | uint32(me[4])>>1
	lonCPR := uint32(me[4]&0x01)<<16 | uint32(me[5])<<8 | uint32(me[6])

	lat = float64(latCPR)/cprScale*180.0 - 90.0
	lon = float64(lonCPR)/cprScale*360.0 - 180.0
	return lat, lon
}

// decodeVelocity handles ground speed subtypes 1 (subsonic) and 2 (supersonic)
func decodeVelocity(me []byte) (speed, track float64, verticalRate *int, ok bool) {
	subtype := me[0] & 0x07
	if subtype != 1 && subtype != 2 {
		return 0, 0, nil, false
	}

	ew := int(me[1]&0x03)<<8 | int(me[2])
	ns := int(me[3]&0x7F)<<3 | int(me[4])>>5
	if ew == 0 || ns == 0 {
		// Zero means "no velocity information available"
		return 0, 0, nil, false
	}
	ew--
	ns--
	if me[1]&0x04 != 0 {
		ew = -ew
	}
	if me[3]&0x80 != 0 {
		ns = -ns
	}
	if subtype == 2 {
		ew *= 4
		ns *= 4
	}

	speed = math.Hypot(float64(ew), float64(ns))
	track = math.Atan2(float64(ew), float64(ns)) * 180.0 / math.Pi
	if track < 0 {
		track += 360
	}

	vr := int(me[4]&0x07)<<6 | int(me[5])>>2
	if vr != 0 {
		rate := (vr - 1) * 64
		if me[4]&0x08 != 0 {
			rate = -rate
		}
		verticalRate = &rate
	}

	return speed, track, verticalRate, true
}
