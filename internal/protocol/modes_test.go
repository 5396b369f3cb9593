package protocol

import (
	"testing"

	"adsb_feeds/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeModeS_Identification(t *testing.T) {
	msg, err := DecodeModeS(mustHex(t, identHex))
	require.NoError(t, err)
	assert.Equal(t, models.Identification{ICAO: "4840D6", Callsign: "KLM1023"}, msg)
}

func TestDecodeModeS_AirbornePosition(t *testing.T) {
	msg, err := DecodeModeS(mustHex(t, positionHex))
	require.NoError(t, err)

	pos, ok := msg.(models.Position)
	require.True(t, ok, "expected Position, got %T", msg)
	assert.Equal(t, "40621D", pos.ICAO)
	require.NotNil(t, pos.Altitude)
	assert.Equal(t, 38000, *pos.Altitude)

	// Naive scaling of the raw CPR fractions (lat 93000, lon 51372)
	assert.InDelta(t, 93000.0/131072.0*180.0-90.0, pos.Latitude, 1e-9)
	assert.InDelta(t, 51372.0/131072.0*360.0-180.0, pos.Longitude, 1e-9)
}

func TestDecodeModeS_AltitudeWithoutQBit(t *testing.T) {
	payload := mustHex(t, positionHex)
	payload[5] &^= 0x01 // Q bit

	msg, err := DecodeModeS(payload)
	require.NoError(t, err)

	pos, ok := msg.(models.Position)
	require.True(t, ok)
	assert.Nil(t, pos.Altitude)
}

func TestDecodeModeS_Velocity(t *testing.T) {
	msg, err := DecodeModeS(mustHex(t, velocityHex))
	require.NoError(t, err)

	vel, ok := msg.(models.Velocity)
	require.True(t, ok, "expected Velocity, got %T", msg)
	assert.Equal(t, "485020", vel.ICAO)
	assert.InDelta(t, 159.2, vel.Speed, 0.01)
	assert.InDelta(t, 182.88, vel.Track, 0.01)
	require.NotNil(t, vel.VerticalRate)
	assert.Equal(t, -832, *vel.VerticalRate)
}

func TestDecodeModeS_VelocityAirspeedSubtype(t *testing.T) {
	payload := mustHex(t, velocityHex)
	payload[4] = payload[4]&^0x07 | 0x03 // subtype 3, airspeed and heading

	msg, err := DecodeModeS(payload)
	require.NoError(t, err)
	assert.Nil(t, msg)
}

func TestDecodeModeS_Ignored(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
	}{
		{name: "empty", payload: nil},
		{name: "DF4 surveillance", payload: mustHex(t, "20001838CA3E51")},
		{name: "DF20 comm-b", payload: mustHex(t, "A0001838CA3E51F0A8000047A6C1")},
		{name: "surface position type code", payload: mustHex(t, "8C4841753A9A153237AEF0F275BE")},
		{name: "operational status type code", payload: mustHex(t, "8D4840D6F8000000000000000000")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := DecodeModeS(tt.payload)
			require.NoError(t, err)
			assert.Nil(t, msg)
		})
	}
}

func TestDecodeModeS_TruncatedSquitter(t *testing.T) {
	msg, err := DecodeModeS(mustHex(t, "8D4840D6202CC3"))
	assert.Nil(t, msg)
	assert.ErrorIs(t, err, ErrMissingField)
}
