package protocol

import (
	"strings"
	"testing"

	"adsb_feeds/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStreamDecoder(t *testing.T) {
	d, err := NewStreamDecoder(models.FormatBaseStation)
	require.NoError(t, err)
	assert.IsType(t, &LineDecoder{}, d)

	d, err = NewStreamDecoder(models.FormatBeast)
	require.NoError(t, err)
	assert.IsType(t, &BeastDecoder{}, d)

	_, err = NewStreamDecoder("avr")
	assert.ErrorIs(t, err, ErrInvalidFormat)
}

func TestLineDecoder_PartialLines(t *testing.T) {
	d := NewLineDecoder()
	line := "MSG,1,1,1,A1B2C3,1,2024/01/01,00:00:00.000,2024/01/01,00:00:00.000,UAL123\r\n"

	msgs, errs := d.Feed([]byte(line[:20]))
	assert.Empty(t, msgs)
	assert.Empty(t, errs)

	msgs, errs = d.Feed([]byte(line[20:]))
	assert.Empty(t, errs)
	require.Len(t, msgs, 1)
	assert.Equal(t, models.Identification{ICAO: "A1B2C3", Callsign: "UAL123"}, msgs[0])
}

func TestLineDecoder_NoisyStream(t *testing.T) {
	d := NewLineDecoder()
	stream := strings.Join([]string{
		"garbage",
		"",
		"MSG,3,1,1,A1B2C3,1,2024/01/01,00:00:00.000,2024/01/01,00:00:00.000,,35000,,,bogus,-118.4081,",
		"MSG,4,1,1,A1B2C3,1,2024/01/01,00:00:00.000,2024/01/01,00:00:00.000,,,450,270,,,1500",
		"STA,,5,179,400AE7,10103",
		"MSG,5,1,1,A1B2C3,1,2024/01/01,00:00:00.000,2024/01/01,00:00:00.000,,36000,,,,,,,0,,0,0",
		"",
	}, "\n")

	msgs, errs := d.Feed([]byte(stream))
	require.Len(t, errs, 1)
	var invalid *InvalidValueError
	assert.ErrorAs(t, errs[0], &invalid)

	require.Len(t, msgs, 2)
	assert.Equal(t, models.KindVelocity, msgs[0].Kind())
	assert.Equal(t, models.KindAltitude, msgs[1].Kind())
}

func TestLineDecoder_OverlongLine(t *testing.T) {
	d := NewLineDecoder()

	_, errs := d.Feed([]byte(strings.Repeat("x", maxLineLength+1)))
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], ErrInvalidFormat)

	msgs, errs := d.Feed([]byte("\nMSG,7,1,1,A1B2C3,1,2024/01/01,00:00:00.000,2024/01/01,00:00:00.000,,9000,,,,,,,,,,\n"))
	assert.Empty(t, errs)
	require.Len(t, msgs, 1)
	assert.Equal(t, models.Altitude{ICAO: "A1B2C3", Altitude: 9000}, msgs[0])
}

func TestLineDecoder_OverlongLineTailIsDiscarded(t *testing.T) {
	d := NewLineDecoder()

	_, errs := d.Feed([]byte(strings.Repeat("x", maxLineLength+1)))
	require.Len(t, errs, 1)

	// The rest of the overlong line looks like a record but belongs to the dropped line
	msgs, errs := d.Feed([]byte("MSG,3,1,1,A1B2C3,1,2024/01/01,00:00:00.000,2024/01/01,00:00:00.000,,35000,,,north,-118.4,"))
	assert.Empty(t, errs)
	assert.Empty(t, msgs)

	msgs, errs = d.Feed([]byte("\nMSG,7,1,1,A1B2C3,1,2024/01/01,00:00:00.000,2024/01/01,00:00:00.000,,9000,,,,,,,,,,\n"))
	assert.Empty(t, errs)
	require.Len(t, msgs, 1)
	assert.Equal(t, models.Altitude{ICAO: "A1B2C3", Altitude: 9000}, msgs[0])
}

func TestLineDecoder_ResetStopsSkipping(t *testing.T) {
	d := NewLineDecoder()
	d.Feed([]byte(strings.Repeat("x", maxLineLength+1)))
	d.Reset()

	msgs, errs := d.Feed([]byte("MSG,7,1,1,A1B2C3,1,2024/01/01,00:00:00.000,2024/01/01,00:00:00.000,,9000,,,,,,,,,,\n"))
	assert.Empty(t, errs)
	require.Len(t, msgs, 1)
}
