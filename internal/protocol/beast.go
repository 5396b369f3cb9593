package protocol

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"adsb_feeds/internal/models"
)

// maxBeastBuffer bounds the bytes held while waiting for a frame to complete.
// Anything beyond this without a decodable frame is line noise.
const maxBeastBuffer = 64 * 1024

// Frame is one unescaped Beast frame
type Frame struct {
	Type        byte
	Timestamp   uint64 // 48-bit MLAT counter (12 MHz ticks)
	SignalLevel uint8
	Payload     []byte // 7 or 14 bytes of Mode S
}

// Hex returns the Mode S payload as a hex string
func (f *Frame) Hex() string {
	return hex.EncodeToString(f.Payload)
}

// ParseFrame parses an already unescaped Beast frame
// Beast format: 0x1a [type] [6-byte timestamp] [1-byte signal] [7 or 14-byte payload]
func ParseFrame(data []byte) (*Frame, error) {
	if len(data) < BeastHeaderLen {
		return nil, fmt.Errorf("%w: beast frame too short: %d bytes", ErrMissingField, len(data))
	}
	if data[0] != BeastEscape {
		return nil, fmt.Errorf("%w: invalid beast header: %02x %02x", ErrInvalidFormat, data[0], data[1])
	}

	frameLen, err := BeastFrameLen(data[1])
	if err != nil {
		return nil, err
	}
	if len(data) < frameLen {
		return nil, fmt.Errorf("%w: beast frame too short: %d of %d bytes", ErrMissingField, len(data), frameLen)
	}

	var ts uint64
	for _, b := range data[2:8] {
		ts = ts<<8 | uint64(b)
	}

	payload := make([]byte, frameLen-9)
	copy(payload, data[9:frameLen])

	return &Frame{
		Type:        data[1],
		Timestamp:   ts,
		SignalLevel: data[8],
		Payload:     payload,
	}, nil
}

// BeastDecoder reassembles Beast frames from an arbitrary byte stream.
// It keeps partial frames buffered between calls and is not safe for
// concurrent use.
type BeastDecoder struct {
	buf   []byte
	stats FrameStats
}

// FrameStats counts the frames a decoder has reassembled
type FrameStats struct {
	Frames    uint64
	signalSum uint64
}

// MeanSignalLevel is the average raw signal byte over every frame, 0 when none were seen
func (s FrameStats) MeanSignalLevel() float64 {
	if s.Frames == 0 {
		return 0
	}
	return float64(s.signalSum) / float64(s.Frames)
}

func NewBeastDecoder() *BeastDecoder {
	return &BeastDecoder{}
}

// Feed appends chunk to the buffer and decodes every complete frame in it
func (d *BeastDecoder) Feed(chunk []byte) ([]models.AircraftMessage, []error) {
	d.buf = append(d.buf, chunk...)

	var msgs []models.AircraftMessage
	var errs []error
	for {
		frame, ok := d.nextFrame()
		if !ok {
			break
		}
		d.stats.Frames++
		d.stats.signalSum += uint64(frame.SignalLevel)

		msg, err := DecodeModeS(frame.Payload)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if msg != nil {
			msgs = append(msgs, msg)
		}
	}

	if len(d.buf) > maxBeastBuffer {
		errs = append(errs, fmt.Errorf("%w: discarded %d bytes without a frame", ErrInvalidFormat, len(d.buf)))
		d.buf = d.buf[:0]
	}
	return msgs, errs
}

// Reset drops any partially received frame
func (d *BeastDecoder) Reset() {
	d.buf = d.buf[:0]
}

// Stats returns the frame counters since the decoder was created. Reset keeps them.
func (d *BeastDecoder) Stats() FrameStats {
	return d.stats
}

// Buffered returns the number of bytes waiting for a frame to complete
func (d *BeastDecoder) Buffered() int {
	return len(d.buf)
}

// nextFrame extracts the next complete frame. It returns false when more
// input is needed.
func (d *BeastDecoder) nextFrame() (*Frame, bool) {
	for {
		start := bytes.IndexByte(d.buf, BeastEscape)
		if start < 0 {
			d.consume(len(d.buf))
			return nil, false
		}
		d.consume(start)

		if len(d.buf) < BeastHeaderLen {
			return nil, false
		}

		frameLen, err := BeastFrameLen(d.buf[1])
		if err != nil {
			// Unknown type (or an escaped 0x1A outside a frame): resync
			d.consume(1)
			continue
		}

		frame := make([]byte, 0, frameLen)
		frame = append(frame, d.buf[0], d.buf[1])
		i := BeastHeaderLen
		resync := false
		for len(frame) < frameLen {
			if i >= len(d.buf) {
				return nil, false
			}
			b := d.buf[i]
			if b == BeastEscape {
				if i+1 >= len(d.buf) {
					return nil, false
				}
				if d.buf[i+1] != BeastEscape {
					// A lone escape is the start of the next frame, so this one is truncated
					resync = true
					break
				}
				i++
			}
			frame = append(frame, b)
			i++
		}

		if resync {
			d.consume(i)
			continue
		}

		d.consume(i)
		parsed, err := ParseFrame(frame)
		if err != nil {
			continue
		}
		return parsed, true
	}
}

func (d *BeastDecoder) consume(n int) {
	d.buf = d.buf[:copy(d.buf, d.buf[n:])]
}
