package protocol

import (
	"bytes"
	"fmt"

	"adsb_feeds/internal/models"
)

// maxLineLength bounds a BaseStation record; real lines are ~120 bytes
const maxLineLength = 4096

// StreamDecoder turns a raw feed byte stream into aircraft messages.
// Feed may be called with arbitrary chunk boundaries. Records that fail to
// decode are reported in errs and skipped; decoding continues with the next record.
type StreamDecoder interface {
	Feed(chunk []byte) (msgs []models.AircraftMessage, errs []error)
	Reset()
}

// FrameCounter is implemented by decoders of framed binary feeds
type FrameCounter interface {
	Stats() FrameStats
}

// NewStreamDecoder returns the decoder for a feed format
func NewStreamDecoder(format models.FeedFormat) (StreamDecoder, error) {
	switch format {
	case models.FormatBaseStation, "":
		return NewLineDecoder(), nil
	case models.FormatBeast:
		return NewBeastDecoder(), nil
	default:
		return nil, fmt.Errorf("%w: unsupported feed format %q", ErrInvalidFormat, format)
	}
}

// LineDecoder splits a newline-delimited BaseStation stream into records
type LineDecoder struct {
	partial []byte
	// skipping drops input up to the next newline after an overlong line
	skipping bool
}

func NewLineDecoder() *LineDecoder {
	return &LineDecoder{}
}

func (d *LineDecoder) Feed(chunk []byte) ([]models.AircraftMessage, []error) {
	var msgs []models.AircraftMessage
	var errs []error

	for len(chunk) > 0 {
		idx := bytes.IndexByte(chunk, '\n')
		if d.skipping {
			if idx < 0 {
				break
			}
			d.skipping = false
			chunk = chunk[idx+1:]
			continue
		}
		if idx < 0 {
			d.partial = append(d.partial, chunk...)
			if len(d.partial) > maxLineLength {
				errs = append(errs, fmt.Errorf("%w: line exceeds %d bytes", ErrInvalidFormat, maxLineLength))
				d.partial = d.partial[:0]
				d.skipping = true
			}
			break
		}

		line := chunk[:idx]
		if len(d.partial) > 0 {
			line = append(d.partial, line...)
			d.partial = d.partial[:0]
		}
		chunk = chunk[idx+1:]

		line = bytes.TrimRight(line, "\r")
		if len(line) == 0 {
			continue
		}

		msg, err := ParseBaseStation(line)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if msg != nil {
			msgs = append(msgs, msg)
		}
	}

	return msgs, errs
}

func (d *LineDecoder) Reset() {
	d.partial = d.partial[:0]
	d.skipping = false
}
