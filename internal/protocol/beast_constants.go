package protocol

import (
	"fmt"
)

// Beast format constants
const (
	// BeastEscape is the frame start marker and escape character (0x1A, ASCII SUB)
	BeastEscape byte = 0x1A

	// Beast frame type indicators
	BeastTypeModeAC     byte = 0x31 // '1'
	BeastTypeModeSShort byte = 0x32 // '2'
	BeastTypeModeSLong  byte = 0x33 // '3'

	// Beast frame structure lengths
	BeastHeaderLen    = 2 // Escape byte + type byte
	BeastTimestampLen = 6 // 48-bit MLAT timestamp, big-endian
	BeastSignalLen    = 1 // Signal level byte

	// Payload lengths by type
	BeastPayloadLenShort = 7  // 56-bit Mode S
	BeastPayloadLenLong  = 14 // 112-bit Mode S

	BeastFrameLenShort = BeastHeaderLen + BeastTimestampLen + BeastSignalLen + BeastPayloadLenShort // 16 bytes
	BeastFrameLenLong  = BeastHeaderLen + BeastTimestampLen + BeastSignalLen + BeastPayloadLenLong  // 23 bytes
)

// BeastPayloadLen returns the Mode S payload length for a frame type byte.
// Type '1' frames are framed with the long layout, the same as '3'.
func BeastPayloadLen(typeByte byte) (int, error) {
	switch typeByte {
	case BeastTypeModeAC, BeastTypeModeSLong:
		return BeastPayloadLenLong, nil
	case BeastTypeModeSShort:
		return BeastPayloadLenShort, nil
	default:
		return 0, fmt.Errorf("%w: unknown beast frame type %02x", ErrInvalidFormat, typeByte)
	}
}

// BeastFrameLen returns the total unescaped frame length, header included
func BeastFrameLen(typeByte byte) (int, error) {
	n, err := BeastPayloadLen(typeByte)
	if err != nil {
		return 0, err
	}
	return BeastHeaderLen + BeastTimestampLen + BeastSignalLen + n, nil
}
