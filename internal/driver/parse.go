package driver

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/danmuck/instaxemu/internal/protocol/frame"
)

var ErrShortPayload = errors.New("driver: response payload too short")

// ParseResponse decodes one printer-to-app frame.
func ParseResponse(b []byte) (frame.Frame, error) {
	return frame.Decode(b, frame.FromDevice)
}

// ParseImageSupport reads the image size from a capability reply.
func ParseImageSupport(payload []byte) (width, height uint16, err error) {
	if len(payload) < 6 {
		return 0, 0, fmt.Errorf("%w: image support needs 6 bytes, got %d", ErrShortPayload, len(payload))
	}
	return binary.BigEndian.Uint16(payload[2:4]), binary.BigEndian.Uint16(payload[4:6]), nil
}

func ParseBattery(payload []byte) (state, percentage uint8, err error) {
	if len(payload) < 4 {
		return 0, 0, fmt.Errorf("%w: battery needs 4 bytes, got %d", ErrShortPayload, len(payload))
	}
	return payload[2], payload[3], nil
}

// ParsePrinterFunction reads the film count from the low nibble and the
// charging flag from bit 7 of the capability byte.
func ParsePrinterFunction(payload []byte) (photos uint8, charging bool, err error) {
	if len(payload) < 3 {
		return 0, false, fmt.Errorf("%w: printer function needs 3 bytes, got %d", ErrShortPayload, len(payload))
	}
	b := payload[2]
	return b & 0x0F, b&0x80 != 0, nil
}

func ParsePrintHistory(payload []byte) (uint32, error) {
	if len(payload) < 6 {
		return 0, fmt.Errorf("%w: print history needs 6 bytes, got %d", ErrShortPayload, len(payload))
	}
	return binary.BigEndian.Uint32(payload[2:6]), nil
}
