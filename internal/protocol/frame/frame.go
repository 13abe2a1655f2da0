package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	HeaderLen  = 6
	TrailerLen = 1
	MinLen     = HeaderLen + TrailerLen
	AckLen     = MinLen + 1
	// MaxPayload keeps total_length inside its u16 field.
	MaxPayload = 0xFFFF - MinLen
)

// Function codes.
const (
	FuncInfo          byte = 0x00
	FuncDeviceControl byte = 0x01
	FuncPrint         byte = 0x10
	FuncLED           byte = 0x30
)

// Operation codes, grouped by function.
const (
	OpInfoIdentify   byte = 0x00
	OpInfoQuery      byte = 0x01
	OpInfoCapability byte = 0x02

	OpDeviceShutdown  byte = 0x00
	OpDeviceReset     byte = 0x01
	OpDeviceAutoSleep byte = 0x02
	OpDeviceBLE       byte = 0x03

	OpPrintStart   byte = 0x00
	OpPrintData    byte = 0x01
	OpPrintEnd     byte = 0x02
	OpPrintCancel  byte = 0x03
	OpPrintExecute byte = 0x80

	OpLEDAxis           byte = 0x00
	OpLEDPattern        byte = 0x01
	OpLEDAxisAction     byte = 0x02
	OpLEDDouble         byte = 0x03
	OpLEDPowerOn        byte = 0x04
	OpLEDVibration      byte = 0x06
	OpLEDAdditionalInfo byte = 0x10
)

// Status bytes carried in an ACK.
const (
	StatusOK           byte = 0x00
	StatusStartFailure byte = 0xB1
	StatusNoFilm       byte = 0xB2
	StatusCoverOpen    byte = 0xB3
	StatusBatteryLow   byte = 0xB4
	StatusPrinterBusy  byte = 0xB5
)

// Direction selects the two-byte magic at the start of a frame.
type Direction uint8

const (
	// ToDevice frames travel app -> printer ("Ab").
	ToDevice Direction = iota
	// FromDevice frames travel printer -> app ("aB").
	FromDevice
)

var (
	MagicToDevice   = [2]byte{0x41, 0x62}
	MagicFromDevice = [2]byte{0x61, 0x42}
)

func (d Direction) Magic() [2]byte {
	if d == FromDevice {
		return MagicFromDevice
	}
	return MagicToDevice
}

func (d Direction) String() string {
	if d == FromDevice {
		return "from_device"
	}
	return "to_device"
}

var (
	ErrTooShort        = errors.New("frame: shorter than minimum frame")
	ErrBadHeader       = errors.New("frame: header magic mismatch")
	ErrLengthMismatch  = errors.New("frame: total_length exceeds available bytes")
	ErrPayloadTooLarge = errors.New("frame: payload too large")
)

// Frame is one complete protocol message.
type Frame struct {
	Direction Direction
	Function  byte
	Operation byte
	Payload   []byte
	// Checksum is the trailing byte as received; Encode recomputes it.
	Checksum byte
}

// Checksum returns (255 - sum(b)) mod 256.
func Checksum(b []byte) byte {
	var sum byte
	for _, v := range b {
		sum += v
	}
	return 0xFF - sum
}

// Encode builds a frame for the given direction. Payloads larger than
// MaxPayload panic.
func Encode(function, operation byte, payload []byte, dir Direction) []byte {
	if len(payload) > MaxPayload {
		panic(fmt.Sprintf("frame: payload of %d bytes exceeds %d", len(payload), MaxPayload))
	}
	total := MinLen + len(payload)
	buf := make([]byte, total)
	magic := dir.Magic()
	buf[0], buf[1] = magic[0], magic[1]
	binary.BigEndian.PutUint16(buf[2:4], uint16(total))
	buf[4] = function
	buf[5] = operation
	copy(buf[HeaderLen:], payload)
	buf[total-1] = Checksum(buf[:total-1])
	return buf
}

// EncodeFrame is Encode over a Frame value; the stored checksum is ignored.
func EncodeFrame(f Frame) []byte {
	return Encode(f.Function, f.Operation, f.Payload, f.Direction)
}

// Ack builds the uniform 8-byte printer acknowledgement.
func Ack(function, operation, status byte) []byte {
	return Encode(function, operation, []byte{status}, FromDevice)
}

// Decode parses one frame. It reads total_length from the header and ignores
// any trailing bytes past it. The checksum is carried through but not checked.
func Decode(b []byte, dir Direction) (Frame, error) {
	if len(b) < MinLen {
		return Frame{}, ErrTooShort
	}
	magic := dir.Magic()
	if b[0] != magic[0] || b[1] != magic[1] {
		return Frame{}, ErrBadHeader
	}
	total := int(binary.BigEndian.Uint16(b[2:4]))
	if total < MinLen {
		return Frame{}, ErrTooShort
	}
	if total > len(b) {
		return Frame{}, ErrLengthMismatch
	}
	payload := make([]byte, total-MinLen)
	copy(payload, b[HeaderLen:total-TrailerLen])
	return Frame{
		Direction: dir,
		Function:  b[4],
		Operation: b[5],
		Payload:   payload,
		Checksum:  b[total-1],
	}, nil
}

// Valid reports whether the carried checksum matches the frame contents.
func (f Frame) Valid() bool {
	enc := EncodeFrame(f)
	return enc[len(enc)-1] == f.Checksum
}

// Len is the encoded size of f.
func (f Frame) Len() int {
	return MinLen + len(f.Payload)
}

// Status returns the ACK status byte, or false if f is not ACK-shaped.
func (f Frame) Status() (byte, bool) {
	if len(f.Payload) != 1 {
		return 0, false
	}
	return f.Payload[0], true
}

// PeekLength returns total_length from a buffer that starts with a header.
func PeekLength(b []byte) (int, bool) {
	if len(b) < 4 {
		return 0, false
	}
	return int(binary.BigEndian.Uint16(b[2:4])), true
}
