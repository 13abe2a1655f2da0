package bridge

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/danmuck/instaxemu/internal/printer/model"
)

const (
	SyncByte   = 0x7E
	headerLen  = 5
	trailerLen = 2
	// MaxData bounds one packet body. BLE writes are far smaller; the bound
	// only limits how much garbage a bad length field can make us wait for.
	MaxData = 4096
)

// Kind is the packet type.
type Kind uint8

const (
	KindConnect      Kind = 0x01
	KindDisconnect   Kind = 0x02
	KindWrite        Kind = 0x03
	KindNotify       Kind = 0x04
	KindSubscribe    Kind = 0x05
	KindReadRequest  Kind = 0x06
	KindReadResponse Kind = 0x07
	// KindError answers a write or subscribe with a one-byte ATT error code.
	KindError Kind = 0x08
)

func (k Kind) String() string {
	switch k {
	case KindConnect:
		return "connect"
	case KindDisconnect:
		return "disconnect"
	case KindWrite:
		return "write"
	case KindNotify:
		return "notify"
	case KindSubscribe:
		return "subscribe"
	case KindReadRequest:
		return "read_request"
	case KindReadResponse:
		return "read_response"
	case KindError:
		return "error"
	default:
		return fmt.Sprintf("kind(0x%02x)", uint8(k))
	}
}

// ATT error codes carried in KindError and in the first byte of a
// KindReadResponse.
const (
	ATTSuccess             byte = 0x00
	ATTReadNotPermitted    byte = 0x02
	ATTWriteNotPermitted   byte = 0x03
	ATTRequestNotSupported byte = 0x06
	ATTAttributeNotFound   byte = 0x0A
	ATTUnlikelyError       byte = 0x0E
)

var ErrPacketTooLarge = errors.New("bridge: packet data too large")

type Packet struct {
	Kind     Kind
	Endpoint model.Endpoint
	Data     []byte
}

// Encode frames p as sync, kind, endpoint, length, data and CRC16. The CRC
// covers kind through data.
func Encode(p Packet) ([]byte, error) {
	if len(p.Data) > MaxData {
		return nil, fmt.Errorf("%w: %d > %d", ErrPacketTooLarge, len(p.Data), MaxData)
	}
	buf := make([]byte, headerLen+len(p.Data)+trailerLen)
	buf[0] = SyncByte
	buf[1] = byte(p.Kind)
	buf[2] = byte(p.Endpoint)
	binary.BigEndian.PutUint16(buf[3:5], uint16(len(p.Data)))
	copy(buf[headerLen:], p.Data)
	end := headerLen + len(p.Data)
	binary.BigEndian.PutUint16(buf[end:], crc16(buf[1:end]))
	return buf, nil
}

// Decoder splits a byte stream into packets. Bytes that do not start a
// valid packet are skipped until the next sync byte.
type Decoder struct {
	buf     []byte
	dropped uint64
}

// Feed appends b and returns every packet it completes.
func (d *Decoder) Feed(b []byte) []Packet {
	d.buf = append(d.buf, b...)
	var out []Packet
	for {
		i := indexSync(d.buf)
		if i < 0 {
			d.dropped += uint64(len(d.buf))
			d.buf = d.buf[:0]
			return out
		}
		if i > 0 {
			d.dropped += uint64(i)
			d.buf = d.buf[i:]
		}
		if len(d.buf) < headerLen {
			return out
		}
		n := int(binary.BigEndian.Uint16(d.buf[3:5]))
		if n > MaxData {
			d.skip()
			continue
		}
		total := headerLen + n + trailerLen
		if len(d.buf) < total {
			return out
		}
		end := headerLen + n
		if binary.BigEndian.Uint16(d.buf[end:total]) != crc16(d.buf[1:end]) {
			d.skip()
			continue
		}
		out = append(out, Packet{
			Kind:     Kind(d.buf[1]),
			Endpoint: model.Endpoint(d.buf[2]),
			Data:     append([]byte(nil), d.buf[headerLen:end]...),
		})
		d.buf = d.buf[total:]
	}
}

// Dropped counts bytes discarded while resynchronizing.
func (d *Decoder) Dropped() uint64 {
	return d.dropped
}

func (d *Decoder) skip() {
	d.dropped++
	d.buf = d.buf[1:]
}

func indexSync(b []byte) int {
	for i, v := range b {
		if v == SyncByte {
			return i
		}
	}
	return -1
}
