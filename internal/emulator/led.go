package emulator

import (
	"encoding/binary"

	"github.com/danmuck/instaxemu/internal/printer/model"
	"github.com/danmuck/instaxemu/internal/printer/state"
	"github.com/danmuck/instaxemu/internal/protocol/frame"
	"github.com/rs/zerolog/log"
)

var sensorInfo = []byte{0x00, 0x00, 0xC3, 0x80, 0x00, 0xBE, 0x00, 0x00, 0x00, 0x00}

func handleAxis(st *state.Store, _ model.Profile, _ []byte) Response {
	a := st.Snapshot().Accelerometer
	out := make([]byte, 7)
	binary.LittleEndian.PutUint16(out[0:2], uint16(a.X))
	binary.LittleEndian.PutUint16(out[2:4], uint16(a.Y))
	binary.LittleEndian.PutUint16(out[4:6], uint16(a.Z))
	out[6] = a.Orientation
	return reply(frame.FuncLED, frame.OpLEDAxis, out)
}

// handlePrintMode takes the mode from the first byte of a color table upload.
func handlePrintMode(st *state.Store, _ model.Profile, payload []byte) Response {
	if len(payload) == 0 {
		log.Warn().Msg("color table upload without payload")
		return ack(frame.FuncLED, frame.OpLEDPattern, frame.StatusOK)
	}
	mode := payload[0]
	name, known := state.PrintModeName(mode)
	if !known {
		log.Warn().Uint8("mode", mode).Msg("unknown print mode accepted")
	}
	st.SetPrintMode(mode)
	log.Info().Str("mode", name).Int("table_len", len(payload)-1).Msg("print mode set")
	return ack(frame.FuncLED, frame.OpLEDPattern, frame.StatusOK)
}

func handleAdditionalInfo(_ *state.Store, p model.Profile, payload []byte) Response {
	var kind byte
	if len(payload) > 0 {
		kind = payload[0]
	}
	switch kind {
	case 0x00:
		return reply(frame.FuncLED, frame.OpLEDAdditionalInfo, sensorInfo)
	case 0x01:
		out := make([]byte, 0, 9+len(p.AdditionalInfo))
		out = append(out, 0x00, 0x01, 0x00, 0x00, 0x00)
		out = append(out, p.AdditionalInfo...)
		out = append(out, 0x00, 0x00, 0x00, 0x00)
		return reply(frame.FuncLED, frame.OpLEDAdditionalInfo, out)
	default:
		log.Debug().Uint8("type", kind).Msg("additional info type acknowledged")
		return ack(frame.FuncLED, frame.OpLEDAdditionalInfo, frame.StatusOK)
	}
}
