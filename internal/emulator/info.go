package emulator

import (
	"encoding/binary"
	"time"

	"github.com/danmuck/instaxemu/internal/printer/model"
	"github.com/danmuck/instaxemu/internal/printer/state"
	"github.com/danmuck/instaxemu/internal/protocol/frame"
	"github.com/rs/zerolog/log"
)

// Capability selectors for INFO op 0x02.
const (
	InfoImageSupport    byte = 0x00
	InfoBattery         byte = 0x01
	InfoPrinterFunction byte = 0x02
	InfoPrintHistory    byte = 0x03
)

// HistoryFollowupDelay separates the Wide ready status from the history reply.
const HistoryFollowupDelay = 100 * time.Millisecond

const maxReportedPhotos = 10

func handleIdentify(_ *state.Store, p model.Profile, _ []byte) Response {
	return reply(frame.FuncInfo, frame.OpInfoIdentify,
		[]byte{0x00, 0x01, 0x00, p.IdentifyByte, 0x00, 0x00, 0x00, 0x00, 0x00})
}

func handleQuery(_ *state.Store, p model.Profile, payload []byte) Response {
	if len(payload) == 0 {
		log.Warn().Msg("info query without selector ignored")
		return Response{}
	}
	sel := payload[0]
	s, ok := p.QueryString(sel)
	if !ok {
		log.Warn().Uint8("selector", sel).Msg("unknown info query selector")
		return ack(frame.FuncInfo, frame.OpInfoQuery, frame.StatusOK)
	}
	out := make([]byte, 0, 3+len(s))
	out = append(out, 0x00, sel, byte(len(s)))
	out = append(out, s...)
	return reply(frame.FuncInfo, frame.OpInfoQuery, out)
}

func handleCapability(st *state.Store, p model.Profile, payload []byte) Response {
	if len(payload) == 0 || (len(payload) == 1 && payload[0] == InfoImageSupport) {
		return reply(frame.FuncInfo, frame.OpInfoCapability, dimensionsPayload(p, p.DimensionCaps))
	}

	snap := st.Snapshot()
	switch payload[0] {
	case InfoImageSupport:
		return reply(frame.FuncInfo, frame.OpInfoCapability, dimensionsPayload(p, p.ImageSupportCaps))
	case InfoBattery:
		return reply(frame.FuncInfo, frame.OpInfoCapability,
			[]byte{0x00, InfoBattery, p.BatteryKind, snap.BatteryPercentage, 0x00, 0x10})
	case InfoPrinterFunction:
		return reply(frame.FuncInfo, frame.OpInfoCapability, []byte{
			0x00, InfoPrinterFunction, functionCapability(p, snap), 0x00,
			0x00, snap.PhotosRemaining, 0x00, 0x00, 0x00, 0x00,
		})
	case InfoPrintHistory:
		out := make([]byte, 10)
		out[1] = InfoPrintHistory
		binary.BigEndian.PutUint32(out[2:6], snap.LifetimePrints)
		out[9] = 0x07
		resp := reply(frame.FuncInfo, frame.OpInfoCapability, out)
		if p.HistoryFollowup {
			resp.Followups = append(resp.Followups, Followup{
				Delay: HistoryFollowupDelay,
				Frame: frame.Encode(frame.FuncInfo, frame.OpInfoIdentify,
					[]byte{0x00, 0x01, 0x00, 0x00, 0x00}, frame.FromDevice),
			})
		}
		return resp
	default:
		log.Warn().Uint8("selector", payload[0]).Msg("unknown capability selector")
		return ack(frame.FuncInfo, frame.OpInfoCapability, frame.StatusOK)
	}
}

func dimensionsPayload(p model.Profile, caps []byte) []byte {
	out := make([]byte, 6, 6+len(caps))
	binary.BigEndian.PutUint16(out[2:4], p.Width)
	binary.BigEndian.PutUint16(out[4:6], p.Height)
	return append(out, caps...)
}

// functionCapability packs the model class, the film count (capped at ten)
// and the charging bit into one byte.
func functionCapability(p model.Profile, snap state.Snapshot) byte {
	photos := snap.PhotosRemaining
	if photos > maxReportedPhotos {
		photos = maxReportedPhotos
	}
	c := p.FunctionClass | (photos & 0x0F)
	if snap.Charging {
		c |= 0x80
	}
	return c
}
