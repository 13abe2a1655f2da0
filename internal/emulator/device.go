package emulator

import (
	"github.com/danmuck/instaxemu/internal/printer/model"
	"github.com/danmuck/instaxemu/internal/printer/state"
	"github.com/danmuck/instaxemu/internal/protocol/frame"
	"github.com/rs/zerolog/log"
)

func handleShutdown(_ *state.Store, _ model.Profile, _ []byte) Response {
	log.Info().Msg("shutdown requested")
	return ack(frame.FuncDeviceControl, frame.OpDeviceShutdown, frame.StatusOK)
}

func handleReset(_ *state.Store, _ model.Profile, _ []byte) Response {
	log.Info().Msg("reset requested")
	return ack(frame.FuncDeviceControl, frame.OpDeviceReset, frame.StatusOK)
}

// handleAutoSleep stores the idle shutdown timeout; zero means never.
func handleAutoSleep(st *state.Store, _ model.Profile, payload []byte) Response {
	if len(payload) >= 1 {
		st.SetAutoSleep(payload[0])
		log.Info().Uint8("minutes", payload[0]).Bool("never", payload[0] == 0).Msg("auto-sleep updated")
	} else {
		log.Warn().Msg("auto-sleep command without payload")
	}
	return ack(frame.FuncDeviceControl, frame.OpDeviceAutoSleep, frame.StatusOK)
}

func handleBLE(_ *state.Store, _ model.Profile, payload []byte) Response {
	log.Debug().Int("payload_len", len(payload)).Msg("ble housekeeping")
	return ack(frame.FuncDeviceControl, frame.OpDeviceBLE, frame.StatusOK)
}
