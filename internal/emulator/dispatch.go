package emulator

import (
	"github.com/danmuck/instaxemu/internal/observability"
	"github.com/danmuck/instaxemu/internal/printer/model"
	"github.com/danmuck/instaxemu/internal/printer/state"
	"github.com/danmuck/instaxemu/internal/protocol/frame"
	"github.com/rs/zerolog/log"
)

// Handler builds the response for one (function, operation) pair.
type Handler func(st *state.Store, p model.Profile, payload []byte) Response

type route struct {
	function  byte
	operation byte
}

// Dispatcher routes decoded frames to handlers. Unknown operations under a
// known function get an OK ACK; unknown functions get nothing.
type Dispatcher struct {
	store     *state.Store
	profile   model.Profile
	job       *Job
	routes    map[route]Handler
	functions map[byte]string
}

func NewDispatcher(store *state.Store, profile model.Profile, sink JobSink) *Dispatcher {
	d := &Dispatcher{
		store:     store,
		profile:   profile,
		job:       NewJob(sink),
		routes:    make(map[route]Handler),
		functions: make(map[byte]string),
	}

	d.register(frame.FuncInfo, "info", map[byte]Handler{
		frame.OpInfoIdentify:   handleIdentify,
		frame.OpInfoQuery:      handleQuery,
		frame.OpInfoCapability: handleCapability,
	})
	d.register(frame.FuncDeviceControl, "device_control", map[byte]Handler{
		frame.OpDeviceShutdown:  handleShutdown,
		frame.OpDeviceReset:     handleReset,
		frame.OpDeviceAutoSleep: handleAutoSleep,
		frame.OpDeviceBLE:       handleBLE,
	})
	d.register(frame.FuncPrint, "print", map[byte]Handler{
		frame.OpPrintStart:   d.job.Start,
		frame.OpPrintData:    d.job.Data,
		frame.OpPrintEnd:     d.job.End,
		frame.OpPrintCancel:  d.job.Cancel,
		frame.OpPrintExecute: d.job.Execute,
	})
	d.register(frame.FuncLED, "led", map[byte]Handler{
		frame.OpLEDAxis:           handleAxis,
		frame.OpLEDPattern:        handlePrintMode,
		frame.OpLEDAdditionalInfo: handleAdditionalInfo,
	})
	return d
}

func (d *Dispatcher) register(function byte, name string, ops map[byte]Handler) {
	d.functions[function] = name
	for op, h := range ops {
		d.routes[route{function: function, operation: op}] = h
	}
}

func (d *Dispatcher) Profile() model.Profile {
	return d.profile
}

func (d *Dispatcher) Store() *state.Store {
	return d.store
}

func (d *Dispatcher) Job() *Job {
	return d.job
}

// Dispatch handles one decoded frame.
func (d *Dispatcher) Dispatch(f frame.Frame) Response {
	modelName := d.profile.ID.String()
	observability.RecordFrame(modelName, f.Function, f.Operation)

	name, known := d.functions[f.Function]
	if !known {
		log.Warn().
			Str("model", modelName).
			Uint8("function", f.Function).
			Uint8("operation", f.Operation).
			Msg("unknown function ignored")
		return Response{}
	}

	h, ok := d.routes[route{function: f.Function, operation: f.Operation}]
	if !ok {
		log.Debug().
			Str("function", name).
			Uint8("operation", f.Operation).
			Int("payload_len", len(f.Payload)).
			Msg("unhandled operation acknowledged")
		return ack(f.Function, f.Operation, frame.StatusOK)
	}
	return h(d.store, d.profile, f.Payload)
}
