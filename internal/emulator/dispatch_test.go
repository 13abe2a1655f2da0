package emulator

import (
	"bytes"
	"testing"

	"github.com/danmuck/instaxemu/internal/printer/model"
	"github.com/danmuck/instaxemu/internal/printer/state"
	"github.com/danmuck/instaxemu/internal/protocol/frame"
	"github.com/danmuck/instaxemu/internal/testutil/testlog"
)

func newDispatcher(id model.ID, snap state.Snapshot) *Dispatcher {
	return NewDispatcher(state.NewStore(snap), model.MustLookup(id), &memSink{})
}

func dispatch(d *Dispatcher, function, operation byte, payload []byte) Response {
	return d.Dispatch(frame.Frame{Direction: frame.ToDevice, Function: function, Operation: operation, Payload: payload})
}

func TestIdentifyByModel(t *testing.T) {
	testlog.Start(t)

	for _, tc := range []struct {
		id   model.ID
		want byte
	}{{model.Mini, 0x02}, {model.Square, 0x02}, {model.Wide, 0x01}} {
		d := newDispatcher(tc.id, state.Defaults())
		got := onlyFrame(t, dispatch(d, frame.FuncInfo, frame.OpInfoIdentify, nil))
		want := frame.Encode(frame.FuncInfo, frame.OpInfoIdentify,
			[]byte{0, 1, 0, tc.want, 0, 0, 0, 0, 0}, frame.FromDevice)
		if !bytes.Equal(got, want) {
			t.Fatalf("%s identify mismatch: got=% x want=% x", tc.id, got, want)
		}
	}
}

func TestCapabilityRepliesMatchCaptures(t *testing.T) {
	testlog.Start(t)

	snap := state.Defaults()
	cases := []struct {
		name    string
		id      model.ID
		mutate  func(*state.Snapshot)
		payload []byte
		want    string
	}{
		{"square dimensions", model.Square, nil, []byte{0x00},
			"61 42 00 17 00 02 00 00 03 20 03 20 02 4b 00 06 40 00 01 00 00 00 69"},
		{"square dimensions empty", model.Square, nil, nil,
			"61 42 00 17 00 02 00 00 03 20 03 20 02 4b 00 06 40 00 01 00 00 00 69"},
		{"wide dimensions", model.Wide, nil, []byte{0x00},
			"61 42 00 13 00 02 00 00 04 ec 03 48 02 7b 00 05 28 00 62"},
		{"mini image support", model.Mini, nil, []byte{0x00, 0x00},
			"61 42 00 17 00 02 00 00 02 58 03 20 02 7b 00 02 58 00 00 00 00 00 ef"},
		{"mini battery", model.Mini, func(s *state.Snapshot) { s.BatteryPercentage = 80 }, []byte{0x01},
			"61 42 00 0d 00 02 00 01 03 50 00 10 e9"},
		{"wide battery", model.Wide, func(s *state.Snapshot) { s.BatteryPercentage = 5 }, []byte{0x01},
			"61 42 00 0d 00 02 00 01 01 05 00 10 36"},
		{"mini history", model.Mini, nil, []byte{0x03},
			"61 42 00 11 00 02 00 03 00 00 00 23 00 00 00 07 1c"},
	}
	for _, tc := range cases {
		s := snap
		if tc.mutate != nil {
			tc.mutate(&s)
		}
		d := newDispatcher(tc.id, s)
		resp := dispatch(d, frame.FuncInfo, frame.OpInfoCapability, tc.payload)
		if got, want := onlyFrame(t, resp), mustHex(t, tc.want); !bytes.Equal(got, want) {
			t.Fatalf("%s: got=% x want=% x", tc.name, got, want)
		}
		if len(resp.Followups) != 0 {
			t.Fatalf("%s: unexpected followups", tc.name)
		}
	}
}

func TestPrinterFunctionCapabilityByte(t *testing.T) {
	testlog.Start(t)

	cases := []struct {
		id       model.ID
		photos   uint8
		charging bool
		want     byte
	}{
		{model.Wide, 5, false, 0x15},
		{model.Mini, 8, false, 0x38},
		{model.Square, 12, false, 0x2A},
		{model.Square, 3, true, 0xA3},
		{model.Mini, 0, true, 0xB0},
	}
	for _, tc := range cases {
		s := state.Defaults()
		s.PhotosRemaining = tc.photos
		s.Charging = tc.charging
		d := newDispatcher(tc.id, s)
		f, err := frame.Decode(onlyFrame(t, dispatch(d, frame.FuncInfo, frame.OpInfoCapability, []byte{0x02})), frame.FromDevice)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(f.Payload) != 10 || f.Payload[1] != 0x02 {
			t.Fatalf("unexpected function payload: % x", f.Payload)
		}
		if f.Payload[2] != tc.want {
			t.Fatalf("%s photos=%d charging=%v: capability=%#x want %#x", tc.id, tc.photos, tc.charging, f.Payload[2], tc.want)
		}
		if f.Payload[5] != tc.photos {
			t.Fatalf("expected raw film count at payload[5], got %d", f.Payload[5])
		}
	}
}

func TestWideHistorySchedulesReadyStatus(t *testing.T) {
	testlog.Start(t)

	d := newDispatcher(model.Wide, state.Defaults())
	resp := dispatch(d, frame.FuncInfo, frame.OpInfoCapability, []byte{0x03})
	if len(resp.Frames) != 1 {
		t.Fatalf("expected history reply first, got %d frames", len(resp.Frames))
	}
	if len(resp.Followups) != 1 {
		t.Fatalf("expected one followup, got %d", len(resp.Followups))
	}
	fu := resp.Followups[0]
	if fu.Delay != HistoryFollowupDelay {
		t.Fatalf("unexpected followup delay: %v", fu.Delay)
	}
	want := mustHex(t, "61 42 00 0c 00 00 00 01 00 00 00")
	want = append(want, frame.Checksum(want))
	if !bytes.Equal(fu.Frame, want) {
		t.Fatalf("followup mismatch: got=% x want=% x", fu.Frame, want)
	}
}

func TestQuerySelectors(t *testing.T) {
	testlog.Start(t)

	d := newDispatcher(model.Mini, state.Defaults())
	got := onlyFrame(t, dispatch(d, frame.FuncInfo, frame.OpInfoQuery, []byte{0x01}))
	want := frame.Encode(frame.FuncInfo, frame.OpInfoQuery, append([]byte{0x00, 0x01, 5}, "FI033"...), frame.FromDevice)
	if !bytes.Equal(got, want) {
		t.Fatalf("model query mismatch: got=% x want=% x", got, want)
	}

	f, _ := frame.Decode(onlyFrame(t, dispatch(d, frame.FuncInfo, frame.OpInfoQuery, []byte{0x0A})), frame.FromDevice)
	if string(f.Payload[3:]) != "00000001" {
		t.Fatalf("unexpected selector 0x0a string: %q", f.Payload[3:])
	}

	unknown := onlyFrame(t, dispatch(d, frame.FuncInfo, frame.OpInfoQuery, []byte{0x42}))
	if len(unknown) != frame.AckLen || ackStatus(t, unknown) != frame.StatusOK {
		t.Fatalf("expected OK ack for unknown selector, got % x", unknown)
	}
	if resp := dispatch(d, frame.FuncInfo, frame.OpInfoQuery, nil); !resp.Empty() {
		t.Fatalf("expected no response for empty query payload")
	}
}

func TestUnknownOperationsAndFunctions(t *testing.T) {
	testlog.Start(t)

	d := newDispatcher(model.Square, state.Defaults())
	for _, fn := range []byte{frame.FuncInfo, frame.FuncDeviceControl, frame.FuncPrint, frame.FuncLED} {
		got := onlyFrame(t, dispatch(d, fn, 0x77, []byte{1, 2, 3}))
		if !bytes.Equal(got, frame.Ack(fn, 0x77, frame.StatusOK)) {
			t.Fatalf("function %#x: expected OK ack, got % x", fn, got)
		}
	}
	if resp := dispatch(d, 0x55, 0x00, nil); !resp.Empty() {
		t.Fatalf("expected unknown function to be ignored")
	}
	if got := onlyFrame(t, dispatch(d, frame.FuncInfo, frame.OpInfoCapability, []byte{0x09})); ackStatus(t, got) != frame.StatusOK {
		t.Fatalf("expected OK ack for unknown capability selector")
	}
}

func TestDeviceControlUpdatesAutoSleep(t *testing.T) {
	testlog.Start(t)

	d := newDispatcher(model.Square, state.Defaults())
	payload := make([]byte, 13)
	payload[0] = 0
	got := onlyFrame(t, dispatch(d, frame.FuncDeviceControl, frame.OpDeviceAutoSleep, payload))
	if ackStatus(t, got) != frame.StatusOK {
		t.Fatalf("expected OK ack")
	}
	if d.Store().Snapshot().AutoSleepMinutes != 0 {
		t.Fatalf("expected auto sleep disabled")
	}
	for _, op := range []byte{frame.OpDeviceShutdown, frame.OpDeviceReset, frame.OpDeviceBLE} {
		if ackStatus(t, onlyFrame(t, dispatch(d, frame.FuncDeviceControl, op, nil))) != frame.StatusOK {
			t.Fatalf("op %#x: expected OK ack", op)
		}
	}
}

func TestLEDHandlers(t *testing.T) {
	testlog.Start(t)

	s := state.Defaults()
	s.Accelerometer = state.Accelerometer{X: -2, Y: 300, Z: 1, Orientation: 4}
	d := newDispatcher(model.Wide, s)

	axis := onlyFrame(t, dispatch(d, frame.FuncLED, frame.OpLEDAxis, nil))
	if len(axis) != 14 {
		t.Fatalf("unexpected axis frame length: %d", len(axis))
	}
	if !bytes.Equal(axis[6:13], []byte{0xFE, 0xFF, 0x2C, 0x01, 0x01, 0x00, 0x04}) {
		t.Fatalf("unexpected axis payload: % x", axis[6:13])
	}

	if ackStatus(t, onlyFrame(t, dispatch(d, frame.FuncLED, frame.OpLEDPattern, []byte{0x03, 0xAA, 0xBB}))) != frame.StatusOK {
		t.Fatalf("expected OK ack for color table")
	}
	if d.Store().Snapshot().PrintMode != state.PrintModeNatural {
		t.Fatalf("expected natural print mode")
	}
	dispatch(d, frame.FuncLED, frame.OpLEDPattern, []byte{0x09})
	if d.Store().Snapshot().PrintMode != 0x09 {
		t.Fatalf("expected unknown print mode to be stored")
	}

	info0 := onlyFrame(t, dispatch(d, frame.FuncLED, frame.OpLEDAdditionalInfo, nil))
	if len(info0) != 17 || !bytes.Equal(info0[6:16], sensorInfo) {
		t.Fatalf("unexpected type 0 additional info: % x", info0)
	}
	info1 := onlyFrame(t, dispatch(d, frame.FuncLED, frame.OpLEDAdditionalInfo, []byte{0x01}))
	want := []byte{0x00, 0x01, 0x00, 0x00, 0x00, 0x1E, 0x00, 0x01, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00}
	if len(info1) != 21 || !bytes.Equal(info1[6:20], want) {
		t.Fatalf("unexpected type 1 additional info: % x", info1)
	}
	if got := onlyFrame(t, dispatch(d, frame.FuncLED, frame.OpLEDAdditionalInfo, []byte{0x05})); len(got) != frame.AckLen {
		t.Fatalf("expected ack for unknown additional info type")
	}
	if got := onlyFrame(t, dispatch(d, frame.FuncLED, frame.OpLEDVibration, nil)); ackStatus(t, got) != frame.StatusOK {
		t.Fatalf("expected ack for vibration")
	}
}
