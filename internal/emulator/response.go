package emulator

import (
	"time"

	"github.com/danmuck/instaxemu/internal/protocol/frame"
)

// Followup is a frame sent after its own delay, independent of the primary
// frames of the same response.
type Followup struct {
	Delay time.Duration
	Frame []byte
}

// Response is everything one inbound frame produces. Handlers never sleep
// or write to the transport; the session applies Delay and schedules
// Followups.
type Response struct {
	// Frames are sent in order once Delay has elapsed.
	Frames [][]byte
	// Delay defers the primary frames.
	Delay     time.Duration
	Followups []Followup
	Event     *JobEvent
	// Replaced closes a job this frame superseded. It is emitted before
	// anything else in the response.
	Replaced *JobEvent
}

func (r Response) Empty() bool {
	return len(r.Frames) == 0 && len(r.Followups) == 0 && r.Event == nil && r.Replaced == nil
}

func reply(function, operation byte, payload []byte) Response {
	return Response{Frames: [][]byte{frame.Encode(function, operation, payload, frame.FromDevice)}}
}

func ack(function, operation, status byte) Response {
	return Response{Frames: [][]byte{frame.Ack(function, operation, status)}}
}
