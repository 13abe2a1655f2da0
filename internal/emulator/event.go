package emulator

import "time"

type EventType string

const (
	EventJobStarted  EventType = "job_started"
	EventJobData     EventType = "job_data"
	EventJobComplete EventType = "job_complete"
	EventJobAborted  EventType = "job_aborted"
)

// JobEvent reports one print job transition. Counters are the values after
// the transition was applied.
type JobEvent struct {
	Type       EventType
	JobID      string
	Model      string
	Expected   uint32
	Bytes      uint32
	ChunkIndex uint32
	Lifetime   uint32
	Photos     uint8
	// Status is the wire status that ended a rejected job, zero otherwise.
	Status byte
	// Err carries storage failures, which have no wire signal.
	Err error
	At  time.Time
}

// EventSink receives job events in the order the session produced them.
type EventSink interface {
	HandleJobEvent(JobEvent)
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(JobEvent)

func (f EventSinkFunc) HandleJobEvent(ev JobEvent) { f(ev) }

// MultiSink fans one event out to several sinks.
type MultiSink []EventSink

func (m MultiSink) HandleJobEvent(ev JobEvent) {
	for _, s := range m {
		if s != nil {
			s.HandleJobEvent(ev)
		}
	}
}
