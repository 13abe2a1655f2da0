package events

import (
	"time"

	"github.com/danmuck/instaxemu/internal/emulator"
	"github.com/google/uuid"
)

// Message is the published form of one job event.
type Message struct {
	EventID  string    `json:"event_id"`
	Type     string    `json:"type"`
	JobID    string    `json:"job_id,omitempty"`
	Model    string    `json:"model"`
	Bytes    uint32    `json:"bytes"`
	Expected uint32    `json:"expected"`
	Lifetime uint32    `json:"lifetime,omitempty"`
	Photos   uint8     `json:"photos,omitempty"`
	Status   uint8     `json:"status,omitempty"`
	Error    string    `json:"error,omitempty"`
	At       time.Time `json:"at"`
}

func FromJobEvent(ev emulator.JobEvent) Message {
	m := Message{
		EventID:  uuid.NewString(),
		Type:     string(ev.Type),
		JobID:    ev.JobID,
		Model:    ev.Model,
		Bytes:    ev.Bytes,
		Expected: ev.Expected,
		Lifetime: ev.Lifetime,
		Photos:   ev.Photos,
		Status:   ev.Status,
		At:       ev.At,
	}
	if ev.Err != nil {
		m.Error = ev.Err.Error()
	}
	if m.At.IsZero() {
		m.At = time.Now()
	}
	return m
}
