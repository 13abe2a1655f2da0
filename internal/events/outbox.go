package events

import (
	"sort"
	"sync"
	"time"
)

// Pending is one message that has not been published yet.
type Pending struct {
	Message       Message   `json:"message"`
	Attempts      int       `json:"attempts"`
	QueuedAt      time.Time `json:"queued_at"`
	LastAttemptAt time.Time `json:"last_attempt_at,omitempty"`
	LastError     string    `json:"last_error,omitempty"`
}

// Outbox holds job messages from the moment they are queued until they are
// published or given up on. onChange receives the new depth after every
// mutation.
type Outbox struct {
	mu       sync.Mutex
	items    map[string]Pending
	onChange func(pending int)
}

func NewOutbox(onChange func(pending int)) *Outbox {
	return &Outbox{items: make(map[string]Pending), onChange: onChange}
}

func (o *Outbox) changed() {
	if o.onChange != nil {
		o.onChange(len(o.items))
	}
}

// Add queues m. Messages without an event id are ignored.
func (o *Outbox) Add(m Message, at time.Time) bool {
	if m.EventID == "" {
		return false
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.items[m.EventID] = Pending{Message: m, QueuedAt: at}
	o.changed()
	return true
}

// Attempted records a failed publish and returns the updated entry.
func (o *Outbox) Attempted(id string, at time.Time, err error) (Pending, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	item, ok := o.items[id]
	if !ok {
		return Pending{}, false
	}
	item.Attempts++
	item.LastAttemptAt = at
	if err != nil {
		item.LastError = err.Error()
	}
	o.items[id] = item
	return item, true
}

func (o *Outbox) Done(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.items[id]; !ok {
		return
	}
	delete(o.items, id)
	o.changed()
}

func (o *Outbox) Get(id string) (Pending, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	item, ok := o.items[id]
	return item, ok
}

// Snapshot returns pending messages, oldest first.
func (o *Outbox) Snapshot() []Pending {
	o.mu.Lock()
	out := make([]Pending, 0, len(o.items))
	for _, item := range o.items {
		out = append(out, item)
	}
	o.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].QueuedAt.Equal(out[j].QueuedAt) {
			return out[i].Message.EventID < out[j].Message.EventID
		}
		return out[i].QueuedAt.Before(out[j].QueuedAt)
	})
	return out
}

func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.items)
}
