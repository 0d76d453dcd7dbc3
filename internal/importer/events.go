package importer

import (
	"sync"
	"time"

	"github.com/sells-group/property-import/internal/model"
)

// EventType names a progress event.
type EventType string

const (
	EventStarted           EventType = "started"
	EventFileStarted       EventType = "file_started"
	EventDuplicateDetected EventType = "duplicate_detected"
	EventFileCompleted     EventType = "file_completed"
	EventCompleted         EventType = "completed"
	EventCancelled         EventType = "cancelled"
	EventFailed            EventType = "failed"
	EventCleared           EventType = "cleared"
)

// terminalEvents maps a terminal job state to its event.
var terminalEvents = map[model.JobState]EventType{
	model.JobStateCompleted: EventCompleted,
	model.JobStateCancelled: EventCancelled,
	model.JobStateFailed:    EventFailed,
}

// Event is one progress update. Job is a snapshot taken when the event was
// published.
type Event struct {
	Seq       uint64         `json:"seq"`
	Type      EventType      `json:"type"`
	FileIndex int            `json:"file_index"`
	FileName  string         `json:"file_name,omitempty"`
	Message   string         `json:"message,omitempty"`
	Job       model.BatchJob `json:"job"`
	Time      time.Time      `json:"time"`
}

// Observer receives every event synchronously, in order.
type Observer func(Event)

const defaultEventBuffer = 256

// EventBus keeps the most recent events in a bounded ring for polling
// clients.
type EventBus struct {
	mu     sync.Mutex
	events []Event
	start  int
	count  int
	seq    uint64
}

// NewEventBus creates a bus retaining up to capacity events.
func NewEventBus(capacity int) *EventBus {
	if capacity <= 0 {
		capacity = defaultEventBuffer
	}
	return &EventBus{events: make([]Event, capacity)}
}

// Publish assigns the next sequence number to e, stores it and returns it.
// The oldest event is dropped when the ring is full.
func (b *EventBus) Publish(e Event) Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.seq++
	e.Seq = b.seq
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}

	idx := (b.start + b.count) % len(b.events)
	b.events[idx] = e
	if b.count < len(b.events) {
		b.count++
	} else {
		b.start = (b.start + 1) % len(b.events)
	}
	return e
}

// Since returns retained events with Seq greater than seq, oldest first.
// Callers detect dropped events by a gap between seq and the first Seq.
func (b *EventBus) Since(seq uint64) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []Event
	for i := range b.count {
		e := b.events[(b.start+i)%len(b.events)]
		if e.Seq > seq {
			out = append(out, e)
		}
	}
	return out
}

// LastSeq returns the sequence number of the newest event.
func (b *EventBus) LastSeq() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.seq
}
