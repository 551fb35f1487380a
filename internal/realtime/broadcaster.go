package realtime

import (
	"context"
	"encoding/json"
	"sync"
)

// Broadcaster publishes a committed mutation to every subscriber of a
// board. Delivery is at-most-once with no replay.
type Broadcaster interface {
	Broadcast(ctx context.Context, boardID uint, event string, payload any) error
}

type RecordedEvent struct {
	BoardID uint
	Event   string
	Data    json.RawMessage
}

// Recorder keeps every broadcast in memory, payloads JSON-encoded the
// way a socket client would receive them.
type Recorder struct {
	mu     sync.Mutex
	events []RecordedEvent
	err    error
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

// FailWith makes subsequent broadcasts return err after recording.
func (r *Recorder) FailWith(err error) {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
}

func (r *Recorder) Broadcast(_ context.Context, boardID uint, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, RecordedEvent{BoardID: boardID, Event: event, Data: data})
	return r.err
}

func (r *Recorder) Events() []RecordedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]RecordedEvent, len(r.events))
	copy(out, r.events)
	return out
}

// Named returns the recorded events with the given name.
func (r *Recorder) Named(event string) []RecordedEvent {
	var out []RecordedEvent
	for _, e := range r.Events() {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}
