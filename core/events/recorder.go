package events

import "sync"

// Recorder buffers emitted events for later inspection. The RPC server uses
// it to surface the most recent module events; tests use it to assert on
// emission order.
type Recorder struct {
	mu     sync.Mutex
	limit  int
	events []*Event
}

// NewRecorder returns a recorder that retains up to limit events, oldest
// evicted first. A non-positive limit retains everything.
func NewRecorder(limit int) *Recorder {
	return &Recorder{limit: limit}
}

func (r *Recorder) Emit(evt *Event) {
	if r == nil || evt == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	if r.limit > 0 && len(r.events) > r.limit {
		r.events = r.events[len(r.events)-r.limit:]
	}
}

// Events returns a snapshot of the newest retained events in emission order,
// capped at limit when positive.
func (r *Recorder) Events(limit int) []*Event {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	start := 0
	if limit > 0 && limit < len(r.events) {
		start = len(r.events) - limit
	}
	out := make([]*Event, len(r.events)-start)
	copy(out, r.events[start:])
	return out
}
