package events

// Event represents a structured state change emitted by a bond engine.
type Event interface {
	EventType() string
}

// Emitter broadcasts events to downstream subscribers (e.g. the journal, logs).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Fanout forwards every event to each non-nil emitter in order.
type Fanout []Emitter

// Emit implements the Emitter interface.
func (f Fanout) Emit(evt Event) {
	for _, emitter := range f {
		if emitter != nil {
			emitter.Emit(evt)
		}
	}
}

// Recorder keeps emitted events in memory. It is primarily used by tests.
type Recorder struct {
	Events []Event
}

// Emit implements the Emitter interface.
func (r *Recorder) Emit(evt Event) {
	if r == nil {
		return
	}
	r.Events = append(r.Events, evt)
}

// OfType returns the recorded events matching the supplied type.
func (r *Recorder) OfType(kind string) []Event {
	if r == nil {
		return nil
	}
	out := make([]Event, 0, len(r.Events))
	for _, evt := range r.Events {
		if evt != nil && evt.EventType() == kind {
			out = append(out, evt)
		}
	}
	return out
}
