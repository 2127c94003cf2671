package events

// Event represents a structured state change emitted by the settlement
// engine. Attribute values are pre-rendered strings so downstream consumers
// (RPC, indexers, audit tooling) never depend on module-internal types.
type Event struct {
	Type       string
	Attributes map[string]string
}

// Emitter broadcasts events to downstream subscribers.
type Emitter interface {
	Emit(*Event)
}

// NoopEmitter satisfies the Emitter interface while discarding all events.
type NoopEmitter struct{}

func (NoopEmitter) Emit(*Event) {}
