package event

import (
	"time"

	"github.com/gridkit/gridbus/internal/event/topic"
)

// Event is a single notification flowing through the bus.
// Events are constructed fresh per emission and never persisted.
type Event struct {
	// Type is the colon-separated event name (e.g. "row:add").
	Type topic.Topic

	// Payload contains the event-specific data.
	Payload any

	// Timestamp is when the event was built.
	Timestamp time.Time

	// Source identifies the emitter ("plugin:<id>" for sandboxed events).
	Source string

	// Metadata carries auxiliary key/value pairs. The sandbox layer
	// overwrites the "sandboxed" and "pluginId" keys on every forwarded
	// event; nothing a plugin supplies under those keys survives.
	Metadata map[string]any

	// Provenance is stamped by the sandbox layer when an event crosses
	// a trust boundary. Plugin-supplied payloads cannot reach it: it is
	// attached after sanitization, never merged.
	Provenance Provenance
}

// Provenance records which side of a sandbox boundary an event came
// from. The zero value means the event has not crossed a boundary.
type Provenance struct {
	// PluginID is the sandbox that forwarded the event, if any.
	PluginID string

	// Sandboxed is true for events forwarded from a plugin's local bus
	// into the base bus.
	Sandboxed bool

	// FromBase is true for events forwarded from the base bus into a
	// plugin's local bus.
	FromBase bool
}

// NewEvent creates an event with the given type, payload and source.
func NewEvent(eventType topic.Topic, payload any, source string) Event {
	return Event{
		Type:      eventType,
		Payload:   payload,
		Timestamp: now(),
		Source:    source,
	}
}

// Meta returns the metadata value for key, or nil.
func (e Event) Meta(key string) any {
	if e.Metadata == nil {
		return nil
	}
	return e.Metadata[key]
}

// MetaBool returns the metadata value for key as a bool.
func (e Event) MetaBool(key string) bool {
	v, _ := e.Meta(key).(bool)
	return v
}

// CloneMetadata returns a shallow copy of the event's metadata map,
// never nil. Mutating the copy does not affect the event.
func (e Event) CloneMetadata() map[string]any {
	m := make(map[string]any, len(e.Metadata)+2)
	for k, v := range e.Metadata {
		m[k] = v
	}
	return m
}
