package event

import "time"

// Priority determines dispatch order. Lower values execute first.
type Priority int

const (
	// PriorityImmediate executes handlers synchronously in the emitter's
	// call stack, before Emit returns.
	PriorityImmediate Priority = iota

	// PriorityHigh is flushed first on the scheduling tick.
	PriorityHigh

	// PriorityNormal is the default tier.
	PriorityNormal

	// PriorityLow is flushed last; use for metrics and logging handlers.
	PriorityLow
)

// numTiers is the number of priority tiers, including IMMEDIATE.
const numTiers = 4

// String returns a human-readable priority name.
func (p Priority) String() string {
	switch p {
	case PriorityImmediate:
		return "immediate"
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	default:
		return "unknown"
	}
}

// valid reports whether p is one of the four tiers.
func (p Priority) valid() bool {
	return p >= PriorityImmediate && p < numTiers
}

// Handler is the interface for event handlers.
type Handler interface {
	// Handle processes an event. A returned error is logged by the bus
	// and never propagated to the emitter.
	Handle(event Event) error
}

// HandlerFunc is a function adapter for Handler.
type HandlerFunc func(event Event) error

// Handle implements the Handler interface.
func (f HandlerFunc) Handle(event Event) error {
	return f(event)
}

// FilterFunc is a predicate for filtering events per subscription.
// Return true to deliver the event, false to skip it.
type FilterFunc func(event Event) bool

// Stats contains a read-only snapshot of bus counters.
type Stats struct {
	// EventsEmitted is the number of emissions that passed middleware.
	EventsEmitted uint64

	// EventsCancelled is the number of emissions cancelled by middleware.
	EventsCancelled uint64

	// EventsDelivered is the number of successful handler deliveries.
	EventsDelivered uint64

	// HandlersExecuted is the total number of handler invocations.
	HandlersExecuted uint64

	// HandlerErrors is the number of handlers that returned errors.
	HandlerErrors uint64

	// HandlerPanics is the number of handlers that panicked.
	HandlerPanics uint64

	// AvgDispatchNs is the average handler execution time in nanoseconds.
	AvgDispatchNs int64

	// ActiveHandlers is the current number of registered handlers.
	ActiveHandlers int

	// QueueDepth is the number of flush thunks currently queued.
	QueueDepth int
}

// now is indirected for tests.
var now = time.Now
