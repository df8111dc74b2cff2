package event

import "sync/atomic"

// statsCollector maintains bus counters with atomics so the hot
// dispatch path never takes a lock for accounting.
type statsCollector struct {
	emitted     atomic.Uint64
	cancelled   atomic.Uint64
	delivered   atomic.Uint64
	executed    atomic.Uint64
	errors      atomic.Uint64
	panics      atomic.Uint64
	dispatchNs  atomic.Int64
}

func newStatsCollector() *statsCollector {
	return &statsCollector{}
}

// snapshot returns the current counters. ActiveHandlers and QueueDepth
// are supplied by the caller, which owns the registry and scheduler.
func (c *statsCollector) snapshot(activeHandlers, queueDepth int) Stats {
	executed := c.executed.Load()
	var avgNs int64
	if executed > 0 {
		avgNs = c.dispatchNs.Load() / int64(executed)
	}

	return Stats{
		EventsEmitted:    c.emitted.Load(),
		EventsCancelled:  c.cancelled.Load(),
		EventsDelivered:  c.delivered.Load(),
		HandlersExecuted: executed,
		HandlerErrors:    c.errors.Load(),
		HandlerPanics:    c.panics.Load(),
		AvgDispatchNs:    avgNs,
		ActiveHandlers:   activeHandlers,
		QueueDepth:       queueDepth,
	}
}

// reset zeroes every counter.
func (c *statsCollector) reset() {
	c.emitted.Store(0)
	c.cancelled.Store(0)
	c.delivered.Store(0)
	c.executed.Store(0)
	c.errors.Store(0)
	c.panics.Store(0)
	c.dispatchNs.Store(0)
}
