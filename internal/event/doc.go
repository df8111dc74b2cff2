// Package event implements the in-process, priority-aware
// publish/subscribe bus at the core of gridbus.
//
// # Dispatch model
//
// Handlers are registered per topic pattern at one of four priority
// tiers. Emitting at PriorityImmediate runs the matched handlers
// synchronously in the caller's stack frame. Every other tier
// snapshots the matched set at emit time and queues a flush thunk on
// the bus's single-consumer scheduler goroutine. Within one flush,
// HIGH runs before NORMAL before LOW, and insertion order is preserved
// within a tier. Work queued during a flush is deferred to the next
// flush, which bounds recursion when a handler itself emits.
//
// # Failure containment
//
// Handler panics and error returns are caught at the dispatch site,
// counted, and logged; they never reach the emitter. The only
// cancellation primitive is a middleware returning false, which drops
// the emission before any handler runs.
//
// # Concurrency
//
// All registry, pipeline and queue state is mutex-guarded, so a bus
// may be shared across goroutines, but ordering guarantees only hold
// per emitting goroutine. Handlers must not block: there is no
// timeout or deadline mechanism in the dispatch path.
package event
