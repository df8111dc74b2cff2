package event

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/gridkit/gridbus/internal/event/topic"
)

// Bus is a priority-aware in-process publish/subscribe bus.
//
// Construct instances with New and pass them explicitly; there is no
// package-level singleton, so tests and multiple hosts never share
// hidden state.
type Bus struct {
	registry *Registry
	pipeline *pipeline
	sched    *scheduler
	stats    *statsCollector
	logger   *zap.Logger
	closed   atomic.Bool
}

// New creates a bus and starts its scheduler goroutine. Call Close to
// release it.
func New(opts ...Option) *Bus {
	cfg := defaultBusConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	b := &Bus{
		registry: NewRegistry(),
		pipeline: newPipeline(),
		stats:    newStatsCollector(),
		logger:   cfg.logger,
	}
	b.sched = newScheduler(func(recovered any) {
		b.stats.panics.Add(1)
		b.logger.Debug("scheduled task panicked", zap.Any("recovered", recovered))
	})
	return b
}

// On registers a handler for the given pattern and returns an
// idempotent unsubscribe closure. The pattern may be an exact event
// name, a namespace prefix pattern like "row:*", or "*".
func (b *Bus) On(pattern topic.Topic, h Handler, opts ...SubscribeOption) (func(), error) {
	if h == nil {
		return nil, ErrNilHandler
	}
	if !pattern.IsValid() {
		return nil, ErrInvalidTopic
	}

	cfg := defaultSubConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if !cfg.tier.valid() {
		return nil, ErrInvalidPriority
	}

	e := b.registry.Add(pattern, h, cfg.tier, cfg.once, cfg.filter)

	var once sync.Once
	return func() {
		once.Do(func() {
			b.registry.Remove(e.id)
		})
	}, nil
}

// Once registers a handler that auto-removes after its first delivery.
func (b *Bus) Once(pattern topic.Topic, h Handler, opts ...SubscribeOption) (func(), error) {
	return b.On(pattern, h, append(opts, WithOnce())...)
}

// Off removes the first entry for the pattern whose handler is
// identical to h. Returns true if an entry was removed.
func (b *Bus) Off(pattern topic.Topic, h Handler) bool {
	return b.registry.RemoveHandler(pattern, h)
}

// Emit builds an event, runs it through the middleware pipeline, and
// dispatches it to every matching handler.
//
// At PriorityImmediate the matched handlers execute synchronously, in
// tier order, in the calling stack frame, before Emit returns. At any
// other tier the matched-handler set is snapshotted now and a flush
// thunk is queued for the next scheduling tick.
//
// A middleware cancel stops the emission silently: no handler runs and
// no error is returned.
func (b *Bus) Emit(eventType topic.Topic, payload any, opts ...EmitOption) error {
	if b.closed.Load() {
		return ErrBusClosed
	}
	if !eventType.IsValid() || eventType.IsPattern() {
		return ErrInvalidTopic
	}

	cfg := defaultEmitConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if !cfg.tier.valid() {
		return ErrInvalidPriority
	}

	ev := NewEvent(eventType, payload, cfg.source)
	ev.Metadata = cfg.metadata
	ev.Provenance = cfg.provenance

	ev, ok := b.pipeline.Apply(ev)
	if !ok {
		b.stats.cancelled.Add(1)
		return nil
	}
	b.stats.emitted.Add(1)

	matched := b.registry.Match(eventType)
	if len(matched) == 0 {
		return nil
	}

	if cfg.tier == PriorityImmediate {
		b.dispatch(ev, matched)
		return nil
	}

	b.sched.schedule(cfg.tier, func() {
		b.dispatch(ev, matched)
	})
	return nil
}

// Emission is one entry of an EmitBatch call.
type Emission struct {
	Type    topic.Topic
	Payload any
	Options []EmitOption
}

// EmitBatch emits each entry in order. Equal-tier entries keep their
// relative order within the batch. The first error aborts the batch.
func (b *Bus) EmitBatch(batch []Emission) error {
	for _, em := range batch {
		if err := b.Emit(em.Type, em.Payload, em.Options...); err != nil {
			return err
		}
	}
	return nil
}

// Use appends a middleware to the pipeline and returns its removal
// closure. Registration order is evaluation order.
func (b *Bus) Use(mw Middleware) func() {
	return b.pipeline.Use(mw)
}

// Stats returns a read-only snapshot of bus counters.
func (b *Bus) Stats() Stats {
	return b.stats.snapshot(b.registry.Count(), b.sched.depth())
}

// HandlerCount returns the number of entries registered for a pattern.
func (b *Bus) HandlerCount(pattern topic.Topic) int {
	return b.registry.CountFor(pattern)
}

// Drain blocks until every queued flush thunk has executed. Intended
// for tests and orderly shutdown.
func (b *Bus) Drain() {
	b.sched.drain()
}

// Clear removes all handlers, middleware and pending queue items, and
// resets stats to zero. The bus remains usable afterwards.
func (b *Bus) Clear() {
	b.registry.Clear()
	b.pipeline.Clear()
	b.sched.clear()
	b.stats.reset()
}

// Close stops the scheduler goroutine after pending work flushes.
// Subsequent Emit calls return ErrBusClosed.
func (b *Bus) Close() {
	if b.closed.Swap(true) {
		return
	}
	b.sched.close()
}

// dispatch runs a matched-handler snapshot for one event. Entries
// removed since the snapshot was taken are skipped; `once` entries are
// marked for removal only after the full set has run, so a handler
// removing itself mid-iteration cannot corrupt the iteration.
func (b *Bus) dispatch(ev Event, matched []*entry) {
	var consumed []*entry

	for _, e := range matched {
		if e.removed.Load() {
			continue
		}
		if e.filter != nil && !e.filter(ev) {
			continue
		}

		b.invoke(ev, e)

		if e.once {
			// Flagging now keeps a second queued snapshot from
			// re-running this entry before the registry removal below.
			e.removed.Store(true)
			consumed = append(consumed, e)
		}
	}

	for _, e := range consumed {
		b.registry.Remove(e.id)
	}
}

// invoke executes one handler, containing panics and logging faults
// without ever surfacing them to the emitter.
func (b *Bus) invoke(ev Event, e *entry) {
	start := now()
	defer func() {
		b.stats.dispatchNs.Add(now().Sub(start).Nanoseconds())
		if r := recover(); r != nil {
			b.stats.panics.Add(1)
			b.logger.Debug("handler panicked",
				zap.String("topic", ev.Type.String()),
				zap.Int64("entry", e.id),
				zap.Any("recovered", r))
		}
	}()

	b.stats.executed.Add(1)
	if err := e.handler.Handle(ev); err != nil {
		b.stats.errors.Add(1)
		b.logger.Debug("handler returned error",
			zap.String("topic", ev.Type.String()),
			zap.Int64("entry", e.id),
			zap.Error(err))
		return
	}
	b.stats.delivered.Add(1)
}
