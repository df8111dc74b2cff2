package event

import (
	"sync"
	"sync/atomic"
)

// Middleware transforms an event before dispatch. Returning false
// cancels the emission: no handler runs and no error is raised.
type Middleware func(Event) (Event, bool)

// mwEntry pairs a middleware with a removal id.
type mwEntry struct {
	id int64
	fn Middleware
}

// pipeline is an ordered chain of middleware evaluated left to right
// on every emission. No per-event decisions are cached.
type pipeline struct {
	mu     sync.RWMutex
	chain  []*mwEntry
	nextID atomic.Int64
}

func newPipeline() *pipeline {
	return &pipeline{}
}

// Use appends a middleware and returns an idempotent removal closure.
func (p *pipeline) Use(mw Middleware) func() {
	e := &mwEntry{id: p.nextID.Add(1), fn: mw}

	p.mu.Lock()
	p.chain = append(p.chain, e)
	p.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			for i, existing := range p.chain {
				if existing.id == e.id {
					p.chain = append(p.chain[:i], p.chain[i+1:]...)
					return
				}
			}
		})
	}
}

// Apply folds the chain over the event in registration order. The
// first middleware returning false stops the fold and cancels the
// whole emission.
func (p *pipeline) Apply(ev Event) (Event, bool) {
	p.mu.RLock()
	chain := make([]*mwEntry, len(p.chain))
	copy(chain, p.chain)
	p.mu.RUnlock()

	for _, e := range chain {
		next, ok := e.fn(ev)
		if !ok {
			return ev, false
		}
		ev = next
	}
	return ev, true
}

// Len returns the number of installed middleware.
func (p *pipeline) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.chain)
}

// Clear removes all middleware.
func (p *pipeline) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.chain = nil
}
