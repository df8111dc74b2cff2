package event

import (
	"reflect"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gridkit/gridbus/internal/event/topic"
)

// entry is a single registered handler. Entries are owned exclusively
// by the Registry and referenced elsewhere only through their id.
type entry struct {
	id      int64
	pattern topic.Topic
	handler Handler
	tier    Priority
	once    bool
	filter  FilterFunc
	addedAt time.Time

	// removed marks the entry dead so that dispatch snapshots taken
	// before removal skip it. Set once, never cleared.
	removed atomic.Bool
}

// Registry stores, for each subscription pattern, an ordered list of
// handler entries. The list invariant: ascending by tier, insertion
// order preserved within a tier. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[topic.Topic][]*entry
	byID    map[int64]*entry
	matcher *topic.Matcher
	nextID  atomic.Int64
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[topic.Topic][]*entry),
		byID:    make(map[int64]*entry),
		matcher: topic.NewMatcher(),
	}
}

// Add registers a handler for a pattern at the given tier and returns
// the new entry. Insertion splices before the first entry with a
// strictly greater tier, preserving the ordering invariant without a
// re-sort.
func (r *Registry) Add(pattern topic.Topic, h Handler, tier Priority, once bool, filter FilterFunc) *entry {
	e := &entry{
		id:      r.nextID.Add(1),
		pattern: pattern,
		handler: h,
		tier:    tier,
		once:    once,
		filter:  filter,
		addedAt: now(),
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.entries[pattern]
	idx := len(list)
	for i, existing := range list {
		if existing.tier > tier {
			idx = i
			break
		}
	}
	list = append(list, nil)
	copy(list[idx+1:], list[idx:])
	list[idx] = e
	r.entries[pattern] = list

	r.byID[e.id] = e
	r.matcher.Add(pattern)
	return e
}

// Remove removes an entry by id. Returns false if the id is unknown
// or already removed.
func (r *Registry) Remove(id int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byID[id]
	if !ok {
		return false
	}
	r.removeLocked(e)
	return true
}

// RemoveHandler removes the first entry for the pattern whose handler
// is identical to h. Function handlers are compared by code pointer.
func (r *Registry) RemoveHandler(pattern topic.Topic, h Handler) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.entries[pattern] {
		if sameHandler(e.handler, h) {
			r.removeLocked(e)
			return true
		}
	}
	return false
}

func (r *Registry) removeLocked(e *entry) {
	e.removed.Store(true)

	list := r.entries[e.pattern]
	for i, existing := range list {
		if existing.id == e.id {
			r.entries[e.pattern] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(r.entries[e.pattern]) == 0 {
		delete(r.entries, e.pattern)
	}
	r.matcher.Remove(e.pattern)
	delete(r.byID, e.id)
}

// Match returns a snapshot of all live entries whose pattern matches
// the concrete event topic, ordered by tier then registration order.
func (r *Registry) Match(eventTopic topic.Topic) []*entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	patterns := r.matcher.Match(eventTopic)
	if len(patterns) == 0 {
		return nil
	}

	var all []*entry
	for _, pattern := range patterns {
		all = append(all, r.entries[pattern]...)
	}
	if len(all) == 0 {
		return nil
	}

	// Per-pattern lists are already tier-sorted; the merged view needs
	// one stable ordering across patterns. Registration ids break ties.
	sort.Slice(all, func(i, j int) bool {
		if all[i].tier != all[j].tier {
			return all[i].tier < all[j].tier
		}
		return all[i].id < all[j].id
	})
	return all
}

// Count returns the total number of registered entries.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// CountFor returns the number of entries registered for a pattern.
func (r *Registry) CountFor(pattern topic.Topic) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries[pattern])
}

// Clear removes every entry.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.byID {
		e.removed.Store(true)
	}
	r.entries = make(map[topic.Topic][]*entry)
	r.byID = make(map[int64]*entry)
	r.matcher.Clear()
}

// sameHandler compares handlers by identity. HandlerFunc values are
// compared by code pointer since func types are not comparable.
func sameHandler(a, b Handler) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	af, aok := a.(HandlerFunc)
	bf, bok := b.(HandlerFunc)
	if aok || bok {
		if !aok || !bok {
			return false
		}
		return reflect.ValueOf(af).Pointer() == reflect.ValueOf(bf).Pointer()
	}
	if !reflect.TypeOf(a).Comparable() || !reflect.TypeOf(b).Comparable() {
		return false
	}
	return a == b
}
