package topic

import (
	"sort"
	"strings"
	"sync"
)

// Matcher indexes subscription patterns and resolves, for a concrete
// event topic, the set of registered patterns that match it.
// It is safe for concurrent use.
//
// Patterns are reference counted: adding the same pattern twice requires
// removing it twice before it stops matching.
type Matcher struct {
	mu       sync.RWMutex
	exact    map[Topic]int
	prefixes map[Topic]int // patterns ending in ":*"
	star     int           // count of "*" registrations
}

// NewMatcher creates a new pattern matcher.
func NewMatcher() *Matcher {
	return &Matcher{
		exact:    make(map[Topic]int),
		prefixes: make(map[Topic]int),
	}
}

// Add registers a pattern.
func (m *Matcher) Add(pattern Topic) {
	if pattern == "" {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case pattern == Wildcard:
		m.star++
	case pattern.Prefix() != "":
		m.prefixes[pattern]++
	default:
		m.exact[pattern]++
	}
}

// Remove unregisters one reference to a pattern.
func (m *Matcher) Remove(pattern Topic) {
	if pattern == "" {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case pattern == Wildcard:
		if m.star > 0 {
			m.star--
		}
	case pattern.Prefix() != "":
		if n := m.prefixes[pattern]; n > 1 {
			m.prefixes[pattern] = n - 1
		} else {
			delete(m.prefixes, pattern)
		}
	default:
		if n := m.exact[pattern]; n > 1 {
			m.exact[pattern] = n - 1
		} else {
			delete(m.exact, pattern)
		}
	}
}

// Match returns all registered patterns matching the given concrete
// topic: the exact pattern first, then prefix patterns longest-first,
// then the universal wildcard.
func (m *Matcher) Match(eventTopic Topic) []Topic {
	if eventTopic == "" {
		return nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var matches []Topic
	if _, ok := m.exact[eventTopic]; ok {
		matches = append(matches, eventTopic)
	}

	var prefixed []Topic
	for pattern := range m.prefixes {
		if strings.HasPrefix(string(eventTopic), pattern.Prefix()) {
			prefixed = append(prefixed, pattern)
		}
	}
	// Longest prefix first keeps match order deterministic.
	sort.Slice(prefixed, func(i, j int) bool {
		if len(prefixed[i]) != len(prefixed[j]) {
			return len(prefixed[i]) > len(prefixed[j])
		}
		return prefixed[i] < prefixed[j]
	})
	matches = append(matches, prefixed...)

	if m.star > 0 {
		matches = append(matches, Wildcard)
	}
	return matches
}

// Has returns true if the pattern has at least one registration.
func (m *Matcher) Has(pattern Topic) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	switch {
	case pattern == Wildcard:
		return m.star > 0
	case pattern.Prefix() != "":
		return m.prefixes[pattern] > 0
	default:
		return m.exact[pattern] > 0
	}
}

// Count returns the number of distinct registered patterns.
func (m *Matcher) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := len(m.exact) + len(m.prefixes)
	if m.star > 0 {
		n++
	}
	return n
}

// Clear removes all patterns.
func (m *Matcher) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.exact = make(map[Topic]int)
	m.prefixes = make(map[Topic]int)
	m.star = 0
}
