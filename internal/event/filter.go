package event

import "github.com/gridkit/gridbus/internal/event/topic"

// FilterAnd returns a filter that passes only if every filter passes.
// With no filters it passes everything.
func FilterAnd(filters ...FilterFunc) FilterFunc {
	return func(ev Event) bool {
		for _, f := range filters {
			if !f(ev) {
				return false
			}
		}
		return true
	}
}

// FilterOr returns a filter that passes if any filter passes.
// With no filters it passes nothing.
func FilterOr(filters ...FilterFunc) FilterFunc {
	return func(ev Event) bool {
		for _, f := range filters {
			if f(ev) {
				return true
			}
		}
		return false
	}
}

// FilterNot inverts a filter.
func FilterNot(f FilterFunc) FilterFunc {
	return func(ev Event) bool {
		return !f(ev)
	}
}

// SourceIs passes events whose Source equals source.
func SourceIs(source string) FilterFunc {
	return func(ev Event) bool {
		return ev.Source == source
	}
}

// FromSandbox passes events forwarded out of any plugin sandbox.
func FromSandbox() FilterFunc {
	return func(ev Event) bool {
		return ev.Provenance.Sandboxed
	}
}

// FromPlugin passes events forwarded out of the named plugin's sandbox.
func FromPlugin(pluginID string) FilterFunc {
	return func(ev Event) bool {
		return ev.Provenance.Sandboxed && ev.Provenance.PluginID == pluginID
	}
}

// TypeMatches passes events whose type matches the pattern.
func TypeMatches(pattern topic.Topic) FilterFunc {
	return func(ev Event) bool {
		return ev.Type.Matches(pattern)
	}
}

// MetaEquals passes events whose metadata value for key equals want.
func MetaEquals(key string, want any) FilterFunc {
	return func(ev Event) bool {
		return ev.Meta(key) == want
	}
}
