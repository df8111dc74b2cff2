package topic

import "strings"

// Topic is a colon-separated event name.
// Examples: "row:add", "state:update", "channel:chat:message"
type Topic string

// Pattern constants.
const (
	// Wildcard matches every topic.
	Wildcard = "*"

	// Separator is the character used to separate topic segments.
	Separator = ":"
)

// String returns the topic as a string.
func (t Topic) String() string {
	return string(t)
}

// Namespace returns the first segment of the topic.
//
// Example: "row:add" -> "row"
func (t Topic) Namespace() string {
	s := string(t)
	idx := strings.Index(s, Separator)
	if idx < 0 {
		return s
	}
	return s[:idx]
}

// Base returns the last segment of the topic.
//
// Example: "channel:chat:message" -> "message"
func (t Topic) Base() string {
	s := string(t)
	idx := strings.LastIndex(s, Separator)
	if idx < 0 {
		return s
	}
	return s[idx+1:]
}

// Child returns a child topic by appending a segment.
//
// Example: "channel:chat".Child("message") -> "channel:chat:message"
func (t Topic) Child(segment string) Topic {
	if t == "" {
		return Topic(segment)
	}
	return Topic(string(t) + Separator + segment)
}

// IsPattern returns true if the topic is a subscription pattern rather
// than a concrete event name: either the universal wildcard or a
// prefix pattern ending in ":*".
func (t Topic) IsPattern() bool {
	return t == Wildcard || strings.HasSuffix(string(t), Separator+Wildcard)
}

// Prefix returns the literal prefix of a prefix pattern, including the
// trailing separator. For "row:*" it returns "row:". Returns "" if the
// topic is not a prefix pattern.
func (t Topic) Prefix() string {
	s := string(t)
	if !strings.HasSuffix(s, Separator+Wildcard) {
		return ""
	}
	return s[:len(s)-1]
}

// IsValid returns true if the topic is usable as an event name or
// subscription pattern. A valid topic:
//   - Is not empty
//   - Does not start or end with a separator (a trailing ":*" is allowed)
//   - Does not contain empty segments
func (t Topic) IsValid() bool {
	s := string(t)
	if s == "" {
		return false
	}
	if s == Wildcard {
		return true
	}
	if strings.HasPrefix(s, Separator) {
		return false
	}
	if strings.HasSuffix(s, Separator) {
		return false
	}
	return !strings.Contains(s, Separator+Separator)
}

// Matches returns true if this concrete topic matches the given pattern.
// A pattern is either an exact name, the universal wildcard "*", or a
// prefix pattern ending in ":*" which matches any topic sharing the
// prefix plus a separator.
//
//	Topic("row:add").Matches("row:add")  -> true
//	Topic("row:add").Matches("row:*")    -> true
//	Topic("row:add").Matches("*")        -> true
//	Topic("row:add").Matches("cell:*")   -> false
func (t Topic) Matches(pattern Topic) bool {
	if pattern == Wildcard {
		return true
	}
	if prefix := pattern.Prefix(); prefix != "" {
		return strings.HasPrefix(string(t), prefix)
	}
	return t == pattern
}

// Join joins segments into a topic.
func Join(segments ...string) Topic {
	return Topic(strings.Join(segments, Separator))
}
