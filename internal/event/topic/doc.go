// Package topic provides colon-separated event names and subscription
// pattern matching for the event bus.
//
// A concrete topic like "row:add" can be subscribed to exactly, through
// the namespace prefix pattern "row:*", or through the universal
// wildcard "*". Prefix patterns may be arbitrarily deep: the pattern
// "channel:chat:*" matches "channel:chat:message" but not
// "channel:other:message".
package topic
