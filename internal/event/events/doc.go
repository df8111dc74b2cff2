// Package events is the typed event catalog: the closed set of topic
// constants and payload types exchanged over the bus by the grid host
// and its plugins. Keeping the catalog in one package preserves the
// name-to-payload mapping at compile time instead of a runtime
// string-keyed dictionary.
package events
