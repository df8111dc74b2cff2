package events

import "github.com/gridkit/gridbus/internal/event/topic"

// Grid state event topics.
const (
	// TopicStateUpdate is published when any slice of grid state changes.
	TopicStateUpdate topic.Topic = "state:update"

	// TopicDataChange is published when the backing dataset is replaced.
	TopicDataChange topic.Topic = "data:change"

	// TopicRowAdd is published when a row is inserted.
	TopicRowAdd topic.Topic = "row:add"

	// TopicRowRemove is published when a row is removed.
	TopicRowRemove topic.Topic = "row:remove"

	// TopicRowUpdate is published when a row's values change.
	TopicRowUpdate topic.Topic = "row:update"

	// TopicCellChange is published when a single cell's value changes.
	TopicCellChange topic.Topic = "cell:change"

	// TopicSelectionChange is published when the selection set changes.
	TopicSelectionChange topic.Topic = "selection:change"

	// TopicSortChange is published when the sort order changes.
	TopicSortChange topic.Topic = "sort:change"

	// TopicFilterChange is published when column filters change.
	TopicFilterChange topic.Topic = "filter:change"
)

// StateUpdate describes a state slice change.
type StateUpdate struct {
	// Slice names the state slice that changed (e.g. "sorting").
	Slice string

	// Value is the new state value for the slice.
	Value any
}

// RowChange describes a row insertion, removal or update.
type RowChange struct {
	// Index is the zero-based row position.
	Index int

	// RowID is the stable row identifier, if the dataset has one.
	RowID string

	// Values holds the row's column values keyed by column id.
	Values map[string]any
}

// CellChange describes a single cell edit.
type CellChange struct {
	// RowID is the stable row identifier.
	RowID string

	// Column is the column id.
	Column string

	// Old is the previous cell value.
	Old any

	// New is the new cell value.
	New any
}
