package engine

import "timeline/core/internal/timeline"

const (
	TopicItemCreated       = "item.created"
	TopicItemUpdated       = "item.updated"
	TopicItemDeleted       = "item.deleted"
	TopicTaskReparented    = "task.reparented"
	TopicTaskAutoCompleted = "task.auto_completed"
	TopicIntervalOpened    = "interval.opened"
	TopicIntervalClosed    = "interval.closed"
	TopicIntervalChanged   = "interval.changed"
	TopicIntervalDeleted   = "interval.deleted"
	TopicAnchorAdded       = "anchor.added"
	TopicAnchorRemoved     = "anchor.removed"
	TopicAgentUpdated      = "agent.updated"
)

// Event describes one committed change.
type Event struct {
	Topic   string
	OwnerID string
	ItemID  string
	Kind    timeline.Kind
	Payload map[string]any
}

// Publisher receives events after their transaction commits.
type Publisher interface {
	Publish(Event)
}
