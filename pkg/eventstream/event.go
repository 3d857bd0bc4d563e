package eventstream

import (
	"time"

	"github.com/google/uuid"
)

const (
	// SchemaVersionV1 is the first version of the event payload schema.
	SchemaVersionV1 = 1

	// EventTypeResourceAdded is emitted when a resource root is created.
	EventTypeResourceAdded = "strata.resource.added"

	// EventTypeResourceProcessed is emitted once a resource's parse job has
	// created its subtree.
	EventTypeResourceProcessed = "strata.resource.processed"

	// EventTypeTierFailed is emitted when tier generation gives up on a node.
	EventTypeTierFailed = "strata.tier.failed"

	// EventTypeSessionCommitted is emitted after a session commit.
	EventTypeSessionCommitted = "strata.session.committed"

	// EventTypeMemoryDecayed is emitted for each memory demoted or removed by
	// decay.
	EventTypeMemoryDecayed = "strata.memory.decayed"
)

// Event is a transport-neutral lifecycle event.
type Event struct {
	SchemaVersion int               `json:"schema_version"`
	EventType     string            `json:"event_type"`
	EventID       string            `json:"event_id"`
	EmittedAt     time.Time         `json:"emitted_at"`
	URI           string            `json:"uri"`
	Detail        map[string]string `json:"detail,omitempty"`
}

// NewEvent stamps a new event of the given type.
func NewEvent(eventType, u string, detail map[string]string) *Event {
	return &Event{
		SchemaVersion: SchemaVersionV1,
		EventType:     eventType,
		EventID:       "evt_" + uuid.NewString(),
		EmittedAt:     time.Now().UTC(),
		URI:           u,
		Detail:        detail,
	}
}
