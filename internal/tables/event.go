package tables

import (
	"encoding/json"
	"time"
)

// Logical table names exposed by the backend.
const (
	TableDreams           = "dreams"
	TableComments         = "comments"
	TableProfiles         = "profiles"
	TableCollections      = "collections"
	TableCollectionDreams = "collection_dreams"
)

// EventType enumerates row-level change notifications.
type EventType string

const (
	// EventInsert announces a newly created row.
	EventInsert EventType = "insert"
	// EventUpdate announces a modified row.
	EventUpdate EventType = "update"
	// EventDelete announces a removed row.
	EventDelete EventType = "delete"
)

// Event is a row-level change notification emitted on the table feed.
// New carries the row after insert/update, Old the row before delete.
type Event struct {
	Table     string          `json:"table"`
	Type      EventType       `json:"event_type"`
	New       json.RawMessage `json:"new,omitempty"`
	Old       json.RawMessage `json:"old,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewEvent builds an Event, JSON-encoding the provided rows. Rows that
// fail to encode are carried as empty payloads so consumers can apply
// their own malformed-payload policy.
func NewEvent(table string, eventType EventType, newRow, oldRow interface{}) Event {
	event := Event{
		Table:     table,
		Type:      eventType,
		Timestamp: time.Now().UTC(),
	}
	if newRow != nil {
		if encoded, err := json.Marshal(newRow); err == nil {
			event.New = encoded
		}
	}
	if oldRow != nil {
		if encoded, err := json.Marshal(oldRow); err == nil {
			event.Old = encoded
		}
	}
	return event
}
