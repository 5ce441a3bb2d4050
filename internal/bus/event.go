package bus

import "time"

// Event kinds published by the engine. Subscribers filter by namespace
// prefix, e.g. "message." receives every message event.
const (
	KindMessageInserted = "message.inserted"
	KindMessageUpdated  = "message.updated"
	KindMessageDeleted  = "message.deleted"
	KindMessageExpired  = "message.expired"
	KindThreadUpdated   = "thread.updated"
	KindRecipientUpdate = "recipient.updated"
	KindStatusChanged   = "engine.status_changed"
)

// Event represents a domain event published on the bus. ID correlates the
// events emitted by one engine operation: an insert publishes
// message.inserted and thread.updated carrying the same ID.
type Event struct {
	ID        string
	Kind      string
	Timestamp time.Time
	Payload   any
}
