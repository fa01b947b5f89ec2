package bus

import "time"

// Event kinds published by the daemon components. Subscribers filter by
// namespace prefix ("conn.", "match.", "message.", "outbox.").
const (
	KindConnStatusChanged    = "conn.status_changed"
	KindConnFailed           = "conn.failed"
	KindMatchStateChanged    = "match.state_changed"
	KindMessageInserted      = "message.inserted"
	KindMessageQueued        = "message.queued"
	KindMessageStatusChanged = "message.status_changed"
	KindMessageCleared       = "message.cleared"
	KindOutboxReplayed       = "outbox.replayed"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
