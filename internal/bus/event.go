package bus

import "time"

// Event kinds published by the chat client. Subscribers filter on the
// namespace prefix (for example "conn." or "chat.").
const (
	KindStatusChanged  = "conn.status_changed"
	KindHistoryLoaded  = "chat.history_loaded"
	KindHistoryFailed  = "chat.history_failed"
	KindMessageAdded   = "chat.message_added"
	KindMessageQueued  = "chat.message_queued"
	KindMediaResolved  = "media.resolved"
	KindOutboxFlushed  = "outbox.flushed"
	KindSessionStopped = "chat.session_stopped"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
