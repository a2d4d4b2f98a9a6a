package store

// Outbox statuses.
const (
	StatusQueued = "queued"
	StatusSent   = "sent"
	StatusFailed = "failed"
)

// OutboxEntry represents an encoded chat frame waiting for an open connection.
type OutboxEntry struct {
	ID           int64
	ClientMsgID  string
	Payload      []byte
	Status       string // queued, sent, failed
	Attempts     int
	ErrorMessage string
	CreatedAt    int64
}
