package store

// Outbox entry states.
const (
	OutboxQueued  = "queued"
	OutboxSending = "sending"
	OutboxSent    = "sent"
	OutboxFailed  = "failed"
)

// OutboxEntry is a locally created message waiting for its server id.
type OutboxEntry struct {
	UniqueID     string
	ThreadID     int64
	SenderID     int64
	Body         string
	Status       string
	ErrorMessage string
	ServerID     *int64
	CreatedAt    int64
}
