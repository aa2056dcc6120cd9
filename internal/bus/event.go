package bus

import (
	"time"

	"github.com/matheus3301/talk/internal/model"
)

// Event kinds. Subscribers filter by prefix, so "message." receives both
// send outcomes.
const (
	KindListDiff      = "list.diff"
	KindHistoryPage   = "history.page"
	KindMessageQueued = "message.queued"
	KindSendAck       = "message.send_ack"
	KindSendFailed    = "message.send_failed"
)

// Event is a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// HistoryPage is the payload of KindHistoryPage: one page of a thread as the
// server returned it.
type HistoryPage struct {
	ThreadID int64
	Messages []model.Message
}

// SendFailure is the payload of KindSendFailed.
type SendFailure struct {
	UniqueID string
	ThreadID int64
	Err      string
}
