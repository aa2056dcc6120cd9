// Package model defines the list element records shared by the engine, the
// history cache and the gRPC edge.
package model

// Sequenced is implemented by every element a list can hold. Ids and times
// are optional: locally created items have no server id until acked, and some
// backends omit timestamps.
type Sequenced interface {
	SeqID() (int64, bool)
	SeqUniqueID() string
	SeqTime() (uint64, bool)
}

// Message delivery states.
const (
	StatusPending  = "pending"
	StatusSent     = "sent"
	StatusFailed   = "failed"
	StatusReceived = "received"
)

// Message is a single chat message in a thread.
type Message struct {
	ID       *int64
	UniqueID string
	ThreadID int64
	SenderID int64
	Body     string
	Status   string
	Time     *uint64
}

func (m Message) SeqID() (int64, bool)    { return deref(m.ID) }
func (m Message) SeqUniqueID() string     { return m.UniqueID }
func (m Message) SeqTime() (uint64, bool) { return deref(m.Time) }

// Participant is a member of a thread. Time is the join time.
type Participant struct {
	ID       *int64
	UniqueID string
	Name     string
	Admin    bool
	Time     *uint64
}

func (p Participant) SeqID() (int64, bool)    { return deref(p.ID) }
func (p Participant) SeqUniqueID() string     { return p.UniqueID }
func (p Participant) SeqTime() (uint64, bool) { return deref(p.Time) }

// Call is an entry in the call history.
type Call struct {
	ID         *int64
	UniqueID   string
	ThreadID   int64
	Kind       string // voice, video
	DurationMs int64
	Time       *uint64
}

func (c Call) SeqID() (int64, bool)    { return deref(c.ID) }
func (c Call) SeqUniqueID() string     { return c.UniqueID }
func (c Call) SeqTime() (uint64, bool) { return deref(c.Time) }

// Contact is an address book entry. Time is the last update time.
type Contact struct {
	ID       *int64
	UniqueID string
	Name     string
	Phone    string
	Time     *uint64
}

func (c Contact) SeqID() (int64, bool)    { return deref(c.ID) }
func (c Contact) SeqUniqueID() string     { return c.UniqueID }
func (c Contact) SeqTime() (uint64, bool) { return deref(c.Time) }

// Int64 returns a pointer to v.
func Int64(v int64) *int64 { return &v }

// Uint64 returns a pointer to v.
func Uint64(v uint64) *uint64 { return &v }

func deref[N int64 | uint64](p *N) (N, bool) {
	if p == nil {
		return 0, false
	}
	return *p, true
}
