// Package outbox holds locally created messages until the server confirms
// them. A queued message is listed at once without a server id; the ack that
// carries the id is published on the bus so lists can reconcile it by unique
// id.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/talk/internal/bus"
	"github.com/matheus3301/talk/internal/model"
	"github.com/matheus3301/talk/internal/store"
	"go.uber.org/zap"
)

// Transport delivers a queued entry to the server and returns the message as
// the server stored it, with its server id and time.
type Transport interface {
	Deliver(ctx context.Context, e store.OutboxEntry) (model.Message, error)
}

// Sender drains the outbox through a Transport.
type Sender struct {
	db        *store.DB
	transport Transport
	bus       *bus.Bus
	logger    *zap.Logger
	interval  time.Duration

	mu     sync.Mutex // serializes delivery attempts
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSender creates a new outbox sender.
func NewSender(db *store.DB, transport Transport, b *bus.Bus, logger *zap.Logger) *Sender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sender{
		db:        db,
		transport: transport,
		bus:       b,
		logger:    logger,
		interval:  500 * time.Millisecond,
	}
}

// Queue stores a new message under a fresh unique id and returns the pending
// copy. Delivery happens on the next Flush or tick of the loop.
func (s *Sender) Queue(threadID, senderID int64, body string) (model.Message, error) {
	return s.queue(store.OutboxEntry{
		UniqueID: uuid.NewString(),
		ThreadID: threadID,
		SenderID: senderID,
		Body:     body,
	})
}

func (s *Sender) queue(e store.OutboxEntry) (model.Message, error) {
	if err := s.db.QueueOutbox(e); err != nil {
		return model.Message{}, fmt.Errorf("queue %s: %w", e.UniqueID, err)
	}
	pending, err := s.db.GetMessageByUniqueID(e.UniqueID)
	if err != nil {
		return model.Message{}, err
	}
	s.bus.Emit(bus.KindMessageQueued, pending)
	return pending, nil
}

// Send queues a message and delivers it right away. A unique id that was
// already confirmed returns the stored message without delivering again, so
// callers may retry with the same id. A unique id that is queued but not
// confirmed delivers the entry as it was first queued. An empty unique id
// gets a fresh one.
func (s *Sender) Send(ctx context.Context, e store.OutboxEntry) (model.Message, error) {
	if e.UniqueID == "" {
		e.UniqueID = uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.db.GetMessageByUniqueID(e.UniqueID)
	switch {
	case err == nil && existing.ID != nil:
		return existing, nil
	case err == nil:
		return s.redeliver(ctx, e.UniqueID, &e)
	case errors.Is(err, store.ErrNotFound):
		if _, err := s.queue(e); err != nil {
			return model.Message{}, err
		}
		return s.deliver(ctx, e)
	default:
		return model.Message{}, err
	}
}

// Resend delivers one stored entry right away, whatever state it was left
// in. It returns the confirmed message, or the stored one when the entry was
// already confirmed.
func (s *Sender) Resend(ctx context.Context, uid string) (model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.db.GetMessageByUniqueID(uid)
	if err == nil && existing.ID != nil {
		return existing, nil
	}
	return s.redeliver(ctx, uid, nil)
}

// redeliver delivers the stored outbox entry of uid. When there is none and
// fallback is set, fallback is queued in its place.
func (s *Sender) redeliver(ctx context.Context, uid string, fallback *store.OutboxEntry) (model.Message, error) {
	stored, err := s.db.GetOutbox(uid)
	switch {
	case errors.Is(err, store.ErrNotFound) && fallback != nil:
		if _, err := s.queue(*fallback); err != nil {
			return model.Message{}, err
		}
		return s.deliver(ctx, *fallback)
	case err != nil:
		return model.Message{}, err
	}
	if fallback != nil && fallback.Body != stored.Body {
		s.logger.Warn("unique id reused with a different body, keeping the queued one",
			zap.String("unique_id", uid))
	}
	if stored.Status != store.OutboxQueued {
		if err := s.db.RequeueOutbox(uid); err != nil && !errors.Is(err, store.ErrNotFound) {
			return model.Message{}, err
		}
	}
	return s.deliver(ctx, stored)
}

// Retry puts a failed or interrupted message back in the queue.
func (s *Sender) Retry(uid string) error {
	if err := s.db.RequeueOutbox(uid); err != nil {
		return fmt.Errorf("retry %s: %w", uid, err)
	}
	return nil
}

// Start requeues entries a previous process left in sending, then begins
// polling the outbox for pending messages.
func (s *Sender) Start(ctx context.Context) {
	if n, err := s.db.RecoverOutbox(); err != nil {
		s.logger.Error("failed to recover outbox", zap.Error(err))
	} else if n > 0 {
		s.logger.Info("requeued interrupted sends", zap.Int("count", n))
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.loop(ctx)
}

// Stop stops the sender loop and waits for an in-flight delivery.
func (s *Sender) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
}

func (s *Sender) loop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Flush(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Flush delivers every queued entry once and returns how many were
// confirmed.
func (s *Sender) Flush(ctx context.Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending, err := s.db.PendingOutbox()
	if err != nil {
		s.logger.Error("failed to read outbox", zap.Error(err))
		return 0
	}

	sent := 0
	for _, entry := range pending {
		if ctx.Err() != nil {
			break
		}
		if _, err := s.deliver(ctx, entry); err == nil {
			sent++
		}
	}
	return sent
}

func (s *Sender) deliver(ctx context.Context, entry store.OutboxEntry) (model.Message, error) {
	uid := entry.UniqueID
	if err := s.db.MarkOutboxSending(uid); err != nil {
		s.logger.Error("failed to mark sending", zap.Error(err), zap.String("unique_id", uid))
		return model.Message{}, err
	}

	confirmed, err := s.transport.Deliver(ctx, entry)
	if err == nil && confirmed.ID == nil {
		err = errors.New("server returned no id")
	}
	if err != nil {
		s.logger.Error("failed to send message", zap.Error(err), zap.String("unique_id", uid))
		if ferr := s.db.MarkOutboxFailed(uid, err.Error()); ferr != nil {
			s.logger.Error("failed to mark failed", zap.Error(ferr), zap.String("unique_id", uid))
		}
		s.bus.Emit(bus.KindSendFailed, bus.SendFailure{UniqueID: uid, ThreadID: entry.ThreadID, Err: err.Error()})
		return model.Message{}, fmt.Errorf("deliver %s: %w", uid, err)
	}

	confirmed.UniqueID = uid
	if err := s.db.MarkOutboxSent(confirmed); err != nil {
		s.logger.Error("failed to mark sent", zap.Error(err), zap.String("unique_id", uid))
	}

	s.logger.Info("message sent", zap.String("unique_id", uid), zap.Int64("id", *confirmed.ID))
	s.bus.Emit(bus.KindSendAck, confirmed)
	return confirmed, nil
}

// LocalTransport confirms entries against the store itself: the server id is
// allocated from the local history. It is the delivery path of the daemon,
// which owns the authoritative history.
type LocalTransport struct {
	db *store.DB
}

// NewLocalTransport returns a transport that assigns ids from db.
func NewLocalTransport(db *store.DB) *LocalTransport {
	return &LocalTransport{db: db}
}

// Deliver implements Transport.
func (t *LocalTransport) Deliver(ctx context.Context, e store.OutboxEntry) (model.Message, error) {
	if err := ctx.Err(); err != nil {
		return model.Message{}, err
	}
	return t.db.AssignMessageID(e.UniqueID, model.StatusSent)
}
