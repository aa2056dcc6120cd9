// Package sync keeps the local history cache in step with what the server
// returns: server pages and send acks are written through to sqlite, and the
// cache is read back as the first source of every page load.
package sync

import (
	"context"
	"fmt"

	"github.com/matheus3301/talk/internal/bus"
	"github.com/matheus3301/talk/internal/model"
	"github.com/matheus3301/talk/internal/store"
	"go.uber.org/zap"
)

// Engine handles idempotent ingestion of server messages into the store.
// It subscribes to "history." and "message." events on the bus.
type Engine struct {
	db     *store.DB
	bus    *bus.Bus
	logger *zap.Logger
	cancel context.CancelFunc
	done   chan struct{}
}

// NewEngine creates a new sync engine.
func NewEngine(db *store.DB, b *bus.Bus, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		db:     db,
		bus:    b,
		logger: logger,
	}
}

// Start subscribes to server pages and send outcomes on the bus.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	e.done = make(chan struct{})
	pages, unsubPages := e.bus.Subscribe("history.", 64)
	acks, unsubAcks := e.bus.Subscribe("message.", 256)

	go func() {
		defer close(e.done)
		defer unsubPages()
		defer unsubAcks()
		for {
			select {
			case evt := <-pages:
				e.handleEvent(evt)
			case evt := <-acks:
				e.handleEvent(evt)
			case <-ctx.Done():
				e.drain(pages, acks)
				return
			}
		}
	}()
}

// drain handles events that were published before Stop.
func (e *Engine) drain(chans ...<-chan bus.Event) {
	for _, ch := range chans {
		for len(ch) > 0 {
			e.handleEvent(<-ch)
		}
	}
}

// Stop stops the engine and waits for the event loop to exit. Events already
// published are persisted first.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
		<-e.done
	}
}

func (e *Engine) handleEvent(evt bus.Event) {
	switch evt.Kind {
	case bus.KindHistoryPage:
		page, ok := evt.Payload.(bus.HistoryPage)
		if !ok {
			return
		}
		if err := e.IngestPage(page.ThreadID, page.Messages); err != nil {
			e.logger.Error("failed to ingest history page", zap.Error(err),
				zap.Int64("thread_id", page.ThreadID), zap.Int("count", len(page.Messages)))
			return
		}
		e.logger.Debug("history page ingested",
			zap.Int64("thread_id", page.ThreadID), zap.Int("messages", len(page.Messages)))
	case bus.KindSendAck:
		m, ok := evt.Payload.(model.Message)
		if !ok {
			return
		}
		if err := e.IngestMessage(m); err != nil {
			e.logger.Error("failed to ingest ack", zap.Error(err), zap.String("unique_id", m.UniqueID))
		}
	}
}

// IngestMessage writes a single server message into the store (idempotent).
func (e *Engine) IngestMessage(m model.Message) error {
	if err := e.db.UpsertMessage(m); err != nil {
		return fmt.Errorf("ingest message: %w", err)
	}
	return nil
}

// IngestPage writes one server page into the store in a single transaction.
// Messages that belong to another thread are skipped.
func (e *Engine) IngestPage(threadID int64, msgs []model.Message) error {
	batch := make([]model.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.ThreadID != threadID {
			e.logger.Warn("skipping message from another thread",
				zap.Int64("thread_id", threadID), zap.Int64("message_thread_id", m.ThreadID))
			continue
		}
		batch = append(batch, m)
	}
	if err := e.db.UpsertMessages(batch); err != nil {
		return fmt.Errorf("ingest page: %w", err)
	}
	return nil
}
