package sync

import (
	"context"

	"github.com/matheus3301/talk/internal/bus"
	"github.com/matheus3301/talk/internal/list"
	"github.com/matheus3301/talk/internal/model"
	"github.com/matheus3301/talk/internal/store"
)

// CacheFetcher serves pages of one thread from the local store.
type CacheFetcher struct {
	db       *store.DB
	threadID int64
}

// NewCacheFetcher returns a fetcher over the cached messages of threadID.
func NewCacheFetcher(db *store.DB, threadID int64) *CacheFetcher {
	return &CacheFetcher{db: db, threadID: threadID}
}

// FetchPage implements list.Fetcher.
func (c *CacheFetcher) FetchPage(ctx context.Context, req list.PageRequest) (list.Page[model.Message], error) {
	if err := ctx.Err(); err != nil {
		return list.Page[model.Message]{}, err
	}
	msgs, err := c.db.ListMessages(c.threadID, req.Filter, req.Offset, req.Count)
	if err != nil {
		return list.Page[model.Message]{}, err
	}
	total, err := c.db.CountMessages(c.threadID, req.Filter)
	if err != nil {
		return list.Page[model.Message]{}, err
	}
	return list.Page[model.Message]{Items: msgs, TotalCount: &total}, nil
}

// WriteThrough wraps a network fetcher so every page it returns is published
// as a history.page event for the engine to persist.
func WriteThrough(f list.Fetcher[model.Message], b *bus.Bus, threadID int64) list.Fetcher[model.Message] {
	return list.FetcherFunc[model.Message](func(ctx context.Context, req list.PageRequest) (list.Page[model.Message], error) {
		page, err := f.FetchPage(ctx, req)
		if err != nil {
			return page, err
		}
		if len(page.Items) > 0 {
			b.Emit(bus.KindHistoryPage, bus.HistoryPage{ThreadID: threadID, Messages: page.Items})
		}
		return page, nil
	})
}
