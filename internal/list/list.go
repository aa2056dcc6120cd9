// Package list drives one logical list (a thread's messages, a thread's
// participants, the call history...) through its page loads, merges and
// incremental diffs.
//
// A List owns an item store, the section index derived from it and a
// pagination cursor. Pages are fetched from an optional cache and then from
// the network; both responses are merged into the same store, so arrival
// order does not matter. Every change is reported as a Change carrying the
// diff a renderer applies.
package list

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/matheus3301/talk/internal/bus"
	"github.com/matheus3301/talk/internal/diff"
	"github.com/matheus3301/talk/internal/itemstore"
	"github.com/matheus3301/talk/internal/model"
	"github.com/matheus3301/talk/internal/paging"
	"github.com/matheus3301/talk/internal/section"
	"go.uber.org/zap"
)

// ErrStale is returned when a response arrives for a list that was reset
// while the fetch was in flight. The response is dropped.
var ErrStale = errors.New("list was reset during fetch")

// Change is one applied update.
type Change struct {
	List    string
	Diff    diff.Diff
	Version uint64
}

// Result describes a completed load. Changes are in the order they were
// applied: the cache response first, when there was one.
type Result struct {
	Changes []Change
	Added   int
}

// List is one logical list. All methods are safe for concurrent use; they
// are serialized by a per-list mutex, and fetches run outside of it.
type List[T model.Sequenced] struct {
	mu     sync.Mutex
	name   string
	store  *itemstore.Store[T]
	index  *section.Index[T]
	cursor *paging.Cursor
	filter string
	older  bool

	network  Fetcher[T]
	cache    Fetcher[T]
	observer func(Change)
	bus      *bus.Bus
	logger   *zap.Logger
}

type options[T model.Sequenced] struct {
	name      string
	pageSize  int
	filter    string
	older     bool
	cache     Fetcher[T]
	observer  func(Change)
	bus       *bus.Bus
	logger    *zap.Logger
	indexOpts []section.Option[T]
}

// Option configures a List.
type Option[T model.Sequenced] func(*options[T])

// WithName names the list in logs and published changes.
func WithName[T model.Sequenced](name string) Option[T] {
	return func(o *options[T]) { o.name = name }
}

// WithPageSize sets the page size, for example paging.MediaPageSize.
func WithPageSize[T model.Sequenced](n int) Option[T] {
	return func(o *options[T]) { o.pageSize = n }
}

// WithFilter sets the initial backend filter.
func WithFilter[T model.Sequenced](filter string) Option[T] {
	return func(o *options[T]) { o.filter = filter }
}

// WithOlderPages makes LoadMore fetch older history, inserted at the top of
// the list. Message threads load this way.
func WithOlderPages[T model.Sequenced]() Option[T] {
	return func(o *options[T]) { o.older = true }
}

// WithCache sets a fetcher consulted before the network on every page.
func WithCache[T model.Sequenced](f Fetcher[T]) Option[T] {
	return func(o *options[T]) { o.cache = f }
}

// WithObserver registers a callback for every applied change. It runs with
// the list locked and must not call back into the list.
func WithObserver[T model.Sequenced](fn func(Change)) Option[T] {
	return func(o *options[T]) { o.observer = fn }
}

// WithBus publishes every applied change as a bus.KindListDiff event.
func WithBus[T model.Sequenced](b *bus.Bus) Option[T] {
	return func(o *options[T]) { o.bus = b }
}

// WithLogger sets the logger.
func WithLogger[T model.Sequenced](l *zap.Logger) Option[T] {
	return func(o *options[T]) { o.logger = l }
}

// WithSameGroup sets the predicate used by SameGroupPrevious.
func WithSameGroup[T model.Sequenced](fn func(a, b T) bool) Option[T] {
	return func(o *options[T]) { o.indexOpts = append(o.indexOpts, section.WithSameGroup(fn)) }
}

// New returns an empty list fetching pages from network and bucketing them
// with group.
func New[T model.Sequenced](network Fetcher[T], group section.GroupFunc[T], opts ...Option[T]) *List[T] {
	o := options[T]{name: "list"}
	for _, fn := range opts {
		fn(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	l := &List[T]{
		name:     o.name,
		store:    itemstore.New[T](),
		index:    section.New(group, o.indexOpts...),
		cursor:   paging.New(o.pageSize),
		filter:   o.filter,
		older:    o.older,
		network:  network,
		cache:    o.cache,
		observer: o.observer,
		bus:      o.bus,
		logger:   o.logger.With(zap.String("list", o.name)),
	}
	l.index.Rebuild(nil)
	return l
}

// CanLoadMore reports whether LoadMore would fetch a page.
func (l *List[T]) CanLoadMore() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cursor.CanLoadMore(l.store.Len())
}

// LoadFirstPage clears the list and loads its first page. The resulting
// change asks the renderer for a full reload.
func (l *List[T]) LoadFirstPage(ctx context.Context) (Result, error) {
	l.mu.Lock()
	l.resetLocked()
	l.mu.Unlock()
	return l.load(ctx, true)
}

// LoadMore fetches the next page and merges it. It returns an empty result
// when no page is available or a fetch is already in flight.
func (l *List[T]) LoadMore(ctx context.Context) (Result, error) {
	return l.load(ctx, false)
}

func (l *List[T]) load(ctx context.Context, first bool) (Result, error) {
	l.mu.Lock()
	if !l.cursor.CanLoadMore(l.store.Len()) {
		l.mu.Unlock()
		return Result{}, nil
	}
	offset, count, err := l.cursor.PrepareForNextPage(l.store.Len())
	if err != nil {
		l.mu.Unlock()
		return Result{}, nil
	}
	gen := l.cursor.Generation()
	req := PageRequest{Offset: offset, Count: count, Filter: l.filter}
	l.mu.Unlock()

	var res Result
	if l.cache != nil {
		page, err := l.cache.FetchPage(ctx, req)
		if err != nil {
			l.logger.Warn("cache fetch failed", zap.Error(err), zap.Int("offset", offset))
		} else {
			l.mu.Lock()
			if gen == l.cursor.Generation() {
				res.add(l.applyPageLocked(page.Items, first, false))
			}
			l.mu.Unlock()
		}
	}

	started := time.Now()
	page, err := l.network.FetchPage(ctx, req)

	l.mu.Lock()
	defer l.mu.Unlock()
	if gen != l.cursor.Generation() {
		l.logger.Info("dropping response for reset list", zap.Int("offset", offset), zap.Error(err))
		return res, ErrStale
	}
	if err != nil {
		l.cursor.Fail()
		return res, fmt.Errorf("fetch page at offset %d: %w", offset, err)
	}

	// The first page keeps what the cache delivered; the network version of
	// each item supersedes it.
	res.add(l.applyPageLocked(page.Items, first && res.Added == 0, true))
	l.completeLocked(page, l.store.Len() > offset)
	l.logger.Debug("page loaded",
		zap.Int("offset", offset),
		zap.Int("received", len(page.Items)),
		zap.Int("held", l.store.Len()),
		zap.Duration("took", time.Since(started)),
	)
	return res, nil
}

// completeLocked updates the cursor from page. grew reports whether the load
// held more items than its request offset; a load that did not grow would be
// requested again at the same offset, so it ends the pagination.
func (l *List[T]) completeLocked(page Page[T], grew bool) {
	held := l.store.Len()
	if !grew {
		if len(page.Items) > 0 {
			l.logger.Info("page held nothing new, stopping", zap.Int("held", held), zap.Int("received", len(page.Items)))
		}
		if page.TotalCount != nil {
			l.cursor.CompletePageTotal(held)
		} else {
			l.cursor.CompletePage(false)
		}
		return
	}
	switch {
	case page.TotalCount != nil:
		total := *page.TotalCount
		// An empty page means the total overstates what the server can
		// deliver; stop here instead of asking again.
		if len(page.Items) == 0 && held < total {
			total = held
		}
		l.cursor.CompletePageTotal(total)
	case page.HasNext != nil:
		l.cursor.CompletePage(*page.HasNext && len(page.Items) > 0)
	default:
		l.cursor.CompletePage(false)
	}
}

func (l *List[T]) applyPageLocked(items []T, replaceAll, authoritative bool) (Change, int) {
	if replaceAll {
		l.store.SetAll(items)
		l.index.Rebuild(l.store.View())
		return l.emitLocked(diff.Diff{Reload: true}), l.store.Len()
	}

	beforeShape := l.index.Shape()
	var (
		added, updated []T
		snap           diff.Snapshot[T]
	)
	if authoritative {
		snap = diff.Capture[T](l.index, items)
		added, updated = l.store.Merge(items)
	} else {
		added = l.store.AppendDeduplicated(items)
	}
	if dropped := len(items) - len(added) - len(updated); dropped > 0 {
		l.logger.Debug("deduplicated page", zap.Int("dropped", dropped))
	}
	l.index.Rebuild(l.store.View())
	afterShape := l.index.Shape()

	d := diff.ComputeAppend(beforeShape.Len(), afterShape.Len(), added, l.older, l.index)
	if len(updated) > 0 {
		u := diff.ComputeUpdate[T](snap, l.index, updated)
		d.Rows = append(d.Rows, u.Rows...)
		d.RemovedRows = u.RemovedRows
		d.ReloadedRows = u.ReloadedRows
		d.Reload = d.Reload || u.Reload
	}
	// Items that landed between existing sections break the range
	// arithmetic; fall back to a reload rather than a wrong diff.
	if !slices.Equal(d.Sections, diff.InsertedSections(beforeShape, afterShape)) {
		d.Reload = true
	}
	return l.emitLocked(d), len(added)
}

// Upsert stores item by unique id (or id) and returns the change. It is how
// locally created items are confirmed by the server.
func (l *List[T]) Upsert(item T) Change {
	l.mu.Lock()
	defer l.mu.Unlock()

	beforeShape := l.index.Shape()
	snap := diff.Capture[T](l.index, []T{item})
	inserted := l.store.UpsertByUniqueID(item)
	l.index.Rebuild(l.store.View())

	var d diff.Diff
	if inserted {
		d.Sections = diff.InsertedSections(beforeShape, l.index.Shape())
		if c, ok := l.index.LocateItem(item); ok {
			d.Rows = []section.Coordinate{c}
		} else {
			d.Reload = true
		}
	} else {
		d = diff.ComputeUpdate[T](snap, l.index, []T{item})
		d.Sections = diff.InsertedSections(beforeShape, l.index.Shape())
		d.RemovedSections = diff.InsertedSections(l.index.Shape(), beforeShape)
	}
	return l.emitLocked(d)
}

// Remove deletes the item with the given id.
func (l *List[T]) Remove(id int64) Change {
	return l.RemoveMatching(func(it T) bool {
		other, ok := it.SeqID()
		return ok && other == id
	})
}

// RemoveMatching deletes every item for which pred returns true.
func (l *List[T]) RemoveMatching(pred func(T) bool) Change {
	l.mu.Lock()
	defer l.mu.Unlock()

	beforeShape := l.index.Shape()
	var coords []section.Coordinate
	for _, it := range l.store.View() {
		if !pred(it) {
			continue
		}
		if c, ok := l.index.LocateItem(it); ok {
			coords = append(coords, c)
		}
	}
	removed := l.store.RemoveMatching(pred)
	if len(removed) == 0 {
		return Change{List: l.name, Version: l.index.Version()}
	}
	l.index.Rebuild(l.store.View())
	d := diff.ComputeRemoval(beforeShape, l.index.Shape(), coords)
	if len(coords) != len(removed) {
		d.Reload = true
	}
	return l.emitLocked(d)
}

// SetFilter changes the backend filter and resets the list.
func (l *List[T]) SetFilter(filter string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.filter = filter
	l.resetLocked()
}

// Reset clears the list. Fetches in flight will return ErrStale.
func (l *List[T]) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.resetLocked()
}

func (l *List[T]) resetLocked() {
	l.store.Clear()
	l.index.Rebuild(nil)
	l.cursor.Reset()
}

func (l *List[T]) emitLocked(d diff.Diff) Change {
	c := Change{List: l.name, Diff: d, Version: l.index.Version()}
	if d.Reload {
		l.logger.Debug("change requires full reload", zap.Uint64("version", c.Version))
	}
	if l.observer != nil {
		l.observer(c)
	}
	if l.bus != nil {
		l.bus.Emit(bus.KindListDiff, c)
	}
	return c
}

func (r *Result) add(c Change, added int) {
	r.Changes = append(r.Changes, c)
	r.Added += added
}

// Follow subscribes to namespace on b and upserts every item decode accepts,
// until ctx is done. It is how send acknowledgements reach an open thread.
func (l *List[T]) Follow(ctx context.Context, b *bus.Bus, namespace string, decode func(bus.Event) (T, bool)) {
	ch, unsub := b.Subscribe(namespace, 64)
	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				if it, ok := decode(evt); ok {
					l.Upsert(it)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}
