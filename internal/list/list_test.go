package list

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/talk/internal/bus"
	"github.com/matheus3301/talk/internal/model"
	"github.com/matheus3301/talk/internal/section"
	"go.uber.org/zap"
)

const dayMs = 24 * 3600 * 1000

// fakeBackend serves a fixed, time-ordered item set and records requests.
type fakeBackend struct {
	mu       sync.Mutex
	items    []model.Message
	total    bool // answer with a total count instead of has-next
	err      error
	gate     chan struct{}
	requests []PageRequest
}

func (f *fakeBackend) FetchPage(ctx context.Context, req PageRequest) (Page[model.Message], error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	gate, err := f.gate, f.err
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return Page[model.Message]{}, ctx.Err()
		}
	}
	if err != nil {
		return Page[model.Message]{}, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	start := min(req.Offset, len(f.items))
	end := min(start+req.Count, len(f.items))
	page := Page[model.Message]{Items: slices.Clone(f.items[start:end])}
	if f.total {
		n := len(f.items)
		page.TotalCount = &n
	} else {
		more := end < len(f.items)
		page.HasNext = &more
	}
	return page, nil
}

func (f *fakeBackend) offsets() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []int
	for _, r := range f.requests {
		out = append(out, r.Offset)
	}
	return out
}

func msg(id int64, ts uint64) model.Message {
	return model.Message{ID: model.Int64(id), Time: model.Uint64(ts), Body: "server"}
}

func series(n int, perDay int) []model.Message {
	out := make([]model.Message, n)
	for i := range out {
		out[i] = msg(int64(i+1), uint64(i/perDay)*dayMs+uint64(i%perDay)*1000)
	}
	return out
}

func newMessageList(f Fetcher[model.Message], opts ...Option[model.Message]) *List[model.Message] {
	logger, _ := zap.NewDevelopment()
	opts = append([]Option[model.Message]{WithLogger[model.Message](logger)}, opts...)
	return New(f, section.ByDay[model.Message](time.UTC), opts...)
}

func heldIDs(l *List[model.Message]) []int64 {
	var out []int64
	for _, s := range l.Sections() {
		for _, m := range s.Items {
			if m.ID == nil {
				out = append(out, -1)
				continue
			}
			out = append(out, *m.ID)
		}
	}
	return out
}

func TestLoadUntilExhausted(t *testing.T) {
	for _, total := range []bool{false, true} {
		backend := &fakeBackend{items: series(40, 10), total: total}
		l := newMessageList(backend, WithPageSize[model.Message](15))
		ctx := context.Background()

		if _, err := l.LoadFirstPage(ctx); err != nil {
			t.Fatal(err)
		}
		steps := 0
		for l.CanLoadMore() {
			if steps++; steps > 10 {
				t.Fatal("load loop did not terminate")
			}
			if _, err := l.LoadMore(ctx); err != nil {
				t.Fatal(err)
			}
		}

		if l.Len() != 40 {
			t.Errorf("total=%v: Len() = %d, want 40", total, l.Len())
		}
		if got := backend.offsets(); !slices.Equal(got, []int{0, 15, 30}) {
			t.Errorf("total=%v: offsets = %v, want [0 15 30]", total, got)
		}
		if n := len(l.Sections()); n != 4 {
			t.Errorf("total=%v: %d sections, want 4", total, n)
		}
	}
}

func TestLoadMoreOffsetAfterDedup(t *testing.T) {
	items := series(30, 30)
	// The second page overlaps the first by two items.
	backend := &fakeBackend{items: append(slices.Clone(items[:15]), items[13:]...)}
	l := newMessageList(backend, WithPageSize[model.Message](15))
	ctx := context.Background()

	if _, err := l.LoadFirstPage(ctx); err != nil {
		t.Fatal(err)
	}
	res, err := l.LoadMore(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Added != 13 {
		t.Errorf("added = %d, want 13", res.Added)
	}
	if _, err := l.LoadMore(ctx); err != nil {
		t.Fatal(err)
	}
	// The third request starts at the held count, 28, not at 30.
	if got := backend.offsets(); !slices.Equal(got, []int{0, 15, 28}) {
		t.Errorf("offsets = %v, want [0 15 28]", got)
	}
	if l.Len() != 30 {
		t.Errorf("Len() = %d, want 30", l.Len())
	}
}

func TestRepeatedPageEndsPagination(t *testing.T) {
	for _, total := range []bool{false, true} {
		items := series(15, 15)
		// The second page repeats the first one; new items follow it.
		served := append(slices.Clone(items), items...)
		for i := range 5 {
			served = append(served, msg(int64(100+i), uint64(dayMs+i)))
		}
		backend := &fakeBackend{items: served, total: total}
		l := newMessageList(backend, WithPageSize[model.Message](15))
		ctx := context.Background()

		if _, err := l.LoadFirstPage(ctx); err != nil {
			t.Fatal(err)
		}
		steps := 0
		for l.CanLoadMore() {
			if steps++; steps > 10 {
				t.Fatalf("total=%v: load loop did not terminate, offsets = %v", total, backend.offsets())
			}
			if _, err := l.LoadMore(ctx); err != nil {
				t.Fatal(err)
			}
		}

		if got := backend.offsets(); !slices.Equal(got, []int{0, 15}) {
			t.Errorf("total=%v: offsets = %v, want [0 15]", total, got)
		}
		if l.Len() != 15 {
			t.Errorf("total=%v: Len() = %d, want 15", total, l.Len())
		}
	}
}

func TestCacheThenNetwork(t *testing.T) {
	cached := []model.Message{msg(1, 1000), msg(2, 2000)}
	for i := range cached {
		cached[i].Body = "cache"
	}
	cache := &fakeBackend{items: cached}
	network := &fakeBackend{items: []model.Message{msg(1, 1000), msg(2, 2000), msg(3, 3000)}}

	var seen []Change
	l := newMessageList(network,
		WithCache[model.Message](cache),
		WithObserver[model.Message](func(c Change) { seen = append(seen, c) }),
	)

	res, err := l.LoadFirstPage(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Changes) != 2 {
		t.Fatalf("got %d changes, want 2 (cache, network)", len(res.Changes))
	}
	if !res.Changes[0].Diff.Reload {
		t.Error("first page from cache should reload the view")
	}
	if got := heldIDs(l); !slices.Equal(got, []int64{1, 2, 3}) {
		t.Errorf("ids = %v, want [1 2 3]", got)
	}
	for _, s := range l.Sections() {
		for _, m := range s.Items {
			if m.Body != "server" {
				t.Errorf("id %d body = %q, want server", *m.ID, m.Body)
			}
		}
	}
	network2 := res.Changes[1].Diff
	if len(network2.Rows) != 1 || len(network2.ReloadedRows) != 2 {
		t.Errorf("network diff = %+v, want 1 inserted row and 2 reloaded rows", network2)
	}
	if len(seen) != 2 {
		t.Errorf("observer saw %d changes, want 2", len(seen))
	}
}

func TestCacheFailureIsNotFatal(t *testing.T) {
	cache := &fakeBackend{err: errors.New("disk gone")}
	network := &fakeBackend{items: series(3, 3)}
	l := newMessageList(network, WithCache[model.Message](cache))

	if _, err := l.LoadFirstPage(context.Background()); err != nil {
		t.Fatal(err)
	}
	if l.Len() != 3 {
		t.Errorf("Len() = %d, want 3", l.Len())
	}
}

func TestFetchFailureAllowsRetry(t *testing.T) {
	backend := &fakeBackend{items: series(5, 5), err: errors.New("timeout")}
	l := newMessageList(backend)
	ctx := context.Background()

	if _, err := l.LoadFirstPage(ctx); err == nil {
		t.Fatal("expected an error")
	}
	if !l.CanLoadMore() {
		t.Fatal("list should allow a retry after a failed fetch")
	}

	backend.mu.Lock()
	backend.err = nil
	backend.mu.Unlock()
	if _, err := l.LoadMore(ctx); err != nil {
		t.Fatal(err)
	}
	if l.Len() != 5 {
		t.Errorf("Len() = %d, want 5", l.Len())
	}
}

func TestSingleFetchInFlight(t *testing.T) {
	backend := &fakeBackend{items: series(5, 5), gate: make(chan struct{})}
	l := newMessageList(backend)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := l.LoadMore(ctx)
		done <- err
	}()

	deadline := time.After(time.Second)
	for len(backend.offsets()) == 0 {
		select {
		case <-deadline:
			t.Fatal("first fetch never started")
		case <-time.After(5 * time.Millisecond):
		}
	}
	if l.CanLoadMore() {
		t.Error("CanLoadMore should be false while a fetch is in flight")
	}
	res, err := l.LoadMore(ctx)
	if err != nil || len(res.Changes) != 0 {
		t.Errorf("concurrent LoadMore = %+v, %v; want an empty result", res, err)
	}

	close(backend.gate)
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if got := len(backend.offsets()); got != 1 {
		t.Errorf("%d fetches, want 1", got)
	}
}

func TestResetDropsStaleResponse(t *testing.T) {
	backend := &fakeBackend{items: series(5, 5), gate: make(chan struct{})}
	l := newMessageList(backend)

	done := make(chan error, 1)
	go func() {
		_, err := l.LoadMore(context.Background())
		done <- err
	}()
	for len(backend.offsets()) == 0 {
		time.Sleep(5 * time.Millisecond)
	}

	l.Reset()
	close(backend.gate)

	if err := <-done; !errors.Is(err, ErrStale) {
		t.Errorf("error = %v, want ErrStale", err)
	}
	if l.Len() != 0 {
		t.Errorf("Len() = %d, want 0", l.Len())
	}
	if !l.CanLoadMore() {
		t.Error("reset list should be able to load")
	}
}

func TestLoadOlderPagesPrepend(t *testing.T) {
	// Newest first, as a thread history endpoint returns it.
	all := series(4, 1)
	slices.Reverse(all)
	backend := &fakeBackend{items: all}
	l := newMessageList(backend, WithPageSize[model.Message](2), WithOlderPages[model.Message]())
	ctx := context.Background()

	if _, err := l.LoadFirstPage(ctx); err != nil {
		t.Fatal(err)
	}
	res, err := l.LoadMore(ctx)
	if err != nil {
		t.Fatal(err)
	}
	d := res.Changes[0].Diff
	if !slices.Equal(d.Sections, []int{0, 1}) {
		t.Errorf("sections = %v, want [0 1]", d.Sections)
	}
	if d.Reload {
		t.Error("a pure prepend should not need a reload")
	}
	if got := heldIDs(l); !slices.Equal(got, []int64{1, 2, 3, 4}) {
		t.Errorf("ids = %v, want [1 2 3 4]", got)
	}
}

func TestUpsertConfirmsPending(t *testing.T) {
	l := newMessageList(&fakeBackend{})
	if _, err := l.LoadFirstPage(context.Background()); err != nil {
		t.Fatal(err)
	}

	pending := model.Message{UniqueID: "u1", Time: model.Uint64(3 * dayMs), Status: model.StatusPending}
	c := l.Upsert(pending)
	if !slices.Equal(c.Diff.Sections, []int{0}) || len(c.Diff.Rows) != 1 {
		t.Errorf("insert diff = %+v, want section 0 and one row", c.Diff)
	}

	acked := pending
	acked.ID = model.Int64(99)
	acked.Status = model.StatusSent
	c = l.Upsert(acked)
	if len(c.Diff.ReloadedRows) != 1 || len(c.Diff.Rows) != 0 {
		t.Errorf("ack diff = %+v, want one reloaded row", c.Diff)
	}
	if l.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", l.Len())
	}
	coord, ok := l.Locate(99)
	if !ok {
		t.Fatal("Locate(99) failed")
	}
	if uc, ok := l.LocateUniqueID("u1"); !ok || uc != coord {
		t.Errorf("LocateUniqueID(u1) = %v, %v; want %v", uc, ok, coord)
	}
}

func TestFollowAppliesAcks(t *testing.T) {
	b := bus.New()
	l := newMessageList(&fakeBackend{})
	l.Upsert(model.Message{UniqueID: "u1", Time: model.Uint64(1000)})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	l.Follow(ctx, b, bus.KindSendAck, func(evt bus.Event) (model.Message, bool) {
		m, ok := evt.Payload.(model.Message)
		return m, ok
	})

	b.Emit(bus.KindSendAck, model.Message{ID: model.Int64(7), UniqueID: "u1", Time: model.Uint64(1000)})

	deadline := time.After(time.Second)
	for {
		if _, ok := l.Locate(7); ok {
			break
		}
		select {
		case <-deadline:
			t.Fatal("ack was not applied")
		case <-time.After(5 * time.Millisecond):
		}
	}
	if l.Len() != 1 {
		t.Errorf("Len() = %d, want 1", l.Len())
	}
}

func TestRemovePublishesDiff(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe(bus.KindListDiff, 10)
	defer unsub()

	backend := &fakeBackend{items: series(3, 2)}
	l := newMessageList(backend, WithBus[model.Message](b), WithName[model.Message]("thread-1"))
	if _, err := l.LoadFirstPage(context.Background()); err != nil {
		t.Fatal(err)
	}
	<-ch

	c := l.Remove(3)
	if !slices.Equal(c.Diff.RemovedSections, []int{1}) {
		t.Errorf("removed sections = %v, want [1]", c.Diff.RemovedSections)
	}
	if len(c.Diff.RemovedRows) != 1 || c.Diff.RemovedRows[0] != (section.Coordinate{Section: 1, Row: 0}) {
		t.Errorf("removed rows = %v, want [1:0]", c.Diff.RemovedRows)
	}

	select {
	case evt := <-ch:
		got, ok := evt.Payload.(Change)
		if !ok || got.List != "thread-1" {
			t.Errorf("payload = %#v, want a thread-1 Change", evt.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("no diff published")
	}

	if c := l.Remove(42); !c.Diff.Empty() {
		t.Errorf("removing a missing id produced %+v", c.Diff)
	}
}

func TestSameGroupPrevious(t *testing.T) {
	items := []model.Message{msg(1, 1000), msg(2, 2000), msg(3, 3000)}
	items[0].SenderID, items[1].SenderID, items[2].SenderID = 5, 5, 6
	l := newMessageList(&fakeBackend{items: items}, WithSameGroup(func(a, b model.Message) bool {
		return a.SenderID == b.SenderID
	}))
	if _, err := l.LoadFirstPage(context.Background()); err != nil {
		t.Fatal(err)
	}

	if prev, ok := l.SameGroupPrevious(section.Coordinate{Row: 1}); !ok || *prev.ID != 1 {
		t.Errorf("SameGroupPrevious(0:1) = %v, %v", prev.ID, ok)
	}
	if _, ok := l.SameGroupPrevious(section.Coordinate{Row: 2}); ok {
		t.Error("different senders should not group")
	}
	if c, ok := l.Next(section.Coordinate{Row: 1}); !ok || c.Row != 2 {
		t.Errorf("Next(0:1) = %v, %v", c, ok)
	}
	if c, ok := l.Previous(section.Coordinate{Row: 1}); !ok || c.Row != 0 {
		t.Errorf("Previous(0:1) = %v, %v", c, ok)
	}
}

func TestSetFilterResets(t *testing.T) {
	backend := &fakeBackend{items: series(3, 3)}
	l := newMessageList(backend, WithFilter[model.Message]("all"))
	ctx := context.Background()
	if _, err := l.LoadFirstPage(ctx); err != nil {
		t.Fatal(err)
	}

	l.SetFilter("media")
	if l.Len() != 0 {
		t.Errorf("Len() = %d after SetFilter, want 0", l.Len())
	}
	if _, err := l.LoadMore(ctx); err != nil {
		t.Fatal(err)
	}
	backend.mu.Lock()
	last := backend.requests[len(backend.requests)-1]
	backend.mu.Unlock()
	if last.Filter != "media" || last.Offset != 0 {
		t.Errorf("request = %+v, want filter media at offset 0", last)
	}
}

func TestParticipantsList(t *testing.T) {
	joined := uint64(5 * dayMs)
	parts := []model.Participant{
		{ID: model.Int64(1), Name: "ana", Time: &joined},
		{ID: model.Int64(2), Name: "bo"},
	}
	f := FetcherFunc[model.Participant](func(_ context.Context, req PageRequest) (Page[model.Participant], error) {
		more := false
		return Page[model.Participant]{Items: parts, HasNext: &more}, nil
	})
	l := New[model.Participant](f, section.ByDay[model.Participant](time.UTC), WithPageSize[model.Participant](50))

	if _, err := l.LoadFirstPage(context.Background()); err != nil {
		t.Fatal(err)
	}
	secs := l.Sections()
	if len(secs) != 2 || secs[1].Key != section.Undated {
		t.Fatalf("sections = %+v, want a day section and the undated one", secs)
	}
	if l.CanLoadMore() {
		t.Error("CanLoadMore should be false after the last page")
	}
}
