package diff

import (
	"slices"
	"testing"
	"time"

	"github.com/matheus3301/talk/internal/itemstore"
	"github.com/matheus3301/talk/internal/model"
	"github.com/matheus3301/talk/internal/section"
)

func day(t *testing.T, s string) uint64 {
	t.Helper()
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		t.Fatal(err)
	}
	return uint64(d.UnixMilli())
}

func msg(id int64, ts uint64) model.Message {
	return model.Message{ID: model.Int64(id), Time: model.Uint64(ts)}
}

type fixture struct {
	store *itemstore.Store[model.Message]
	index *section.Index[model.Message]
}

func newFixture(items ...model.Message) *fixture {
	f := &fixture{
		store: itemstore.New[model.Message](),
		index: section.New(section.ByDay[model.Message](time.UTC)),
	}
	f.store.SetAll(items)
	f.index.Rebuild(f.store.View())
	return f
}

func (f *fixture) append(batch ...model.Message) (before int, added []model.Message) {
	before = f.index.Len()
	added = f.store.AppendDeduplicated(batch)
	f.index.Rebuild(f.store.View())
	return before, added
}

func coords(cs ...[2]int) []section.Coordinate {
	out := make([]section.Coordinate, len(cs))
	for i, c := range cs {
		out[i] = section.Coordinate{Section: c[0], Row: c[1]}
	}
	return out
}

func TestComputeAppendBottom(t *testing.T) {
	d1, d2, d3 := day(t, "2024-01-01"), day(t, "2024-01-02"), day(t, "2024-01-03")
	f := newFixture(msg(1, d1), msg(2, d1+1), msg(3, d2))

	before, added := f.append(msg(4, d2+1), msg(5, d3))
	d := ComputeAppend(before, f.index.Len(), added, false, f.index)

	if !slices.Equal(d.Sections, []int{2}) {
		t.Errorf("sections = %v, want [2]", d.Sections)
	}
	if want := coords([2]int{1, 1}, [2]int{2, 0}); !slices.Equal(d.Rows, want) {
		t.Errorf("rows = %v, want %v", d.Rows, want)
	}
	if len(d.RemovedSections) != 0 || d.Reload {
		t.Errorf("unexpected removals or reload: %+v", d)
	}
}

func TestComputeAppendNewDaysOnly(t *testing.T) {
	d1, d2, d3, d4 := day(t, "2024-01-01"), day(t, "2024-01-02"), day(t, "2024-01-03"), day(t, "2024-01-04")
	f := newFixture(msg(1, d1), msg(2, d2))

	before, added := f.append(msg(3, d3), msg(4, d4), msg(5, d4+1))
	d := ComputeAppend(before, f.index.Len(), added, false, f.index)

	if !slices.Equal(d.Sections, []int{2, 3}) {
		t.Errorf("sections = %v, want [2 3]", d.Sections)
	}
	if len(d.Rows) != 3 {
		t.Errorf("rows = %v, want 3 rows", d.Rows)
	}
}

func TestComputeAppendTop(t *testing.T) {
	d1, d2, d3 := day(t, "2024-01-01"), day(t, "2024-01-02"), day(t, "2024-01-03")
	f := newFixture(msg(10, d3))

	before, added := f.append(msg(1, d1), msg(2, d2))
	d := ComputeAppend(before, f.index.Len(), added, true, f.index)

	if !slices.Equal(d.Sections, []int{0, 1}) {
		t.Errorf("sections = %v, want [0 1]", d.Sections)
	}
	if want := coords([2]int{0, 0}, [2]int{1, 0}); !slices.Equal(d.Rows, want) {
		t.Errorf("rows = %v, want %v", d.Rows, want)
	}
}

func TestComputeAppendSameSection(t *testing.T) {
	d1 := day(t, "2024-01-01")
	f := newFixture(msg(1, d1), msg(2, d1+10))

	before, added := f.append(msg(3, d1+5))
	d := ComputeAppend(before, f.index.Len(), added, false, f.index)

	if len(d.Sections) != 0 {
		t.Errorf("sections = %v, want none", d.Sections)
	}
	if want := coords([2]int{0, 1}); !slices.Equal(d.Rows, want) {
		t.Errorf("rows = %v, want %v", d.Rows, want)
	}
}

func TestComputeAppendUnresolvedAsksReload(t *testing.T) {
	f := newFixture(msg(1, 1000))
	d := ComputeAppend(1, 1, []model.Message{msg(99, 2000)}, false, f.index)
	if len(d.Rows) != 0 {
		t.Errorf("rows = %v, want none", d.Rows)
	}
	if !d.Reload {
		t.Error("Reload = false for an unresolvable item")
	}
}

func TestComputeAppendPendingByUniqueID(t *testing.T) {
	d1 := day(t, "2024-01-01")
	f := newFixture(msg(1, d1))
	before, added := f.append(model.Message{UniqueID: "u1", Time: model.Uint64(d1 + 1)})

	d := ComputeAppend(before, f.index.Len(), added, false, f.index)
	if want := coords([2]int{0, 1}); !slices.Equal(d.Rows, want) {
		t.Errorf("rows = %v, want %v", d.Rows, want)
	}
}

func TestComputeRemoval(t *testing.T) {
	d1, d2 := day(t, "2024-01-01"), day(t, "2024-01-02")
	f := newFixture(msg(1, d1), msg(2, d1+1), msg(3, d2))

	beforeShape := f.index.Shape()
	c2, _ := f.index.Locate(2)
	c3, _ := f.index.Locate(3)
	f.store.Remove(2)
	f.store.Remove(3)
	f.index.Rebuild(f.store.View())

	d := ComputeRemoval(beforeShape, f.index.Shape(), []section.Coordinate{c3, c2})
	if !slices.Equal(d.RemovedSections, []int{1}) {
		t.Errorf("removed sections = %v, want [1]", d.RemovedSections)
	}
	if want := coords([2]int{0, 1}, [2]int{1, 0}); !slices.Equal(d.RemovedRows, want) {
		t.Errorf("removed rows = %v, want %v", d.RemovedRows, want)
	}
}

func TestComputeUpdateMoved(t *testing.T) {
	d1, d2 := day(t, "2024-01-01"), day(t, "2024-01-02")
	f := newFixture(msg(1, d1), msg(2, d1+1), msg(3, d2))

	edited := msg(1, d1)
	edited.Body = "edited"
	moved := msg(2, d2+5)
	snap := Capture[model.Message](f.index, []model.Message{edited, moved})
	_, updated := f.store.Merge([]model.Message{edited, moved})
	f.index.Rebuild(f.store.View())

	d := ComputeUpdate[model.Message](snap, f.index, updated)
	if want := coords([2]int{0, 0}); !slices.Equal(d.ReloadedRows, want) {
		t.Errorf("reloaded rows = %v, want %v", d.ReloadedRows, want)
	}
	if want := coords([2]int{0, 1}); !slices.Equal(d.RemovedRows, want) {
		t.Errorf("removed rows = %v, want %v", d.RemovedRows, want)
	}
	if want := coords([2]int{1, 1}); !slices.Equal(d.Rows, want) {
		t.Errorf("rows = %v, want %v", d.Rows, want)
	}
}

func TestDiffEmpty(t *testing.T) {
	if !(Diff{}).Empty() {
		t.Error("zero Diff should be empty")
	}
	if (Diff{Reload: true}).Empty() {
		t.Error("reload diff should not be empty")
	}
}

func TestInsertedSections(t *testing.T) {
	d1, d2, d3 := day(t, "2024-01-01"), day(t, "2024-01-02"), day(t, "2024-01-03")
	f := newFixture(msg(1, d1), msg(3, d3))
	before := f.index.Shape()
	f.append(msg(2, d2))

	if got := InsertedSections(before, f.index.Shape()); !slices.Equal(got, []int{1}) {
		t.Errorf("InsertedSections = %v, want [1]", got)
	}
}
