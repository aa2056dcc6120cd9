package section

import (
	"slices"
	"testing"
	"time"

	"github.com/matheus3301/talk/internal/itemstore"
	"github.com/matheus3301/talk/internal/model"
)

func day(t *testing.T, s string) uint64 {
	t.Helper()
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		t.Fatal(err)
	}
	return uint64(d.UnixMilli())
}

func msg(id int64, ts uint64, sender int64) model.Message {
	return model.Message{ID: model.Int64(id), Time: model.Uint64(ts), SenderID: sender}
}

func build(t *testing.T, items ...model.Message) (*itemstore.Store[model.Message], *Index[model.Message]) {
	t.Helper()
	st := itemstore.New[model.Message]()
	st.SetAll(items)
	x := New(ByDay[model.Message](time.UTC), WithSameGroup(func(a, b model.Message) bool {
		return a.SenderID == b.SenderID
	}))
	x.Rebuild(st.View())
	return st, x
}

func sectionIDs(x *Index[model.Message]) [][]int64 {
	var out [][]int64
	for _, s := range x.Sections() {
		var row []int64
		for _, m := range s.Items {
			row = append(row, *m.ID)
		}
		out = append(out, row)
	}
	return out
}

func TestKeyString(t *testing.T) {
	k := DayKey(day(t, "2024-01-01")+5*3600*1000, time.UTC)
	if k.String() != "2024-01-01" {
		t.Errorf("String() = %q, want 2024-01-01", k.String())
	}
	parsed, err := ParseKey("2024-01-01")
	if err != nil {
		t.Fatal(err)
	}
	if parsed != k {
		t.Errorf("ParseKey = %d, want %d", parsed, k)
	}
	if Undated.String() != "undated" {
		t.Errorf("Undated.String() = %q", Undated.String())
	}
}

func TestDayKeyLocation(t *testing.T) {
	// 2024-01-01T23:30Z is already 2024-01-02 in UTC+2.
	ms := day(t, "2024-01-01") + (23*60+30)*60*1000
	east := time.FixedZone("east", 2*3600)
	if got := DayKey(ms, time.UTC).String(); got != "2024-01-01" {
		t.Errorf("UTC day = %s, want 2024-01-01", got)
	}
	if got := DayKey(ms, east).String(); got != "2024-01-02" {
		t.Errorf("east day = %s, want 2024-01-02", got)
	}
}

func TestRebuildSingleSection(t *testing.T) {
	d := day(t, "2024-01-01")
	_, x := build(t, msg(1, d+1000, 1), msg(2, d+2000, 1))

	if x.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", x.Len())
	}
	if x.Key(0).String() != "2024-01-01" {
		t.Errorf("key = %s, want 2024-01-01", x.Key(0))
	}
	if got := sectionIDs(x); !slices.Equal(got[0], []int64{1, 2}) {
		t.Errorf("items = %v, want [1 2]", got[0])
	}
}

func TestRebuildSectionsAscending(t *testing.T) {
	d1, d2, d3 := day(t, "2024-01-01"), day(t, "2024-01-02"), day(t, "2024-01-03")
	_, x := build(t,
		msg(5, d3, 1), msg(1, d1+10, 1), msg(3, d2+5, 1),
		model.Message{ID: model.Int64(9)}, msg(2, d1+20, 1), msg(4, d2+1, 1),
	)

	want := [][]int64{{1, 2}, {4, 3}, {5}, {9}}
	got := sectionIDs(x)
	if !slices.EqualFunc(got, want, slices.Equal) {
		t.Fatalf("sections = %v, want %v", got, want)
	}
	for i := 1; i < x.Len(); i++ {
		if x.Key(i-1) >= x.Key(i) {
			t.Errorf("section %d key %s not below section %d key %s", i-1, x.Key(i-1), i, x.Key(i))
		}
	}
	if x.Key(3) != Undated {
		t.Errorf("last key = %s, want undated", x.Key(3))
	}
	for _, s := range x.Sections() {
		for i := 1; i < len(s.Items); i++ {
			a, aok := s.Items[i-1].SeqTime()
			b, bok := s.Items[i].SeqTime()
			if aok && bok && a > b {
				t.Errorf("section %s out of order at row %d", s.Key, i)
			}
		}
	}
}

func TestLocateRoundTrip(t *testing.T) {
	d1, d2 := day(t, "2024-01-01"), day(t, "2024-01-02")
	st, x := build(t, msg(1, d1, 1), msg(2, d1+1, 1), msg(3, d2, 1), msg(4, d2+1, 2))

	for _, m := range st.Items() {
		c, ok := x.Locate(*m.ID)
		if !ok {
			t.Fatalf("Locate(%d) not found", *m.ID)
		}
		got, ok := x.Item(c)
		if !ok || *got.ID != *m.ID {
			t.Errorf("Item(Locate(%d)) = %v", *m.ID, got)
		}
	}

	c, ok := x.Locate(4)
	if !ok || c != (Coordinate{Section: 1, Row: 1}) {
		t.Errorf("Locate(4) = %v, want 1:1", c)
	}
	if _, ok := x.Locate(42); ok {
		t.Error("Locate(42) should fail")
	}
}

func TestLocateUniqueID(t *testing.T) {
	d := day(t, "2024-01-01")
	_, x := build(t, msg(1, d, 1), model.Message{UniqueID: "u1", Time: model.Uint64(d + 5)})

	c, ok := x.LocateUniqueID("u1")
	if !ok || c != (Coordinate{Section: 0, Row: 1}) {
		t.Errorf("LocateUniqueID(u1) = %v, %v", c, ok)
	}
	if _, ok := x.LocateUniqueID(""); ok {
		t.Error("empty unique id should not resolve")
	}
	if s, ok := x.SectionForUniqueID("u1"); !ok || s != 0 {
		t.Errorf("SectionForUniqueID(u1) = %d, %v", s, ok)
	}
}

func TestSectionLookups(t *testing.T) {
	d1, d2 := day(t, "2024-01-01"), day(t, "2024-01-02")
	_, x := build(t, msg(1, d1, 1), msg(2, d2, 1), msg(3, d2+1, 1))

	if s, ok := x.SectionForID(3); !ok || s != 1 {
		t.Errorf("SectionForID(3) = %d, %v", s, ok)
	}
	k, _ := ParseKey("2024-01-02")
	if s, ok := x.SectionForKey(k); !ok || s != 1 {
		t.Errorf("SectionForKey(2024-01-02) = %d, %v", s, ok)
	}
	if s, ok := x.SectionForKey(DateKey(time.Date(2024, 1, 1, 18, 0, 0, 0, time.UTC))); !ok || s != 0 {
		t.Errorf("SectionForKey(date) = %d, %v", s, ok)
	}
	if row, ok := x.RowIndex(3, 1); !ok || row != 1 {
		t.Errorf("RowIndex(3, 1) = %d, %v", row, ok)
	}
	if _, ok := x.RowIndex(3, 0); ok {
		t.Error("RowIndex(3, 0) should fail: id 3 is in section 1")
	}
}

func TestRowIndexOutOfRangePanics(t *testing.T) {
	_, x := build(t, msg(1, 1000, 1))
	defer func() {
		if recover() == nil {
			t.Error("RowIndex with an out-of-range section did not panic")
		}
	}()
	x.RowIndex(1, 5)
}

func TestPreviousNext(t *testing.T) {
	d1, d2 := day(t, "2024-01-01"), day(t, "2024-01-02")
	_, x := build(t, msg(1, d1, 1), msg(2, d1+1, 1), msg(3, d2, 1))

	tests := []struct {
		name   string
		step   func(Coordinate) (Coordinate, bool)
		from   Coordinate
		want   Coordinate
		wantOK bool
	}{
		{"previous in section", x.Previous, Coordinate{0, 1}, Coordinate{0, 0}, true},
		{"previous across sections", x.Previous, Coordinate{1, 0}, Coordinate{0, 1}, true},
		{"previous at start", x.Previous, Coordinate{0, 0}, Coordinate{}, false},
		{"next in section", x.Next, Coordinate{0, 0}, Coordinate{0, 1}, true},
		{"next across sections", x.Next, Coordinate{0, 1}, Coordinate{1, 0}, true},
		{"next at end", x.Next, Coordinate{1, 0}, Coordinate{}, false},
		{"stale coordinate", x.Next, Coordinate{4, 0}, Coordinate{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.step(tt.from)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("got (%v, %v), want (%v, %v)", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestSameGroupPrevious(t *testing.T) {
	d1, d2 := day(t, "2024-01-01"), day(t, "2024-01-02")
	_, x := build(t, msg(1, d1, 7), msg(2, d1+1, 7), msg(3, d1+2, 8), msg(4, d2, 8))

	prev, ok := x.SameGroupPrevious(Coordinate{0, 1})
	if !ok || *prev.ID != 1 {
		t.Errorf("SameGroupPrevious(0:1) = %v, %v; want id 1", prev.ID, ok)
	}
	if _, ok := x.SameGroupPrevious(Coordinate{0, 2}); ok {
		t.Error("different senders should not group")
	}
	// Grouping crosses the day boundary like Previous does.
	prev, ok = x.SameGroupPrevious(Coordinate{1, 0})
	if !ok || *prev.ID != 3 {
		t.Errorf("SameGroupPrevious(1:0) = %v, %v; want id 3", prev.ID, ok)
	}
	if _, ok := x.SameGroupPrevious(Coordinate{0, 0}); ok {
		t.Error("first item has no previous")
	}
}

func TestRebuildBumpsVersion(t *testing.T) {
	st, x := build(t, msg(1, 1000, 1))
	v := x.Version()
	st.AppendDeduplicated([]model.Message{msg(2, 2000, 1)})
	x.Rebuild(st.View())
	if x.Version() == v {
		t.Error("Rebuild did not change the version")
	}
	if sh := x.Shape(); sh.Len() != 1 || sh.Rows[0] != 2 {
		t.Errorf("Shape() = %+v, want one section of 2 rows", sh)
	}
}
