// Package section buckets a store's ordered items into day sections and
// resolves item identities to (section, row) coordinates.
//
// An Index is a derived view: after any store mutation it must be rebuilt
// before any lookup is trusted. No lookup is safe between a mutation and the
// next Rebuild.
package section

import (
	"fmt"

	"github.com/matheus3301/talk/internal/model"
)

// Coordinate is the position of an item in the sectioned view.
type Coordinate struct {
	Section int
	Row     int
}

func (c Coordinate) String() string {
	return fmt.Sprintf("%d:%d", c.Section, c.Row)
}

// Section is one bucket of items. Items aliases the store's backing slice.
type Section[T any] struct {
	Key   Key
	Items []T
}

type span struct {
	key        Key
	start, end int
}

// Index is the sectioned view of one store. It is not safe for concurrent use.
type Index[T model.Sequenced] struct {
	group     GroupFunc[T]
	sameGroup func(a, b T) bool

	items     []T
	spans     []span
	sectionOf []int
	byID      map[int64]int
	byUID     map[string]int
	byKey     map[Key]int
	version   uint64
}

// Option configures an Index.
type Option[T model.Sequenced] func(*Index[T])

// WithSameGroup sets the predicate SameGroupPrevious uses, for example
// "sent by the same user".
func WithSameGroup[T model.Sequenced](fn func(a, b T) bool) Option[T] {
	return func(x *Index[T]) { x.sameGroup = fn }
}

// New returns an empty index that buckets items with group.
func New[T model.Sequenced](group GroupFunc[T], opts ...Option[T]) *Index[T] {
	x := &Index[T]{group: group}
	for _, o := range opts {
		o(x)
	}
	x.reset()
	return x
}

func (x *Index[T]) reset() {
	x.items = nil
	x.spans = nil
	x.sectionOf = nil
	x.byID = make(map[int64]int)
	x.byUID = make(map[string]int)
	x.byKey = make(map[Key]int)
}

// Rebuild recomputes the sections from items, which must be in store order.
// A new section starts whenever the group key changes.
func (x *Index[T]) Rebuild(items []T) {
	x.reset()
	x.version++
	x.items = items
	x.sectionOf = make([]int, len(items))
	for i, it := range items {
		k := x.group(it)
		if n := len(x.spans); n == 0 || x.spans[n-1].key != k {
			x.spans = append(x.spans, span{key: k, start: i, end: i})
			x.byKey[k] = len(x.spans) - 1
		}
		x.spans[len(x.spans)-1].end = i + 1
		x.sectionOf[i] = len(x.spans) - 1
		if id, ok := it.SeqID(); ok {
			x.byID[id] = i
		}
		if uid := it.SeqUniqueID(); uid != "" {
			x.byUID[uid] = i
		}
	}
}

// Version increments on every Rebuild. Coordinates obtained under an older
// version may be stale.
func (x *Index[T]) Version() uint64 { return x.version }

// Len returns the number of sections.
func (x *Index[T]) Len() int { return len(x.spans) }

// Rows returns the number of items in section s.
func (x *Index[T]) Rows(s int) int {
	sp := x.span(s)
	return sp.end - sp.start
}

// Key returns the key of section s.
func (x *Index[T]) Key(s int) Key { return x.span(s).key }

// Section returns section s.
func (x *Index[T]) Section(s int) Section[T] {
	sp := x.span(s)
	return Section[T]{Key: sp.key, Items: x.items[sp.start:sp.end:sp.end]}
}

// Sections returns all sections in ascending key order.
func (x *Index[T]) Sections() []Section[T] {
	out := make([]Section[T], len(x.spans))
	for i := range x.spans {
		out[i] = x.Section(i)
	}
	return out
}

// Shape returns the key and row count of every section.
func (x *Index[T]) Shape() Shape {
	sh := Shape{Keys: make([]Key, len(x.spans)), Rows: make([]int, len(x.spans))}
	for i, sp := range x.spans {
		sh.Keys[i] = sp.key
		sh.Rows[i] = sp.end - sp.start
	}
	return sh
}

// SectionForID returns the section holding the item with the given id.
func (x *Index[T]) SectionForID(id int64) (int, bool) {
	c, ok := x.Locate(id)
	return c.Section, ok
}

// SectionForUniqueID returns the section holding the item with the given
// unique id.
func (x *Index[T]) SectionForUniqueID(uid string) (int, bool) {
	c, ok := x.LocateUniqueID(uid)
	return c.Section, ok
}

// SectionForKey returns the section with the given key, for example the
// DayKey of a date.
func (x *Index[T]) SectionForKey(k Key) (int, bool) {
	s, ok := x.byKey[k]
	return s, ok
}

// RowIndex returns the row of the item with the given id inside section s.
// It panics if s is out of range.
func (x *Index[T]) RowIndex(id int64, s int) (int, bool) {
	sp := x.span(s)
	pos, ok := x.byID[id]
	if !ok || pos < sp.start || pos >= sp.end {
		return 0, false
	}
	return pos - sp.start, true
}

// Locate returns the coordinate of the item with the given id.
func (x *Index[T]) Locate(id int64) (Coordinate, bool) {
	pos, ok := x.byID[id]
	if !ok {
		return Coordinate{}, false
	}
	return x.coordinate(pos), true
}

// LocateUniqueID returns the coordinate of the item with the given unique id.
func (x *Index[T]) LocateUniqueID(uid string) (Coordinate, bool) {
	pos, ok := x.byUID[uid]
	if !ok || uid == "" {
		return Coordinate{}, false
	}
	return x.coordinate(pos), true
}

// LocateItem locates it by id, or by unique id when it has no id.
func (x *Index[T]) LocateItem(it T) (Coordinate, bool) {
	if id, ok := it.SeqID(); ok {
		if c, ok := x.Locate(id); ok {
			return c, true
		}
	}
	return x.LocateUniqueID(it.SeqUniqueID())
}

// Item returns the item at c. A coordinate outside the current view yields
// false, since callers may hold coordinates across a rebuild.
func (x *Index[T]) Item(c Coordinate) (T, bool) {
	var zero T
	if !x.valid(c) {
		return zero, false
	}
	return x.items[x.spans[c.Section].start+c.Row], true
}

// Previous returns the coordinate before c, crossing into the previous
// section when c is a section's first row.
func (x *Index[T]) Previous(c Coordinate) (Coordinate, bool) {
	if !x.valid(c) {
		return Coordinate{}, false
	}
	if c.Row > 0 {
		return Coordinate{Section: c.Section, Row: c.Row - 1}, true
	}
	for s := c.Section - 1; s >= 0; s-- {
		if n := x.Rows(s); n > 0 {
			return Coordinate{Section: s, Row: n - 1}, true
		}
	}
	return Coordinate{}, false
}

// Next returns the coordinate after c, crossing into the next section when
// c is a section's last row.
func (x *Index[T]) Next(c Coordinate) (Coordinate, bool) {
	if !x.valid(c) {
		return Coordinate{}, false
	}
	if c.Row+1 < x.Rows(c.Section) {
		return Coordinate{Section: c.Section, Row: c.Row + 1}, true
	}
	for s := c.Section + 1; s < len(x.spans); s++ {
		if x.Rows(s) > 0 {
			return Coordinate{Section: s, Row: 0}, true
		}
	}
	return Coordinate{}, false
}

// SameGroupPrevious returns the item before c when the same-group predicate
// holds for it and the item at c. Without a predicate it never matches.
func (x *Index[T]) SameGroupPrevious(c Coordinate) (T, bool) {
	var zero T
	if x.sameGroup == nil {
		return zero, false
	}
	cur, ok := x.Item(c)
	if !ok {
		return zero, false
	}
	pc, ok := x.Previous(c)
	if !ok {
		return zero, false
	}
	prev, _ := x.Item(pc)
	if !x.sameGroup(prev, cur) {
		return zero, false
	}
	return prev, true
}

func (x *Index[T]) coordinate(pos int) Coordinate {
	s := x.sectionOf[pos]
	return Coordinate{Section: s, Row: pos - x.spans[s].start}
}

func (x *Index[T]) valid(c Coordinate) bool {
	return c.Section >= 0 && c.Section < len(x.spans) && c.Row >= 0 && c.Row < x.Rows(c.Section)
}

func (x *Index[T]) span(s int) span {
	if s < 0 || s >= len(x.spans) {
		panic(fmt.Sprintf("section: index %d out of range [0,%d)", s, len(x.spans)))
	}
	return x.spans[s]
}

// Shape is the key and row count of every section of an index at one point
// in time, kept for diffing against a later rebuild.
type Shape struct {
	Keys []Key
	Rows []int
}

// Len returns the number of sections.
func (sh Shape) Len() int { return len(sh.Keys) }
