package list

import "github.com/matheus3301/talk/internal/section"

// Len returns the number of held items.
func (l *List[T]) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.store.Len()
}

// Items returns a copy of the held items in order.
func (l *List[T]) Items() []T {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.store.Items()
}

// Sections returns a snapshot of the sections. The snapshot is detached from
// the list and stays valid after later changes.
func (l *List[T]) Sections() []section.Section[T] {
	l.mu.Lock()
	defer l.mu.Unlock()
	secs := l.index.Sections()
	for i := range secs {
		secs[i].Items = append([]T(nil), secs[i].Items...)
	}
	return secs
}

// Version returns the index version the coordinates below refer to.
func (l *List[T]) Version() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.index.Version()
}

// Locate returns the coordinate of the item with the given id.
func (l *List[T]) Locate(id int64) (section.Coordinate, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.index.Locate(id)
}

// LocateUniqueID returns the coordinate of the item with the given unique id.
func (l *List[T]) LocateUniqueID(uid string) (section.Coordinate, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.index.LocateUniqueID(uid)
}

// Item returns the item at c.
func (l *List[T]) Item(c section.Coordinate) (T, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.index.Item(c)
}

// Previous returns the coordinate before c.
func (l *List[T]) Previous(c section.Coordinate) (section.Coordinate, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.index.Previous(c)
}

// Next returns the coordinate after c.
func (l *List[T]) Next(c section.Coordinate) (section.Coordinate, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.index.Next(c)
}

// SameGroupPrevious returns the previous item when it belongs to the same
// group as the item at c.
func (l *List[T]) SameGroupPrevious(c section.Coordinate) (T, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.index.SameGroupPrevious(c)
}
