// Package itemstore holds the deduplicated, time-ordered items of one logical
// list. The store is the single owner of its items; section indexes built on
// top of it only keep positions into View.
//
// Ordering: ascending by SeqTime, items without a time after all timed items,
// in the order they arrived. Identity: no two held items share a server id.
//
// A Store is not safe for concurrent use.
package itemstore

import (
	"slices"

	"github.com/matheus3301/talk/internal/model"
)

// Store is an ordered, deduplicated collection of T.
type Store[T model.Sequenced] struct {
	items []T
}

// New returns an empty store.
func New[T model.Sequenced]() *Store[T] {
	return &Store[T]{}
}

// Len returns the number of held items.
func (s *Store[T]) Len() int { return len(s.items) }

// At returns the item at position i in sorted order.
func (s *Store[T]) At(i int) T { return s.items[i] }

// Items returns a copy of the held items in sorted order.
func (s *Store[T]) Items() []T { return slices.Clone(s.items) }

// View returns the store's backing slice without copying. It must not be
// modified and is invalidated by the next mutation.
func (s *Store[T]) View() []T { return s.items }

// SetAll replaces the contents with items. When two items share an id, the
// later one wins and takes the earlier one's slot.
func (s *Store[T]) SetAll(items []T) {
	s.items = appendBatch(nil, items)
	s.sort()
}

// AppendDeduplicated merges a fetched batch, dropping items whose id is
// already held. Items without an id are matched by unique id instead, and
// items with neither are always appended. The one exception to "held wins"
// is a held item still waiting for its server id: an incoming acked version
// replaces it. It returns the items that were added. Applying the same batch
// twice leaves the store unchanged.
func (s *Store[T]) AppendDeduplicated(batch []T) []T {
	added, _ := s.merge(batch, false)
	return added
}

// Merge is AppendDeduplicated for authoritative batches: every held item that
// matches an incoming one is replaced with the incoming version. It returns
// the added and the replaced items.
func (s *Store[T]) Merge(batch []T) (added, updated []T) {
	return s.merge(batch, true)
}

func (s *Store[T]) merge(batch []T, replace bool) (added, updated []T) {
	if len(batch) == 0 {
		return nil, nil
	}
	held := newIdentityIndex[T]()
	for i, it := range s.items {
		held.put(it, i)
	}

	fresh := make([]T, 0, len(batch))
	for _, it := range batch {
		pos, ok := held.match(s.items, it)
		if !ok {
			fresh = append(fresh, it)
			continue
		}
		_, heldAcked := s.items[pos].SeqID()
		_, acked := it.SeqID()
		if replace || (acked && !heldAcked) {
			s.items[pos] = it
			held.put(it, pos)
			updated = append(updated, it)
		}
	}

	start := len(s.items)
	s.items = appendBatch(s.items, fresh)
	added = slices.Clone(s.items[start:])
	s.sort()
	return added, updated
}

// appendBatch appends items to dst. Duplicates inside the batch collapse onto
// the first slot and hold the last value.
func appendBatch[T model.Sequenced](dst, items []T) []T {
	seen := newIdentityIndex[T]()
	for _, it := range items {
		if pos, dup := seen.match(dst, it); dup {
			dst[pos] = it
			seen.put(it, pos)
			continue
		}
		seen.put(it, len(dst))
		dst = append(dst, it)
	}
	return dst
}

// identityIndex maps ids and unique ids to positions in a slice.
type identityIndex[T model.Sequenced] struct {
	byID  map[int64]int
	byUID map[string]int
}

func newIdentityIndex[T model.Sequenced]() identityIndex[T] {
	return identityIndex[T]{byID: make(map[int64]int), byUID: make(map[string]int)}
}

func (x identityIndex[T]) put(it T, pos int) {
	if id, ok := it.SeqID(); ok {
		x.byID[id] = pos
	}
	if uid := it.SeqUniqueID(); uid != "" {
		x.byUID[uid] = pos
	}
}

// match finds the position of it: by id first, then by unique id. Two items
// with the same unique id but different server ids are different items.
func (x identityIndex[T]) match(items []T, it T) (int, bool) {
	id, hasID := it.SeqID()
	if hasID {
		if pos, ok := x.byID[id]; ok {
			return pos, true
		}
	}
	if uid := it.SeqUniqueID(); uid != "" {
		if pos, ok := x.byUID[uid]; ok {
			heldID, heldHasID := items[pos].SeqID()
			if !heldHasID || !hasID || heldID == id {
				return pos, true
			}
		}
	}
	return 0, false
}

// UpsertByUniqueID stores item in the slot of the held item with the same
// unique id, or the same id when no unique id matches, and inserts it
// otherwise. The item keeps its position unless its time changed. It
// returns true when the item was inserted.
func (s *Store[T]) UpsertByUniqueID(item T) (inserted bool) {
	pos := -1
	if uid := item.SeqUniqueID(); uid != "" {
		pos = s.indexFunc(func(it T) bool { return it.SeqUniqueID() == uid })
	}
	if pos < 0 {
		if id, ok := item.SeqID(); ok {
			pos = s.IndexOfID(id)
		}
	}
	if pos < 0 {
		s.items = append(s.items, item)
		s.sort()
		return true
	}

	oldTime, oldOK := s.items[pos].SeqTime()
	newTime, newOK := item.SeqTime()
	s.items[pos] = item
	if id, ok := item.SeqID(); ok {
		// The acked copy may already have arrived through a page fetch.
		s.items = slices.DeleteFunc(s.items, func(it T) bool {
			other, ok := it.SeqID()
			return ok && other == id && it.SeqUniqueID() != item.SeqUniqueID()
		})
	}
	if oldOK != newOK || oldTime != newTime {
		s.sort()
	}
	return false
}

// Remove deletes the item with the given id and returns what was removed.
func (s *Store[T]) Remove(id int64) []T {
	return s.RemoveMatching(func(it T) bool {
		other, ok := it.SeqID()
		return ok && other == id
	})
}

// RemoveMatching deletes every item for which pred returns true.
func (s *Store[T]) RemoveMatching(pred func(T) bool) []T {
	var removed []T
	kept := s.items[:0]
	for _, it := range s.items {
		if pred(it) {
			removed = append(removed, it)
			continue
		}
		kept = append(kept, it)
	}
	clear(s.items[len(kept):])
	s.items = kept
	return removed
}

// Clear empties the store.
func (s *Store[T]) Clear() {
	s.items = nil
}

// IndexOfID returns the position of the item with the given id, or -1.
func (s *Store[T]) IndexOfID(id int64) int {
	return s.indexFunc(func(it T) bool {
		other, ok := it.SeqID()
		return ok && other == id
	})
}

// ByID returns the item with the given id.
func (s *Store[T]) ByID(id int64) (T, bool) {
	if i := s.IndexOfID(id); i >= 0 {
		return s.items[i], true
	}
	var zero T
	return zero, false
}

// ByUniqueID returns the item with the given unique id.
func (s *Store[T]) ByUniqueID(uid string) (T, bool) {
	if uid != "" {
		if i := s.indexFunc(func(it T) bool { return it.SeqUniqueID() == uid }); i >= 0 {
			return s.items[i], true
		}
	}
	var zero T
	return zero, false
}

func (s *Store[T]) indexFunc(f func(T) bool) int {
	return slices.IndexFunc(s.items, f)
}

func (s *Store[T]) sort() {
	slices.SortStableFunc(s.items, Compare[T])
}

// Compare orders a before b by time, with untimed items last. Untimed items
// compare equal to each other so a stable sort keeps their arrival order.
func Compare[T model.Sequenced](a, b T) int {
	at, aok := a.SeqTime()
	bt, bok := b.SeqTime()
	switch {
	case aok && bok:
		if at < bt {
			return -1
		}
		if at > bt {
			return 1
		}
		return 0
	case aok:
		return -1
	case bok:
		return 1
	default:
		return 0
	}
}
