// Package diff computes the section and row changes between two rebuilds of
// a section index, so a renderer can apply them incrementally instead of
// reloading the whole list.
package diff

import (
	"slices"

	"github.com/matheus3301/talk/internal/model"
	"github.com/matheus3301/talk/internal/section"
)

// Locator resolves items to coordinates in a rebuilt index.
type Locator[T model.Sequenced] interface {
	LocateItem(it T) (section.Coordinate, bool)
}

// Diff is an incremental update. Removed coordinates refer to the view before
// the change, inserted ones to the view after it.
type Diff struct {
	Sections        []int
	Rows            []section.Coordinate
	RemovedSections []int
	RemovedRows     []section.Coordinate
	ReloadedRows    []section.Coordinate // content changed in place

	// Reload is set when part of the change could not be resolved to
	// coordinates. The renderer should reload the whole list.
	Reload bool
}

// Empty reports whether the diff carries no change.
func (d Diff) Empty() bool {
	return len(d.Sections) == 0 && len(d.Rows) == 0 &&
		len(d.RemovedSections) == 0 && len(d.RemovedRows) == 0 &&
		len(d.ReloadedRows) == 0 && !d.Reload
}

// ComputeAppend returns the diff for items inserted at the bottom of the list
// (newer items) or, with insertTop, at the top (older history). Growth at the
// top shifts every existing section down, so coordinates held from before
// the call are stale. Items that cannot be located in after are left out and
// the diff asks for a reload.
func ComputeAppend[T model.Sequenced](before, after int, inserted []T, insertTop bool, idx Locator[T]) Diff {
	var d Diff
	if grown := after - before; grown > 0 {
		from, to := before, after
		if insertTop {
			from, to = 0, grown
		}
		for s := from; s < to; s++ {
			d.Sections = append(d.Sections, s)
		}
	}
	for _, it := range inserted {
		c, ok := idx.LocateItem(it)
		if !ok {
			d.Reload = true
			continue
		}
		d.Rows = append(d.Rows, c)
	}
	sortCoordinates(d.Rows)
	return d
}

// ComputeRemoval returns the diff for removed items. removed holds their
// coordinates in the view before the change; a section whose key no longer
// exists after the change is reported as removed.
func ComputeRemoval(before, after section.Shape, removed []section.Coordinate) Diff {
	var d Diff
	remaining := make(map[section.Key]bool, after.Len())
	for _, k := range after.Keys {
		remaining[k] = true
	}
	for s, k := range before.Keys {
		if !remaining[k] {
			d.RemovedSections = append(d.RemovedSections, s)
		}
	}
	for _, c := range removed {
		if c.Section < 0 || c.Section >= before.Len() || c.Row < 0 || c.Row >= before.Rows[c.Section] {
			d.Reload = true
			continue
		}
		d.RemovedRows = append(d.RemovedRows, c)
	}
	sortCoordinates(d.RemovedRows)
	return d
}

// ComputeUpdate returns the diff for replaced items. An item that kept its
// coordinate is reported as reloaded; one that moved is reported as a removal
// at the old coordinate and an insertion at the new one.
func ComputeUpdate[T model.Sequenced](before, after Locator[T], updated []T) Diff {
	var d Diff
	for _, it := range updated {
		nc, ok := after.LocateItem(it)
		if !ok {
			d.Reload = true
			continue
		}
		oc, ok := before.LocateItem(it)
		if ok && oc == nc {
			d.ReloadedRows = append(d.ReloadedRows, nc)
			continue
		}
		if ok {
			d.RemovedRows = append(d.RemovedRows, oc)
		}
		d.Rows = append(d.Rows, nc)
	}
	sortCoordinates(d.Rows)
	sortCoordinates(d.RemovedRows)
	sortCoordinates(d.ReloadedRows)
	return d
}

func sortCoordinates(cs []section.Coordinate) {
	slices.SortFunc(cs, func(a, b section.Coordinate) int {
		if a.Section != b.Section {
			return a.Section - b.Section
		}
		return a.Row - b.Row
	})
}

// Snapshot holds coordinates captured before a mutation. It implements
// Locator for the view that no longer exists once the index is rebuilt.
type Snapshot[T model.Sequenced] struct {
	byID  map[int64]section.Coordinate
	byUID map[string]section.Coordinate
}

// Capture records the current coordinates of items in idx. Items idx cannot
// locate are left out.
func Capture[T model.Sequenced](idx Locator[T], items []T) Snapshot[T] {
	s := Snapshot[T]{
		byID:  make(map[int64]section.Coordinate, len(items)),
		byUID: make(map[string]section.Coordinate),
	}
	for _, it := range items {
		c, ok := idx.LocateItem(it)
		if !ok {
			continue
		}
		if id, ok := it.SeqID(); ok {
			s.byID[id] = c
		}
		if uid := it.SeqUniqueID(); uid != "" {
			s.byUID[uid] = c
		}
	}
	return s
}

// LocateItem returns the captured coordinate of it, by id then unique id.
func (s Snapshot[T]) LocateItem(it T) (section.Coordinate, bool) {
	if id, ok := it.SeqID(); ok {
		if c, ok := s.byID[id]; ok {
			return c, true
		}
	}
	if uid := it.SeqUniqueID(); uid != "" {
		c, ok := s.byUID[uid]
		return c, ok
	}
	return section.Coordinate{}, false
}

// InsertedSections returns the sections of after whose keys do not appear in
// before.
func InsertedSections(before, after section.Shape) []int {
	existing := make(map[section.Key]bool, before.Len())
	for _, k := range before.Keys {
		existing[k] = true
	}
	var out []int
	for s, k := range after.Keys {
		if !existing[k] {
			out = append(out, s)
		}
	}
	return out
}
