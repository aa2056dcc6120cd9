// Package paging tracks offset-based page requests for one logical list.
package paging

import "errors"

const (
	// DefaultPageSize is the page size for text lists (messages, contacts, threads).
	DefaultPageSize = 15
	// MediaPageSize is the page size for heavier media and attachment lists.
	MediaPageSize = 50
)

// ErrLoading is returned by PrepareForNextPage while a fetch is in flight.
var ErrLoading = errors.New("page fetch already in flight")

// Mode selects how the server signals that more data exists.
type Mode int

const (
	// HasNextMode uses the server's has-next flag.
	HasNextMode Mode = iota
	// TotalCountMode compares the held count against the server's total count.
	TotalCountMode
)

// Cursor is the pagination state machine for a single list. It is not safe
// for concurrent use; the owning list serializes access.
type Cursor struct {
	pageSize    int
	defaultSize int
	offset      int
	mode        Mode
	hasNext     bool
	totalCount  int
	completed   bool // at least one page completed since the last reset
	loading     bool
	generation  uint64
}

// New returns an empty cursor. A pageSize <= 0 selects DefaultPageSize.
func New(pageSize int) *Cursor {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Cursor{pageSize: pageSize, defaultSize: pageSize}
}

// PageSize returns the requested page size.
func (c *Cursor) PageSize() int { return c.pageSize }

// SetPageSize changes the page size for subsequent requests.
func (c *Cursor) SetPageSize(n int) {
	if n > 0 {
		c.pageSize = n
	}
}

// Offset returns the offset of the last prepared request.
func (c *Cursor) Offset() int { return c.offset }

// Loading reports whether a fetch is in flight.
func (c *Cursor) Loading() bool { return c.loading }

// Mode returns the continuation mode of the last completed page.
func (c *Cursor) Mode() Mode { return c.mode }

// HasNext returns the last has-next flag received from the server.
func (c *Cursor) HasNext() bool { return c.hasNext }

// TotalCount returns the last total count received from the server.
func (c *Cursor) TotalCount() int { return c.totalCount }

// Generation changes on every Reset. A response prepared under an older
// generation belongs to a list that has since been cleared.
func (c *Cursor) Generation() uint64 { return c.generation }

// CanLoadMore reports whether another page should be requested, given the
// number of items the list currently holds.
func (c *Cursor) CanLoadMore(held int) bool {
	if c.loading {
		return false
	}
	if !c.completed {
		return true
	}
	switch c.mode {
	case TotalCountMode:
		return held < c.totalCount
	default:
		return c.hasNext
	}
}

// PrepareForNextPage marks a fetch as in flight and returns the request
// window. The offset is the held count, not the previous offset plus the page
// size, since deduplication can make the two differ.
func (c *Cursor) PrepareForNextPage(held int) (offset, count int, err error) {
	if c.loading {
		return 0, 0, ErrLoading
	}
	if held < 0 {
		held = 0
	}
	c.offset = held
	c.loading = true
	return c.offset, c.pageSize, nil
}

// CompletePage records a successful fetch in has-next mode.
func (c *Cursor) CompletePage(hasNext bool) {
	c.loading = false
	c.completed = true
	c.mode = HasNextMode
	c.hasNext = hasNext
}

// CompletePageTotal records a successful fetch in legacy total-count mode.
func (c *Cursor) CompletePageTotal(total int) {
	c.loading = false
	c.completed = true
	c.mode = TotalCountMode
	c.totalCount = total
}

// Fail releases the in-flight guard after a failed fetch so the caller can
// retry. No other state changes.
func (c *Cursor) Fail() {
	c.loading = false
}

// Reset returns the cursor to its initial state and starts a new generation.
func (c *Cursor) Reset() {
	c.pageSize = c.defaultSize
	c.offset = 0
	c.mode = HasNextMode
	c.hasNext = false
	c.totalCount = 0
	c.completed = false
	c.loading = false
	c.generation++
}
