package list

import (
	"context"

	"github.com/matheus3301/talk/internal/model"
)

// PageRequest is the window a list asks its backend for.
type PageRequest struct {
	Offset int
	Count  int
	Filter string
}

// Page is one backend response. Exactly one of HasNext and TotalCount is
// normally set; a page with neither is treated as the last one.
type Page[T model.Sequenced] struct {
	Items      []T
	HasNext    *bool
	TotalCount *int
}

// Fetcher is the backend client of a list. The list never fetches by itself
// outside LoadFirstPage and LoadMore, and never retries.
type Fetcher[T model.Sequenced] interface {
	FetchPage(ctx context.Context, req PageRequest) (Page[T], error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc[T model.Sequenced] func(ctx context.Context, req PageRequest) (Page[T], error)

// FetchPage calls f.
func (f FetcherFunc[T]) FetchPage(ctx context.Context, req PageRequest) (Page[T], error) {
	return f(ctx, req)
}
