// Package paginate implements page-number pagination over counted listings.
package paginate

import (
	"strconv"
	"strings"

	"github.com/UkralStul/yatube/internal/storage"
)

// DefaultSize is the number of items on a listing page.
const DefaultSize = 10

// Page is one page of a listing.
type Page[T any] struct {
	Items       []T   `json:"items"`
	Number      int   `json:"number"`
	NumPages    int   `json:"numPages"`
	Total       int64 `json:"total"`
	HasNext     bool  `json:"hasNext"`
	HasPrevious bool  `json:"hasPrevious"`
}

// Requested parses a page query value. Anything that is not an integer means
// the first page; integers are returned as is and clamped later by Clamp.
func Requested(raw string) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 1
	}
	return n
}

// NumPages returns the number of pages for total items. An empty listing
// still has one (empty) page.
func NumPages(total int64, size int) int {
	if size <= 0 {
		size = DefaultSize
	}
	if total <= 0 {
		return 1
	}
	return int((total + int64(size) - 1) / int64(size))
}

// Clamp maps out-of-range page numbers onto the last page.
func Clamp(n int, total int64, size int) int {
	last := NumPages(total, size)
	if n < 1 || n > last {
		return last
	}
	return n
}

// Args returns the storage window for page n.
func Args(n, size int) storage.PaginationArgs {
	if n < 1 {
		n = 1
	}
	return storage.PaginationArgs{Limit: size, Offset: (n - 1) * size}
}

// Fetch loads page n through list, re-reading the last page when n is out of range.
func Fetch[T any](n, size int, list func(storage.PaginationArgs) ([]T, int64, error)) (Page[T], error) {
	if size <= 0 {
		size = DefaultSize
	}
	items, total, err := list(Args(n, size))
	if err != nil {
		return Page[T]{}, err
	}
	if clamped := Clamp(n, total, size); clamped != n {
		n = clamped
		if items, total, err = list(Args(n, size)); err != nil {
			return Page[T]{}, err
		}
	}
	if items == nil {
		items = []T{}
	}
	numPages := NumPages(total, size)
	return Page[T]{
		Items:       items,
		Number:      n,
		NumPages:    numPages,
		Total:       total,
		HasNext:     n < numPages,
		HasPrevious: n > 1,
	}, nil
}

// Map converts the items of a page, keeping its metadata.
func Map[T, U any](p Page[T], fn func(T) U) Page[U] {
	out := make([]U, len(p.Items))
	for i, item := range p.Items {
		out[i] = fn(item)
	}
	return Page[U]{
		Items:       out,
		Number:      p.Number,
		NumPages:    p.NumPages,
		Total:       p.Total,
		HasNext:     p.HasNext,
		HasPrevious: p.HasPrevious,
	}
}
