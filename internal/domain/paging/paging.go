// Package paging normalises page/limit/sort parameters for list operations.
package paging

import (
	"slices"
	"strings"
)

const (
	DefaultLimit = 10
	MaxLimit     = 50
)

// Order is a sort direction.
type Order string

const (
	Asc  Order = "asc"
	Desc Order = "desc"
)

// Request holds raw paging input. Zero values select defaults.
type Request struct {
	Page      int
	Limit     int
	SortBy    string
	SortOrder Order
}

// Normalize clamps page and limit and resolves the sort column against an
// allow-list. Unknown columns fall back to defaultSort, unknown directions to
// defaultOrder.
func (r Request) Normalize(allowed []string, defaultSort string, defaultOrder Order) Request {
	out := r
	if out.Page < 1 {
		out.Page = 1
	}
	switch {
	case out.Limit <= 0:
		out.Limit = DefaultLimit
	case out.Limit > MaxLimit:
		out.Limit = MaxLimit
	}

	out.SortBy = strings.ToLower(strings.TrimSpace(out.SortBy))
	if !slices.Contains(allowed, out.SortBy) {
		out.SortBy = defaultSort
	}

	switch Order(strings.ToLower(string(out.SortOrder))) {
	case Asc:
		out.SortOrder = Asc
	case Desc:
		out.SortOrder = Desc
	default:
		out.SortOrder = defaultOrder
	}
	return out
}

// Offset returns the number of rows to skip.
func (r Request) Offset() int {
	return (r.Page - 1) * r.Limit
}

// Meta describes the page returned to the caller.
type Meta struct {
	Page    int
	Pages   int
	PerPage int
	Total   int
	HasNext bool
	HasPrev bool
}

// NewMeta computes page metadata for a normalised request and a total count.
func NewMeta(r Request, total int) Meta {
	pages := 0
	if r.Limit > 0 {
		pages = (total + r.Limit - 1) / r.Limit
	}
	return Meta{
		Page:    r.Page,
		Pages:   pages,
		PerPage: r.Limit,
		Total:   total,
		HasNext: r.Page < pages,
		HasPrev: r.Page > 1,
	}
}

// Window returns the [lo, hi) slice bounds of a page over n items.
func Window(r Request, n int) (lo, hi int) {
	lo = min(r.Offset(), n)
	hi = min(lo+r.Limit, n)
	return lo, hi
}
