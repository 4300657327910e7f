package api

import (
	"net/url"
	"strconv"
)

const (
	defaultPerPage = 20
	maxPerPage     = 100
)

// PageOptions selects a page of a list result. Zero values are
// normalized to the defaults by Normalize.
type PageOptions struct {
	Page    int
	PerPage int
}

// ParsePageOptions reads page/per_page query parameters, falling back
// to defaults for missing or malformed values.
func ParsePageOptions(q url.Values) PageOptions {
	opts := PageOptions{}
	if v, err := strconv.Atoi(q.Get("page")); err == nil {
		opts.Page = v
	}
	if v, err := strconv.Atoi(q.Get("per_page")); err == nil {
		opts.PerPage = v
	}
	return opts.Normalize()
}

// Normalize clamps the options into valid ranges: page >= 1,
// 1 <= per_page <= 100, with 20 as the per_page default.
func (o PageOptions) Normalize() PageOptions {
	if o.Page < 1 {
		o.Page = 1
	}
	if o.PerPage < 1 {
		o.PerPage = defaultPerPage
	}
	if o.PerPage > maxPerPage {
		o.PerPage = maxPerPage
	}
	return o
}

// Offset returns the number of items to skip for this page.
func (o PageOptions) Offset() int {
	return (o.Page - 1) * o.PerPage
}

// Pagination is the metadata attached to list responses.
type Pagination struct {
	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

// NewPagination computes pagination metadata for a total item count.
func NewPagination(opts PageOptions, total int) Pagination {
	opts = opts.Normalize()
	pages := total / opts.PerPage
	if total%opts.PerPage != 0 {
		pages++
	}
	return Pagination{
		Page:       opts.Page,
		PerPage:    opts.PerPage,
		Total:      total,
		TotalPages: pages,
	}
}
