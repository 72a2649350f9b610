package handler

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront-discounts/internal/domain/apperr"
	"github.com/xenking/storefront-discounts/internal/domain/paging"
)

// pathID parses a positive integer URL parameter.
func pathID(r *http.Request, name, entity string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id < 1 {
		return 0, apperr.Validationf("invalid %s id", entity)
	}
	return id, nil
}

// query reads typed query parameters, keeping the first parse error.
type query struct {
	values url.Values
	err    error
}

func newQuery(r *http.Request) *query {
	return &query{values: r.URL.Query()}
}

func (q *query) raw(name string) string {
	return strings.TrimSpace(q.values.Get(name))
}

func (q *query) invalid(name, raw string) {
	if q.err == nil {
		q.err = apperr.Validationf("invalid %s: %q", name, raw)
	}
}

func (q *query) str(name string) string {
	return q.raw(name)
}

func (q *query) integer(name string) int {
	raw := q.raw(name)
	if raw == "" {
		return 0
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		q.invalid(name, raw)
	}
	return v
}

func (q *query) boolean(name string) *bool {
	raw := q.raw(name)
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		q.invalid(name, raw)
		return nil
	}
	return &v
}

// flag is boolean with absent meaning false.
func (q *query) flag(name string) bool {
	v := q.boolean(name)
	return v != nil && *v
}

func (q *query) decimal(name string) *decimal.Decimal {
	raw := q.raw(name)
	if raw == "" {
		return nil
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		q.invalid(name, raw)
		return nil
	}
	return &v
}

// page reads page, limit, sort_by and sort_order. Normalisation happens in
// the services.
func (q *query) page() paging.Request {
	return paging.Request{
		Page:      q.integer("page"),
		Limit:     q.integer("limit"),
		SortBy:    q.str("sort_by"),
		SortOrder: paging.Order(q.str("sort_order")),
	}
}
