package memory

import (
	"cmp"
	"context"
	"slices"
	"strings"

	"github.com/xenking/storefront-discounts/internal/domain/paging"
	"github.com/xenking/storefront-discounts/internal/domain/product"
)

var _ product.Repository = (*ProductRepository)(nil)

// ProductRepository implements product.Repository on a Store.
type ProductRepository struct {
	store *Store
}

func (r *ProductRepository) Create(ctx context.Context, p *product.Product) error {
	return r.store.with(ctx, func(st *state) error {
		if activeNameTaken(st, p.Name, 0) {
			return product.ErrDuplicateName
		}
		st.nextProductID++
		p.ID = st.nextProductID
		st.products[p.ID] = *p
		return nil
	})
}

func (r *ProductRepository) Update(ctx context.Context, p *product.Product) error {
	return r.store.with(ctx, func(st *state) error {
		if _, ok := st.products[p.ID]; !ok {
			return product.ErrNotFound
		}
		if p.IsActive && activeNameTaken(st, p.Name, p.ID) {
			return product.ErrDuplicateName
		}
		st.products[p.ID] = *p
		return nil
	})
}

func (r *ProductRepository) GetByID(ctx context.Context, id int64) (*product.Product, error) {
	var out product.Product
	err := r.store.with(ctx, func(st *state) error {
		p, ok := st.products[id]
		if !ok {
			return product.ErrNotFound
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetByIDForUpdate is GetByID; the transaction already holds the store lock.
func (r *ProductRepository) GetByIDForUpdate(ctx context.Context, id int64) (*product.Product, error) {
	return r.GetByID(ctx, id)
}

func (r *ProductRepository) NameTaken(ctx context.Context, name string, excludeID int64) (bool, error) {
	var taken bool
	err := r.store.with(ctx, func(st *state) error {
		taken = activeNameTaken(st, name, excludeID)
		return nil
	})
	return taken, err
}

func (r *ProductRepository) List(ctx context.Context, f product.Filter) ([]product.Product, int, error) {
	var matched []product.Product
	err := r.store.with(ctx, func(st *state) error {
		for _, p := range st.products {
			if f.Matches(&p) {
				matched = append(matched, p)
			}
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}

	slices.SortFunc(matched, func(a, b product.Product) int {
		return orderBy(f.Page.SortOrder, compareProducts(f.Page.SortBy, a, b), cmp.Compare(a.ID, b.ID))
	})
	lo, hi := paging.Window(f.Page, len(matched))
	return matched[lo:hi], len(matched), nil
}

func compareProducts(column string, a, b product.Product) int {
	switch column {
	case "name":
		return cmp.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
	case "price":
		return a.Price.Cmp(b.Price)
	case "stock":
		return cmp.Compare(a.Stock, b.Stock)
	default:
		return a.CreatedAt.Compare(b.CreatedAt)
	}
}

func activeNameTaken(st *state, name string, excludeID int64) bool {
	for _, p := range st.products {
		if p.IsActive && p.ID != excludeID && strings.EqualFold(p.Name, name) {
			return true
		}
	}
	return false
}
