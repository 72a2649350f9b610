package memory

import (
	"cmp"
	"context"
	"slices"

	"github.com/xenking/storefront-discounts/internal/domain/coupon"
	"github.com/xenking/storefront-discounts/internal/domain/paging"
)

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository implements coupon.Repository on a Store.
type CouponRepository struct {
	store *Store
}

func (r *CouponRepository) Create(ctx context.Context, c *coupon.Coupon) error {
	return r.store.with(ctx, func(st *state) error {
		if activeCodeTaken(st, c.Code, 0) {
			return coupon.ErrDuplicateCode
		}
		st.nextCouponID++
		c.ID = st.nextCouponID
		st.coupons[c.ID] = *c
		return nil
	})
}

func (r *CouponRepository) Update(ctx context.Context, c *coupon.Coupon) error {
	return r.store.with(ctx, func(st *state) error {
		stored, ok := st.coupons[c.ID]
		if !ok {
			return coupon.ErrNotFound
		}
		if c.IsActive && activeCodeTaken(st, c.Code, c.ID) {
			return coupon.ErrDuplicateCode
		}
		next := *c
		next.UsageCount = stored.UsageCount
		st.coupons[c.ID] = next
		return nil
	})
}

func (r *CouponRepository) RecordUsage(ctx context.Context, c *coupon.Coupon) error {
	return r.store.with(ctx, func(st *state) error {
		stored, ok := st.coupons[c.ID]
		if !ok || stored.UsageCount != c.UsageCount-1 || stored.UsageCount >= stored.UsageLimit {
			return coupon.ErrUsageRaced
		}
		stored.UsageCount = c.UsageCount
		stored.UpdatedAt = c.UpdatedAt
		st.coupons[c.ID] = stored
		return nil
	})
}

func (r *CouponRepository) GetByID(ctx context.Context, id int64) (*coupon.Coupon, error) {
	var out coupon.Coupon
	err := r.store.with(ctx, func(st *state) error {
		c, ok := st.coupons[id]
		if !ok {
			return coupon.ErrNotFound
		}
		out = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *CouponRepository) FindByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	var out coupon.Coupon
	err := r.store.with(ctx, func(st *state) error {
		var (
			found bool
			best  coupon.Coupon
		)
		for _, c := range st.coupons {
			if c.Code != code {
				continue
			}
			if c.IsActive {
				out = c
				return nil
			}
			if !found || c.CreatedAt.After(best.CreatedAt) ||
				(c.CreatedAt.Equal(best.CreatedAt) && c.ID > best.ID) {
				best, found = c, true
			}
		}
		if !found {
			return coupon.ErrNotFound
		}
		out = best
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// FindByCodeForUpdate is FindByCode; the transaction already holds the store
// lock.
func (r *CouponRepository) FindByCodeForUpdate(ctx context.Context, code string) (*coupon.Coupon, error) {
	return r.FindByCode(ctx, code)
}

func (r *CouponRepository) CodeTaken(ctx context.Context, code string, excludeID int64) (bool, error) {
	var taken bool
	err := r.store.with(ctx, func(st *state) error {
		taken = activeCodeTaken(st, code, excludeID)
		return nil
	})
	return taken, err
}

func (r *CouponRepository) List(ctx context.Context, f coupon.Filter) ([]coupon.Coupon, int, error) {
	var matched []coupon.Coupon
	err := r.store.with(ctx, func(st *state) error {
		for _, c := range st.coupons {
			if f.Matches(&c) {
				matched = append(matched, c)
			}
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}

	slices.SortFunc(matched, func(a, b coupon.Coupon) int {
		return orderBy(f.Page.SortOrder, compareCoupons(f.Page.SortBy, a, b), cmp.Compare(a.ID, b.ID))
	})
	lo, hi := paging.Window(f.Page, len(matched))
	return matched[lo:hi], len(matched), nil
}

func compareCoupons(column string, a, b coupon.Coupon) int {
	switch column {
	case "code":
		return cmp.Compare(a.Code, b.Code)
	case "discount_percentage":
		return a.DiscountPercentage.Cmp(b.DiscountPercentage)
	case "valid_from":
		return a.ValidFrom.Compare(b.ValidFrom)
	case "valid_until":
		return a.ValidUntil.Compare(b.ValidUntil)
	case "usage_count":
		return cmp.Compare(a.UsageCount, b.UsageCount)
	default:
		return a.CreatedAt.Compare(b.CreatedAt)
	}
}

// orderBy applies the direction to the primary comparison and breaks ties
// with the id in the same direction.
func orderBy(o paging.Order, primary, tie int) int {
	c := cmp.Or(primary, tie)
	if o == paging.Desc {
		return -c
	}
	return c
}

func activeCodeTaken(st *state, code string, excludeID int64) bool {
	for _, c := range st.coupons {
		if c.IsActive && c.ID != excludeID && c.Code == code {
			return true
		}
	}
	return false
}
