// Package ledger records every discount placed on a product. Entries are
// append-only; only the active flag ever changes, and each product has at most
// one active entry.
package ledger

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront-discounts/internal/domain/apperr"
)

var (
	// ErrNoActive is returned when a product has no active application.
	ErrNoActive = &apperr.ValidationError{Message: "no active discount"}
	// ErrAlreadyInactive is returned by Repository.Deactivate when the entry
	// was deactivated by someone else first.
	ErrAlreadyInactive = &apperr.ConflictError{Message: "discount application already inactive"}
	// ErrActiveExists is returned by Repository.Insert when the product
	// already has an active entry.
	ErrActiveExists = &apperr.ConflictError{Message: "product already has an active discount, retry"}
)

// Kind distinguishes where a discount came from.
type Kind string

const (
	KindDirect Kind = "direct"
	KindCoupon Kind = "coupon"
)

// Source is either a direct discount or one derived from a coupon. The zero
// value is a direct discount.
type Source struct {
	couponID int64
}

// Direct returns the source of a discount applied without a coupon.
func Direct() Source {
	return Source{}
}

// FromCoupon returns the source of a discount derived from a coupon.
func FromCoupon(couponID int64) Source {
	return Source{couponID: couponID}
}

// Kind reports the source variant.
func (s Source) Kind() Kind {
	if s.couponID != 0 {
		return KindCoupon
	}
	return KindDirect
}

// CouponID returns the coupon reference and whether there is one.
func (s Source) CouponID() (int64, bool) {
	return s.couponID, s.couponID != 0
}

// Nullable returns the storage form of the source: nil for direct discounts.
func (s Source) Nullable() *int64 {
	if id, ok := s.CouponID(); ok {
		return &id
	}
	return nil
}

// SourceFromNullable is the inverse of Source.Nullable.
func SourceFromNullable(couponID *int64) Source {
	if couponID == nil {
		return Direct()
	}
	return FromCoupon(*couponID)
}

// Application is one discount event on a product.
type Application struct {
	ID        int64
	ProductID int64
	Source    Source
	// DiscountAmount is measured against the product's base price at the
	// time of application.
	DiscountAmount     decimal.Decimal
	DiscountPercentage decimal.Decimal
	AppliedAt          time.Time
	IsActive           bool
}

// Repository persists ledger entries. Implementations join the transaction
// carried by ctx, if any.
type Repository interface {
	// FindActiveByProduct returns the product's active entry or ErrNoActive.
	FindActiveByProduct(ctx context.Context, productID int64) (*Application, error)
	// Deactivate flips an active entry to inactive. It returns
	// ErrAlreadyInactive if the entry was not active.
	Deactivate(ctx context.Context, id int64) error
	// Insert stores a new active entry and assigns its ID.
	Insert(ctx context.Context, a *Application) error
	// ListByProduct returns every entry for the product, newest first.
	ListByProduct(ctx context.Context, productID int64) ([]Application, error)
}

// Supersede deactivates the product's active entry, if any, and inserts a as
// the new active one. It must run inside a transaction.
func Supersede(ctx context.Context, repo Repository, a *Application) (*Application, error) {
	prev, err := repo.FindActiveByProduct(ctx, a.ProductID)
	switch {
	case err == nil:
		if err := repo.Deactivate(ctx, prev.ID); err != nil {
			return nil, err
		}
		prev.IsActive = false
	case errors.Is(err, ErrNoActive):
		prev = nil
	default:
		return nil, err
	}

	a.IsActive = true
	if err := repo.Insert(ctx, a); err != nil {
		return nil, err
	}
	return prev, nil
}
