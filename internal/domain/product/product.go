package product

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/storefront-discounts/internal/domain/apperr"
	"github.com/xenking/storefront-discounts/internal/domain/paging"
)

// Bounds for a percentage discount placed directly on a product.
var (
	MinDiscountPercentage = decimal.NewFromInt(1)
	MaxDiscountPercentage = decimal.NewFromInt(80)
)

// PercentageScale is the number of decimal places kept for percentages.
const PercentageScale = 2

// MaxNameLength is the longest accepted product name.
const MaxNameLength = 100

var (
	// ErrNotFound is returned when a requested product does not exist.
	ErrNotFound = &apperr.NotFoundError{Entity: "product"}
	// ErrDuplicateName is returned by repositories when another active
	// product already uses the name.
	ErrDuplicateName = &apperr.ValidationError{Message: "product name already exists"}
)

// Product is a catalog item that can carry at most one active discount.
type Product struct {
	ID                 int64
	Name               string
	Description        string
	Price              decimal.Decimal
	Stock              int
	IsActive           bool
	DiscountPercentage decimal.Decimal
	DiscountStartDate  *time.Time
	DiscountEndDate    *time.Time
	HasActiveDiscount  bool
	CreatedAt          time.Time
	UpdatedAt          *time.Time
}

// FinalPrice is the price after the active discount, rounded to cents.
func (p *Product) FinalPrice() decimal.Decimal {
	return p.Price.Sub(p.DiscountAmount()).Round(2)
}

// DiscountAmount is the amount taken off the base price, rounded to cents.
func (p *Product) DiscountAmount() decimal.Decimal {
	if !p.HasActiveDiscount {
		return decimal.Zero
	}
	return AmountOff(p.Price, p.DiscountPercentage)
}

// AmountOff computes price * pct / 100 rounded to cents.
func AmountOff(price, pct decimal.Decimal) decimal.Decimal {
	return price.Mul(pct).Div(decimal.NewFromInt(100)).Round(2)
}

// IsOutOfStock reports whether no units are left.
func (p *Product) IsOutOfStock() bool {
	return p.Stock <= 0
}

// ApplyPercentageDiscount replaces any current discount with pct, measured
// against the base price.
func (p *Product) ApplyPercentageDiscount(pct decimal.Decimal, now time.Time) error {
	if err := ValidateDiscountPercentage(pct); err != nil {
		return err
	}
	now = now.UTC()
	p.DiscountPercentage = pct
	p.DiscountStartDate = &now
	p.DiscountEndDate = nil
	p.HasActiveDiscount = true
	p.UpdatedAt = &now
	return nil
}

// ValidateDiscountPercentage checks pct against the product discount bounds
// and the two decimal places the store keeps.
func ValidateDiscountPercentage(pct decimal.Decimal) error {
	if pct.LessThan(MinDiscountPercentage) || pct.GreaterThan(MaxDiscountPercentage) {
		return apperr.Validationf("discount must be between %s and %s percent",
			MinDiscountPercentage, MaxDiscountPercentage)
	}
	if !pct.Equal(pct.Truncate(PercentageScale)) {
		return apperr.Validationf("discount must have at most %d decimal places", PercentageScale)
	}
	return nil
}

// RemoveDiscount clears the active discount. The start date is dropped and
// the end date records when the discount stopped.
func (p *Product) RemoveDiscount(now time.Time) {
	now = now.UTC()
	p.DiscountPercentage = decimal.Zero
	p.DiscountStartDate = nil
	p.DiscountEndDate = &now
	p.HasActiveDiscount = false
	p.UpdatedAt = &now
}

// CreateParams holds the input for creating a product.
type CreateParams struct {
	Name        string
	Description string
	Price       decimal.Decimal
	Stock       int
}

// UpdateParams holds a partial update; nil fields are left unchanged.
type UpdateParams struct {
	Name        *string
	Description *string
	Price       *decimal.Decimal
	Stock       *int
}

// SortColumns lists the columns List may order by.
var SortColumns = []string{"name", "price", "stock", "created_at"}

// Filter selects active products for List.
type Filter struct {
	// Search matches a case-insensitive substring of name or description.
	Search         string
	MinPrice       *decimal.Decimal
	MaxPrice       *decimal.Decimal
	HasDiscount    *bool
	OnlyOutOfStock bool
	Page           paging.Request
}

// Matches evaluates the filter predicates against a single product.
func (f Filter) Matches(p *Product) bool {
	if !p.IsActive {
		return false
	}
	if f.Search != "" {
		needle := strings.ToLower(f.Search)
		if !strings.Contains(strings.ToLower(p.Name), needle) &&
			!strings.Contains(strings.ToLower(p.Description), needle) {
			return false
		}
	}
	if f.MinPrice != nil && p.Price.LessThan(*f.MinPrice) {
		return false
	}
	if f.MaxPrice != nil && p.Price.GreaterThan(*f.MaxPrice) {
		return false
	}
	if f.HasDiscount != nil && p.HasActiveDiscount != *f.HasDiscount {
		return false
	}
	if f.OnlyOutOfStock && !p.IsOutOfStock() {
		return false
	}
	return true
}

// Repository provides persistence for products. Implementations join the
// transaction carried by ctx, if any.
type Repository interface {
	Create(ctx context.Context, p *Product) error
	// Update persists every mutable field, discount state included.
	Update(ctx context.Context, p *Product) error
	GetByID(ctx context.Context, id int64) (*Product, error)
	// GetByIDForUpdate is GetByID with a row lock held until the surrounding
	// transaction ends.
	GetByIDForUpdate(ctx context.Context, id int64) (*Product, error)
	// NameTaken reports whether an active product other than excludeID uses
	// name, compared case-insensitively.
	NameTaken(ctx context.Context, name string, excludeID int64) (bool, error)
	List(ctx context.Context, f Filter) ([]Product, int, error)
}

// Transactor runs fn inside a single atomic transaction.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}
