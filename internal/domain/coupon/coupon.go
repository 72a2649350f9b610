package coupon

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/storefront-discounts/internal/domain/apperr"
	"github.com/xenking/storefront-discounts/internal/domain/paging"
)

// MaxCodeLength is the longest accepted coupon code after normalisation.
const MaxCodeLength = 20

var (
	// ErrNotFound is returned when no coupon matches the requested id or code.
	ErrNotFound = &apperr.NotFoundError{Entity: "coupon"}
	// ErrDuplicateCode is returned by repositories when an insert or update
	// collides with another active coupon's code.
	ErrDuplicateCode = &apperr.ValidationError{Message: "coupon code already exists"}
	// ErrUsageRaced is returned by Repository.RecordUsage when the stored
	// counter no longer matches what the caller observed.
	ErrUsageRaced = &apperr.ConflictError{Message: "coupon usage changed concurrently, retry"}
)

// Reason explains why a coupon can or cannot be used.
type Reason string

const (
	ReasonValid             Reason = "valid"
	ReasonInactive          Reason = "inactive"
	ReasonNotYetValid       Reason = "not yet valid"
	ReasonExpired           Reason = "expired"
	ReasonUsageLimitReached Reason = "usage limit reached"
	ReasonNotFound          Reason = "coupon not found"
)

// Coupon is a percentage-off code bounded by a validity window and a usage cap.
// All timestamps are kept in UTC.
type Coupon struct {
	ID                 int64
	Code               string
	Description        string
	DiscountPercentage decimal.Decimal
	ValidFrom          time.Time
	ValidUntil         time.Time
	UsageLimit         int
	UsageCount         int
	IsActive           bool
	CreatedAt          time.Time
	UpdatedAt          *time.Time
}

// NormalizeCode trims and upper-cases a coupon code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// CanBeUsed runs the usability checks in a fixed order and reports the first
// one that fails.
func (c *Coupon) CanBeUsed(now time.Time) (bool, Reason) {
	now = now.UTC()
	switch {
	case !c.IsActive:
		return false, ReasonInactive
	case now.Before(c.ValidFrom):
		return false, ReasonNotYetValid
	case now.After(c.ValidUntil):
		return false, ReasonExpired
	case c.UsageCount >= c.UsageLimit:
		return false, ReasonUsageLimitReached
	}
	return true, ReasonValid
}

// IsValid reports whether the coupon is active, inside its window and below
// its usage limit.
func (c *Coupon) IsValid(now time.Time) bool {
	ok, _ := c.CanBeUsed(now)
	return ok
}

// IsExpired reports whether now is past the end of the validity window.
func (c *Coupon) IsExpired(now time.Time) bool {
	return now.After(c.ValidUntil)
}

// IsNotStarted reports whether now is before the start of the validity window.
func (c *Coupon) IsNotStarted(now time.Time) bool {
	return now.Before(c.ValidFrom)
}

// IsLimitReached reports whether every usage unit has been consumed.
func (c *Coupon) IsLimitReached() bool {
	return c.UsageCount >= c.UsageLimit
}

// RemainingUses returns the number of usage units left.
func (c *Coupon) RemainingUses() int {
	return max(0, c.UsageLimit-c.UsageCount)
}

// Use consumes one usage unit. It is the only place UsageCount is incremented.
func (c *Coupon) Use(now time.Time) error {
	if ok, reason := c.CanBeUsed(now); !ok {
		return unusable(reason)
	}
	c.UsageCount++
	ts := now.UTC()
	c.UpdatedAt = &ts
	return nil
}

func unusable(r Reason) error {
	if r == ReasonNotFound {
		return apperr.Validation(string(r))
	}
	return apperr.Validationf("coupon %s", r)
}

// CreateParams holds the input for creating a coupon.
type CreateParams struct {
	Code               string
	Description        string
	DiscountPercentage decimal.Decimal
	ValidFrom          time.Time
	ValidUntil         time.Time
	// UsageLimit defaults to 1 when nil.
	UsageLimit *int
}

// UpdateParams holds a partial update; nil fields are left unchanged.
type UpdateParams struct {
	Code               *string
	Description        *string
	DiscountPercentage *decimal.Decimal
	ValidFrom          *time.Time
	ValidUntil         *time.Time
	UsageLimit         *int
}

// SortColumns lists the columns List may order by.
var SortColumns = []string{"code", "discount_percentage", "valid_from", "valid_until", "usage_count", "created_at"}

// Filter selects active coupons for List.
type Filter struct {
	// Search matches a case-insensitive substring of code or description.
	Search      string
	MinDiscount *decimal.Decimal
	MaxDiscount *decimal.Decimal
	// Valid, when set, keeps only coupons whose computed validity at Now
	// equals the given value.
	Valid *bool
	Now   time.Time
	Page  paging.Request
}

// Matches evaluates the filter predicates against a single coupon. Stores
// that cannot push filtering down to a query engine use it directly.
func (f Filter) Matches(c *Coupon) bool {
	if !c.IsActive {
		return false
	}
	if f.Search != "" {
		needle := strings.ToLower(f.Search)
		if !strings.Contains(strings.ToLower(c.Code), needle) &&
			!strings.Contains(strings.ToLower(c.Description), needle) {
			return false
		}
	}
	if f.MinDiscount != nil && c.DiscountPercentage.LessThan(*f.MinDiscount) {
		return false
	}
	if f.MaxDiscount != nil && c.DiscountPercentage.GreaterThan(*f.MaxDiscount) {
		return false
	}
	if f.Valid != nil && c.IsValid(f.Now) != *f.Valid {
		return false
	}
	return true
}

// Repository provides persistence for coupons. Implementations join the
// transaction carried by ctx, if any.
type Repository interface {
	Create(ctx context.Context, c *Coupon) error
	// Update persists every mutable field except UsageCount.
	Update(ctx context.Context, c *Coupon) error
	// RecordUsage persists a usage increment made by Coupon.Use. It must only
	// succeed if the stored count is exactly one below c.UsageCount and still
	// below the limit; otherwise it returns ErrUsageRaced.
	RecordUsage(ctx context.Context, c *Coupon) error
	GetByID(ctx context.Context, id int64) (*Coupon, error)
	// FindByCode returns the active coupon with the code, or the most recently
	// created inactive one when no active coupon exists.
	FindByCode(ctx context.Context, code string) (*Coupon, error)
	// FindByCodeForUpdate is FindByCode with a row lock held until the
	// surrounding transaction ends.
	FindByCodeForUpdate(ctx context.Context, code string) (*Coupon, error)
	// CodeTaken reports whether an active coupon other than excludeID uses code.
	CodeTaken(ctx context.Context, code string, excludeID int64) (bool, error)
	List(ctx context.Context, f Filter) ([]Coupon, int, error)
}

// Transactor runs fn inside a single atomic transaction. fn must use the
// context it receives for every repository call.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}
