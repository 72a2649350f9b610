package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/storefront-discounts/internal/domain/apperr"
	"github.com/xenking/storefront-discounts/internal/domain/paging"
)

var hundred = decimal.NewFromInt(100)

// percentageScale matches the NUMERIC(5, 2) column.
const percentageScale = 2

// Validation is the outcome of checking a code without consuming it.
type Validation struct {
	Valid  bool
	Reason Reason
	// Coupon is nil when the code does not exist.
	Coupon *Coupon
}

// ListResult is one page of coupons.
type ListResult struct {
	Coupons []Coupon
	Meta    paging.Meta
}

// Service implements the coupon lifecycle: create, update, soft delete,
// listing, validation and direct consumption.
type Service struct {
	tx   Transactor
	repo Repository
	now  func() time.Time
}

// NewService creates a coupon Service.
func NewService(tx Transactor, repo Repository) *Service {
	return &Service{tx: tx, repo: repo, now: time.Now}
}

// WithClock replaces the time source. It is meant to be called once during
// wiring so every validity check shares one clock.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) clock() time.Time {
	return s.now().UTC()
}

// Create validates and stores a new coupon. The code is upper-cased and must
// not collide with another active coupon.
func (s *Service) Create(ctx context.Context, p CreateParams) (*Coupon, error) {
	now := s.clock()

	code, err := validateCode(p.Code)
	if err != nil {
		return nil, err
	}
	if err := validatePercentage(p.DiscountPercentage); err != nil {
		return nil, err
	}
	limit := 1
	if p.UsageLimit != nil {
		limit = *p.UsageLimit
	}
	if limit < 1 {
		return nil, apperr.Validation("usage_limit must be at least 1")
	}
	from, until := p.ValidFrom.UTC(), p.ValidUntil.UTC()
	if !from.Before(until) {
		return nil, apperr.Validation("valid_from must be before valid_until")
	}
	if !until.After(now) {
		return nil, apperr.Validation("valid_until must be in the future")
	}

	c := &Coupon{
		Code:               code,
		Description:        p.Description,
		DiscountPercentage: p.DiscountPercentage,
		ValidFrom:          from,
		ValidUntil:         until,
		UsageLimit:         limit,
		IsActive:           true,
		CreatedAt:          now,
	}

	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		taken, err := s.repo.CodeTaken(ctx, code, 0)
		if err != nil {
			return errors.Wrap(err, "check code")
		}
		if taken {
			return apperr.Validationf("coupon with code %q already exists", code)
		}
		return s.repo.Create(ctx, c)
	})
	if err != nil {
		return nil, err
	}

	zctx.From(ctx).Info("Coupon created",
		zap.Int64("coupon_id", c.ID),
		zap.String("code", c.Code),
	)
	return c, nil
}

// Get returns the active coupon with the given code.
func (s *Service) Get(ctx context.Context, code string) (*Coupon, error) {
	c, err := s.repo.FindByCode(ctx, NormalizeCode(code))
	if err != nil {
		return nil, err
	}
	if !c.IsActive {
		return nil, ErrNotFound
	}
	return c, nil
}

// GetByID returns the active coupon with the given id.
func (s *Service) GetByID(ctx context.Context, id int64) (*Coupon, error) {
	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !c.IsActive {
		return nil, ErrNotFound
	}
	return c, nil
}

// Update applies a partial update to the active coupon with the given code.
func (s *Service) Update(ctx context.Context, code string, p UpdateParams) (*Coupon, error) {
	now := s.clock()

	var updated *Coupon
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		c, err := s.lockActive(ctx, code)
		if err != nil {
			return err
		}

		if p.Code != nil {
			newCode, err := validateCode(*p.Code)
			if err != nil {
				return err
			}
			if newCode != c.Code {
				taken, err := s.repo.CodeTaken(ctx, newCode, c.ID)
				if err != nil {
					return errors.Wrap(err, "check code")
				}
				if taken {
					return apperr.Validationf("coupon with code %q already exists", newCode)
				}
				c.Code = newCode
			}
		}
		if p.Description != nil {
			c.Description = *p.Description
		}
		if p.DiscountPercentage != nil {
			if err := validatePercentage(*p.DiscountPercentage); err != nil {
				return err
			}
			c.DiscountPercentage = *p.DiscountPercentage
		}

		from, until := c.ValidFrom, c.ValidUntil
		if p.ValidFrom != nil {
			from = p.ValidFrom.UTC()
		}
		if p.ValidUntil != nil {
			until = p.ValidUntil.UTC()
		}
		if (p.ValidFrom != nil || p.ValidUntil != nil) && !from.Before(until) {
			return apperr.Validation("valid_from must be before valid_until")
		}
		c.ValidFrom, c.ValidUntil = from, until

		if p.UsageLimit != nil {
			if *p.UsageLimit < 1 {
				return apperr.Validation("usage_limit must be at least 1")
			}
			if *p.UsageLimit < c.UsageCount {
				return apperr.Validationf("usage_limit cannot be lower than current usage count %d", c.UsageCount)
			}
			c.UsageLimit = *p.UsageLimit
		}

		c.UpdatedAt = &now
		if err := s.repo.Update(ctx, c); err != nil {
			return err
		}
		updated = c
		return nil
	})
	if err != nil {
		return nil, err
	}

	zctx.From(ctx).Info("Coupon updated",
		zap.Int64("coupon_id", updated.ID),
		zap.String("code", updated.Code),
	)
	return updated, nil
}

// Deactivate soft-deletes the active coupon with the given code. The row is
// kept so ledger entries referencing it stay intact.
func (s *Service) Deactivate(ctx context.Context, code string) error {
	now := s.clock()

	var id int64
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		c, err := s.lockActive(ctx, code)
		if err != nil {
			return err
		}
		c.IsActive = false
		c.UpdatedAt = &now
		id = c.ID
		return s.repo.Update(ctx, c)
	})
	if err != nil {
		return err
	}

	zctx.From(ctx).Info("Coupon deactivated",
		zap.Int64("coupon_id", id),
		zap.String("code", NormalizeCode(code)),
	)
	return nil
}

// List returns a filtered, sorted page of active coupons.
func (s *Service) List(ctx context.Context, f Filter) (*ListResult, error) {
	f.Now = s.clock()
	f.Page = f.Page.Normalize(SortColumns, "created_at", paging.Desc)

	coupons, total, err := s.repo.List(ctx, f)
	if err != nil {
		return nil, errors.Wrap(err, "list coupons")
	}
	return &ListResult{
		Coupons: coupons,
		Meta:    paging.NewMeta(f.Page, total),
	}, nil
}

// Validate reports whether code can be used right now without consuming it.
func (s *Service) Validate(ctx context.Context, code string) (*Validation, error) {
	c, err := s.repo.FindByCode(ctx, NormalizeCode(code))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return &Validation{Valid: false, Reason: ReasonNotFound}, nil
		}
		return nil, errors.Wrap(err, "lookup coupon")
	}

	ok, reason := c.CanBeUsed(s.clock())
	return &Validation{Valid: ok, Reason: reason, Coupon: c}, nil
}

// Use consumes one usage unit of the coupon without applying it to a product.
func (s *Service) Use(ctx context.Context, code string) (*Coupon, error) {
	now := s.clock()

	var used *Coupon
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		c, err := Consume(ctx, s.repo, code, now)
		if err != nil {
			return err
		}
		used = c
		return nil
	})
	if err != nil {
		return nil, err
	}

	zctx.From(ctx).Info("Coupon used",
		zap.String("code", used.Code),
		zap.Int("usage_count", used.UsageCount),
		zap.Int("usage_limit", used.UsageLimit),
	)
	return used, nil
}

// Consume locks the coupon row, checks usability and records one usage. It
// must run inside a transaction so the lock covers the check and the write.
func Consume(ctx context.Context, repo Repository, code string, now time.Time) (*Coupon, error) {
	c, err := repo.FindByCodeForUpdate(ctx, NormalizeCode(code))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, unusable(ReasonNotFound)
		}
		return nil, errors.Wrap(err, "lock coupon")
	}
	if err := c.Use(now); err != nil {
		return nil, err
	}
	if err := repo.RecordUsage(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Service) lockActive(ctx context.Context, code string) (*Coupon, error) {
	c, err := s.repo.FindByCodeForUpdate(ctx, NormalizeCode(code))
	if err != nil {
		return nil, err
	}
	if !c.IsActive {
		return nil, ErrNotFound
	}
	return c, nil
}

func validateCode(raw string) (string, error) {
	code := NormalizeCode(raw)
	if code == "" {
		return "", apperr.Validation("code is required")
	}
	if len(code) > MaxCodeLength {
		return "", apperr.Validationf("code must be at most %d characters", MaxCodeLength)
	}
	return code, nil
}

func validatePercentage(p decimal.Decimal) error {
	if !p.IsPositive() || p.GreaterThan(hundred) {
		return apperr.Validation("discount_percentage must be greater than 0 and at most 100")
	}
	if !p.Equal(p.Truncate(percentageScale)) {
		return apperr.Validationf("discount_percentage must have at most %d decimal places", percentageScale)
	}
	return nil
}
