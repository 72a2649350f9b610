package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront-discounts/internal/domain/coupon"
)

const (
	couponColumns = `id, code, description, discount_percentage, valid_from, valid_until,
		usage_limit, usage_count, is_active, created_at, updated_at`

	insertCouponSQL = `INSERT INTO coupons (code, description, discount_percentage, valid_from, valid_until,
		usage_limit, usage_count, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`

	updateCouponSQL = `UPDATE coupons SET code = $2, description = $3, discount_percentage = $4,
		valid_from = $5, valid_until = $6, usage_limit = $7, is_active = $8, updated_at = $9
		WHERE id = $1`

	recordCouponUsageSQL = `UPDATE coupons SET usage_count = $2, updated_at = $3
		WHERE id = $1 AND usage_count = $2 - 1 AND usage_count < usage_limit`

	getCouponByIDSQL = `SELECT ` + couponColumns + ` FROM coupons WHERE id = $1`

	// Active row first, then the newest inactive one.
	findCouponByCodeSQL = `SELECT ` + couponColumns + ` FROM coupons WHERE code = $1
		ORDER BY is_active DESC, created_at DESC, id DESC LIMIT 1`

	couponCodeTakenSQL = `SELECT EXISTS (
		SELECT 1 FROM coupons WHERE code = $1 AND is_active AND id <> $2)`

	couponsActiveCodeKey = "coupons_active_code_key"

	// couponUsable mirrors coupon.Coupon.IsValid for an active row.
	couponUsable = `(valid_from <= ? AND valid_until >= ? AND usage_count < usage_limit)`
)

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository implements coupon.Repository backed by PostgreSQL.
type CouponRepository struct {
	pool *pgxpool.Pool
}

// NewCouponRepository returns a CouponRepository that uses the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

// Create inserts c and assigns its ID.
func (r *CouponRepository) Create(ctx context.Context, c *coupon.Coupon) error {
	err := conn(ctx, r.pool).QueryRow(ctx, insertCouponSQL,
		c.Code, c.Description, c.DiscountPercentage, c.ValidFrom, c.ValidUntil,
		c.UsageLimit, c.UsageCount, c.IsActive, c.CreatedAt,
	).Scan(&c.ID)
	if err != nil {
		if uniqueViolation(err, couponsActiveCodeKey) {
			return coupon.ErrDuplicateCode
		}
		return fmt.Errorf("inserting coupon %q: %w", c.Code, err)
	}
	return nil
}

// Update persists every mutable field except the usage counter.
func (r *CouponRepository) Update(ctx context.Context, c *coupon.Coupon) error {
	tag, err := conn(ctx, r.pool).Exec(ctx, updateCouponSQL,
		c.ID, c.Code, c.Description, c.DiscountPercentage, c.ValidFrom, c.ValidUntil,
		c.UsageLimit, c.IsActive, c.UpdatedAt,
	)
	if err != nil {
		if uniqueViolation(err, couponsActiveCodeKey) {
			return coupon.ErrDuplicateCode
		}
		return fmt.Errorf("updating coupon %d: %w", c.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return coupon.ErrNotFound
	}
	return nil
}

// RecordUsage stores the incremented counter only if no one else has moved it.
func (r *CouponRepository) RecordUsage(ctx context.Context, c *coupon.Coupon) error {
	tag, err := conn(ctx, r.pool).Exec(ctx, recordCouponUsageSQL, c.ID, c.UsageCount, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("recording usage for coupon %d: %w", c.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return coupon.ErrUsageRaced
	}
	return nil
}

// GetByID returns the coupon with the given id, active or not.
func (r *CouponRepository) GetByID(ctx context.Context, id int64) (*coupon.Coupon, error) {
	return r.one(ctx, getCouponByIDSQL, id)
}

// FindByCode returns the active coupon with code, or the newest inactive one.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	return r.one(ctx, findCouponByCodeSQL, code)
}

// FindByCodeForUpdate is FindByCode with a row lock.
func (r *CouponRepository) FindByCodeForUpdate(ctx context.Context, code string) (*coupon.Coupon, error) {
	return r.one(ctx, findCouponByCodeSQL+` FOR UPDATE`, code)
}

// CodeTaken reports whether another active coupon uses code.
func (r *CouponRepository) CodeTaken(ctx context.Context, code string, excludeID int64) (bool, error) {
	var taken bool
	if err := conn(ctx, r.pool).QueryRow(ctx, couponCodeTakenSQL, code, excludeID).Scan(&taken); err != nil {
		return false, fmt.Errorf("checking coupon code %q: %w", code, err)
	}
	return taken, nil
}

// List returns one page of active coupons matching f and the total match count.
func (r *CouponRepository) List(ctx context.Context, f coupon.Filter) ([]coupon.Coupon, int, error) {
	var w where
	w.add("is_active")
	if f.Search != "" {
		p := containsPattern(f.Search)
		w.add("(code ILIKE ? OR description ILIKE ?)", p, p)
	}
	if f.MinDiscount != nil {
		w.add("discount_percentage >= ?", *f.MinDiscount)
	}
	if f.MaxDiscount != nil {
		w.add("discount_percentage <= ?", *f.MaxDiscount)
	}
	if f.Valid != nil {
		if *f.Valid {
			w.add(couponUsable, f.Now, f.Now)
		} else {
			w.add("NOT "+couponUsable, f.Now, f.Now)
		}
	}

	q := conn(ctx, r.pool)

	var total int
	if err := q.QueryRow(ctx, `SELECT count(*) FROM coupons`+w.String(), w.args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting coupons: %w", err)
	}

	filter := w.String()
	order := w.page(f.Page)
	rows, err := q.Query(ctx, `SELECT `+couponColumns+` FROM coupons`+filter+order, w.args...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing coupons: %w", err)
	}
	coupons, err := pgx.CollectRows(rows, scanCoupon)
	if err != nil {
		return nil, 0, fmt.Errorf("listing coupons: %w", err)
	}
	return coupons, total, nil
}

func (r *CouponRepository) one(ctx context.Context, sql string, arg any) (*coupon.Coupon, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, sql, arg)
	if err != nil {
		return nil, fmt.Errorf("getting coupon %v: %w", arg, err)
	}

	c, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrNotFound
		}
		return nil, fmt.Errorf("getting coupon %v: %w", arg, err)
	}
	return &c, nil
}

func scanCoupon(row pgx.CollectableRow) (coupon.Coupon, error) {
	var (
		c          coupon.Coupon
		usageLimit int32
		usageCount int32
		updatedAt  *time.Time
	)
	err := row.Scan(
		&c.ID, &c.Code, &c.Description, &c.DiscountPercentage, &c.ValidFrom, &c.ValidUntil,
		&usageLimit, &usageCount, &c.IsActive, &c.CreatedAt, &updatedAt,
	)
	c.UsageLimit = int(usageLimit)
	c.UsageCount = int(usageCount)
	c.ValidFrom = c.ValidFrom.UTC()
	c.ValidUntil = c.ValidUntil.UTC()
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = utcPtr(updatedAt)
	return c, err
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
