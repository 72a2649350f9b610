package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront-discounts/internal/domain/ledger"
)

const (
	applicationColumns = `id, product_id, coupon_id, discount_amount, discount_percentage, applied_at, is_active`

	findActiveApplicationSQL = `SELECT ` + applicationColumns + ` FROM discount_applications
		WHERE product_id = $1 AND is_active`

	deactivateApplicationSQL = `UPDATE discount_applications SET is_active = FALSE
		WHERE id = $1 AND is_active`

	insertApplicationSQL = `INSERT INTO discount_applications
		(product_id, coupon_id, discount_amount, discount_percentage, applied_at, is_active)
		VALUES ($1, $2, $3, $4, $5, TRUE) RETURNING id`

	listApplicationsSQL = `SELECT ` + applicationColumns + ` FROM discount_applications
		WHERE product_id = $1 ORDER BY applied_at DESC, id DESC`

	applicationsActiveProductKey = "discount_applications_active_product_key"
)

var _ ledger.Repository = (*LedgerRepository)(nil)

// LedgerRepository implements ledger.Repository backed by PostgreSQL. The
// partial unique index on (product_id) WHERE is_active backs the
// single-active-entry rule.
type LedgerRepository struct {
	pool *pgxpool.Pool
}

// NewLedgerRepository returns a LedgerRepository that uses the given pool.
func NewLedgerRepository(pool *pgxpool.Pool) *LedgerRepository {
	return &LedgerRepository{pool: pool}
}

func (r *LedgerRepository) FindActiveByProduct(ctx context.Context, productID int64) (*ledger.Application, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, findActiveApplicationSQL, productID)
	if err != nil {
		return nil, fmt.Errorf("finding active application for product %d: %w", productID, err)
	}

	a, err := pgx.CollectExactlyOneRow(rows, scanApplication)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ledger.ErrNoActive
		}
		return nil, fmt.Errorf("finding active application for product %d: %w", productID, err)
	}
	return &a, nil
}

func (r *LedgerRepository) Deactivate(ctx context.Context, id int64) error {
	tag, err := conn(ctx, r.pool).Exec(ctx, deactivateApplicationSQL, id)
	if err != nil {
		return fmt.Errorf("deactivating application %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ledger.ErrAlreadyInactive
	}
	return nil
}

func (r *LedgerRepository) Insert(ctx context.Context, a *ledger.Application) error {
	err := conn(ctx, r.pool).QueryRow(ctx, insertApplicationSQL,
		a.ProductID, a.Source.Nullable(), a.DiscountAmount, a.DiscountPercentage, a.AppliedAt,
	).Scan(&a.ID)
	if err != nil {
		if uniqueViolation(err, applicationsActiveProductKey) {
			return ledger.ErrActiveExists
		}
		return fmt.Errorf("inserting application for product %d: %w", a.ProductID, err)
	}
	a.IsActive = true
	return nil
}

func (r *LedgerRepository) ListByProduct(ctx context.Context, productID int64) ([]ledger.Application, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, listApplicationsSQL, productID)
	if err != nil {
		return nil, fmt.Errorf("listing applications for product %d: %w", productID, err)
	}
	return pgx.CollectRows(rows, scanApplication)
}

func scanApplication(row pgx.CollectableRow) (ledger.Application, error) {
	var (
		a        ledger.Application
		couponID *int64
	)
	err := row.Scan(
		&a.ID, &a.ProductID, &couponID, &a.DiscountAmount, &a.DiscountPercentage, &a.AppliedAt, &a.IsActive,
	)
	a.Source = ledger.SourceFromNullable(couponID)
	a.AppliedAt = a.AppliedAt.UTC()
	return a, err
}
