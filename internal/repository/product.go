package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront-discounts/internal/domain/product"
)

const (
	productColumns = `id, name, description, price, stock, is_active, discount_percentage,
		discount_start_date, discount_end_date, has_active_discount, created_at, updated_at`

	insertProductSQL = `INSERT INTO products (name, description, price, stock, is_active,
		discount_percentage, discount_start_date, discount_end_date, has_active_discount, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) RETURNING id`

	updateProductSQL = `UPDATE products SET name = $2, description = $3, price = $4, stock = $5,
		is_active = $6, discount_percentage = $7, discount_start_date = $8, discount_end_date = $9,
		has_active_discount = $10, updated_at = $11
		WHERE id = $1`

	getProductByIDSQL = `SELECT ` + productColumns + ` FROM products WHERE id = $1`

	productNameTakenSQL = `SELECT EXISTS (
		SELECT 1 FROM products WHERE lower(name) = lower($1) AND is_active AND id <> $2)`

	productsActiveNameKey = "products_active_name_key"
)

var _ product.Repository = (*ProductRepository)(nil)

// ProductRepository implements product.Repository backed by PostgreSQL.
type ProductRepository struct {
	pool *pgxpool.Pool
}

// NewProductRepository returns a ProductRepository that uses the given pool.
func NewProductRepository(pool *pgxpool.Pool) *ProductRepository {
	return &ProductRepository{pool: pool}
}

// Create inserts p and assigns its ID.
func (r *ProductRepository) Create(ctx context.Context, p *product.Product) error {
	err := conn(ctx, r.pool).QueryRow(ctx, insertProductSQL,
		p.Name, p.Description, p.Price, p.Stock, p.IsActive,
		p.DiscountPercentage, p.DiscountStartDate, p.DiscountEndDate, p.HasActiveDiscount, p.CreatedAt,
	).Scan(&p.ID)
	if err != nil {
		if uniqueViolation(err, productsActiveNameKey) {
			return product.ErrDuplicateName
		}
		return fmt.Errorf("inserting product %q: %w", p.Name, err)
	}
	return nil
}

// Update persists every mutable field of p.
func (r *ProductRepository) Update(ctx context.Context, p *product.Product) error {
	tag, err := conn(ctx, r.pool).Exec(ctx, updateProductSQL,
		p.ID, p.Name, p.Description, p.Price, p.Stock, p.IsActive,
		p.DiscountPercentage, p.DiscountStartDate, p.DiscountEndDate, p.HasActiveDiscount, p.UpdatedAt,
	)
	if err != nil {
		if uniqueViolation(err, productsActiveNameKey) {
			return product.ErrDuplicateName
		}
		return fmt.Errorf("updating product %d: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return product.ErrNotFound
	}
	return nil
}

// GetByID returns a single product by its identifier.
func (r *ProductRepository) GetByID(ctx context.Context, id int64) (*product.Product, error) {
	return r.one(ctx, getProductByIDSQL, id)
}

// GetByIDForUpdate is GetByID with a row lock.
func (r *ProductRepository) GetByIDForUpdate(ctx context.Context, id int64) (*product.Product, error) {
	return r.one(ctx, getProductByIDSQL+` FOR UPDATE`, id)
}

// NameTaken reports whether another active product uses name.
func (r *ProductRepository) NameTaken(ctx context.Context, name string, excludeID int64) (bool, error) {
	var taken bool
	if err := conn(ctx, r.pool).QueryRow(ctx, productNameTakenSQL, name, excludeID).Scan(&taken); err != nil {
		return false, fmt.Errorf("checking product name %q: %w", name, err)
	}
	return taken, nil
}

// List returns one page of active products matching f and the total count.
func (r *ProductRepository) List(ctx context.Context, f product.Filter) ([]product.Product, int, error) {
	var w where
	w.add("is_active")
	if f.Search != "" {
		p := containsPattern(f.Search)
		w.add("(name ILIKE ? OR description ILIKE ?)", p, p)
	}
	if f.MinPrice != nil {
		w.add("price >= ?", *f.MinPrice)
	}
	if f.MaxPrice != nil {
		w.add("price <= ?", *f.MaxPrice)
	}
	if f.HasDiscount != nil {
		w.add("has_active_discount = ?", *f.HasDiscount)
	}
	if f.OnlyOutOfStock {
		w.add("stock <= 0")
	}

	q := conn(ctx, r.pool)

	var total int
	if err := q.QueryRow(ctx, `SELECT count(*) FROM products`+w.String(), w.args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting products: %w", err)
	}

	filter := w.String()
	order := w.page(f.Page)
	rows, err := q.Query(ctx, `SELECT `+productColumns+` FROM products`+filter+order, w.args...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing products: %w", err)
	}
	products, err := pgx.CollectRows(rows, scanProduct)
	if err != nil {
		return nil, 0, fmt.Errorf("listing products: %w", err)
	}
	return products, total, nil
}

func (r *ProductRepository) one(ctx context.Context, sql string, id int64) (*product.Product, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, sql, id)
	if err != nil {
		return nil, fmt.Errorf("getting product %d: %w", id, err)
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, product.ErrNotFound
		}
		return nil, fmt.Errorf("getting product %d: %w", id, err)
	}
	return &p, nil
}

func scanProduct(row pgx.CollectableRow) (product.Product, error) {
	var (
		p         product.Product
		stock     int32
		start     *time.Time
		end       *time.Time
		updatedAt *time.Time
	)
	err := row.Scan(
		&p.ID, &p.Name, &p.Description, &p.Price, &stock, &p.IsActive, &p.DiscountPercentage,
		&start, &end, &p.HasActiveDiscount, &p.CreatedAt, &updatedAt,
	)
	p.Stock = int(stock)
	p.DiscountStartDate = utcPtr(start)
	p.DiscountEndDate = utcPtr(end)
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = utcPtr(updatedAt)
	return p, err
}
