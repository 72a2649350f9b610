package product

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/storefront-discounts/internal/domain/apperr"
	"github.com/xenking/storefront-discounts/internal/domain/paging"
)

// ListResult is one page of products.
type ListResult struct {
	Products []Product
	Meta     paging.Meta
}

// Service manages the product catalog. Discount state is owned by the
// discount package and is never changed here.
type Service struct {
	tx   Transactor
	repo Repository
	now  func() time.Time
}

// NewService creates a product Service.
func NewService(tx Transactor, repo Repository) *Service {
	return &Service{tx: tx, repo: repo, now: time.Now}
}

// WithClock replaces the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Create validates and stores a new product.
func (s *Service) Create(ctx context.Context, p CreateParams) (*Product, error) {
	now := s.now().UTC()

	name, err := validateName(p.Name)
	if err != nil {
		return nil, err
	}
	price, err := validatePrice(p.Price)
	if err != nil {
		return nil, err
	}
	if p.Stock < 0 {
		return nil, apperr.Validation("stock cannot be negative")
	}

	prod := &Product{
		Name:        name,
		Description: strings.TrimSpace(p.Description),
		Price:       price,
		Stock:       p.Stock,
		IsActive:    true,
		CreatedAt:   now,
	}

	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		taken, err := s.repo.NameTaken(ctx, name, 0)
		if err != nil {
			return fmt.Errorf("check name: %w", err)
		}
		if taken {
			return ErrDuplicateName
		}
		return s.repo.Create(ctx, prod)
	})
	if err != nil {
		return nil, err
	}

	zctx.From(ctx).Info("Product created",
		zap.Int64("product_id", prod.ID),
		zap.String("name", prod.Name),
	)
	return prod, nil
}

// Get returns the active product with the given id.
func (s *Service) Get(ctx context.Context, id int64) (*Product, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !p.IsActive {
		return nil, ErrNotFound
	}
	return p, nil
}

// Update applies a partial update to an active product.
func (s *Service) Update(ctx context.Context, id int64, p UpdateParams) (*Product, error) {
	now := s.now().UTC()

	var updated *Product
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		prod, err := s.lockActive(ctx, id)
		if err != nil {
			return err
		}
		if p.Name != nil {
			name, err := validateName(*p.Name)
			if err != nil {
				return err
			}
			if !strings.EqualFold(name, prod.Name) {
				taken, err := s.repo.NameTaken(ctx, name, prod.ID)
				if err != nil {
					return fmt.Errorf("check name: %w", err)
				}
				if taken {
					return ErrDuplicateName
				}
			}
			prod.Name = name
		}
		if p.Description != nil {
			prod.Description = strings.TrimSpace(*p.Description)
		}
		if p.Price != nil {
			price, err := validatePrice(*p.Price)
			if err != nil {
				return err
			}
			prod.Price = price
		}
		if p.Stock != nil {
			if *p.Stock < 0 {
				return apperr.Validation("stock cannot be negative")
			}
			prod.Stock = *p.Stock
		}
		prod.UpdatedAt = &now
		if err := s.repo.Update(ctx, prod); err != nil {
			return err
		}
		updated = prod
		return nil
	})
	if err != nil {
		return nil, err
	}

	zctx.From(ctx).Info("Product updated", zap.Int64("product_id", id))
	return updated, nil
}

// Delete soft-deletes an active product.
func (s *Service) Delete(ctx context.Context, id int64) error {
	now := s.now().UTC()

	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		prod, err := s.lockActive(ctx, id)
		if err != nil {
			return err
		}
		prod.IsActive = false
		prod.UpdatedAt = &now
		return s.repo.Update(ctx, prod)
	})
	if err != nil {
		return err
	}

	zctx.From(ctx).Info("Product deleted", zap.Int64("product_id", id))
	return nil
}

// List returns a filtered, sorted page of active products.
func (s *Service) List(ctx context.Context, f Filter) (*ListResult, error) {
	f.Page = f.Page.Normalize(SortColumns, "created_at", paging.Desc)

	products, total, err := s.repo.List(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	return &ListResult{
		Products: products,
		Meta:     paging.NewMeta(f.Page, total),
	}, nil
}

func (s *Service) lockActive(ctx context.Context, id int64) (*Product, error) {
	p, err := s.repo.GetByIDForUpdate(ctx, id)
	if err != nil {
		return nil, err
	}
	if !p.IsActive {
		return nil, ErrNotFound
	}
	return p, nil
}

// validatePrice rounds to cents first so a sub-cent price cannot be stored
// as zero.
func validatePrice(raw decimal.Decimal) (decimal.Decimal, error) {
	price := raw.Round(2)
	if !price.IsPositive() {
		return decimal.Zero, apperr.Validation("price must be greater than 0")
	}
	return price, nil
}

func validateName(raw string) (string, error) {
	name := strings.TrimSpace(raw)
	if name == "" {
		return "", apperr.Validation("name is required")
	}
	if len(name) > MaxNameLength {
		return "", apperr.Validationf("name must be at most %d characters", MaxNameLength)
	}
	return name, nil
}
