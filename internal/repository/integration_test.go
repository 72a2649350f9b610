//go:build integration

package repository_test

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go/modules/compose"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/xenking/storefront-discounts/internal/domain/apperr"
	"github.com/xenking/storefront-discounts/internal/domain/coupon"
	"github.com/xenking/storefront-discounts/internal/domain/discount"
	"github.com/xenking/storefront-discounts/internal/domain/ledger"
	"github.com/xenking/storefront-discounts/internal/domain/paging"
	"github.com/xenking/storefront-discounts/internal/domain/product"
	"github.com/xenking/storefront-discounts/internal/repository"
)

var pool *pgxpool.Pool

func TestMain(m *testing.M) {
	os.Exit(testMain(m))
}

func testMain(m *testing.M) int {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	dc, err := tc.NewDockerCompose("docker-compose.test.yml")
	if err != nil {
		log.Fatalf("compose init: %v", err)
	}
	defer func() {
		if err := dc.Down(context.Background(), tc.RemoveOrphans(true)); err != nil {
			log.Printf("compose down: %v", err)
		}
	}()

	err = dc.
		WaitForService("postgres", wait.ForListeningPort("5432/tcp")).
		Up(ctx, tc.Wait(true))
	if err != nil {
		log.Fatalf("compose up: %v", err)
	}

	pg, err := dc.ServiceContainer(ctx, "postgres")
	if err != nil {
		log.Fatalf("postgres container: %v", err)
	}
	host, err := pg.Host(ctx)
	if err != nil {
		log.Fatalf("host: %v", err)
	}
	port, err := pg.MappedPort(ctx, "5432/tcp")
	if err != nil {
		log.Fatalf("mapped port: %v", err)
	}

	dsn := fmt.Sprintf("postgres://storefront:storefront@%s:%s/storefront?sslmode=disable", host, port.Port())
	pool, err = repository.NewPool(ctx, dsn)
	if err != nil {
		log.Fatalf("pool: %v", err)
	}
	defer pool.Close()

	if err := repository.RunMigrations(ctx, pool); err != nil {
		log.Fatalf("migrations: %v", err)
	}
	// Migrations are idempotent.
	if err := repository.RunMigrations(ctx, pool); err != nil {
		log.Fatalf("migrations rerun: %v", err)
	}

	return m.Run()
}

var testNow = time.Now().UTC().Truncate(time.Microsecond)

type services struct {
	tx       *repository.Transactor
	coupons  *coupon.Service
	products *product.Service
	discount *discount.Service
	ledger   *repository.LedgerRepository
}

func newServices(t *testing.T) *services {
	t.Helper()
	clock := func() time.Time { return testNow }
	tx := repository.NewTransactor(pool, 3)
	couponRepo := repository.NewCouponRepository(pool)
	productRepo := repository.NewProductRepository(pool)
	ledgerRepo := repository.NewLedgerRepository(pool)

	svc, err := discount.NewService(tx, productRepo, couponRepo, ledgerRepo, discount.WithClock(clock))
	require.NoError(t, err)

	return &services{
		tx:       tx,
		coupons:  coupon.NewService(tx, couponRepo).WithClock(clock),
		products: product.NewService(tx, productRepo).WithClock(clock),
		discount: svc,
		ledger:   ledgerRepo,
	}
}

func uniqueName(t *testing.T, prefix string) string {
	return fmt.Sprintf("%s%d", prefix, time.Now().UnixNano()%1_000_000_000)
}

func (s *services) newProduct(t *testing.T, price string) *product.Product {
	t.Helper()
	p, err := s.products.Create(context.Background(), product.CreateParams{
		Name:  uniqueName(t, "product-"),
		Price: decimal.RequireFromString(price),
		Stock: 5,
	})
	require.NoError(t, err)
	return p
}

func (s *services) newCoupon(t *testing.T, pct int64, limit int) *coupon.Coupon {
	t.Helper()
	c, err := s.coupons.Create(context.Background(), coupon.CreateParams{
		Code:               uniqueName(t, "C"),
		DiscountPercentage: decimal.NewFromInt(pct),
		ValidFrom:          testNow.Add(-time.Minute),
		ValidUntil:         testNow.Add(24 * time.Hour),
		UsageLimit:         &limit,
	})
	require.NoError(t, err)
	return c
}

func TestCouponRoundTrip(t *testing.T) {
	s := newServices(t)
	ctx := context.Background()
	c := s.newCoupon(t, 15, 2)

	got, err := s.coupons.Get(ctx, c.Code)
	require.NoError(t, err)
	assert.Equal(t, c.ID, got.ID)
	assert.True(t, c.DiscountPercentage.Equal(got.DiscountPercentage))
	assert.Equal(t, c.ValidUntil, got.ValidUntil)

	_, err = s.coupons.Create(ctx, coupon.CreateParams{
		Code:               c.Code,
		DiscountPercentage: decimal.NewFromInt(5),
		ValidFrom:          testNow,
		ValidUntil:         testNow.Add(time.Hour),
	})
	require.Error(t, err)
	assert.True(t, apperr.IsValidation(err))

	valid := true
	res, err := s.coupons.List(ctx, coupon.Filter{
		Search: c.Code,
		Valid:  &valid,
		Page:   paging.Request{SortBy: "code"},
	})
	require.NoError(t, err)
	require.Len(t, res.Coupons, 1)
	assert.Equal(t, 1, res.Meta.Total)

	require.NoError(t, s.coupons.Deactivate(ctx, c.Code))
	v, err := s.coupons.Validate(ctx, c.Code)
	require.NoError(t, err)
	assert.Equal(t, coupon.ReasonInactive, v.Reason)
}

func TestApplyCouponDiscount_UsageBoundUnderConcurrency(t *testing.T) {
	s := newServices(t)
	ctx := context.Background()
	const limit = 3
	c := s.newCoupon(t, 10, limit)

	var products []*product.Product
	for range 12 {
		products = append(products, s.newProduct(t, "10.00"))
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for _, p := range products {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.discount.ApplyCouponDiscount(ctx, p.ID, c.Code); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	got, err := s.coupons.Get(ctx, c.Code)
	require.NoError(t, err)
	assert.Equal(t, limit, got.UsageCount)
	assert.Equal(t, limit, successes)
}

func TestConcurrentApplySameProduct_SingleActive(t *testing.T) {
	s := newServices(t)
	ctx := context.Background()
	p := s.newProduct(t, "100.00")

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.discount.ApplyPercentageDiscount(ctx, p.ID, decimal.NewFromInt(int64(10+i)))
		}()
	}
	wg.Wait()

	history, err := s.ledger.ListByProduct(ctx, p.ID)
	require.NoError(t, err)
	active := 0
	for _, a := range history {
		if a.IsActive {
			active++
		}
	}
	assert.Equal(t, 1, active)
}

func TestApplyAndRemove(t *testing.T) {
	s := newServices(t)
	ctx := context.Background()
	p := s.newProduct(t, "200.00")

	_, err := s.discount.ApplyPercentageDiscount(ctx, p.ID, decimal.NewFromInt(20))
	require.NoError(t, err)
	res, err := s.discount.ApplyPercentageDiscount(ctx, p.ID, decimal.NewFromInt(15))
	require.NoError(t, err)
	assert.Equal(t, "170.00", res.Product.FinalPrice().StringFixed(2))
	assert.Equal(t, ledger.KindDirect, res.Application.Source.Kind())

	removed, err := s.discount.RemoveDiscount(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, res.Application.ID, removed.RemovedApplicationID)
	assert.Equal(t, "200.00", removed.FinalPrice.StringFixed(2))

	_, err = s.discount.RemoveDiscount(ctx, p.ID)
	require.ErrorIs(t, err, ledger.ErrNoActive)
}

func TestRollbackLeavesNoPartialState(t *testing.T) {
	s := newServices(t)
	ctx := context.Background()
	p := s.newProduct(t, "50.00")
	c := s.newCoupon(t, 95, 1)

	_, err := s.discount.ApplyCouponDiscount(ctx, p.ID, c.Code)
	require.Error(t, err)

	got, err := s.coupons.Get(ctx, c.Code)
	require.NoError(t, err)
	assert.Equal(t, 0, got.UsageCount)

	_, err = s.ledger.FindActiveByProduct(ctx, p.ID)
	require.ErrorIs(t, err, ledger.ErrNoActive)
}

func TestProductList(t *testing.T) {
	s := newServices(t)
	ctx := context.Background()
	p := s.newProduct(t, "33.33")

	res, err := s.products.List(ctx, product.Filter{
		Search: p.Name,
		Page:   paging.Request{SortBy: "price", SortOrder: paging.Asc},
	})
	require.NoError(t, err)
	require.Len(t, res.Products, 1)
	assert.Equal(t, p.ID, res.Products[0].ID)

	require.NoError(t, s.products.Delete(ctx, p.ID))
	res, err = s.products.List(ctx, product.Filter{Search: p.Name})
	require.NoError(t, err)
	assert.Empty(t, res.Products)
}
