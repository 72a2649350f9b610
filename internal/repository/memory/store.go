// Package memory is an in-process storage backend. A transaction holds the
// store-wide lock for its whole duration and restores a snapshot on failure,
// so it gives the same all-or-nothing guarantee as the database backend.
package memory

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/xenking/storefront-discounts/internal/domain/coupon"
	"github.com/xenking/storefront-discounts/internal/domain/ledger"
	"github.com/xenking/storefront-discounts/internal/domain/product"
)

type txKey struct{}

type state struct {
	coupons      map[int64]coupon.Coupon
	products     map[int64]product.Product
	applications []ledger.Application

	nextCouponID      int64
	nextProductID     int64
	nextApplicationID int64
}

func (s *state) clone() state {
	return state{
		coupons:           maps.Clone(s.coupons),
		products:          maps.Clone(s.products),
		applications:      slices.Clone(s.applications),
		nextCouponID:      s.nextCouponID,
		nextProductID:     s.nextProductID,
		nextApplicationID: s.nextApplicationID,
	}
}

// Store holds all entities in memory.
type Store struct {
	mu sync.Mutex
	st state
}

// New creates an empty Store.
func New() *Store {
	return &Store{st: state{
		coupons:  map[int64]coupon.Coupon{},
		products: map[int64]product.Product{},
	}}
}

// InTx runs fn while holding the store lock. If fn returns an error or
// panics, every change it made is discarded. Calls nested inside fn join the
// outer transaction.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.inTx(ctx) {
		return fn(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.st.clone()
	committed := false
	defer func() {
		if !committed {
			s.st = snapshot
		}
	}()

	if err := fn(context.WithValue(ctx, txKey{}, s)); err != nil {
		return err
	}
	committed = true
	return nil
}

func (s *Store) inTx(ctx context.Context) bool {
	owner, _ := ctx.Value(txKey{}).(*Store)
	return owner == s
}

// with runs fn against the state, taking the lock unless ctx already owns it.
func (s *Store) with(ctx context.Context, fn func(st *state) error) error {
	if s.inTx(ctx) {
		return fn(&s.st)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&s.st)
}

// Coupons returns a coupon.Repository backed by the store.
func (s *Store) Coupons() *CouponRepository {
	return &CouponRepository{store: s}
}

// Products returns a product.Repository backed by the store.
func (s *Store) Products() *ProductRepository {
	return &ProductRepository{store: s}
}

// Ledger returns a ledger.Repository backed by the store.
func (s *Store) Ledger() *LedgerRepository {
	return &LedgerRepository{store: s}
}
