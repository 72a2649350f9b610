package memory

import (
	"context"

	"github.com/xenking/storefront-discounts/internal/domain/ledger"
)

var _ ledger.Repository = (*LedgerRepository)(nil)

// LedgerRepository implements ledger.Repository on a Store.
type LedgerRepository struct {
	store *Store
}

func (r *LedgerRepository) FindActiveByProduct(ctx context.Context, productID int64) (*ledger.Application, error) {
	var out ledger.Application
	err := r.store.with(ctx, func(st *state) error {
		for _, a := range st.applications {
			if a.ProductID == productID && a.IsActive {
				out = a
				return nil
			}
		}
		return ledger.ErrNoActive
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *LedgerRepository) Deactivate(ctx context.Context, id int64) error {
	return r.store.with(ctx, func(st *state) error {
		for i := range st.applications {
			if st.applications[i].ID != id {
				continue
			}
			if !st.applications[i].IsActive {
				return ledger.ErrAlreadyInactive
			}
			st.applications[i].IsActive = false
			return nil
		}
		return ledger.ErrAlreadyInactive
	})
}

func (r *LedgerRepository) Insert(ctx context.Context, a *ledger.Application) error {
	return r.store.with(ctx, func(st *state) error {
		for _, existing := range st.applications {
			if existing.ProductID == a.ProductID && existing.IsActive {
				return ledger.ErrActiveExists
			}
		}
		st.nextApplicationID++
		a.ID = st.nextApplicationID
		a.IsActive = true
		st.applications = append(st.applications, *a)
		return nil
	})
}

func (r *LedgerRepository) ListByProduct(ctx context.Context, productID int64) ([]ledger.Application, error) {
	var out []ledger.Application
	err := r.store.with(ctx, func(st *state) error {
		for i := len(st.applications) - 1; i >= 0; i-- {
			if st.applications[i].ProductID == productID {
				out = append(out, st.applications[i])
			}
		}
		return nil
	})
	return out, err
}
