package coupon

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/storefront-discounts/internal/domain/apperr"
	"github.com/xenking/storefront-discounts/internal/domain/paging"
)

// --- Mock implementations ---

type mockTx struct {
	calls int
}

func (m *mockTx) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	m.calls++
	return fn(ctx)
}

type mockRepo struct {
	byID   map[int64]*Coupon
	nextID int64
}

func newMockRepo(coupons ...*Coupon) *mockRepo {
	r := &mockRepo{byID: map[int64]*Coupon{}}
	for _, c := range coupons {
		r.byID[c.ID] = c
		r.nextID = max(r.nextID, c.ID)
	}
	return r
}

func (m *mockRepo) Create(_ context.Context, c *Coupon) error {
	m.nextID++
	c.ID = m.nextID
	cp := *c
	m.byID[c.ID] = &cp
	return nil
}

func (m *mockRepo) Update(_ context.Context, c *Coupon) error {
	stored, ok := m.byID[c.ID]
	if !ok {
		return ErrNotFound
	}
	count := stored.UsageCount
	*stored = *c
	stored.UsageCount = count
	return nil
}

func (m *mockRepo) RecordUsage(_ context.Context, c *Coupon) error {
	stored, ok := m.byID[c.ID]
	if !ok || stored.UsageCount != c.UsageCount-1 || c.UsageCount > stored.UsageLimit {
		return ErrUsageRaced
	}
	stored.UsageCount = c.UsageCount
	stored.UpdatedAt = c.UpdatedAt
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id int64) (*Coupon, error) {
	c, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *mockRepo) FindByCode(_ context.Context, code string) (*Coupon, error) {
	var best *Coupon
	for _, c := range m.byID {
		if c.Code != code {
			continue
		}
		if c.IsActive {
			cp := *c
			return &cp, nil
		}
		if best == nil || c.CreatedAt.After(best.CreatedAt) {
			best = c
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	cp := *best
	return &cp, nil
}

func (m *mockRepo) FindByCodeForUpdate(ctx context.Context, code string) (*Coupon, error) {
	return m.FindByCode(ctx, code)
}

func (m *mockRepo) CodeTaken(_ context.Context, code string, excludeID int64) (bool, error) {
	for _, c := range m.byID {
		if c.IsActive && c.Code == code && c.ID != excludeID {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockRepo) List(_ context.Context, f Filter) ([]Coupon, int, error) {
	var out []Coupon
	for _, c := range m.byID {
		if f.Matches(c) {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	lo, hi := paging.Window(f.Page, len(out))
	return out[lo:hi], len(out), nil
}

// --- Helpers ---

func newTestService(coupons ...*Coupon) (*Service, *mockRepo) {
	repo := newMockRepo(coupons...)
	svc := NewService(&mockTx{}, repo).WithClock(func() time.Time { return testNow })
	return svc, repo
}

func validCreateParams() CreateParams {
	return CreateParams{
		Code:               " summer25 ",
		Description:        "Summer sale",
		DiscountPercentage: decimal.NewFromInt(25),
		ValidFrom:          testNow.Add(-time.Hour),
		ValidUntil:         testNow.Add(30 * 24 * time.Hour),
	}
}

func intPtr(v int) *int { return &v }

// --- Tests ---

func TestServiceCreate(t *testing.T) {
	svc, repo := newTestService()

	c, err := svc.Create(context.Background(), validCreateParams())
	require.NoError(t, err)
	assert.Equal(t, "SUMMER25", c.Code)
	assert.Equal(t, 1, c.UsageLimit, "usage limit defaults to 1")
	assert.Equal(t, 0, c.UsageCount)
	assert.True(t, c.IsActive)
	assert.Equal(t, testNow, c.CreatedAt)
	assert.Len(t, repo.byID, 1)
}

func TestServiceCreate_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *CreateParams)
		msg    string
	}{
		{
			name:   "empty code",
			mutate: func(p *CreateParams) { p.Code = "  " },
			msg:    "code is required",
		},
		{
			name:   "code too long",
			mutate: func(p *CreateParams) { p.Code = "ABCDEFGHIJKLMNOPQRSTU" },
			msg:    "code must be at most 20 characters",
		},
		{
			name:   "zero percentage",
			mutate: func(p *CreateParams) { p.DiscountPercentage = decimal.Zero },
			msg:    "discount_percentage must be greater than 0 and at most 100",
		},
		{
			name:   "percentage over 100",
			mutate: func(p *CreateParams) { p.DiscountPercentage = decimal.NewFromInt(101) },
			msg:    "discount_percentage must be greater than 0 and at most 100",
		},
		{
			name:   "percentage rounds to zero",
			mutate: func(p *CreateParams) { p.DiscountPercentage = decimal.RequireFromString("0.001") },
			msg:    "discount_percentage must have at most 2 decimal places",
		},
		{
			name:   "percentage with three decimals",
			mutate: func(p *CreateParams) { p.DiscountPercentage = decimal.RequireFromString("12.345") },
			msg:    "discount_percentage must have at most 2 decimal places",
		},
		{
			name:   "zero usage limit",
			mutate: func(p *CreateParams) { p.UsageLimit = intPtr(0) },
			msg:    "usage_limit must be at least 1",
		},
		{
			name:   "inverted window",
			mutate: func(p *CreateParams) { p.ValidFrom = p.ValidUntil },
			msg:    "valid_from must be before valid_until",
		},
		{
			name: "window already over",
			mutate: func(p *CreateParams) {
				p.ValidFrom = testNow.Add(-48 * time.Hour)
				p.ValidUntil = testNow.Add(-time.Hour)
			},
			msg: "valid_until must be in the future",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, repo := newTestService()
			p := validCreateParams()
			tt.mutate(&p)

			_, err := svc.Create(context.Background(), p)
			require.Error(t, err)
			assert.True(t, apperr.IsValidation(err))
			assert.Equal(t, tt.msg, err.Error())
			assert.Empty(t, repo.byID)
		})
	}
}

func TestServiceCreate_DuplicateActiveCode(t *testing.T) {
	existing := newTestCoupon()
	existing.Code = "SUMMER25"
	svc, _ := newTestService(existing)

	_, err := svc.Create(context.Background(), validCreateParams())
	require.Error(t, err)
	assert.True(t, apperr.IsValidation(err))
}

func TestServiceCreate_ReusesInactiveCode(t *testing.T) {
	existing := newTestCoupon()
	existing.Code = "SUMMER25"
	existing.IsActive = false
	svc, repo := newTestService(existing)

	c, err := svc.Create(context.Background(), validCreateParams())
	require.NoError(t, err)
	assert.NotEqual(t, existing.ID, c.ID)
	assert.Len(t, repo.byID, 2)
}

func TestServiceGet(t *testing.T) {
	inactive := newTestCoupon()
	inactive.ID = 2
	inactive.Code = "OLD"
	inactive.IsActive = false
	svc, _ := newTestService(newTestCoupon(), inactive)

	c, err := svc.Get(context.Background(), "save20")
	require.NoError(t, err)
	assert.Equal(t, int64(1), c.ID)

	_, err = svc.Get(context.Background(), "OLD")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = svc.GetByID(context.Background(), 2)
	require.ErrorIs(t, err, ErrNotFound)

	_, err = svc.Get(context.Background(), "MISSING")
	assert.True(t, apperr.IsNotFound(err))
}

func TestServiceUpdate(t *testing.T) {
	c := newTestCoupon()
	c.UsageCount = 1
	svc, repo := newTestService(c)

	desc := "updated"
	pct := decimal.NewFromInt(30)
	updated, err := svc.Update(context.Background(), "SAVE20", UpdateParams{
		Description:        &desc,
		DiscountPercentage: &pct,
		UsageLimit:         intPtr(5),
	})
	require.NoError(t, err)
	assert.Equal(t, "updated", updated.Description)
	assert.True(t, pct.Equal(updated.DiscountPercentage))
	assert.Equal(t, 5, updated.UsageLimit)
	require.NotNil(t, updated.UpdatedAt)
	assert.Equal(t, 1, repo.byID[1].UsageCount)
}

func TestServiceUpdate_Validation(t *testing.T) {
	other := newTestCoupon()
	other.ID = 2
	other.Code = "TAKEN"

	tests := []struct {
		name   string
		params UpdateParams
	}{
		{name: "limit below usage", params: UpdateParams{UsageLimit: intPtr(1)}},
		{name: "limit zero", params: UpdateParams{UsageLimit: intPtr(0)}},
		{name: "code taken", params: UpdateParams{Code: func() *string { s := "taken"; return &s }()}},
		{name: "window inverted", params: UpdateParams{ValidUntil: func() *time.Time {
			v := testNow.Add(-48 * time.Hour)
			return &v
		}()}},
		{name: "bad percentage", params: UpdateParams{DiscountPercentage: func() *decimal.Decimal {
			v := decimal.NewFromInt(150)
			return &v
		}()}},
		{name: "sub-hundredth percentage", params: UpdateParams{DiscountPercentage: func() *decimal.Decimal {
			v := decimal.RequireFromString("0.001")
			return &v
		}()}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestCoupon()
			c.UsageCount = 2
			o := *other
			svc, repo := newTestService(c, &o)

			_, err := svc.Update(context.Background(), "SAVE20", tt.params)
			require.Error(t, err)
			assert.True(t, apperr.IsValidation(err))
			assert.Equal(t, "SAVE20", repo.byID[1].Code)
			assert.Equal(t, 2, repo.byID[1].UsageLimit)
		})
	}
}

func TestServiceUpdate_SameCodeIsNotDuplicate(t *testing.T) {
	svc, _ := newTestService(newTestCoupon())

	code := "save20"
	_, err := svc.Update(context.Background(), "SAVE20", UpdateParams{Code: &code})
	require.NoError(t, err)
}

func TestServiceDeactivate(t *testing.T) {
	svc, repo := newTestService(newTestCoupon())

	require.NoError(t, svc.Deactivate(context.Background(), "save20"))
	assert.False(t, repo.byID[1].IsActive)

	err := svc.Deactivate(context.Background(), "SAVE20")
	require.ErrorIs(t, err, ErrNotFound)

	v, err := svc.Validate(context.Background(), "SAVE20")
	require.NoError(t, err)
	assert.False(t, v.Valid)
	assert.Equal(t, ReasonInactive, v.Reason)
}

func TestServiceValidate(t *testing.T) {
	expired := newTestCoupon()
	expired.ID = 2
	expired.Code = "EXPIRED"
	expired.ValidUntil = testNow.Add(-time.Minute)
	svc, repo := newTestService(newTestCoupon(), expired)

	v, err := svc.Validate(context.Background(), "save20")
	require.NoError(t, err)
	assert.True(t, v.Valid)
	assert.Equal(t, ReasonValid, v.Reason)
	require.NotNil(t, v.Coupon)

	v, err = svc.Validate(context.Background(), "EXPIRED")
	require.NoError(t, err)
	assert.False(t, v.Valid)
	assert.Equal(t, ReasonExpired, v.Reason)

	v, err = svc.Validate(context.Background(), "NOPE")
	require.NoError(t, err)
	assert.False(t, v.Valid)
	assert.Equal(t, ReasonNotFound, v.Reason)
	assert.Nil(t, v.Coupon)

	assert.Equal(t, 0, repo.byID[1].UsageCount, "validate never consumes")
}

func TestServiceUse(t *testing.T) {
	svc, repo := newTestService(newTestCoupon())
	ctx := context.Background()

	c, err := svc.Use(ctx, "save20")
	require.NoError(t, err)
	assert.Equal(t, 1, c.UsageCount)

	_, err = svc.Use(ctx, "SAVE20")
	require.NoError(t, err)

	_, err = svc.Use(ctx, "SAVE20")
	require.Error(t, err)
	assert.True(t, apperr.IsValidation(err))
	assert.Equal(t, "coupon usage limit reached", err.Error())
	assert.Equal(t, 2, repo.byID[1].UsageCount)

	_, err = svc.Use(ctx, "MISSING")
	require.Error(t, err)
	assert.True(t, apperr.IsValidation(err))
	assert.Equal(t, "coupon not found", err.Error())
}

func TestServiceUse_RacedWriteSurfacesConflict(t *testing.T) {
	svc, repo := newTestService(newTestCoupon())
	repo.byID[1].UsageCount = 1
	// Simulate a concurrent writer bumping the stored counter after the read.
	racing := &racingRepo{mockRepo: repo}
	svc.repo = racing

	_, err := svc.Use(context.Background(), "SAVE20")
	require.ErrorIs(t, err, ErrUsageRaced)
	assert.True(t, apperr.IsConflict(err))
}

type racingRepo struct {
	*mockRepo
}

func (r *racingRepo) FindByCodeForUpdate(ctx context.Context, code string) (*Coupon, error) {
	c, err := r.mockRepo.FindByCodeForUpdate(ctx, code)
	if err == nil {
		r.byID[c.ID].UsageCount++
	}
	return c, err
}

func TestServiceList(t *testing.T) {
	var coupons []*Coupon
	for i := int64(1); i <= 12; i++ {
		c := newTestCoupon()
		c.ID = i
		c.Code = "CODE" + string(rune('A'+i))
		coupons = append(coupons, c)
	}
	coupons[0].IsActive = false
	svc, _ := newTestService(coupons...)

	res, err := svc.List(context.Background(), Filter{Page: paging.Request{Page: 2, Limit: 5}})
	require.NoError(t, err)
	assert.Len(t, res.Coupons, 5)
	assert.Equal(t, paging.Meta{
		Page: 2, Pages: 3, PerPage: 5, Total: 11, HasNext: true, HasPrev: true,
	}, res.Meta)

	res, err = svc.List(context.Background(), Filter{Page: paging.Request{Limit: 500}})
	require.NoError(t, err)
	assert.Equal(t, paging.MaxLimit, res.Meta.PerPage)
	assert.Equal(t, 1, res.Meta.Page)
}
